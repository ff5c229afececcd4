package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/odyssey-erp/multipay/internal/jobs"
	"github.com/odyssey-erp/multipay/internal/ledger"
)

// TaskMultipayRemittance sends remittance advice for confirmed batch entries.
const TaskMultipayRemittance = "multipay:remittance"

// RemittancePayload lists the entries created by one confirmation.
type RemittancePayload struct {
	CompanyID int64   `json:"company_id"`
	MoveIDs   []int64 `json:"move_ids"`
}

// NewRemittanceTask constructs the remittance task.
func NewRemittanceTask(companyID int64, moveIDs []int64) (*asynq.Task, error) {
	if len(moveIDs) == 0 {
		return nil, errors.New("remittance: no entries")
	}
	data, err := json.Marshal(RemittancePayload{CompanyID: companyID, MoveIDs: moveIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMultipayRemittance, data), nil
}

// MoveReader loads an entry with its lines.
type MoveReader interface {
	GetMove(ctx context.Context, id int64) (ledger.Move, error)
}

// ContactDirectory resolves partner addresses.
type ContactDirectory interface {
	PartnerContacts(ctx context.Context, ids []int64) (map[int64]ledger.Contact, error)
}

// EmailEnqueuer queues outgoing emails.
type EmailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// RemittanceJob renders one remittance advice per batch entry and queues it
// for the entry partner.
type RemittanceJob struct {
	Moves    MoveReader
	Contacts ContactDirectory
	Mail     EmailEnqueuer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewRemittanceJob initialises the remittance handler.
func NewRemittanceJob(moves MoveReader, contacts ContactDirectory, mail EmailEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *RemittanceJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemittanceJob{Moves: moves, Contacts: contacts, Mail: mail, Logger: logger, Metrics: metrics}
}

// Handle executes the remittance task.
func (j *RemittanceJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Moves == nil || j.Contacts == nil || j.Mail == nil {
		return errors.New("remittance: handler not configured")
	}
	var payload RemittancePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || len(payload.MoveIDs) == 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track("multipay_remittance")
	defer func() {
		err = tracker.End(err)
	}()

	moves := make([]ledger.Move, 0, len(payload.MoveIDs))
	partnerIDs := make([]int64, 0, len(payload.MoveIDs))
	for _, id := range payload.MoveIDs {
		move, err := j.Moves.GetMove(ctx, id)
		if err != nil {
			if errors.Is(err, ledger.ErrMoveNotFound) {
				j.Logger.Warn("remittance entry vanished", slog.Int64("move_id", id))
				continue
			}
			return fmt.Errorf("remittance: load entry %d: %w", id, err)
		}
		moves = append(moves, move)
		partnerIDs = append(partnerIDs, move.PartnerID)
	}
	contacts, err := j.Contacts.PartnerContacts(ctx, partnerIDs)
	if err != nil {
		return fmt.Errorf("remittance: contacts: %w", err)
	}

	sent := 0
	for _, move := range moves {
		contact, ok := contacts[move.PartnerID]
		if !ok || contact.Email == "" {
			j.Logger.Warn("remittance skipped, partner has no email",
				slog.Int64("move_id", move.ID),
				slog.Int64("partner_id", move.PartnerID))
			continue
		}
		if _, err := j.Mail.EnqueueSendEmail(ctx, RemittanceEmail(move, contact)); err != nil {
			return fmt.Errorf("remittance: enqueue email for %s: %w", move.Name, err)
		}
		sent++
	}
	j.Metrics.AddRemittances(payload.CompanyID, sent)
	j.Logger.Info("remittance advices queued",
		slog.Int64("company_id", payload.CompanyID),
		slog.Int("entries", len(moves)),
		slog.Int("sent", sent))
	return nil
}

// RemittanceEmail renders the advice of one entry: every settled invoice with
// the amount applied to it.
func RemittanceEmail(move ledger.Move, contact ledger.Contact) SendEmailPayload {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", contact.Name)
	fmt.Fprintf(&b, "Payment %s dated %s settles the following documents:\n\n", move.Name, move.Date.Format("2006-01-02"))
	total := decimal.Zero
	for _, line := range move.Lines {
		if !line.AccountType.IsReconcilable() || line.CorrelationID == nil {
			continue
		}
		amount := line.AmountCurrency.Abs()
		total = total.Add(amount)
		fmt.Fprintf(&b, "  %-30s %14s %s\n", line.Name, amount.StringFixed(2), line.Currency)
	}
	fmt.Fprintf(&b, "\n  %-30s %14s %s\n", "Total", total.StringFixed(2), move.Currency)
	if move.Ref != "" {
		fmt.Fprintf(&b, "\nReference: %s\n", move.Ref)
	}
	return SendEmailPayload{
		To:      contact.Email,
		Subject: fmt.Sprintf("Remittance advice %s", move.Name),
		Body:    b.String(),
	}
}

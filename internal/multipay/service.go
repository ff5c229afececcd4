package multipay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/multipay/internal/ledger"
	"github.com/odyssey-erp/multipay/internal/shared"
)

// RepositoryPort abstracts transactional ledger access.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error
}

// AuditPort records batch events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LockPort serialises confirmations of the same wizard.
type LockPort interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Notifier is told about entries created by a confirmation.
type Notifier interface {
	PaymentsCreated(ctx context.Context, companyID int64, moveIDs []int64) error
}

// DefaultEDIFormat is the e-invoicing format kept on payment entries.
const DefaultEDIFormat = "cfdi_3_3"

const confirmLockTTL = 2 * time.Minute

// Service coordinates the batch payment wizard.
type Service struct {
	repo      RepositoryPort
	store     Store
	converter Converter
	audit     AuditPort
	calc      *Calculator
	hooks     Hooks
	locker    LockPort
	notifier  Notifier
	sync      *SyncGuard
	metrics   *Metrics
	logger    *slog.Logger
	ediFormat string
	now       func() time.Time
}

// NewService constructs the batch payment service.
func NewService(repo RepositoryPort, store Store, converter Converter, audit AuditPort) *Service {
	return &Service{
		repo:      repo,
		store:     store,
		converter: converter,
		audit:     audit,
		calc:      NewCalculator(converter, StandardWriteOff{}, NewLabels("en")),
		hooks:     NoopHooks{},
		logger:    slog.Default(),
		ediFormat: DefaultEDIFormat,
		now:       time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetHooks installs deployment specific hooks.
func (s *Service) SetHooks(hooks Hooks) {
	if hooks != nil {
		s.hooks = hooks
	}
}

// SetCalculator replaces the line calculator.
func (s *Service) SetCalculator(calc *Calculator) {
	if calc != nil {
		s.calc = calc
	}
}

// SetLocker enables confirmation locking.
func (s *Service) SetLocker(locker LockPort) {
	s.locker = locker
}

// SetNotifier registers the post-confirmation notifier.
func (s *Service) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// SetSynchronizer registers the payment synchronizer; batch entries are hidden from it.
func (s *Service) SetSynchronizer(next PaymentSynchronizer) {
	s.sync = NewSyncGuard(next)
}

// SetMetrics enables Prometheus instrumentation.
func (s *Service) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
}

// SetLogger replaces the logger.
func (s *Service) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEDIFormat sets the e-invoicing format kept on created entries.
func (s *Service) SetEDIFormat(format string) {
	if format != "" {
		s.ediFormat = format
	}
}

// ListOutstanding returns posted entries with an open balance.
func (s *Service) ListOutstanding(ctx context.Context, filter ledger.OutstandingFilter) ([]ledger.Move, error) {
	var moves []ledger.Move
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		moves, err = tx.ListOutstanding(ctx, filter)
		return err
	})
	return moves, err
}

// GetMove returns one entry with its lines.
func (s *Service) GetMove(ctx context.Context, id int64) (ledger.Move, error) {
	var move ledger.Move
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		moves, err := tx.GetMovesWithLines(ctx, []int64{id})
		if err != nil {
			return err
		}
		move = moves[0]
		return nil
	})
	return move, err
}

// OpenWizard validates the selected entries and stores a new batch with one
// row per entry.
func (s *Service) OpenWizard(ctx context.Context, in OpenInput) (Wizard, error) {
	moveIDs := uniqueMoveIDs(in.MoveIDs)
	if len(moveIDs) == 0 {
		return Wizard{}, ErrNothingToPay
	}
	batch := &Batch{
		ID:        uuid.New(),
		Stage:     StageCollecting,
		EDIUsage:  DefaultEDIUsage,
		CreatedBy: in.ActorID,
		CreatedAt: s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		moves, err := tx.GetMovesWithLines(ctx, moveIDs)
		if err != nil {
			return err
		}
		sel, err := selectLines(moves)
		if err != nil {
			return err
		}
		if in.CompanyID != 0 && sel.companyID != in.CompanyID {
			return ErrDifferentCompanies
		}
		company, err := tx.GetCompany(ctx, sel.companyID)
		if err != nil {
			return err
		}
		journal, err := tx.DefaultBankJournal(ctx, company.ID)
		if err != nil {
			if errors.Is(err, ledger.ErrJournalNotFound) {
				return validationf("Please define a bank journal for %s.", company.Name)
			}
			return err
		}
		method, err := tx.DefaultPaymentMethodLine(ctx, journal.ID, sel.direction)
		if err != nil {
			if errors.Is(err, ledger.ErrPaymentMethodNotFound) {
				return validationf("The %s journal has no %s payment method.", journal.Name, sel.direction)
			}
			return err
		}

		batch.CompanyID = company.ID
		batch.CompanyCurrency = company.Currency
		batch.CompanyPartner = company.PartnerID
		batch.Direction = sel.direction
		batch.EDIPaymentMethodID = moves[0].EDIPaymentMethodID
		batch.Rows = sel.rows
		batch.SetJournal(journal, method)
		batch.SetPaymentDate(truncateDay(s.now()))
		return nil
	})
	if err != nil {
		return Wizard{}, err
	}
	if err := s.refreshTotals(ctx, batch, true); err != nil {
		return Wizard{}, err
	}
	if err := s.store.Save(ctx, batch); err != nil {
		return Wizard{}, err
	}
	s.logger.Info("multipay wizard opened",
		slog.String("wizard_id", batch.ID.String()),
		slog.Int64("company_id", batch.CompanyID),
		slog.Int("rows", len(batch.Rows)))
	return Wizard{Title: WizardTitle, Batch: batch}, nil
}

// GetWizard returns a stored batch.
func (s *Service) GetWizard(ctx context.Context, id uuid.UUID) (Wizard, error) {
	batch, err := s.store.Load(ctx, id)
	if err != nil {
		return Wizard{}, err
	}
	return Wizard{Title: WizardTitle, Batch: batch}, nil
}

// CancelWizard discards a batch before confirmation.
func (s *Service) CancelWizard(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.Load(ctx, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// UpdateWizard applies user edits and recomputes the batch.
func (s *Service) UpdateWizard(ctx context.Context, id uuid.UUID, patch Patch) (Wizard, error) {
	batch, err := s.store.Load(ctx, id)
	if err != nil {
		return Wizard{}, err
	}
	currencyChanged := false
	totalsChanged := false

	if patch.JournalID != nil || patch.PaymentMethodLineID != nil {
		prevCurrency := batch.Currency
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			journalID := batch.JournalID
			if patch.JournalID != nil {
				journalID = *patch.JournalID
			}
			journal, err := tx.GetJournal(ctx, journalID)
			if err != nil {
				if errors.Is(err, ledger.ErrJournalNotFound) {
					return validationf("Unknown journal %d.", journalID)
				}
				return err
			}
			if journal.CompanyID != batch.CompanyID {
				return validationf(msgForeignJournal, journal.Name)
			}
			var method ledger.PaymentMethodLine
			if patch.PaymentMethodLineID != nil {
				method, err = tx.GetPaymentMethodLine(ctx, *patch.PaymentMethodLineID)
			} else {
				method, err = tx.DefaultPaymentMethodLine(ctx, journal.ID, batch.Direction)
			}
			if err != nil {
				if errors.Is(err, ledger.ErrPaymentMethodNotFound) {
					return validationf("The %s journal has no %s payment method.", journal.Name, batch.Direction)
				}
				return err
			}
			if method.JournalID != journal.ID || method.Direction != batch.Direction {
				return validationf("Payment method %s cannot be used with the %s journal.", method.Name, journal.Name)
			}
			batch.SetJournal(journal, method)
			return nil
		})
		if err != nil {
			return Wizard{}, err
		}
		currencyChanged = batch.Currency != prevCurrency
		totalsChanged = true
	}
	if patch.PaymentDate != nil {
		batch.SetPaymentDate(truncateDay(*patch.PaymentDate))
		totalsChanged = true
	}
	if patch.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*patch.Currency))
		if currency != batch.Currency {
			batch.Currency = currency
			currencyChanged = true
			totalsChanged = true
		}
	}
	if patch.Memo != nil {
		batch.Memo = *patch.Memo
	}
	if patch.GroupPayment != nil {
		group := *patch.GroupPayment
		batch.GroupOverride = &group
	}
	if patch.EDIUsage != nil {
		batch.EDIUsage = *patch.EDIUsage
	}
	if patch.EDIPaymentMethodID != nil {
		batch.EDIPaymentMethodID = *patch.EDIPaymentMethodID
	}
	for _, rp := range patch.Rows {
		if err := applyRowPatch(batch, rp); err != nil {
			return Wizard{}, err
		}
	}

	if totalsChanged {
		if err := s.refreshTotals(ctx, batch, currencyChanged); err != nil {
			return Wizard{}, err
		}
	} else {
		batch.Recompute()
	}
	batch.Stage = StageCollecting
	if err := s.store.Save(ctx, batch); err != nil {
		return Wizard{}, err
	}
	return Wizard{Title: WizardTitle, Batch: batch}, nil
}

func applyRowPatch(batch *Batch, rp RowPatch) error {
	row, ok := batch.Row(rp.ID)
	if !ok {
		return validationf(msgUnknownRow, rp.ID)
	}
	if rp.Amount != nil {
		if !rp.Amount.IsPositive() {
			return validationf(msgInvalidAmount, row.MoveName)
		}
		row.Amount = *rp.Amount
	}
	if rp.Handling != nil {
		if !rp.Handling.Valid() {
			return validationf(msgInvalidHandling, *rp.Handling)
		}
		row.Handling = *rp.Handling
	}
	if rp.Communication != nil {
		row.Communication = *rp.Communication
	}
	if rp.WriteOffAccountID != nil {
		row.WriteOffAccountID = *rp.WriteOffAccountID
	}
	if rp.WriteOffLabel != nil {
		row.WriteOffLabel = *rp.WriteOffLabel
	}
	return nil
}

// refreshTotals recomputes each row's total to pay in the row currency. When
// resetAmounts is set the editable amounts follow the new totals.
func (s *Service) refreshTotals(ctx context.Context, batch *Batch, resetAmounts bool) error {
	batch.Recompute()
	for idx := range batch.Rows {
		row := &batch.Rows[idx]
		total, err := s.totalToPay(ctx, batch, *row)
		if err != nil {
			return err
		}
		row.TotalToPay = total
		if resetAmounts {
			row.Amount = total
		}
	}
	batch.Recompute()
	return nil
}

// totalToPay is the full open residual of the row expressed in the row currency.
func (s *Service) totalToPay(ctx context.Context, batch *Batch, row Row) (decimal.Decimal, error) {
	switch row.Currency {
	case row.SourceCurrency:
		return row.SourceAmountCurrency, nil
	case batch.CompanyCurrency:
		return row.SourceAmount, nil
	}
	total, err := s.converter.Convert(ctx, row.SourceAmount, batch.CompanyCurrency, row.Currency, batch.CompanyID, row.PaymentDate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("multipay: convert total: %w", err)
	}
	return total, nil
}

// Confirm creates, posts and reconciles the payment entries of a batch in a
// single transaction and discards the wizard.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actorID int64) (Action, error) {
	start := time.Now()
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.BatchLockKey(id), confirmLockTTL)
		if err != nil {
			if errors.Is(err, shared.ErrLockHeld) {
				return Action{}, ErrConfirmInProgress
			}
			return Action{}, fmt.Errorf("multipay: acquire wizard lock: %w: %w", errLockUnavailable, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release wizard lock", slog.String("wizard_id", id.String()), slog.Any("error", err))
			}
		}()
	}

	batch, err := s.store.Load(ctx, id)
	if err != nil {
		return Action{}, err
	}
	payments, moves, err := s.confirm(ctx, batch, actorID)
	s.metrics.observe(batch.Stage, len(payments), err, start)
	if err != nil {
		s.logger.Error("multipay confirm failed",
			slog.String("wizard_id", id.String()),
			slog.String("stage", string(batch.Stage)),
			slog.Any("error", err))
		batch.Stage = StageFailed
		if saveErr := s.store.Save(ctx, batch); saveErr != nil {
			s.logger.Warn("store failed wizard", slog.String("wizard_id", id.String()), slog.Any("error", saveErr))
		}
		return Action{}, err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		s.logger.Warn("delete confirmed wizard", slog.String("wizard_id", id.String()), slog.Any("error", err))
	}

	moveIDs := make([]int64, 0, len(moves))
	for _, m := range moves {
		moveIDs = append(moveIDs, m.ID)
	}
	s.record(ctx, batch, actorID, moveIDs)
	if s.notifier != nil {
		if err := s.notifier.PaymentsCreated(ctx, batch.CompanyID, moveIDs); err != nil {
			s.logger.Warn("notify payments created", slog.Any("error", err), slog.Any("move_ids", moveIDs))
		}
	}
	s.logger.Info("multipay batch confirmed",
		slog.String("wizard_id", id.String()),
		slog.Int("entries", len(moveIDs)),
		slog.Bool("grouped", batch.GroupPayment))
	return NewAction(moveIDs), nil
}

// NewAction returns the form view for a single entry and the list view otherwise.
func NewAction(moveIDs []int64) Action {
	if len(moveIDs) == 1 {
		return Action{Name: "Payments", View: ViewForm, MoveID: moveIDs[0]}
	}
	return Action{Name: "Payments", View: ViewList, MoveIDs: moveIDs}
}

func (s *Service) confirm(ctx context.Context, batch *Batch, actorID int64) ([]Payment, []ledger.Move, error) {
	batch.Stage = StageValidating
	if err := validateBatch(batch); err != nil {
		return nil, nil, err
	}
	if err := s.hooks.CheckPaymentValidity(ctx, batch); err != nil {
		return nil, nil, err
	}
	extra, err := s.hooks.PreCreate(ctx, batch)
	if err != nil {
		return nil, nil, err
	}

	var (
		payments []Payment
		moves    []ledger.Move
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		moveIDs := make([]int64, 0, len(batch.Rows))
		for _, row := range batch.Rows {
			moveIDs = append(moveIDs, row.MoveID)
		}
		sources, err := tx.GetMovesWithLines(ctx, moveIDs)
		if err != nil {
			return err
		}
		if _, err := selectLines(sources); err != nil {
			return err
		}
		if err := checkRowsOpen(batch.Rows, sources); err != nil {
			return err
		}
		lineAccounts := make(map[int64]int64)
		for _, m := range sources {
			for _, l := range m.Lines {
				lineAccounts[l.ID] = l.AccountID
			}
		}
		company, err := tx.GetCompany(ctx, batch.CompanyID)
		if err != nil {
			return err
		}
		journal, err := tx.GetJournal(ctx, batch.JournalID)
		if err != nil {
			return err
		}
		method, err := tx.GetPaymentMethodLine(ctx, batch.PaymentMethodLineID)
		if err != nil {
			return err
		}

		for _, group := range batch.Groups() {
			batch.Stage = StageBuilding
			in, err := s.buildMove(ctx, batch, group, company, journal, method, actorID)
			if err != nil {
				return err
			}
			if err := s.hooks.ExtraMoveValues(ctx, group, &in, extra); err != nil {
				return err
			}

			batch.Stage = StagePosting
			created, err := tx.CreateMove(ctx, in)
			if err != nil {
				return fmt.Errorf("multipay: create entry: %w", err)
			}
			posted, err := tx.PostMove(ctx, created.ID)
			if err != nil {
				return fmt.Errorf("multipay: post entry: %w", err)
			}
			if s.sync != nil {
				if err := s.sync.SynchronizeToMoves(ctx, []ledger.Move{posted}); err != nil {
					return err
				}
			}

			batch.Stage = StageReconciling
			partials, err := reconcileEntry(ctx, tx, posted, group.Rows, lineAccounts)
			if err != nil {
				return fmt.Errorf("multipay: reconcile entry %s: %w", posted.Name, err)
			}
			if _, err := tx.VoidEDIDocumentsExcept(ctx, posted.ID, s.ediFormat); err != nil {
				return err
			}
			rowIDs := make([]uuid.UUID, 0, len(group.Rows))
			for _, row := range group.Rows {
				rowIDs = append(rowIDs, row.ID)
			}
			payments = append(payments, Payment{Move: posted, RowIDs: rowIDs, Partials: partials})
		}

		created := make([]ledger.Move, 0, len(payments))
		for _, p := range payments {
			created = append(created, p.Move)
		}
		moves, err = s.hooks.PostCreate(ctx, batch, created)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return payments, moves, nil
}

func (s *Service) buildMove(ctx context.Context, batch *Batch, group PaymentGroup, company ledger.Company, journal ledger.Journal, method ledger.PaymentMethodLine, actorID int64) (ledger.MoveInput, error) {
	in := ledger.MoveInput{
		CompanyID:          batch.CompanyID,
		JournalID:          batch.JournalID,
		PartnerID:          group.PartnerID,
		Date:               batch.PaymentDate,
		Ref:                batch.Memo,
		Type:               ledger.MoveTypeEntry,
		Currency:           ResolveCurrency(batch.Currency, batch.JournalCurrency, batch.CompanyCurrency),
		Amount:             group.Amount,
		EDIUsage:           batch.EDIUsage,
		EDIPaymentMethodID: batch.EDIPaymentMethodID,
		CreatedBy:          actorID,
	}
	for _, row := range group.Rows {
		lines, err := s.calc.Lines(ctx, LineContext{Row: row, Company: company, Journal: journal, PaymentMethod: method})
		if err != nil {
			return ledger.MoveInput{}, err
		}
		in.Lines = append(in.Lines, lines...)
	}
	return in, nil
}

// reconcileEntry matches, per account of the entry and per row, the lines
// carrying the row token with the row's invoice lines on the same account.
func reconcileEntry(ctx context.Context, tx ledger.TxRepository, entry ledger.Move, rows []Row, lineAccounts map[int64]int64) ([]ledger.PartialReconcile, error) {
	var accounts []int64
	seen := make(map[int64]struct{})
	for _, line := range entry.Lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		accounts = append(accounts, line.AccountID)
	}

	var partials []ledger.PartialReconcile
	for _, account := range accounts {
		for _, row := range rows {
			var ids []int64
			for _, line := range entry.Lines {
				if line.AccountID == account && !line.Reconciled && line.CorrelationID != nil && *line.CorrelationID == row.ID {
					ids = append(ids, line.ID)
				}
			}
			for _, lineID := range row.LineIDs {
				if lineAccounts[lineID] == account {
					ids = append(ids, lineID)
				}
			}
			res, err := tx.Reconcile(ctx, ids, ledger.ReconcileOptions{NoExchangeDifference: true})
			if err != nil {
				return nil, err
			}
			partials = append(partials, res...)
		}
	}
	return partials, nil
}

func validateBatch(batch *Batch) error {
	if len(batch.Rows) == 0 {
		return ErrNoRows
	}
	for _, row := range batch.Rows {
		if row.CompanyID != batch.CompanyID {
			return ErrDifferentCompanies
		}
		if row.Direction != batch.Direction {
			return ErrMixedDirection
		}
		if !row.Amount.IsPositive() {
			return validationf(msgInvalidAmount, row.MoveName)
		}
		if !row.Handling.Valid() {
			return validationf(msgInvalidHandling, row.Handling)
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, batch *Batch, actorID int64, moveIDs []int64) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "multipay.confirm",
		Entity:   "multipay_batch",
		EntityID: batch.ID.String(),
		Meta: map[string]any{
			"company_id":    batch.CompanyID,
			"move_ids":      moveIDs,
			"group_payment": batch.GroupPayment,
			"amount_total":  batch.AmountTotal.String(),
		},
		At: s.now(),
	})
	if err != nil {
		s.logger.Warn("audit multipay confirm", slog.Any("error", err))
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

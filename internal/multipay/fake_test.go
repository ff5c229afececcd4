package multipay

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/multipay/internal/fx"
	"github.com/odyssey-erp/multipay/internal/ledger"
	"github.com/odyssey-erp/multipay/internal/shared"
)

const (
	companyMX      int64 = 1
	companyOther   int64 = 2
	companyPartner int64 = 900

	acctReceivable  int64 = 110
	acctPayable     int64 = 210
	acctOutstandIn  int64 = 101
	acctOutstandOut int64 = 102
	acctIncome      int64 = 400
	acctExpense     int64 = 500
	acctWriteOff    int64 = 610

	bankJournal   int64 = 10
	methodIn      int64 = 20
	methodOut     int64 = 21
	otherJournal  int64 = 11
	otherMethodIn int64 = 22
)

var testToday = time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// memLedger is an in-memory ledger.TxRepository with snapshot rollback.
type memLedger struct {
	companies map[int64]ledger.Company
	journals  map[int64]ledger.Journal
	methods   map[int64]ledger.PaymentMethodLine
	accounts  map[int64]ledger.AccountType
	moves     map[int64]*ledger.Move
	order     []int64
	nextMove  int64
	nextLine  int64
	partials  []ledger.PartialReconcile
	voided    map[int64]string
	postErrAt int
	posts     int
}

func newMemLedger() *memLedger {
	return &memLedger{
		companies: map[int64]ledger.Company{
			companyMX: {ID: companyMX, Name: "Odyssey MX", PartnerID: companyPartner, Currency: "MXN",
				PaymentDebitAccountID: acctOutstandIn, PaymentCreditAccountID: acctOutstandOut},
			companyOther: {ID: companyOther, Name: "Odyssey US", PartnerID: 901, Currency: "USD"},
		},
		journals: map[int64]ledger.Journal{
			bankJournal:  {ID: bankJournal, CompanyID: companyMX, Name: "Bank", Type: "bank"},
			otherJournal: {ID: otherJournal, CompanyID: companyMX, Name: "Bank USD", Type: "bank", Currency: "USD"},
		},
		methods: map[int64]ledger.PaymentMethodLine{
			methodIn:      {ID: methodIn, JournalID: bankJournal, Name: "Manual", Direction: ledger.DirectionInbound},
			methodOut:     {ID: methodOut, JournalID: bankJournal, Name: "Manual", Direction: ledger.DirectionOutbound},
			otherMethodIn: {ID: otherMethodIn, JournalID: otherJournal, Name: "Wire", Direction: ledger.DirectionInbound, PaymentAccountID: 103},
		},
		accounts: map[int64]ledger.AccountType{
			acctReceivable:  ledger.AccountTypeReceivable,
			acctPayable:     ledger.AccountTypePayable,
			acctOutstandIn:  ledger.AccountTypeLiquidity,
			acctOutstandOut: ledger.AccountTypeLiquidity,
			103:             ledger.AccountTypeLiquidity,
			acctIncome:      ledger.AccountTypeOther,
			acctExpense:     ledger.AccountTypeOther,
			acctWriteOff:    ledger.AccountTypeOther,
		},
		moves:    map[int64]*ledger.Move{},
		nextMove: 1000,
		nextLine: 5000,
		voided:   map[int64]string{},
	}
}

func (m *memLedger) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	snapshot := m.snapshot()
	if err := fn(ctx, m); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memSnapshot struct {
	moves    map[int64]ledger.Move
	order    []int64
	partials int
}

func (m *memLedger) snapshot() memSnapshot {
	s := memSnapshot{moves: make(map[int64]ledger.Move, len(m.moves)), order: append([]int64(nil), m.order...), partials: len(m.partials)}
	for id, mv := range m.moves {
		s.moves[id] = cloneMove(*mv)
	}
	return s
}

func (m *memLedger) restore(s memSnapshot) {
	m.moves = make(map[int64]*ledger.Move, len(s.moves))
	for id, mv := range s.moves {
		copyMove := mv
		m.moves[id] = &copyMove
	}
	m.order = s.order
	m.partials = m.partials[:s.partials]
}

func cloneMove(mv ledger.Move) ledger.Move {
	out := mv
	out.Lines = append([]ledger.MoveLine(nil), mv.Lines...)
	return out
}

// addInvoice stores a posted invoice (inbound) or bill (outbound) for partner.
func (m *memLedger) addInvoice(companyID, partnerID int64, amount string, direction ledger.Direction) int64 {
	company := m.companies[companyID]
	total := dec(amount)
	m.nextMove++
	id := m.nextMove
	move := &ledger.Move{
		ID: id, Name: fmt.Sprintf("INV/%d", id), CompanyID: companyID, JournalID: 1, PartnerID: partnerID,
		Date: testToday.AddDate(0, -1, 0), State: ledger.MoveStatePosted, Currency: company.Currency, Amount: total,
		EDIPaymentMethodID: 3,
	}
	counter := ledger.MoveLine{AccountID: acctReceivable, AccountType: ledger.AccountTypeReceivable, Debit: total,
		AmountCurrency: total, AmountResidual: total, AmountResidualCurrency: total}
	other := ledger.MoveLine{AccountID: acctIncome, AccountType: ledger.AccountTypeOther, Credit: total, AmountCurrency: total.Neg()}
	move.Type = ledger.MoveTypeOutInvoice
	if direction == ledger.DirectionOutbound {
		move.Type = ledger.MoveTypeInInvoice
		counter = ledger.MoveLine{AccountID: acctPayable, AccountType: ledger.AccountTypePayable, Credit: total,
			AmountCurrency: total.Neg(), AmountResidual: total.Neg(), AmountResidualCurrency: total.Neg()}
		other = ledger.MoveLine{AccountID: acctExpense, AccountType: ledger.AccountTypeOther, Debit: total, AmountCurrency: total}
	}
	for _, line := range []ledger.MoveLine{counter, other} {
		m.nextLine++
		line.ID = m.nextLine
		line.MoveID = id
		line.MoveState = ledger.MoveStatePosted
		line.CompanyID = companyID
		line.PartnerID = partnerID
		line.Currency = company.Currency
		line.CompanyCurrency = company.Currency
		move.Lines = append(move.Lines, line)
	}
	m.moves[id] = move
	m.order = append(m.order, id)
	return id
}

func (m *memLedger) line(id int64) ledger.MoveLine {
	for _, mv := range m.moves {
		for _, l := range mv.Lines {
			if l.ID == id {
				return l
			}
		}
	}
	return ledger.MoveLine{}
}

func (m *memLedger) counterpartLine(moveID int64) ledger.MoveLine {
	for _, l := range m.moves[moveID].Lines {
		if l.AccountType.IsReconcilable() {
			return l
		}
	}
	return ledger.MoveLine{}
}

func (m *memLedger) paymentMoves() []ledger.Move {
	var out []ledger.Move
	for _, id := range m.order {
		if mv := m.moves[id]; mv.Type == ledger.MoveTypeEntry {
			out = append(out, cloneMove(*mv))
		}
	}
	return out
}

func (m *memLedger) GetCompany(_ context.Context, id int64) (ledger.Company, error) {
	c, ok := m.companies[id]
	if !ok {
		return ledger.Company{}, ledger.ErrCompanyNotFound
	}
	return c, nil
}

func (m *memLedger) GetJournal(_ context.Context, id int64) (ledger.Journal, error) {
	j, ok := m.journals[id]
	if !ok {
		return ledger.Journal{}, ledger.ErrJournalNotFound
	}
	return j, nil
}

func (m *memLedger) DefaultBankJournal(_ context.Context, companyID int64) (ledger.Journal, error) {
	var best ledger.Journal
	for _, j := range m.journals {
		if j.CompanyID == companyID && j.Type == "bank" && (best.ID == 0 || j.ID < best.ID) {
			best = j
		}
	}
	if best.ID == 0 {
		return ledger.Journal{}, ledger.ErrJournalNotFound
	}
	return best, nil
}

func (m *memLedger) GetPaymentMethodLine(_ context.Context, id int64) (ledger.PaymentMethodLine, error) {
	p, ok := m.methods[id]
	if !ok {
		return ledger.PaymentMethodLine{}, ledger.ErrPaymentMethodNotFound
	}
	return p, nil
}

func (m *memLedger) DefaultPaymentMethodLine(_ context.Context, journalID int64, direction ledger.Direction) (ledger.PaymentMethodLine, error) {
	var best ledger.PaymentMethodLine
	for _, p := range m.methods {
		if p.JournalID == journalID && p.Direction == direction && (best.ID == 0 || p.ID < best.ID) {
			best = p
		}
	}
	if best.ID == 0 {
		return ledger.PaymentMethodLine{}, ledger.ErrPaymentMethodNotFound
	}
	return best, nil
}

func (m *memLedger) GetMovesWithLines(_ context.Context, ids []int64) ([]ledger.Move, error) {
	out := make([]ledger.Move, 0, len(ids))
	for _, id := range ids {
		mv, ok := m.moves[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ledger.ErrMoveNotFound, id)
		}
		out = append(out, cloneMove(*mv))
	}
	return out, nil
}

func (m *memLedger) ListOutstanding(_ context.Context, filter ledger.OutstandingFilter) ([]ledger.Move, error) {
	var out []ledger.Move
	for _, id := range m.order {
		mv := m.moves[id]
		if mv.CompanyID != filter.CompanyID || mv.State != ledger.MoveStatePosted {
			continue
		}
		if lines := availableLines(*mv); len(lines) > 0 {
			if filter.Direction == "" || lineDirection(lines[0]) == filter.Direction {
				out = append(out, cloneMove(*mv))
			}
		}
	}
	return out, nil
}

func (m *memLedger) CreateMove(_ context.Context, in ledger.MoveInput) (ledger.Move, error) {
	if err := in.Validate(); err != nil {
		return ledger.Move{}, err
	}
	company := m.companies[in.CompanyID]
	m.nextMove++
	move := &ledger.Move{
		ID: m.nextMove, Name: fmt.Sprintf("PBNK/%d", m.nextMove), Ref: in.Ref, CompanyID: in.CompanyID,
		JournalID: in.JournalID, PartnerID: in.PartnerID, Date: in.Date, State: ledger.MoveStateDraft,
		Type: in.Type, Currency: in.Currency, Amount: in.Amount, EDIUsage: in.EDIUsage,
		EDIPaymentMethodID: in.EDIPaymentMethodID, CreatedBy: in.CreatedBy,
	}
	for _, li := range in.Lines {
		m.nextLine++
		accountType := m.accounts[li.AccountID]
		line := ledger.MoveLine{
			ID: m.nextLine, MoveID: move.ID, MoveState: ledger.MoveStateDraft, CompanyID: in.CompanyID,
			AccountID: li.AccountID, AccountType: accountType, PartnerID: li.PartnerID, Name: li.Name,
			Currency: li.Currency, CompanyCurrency: company.Currency, AmountCurrency: li.AmountCurrency,
			Debit: li.Debit, Credit: li.Credit, DateMaturity: li.DateMaturity, CorrelationID: li.CorrelationID,
		}
		if accountType.IsReconcilable() {
			line.AmountResidual = li.Debit.Sub(li.Credit)
			line.AmountResidualCurrency = li.AmountCurrency
		}
		move.Lines = append(move.Lines, line)
	}
	m.moves[move.ID] = move
	m.order = append(m.order, move.ID)
	return cloneMove(*move), nil
}

func (m *memLedger) PostMove(_ context.Context, id int64) (ledger.Move, error) {
	m.posts++
	if m.postErrAt > 0 && m.posts == m.postErrAt {
		return ledger.Move{}, fmt.Errorf("posting refused for %d", id)
	}
	mv, ok := m.moves[id]
	if !ok {
		return ledger.Move{}, ledger.ErrMoveNotFound
	}
	if mv.State != ledger.MoveStateDraft {
		return ledger.Move{}, ledger.ErrInvalidState
	}
	mv.State = ledger.MoveStatePosted
	for idx := range mv.Lines {
		mv.Lines[idx].MoveState = ledger.MoveStatePosted
	}
	return cloneMove(*mv), nil
}

func (m *memLedger) Reconcile(_ context.Context, lineIDs []int64, _ ledger.ReconcileOptions) ([]ledger.PartialReconcile, error) {
	if len(lineIDs) < 2 {
		return nil, nil
	}
	lines := make([]ledger.MoveLine, 0, len(lineIDs))
	for _, id := range lineIDs {
		lines = append(lines, m.line(id))
	}
	partials, updated, err := ledger.MatchResiduals(lines)
	if err != nil {
		return nil, err
	}
	for _, u := range updated {
		mv := m.moves[u.MoveID]
		for idx := range mv.Lines {
			if mv.Lines[idx].ID == u.ID {
				mv.Lines[idx] = u
			}
		}
	}
	m.partials = append(m.partials, partials...)
	return partials, nil
}

func (m *memLedger) VoidEDIDocumentsExcept(_ context.Context, moveID int64, format string) (int64, error) {
	m.voided[moveID] = format
	return 1, nil
}

type memAudit struct {
	logs []shared.AuditLog
}

func (a *memAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type memNotifier struct {
	calls [][]int64
}

func (n *memNotifier) PaymentsCreated(_ context.Context, _ int64, moveIDs []int64) error {
	n.calls = append(n.calls, moveIDs)
	return nil
}

type testEnv struct {
	ledger   *memLedger
	service  *Service
	store    *RedisStore
	redis    *miniredis.Miniredis
	client   *redis.Client
	audit    *memAudit
	notifier *memNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := newMemLedger()
	store := NewRedisStore(client, time.Hour)
	audit := &memAudit{}
	notifier := &memNotifier{}
	converter := fx.NewConverter(fx.StaticRates{"USD": dec("0.05")})
	svc := NewService(mem, store, converter, audit)
	svc.WithNow(func() time.Time { return testToday })
	svc.SetLocker(shared.NewRedisLocker(client))
	svc.SetNotifier(notifier)
	return &testEnv{ledger: mem, service: svc, store: store, redis: mr, client: client, audit: audit, notifier: notifier}
}

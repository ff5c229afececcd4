package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/multipay/internal/platform/db"
)

// Repository persists ledger entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional ledger operations the payment flow consumes.
type TxRepository interface {
	GetCompany(ctx context.Context, id int64) (Company, error)
	GetJournal(ctx context.Context, id int64) (Journal, error)
	DefaultBankJournal(ctx context.Context, companyID int64) (Journal, error)
	GetPaymentMethodLine(ctx context.Context, id int64) (PaymentMethodLine, error)
	DefaultPaymentMethodLine(ctx context.Context, journalID int64, direction Direction) (PaymentMethodLine, error)
	GetMovesWithLines(ctx context.Context, ids []int64) ([]Move, error)
	ListOutstanding(ctx context.Context, filter OutstandingFilter) ([]Move, error)
	CreateMove(ctx context.Context, in MoveInput) (Move, error)
	PostMove(ctx context.Context, id int64) (Move, error)
	Reconcile(ctx context.Context, lineIDs []int64, opts ReconcileOptions) ([]PartialReconcile, error)
	VoidEDIDocumentsExcept(ctx context.Context, moveID int64, format string) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// PartnerContacts returns the name and email of each known partner keyed by id.
func (r *Repository) PartnerContacts(ctx context.Context, ids []int64) (map[int64]Contact, error) {
	out := make(map[int64]Contact, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, COALESCE(email, '') FROM partners WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.PartnerID, &c.Name, &c.Email); err != nil {
			return nil, err
		}
		out[c.PartnerID] = c
	}
	return out, rows.Err()
}

func (r *txRepository) GetCompany(ctx context.Context, id int64) (Company, error) {
	var c Company
	err := r.tx.QueryRow(ctx, `SELECT id, name, partner_id, currency,
COALESCE(payment_debit_account_id, 0), COALESCE(payment_credit_account_id, 0)
FROM companies WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.PartnerID, &c.Currency, &c.PaymentDebitAccountID, &c.PaymentCreditAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, ErrCompanyNotFound
		}
		return Company{}, err
	}
	return c, nil
}

const journalColumns = `id, company_id, name, type, COALESCE(currency, '')`

func scanJournal(row pgx.Row) (Journal, error) {
	var j Journal
	if err := row.Scan(&j.ID, &j.CompanyID, &j.Name, &j.Type, &j.Currency); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Journal{}, ErrJournalNotFound
		}
		return Journal{}, err
	}
	return j, nil
}

func (r *txRepository) GetJournal(ctx context.Context, id int64) (Journal, error) {
	return scanJournal(r.tx.QueryRow(ctx, `SELECT `+journalColumns+` FROM journals WHERE id=$1`, id))
}

func (r *txRepository) DefaultBankJournal(ctx context.Context, companyID int64) (Journal, error) {
	return scanJournal(r.tx.QueryRow(ctx, `SELECT `+journalColumns+` FROM journals
WHERE type='bank' AND company_id=$1 ORDER BY sequence, id LIMIT 1`, companyID))
}

const paymentMethodColumns = `id, journal_id, name, direction, COALESCE(payment_account_id, 0)`

func scanPaymentMethod(row pgx.Row) (PaymentMethodLine, error) {
	var p PaymentMethodLine
	if err := row.Scan(&p.ID, &p.JournalID, &p.Name, &p.Direction, &p.PaymentAccountID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentMethodLine{}, ErrPaymentMethodNotFound
		}
		return PaymentMethodLine{}, err
	}
	return p, nil
}

func (r *txRepository) GetPaymentMethodLine(ctx context.Context, id int64) (PaymentMethodLine, error) {
	return scanPaymentMethod(r.tx.QueryRow(ctx, `SELECT `+paymentMethodColumns+` FROM payment_method_lines WHERE id=$1`, id))
}

func (r *txRepository) DefaultPaymentMethodLine(ctx context.Context, journalID int64, direction Direction) (PaymentMethodLine, error) {
	return scanPaymentMethod(r.tx.QueryRow(ctx, `SELECT `+paymentMethodColumns+` FROM payment_method_lines
WHERE journal_id=$1 AND direction=$2 ORDER BY sequence, id LIMIT 1`, journalID, direction))
}

const moveColumns = `m.id, m.name, COALESCE(m.ref, ''), m.company_id, m.journal_id, COALESCE(m.partner_id, 0), m.date,
m.state, m.move_type, m.currency, m.amount, COALESCE(m.edi_usage, ''), COALESCE(m.edi_payment_method_id, 0),
COALESCE(m.created_by, 0), m.created_at, m.updated_at`

func scanMove(row pgx.Row) (Move, error) {
	var m Move
	err := row.Scan(&m.ID, &m.Name, &m.Ref, &m.CompanyID, &m.JournalID, &m.PartnerID, &m.Date,
		&m.State, &m.Type, &m.Currency, &m.Amount, &m.EDIUsage, &m.EDIPaymentMethodID,
		&m.CreatedBy, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

const lineColumns = `l.id, l.move_id, m.state, l.company_id, l.account_id, a.type, COALESCE(l.partner_id, 0),
COALESCE(l.name, ''), l.currency, c.currency, l.amount_currency, l.debit, l.credit,
l.amount_residual, l.amount_residual_currency, l.reconciled, l.date_maturity, l.correlation_id`

const lineJoins = ` FROM move_lines l
JOIN moves m ON m.id = l.move_id
JOIN accounts a ON a.id = l.account_id
JOIN companies c ON c.id = l.company_id`

func scanLines(rows pgx.Rows) ([]MoveLine, error) {
	defer rows.Close()
	var lines []MoveLine
	for rows.Next() {
		var l MoveLine
		if err := rows.Scan(&l.ID, &l.MoveID, &l.MoveState, &l.CompanyID, &l.AccountID, &l.AccountType, &l.PartnerID,
			&l.Name, &l.Currency, &l.CompanyCurrency, &l.AmountCurrency, &l.Debit, &l.Credit,
			&l.AmountResidual, &l.AmountResidualCurrency, &l.Reconciled, &l.DateMaturity, &l.CorrelationID); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetMovesWithLines returns the moves in the order of ids, each with its lines.
func (r *txRepository) GetMovesWithLines(ctx context.Context, ids []int64) ([]Move, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT `+moveColumns+` FROM moves m WHERE m.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*Move, len(ids))
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		byID[m.ID] = &m
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lineRows, err := r.tx.Query(ctx, `SELECT `+lineColumns+lineJoins+` WHERE l.move_id = ANY($1) ORDER BY l.move_id, l.id`, ids)
	if err != nil {
		return nil, err
	}
	lines, err := scanLines(lineRows)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if m, ok := byID[line.MoveID]; ok {
			m.Lines = append(m.Lines, line)
		}
	}

	out := make([]Move, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrMoveNotFound, id)
		}
		out = append(out, *m)
	}
	return out, nil
}

// ListOutstanding returns posted invoices that still have an open receivable or payable balance.
func (r *txRepository) ListOutstanding(ctx context.Context, filter OutstandingFilter) ([]Move, error) {
	query := `SELECT DISTINCT ` + moveColumns + ` FROM moves m
JOIN move_lines l ON l.move_id = m.id
JOIN accounts a ON a.id = l.account_id
WHERE m.state = 'posted' AND m.company_id = $1
AND a.type IN ('asset_receivable', 'liability_payable')
AND l.reconciled = FALSE AND (l.amount_residual <> 0 OR l.amount_residual_currency <> 0)`
	args := []any{filter.CompanyID}
	argNum := 2
	switch filter.Direction {
	case DirectionInbound:
		query += " AND l.amount_residual > 0"
	case DirectionOutbound:
		query += " AND l.amount_residual < 0"
	}
	if filter.PartnerID > 0 {
		query += fmt.Sprintf(" AND m.partner_id = $%d", argNum)
		args = append(args, filter.PartnerID)
		argNum++
	}
	query += " ORDER BY m.date, m.id"
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += fmt.Sprintf(" LIMIT $%d", argNum)
	args = append(args, limit)

	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, m.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r.GetMovesWithLines(ctx, ids)
}

// CreateMove inserts a draft entry and its lines. Lines on receivable or
// payable accounts start with their full balance as residual.
func (r *txRepository) CreateMove(ctx context.Context, in MoveInput) (Move, error) {
	if err := in.Validate(); err != nil {
		return Move{}, err
	}
	moveType := in.Type
	if moveType == "" {
		moveType = MoveTypeEntry
	}
	date := in.Date
	if date.IsZero() {
		date = time.Now()
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO moves (name, ref, company_id, journal_id, partner_id, date, state, move_type,
currency, amount, edi_usage, edi_payment_method_id, created_by)
VALUES (generate_move_name($3, $5), $1, $2, $3, $4, $5, 'draft', $6, $7, $8, $9, $10, $11)
RETURNING `+moveColumnsBare, nullString(in.Ref), in.CompanyID, in.JournalID, nullInt(in.PartnerID), date, moveType,
		in.Currency, in.Amount, nullString(in.EDIUsage), nullInt(in.EDIPaymentMethodID), nullInt(in.CreatedBy))
	move, err := scanMove(row)
	if err != nil {
		return Move{}, err
	}

	for _, line := range in.Lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO move_lines (move_id, company_id, account_id, partner_id, name, currency,
amount_currency, debit, credit, amount_residual, amount_residual_currency, reconciled, date_maturity, correlation_id)
SELECT $1, $2, a.id, $4, $5, $6, $7, $8, $9,
CASE WHEN a.type IN ('asset_receivable', 'liability_payable') THEN $8 - $9 ELSE 0 END,
CASE WHEN a.type IN ('asset_receivable', 'liability_payable') THEN $7 ELSE 0 END,
FALSE, $10, $11
FROM accounts a WHERE a.id = $3`,
			move.ID, in.CompanyID, line.AccountID, nullInt(line.PartnerID), nullString(line.Name), lineCurrency(line, in),
			line.AmountCurrency, line.Debit, line.Credit, line.DateMaturity, line.CorrelationID); err != nil {
			return Move{}, err
		}
	}
	moves, err := r.GetMovesWithLines(ctx, []int64{move.ID})
	if err != nil {
		return Move{}, err
	}
	return moves[0], nil
}

// moveColumnsBare mirrors moveColumns for RETURNING clauses without the alias.
const moveColumnsBare = `id, name, COALESCE(ref, ''), company_id, journal_id, COALESCE(partner_id, 0), date,
state, move_type, currency, amount, COALESCE(edi_usage, ''), COALESCE(edi_payment_method_id, 0),
COALESCE(created_by, 0), created_at, updated_at`

// PostMove moves a draft entry to posted after re-checking its balance.
func (r *txRepository) PostMove(ctx context.Context, id int64) (Move, error) {
	var state MoveState
	var debit, credit decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT m.state, COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM moves m LEFT JOIN move_lines l ON l.move_id = m.id
WHERE m.id = $1 GROUP BY m.id FOR UPDATE OF m`, id).Scan(&state, &debit, &credit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Move{}, ErrMoveNotFound
		}
		return Move{}, err
	}
	if state != MoveStateDraft {
		return Move{}, ErrInvalidState
	}
	if !debit.Round(2).Equal(credit.Round(2)) {
		return Move{}, ErrUnbalanced
	}
	if _, err := r.tx.Exec(ctx, `UPDATE moves SET state='posted', updated_at=NOW() WHERE id=$1`, id); err != nil {
		return Move{}, err
	}
	moves, err := r.GetMovesWithLines(ctx, []int64{id})
	if err != nil {
		return Move{}, err
	}
	return moves[0], nil
}

// Reconcile locks the lines, matches their residuals and stores the partial reconciliations.
func (r *txRepository) Reconcile(ctx context.Context, lineIDs []int64, opts ReconcileOptions) ([]PartialReconcile, error) {
	if len(lineIDs) < 2 {
		return nil, nil
	}
	if _, err := r.tx.Exec(ctx, `SELECT id FROM move_lines WHERE id = ANY($1) FOR UPDATE`, lineIDs); err != nil {
		return nil, err
	}
	rows, err := r.tx.Query(ctx, `SELECT `+lineColumns+lineJoins+` WHERE l.id = ANY($1) ORDER BY l.id`, lineIDs)
	if err != nil {
		return nil, err
	}
	lines, err := scanLines(rows)
	if err != nil {
		return nil, err
	}
	partials, updated, err := MatchResiduals(lines)
	if err != nil {
		return nil, err
	}
	for _, p := range partials {
		if _, err := r.tx.Exec(ctx, `INSERT INTO partial_reconciles (debit_line_id, credit_line_id, amount,
debit_amount_currency, credit_amount_currency, exchange_difference) VALUES ($1, $2, $3, $4, $5, $6)`,
			p.DebitLineID, p.CreditLineID, p.Amount, p.DebitAmountCurrency, p.CreditAmountCurrency, !opts.NoExchangeDifference); err != nil {
			return nil, err
		}
	}
	for _, line := range updated {
		if _, err := r.tx.Exec(ctx, `UPDATE move_lines SET amount_residual=$2, amount_residual_currency=$3, reconciled=$4
WHERE id=$1`, line.ID, line.AmountResidual, line.AmountResidualCurrency, line.Reconciled); err != nil {
			return nil, err
		}
	}
	return partials, nil
}

// VoidEDIDocumentsExcept clears the state of e-invoicing documents on the move
// whose format differs from format.
func (r *txRepository) VoidEDIDocumentsExcept(ctx context.Context, moveID int64, format string) (int64, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE edi_documents SET state=NULL, updated_at=NOW() WHERE move_id=$1 AND format<>$2`, moveID, format)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func lineCurrency(line LineInput, in MoveInput) string {
	if line.Currency != "" {
		return line.Currency
	}
	return in.Currency
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

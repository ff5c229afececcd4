package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType enumerates the account classifications relevant to payments.
type AccountType string

const (
	AccountTypeReceivable AccountType = "asset_receivable"
	AccountTypePayable    AccountType = "liability_payable"
	AccountTypeLiquidity  AccountType = "asset_cash"
	AccountTypeOther      AccountType = "other"
)

// IsReconcilable reports whether lines on this account type carry a residual.
func (t AccountType) IsReconcilable() bool {
	return t == AccountTypeReceivable || t == AccountTypePayable
}

// MoveState enumerates journal entry lifecycle values.
type MoveState string

const (
	MoveStateDraft  MoveState = "draft"
	MoveStatePosted MoveState = "posted"
	MoveStateCancel MoveState = "cancel"
)

// MoveType distinguishes invoices from plain entries.
type MoveType string

const (
	MoveTypeEntry      MoveType = "entry"
	MoveTypeOutInvoice MoveType = "out_invoice"
	MoveTypeOutRefund  MoveType = "out_refund"
	MoveTypeInInvoice  MoveType = "in_invoice"
	MoveTypeInRefund   MoveType = "in_refund"
)

// Direction is the payment direction of money relative to the company.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Company holds the settings the payment flow reads from a company.
type Company struct {
	ID                     int64
	Name                   string
	PartnerID              int64
	Currency               string
	PaymentDebitAccountID  int64
	PaymentCreditAccountID int64
}

// Contact is the addressing data of a partner.
type Contact struct {
	PartnerID int64
	Name      string
	Email     string
}

// Journal is a bank or cash journal payments are registered in.
type Journal struct {
	ID        int64
	CompanyID int64
	Name      string
	Type      string
	Currency  string
}

// PaymentMethodLine is a payment method enabled on a journal for one direction.
type PaymentMethodLine struct {
	ID               int64
	JournalID        int64
	Name             string
	Direction        Direction
	PaymentAccountID int64
}

// Move is a journal entry (invoice, bill or payment).
type Move struct {
	ID                 int64
	Name               string
	Ref                string
	CompanyID          int64
	JournalID          int64
	PartnerID          int64
	Date               time.Time
	State              MoveState
	Type               MoveType
	Currency           string
	Amount             decimal.Decimal
	EDIUsage           string
	EDIPaymentMethodID int64
	CreatedBy          int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Lines              []MoveLine
}

// IsBatchPayment reports whether any line carries a correlation id, marking
// the entry as produced by a multi-invoice payment.
func (m Move) IsBatchPayment() bool {
	for _, line := range m.Lines {
		if line.CorrelationID != nil {
			return true
		}
	}
	return false
}

// Duplicate returns a draft copy of the move without persisted identity.
func (m Move) Duplicate() Move {
	out := m
	out.ID = 0
	out.Name = ""
	out.State = MoveStateDraft
	out.Lines = make([]MoveLine, 0, len(m.Lines))
	for _, line := range m.Lines {
		out.Lines = append(out.Lines, line.Duplicate())
	}
	return out
}

// MoveLine is a single journal item.
type MoveLine struct {
	ID                     int64
	MoveID                 int64
	MoveState              MoveState
	CompanyID              int64
	AccountID              int64
	AccountType            AccountType
	PartnerID              int64
	Name                   string
	Currency               string
	CompanyCurrency        string
	AmountCurrency         decimal.Decimal
	Debit                  decimal.Decimal
	Credit                 decimal.Decimal
	AmountResidual         decimal.Decimal
	AmountResidualCurrency decimal.Decimal
	Reconciled             bool
	DateMaturity           *time.Time
	CorrelationID          *uuid.UUID
}

// Balance returns debit minus credit in company currency.
func (l MoveLine) Balance() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}

// HasResidual reports whether there is still something open on the line,
// preferring the foreign currency residual when the line carries one.
func (l MoveLine) HasResidual() bool {
	if l.Currency != "" && l.Currency != l.CompanyCurrency {
		return !l.AmountResidualCurrency.IsZero()
	}
	return !l.AmountResidual.IsZero()
}

// Duplicate copies the line for a duplicated move. Correlation ids are never copied.
func (l MoveLine) Duplicate() MoveLine {
	out := l
	out.ID = 0
	out.MoveID = 0
	out.Reconciled = false
	out.AmountResidual = l.Balance()
	out.AmountResidualCurrency = l.AmountCurrency
	out.CorrelationID = nil
	return out
}

// LineInput describes a journal item to create.
type LineInput struct {
	Name           string
	AccountID      int64
	PartnerID      int64
	Currency       string
	AmountCurrency decimal.Decimal
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	DateMaturity   *time.Time
	CorrelationID  *uuid.UUID
}

// MoveInput groups the fields required to create an entry.
type MoveInput struct {
	CompanyID          int64
	JournalID          int64
	PartnerID          int64
	Date               time.Time
	Ref                string
	Type               MoveType
	Currency           string
	Amount             decimal.Decimal
	EDIUsage           string
	EDIPaymentMethodID int64
	CreatedBy          int64
	Lines              []LineInput
}

// ReconcileOptions tunes a reconciliation call.
type ReconcileOptions struct {
	// NoExchangeDifference disables exchange difference entries.
	NoExchangeDifference bool
}

// PartialReconcile links a debit and a credit line for a matched amount.
type PartialReconcile struct {
	DebitLineID          int64
	CreditLineID         int64
	Amount               decimal.Decimal
	DebitAmountCurrency  decimal.Decimal
	CreditAmountCurrency decimal.Decimal
}

// OutstandingFilter narrows the query for open invoices.
type OutstandingFilter struct {
	CompanyID int64
	Direction Direction
	PartnerID int64
	Limit     int
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrMoveNotFound indicates a missing entry.
	ErrMoveNotFound = errors.New("ledger: journal entry not found")
	// ErrJournalNotFound indicates a missing journal.
	ErrJournalNotFound = errors.New("ledger: journal not found")
	// ErrCompanyNotFound indicates a missing company.
	ErrCompanyNotFound = errors.New("ledger: company not found")
	// ErrPaymentMethodNotFound indicates a missing payment method line.
	ErrPaymentMethodNotFound = errors.New("ledger: payment method not found")
	// ErrInvalidState indicates the action can't proceed on the entry state.
	ErrInvalidState = errors.New("ledger: invalid state transition")
	// ErrMixedAccounts indicates lines on different accounts were reconciled together.
	ErrMixedAccounts = errors.New("ledger: reconciled lines must share one account")
)

// Validate ensures the entry input meets minimum criteria.
func (in MoveInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("ledger: company required")
	}
	if in.JournalID == 0 {
		return errors.New("ledger: journal required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	debit := decimal.Zero
	credit := decimal.Zero
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return fmt.Errorf("ledger: line %d cannot be both debit and credit", idx)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Round(2).Equal(credit.Round(2)) {
		return ErrUnbalanced
	}
	return nil
}

package multipay

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/multipay/internal/ledger"
)

// WizardTitle is the name shown for the batch payment wizard.
const WizardTitle = "Register Payment Multi Invoice"

// DefaultEDIUsage is the e-invoicing usage applied to payment entries.
const DefaultEDIUsage = "P01"

// DefaultWriteOffLabel labels write-off lines unless the row overrides it.
const DefaultWriteOffLabel = "Write-Off"

// DifferenceHandling controls what happens when a row pays less or more than its total.
type DifferenceHandling string

const (
	// HandlingOpen keeps the invoice partially open.
	HandlingOpen DifferenceHandling = "open"
	// HandlingReconcile marks the invoice fully paid and books the difference as write-off.
	HandlingReconcile DifferenceHandling = "reconcile"
)

// Valid reports whether h is a known handling mode.
func (h DifferenceHandling) Valid() bool {
	return h == HandlingOpen || h == HandlingReconcile
}

// Stage enumerates the orchestration lifecycle of a batch.
type Stage string

const (
	StageCollecting  Stage = "collecting"
	StageValidating  Stage = "validating"
	StageBuilding    Stage = "building"
	StagePosting     Stage = "posting"
	StageReconciling Stage = "reconciling"
	StageFailed      Stage = "failed"
)

// Row is one invoice contribution to the batch.
type Row struct {
	// ID is the correlation token stamped on every generated line of the row.
	ID        uuid.UUID        `json:"id"`
	MoveID    int64            `json:"move_id"`
	MoveName  string           `json:"move_name"`
	CompanyID int64            `json:"company_id"`
	PartnerID int64            `json:"partner_id"`
	Direction ledger.Direction `json:"direction"`
	// AccountID is the receivable or payable account settled by the row.
	AccountID int64   `json:"account_id"`
	LineIDs   []int64 `json:"line_ids"`

	SourceCurrency       string          `json:"source_currency"`
	SourceAmount         decimal.Decimal `json:"source_amount"`
	SourceAmountCurrency decimal.Decimal `json:"source_amount_currency"`

	JournalID           int64     `json:"journal_id"`
	PaymentMethodLineID int64     `json:"payment_method_line_id"`
	PaymentDate         time.Time `json:"payment_date"`
	Currency            string    `json:"currency"`

	Amount            decimal.Decimal    `json:"amount"`
	TotalToPay        decimal.Decimal    `json:"total_to_pay"`
	Handling          DifferenceHandling `json:"handling"`
	Communication     string             `json:"communication"`
	WriteOffAccountID int64              `json:"write_off_account_id,omitempty"`
	WriteOffLabel     string             `json:"write_off_label,omitempty"`
}

// EffectiveAmount is what the row contributes to the batch total.
func (r Row) EffectiveAmount() decimal.Decimal {
	if r.Handling == HandlingReconcile {
		return r.TotalToPay
	}
	return r.Amount
}

// PaymentDifference is the part of the total the row leaves unpaid.
func (r Row) PaymentDifference() decimal.Decimal {
	return r.TotalToPay.Sub(r.Amount)
}

// Batch is the wizard state for one multi-invoice payment.
type Batch struct {
	ID              uuid.UUID        `json:"id"`
	CompanyID       int64            `json:"company_id"`
	CompanyCurrency string           `json:"company_currency"`
	CompanyPartner  int64            `json:"company_partner_id"`
	Direction       ledger.Direction `json:"direction"`

	JournalID           int64     `json:"journal_id"`
	JournalName         string    `json:"journal_name"`
	JournalCurrency     string    `json:"journal_currency,omitempty"`
	PaymentMethodLineID int64     `json:"payment_method_line_id"`
	PaymentDate         time.Time `json:"payment_date"`
	Memo                string    `json:"memo"`
	Currency            string    `json:"currency"`

	EDIUsage           string `json:"edi_usage"`
	EDIPaymentMethodID int64  `json:"edi_payment_method_id,omitempty"`

	GroupOverride *bool `json:"group_override,omitempty"`
	Rows          []Row `json:"rows"`
	Stage         Stage `json:"stage"`

	AmountTotal       decimal.Decimal `json:"amount_total"`
	AmountResidual    decimal.Decimal `json:"amount_residual"`
	PaymentDifference decimal.Decimal `json:"payment_difference"`
	GroupPayment      bool            `json:"group_payment"`

	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// OpenInput selects the invoices for a new batch.
type OpenInput struct {
	MoveIDs   []int64
	CompanyID int64
	ActorID   int64
}

// RowPatch updates one row of the batch.
type RowPatch struct {
	ID                uuid.UUID
	Amount            *decimal.Decimal
	Handling          *DifferenceHandling
	Communication     *string
	WriteOffAccountID *int64
	WriteOffLabel     *string
}

// Patch collects user edits to a batch. Nil fields are left untouched.
type Patch struct {
	JournalID           *int64
	PaymentMethodLineID *int64
	PaymentDate         *time.Time
	Memo                *string
	Currency            *string
	GroupPayment        *bool
	EDIUsage            *string
	EDIPaymentMethodID  *int64
	Rows                []RowPatch
}

// Wizard is the descriptor returned to the UI layer.
type Wizard struct {
	Title string `json:"title"`
	Batch *Batch `json:"batch"`
}

// ActionView enumerates the result views of a confirmation.
type ActionView string

const (
	ViewForm ActionView = "form"
	ViewList ActionView = "list"
)

// Action tells the UI which entries to show after confirmation.
type Action struct {
	Name    string     `json:"name"`
	View    ActionView `json:"view"`
	MoveID  int64      `json:"move_id,omitempty"`
	MoveIDs []int64    `json:"move_ids,omitempty"`
}

// Payment is one entry created by a confirmation.
type Payment struct {
	Move     ledger.Move
	RowIDs   []uuid.UUID
	Partials []ledger.PartialReconcile
}


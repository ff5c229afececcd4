package multipay

import (
	"github.com/shopspring/decimal"
)

// WriteOff describes the write-off line of a row, in document currency and
// inbound sign convention.
type WriteOff struct {
	AccountID      int64
	Label          string
	AmountCurrency decimal.Decimal
}

// IsZero reports whether no write-off line is needed.
func (w WriteOff) IsZero() bool {
	return w.AmountCurrency.IsZero()
}

// WriteOffComputer computes the write-off of a row.
type WriteOffComputer interface {
	WriteOff(row Row) (WriteOff, error)
}

// StandardWriteOff books the unpaid difference of rows marked as fully paid.
type StandardWriteOff struct{}

// WriteOff returns TotalToPay - Amount when the row handling is reconcile.
func (StandardWriteOff) WriteOff(row Row) (WriteOff, error) {
	if row.Handling != HandlingReconcile {
		return WriteOff{}, nil
	}
	diff := row.PaymentDifference()
	if diff.IsZero() {
		return WriteOff{}, nil
	}
	if row.WriteOffAccountID == 0 {
		return WriteOff{}, missingWriteOff(row.MoveName)
	}
	label := row.WriteOffLabel
	if label == "" {
		label = DefaultWriteOffLabel
	}
	return WriteOff{AccountID: row.WriteOffAccountID, Label: label, AmountCurrency: diff}, nil
}

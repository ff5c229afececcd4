package multipay

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/multipay/internal/ledger"
)

// ResolveCurrency returns the first non-empty currency. Callers pass the
// candidates in precedence order: batch, journal, source, company.
func ResolveCurrency(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

// Recompute refreshes the derived totals and the grouping flag. It must be
// called after every mutation of the rows, the journal or the payment date.
func (b *Batch) Recompute() {
	total := decimal.Zero
	paid := decimal.Zero
	due := decimal.Zero
	for idx := range b.Rows {
		row := &b.Rows[idx]
		row.Currency = ResolveCurrency(b.Currency, b.JournalCurrency, row.SourceCurrency, b.CompanyCurrency)
		total = total.Add(row.EffectiveAmount())
		paid = paid.Add(row.Amount)
		due = due.Add(row.TotalToPay)
	}
	b.AmountTotal = total
	b.AmountResidual = total.Sub(paid)
	b.PaymentDifference = due.Sub(total).Abs()
	b.GroupPayment = b.hasManyPartners()
	if b.GroupOverride != nil {
		b.GroupPayment = *b.GroupOverride
	}
}

func (b *Batch) hasManyPartners() bool {
	if len(b.Rows) == 0 {
		return false
	}
	first := b.Rows[0].PartnerID
	for _, row := range b.Rows[1:] {
		if row.PartnerID != first {
			return true
		}
	}
	return false
}

// Partners returns the distinct partners in order of first appearance.
func (b *Batch) Partners() []int64 {
	seen := make(map[int64]struct{}, len(b.Rows))
	var out []int64
	for _, row := range b.Rows {
		if _, ok := seen[row.PartnerID]; ok {
			continue
		}
		seen[row.PartnerID] = struct{}{}
		out = append(out, row.PartnerID)
	}
	return out
}

// SetJournal switches the journal and propagates it to every row.
func (b *Batch) SetJournal(journal ledger.Journal, method ledger.PaymentMethodLine) {
	b.JournalID = journal.ID
	b.JournalName = journal.Name
	b.JournalCurrency = journal.Currency
	b.Currency = ResolveCurrency(journal.Currency, b.CompanyCurrency)
	b.PaymentMethodLineID = method.ID
	for idx := range b.Rows {
		b.Rows[idx].JournalID = journal.ID
		b.Rows[idx].PaymentMethodLineID = method.ID
	}
}

// SetPaymentDate changes the payment date and propagates it to every row.
func (b *Batch) SetPaymentDate(date time.Time) {
	b.PaymentDate = date
	for idx := range b.Rows {
		b.Rows[idx].PaymentDate = b.PaymentDate
	}
}

// Row returns the row with the given correlation token.
func (b *Batch) Row(id uuid.UUID) (*Row, bool) {
	for idx := range b.Rows {
		if b.Rows[idx].ID == id {
			return &b.Rows[idx], true
		}
	}
	return nil, false
}

// PaymentGroup is a set of rows paid by one entry.
type PaymentGroup struct {
	PartnerID int64
	Amount    decimal.Decimal
	Rows      []Row
}

// Groups splits the batch into payment groups. Grouped batches produce one
// group per partner paying the sum of its row amounts. Otherwise a single
// group pays the batch total and is recorded against the partner with the
// largest contribution, the first one in row order winning ties.
func (b *Batch) Groups() []PaymentGroup {
	if len(b.Rows) == 0 {
		return nil
	}
	if b.GroupPayment {
		index := make(map[int64]int)
		var groups []PaymentGroup
		for _, row := range b.Rows {
			pos, ok := index[row.PartnerID]
			if !ok {
				pos = len(groups)
				index[row.PartnerID] = pos
				groups = append(groups, PaymentGroup{PartnerID: row.PartnerID, Amount: decimal.Zero})
			}
			groups[pos].Amount = groups[pos].Amount.Add(row.Amount)
			groups[pos].Rows = append(groups[pos].Rows, row)
		}
		return groups
	}

	sums := make(map[int64]decimal.Decimal)
	for _, row := range b.Rows {
		sums[row.PartnerID] = sums[row.PartnerID].Add(row.EffectiveAmount())
	}
	payer := b.Rows[0].PartnerID
	for _, partner := range b.Partners() {
		if sums[partner].GreaterThan(sums[payer]) {
			payer = partner
		}
	}
	rows := make([]Row, len(b.Rows))
	copy(rows, b.Rows)
	return []PaymentGroup{{PartnerID: payer, Amount: b.AmountTotal, Rows: rows}}
}

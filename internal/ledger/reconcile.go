package ledger

import (
	"github.com/shopspring/decimal"
)

// MatchResiduals pairs the open debit lines against the open credit lines of a
// single account in order, returning the partial reconciliations and the lines
// with their residuals reduced. Lines already reconciled are ignored.
//
// When both sides share a foreign currency the match is driven by the foreign
// residual, otherwise by the company currency residual. Exchange differences
// are not booked: a line whose driving residual reaches zero is closed.
func MatchResiduals(lines []MoveLine) ([]PartialReconcile, []MoveLine, error) {
	out := make([]MoveLine, len(lines))
	copy(out, lines)
	if len(out) == 0 {
		return nil, out, nil
	}
	account := out[0].AccountID
	for _, line := range out {
		if line.AccountID != account {
			return nil, nil, ErrMixedAccounts
		}
	}

	var debits, credits []int
	for idx, line := range out {
		if line.Reconciled || !line.HasResidual() {
			continue
		}
		if residualSign(line) > 0 {
			debits = append(debits, idx)
		} else {
			credits = append(credits, idx)
		}
	}

	var partials []PartialReconcile
	di, ci := 0, 0
	for di < len(debits) && ci < len(credits) {
		d := &out[debits[di]]
		c := &out[credits[ci]]
		partial := matchPair(d, c)
		partials = append(partials, partial)
		if !d.HasResidual() {
			d.Reconciled = true
			di++
		}
		if !c.HasResidual() {
			c.Reconciled = true
			ci++
		}
	}
	return partials, out, nil
}

func residualSign(line MoveLine) int {
	if usesForeign(line) {
		return line.AmountResidualCurrency.Sign()
	}
	return line.AmountResidual.Sign()
}

func usesForeign(line MoveLine) bool {
	return line.Currency != "" && line.Currency != line.CompanyCurrency
}

func matchPair(d, c *MoveLine) PartialReconcile {
	partial := PartialReconcile{DebitLineID: d.ID, CreditLineID: c.ID}
	if usesForeign(*d) && d.Currency == c.Currency {
		dCur := d.AmountResidualCurrency
		cCur := c.AmountResidualCurrency.Neg()
		cur := decimal.Min(dCur, cCur)
		dPart := prorate(d.AmountResidual, cur, dCur)
		cPart := prorate(c.AmountResidual.Neg(), cur, cCur)
		partial.Amount = decimal.Min(dPart, cPart)
		partial.DebitAmountCurrency = cur
		partial.CreditAmountCurrency = cur
		d.AmountResidualCurrency = dCur.Sub(cur)
		c.AmountResidualCurrency = cCur.Sub(cur).Neg()
		d.AmountResidual = d.AmountResidual.Sub(dPart)
		c.AmountResidual = c.AmountResidual.Add(cPart)
		closeCompanySide(d)
		closeCompanySide(c)
		return partial
	}

	dRes := d.AmountResidual
	cRes := c.AmountResidual.Neg()
	amount := decimal.Min(dRes, cRes)
	partial.Amount = amount
	partial.DebitAmountCurrency = prorate(d.AmountResidualCurrency, amount, dRes)
	partial.CreditAmountCurrency = prorate(c.AmountResidualCurrency.Neg(), amount, cRes)
	d.AmountResidual = dRes.Sub(amount)
	c.AmountResidual = cRes.Sub(amount).Neg()
	d.AmountResidualCurrency = d.AmountResidualCurrency.Sub(partial.DebitAmountCurrency)
	c.AmountResidualCurrency = c.AmountResidualCurrency.Add(partial.CreditAmountCurrency)
	if d.AmountResidual.IsZero() {
		d.AmountResidualCurrency = decimal.Zero
	}
	if c.AmountResidual.IsZero() {
		c.AmountResidualCurrency = decimal.Zero
	}
	return partial
}

// closeCompanySide drops the company residual left over once the foreign
// residual is settled.
func closeCompanySide(line *MoveLine) {
	if line.AmountResidualCurrency.IsZero() {
		line.AmountResidual = decimal.Zero
	}
}

// prorate returns total * part / whole rounded to cents, or total when part
// covers the whole.
func prorate(total, part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	if part.GreaterThanOrEqual(whole) {
		return total
	}
	return total.Mul(part).Div(whole).Round(2)
}

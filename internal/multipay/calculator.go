package multipay

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/multipay/internal/ledger"
)

// Converter converts amounts between currencies for a company at a date.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, companyID int64, date time.Time) (decimal.Decimal, error)
}

// LineContext is everything the calculator needs to build the lines of a row.
type LineContext struct {
	Row           Row
	Company       ledger.Company
	Journal       ledger.Journal
	PaymentMethod ledger.PaymentMethodLine
}

// Calculator builds the liquidity, counterpart and write-off lines of a row.
type Calculator struct {
	converter Converter
	writeOff  WriteOffComputer
	labels    *Labels
}

// NewCalculator constructs a Calculator. A nil writeOff uses StandardWriteOff.
func NewCalculator(converter Converter, writeOff WriteOffComputer, labels *Labels) *Calculator {
	if writeOff == nil {
		writeOff = StandardWriteOff{}
	}
	return &Calculator{converter: converter, writeOff: writeOff, labels: labels}
}

// OutstandingAccount resolves the liquidity account: the payment method
// account, else the company default for the direction.
func OutstandingAccount(company ledger.Company, method ledger.PaymentMethodLine, journal ledger.Journal, direction ledger.Direction) (int64, error) {
	if method.PaymentAccountID != 0 {
		return method.PaymentAccountID, nil
	}
	switch direction {
	case ledger.DirectionInbound:
		if company.PaymentDebitAccountID != 0 {
			return company.PaymentDebitAccountID, nil
		}
	case ledger.DirectionOutbound:
		if company.PaymentCreditAccountID != 0 {
			return company.PaymentCreditAccountID, nil
		}
	}
	return 0, missingOutstanding(method.Name, journal.Name)
}

// Lines returns the journal items of one row. They always net to zero in
// both document and company currency.
func (c *Calculator) Lines(ctx context.Context, in LineContext) ([]ledger.LineInput, error) {
	row := in.Row
	outstanding, err := OutstandingAccount(in.Company, in.PaymentMethod, in.Journal, row.Direction)
	if err != nil {
		return nil, err
	}
	writeOff, err := c.writeOff.WriteOff(row)
	if err != nil {
		return nil, err
	}

	currency := ResolveCurrency(row.Currency, in.Company.Currency)
	liquidityCurrency := row.Amount
	writeOffCurrency := writeOff.AmountCurrency
	switch row.Direction {
	case ledger.DirectionInbound:
	case ledger.DirectionOutbound:
		liquidityCurrency = liquidityCurrency.Neg()
		writeOffCurrency = writeOffCurrency.Neg()
	default:
		return nil, fmt.Errorf("multipay: unknown direction %q", row.Direction)
	}

	liquidityBalance, err := c.converter.Convert(ctx, liquidityCurrency, currency, in.Company.Currency, in.Company.ID, row.PaymentDate)
	if err != nil {
		return nil, fmt.Errorf("multipay: convert liquidity: %w", err)
	}
	writeOffBalance := decimal.Zero
	if !writeOffCurrency.IsZero() {
		writeOffBalance, err = c.converter.Convert(ctx, writeOffCurrency, currency, in.Company.Currency, in.Company.ID, row.PaymentDate)
		if err != nil {
			return nil, fmt.Errorf("multipay: convert write-off: %w", err)
		}
	}
	counterpartCurrency := liquidityCurrency.Add(writeOffCurrency).Neg()
	counterpartBalance := liquidityBalance.Add(writeOffBalance).Neg()

	var liquidityName string
	if row.PartnerID != 0 && row.PartnerID == in.Company.PartnerID {
		liquidityName = c.labels.Transfer(row.Direction, in.Journal.Name)
	}

	maturity := row.PaymentDate
	token := row.ID
	lines := []ledger.LineInput{
		newLine(liquidityName, outstanding, row.PartnerID, currency, liquidityCurrency, liquidityBalance),
		newLine(row.Communication, row.AccountID, row.PartnerID, currency, counterpartCurrency, counterpartBalance),
	}
	lines[0].DateMaturity = &maturity
	lines[1].DateMaturity = &maturity
	if !writeOffCurrency.IsZero() {
		lines = append(lines, newLine(writeOff.Label, writeOff.AccountID, row.PartnerID, currency, writeOffCurrency, writeOffBalance))
	}
	for idx := range lines {
		lines[idx].CorrelationID = &token
	}
	return lines, nil
}

func newLine(name string, accountID, partnerID int64, currency string, amountCurrency, balance decimal.Decimal) ledger.LineInput {
	line := ledger.LineInput{
		Name:           name,
		AccountID:      accountID,
		PartnerID:      partnerID,
		Currency:       currency,
		AmountCurrency: amountCurrency,
		Debit:          decimal.Zero,
		Credit:         decimal.Zero,
	}
	if balance.IsPositive() {
		line.Debit = balance
	} else if balance.IsNegative() {
		line.Credit = balance.Neg()
	}
	return line
}

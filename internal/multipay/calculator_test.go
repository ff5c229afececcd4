package multipay

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/multipay/internal/fx"
	"github.com/odyssey-erp/multipay/internal/ledger"
)

func calcContext(row Row) LineContext {
	mem := newMemLedger()
	return LineContext{
		Row:           row,
		Company:       mem.companies[companyMX],
		Journal:       mem.journals[bankJournal],
		PaymentMethod: mem.methods[methodIn],
	}
}

func baseRow(direction ledger.Direction, amount, total string) Row {
	return Row{
		ID:            NewToken(),
		MoveName:      "INV/0001",
		CompanyID:     companyMX,
		PartnerID:     1,
		Direction:     direction,
		AccountID:     acctReceivable,
		Currency:      "MXN",
		Amount:        dec(amount),
		TotalToPay:    dec(total),
		Handling:      HandlingOpen,
		Communication: "INV/0001",
		PaymentDate:   testToday,
	}
}

func assertBalanced(t *testing.T, lines []ledger.LineInput) {
	t.Helper()
	balance := decimal.Zero
	amountCurrency := decimal.Zero
	for _, line := range lines {
		balance = balance.Add(line.Debit).Sub(line.Credit)
		amountCurrency = amountCurrency.Add(line.AmountCurrency)
	}
	assert.True(t, balance.IsZero(), "company balance %s", balance)
	assert.True(t, amountCurrency.IsZero(), "currency balance %s", amountCurrency)
}

func TestCalculatorLinesBalance(t *testing.T) {
	calc := NewCalculator(fx.NewConverter(fx.StaticRates{"USD": dec("0.05")}), nil, NewLabels("en"))

	reconcile := func(r Row) Row {
		r.Handling = HandlingReconcile
		r.WriteOffAccountID = acctWriteOff
		return r
	}
	foreign := func(r Row) Row {
		r.Currency = "USD"
		return r
	}
	outbound := func(r Row) Row {
		r.AccountID = acctPayable
		return r
	}

	cases := []struct {
		name      string
		row       Row
		wantLines int
	}{
		{"inbound full", baseRow(ledger.DirectionInbound, "100", "100"), 2},
		{"inbound partial", baseRow(ledger.DirectionInbound, "60", "100"), 2},
		{"outbound full", outbound(baseRow(ledger.DirectionOutbound, "80", "80")), 2},
		{"inbound write-off", reconcile(baseRow(ledger.DirectionInbound, "90", "100")), 3},
		{"outbound write-off", outbound(reconcile(baseRow(ledger.DirectionOutbound, "90", "100"))), 3},
		{"overpayment write-off", reconcile(baseRow(ledger.DirectionInbound, "110", "100")), 3},
		{"foreign currency", foreign(baseRow(ledger.DirectionInbound, "33.33", "33.33")), 2},
		{"foreign write-off", foreign(reconcile(baseRow(ledger.DirectionOutbound, "7.77", "9.99"))), 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lines, err := calc.Lines(context.Background(), calcContext(tc.row))
			require.NoError(t, err)
			require.Len(t, lines, tc.wantLines)
			assertBalanced(t, lines)
			for _, line := range lines {
				require.NotNil(t, line.CorrelationID)
				assert.Equal(t, tc.row.ID, *line.CorrelationID)
				assert.Equal(t, tc.row.Currency, line.Currency)
			}
			assert.NotNil(t, lines[0].DateMaturity)
			assert.NotNil(t, lines[1].DateMaturity)
			assert.Equal(t, tc.row.AccountID, lines[1].AccountID)
		})
	}
}

func TestCalculatorLineSides(t *testing.T) {
	calc := NewCalculator(fx.NewConverter(fx.StaticRates{}), nil, NewLabels("en"))

	row := baseRow(ledger.DirectionInbound, "90", "100")
	row.Handling = HandlingReconcile
	row.WriteOffAccountID = acctWriteOff
	row.WriteOffLabel = "Bank fees"
	lines, err := calc.Lines(context.Background(), calcContext(row))
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, acctOutstandIn, lines[0].AccountID)
	assert.True(t, lines[0].Debit.Equal(dec("90")))
	assert.True(t, lines[1].Credit.Equal(dec("100")))
	assert.Equal(t, "INV/0001", lines[1].Name)
	assert.Equal(t, acctWriteOff, lines[2].AccountID)
	assert.True(t, lines[2].Debit.Equal(dec("10")))
	assert.Equal(t, "Bank fees", lines[2].Name)

	out := baseRow(ledger.DirectionOutbound, "90", "100")
	out.AccountID = acctPayable
	out.Handling = HandlingReconcile
	out.WriteOffAccountID = acctWriteOff
	ctx := calcContext(out)
	ctx.PaymentMethod = newMemLedger().methods[methodOut]
	lines, err = calc.Lines(context.Background(), ctx)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, acctOutstandOut, lines[0].AccountID)
	assert.True(t, lines[0].Credit.Equal(dec("90")))
	assert.True(t, lines[1].Debit.Equal(dec("100")))
	assert.True(t, lines[2].Credit.Equal(dec("10")))
}

func TestCalculatorForeignAmounts(t *testing.T) {
	calc := NewCalculator(fx.NewConverter(fx.StaticRates{"USD": dec("0.05")}), nil, NewLabels("en"))

	row := baseRow(ledger.DirectionInbound, "5", "5")
	row.Currency = "USD"
	lines, err := calc.Lines(context.Background(), calcContext(row))
	require.NoError(t, err)
	assert.True(t, lines[0].AmountCurrency.Equal(dec("5")))
	assert.True(t, lines[0].Debit.Equal(dec("100")))
	assert.True(t, lines[1].AmountCurrency.Equal(dec("-5")))
	assert.True(t, lines[1].Credit.Equal(dec("100")))
}

func TestCalculatorInternalTransferLabel(t *testing.T) {
	calc := NewCalculator(fx.NewConverter(fx.StaticRates{}), nil, NewLabels("es"))

	row := baseRow(ledger.DirectionInbound, "100", "100")
	row.PartnerID = companyPartner
	lines, err := calc.Lines(context.Background(), calcContext(row))
	require.NoError(t, err)
	assert.Equal(t, "Transferencia a Bank", lines[0].Name)

	row.PartnerID = 1
	lines, err = calc.Lines(context.Background(), calcContext(row))
	require.NoError(t, err)
	assert.Empty(t, lines[0].Name)
}

func TestCalculatorMissingWriteOffAccount(t *testing.T) {
	calc := NewCalculator(fx.NewConverter(fx.StaticRates{}), nil, NewLabels("en"))

	row := baseRow(ledger.DirectionInbound, "90", "100")
	row.Handling = HandlingReconcile
	_, err := calc.Lines(context.Background(), calcContext(row))
	assert.ErrorIs(t, err, ErrMissingWriteOffAccount)
	assert.Contains(t, err.Error(), "INV/0001")
}

func TestOutstandingAccount(t *testing.T) {
	company := ledger.Company{PaymentDebitAccountID: 1, PaymentCreditAccountID: 2}

	id, err := OutstandingAccount(company, ledger.PaymentMethodLine{PaymentAccountID: 9}, ledger.Journal{}, ledger.DirectionInbound)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)

	id, err = OutstandingAccount(company, ledger.PaymentMethodLine{}, ledger.Journal{}, ledger.DirectionInbound)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id, err = OutstandingAccount(company, ledger.PaymentMethodLine{}, ledger.Journal{}, ledger.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	_, err = OutstandingAccount(ledger.Company{}, ledger.PaymentMethodLine{Name: "Check"}, ledger.Journal{Name: "Cash"}, ledger.DirectionOutbound)
	assert.ErrorIs(t, err, ErrMissingOutstandingAccount)
	assert.Contains(t, err.Error(), "the Check payment method in the Cash journal")
}

func TestStandardWriteOff(t *testing.T) {
	row := baseRow(ledger.DirectionInbound, "100", "100")
	row.Handling = HandlingReconcile
	w, err := StandardWriteOff{}.WriteOff(row)
	require.NoError(t, err)
	assert.True(t, w.IsZero())

	row.Amount = dec("95")
	row.WriteOffAccountID = acctWriteOff
	w, err = StandardWriteOff{}.WriteOff(row)
	require.NoError(t, err)
	assert.True(t, w.AmountCurrency.Equal(dec("5")))
	assert.Equal(t, DefaultWriteOffLabel, w.Label)

	row.Handling = HandlingOpen
	w, err = StandardWriteOff{}.WriteOff(row)
	require.NoError(t, err)
	assert.True(t, w.IsZero())
}

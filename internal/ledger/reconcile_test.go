package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchResidualsFullSettlement(t *testing.T) {
	lines := []MoveLine{
		{ID: 1, AccountID: 5, Currency: "MXN", CompanyCurrency: "MXN", AmountResidual: d("100"), AmountResidualCurrency: d("100")},
		{ID: 2, AccountID: 5, Currency: "MXN", CompanyCurrency: "MXN", AmountResidual: d("-100"), AmountResidualCurrency: d("-100")},
	}
	partials, out, err := MatchResiduals(lines)
	require.NoError(t, err)
	require.Len(t, partials, 1)
	assert.Equal(t, int64(1), partials[0].DebitLineID)
	assert.Equal(t, int64(2), partials[0].CreditLineID)
	assert.True(t, partials[0].Amount.Equal(d("100")))
	for _, line := range out {
		assert.True(t, line.Reconciled)
		assert.True(t, line.AmountResidual.IsZero())
	}
	assert.False(t, lines[0].Reconciled, "input is not mutated")
}

func TestMatchResidualsPartialLeavesRemainder(t *testing.T) {
	lines := []MoveLine{
		{ID: 1, AccountID: 5, CompanyCurrency: "MXN", AmountResidual: d("100")},
		{ID: 2, AccountID: 5, CompanyCurrency: "MXN", AmountResidual: d("-40")},
		{ID: 3, AccountID: 5, CompanyCurrency: "MXN", AmountResidual: d("-25")},
	}
	partials, out, err := MatchResiduals(lines)
	require.NoError(t, err)
	require.Len(t, partials, 2)
	assert.False(t, out[0].Reconciled)
	assert.True(t, out[0].AmountResidual.Equal(d("35")))
	assert.True(t, out[1].Reconciled)
	assert.True(t, out[2].Reconciled)
}

func TestMatchResidualsForeignCurrencyClosesCompanySide(t *testing.T) {
	lines := []MoveLine{
		{ID: 1, AccountID: 5, Currency: "USD", CompanyCurrency: "MXN", AmountResidual: d("1700"), AmountResidualCurrency: d("100")},
		{ID: 2, AccountID: 5, Currency: "USD", CompanyCurrency: "MXN", AmountResidual: d("-1750"), AmountResidualCurrency: d("-100")},
	}
	partials, out, err := MatchResiduals(lines)
	require.NoError(t, err)
	require.Len(t, partials, 1)
	assert.True(t, partials[0].DebitAmountCurrency.Equal(d("100")))
	assert.True(t, partials[0].Amount.Equal(d("1700")))
	for _, line := range out {
		assert.True(t, line.Reconciled)
		assert.True(t, line.AmountResidual.IsZero())
		assert.True(t, line.AmountResidualCurrency.IsZero())
	}
}

func TestMatchResidualsRejectsMixedAccounts(t *testing.T) {
	_, _, err := MatchResiduals([]MoveLine{
		{ID: 1, AccountID: 5, AmountResidual: d("1")},
		{ID: 2, AccountID: 6, AmountResidual: d("-1")},
	})
	assert.ErrorIs(t, err, ErrMixedAccounts)
}

func TestMatchResidualsSkipsReconciledLines(t *testing.T) {
	partials, _, err := MatchResiduals([]MoveLine{
		{ID: 1, AccountID: 5, AmountResidual: d("10"), Reconciled: true},
		{ID: 2, AccountID: 5, AmountResidual: d("-10")},
	})
	require.NoError(t, err)
	assert.Empty(t, partials)
}

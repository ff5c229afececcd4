package multipay

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/multipay/internal/ledger"
)

func TestSyncGuardFiltersBatchMoves(t *testing.T) {
	token := NewToken()
	single := ledger.Move{ID: 1, Lines: []ledger.MoveLine{{ID: 10}}}
	batch := ledger.Move{ID: 2, Lines: []ledger.MoveLine{{ID: 20, CorrelationID: &token}, {ID: 21}}}

	next := &countingSync{}
	guard := NewSyncGuard(next)
	require.NoError(t, guard.SynchronizeToMoves(context.Background(), []ledger.Move{single, batch}))
	require.Len(t, next.to, 1)
	require.Len(t, next.to[0], 1)
	assert.Equal(t, int64(1), next.to[0][0].ID)

	require.NoError(t, guard.SynchronizeToMoves(context.Background(), []ledger.Move{batch}))
	assert.Len(t, next.to, 1)

	require.NoError(t, guard.SynchronizeToMoves(WithoutSync(context.Background()), []ledger.Move{single}))
	assert.Len(t, next.to, 1)
}

func TestSyncSkipped(t *testing.T) {
	assert.False(t, SyncSkipped(context.Background()))
	assert.True(t, SyncSkipped(WithoutSync(context.Background())))
}

func TestTokensAreUnique(t *testing.T) {
	seen := make(map[uuid.UUID]struct{})
	for i := 0; i < 1000; i++ {
		token := NewToken()
		_, dup := seen[token]
		require.False(t, dup)
		seen[token] = struct{}{}
	}
}

func TestLabelsLocales(t *testing.T) {
	assert.Equal(t, "Transfer to Bank", NewLabels("en").Transfer(ledger.DirectionInbound, "Bank"))
	assert.Equal(t, "Transfer from Bank", NewLabels("en").Transfer(ledger.DirectionOutbound, "Bank"))
	assert.Equal(t, "Transferencia desde Banco", NewLabels("es").Transfer(ledger.DirectionOutbound, "Banco"))
	assert.Equal(t, "Transfer ke BCA", NewLabels("id").Transfer(ledger.DirectionInbound, "BCA"))
	assert.Equal(t, "Transfer to Bank", NewLabels("not a locale!").Transfer(ledger.DirectionInbound, "Bank"))
}

func TestRedisStoreRoundTripAndExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store := NewRedisStore(env.client, time.Minute)

	batch := &Batch{ID: uuid.New(), CompanyID: companyMX, Rows: []Row{testRow(1, "12.50", "20", HandlingOpen)}}
	require.NoError(t, store.Save(ctx, batch))

	loaded, err := store.Load(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.Rows[0].ID, loaded.Rows[0].ID)
	assert.True(t, loaded.Rows[0].Amount.Equal(dec("12.50")))

	env.redis.FastForward(2 * time.Minute)
	_, err = store.Load(ctx, batch.ID)
	assert.ErrorIs(t, err, ErrWizardNotFound)

	assert.Error(t, store.Save(ctx, &Batch{}))
	assert.NoError(t, store.Delete(ctx, uuid.New()))
}

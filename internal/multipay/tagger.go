package multipay

import (
	"context"

	"github.com/google/uuid"

	"github.com/odyssey-erp/multipay/internal/ledger"
)

// NewToken returns a fresh correlation token for a batch row.
func NewToken() uuid.UUID {
	return uuid.New()
}

type skipSyncKey struct{}

// WithoutSync marks ctx so payment synchronization is skipped for every move.
func WithoutSync(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipSyncKey{}, true)
}

// SyncSkipped reports whether ctx disables payment synchronization.
func SyncSkipped(ctx context.Context) bool {
	skip, _ := ctx.Value(skipSyncKey{}).(bool)
	return skip
}

// PaymentSynchronizer keeps single-invoice payment records aligned with
// their journal entries.
type PaymentSynchronizer interface {
	SynchronizeFromMoves(ctx context.Context, moves []ledger.Move) error
	SynchronizeToMoves(ctx context.Context, moves []ledger.Move) error
}

// SyncGuard wraps a PaymentSynchronizer and hides batch payment entries from it.
type SyncGuard struct {
	next PaymentSynchronizer
}

// NewSyncGuard decorates next.
func NewSyncGuard(next PaymentSynchronizer) *SyncGuard {
	return &SyncGuard{next: next}
}

// SynchronizeFromMoves forwards the moves that are not batch payments.
func (g *SyncGuard) SynchronizeFromMoves(ctx context.Context, moves []ledger.Move) error {
	remaining := g.filter(ctx, moves)
	if len(remaining) == 0 {
		return nil
	}
	return g.next.SynchronizeFromMoves(ctx, remaining)
}

// SynchronizeToMoves forwards the moves that are not batch payments.
func (g *SyncGuard) SynchronizeToMoves(ctx context.Context, moves []ledger.Move) error {
	remaining := g.filter(ctx, moves)
	if len(remaining) == 0 {
		return nil
	}
	return g.next.SynchronizeToMoves(ctx, remaining)
}

func (g *SyncGuard) filter(ctx context.Context, moves []ledger.Move) []ledger.Move {
	if g == nil || g.next == nil || SyncSkipped(ctx) {
		return nil
	}
	out := make([]ledger.Move, 0, len(moves))
	for _, move := range moves {
		if move.IsBatchPayment() {
			continue
		}
		out = append(out, move)
	}
	return out
}

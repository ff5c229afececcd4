package multipay

import (
	"context"

	"github.com/odyssey-erp/multipay/internal/ledger"
)

// Hooks lets deployments customise a confirmation.
type Hooks interface {
	// CheckPaymentValidity runs before anything is built.
	CheckPaymentValidity(ctx context.Context, batch *Batch) error
	// PreCreate returns extra data handed to ExtraMoveValues.
	PreCreate(ctx context.Context, batch *Batch) (map[string]any, error)
	// ExtraMoveValues adjusts an entry before it is created.
	ExtraMoveValues(ctx context.Context, group PaymentGroup, in *ledger.MoveInput, extra map[string]any) error
	// PostCreate runs inside the confirm transaction and may replace the list
	// of created entries.
	PostCreate(ctx context.Context, batch *Batch, moves []ledger.Move) ([]ledger.Move, error)
}

// NoopHooks leaves every step untouched.
type NoopHooks struct{}

func (NoopHooks) CheckPaymentValidity(context.Context, *Batch) error { return nil }

func (NoopHooks) PreCreate(context.Context, *Batch) (map[string]any, error) { return nil, nil }

func (NoopHooks) ExtraMoveValues(context.Context, PaymentGroup, *ledger.MoveInput, map[string]any) error {
	return nil
}

func (NoopHooks) PostCreate(_ context.Context, _ *Batch, moves []ledger.Move) ([]ledger.Move, error) {
	return moves, nil
}

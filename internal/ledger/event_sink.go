package ledger

import (
	"context"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/storage"
)

// StoreSink persists committed sale events to a SaleEventStore.
type StoreSink struct {
	Store storage.SaleEventStore
	Label string // reported by Name, "store" when empty
}

// Name implements EventSink.
func (s StoreSink) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "store"
}

// Publish implements EventSink.
func (s StoreSink) Publish(ctx context.Context, events []*domain.SaleEvent) error {
	return s.Store.InsertBulk(ctx, events)
}

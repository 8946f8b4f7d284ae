package memory

import (
	"context"
	"sort"
	"sync"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/storage"
)

// SaleEventStore is an in-memory implementation of storage.SaleEventStore.
type SaleEventStore struct {
	mu   sync.RWMutex
	data []*domain.SaleEvent
	keys map[string]bool
}

// NewSaleEventStore creates a new in-memory sale event store.
func NewSaleEventStore() *SaleEventStore {
	return &SaleEventStore{
		data: make([]*domain.SaleEvent, 0),
		keys: make(map[string]bool),
	}
}

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *SaleEventStore) InsertBulk(_ context.Context, events []*domain.SaleEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicates (both existing and intra-batch)
	batchKeys := make(map[string]bool)
	for _, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		if s.keys[e.ID] || batchKeys[e.ID] {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.ID] = true
	}

	for _, e := range events {
		copy := *e
		s.data = append(s.data, &copy)
		s.keys[e.ID] = true
	}

	return nil
}

// GetBySale retrieves all events for a sale, ordered by slot, instruction index.
func (s *SaleEventStore) GetBySale(_ context.Context, sale solana.Address) ([]*domain.SaleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SaleEvent
	for _, e := range s.data {
		if e.Sale == sale {
			copy := *e
			result = append(result, &copy)
		}
	}

	sortSaleEvents(result)
	return result, nil
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *SaleEventStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.SaleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SaleEvent
	for _, e := range s.data {
		if e.Timestamp >= start && e.Timestamp <= end {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		if result[i].Slot != result[j].Slot {
			return result[i].Slot < result[j].Slot
		}
		return result[i].InstructionIndex < result[j].InstructionIndex
	})
	return result, nil
}

// sortSaleEvents sorts events by (slot, instruction_index, id).
func sortSaleEvents(events []*domain.SaleEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Slot != events[j].Slot {
			return events[i].Slot < events[j].Slot
		}
		if events[i].InstructionIndex != events[j].InstructionIndex {
			return events[i].InstructionIndex < events[j].InstructionIndex
		}
		return events[i].ID < events[j].ID
	})
}

// Verify interface compliance at compile time.
var _ storage.SaleEventStore = (*SaleEventStore)(nil)

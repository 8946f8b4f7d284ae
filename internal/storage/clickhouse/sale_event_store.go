package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/storage"
)

// SaleEventStore implements storage.SaleEventStore using ClickHouse.
type SaleEventStore struct {
	conn *Conn
}

// NewSaleEventStore creates a new SaleEventStore.
func NewSaleEventStore(conn *Conn) *SaleEventStore {
	return &SaleEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SaleEventStore = (*SaleEventStore)(nil)

const saleEventColumns = `id, kind, sale, seller, buyer, escrow, tokens, lamports, unit_price,
	signature, instruction_index, slot, timestamp`

// InsertBulk adds multiple events. Fails entire batch on any duplicate id.
func (s *SaleEventStore) InsertBulk(ctx context.Context, events []*domain.SaleEvent) (err error) {
	defer func(start time.Time) { observe("insert_sale_events", start, err) }(time.Now())

	if len(events) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[string]struct{}, len(events))
	ids := make([]string, 0, len(events))
	for _, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[e.ID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.ID] = struct{}{}
		ids = append(ids, e.ID)
	}

	// MergeTree does not enforce uniqueness; check existing rows first
	var count uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM sale_events WHERE id IN (?)`, ids).Scan(&count); err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if count > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO sale_events (`+saleEventColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.ID, string(e.Kind), e.Sale.String(), e.Seller.String(), e.Buyer.String(), e.Escrow.String(),
			e.Tokens, e.Lamports, e.UnitPrice,
			e.Signature.String(), uint32(e.InstructionIndex), e.Slot, e.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySale retrieves all events for a sale, ordered by slot, instruction index.
func (s *SaleEventStore) GetBySale(ctx context.Context, sale solana.Address) (_ []*domain.SaleEvent, err error) {
	defer func(start time.Time) { observe("sale_events_by_sale", start, err) }(time.Now())
	query := `
		SELECT ` + saleEventColumns + `
		FROM sale_events FINAL
		WHERE sale = ?
		ORDER BY slot ASC, instruction_index ASC, id ASC
	`

	rows, err := s.conn.Query(ctx, query, sale.String())
	if err != nil {
		return nil, fmt.Errorf("query by sale: %w", err)
	}
	defer rows.Close()

	return scanSaleEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *SaleEventStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.SaleEvent, error) {
	query := `
		SELECT ` + saleEventColumns + `
		FROM sale_events FINAL
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, slot ASC, instruction_index ASC
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanSaleEvents(rows)
}

// chRows is the subset of driver.Rows used by scanners.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanSaleEvents scans multiple rows.
func scanSaleEvents(rows chRows) ([]*domain.SaleEvent, error) {
	var events []*domain.SaleEvent

	for rows.Next() {
		var e domain.SaleEvent
		var kind, sale, seller, buyer, escrow, signature string
		var instructionIndex uint32

		err := rows.Scan(
			&e.ID, &kind, &sale, &seller, &buyer, &escrow,
			&e.Tokens, &e.Lamports, &e.UnitPrice,
			&signature, &instructionIndex, &e.Slot, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sale event row: %w", err)
		}

		e.Kind = domain.SaleEventKind(kind)
		e.InstructionIndex = int(instructionIndex)
		if err := decodeEventKeys(&e, sale, seller, buyer, escrow, signature); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale event rows: %w", err)
	}

	return events, nil
}

func decodeEventKeys(e *domain.SaleEvent, sale, seller, buyer, escrow, signature string) error {
	var err error
	if e.Sale, err = solana.ParseAddress(sale); err != nil {
		return fmt.Errorf("decode sale: %w", err)
	}
	if e.Seller, err = solana.ParseAddress(seller); err != nil {
		return fmt.Errorf("decode seller: %w", err)
	}
	if e.Buyer, err = solana.ParseAddress(buyer); err != nil {
		return fmt.Errorf("decode buyer: %w", err)
	}
	if e.Escrow, err = solana.ParseAddress(escrow); err != nil {
		return fmt.Errorf("decode escrow: %w", err)
	}
	if e.Signature, err = solana.ParseSignature(signature); err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/storage"
)

// SaleEventStore implements storage.SaleEventStore using PostgreSQL.
type SaleEventStore struct {
	pool *Pool
}

// NewSaleEventStore creates a new SaleEventStore.
func NewSaleEventStore(pool *Pool) *SaleEventStore {
	return &SaleEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SaleEventStore = (*SaleEventStore)(nil)

const saleEventColumns = `id, kind, sale, seller, buyer, escrow, tokens, lamports, unit_price,
	signature, instruction_index, slot, timestamp`

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *SaleEventStore) InsertBulk(ctx context.Context, events []*domain.SaleEvent) (err error) {
	defer func(start time.Time) { observe("insert_sale_events", start, err) }(time.Now())

	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO sale_events (` + saleEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	return s.pool.withTx(ctx, func(tx pgx.Tx) error {
		for _, e := range events {
			if e == nil || e.ID == "" {
				return storage.ErrInvalidInput
			}
			_, err := tx.Exec(ctx, query,
				e.ID,
				string(e.Kind),
				e.Sale.String(),
				e.Seller.String(),
				e.Buyer.String(),
				e.Escrow.String(),
				int64(e.Tokens),
				int64(e.Lamports),
				int64(e.UnitPrice),
				e.Signature.String(),
				e.InstructionIndex,
				int64(e.Slot),
				e.Timestamp,
			)
			if err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert sale event in bulk: %w", err)
			}
		}
		return nil
	})
}

// GetBySale retrieves all events for a sale, ordered by slot, instruction index.
func (s *SaleEventStore) GetBySale(ctx context.Context, sale solana.Address) ([]*domain.SaleEvent, error) {
	query := `
		SELECT ` + saleEventColumns + `
		FROM sale_events
		WHERE sale = $1
		ORDER BY slot ASC, instruction_index ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, sale.String())
	if err != nil {
		return nil, fmt.Errorf("get sale events by sale: %w", err)
	}
	defer rows.Close()

	return scanSaleEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *SaleEventStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.SaleEvent, error) {
	query := `
		SELECT ` + saleEventColumns + `
		FROM sale_events
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC, slot ASC, instruction_index ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get sale events by time range: %w", err)
	}
	defer rows.Close()

	return scanSaleEvents(rows)
}

// scanSaleEvents scans multiple rows into a slice.
func scanSaleEvents(rows pgx.Rows) ([]*domain.SaleEvent, error) {
	var events []*domain.SaleEvent

	for rows.Next() {
		var e domain.SaleEvent
		var kind, sale, seller, buyer, escrow, signature string
		var tokens, lamports, unitPrice, slot int64

		err := rows.Scan(
			&e.ID, &kind, &sale, &seller, &buyer, &escrow,
			&tokens, &lamports, &unitPrice,
			&signature, &e.InstructionIndex, &slot, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sale event: %w", err)
		}

		e.Kind = domain.SaleEventKind(kind)
		e.Tokens = uint64(tokens)
		e.Lamports = uint64(lamports)
		e.UnitPrice = uint64(unitPrice)
		e.Slot = uint64(slot)

		if e.Sale, err = solana.ParseAddress(sale); err != nil {
			return nil, fmt.Errorf("decode sale: %w", err)
		}
		if e.Seller, err = solana.ParseAddress(seller); err != nil {
			return nil, fmt.Errorf("decode seller: %w", err)
		}
		if e.Buyer, err = solana.ParseAddress(buyer); err != nil {
			return nil, fmt.Errorf("decode buyer: %w", err)
		}
		if e.Escrow, err = solana.ParseAddress(escrow); err != nil {
			return nil, fmt.Errorf("decode escrow: %w", err)
		}
		if e.Signature, err = solana.ParseSignature(signature); err != nil {
			return nil, fmt.Errorf("decode signature: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale events: %w", err)
	}

	return events, nil
}

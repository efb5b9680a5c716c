package clickhouse

import (
	"context"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"

	"solana-pool-watch/internal/domain"
	"solana-pool-watch/internal/storage"
)

// PoolEventStore implements storage.PoolEventStore using ClickHouse.
type PoolEventStore struct {
	conn *Conn
}

// NewPoolEventStore creates a new PoolEventStore.
func NewPoolEventStore(conn *Conn) *PoolEventStore {
	return &PoolEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PoolEventStore = (*PoolEventStore)(nil)

// Insert appends events in one batch. MergeTree does not enforce uniqueness,
// so event ids already present are filtered out first; the table engine
// collapses anything that races past the check.
func (s *PoolEventStore) Insert(ctx context.Context, events []domain.PoolEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := storage.ValidateEvents(events); err != nil {
		return err
	}

	existing, err := s.existing(ctx, events)
	if err != nil {
		return fmt.Errorf("check existing: %w", err)
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO pool_events (
			event_id, signature, slot, block_time, program, schema_name, pair_index, token0, token1, detected_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	appended := 0
	for _, e := range events {
		if _, ok := existing[e.EventID]; ok {
			continue
		}
		existing[e.EventID] = struct{}{}

		err = batch.Append(
			e.EventID, e.Signature, e.Slot, e.BlockTime,
			e.Program.String(), e.Schema, uint32(e.PairIndex),
			e.Token0.String(), e.Token1.String(), e.DetectedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
		appended++
	}

	if appended == 0 {
		return batch.Abort()
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (s *PoolEventStore) existing(ctx context.Context, events []domain.PoolEvent) (map[string]struct{}, error) {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.EventID
	}

	rows, err := s.conn.Query(ctx, `SELECT event_id FROM pool_events WHERE event_id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = struct{}{}
	}
	return found, rows.Err()
}

// GetBySignature retrieves the events of one transaction, ordered by pair_index.
func (s *PoolEventStore) GetBySignature(ctx context.Context, signature string) ([]domain.PoolEvent, error) {
	query := `
		SELECT event_id, signature, slot, block_time, program, schema_name, pair_index, token0, token1, detected_at
		FROM pool_events FINAL
		WHERE signature = ?
		ORDER BY pair_index ASC
	`
	return s.query(ctx, query, signature)
}

// GetBySlotRange retrieves events within [from, to] (inclusive).
func (s *PoolEventStore) GetBySlotRange(ctx context.Context, from, to uint64) ([]domain.PoolEvent, error) {
	query := `
		SELECT event_id, signature, slot, block_time, program, schema_name, pair_index, token0, token1, detected_at
		FROM pool_events FINAL
		WHERE slot >= ? AND slot <= ?
		ORDER BY slot ASC, signature ASC, pair_index ASC
	`
	return s.query(ctx, query, from, to)
}

func (s *PoolEventStore) query(ctx context.Context, query string, args ...any) ([]domain.PoolEvent, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pool events: %w", err)
	}
	defer rows.Close()

	var events []domain.PoolEvent
	for rows.Next() {
		var (
			e                       domain.PoolEvent
			pairIndex               uint32
			program, token0, token1 string
		)

		err := rows.Scan(
			&e.EventID, &e.Signature, &e.Slot, &e.BlockTime,
			&program, &e.Schema, &pairIndex,
			&token0, &token1, &e.DetectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		e.PairIndex = int(pairIndex)
		if e.Program, err = solanago.PublicKeyFromBase58(program); err != nil {
			return nil, fmt.Errorf("decode program %q: %w", program, err)
		}
		if e.Token0, err = solanago.PublicKeyFromBase58(token0); err != nil {
			return nil, fmt.Errorf("decode token0 %q: %w", token0, err)
		}
		if e.Token1, err = solanago.PublicKeyFromBase58(token1); err != nil {
			return nil, fmt.Errorf("decode token1 %q: %w", token1, err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

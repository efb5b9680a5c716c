package postgres

import (
	"context"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"

	"solana-pool-watch/internal/domain"
	"solana-pool-watch/internal/storage"
)

// PoolEventStore implements storage.PoolEventStore using PostgreSQL.
type PoolEventStore struct {
	pool *Pool
}

// NewPoolEventStore creates a new PoolEventStore.
func NewPoolEventStore(pool *Pool) *PoolEventStore {
	return &PoolEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolEventStore = (*PoolEventStore)(nil)

// Insert adds events in one transaction. Existing event ids are skipped.
func (s *PoolEventStore) Insert(ctx context.Context, events []domain.PoolEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := storage.ValidateEvents(events); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO pool_events (
			event_id, signature, slot, block_time, program, schema_name, pair_index, token0, token1, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`

	for _, e := range events {
		_, err := tx.Exec(ctx, query,
			e.EventID,
			e.Signature,
			int64(e.Slot),
			e.BlockTime,
			e.Program.String(),
			e.Schema,
			e.PairIndex,
			e.Token0.String(),
			e.Token1.String(),
			e.DetectedAt,
		)
		if err != nil {
			if constraint, ok := uniqueViolation(err); ok {
				return fmt.Errorf("insert pool event %s: conflicts on %s: %w", e.EventID, constraint, storage.ErrInvalidInput)
			}
			return fmt.Errorf("insert pool event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetBySignature retrieves the events of one transaction, ordered by pair_index.
func (s *PoolEventStore) GetBySignature(ctx context.Context, signature string) ([]domain.PoolEvent, error) {
	query := `
		SELECT event_id, signature, slot, block_time, program, schema_name, pair_index, token0, token1, detected_at
		FROM pool_events
		WHERE signature = $1
		ORDER BY pair_index ASC
	`

	rows, err := s.pool.Query(ctx, query, signature)
	if err != nil {
		return nil, fmt.Errorf("query pool events by signature: %w", err)
	}
	defer rows.Close()

	return scanPoolEvents(rows)
}

// GetBySlotRange retrieves events within [from, to] (inclusive).
func (s *PoolEventStore) GetBySlotRange(ctx context.Context, from, to uint64) ([]domain.PoolEvent, error) {
	query := `
		SELECT event_id, signature, slot, block_time, program, schema_name, pair_index, token0, token1, detected_at
		FROM pool_events
		WHERE slot >= $1 AND slot <= $2
		ORDER BY slot ASC, signature ASC, pair_index ASC
	`

	rows, err := s.pool.Query(ctx, query, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("query pool events by slot range: %w", err)
	}
	defer rows.Close()

	return scanPoolEvents(rows)
}

func scanPoolEvents(rows pgx.Rows) ([]domain.PoolEvent, error) {
	var events []domain.PoolEvent

	for rows.Next() {
		var (
			e                       domain.PoolEvent
			slot                    int64
			program, token0, token1 string
		)

		err := rows.Scan(
			&e.EventID,
			&e.Signature,
			&slot,
			&e.BlockTime,
			&program,
			&e.Schema,
			&e.PairIndex,
			&token0,
			&token1,
			&e.DetectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pool event row: %w", err)
		}

		e.Slot = uint64(slot)
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
		return nil, fmt.Errorf("iterate pool event rows: %w", err)
	}

	return events, nil
}

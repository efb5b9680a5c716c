package reporting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"solana-pool-watch/internal/domain"
	"solana-pool-watch/internal/storage"
)

// Output file names written by Generator.WriteFiles.
const (
	SummaryFile = "POOL_REPORT.md"
	PoolsFile   = "POOL_EVENTS.csv"
)

// Generator produces summaries from stored pool events.
type Generator struct {
	store storage.PoolEventStore
	now   func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(store storage.PoolEventStore) *Generator {
	return &Generator{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate summarises the pools stored within [from, to].
func (g *Generator) Generate(ctx context.Context, from, to uint64) (*Summary, error) {
	if to < from {
		return nil, fmt.Errorf("%w: slot range %d..%d", storage.ErrInvalidInput, from, to)
	}

	events, err := g.store.GetBySlotRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load pool events: %w", err)
	}

	return BuildSummary(events, from, to, g.now()), nil
}

// WriteFiles renders s as Markdown and CSV into dir.
func (g *Generator) WriteFiles(dir string, s *Summary) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	files := map[string]string{
		SummaryFile: RenderMarkdown(s),
		PoolsFile:   RenderCSV(s.Pools),
	}

	var written []string
	for _, name := range []string{SummaryFile, PoolsFile} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(files[name]), 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// BuildSummary aggregates events into a Summary.
func BuildSummary(events []domain.PoolEvent, from, to uint64, now time.Time) *Summary {
	s := &Summary{
		GeneratedAt: now,
		FromSlot:    from,
		ToSlot:      to,
		TotalPools:  len(events),
	}

	txs := make(map[string]struct{})
	schemas := make(map[string]int)
	tokens := make(map[string]int)

	for _, e := range events {
		txs[e.Signature] = struct{}{}
		schemas[e.Schema]++
		tokens[e.Token0.String()]++
		if !e.Token1.Equals(e.Token0) {
			tokens[e.Token1.String()]++
		}

		if s.FirstSlot == 0 || e.Slot < s.FirstSlot {
			s.FirstSlot = e.Slot
		}
		if e.Slot > s.LastSlot {
			s.LastSlot = e.Slot
		}

		s.Pools = append(s.Pools, PoolRow{
			Slot:      e.Slot,
			Signature: e.Signature,
			PairIndex: e.PairIndex,
			Schema:    e.Schema,
			Token0:    e.Token0.String(),
			Token1:    e.Token1.String(),
			EventID:   e.EventID,
		})
	}
	s.TotalTransactions = len(txs)

	for schema, n := range schemas {
		s.BySchema = append(s.BySchema, SchemaCountRow{Schema: schema, Pools: n})
	}
	sort.Slice(s.BySchema, func(i, j int) bool {
		if s.BySchema[i].Pools != s.BySchema[j].Pools {
			return s.BySchema[i].Pools > s.BySchema[j].Pools
		}
		return s.BySchema[i].Schema < s.BySchema[j].Schema
	})

	for mint, n := range tokens {
		if n > 1 {
			s.RecurringTokens = append(s.RecurringTokens, TokenCountRow{Mint: mint, Pools: n})
		}
	}
	sort.Slice(s.RecurringTokens, func(i, j int) bool {
		if s.RecurringTokens[i].Pools != s.RecurringTokens[j].Pools {
			return s.RecurringTokens[i].Pools > s.RecurringTokens[j].Pools
		}
		return s.RecurringTokens[i].Mint < s.RecurringTokens[j].Mint
	})

	sortPoolRows(s.Pools)
	return s
}

func sortPoolRows(rows []PoolRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Slot != rows[j].Slot {
			return rows[i].Slot < rows[j].Slot
		}
		if rows[i].Signature != rows[j].Signature {
			return rows[i].Signature < rows[j].Signature
		}
		return rows[i].PairIndex < rows[j].PairIndex
	})
}

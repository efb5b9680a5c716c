package reporting

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"solana-pool-watch/internal/domain"
)

const (
	indexColWidth = 11
	keyColWidth   = 44
)

// TableReporter prints each pool as a two-row table.
type TableReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTableReporter creates a table reporter writing to w.
func NewTableReporter(w io.Writer) *TableReporter {
	return &TableReporter{w: w}
}

func (r *TableReporter) Name() string { return "table" }

// Report implements Reporter.
func (r *TableReporter) Report(_ context.Context, events []domain.PoolEvent) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	for _, e := range events {
		renderPool(&sb, e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := io.WriteString(r.w, sb.String())
	return err
}

func renderPool(sb *strings.Builder, e domain.PoolEvent) {
	sb.WriteString("============NEW POOL DETECTED====================\n")
	fmt.Fprintf(sb, "signature: %s  slot: %d  schema: %s\n", e.Signature, e.Slot, e.Schema)

	idx := strings.Repeat("─", indexColWidth+2)
	key := strings.Repeat("─", keyColWidth+2)

	fmt.Fprintf(sb, "┌%s┬%s┐\n", idx, key)
	fmt.Fprintf(sb, "│ %-*s │ %-*s │\n", indexColWidth, "Token_Index", keyColWidth, "Account Public Key")
	fmt.Fprintf(sb, "├%s┼%s┤\n", idx, key)
	fmt.Fprintf(sb, "│ %-*s │ %-*s │\n", indexColWidth, "Token1", keyColWidth, e.Token0.String())
	fmt.Fprintf(sb, "│ %-*s │ %-*s │\n", indexColWidth, "Token2", keyColWidth, e.Token1.String())
	fmt.Fprintf(sb, "└%s┴%s┘\n", idx, key)
}

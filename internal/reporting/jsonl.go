package reporting

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"solana-pool-watch/internal/domain"
)

// JSONLReporter appends one JSON object per pool to a file.
type JSONLReporter struct {
	path string
	mu   sync.Mutex
}

// NewJSONLReporter creates a reporter appending to path.
func NewJSONLReporter(path string) *JSONLReporter {
	return &JSONLReporter{path: path}
}

func (r *JSONLReporter) Name() string { return "jsonl" }

// Report implements Reporter.
func (r *JSONLReporter) Report(_ context.Context, events []domain.PoolEvent) error {
	if len(events) == 0 {
		return nil
	}

	dir := filepath.Dir(r.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal pool event: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write pool event: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

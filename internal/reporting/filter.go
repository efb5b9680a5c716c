package reporting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"solana-pool-watch/internal/domain"
)

// FilterReporter forwards only the events a jq expression accepts.
// The expression sees each event as its JSON object; an event passes when
// the first result is neither false nor null.
type FilterReporter struct {
	query string
	code  *gojq.Code
	next  Reporter
}

// NewFilterReporter compiles query once for the lifetime of the reporter.
func NewFilterReporter(query string, next Reporter) (*FilterReporter, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parse filter %q: %w", query, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", query, err)
	}
	return &FilterReporter{query: query, code: code, next: next}, nil
}

func (r *FilterReporter) Name() string { return r.next.Name() }

// Report implements Reporter.
func (r *FilterReporter) Report(ctx context.Context, events []domain.PoolEvent) error {
	var kept []domain.PoolEvent
	for _, e := range events {
		ok, err := r.match(ctx, e)
		if err != nil {
			return err
		}
		if ok {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return r.next.Report(ctx, kept)
}

func (r *FilterReporter) match(ctx context.Context, e domain.PoolEvent) (bool, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("marshal pool event: %w", err)
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return false, fmt.Errorf("unmarshal pool event: %w", err)
	}

	iter := r.code.RunWithContext(ctx, input)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, fmt.Errorf("run filter %q: %w", r.query, err)
	}
	return v != nil && v != false, nil
}

// Close closes the wrapped reporter if it holds resources.
func (r *FilterReporter) Close() error {
	if c, ok := r.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

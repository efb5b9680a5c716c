// Package reporting renders discovered pools to output sinks.
package reporting

import (
	"context"
	"errors"
	"fmt"

	"solana-pool-watch/internal/domain"
	"solana-pool-watch/internal/observability"
)

// Reporter consumes the pools found in one transaction.
// A failing reporter never changes what the pipeline does next.
type Reporter interface {
	Report(ctx context.Context, events []domain.PoolEvent) error
	Name() string
}

// Multi fans events out to every sink. One sink failing does not stop the
// others; failures are joined and counted per sink.
type Multi struct {
	sinks   []Reporter
	metrics *observability.Metrics
}

// NewMulti creates a fan-out reporter. metrics may be nil.
func NewMulti(metrics *observability.Metrics, sinks ...Reporter) *Multi {
	return &Multi{sinks: sinks, metrics: metrics}
}

func (m *Multi) Name() string { return "multi" }

// Report implements Reporter.
func (m *Multi) Report(ctx context.Context, events []domain.PoolEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Report(ctx, events); err != nil {
			m.metrics.RecordReportError(s.Name())
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solana-pool-watch/internal/discovery"
	"solana-pool-watch/internal/domain"
	"solana-pool-watch/internal/idhash"
	"solana-pool-watch/internal/observability"
	"solana-pool-watch/internal/reporting"
	"solana-pool-watch/internal/solana"
)

const maxRetryBackoff = 30 * time.Second

// Processor turns one signature into reported pool events:
// resolve, extract, report.
type Processor struct {
	resolver       solana.TransactionResolver
	registry       *discovery.Registry
	reporter       reporting.Reporter
	program        solanago.PublicKey
	schemaName     string
	resolveTimeout time.Duration
	maxRetries     int
	retryBackoff   time.Duration
	skipFailed     bool
	logger         *zap.Logger
	metrics        *observability.Metrics
	now            func() time.Time
}

// ProcessorOptions contains configuration for creating a Processor.
type ProcessorOptions struct {
	Resolver       solana.TransactionResolver
	Registry       *discovery.Registry // Default: discovery.NewRegistry()
	Reporter       reporting.Reporter
	Program        solanago.PublicKey
	ResolveTimeout time.Duration // 0 disables the per-call timeout
	MaxRetries     int           // transport retries after the first attempt
	RetryBackoff   time.Duration // Default: 500ms, doubled per retry
	SkipFailed     bool
	Logger         *zap.Logger
	Metrics        *observability.Metrics
}

// NewProcessor creates a Processor. The program must be registered.
func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	if opts.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if opts.Reporter == nil {
		return nil, errors.New("reporter is required")
	}

	registry := opts.Registry
	if registry == nil {
		registry = discovery.NewRegistry()
	}
	schema, ok := registry.Schema(opts.Program)
	if !ok {
		return nil, fmt.Errorf("%w: %s", discovery.ErrUnknownProgram, opts.Program)
	}

	retryBackoff := opts.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 500 * time.Millisecond
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		resolver:       opts.Resolver,
		registry:       registry,
		reporter:       opts.Reporter,
		program:        opts.Program,
		schemaName:     schema.Name(),
		resolveTimeout: opts.ResolveTimeout,
		maxRetries:     opts.MaxRetries,
		retryBackoff:   retryBackoff,
		skipFailed:     opts.SkipFailed,
		logger:         logger,
		metrics:        opts.Metrics,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Process resolves signature, extracts its pools and reports them.
// received is when the notification arrived and feeds the latency metric.
// A transaction without pools returns (nil, nil). Errors are classified by
// solana.ErrNotFound, solana.ErrTransport, discovery.ErrMalformedInstruction,
// ErrFailedTransaction and ErrReport; on ErrReport the events are returned too.
func (p *Processor) Process(ctx context.Context, signature string, received time.Time) ([]domain.PoolEvent, error) {
	tx, err := p.resolve(ctx, signature)
	if err != nil {
		return nil, err
	}

	if p.skipFailed && tx.Failed() {
		return nil, fmt.Errorf("%w: %v", ErrFailedTransaction, tx.Meta.Err)
	}

	pairs, err := p.registry.Extract(tx, p.program)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	events := p.buildEvents(tx, pairs)
	p.metrics.RecordPools(p.schemaName, len(events), time.Since(received).Seconds())

	if err := p.reporter.Report(ctx, events); err != nil {
		return events, fmt.Errorf("%w: %w", ErrReport, err)
	}
	return events, nil
}

// resolve calls the resolver, retrying transport errors with exponential backoff.
func (p *Processor) resolve(ctx context.Context, signature string) (*solana.Transaction, error) {
	backoff := p.retryBackoff
	for attempt := 0; ; attempt++ {
		tx, err := p.resolveOnce(ctx, signature)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, solana.ErrTransport) || attempt >= p.maxRetries || ctx.Err() != nil {
			return nil, err
		}

		p.metrics.RecordResolveRetry()
		p.logger.Debug("retrying getTransaction",
			zap.String("signature", signature),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", solana.ErrTransport, ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

func (p *Processor) resolveOnce(ctx context.Context, signature string) (*solana.Transaction, error) {
	if p.resolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.resolveTimeout)
		defer cancel()
	}

	start := time.Now()
	tx, err := p.resolver.GetTransaction(ctx, signature)
	p.metrics.RecordRPCLatency("getTransaction", time.Since(start).Seconds())
	return tx, err
}

func (p *Processor) buildEvents(tx *solana.Transaction, pairs []domain.PoolTokenPair) []domain.PoolEvent {
	detected := p.now()
	program := p.program.String()

	events := make([]domain.PoolEvent, len(pairs))
	for i, pair := range pairs {
		events[i] = domain.PoolEvent{
			EventID:    idhash.ComputePoolEventID(tx.Signature, program, i),
			Signature:  tx.Signature,
			Slot:       tx.Slot,
			BlockTime:  tx.BlockTime,
			Program:    p.program,
			Schema:     p.schemaName,
			PairIndex:  i,
			Token0:     pair.Token0,
			Token1:     pair.Token1,
			DetectedAt: detected,
		}
	}
	return events
}

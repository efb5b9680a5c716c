package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solana-pool-watch/internal/dedupe"
	"solana-pool-watch/internal/discovery"
	"solana-pool-watch/internal/observability"
	"solana-pool-watch/internal/solana"
)

// Runner consumes the log subscription of one program and feeds every new
// signature through a Processor.
type Runner struct {
	subscriber      solana.WSClient
	deduper         dedupe.Deduplicator
	registry        *discovery.Registry
	processor       *Processor
	program         solanago.PublicKey
	commitment      solana.Commitment
	concurrency     int
	skipFailed      bool
	requireLogMatch bool
	logger          *zap.Logger
	metrics         *observability.Metrics
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Subscriber      solana.WSClient
	Deduper         dedupe.Deduplicator // Default: unbounded in-memory set
	Processor       *Processor
	Registry        *discovery.Registry // Default: the processor's registry
	Program         solanago.PublicKey  // Default: the processor's program
	Commitment      solana.Commitment // Default: finalized
	Concurrency     int               // Default: 1 (sequential)
	SkipFailed      bool              // drop notifications whose err is set
	RequireLogMatch bool              // drop notifications whose logs do not look like a pool creation
	Logger          *zap.Logger
	Metrics         *observability.Metrics
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Subscriber == nil {
		return nil, errors.New("subscriber is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("processor is required")
	}

	deduper := opts.Deduper
	if deduper == nil {
		deduper = dedupe.NewMemory(0)
	}

	program := opts.Program
	if program.IsZero() {
		program = opts.Processor.program
	}
	if !program.Equals(opts.Processor.program) {
		return nil, fmt.Errorf("runner program %s does not match processor program %s", program, opts.Processor.program)
	}

	registry := opts.Registry
	if registry == nil {
		registry = opts.Processor.registry
	}
	if _, ok := registry.Schema(program); !ok {
		return nil, fmt.Errorf("%w: %s", discovery.ErrUnknownProgram, program)
	}

	commitment := opts.Commitment
	if commitment == "" {
		commitment = solana.CommitmentFinalized
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		subscriber:      opts.Subscriber,
		deduper:         deduper,
		registry:        registry,
		processor:       opts.Processor,
		program:         program,
		commitment:      commitment,
		concurrency:     concurrency,
		skipFailed:      opts.SkipFailed,
		requireLogMatch: opts.RequireLogMatch,
		logger:          logger,
		metrics:         opts.Metrics,
	}, nil
}

// Run subscribes and processes notifications until the stream ends or ctx is
// cancelled. A failed subscription, at start or when it cannot be restored
// after a reconnect, is returned as is (wrapping solana.ErrSubscription). The
// end of the stream returns nil; cancellation returns ctx.Err(). In-flight
// signatures are finished before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	filter := solana.LogsFilter{
		Mentions:   []string{r.program.String()},
		Commitment: r.commitment,
	}

	sub, err := r.subscriber.SubscribeLogs(ctx, filter)
	if err != nil {
		return err
	}
	defer r.unsubscribe(sub)

	r.logger.Info("subscribed to program logs",
		zap.String("program", r.program.String()),
		zap.String("commitment", string(r.commitment)),
		zap.Uint64("subscription", sub.ID()),
		zap.Int("concurrency", r.concurrency),
	)

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for {
		select {
		case <-ctx.Done():
			g.Wait()
			return ctx.Err()

		case <-sub.Done():
			g.Wait()
			if err := sub.Err(); err != nil {
				r.logger.Error("subscription lost", zap.Error(err))
				return err
			}
			r.logger.Info("subscription ended")
			return nil

		case n, ok := <-sub.Notifications():
			if !ok {
				g.Wait()
				r.logger.Info("notification stream closed")
				return nil
			}
			if !r.admit(ctx, n) {
				continue
			}
			received := time.Now()
			g.Go(func() error {
				r.handle(ctx, n, received)
				return nil
			})
		}
	}
}

// admit applies the dedupe and notification-level filters.
func (r *Runner) admit(ctx context.Context, n solana.LogNotification) bool {
	r.metrics.RecordNotification(n.Slot)

	first, err := r.deduper.Observe(ctx, n.Signature)
	if err != nil {
		// Without a verdict the signature is processed; sinks key on event id.
		r.metrics.RecordResolveError("dedupe")
		r.logger.Error("dedupe check failed",
			zap.String("signature", n.Signature),
			zap.Error(err),
		)
	} else if !first {
		r.metrics.RecordDuplicate()
		r.logger.Debug("duplicate notification dropped", zap.String("signature", n.Signature))
		return false
	}

	if r.skipFailed && n.Err != nil {
		r.metrics.RecordFailedTx()
		r.logger.Debug("failed transaction skipped",
			zap.String("signature", n.Signature),
			zap.Any("err", n.Err),
		)
		return false
	}

	if r.requireLogMatch && !r.registry.MatchLogs(r.program, n.Logs) {
		return false
	}
	return true
}

// handle processes one signature. Every error is local to the signature.
func (r *Runner) handle(ctx context.Context, n solana.LogNotification, received time.Time) {
	log := r.logger.With(zap.String("signature", n.Signature), zap.Uint64("slot", n.Slot))

	events, err := r.processor.Process(ctx, n.Signature, received)
	switch {
	case err == nil:
		if len(events) > 0 {
			log.Info("pools detected", zap.Int("pools", len(events)))
		}

	case errors.Is(err, solana.ErrNotFound):
		r.metrics.RecordResolveError("not_found")
		log.Warn("transaction not found, skipping", zap.Error(err))

	case errors.Is(err, solana.ErrTransport):
		if ctx.Err() != nil {
			return
		}
		r.metrics.RecordResolveError("transport")
		log.Error("transaction lookup failed, skipping", zap.Error(err))

	case errors.Is(err, discovery.ErrMalformedInstruction):
		r.metrics.RecordMalformed()
		log.Warn("malformed pool instruction, skipping transaction", zap.Error(err))

	case errors.Is(err, ErrFailedTransaction):
		r.metrics.RecordFailedTx()
		log.Debug("failed transaction skipped", zap.Error(err))

	case errors.Is(err, ErrReport):
		log.Warn("pools detected but reporting failed",
			zap.Int("pools", len(events)),
			zap.Error(err),
		)

	default:
		log.Error("processing failed", zap.Error(err))
	}
}

func (r *Runner) unsubscribe(sub *solana.Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.subscriber.Unsubscribe(ctx, sub); err != nil {
		r.logger.Debug("unsubscribe failed", zap.Error(err))
	}
}

package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"solana-pool-watch/internal/domain"
)

const (
	// DefaultStreamName is the JetStream stream pool events are stored in.
	DefaultStreamName = "POOLS"
	// DefaultSubjectPrefix is prepended to the program id to form the subject.
	DefaultSubjectPrefix = "pools"
	// DefaultStreamRetention is how long pool events are retained.
	DefaultStreamRetention = 7 * 24 * time.Hour
)

// NATSConfig configures the NATS reporter.
type NATSConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
}

// NATSReporter publishes pool events to JetStream, one message per pool on
// "<prefix>.<program>". The event id is the message id, so the stream's
// duplicate window absorbs re-publishes from several watchers.
type NATSReporter struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	logger *zap.Logger
}

// NewNATSReporter connects to NATS and ensures the stream exists.
func NewNATSReporter(ctx context.Context, cfg NATSConfig, logger *zap.Logger) (*NATSReporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStreamName
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultStreamRetention
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("pool-watch"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Newly created liquidity pools",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	logger.Info("NATS reporter initialized",
		zap.String("url", cfg.URL),
		zap.String("stream", cfg.Stream),
	)

	return &NATSReporter{
		nc:     nc,
		js:     js,
		prefix: cfg.SubjectPrefix,
		logger: logger,
	}, nil
}

func (r *NATSReporter) Name() string { return "nats" }

// Subject returns the subject events of program are published on.
func (r *NATSReporter) Subject(program string) string {
	return r.prefix + "." + program
}

// Report implements Reporter.
func (r *NATSReporter) Report(ctx context.Context, events []domain.PoolEvent) error {
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal pool event: %w", err)
		}

		subject := r.Subject(e.Program.String())
		ack, err := r.js.Publish(ctx, subject, data, jetstream.WithMsgID(e.EventID))
		if err != nil {
			return fmt.Errorf("publish %s: %w", e.EventID, err)
		}

		r.logger.Debug("published pool event",
			zap.String("subject", subject),
			zap.String("signature", e.Signature),
			zap.Bool("duplicate", ack.Duplicate),
		)
	}
	return nil
}

// Close drains and closes the connection.
func (r *NATSReporter) Close() error {
	if r.nc == nil {
		return nil
	}
	return r.nc.Drain()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"solana-pool-watch/internal/config"
	"solana-pool-watch/internal/dedupe"
	"solana-pool-watch/internal/discovery"
	"solana-pool-watch/internal/ingestion"
	"solana-pool-watch/internal/observability"
	"solana-pool-watch/internal/reporting"
	"solana-pool-watch/internal/solana"
	chstore "solana-pool-watch/internal/storage/clickhouse"
	"solana-pool-watch/internal/storage/migrations"
	pgstore "solana-pool-watch/internal/storage/postgres"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	program := solanago.MustPublicKeyFromBase58(cfg.Program)
	commitment, _ := solana.ParseCommitment(cfg.Commitment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("pool_watch", registry)

	rpc := solana.NewHTTPClient(cfg.RPCEndpoint, solana.WithMaxRetries(0))

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, registry, rpc, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	deduper, closeDeduper, err := newDeduper(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDeduper()

	reporter, err := buildReporter(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Warn("close reporters", zap.Error(err))
		}
	}()

	pools := discovery.NewRegistry()
	processor, err := ingestion.NewProcessor(ingestion.ProcessorOptions{
		Resolver:       rpc,
		Registry:       pools,
		Reporter:       reporter,
		Program:        program,
		ResolveTimeout: cfg.ResolveTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
		SkipFailed:     cfg.SkipFailed,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		return err
	}

	ws, err := solana.NewWSClient(ctx, cfg.WSEndpoint, &solana.WSClientConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer ws.Close()

	runner, err := ingestion.NewRunner(ingestion.RunnerOptions{
		Subscriber:      ws,
		Deduper:         deduper,
		Processor:       processor,
		Registry:        pools,
		Program:         program,
		Commitment:      commitment,
		Concurrency:     cfg.Concurrency,
		SkipFailed:      cfg.SkipFailed,
		RequireLogMatch: cfg.RequireLogs,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return err
	}

	logger.Info("watch start",
		zap.String("ws", cfg.WSEndpoint),
		zap.String("rpc", cfg.RPCEndpoint),
		zap.String("program", program.String()),
		zap.String("commitment", string(commitment)),
		zap.Int("concurrency", cfg.Concurrency),
		zap.String("dedupe", cfg.Dedupe),
		zap.Strings("sinks", cfg.Sinks),
	)

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("watch stopped", zap.Error(err))
		return err
	}

	logger.Info("watch stopped")
	return nil
}

func newDeduper(ctx context.Context, cfg config.Config) (dedupe.Deduplicator, func(), error) {
	if cfg.Dedupe != config.DedupeRedis {
		return dedupe.NewMemory(cfg.DedupeCapacity), func() {}, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	d, err := dedupe.NewRedis(client, cfg.RedisPrefix)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return d, func() { _ = client.Close() }, nil
}

type closingReporter interface {
	reporting.Reporter
	Close() error
}

// buildReporter assembles the configured sinks behind the optional filter
// and async queue.
func buildReporter(ctx context.Context, cfg config.Config, logger *zap.Logger, metrics *observability.Metrics) (closingReporter, error) {
	var sinks []reporting.Reporter
	fail := func(err error) (closingReporter, error) {
		_ = reporting.NewMulti(nil, sinks...).Close()
		return nil, err
	}

	for _, name := range cfg.Sinks {
		switch name {
		case config.SinkTable:
			sinks = append(sinks, reporting.NewTableReporter(os.Stdout))
		case config.SinkJSONL:
			sinks = append(sinks, reporting.NewJSONLReporter(cfg.JSONLPath))
		case config.SinkNATS:
			r, err := reporting.NewNATSReporter(ctx, reporting.NATSConfig{
				URL:           cfg.NATSURL,
				Stream:        cfg.NATSStream,
				SubjectPrefix: cfg.NATSSubject,
			}, logger)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, r)
		case config.SinkPostgres:
			pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
			if err != nil {
				return fail(fmt.Errorf("connect postgres: %w", err))
			}
			applied, err := migrations.RunPostgresMigrations(ctx, pool)
			if err != nil {
				pool.Close()
				return fail(err)
			}
			logger.Info("postgres migrations applied", zap.Strings("files", applied))
			sinks = append(sinks, reporting.NewStoreReporter(name, pgstore.NewPoolEventStore(pool), func() error {
				pool.Close()
				return nil
			}))
		case config.SinkClickHouse:
			conn, applied, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
			if err != nil {
				return fail(err)
			}
			logger.Info("clickhouse migrations applied", zap.Strings("files", applied))
			sinks = append(sinks, reporting.NewStoreReporter(name, chstore.NewPoolEventStore(conn), conn.Close))
		default:
			return fail(fmt.Errorf("unknown sink %q", name))
		}
	}

	var out closingReporter = reporting.NewMulti(metrics, sinks...)
	if cfg.Filter != "" {
		filtered, err := reporting.NewFilterReporter(cfg.Filter, out)
		if err != nil {
			return fail(fmt.Errorf("filter: %w", err))
		}
		out = filtered
	}
	if cfg.AsyncBuffer > 0 {
		out = reporting.NewAsyncReporter(out, cfg.AsyncBuffer, cfg.ResolveTimeout, logger, metrics)
	}
	return out, nil
}

func newMetricsMux(registry *prometheus.Registry, rpc solana.RPCClient) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.HandlerFor(registry))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		slot, err := rpc.GetSlot(ctx)
		if err != nil {
			http.Error(w, "rpc unavailable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "ok slot=%d\n", slot)
	})
	return mux
}

func startMetricsServer(addr string, registry *prometheus.Registry, rpc solana.RPCClient, logger *zap.Logger) *http.Server {
	srv := &http.Server{Addr: addr, Handler: newMetricsMux(registry, rpc), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}

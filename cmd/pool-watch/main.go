package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"solana-pool-watch/internal/config"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "pool-watch",
		Short:        "Watch Solana for new AMM liquidity pools",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Subscribe to program logs and report new pools",
		RunE:  runWatch,
	}
	addSourceFlags(runCmd.Flags())
	runCmd.Flags().String("ws-endpoint", "wss://api.mainnet-beta.solana.com", "Solana WebSocket endpoint")
	runCmd.Flags().String("commitment", "finalized", "commitment level (processed, confirmed, finalized)")
	runCmd.Flags().Int("concurrency", 1, "signatures processed in parallel")
	runCmd.Flags().Bool("require-logs", false, "only resolve signatures whose logs look like a pool creation")
	runCmd.Flags().String("dedupe", config.DedupeMemory, "dedupe backend (memory, redis)")
	runCmd.Flags().Int("dedupe-capacity", 0, "max signatures kept by the memory backend, 0 means unbounded")
	runCmd.Flags().String("redis-addr", "localhost:6379", "Redis address for redis dedupe")
	runCmd.Flags().String("redis-password", "", "Redis password")
	runCmd.Flags().Int("redis-db", 0, "Redis database")
	runCmd.Flags().String("redis-prefix", "poolwatch:dedupe:", "Redis key prefix")
	runCmd.Flags().StringSlice("sinks", []string{config.SinkTable}, "sinks (table, jsonl, nats, postgres, clickhouse)")
	runCmd.Flags().String("filter", "", "jq expression events must satisfy before reaching the sinks")
	runCmd.Flags().Int("async-buffer", 0, "queue batches for sinks in the background, 0 reports inline")
	runCmd.Flags().String("jsonl-path", "./data/pools.jsonl", "output JSONL path")
	runCmd.Flags().String("nats-url", "nats://localhost:4222", "NATS server URL")
	runCmd.Flags().String("nats-stream", "POOLS", "JetStream stream name")
	runCmd.Flags().String("nats-subject", "pools", "JetStream subject prefix")
	runCmd.Flags().String("postgres-dsn", "", "PostgreSQL connection string")
	runCmd.Flags().String("clickhouse-dsn", "", "ClickHouse connection string")
	runCmd.Flags().String("metrics-addr", "", "address for /metrics and /health, empty disables")
	root.AddCommand(runCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect <signature>",
		Short: "Resolve one transaction and print the pools it creates",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	addSourceFlags(inspectCmd.Flags())
	root.AddCommand(inspectCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("postgres-dsn", "", "PostgreSQL connection string")
	migrateCmd.Flags().String("clickhouse-dsn", "", "ClickHouse connection string")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(migrateCmd)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Write a Markdown and CSV summary of stored pools",
		RunE:  runReport,
	}
	reportCmd.Flags().Uint64("from-slot", 0, "first slot (inclusive)")
	reportCmd.Flags().Uint64("to-slot", 0, "last slot (inclusive), 0 means latest")
	reportCmd.Flags().String("out-dir", "docs", "output directory")
	reportCmd.Flags().String("postgres-dsn", "", "PostgreSQL connection string")
	reportCmd.Flags().String("clickhouse-dsn", "", "ClickHouse connection string, used when postgres-dsn is empty")
	reportCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(reportCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// addSourceFlags registers the flags shared by every command that resolves
// transactions.
func addSourceFlags(fs *pflag.FlagSet) {
	fs.String("rpc-endpoint", "https://api.mainnet-beta.solana.com", "Solana RPC endpoint")
	fs.String("program", config.DefaultProgram, "AMM program to watch")
	fs.Duration("resolve-timeout", 30*time.Second, "per-call getTransaction timeout, 0 disables")
	fs.Int("max-retries", 3, "transport retries per signature")
	fs.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff, doubled per retry")
	fs.Bool("skip-failed", true, "ignore transactions that failed on chain")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	return config.Load(cfgFile, cmd.Flags())
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"solana-pool-watch/internal/reporting"
	"solana-pool-watch/internal/storage"
	chstore "solana-pool-watch/internal/storage/clickhouse"
	pgstore "solana-pool-watch/internal/storage/postgres"
)

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	fromSlot, _ := cmd.Flags().GetUint64("from-slot")
	toSlot, _ := cmd.Flags().GetUint64("to-slot")
	outDir, _ := cmd.Flags().GetString("out-dir")
	if toSlot == 0 {
		toSlot = math.MaxInt64
	}

	ctx := context.Background()

	var store storage.PoolEventStore
	switch {
	case cfg.PostgresDSN != "":
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		store = pgstore.NewPoolEventStore(pool)
	case cfg.ClickHouseDSN != "":
		conn, err := chstore.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("connect clickhouse: %w", err)
		}
		defer conn.Close()
		store = chstore.NewPoolEventStore(conn)
	default:
		return errors.New("postgres-dsn or clickhouse-dsn is required")
	}

	gen := reporting.NewGenerator(store)
	summary, err := gen.Generate(ctx, fromSlot, toSlot)
	if err != nil {
		return err
	}

	written, err := gen.WriteFiles(outDir, summary)
	if err != nil {
		return err
	}

	logger.Info("report written",
		zap.Uint64("from_slot", fromSlot),
		zap.Uint64("to_slot", toSlot),
		zap.Int("pools", summary.TotalPools),
		zap.Strings("files", written),
	)
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"solana-pool-watch/internal/ingestion"
	"solana-pool-watch/internal/reporting"
	"solana-pool-watch/internal/solana"
)

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	program, err := solanago.PublicKeyFromBase58(cfg.Program)
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	processor, err := ingestion.NewProcessor(ingestion.ProcessorOptions{
		Resolver:       solana.NewHTTPClient(cfg.RPCEndpoint, solana.WithMaxRetries(0)),
		Reporter:       reporting.NewTableReporter(cmd.OutOrStdout()),
		Program:        program,
		ResolveTimeout: cfg.ResolveTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
		SkipFailed:     cfg.SkipFailed,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	events, err := processor.Process(ctx, args[0], time.Now())
	switch {
	case errors.Is(err, solana.ErrNotFound):
		return fmt.Errorf("transaction %s not found", args[0])
	case errors.Is(err, ingestion.ErrFailedTransaction):
		fmt.Fprintf(cmd.OutOrStdout(), "%s failed on chain, rerun with --skip-failed=false to inspect it anyway\n", args[0])
		return nil
	case err != nil:
		return err
	}

	if len(events) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no %s pools created by %s\n", program, args[0])
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sweepstake-bot/internal/config"
	"sweepstake-bot/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sweepstake-bot",
		Short:         "Telegram sweepstake bot drawing winners from Ethereum block hashes",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runBot,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bot, the settlement loop and the ops server",
			RunE:  runBot,
		},
		&cobra.Command{
			Use:   "settle",
			Short: "Run a single settlement pass and exit",
			RunE:  runSettle,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE:  runMigrate,
		},
	)
	return root
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runBot(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	cfg := config.LoadConfig()
	if cfg.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	tgBot, err := a.telegram()
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tgBot.Start(ctx) })
	g.Go(func() error { return a.settler(tgBot).Start(ctx) })
	g.Go(func() error { return a.ops().Run(ctx, cfg.OpsAddr) })

	logger.Info("service started", zap.Int("admins", len(cfg.AdminIDs)))
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("service stopped", zap.Error(err))
		return err
	}
	logger.Info("service stopped")
	return nil
}

func runSettle(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	cfg := config.LoadConfig()
	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	report, ran := a.settler(logNotifier{logger: logger}).RunOnce(ctx)
	if !ran {
		return fmt.Errorf("another settlement pass is running")
	}
	if report == nil {
		return fmt.Errorf("settlement pass failed")
	}
	logger.Info("settlement pass finished",
		zap.Strings("stopped", report.Stopped),
		zap.Strings("struck", report.Struck),
		zap.Strings("ended", report.Ended),
		zap.Int("deferred", len(report.Deferred)))
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg := config.LoadConfig()
	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer func() { _ = logger.Sync() }()

	// Connecting applies the schema.
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("migration failed", zap.Error(err))
		return err
	}
	a.Close()
	logger.Info("database migrated")
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sweepstake-bot/internal/bot"
	"sweepstake-bot/internal/chain"
	"sweepstake-bot/internal/config"
	"sweepstake-bot/internal/database"
	"sweepstake-bot/internal/ledger"
	"sweepstake-bot/internal/lottery"
	"sweepstake-bot/internal/metrics"
	"sweepstake-bot/internal/server"
	"sweepstake-bot/internal/settlement"
	"sweepstake-bot/internal/tickets"
	"sweepstake-bot/internal/utils"
	"sweepstake-bot/internal/worker"
)

// app holds the wired core shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *gorm.DB
	rdb       redis.UniversalClient
	metrics   *metrics.Metrics
	ledger    *ledger.Ledger
	lotteries *lottery.Registry
	issuer    *tickets.Issuer
	engine    *settlement.Engine
	lock      worker.Locker

	runner *worker.Settler
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := database.ConnectPostgres(cfg, logger)
	if err != nil {
		return nil, err
	}
	client, err := database.ConnectRedis(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	oracle, err := newOracle(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db, metrics: metrics.Default()}
	a.lock = worker.NewLocalLock()
	if client != nil {
		a.rdb = client
		a.lock = worker.NewRedisLock(client, "", 0)
	}
	a.ledger = ledger.New(db)
	a.lotteries = lottery.NewRegistry(db, oracle, nil)
	a.issuer = tickets.NewIssuer(db, a.lotteries, cfg.IsAdmin, tickets.WithMetrics(a.metrics))
	a.engine = settlement.NewEngine(db, a.lotteries, oracle, settlement.Config{
		StopSalesLead: cfg.StopSalesLead,
	}, logger.Named("settlement"),
		settlement.WithMetrics(a.metrics),
		settlement.WithConfirmations(cfg.BlockConfirmations))
	return a, nil
}

// newOracle takes ETAs from Etherscan and, when a node is configured, hashes from
// the node.
func newOracle(cfg *config.Config) (chain.Oracle, error) {
	etherscan := chain.NewEtherscan(cfg.EtherscanURL, cfg.EtherscanKey, cfg.EtherscanRPS)
	if cfg.EthRPCURL == "" {
		return etherscan, nil
	}
	hashes, err := chain.DialRPC(cfg.EthRPCURL)
	if err != nil {
		return nil, fmt.Errorf("eth rpc: %w", err)
	}
	return chain.Composite{ETA: etherscan, Hashes: hashes}, nil
}

// settler returns the settlement loop announcing through notifier. It is built once.
func (a *app) settler(notifier worker.Notifier) *worker.Settler {
	if a.runner == nil {
		a.runner = worker.NewSettler(a.engine, notifier, a.lock, a.cfg.SettlementInterval, a.logger.Named("worker"), a.metrics)
	}
	return a.runner
}

func (a *app) pendingStore() tickets.PendingStore {
	if a.rdb != nil {
		return tickets.NewRedisPendingStore(a.rdb)
	}
	return tickets.NewMemoryPendingStore(nil)
}

// telegram builds the bot. The /settle command shares the loop's lock, so a
// manual pass never overlaps a scheduled one.
func (a *app) telegram() (*bot.Bot, error) {
	renderer := bot.Renderer{ExplorerBaseURL: a.cfg.ExplorerBaseURL}
	var tgBot *bot.Bot
	service := bot.NewService(bot.Deps{
		Ledger:    a.ledger,
		Lotteries: a.lotteries,
		Issuer:    a.issuer,
		Pending:   a.pendingStore(),
		Settle: func(ctx context.Context) (*settlement.Report, bool) {
			return a.settler(tgBot).RunOnce(ctx)
		},
		IsAdmin:      a.cfg.IsAdmin,
		GrantTimeout: a.cfg.GrantTimeout,
		WithdrawMin:  a.cfg.WithdrawMin,
		Renderer:     renderer,
		Logger:       a.logger.Named("bot"),
	})
	tgBot, err := bot.NewBot(a.cfg.BotToken, service, a.ledger, renderer, a.cfg.AnnounceChatID, a.logger.Named("telegram"))
	if err != nil {
		return nil, err
	}
	a.settler(tgBot)
	return tgBot, nil
}

func (a *app) ops() *server.Server {
	allowed, err := utils.ParseCIDRs(a.cfg.OpsAllowedCIDRs)
	if err != nil {
		a.logger.Warn("invalid OPS_ALLOWED_CIDRS, allowing loopback only", zap.Error(err))
		allowed, _ = utils.ParseCIDRs([]string{"127.0.0.0/8", "::1/128"})
	}
	return server.New(a.db, a.rdb, allowed, a.logger.Named("ops"))
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// logNotifier logs announcements when no chat transport is running.
type logNotifier struct {
	logger *zap.Logger
}

func (n logNotifier) Notify(_ context.Context, note settlement.Notification) error {
	n.logger.Info("settlement notification",
		zap.String("kind", string(note.Kind)),
		zap.String("lottery", note.Lottery),
		zap.Int64s("winning_tickets", note.WinningTickets),
		zap.Int("winners", len(note.Winners)))
	return nil
}

// Package settlement drives lotteries through stop-sales, strike and payout.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sweepstake-bot/internal/chain"
	"sweepstake-bot/internal/draw"
	"sweepstake-bot/internal/ledger"
	"sweepstake-bot/internal/lottery"
	"sweepstake-bot/internal/metrics"
	"sweepstake-bot/internal/models"
)

const (
	// StopSalesBeforeStart closes sales this long before the estimated strike date.
	StopSalesBeforeStart = 2 * time.Hour
	// BlockConfirmations is how many blocks must follow the strike block before drawing.
	BlockConfirmations = 12
)

type Config struct {
	StopSalesLead time.Duration
}

// Engine runs settlement passes. A pass is safe to repeat: every step re-checks
// the lottery status under a row lock before changing it.
type Engine struct {
	db        *gorm.DB
	lotteries *lottery.Registry
	oracle    chain.Oracle
	cfg       Config
	confirms  uint64
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithConfirmations overrides BlockConfirmations. Zero draws as soon as the
// strike block is mined.
func WithConfirmations(n uint64) Option {
	return func(e *Engine) { e.confirms = n }
}

func NewEngine(db *gorm.DB, lotteries *lottery.Registry, oracle chain.Oracle, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.StopSalesLead <= 0 {
		cfg.StopSalesLead = StopSalesBeforeStart
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{db: db, lotteries: lotteries, oracle: oracle, cfg: cfg, confirms: BlockConfirmations, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunPass performs one stop-sales, strike and payout sweep. Failures of a single
// lottery are logged and reported in Report.Deferred; the returned error is set
// only when a sweep could not run at all.
func (e *Engine) RunPass(ctx context.Context) (*Report, error) {
	report := &Report{}

	stopped, err := e.lotteries.StopSalesDue(ctx, e.now().Add(e.cfg.StopSalesLead))
	if err != nil {
		return nil, fmt.Errorf("settlement: stop-sales sweep: %w", err)
	}
	report.Stopped = stopped
	e.metrics.RecordTransition(string(models.StatusStopSales), len(stopped))
	for _, name := range stopped {
		e.logger.Info("sales stopped", zap.String("lottery", name))
		report.Notifications = append(report.Notifications, Notification{Kind: KindSalesStopped, Lottery: name})
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	pending, err := e.lotteries.ListByStatus(ctx, models.StatusStopSales)
	if err != nil {
		return report, fmt.Errorf("settlement: list stop-sales lotteries: %w", err)
	}
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		e.strike(ctx, &pending[i], report)
	}

	striked, err := e.lotteries.ListByStatus(ctx, models.StatusStriked)
	if err != nil {
		return report, fmt.Errorf("settlement: list striked lotteries: %w", err)
	}
	for i := range striked {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		e.payout(ctx, &striked[i], report)
	}
	return report, nil
}

func (e *Engine) strike(ctx context.Context, l *models.Lottery, report *Report) {
	log := e.logger.With(zap.String("lottery", l.Name), zap.Uint64("block", l.StrikeEthBlock))

	confirmed, err := chain.BlockConfirmed(ctx, e.oracle, l.StrikeEthBlock, e.confirms)
	if err != nil {
		log.Warn("strike deferred: confirmation check failed", zap.Error(err))
		report.deferLottery(l.Name, StageStrike, err)
		return
	}
	if !confirmed {
		log.Debug("strike block not confirmed yet")
		return
	}

	hash, err := e.oracle.HashForBlock(ctx, l.StrikeEthBlock)
	if err != nil {
		log.Warn("strike deferred: block hash unavailable", zap.Error(err))
		report.deferLottery(l.Name, StageStrike, err)
		return
	}
	seed, err := draw.SeedFromHash(hash)
	if err != nil {
		log.Error("strike deferred: unusable block hash", zap.String("hash", hash), zap.Error(err))
		report.deferLottery(l.Name, StageStrike, err)
		return
	}

	var winning []int64
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reg := e.lotteries.WithTx(tx)
		locked, err := reg.GetForUpdate(ctx, l.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.StatusStopSales {
			return errStale
		}
		winning, err = e.drawNumbers(ctx, reg, locked, seed)
		if err != nil {
			return err
		}
		return reg.MarkStriked(ctx, locked.ID, winning, hash)
	})
	if errors.Is(err, errStale) {
		return
	}
	if err != nil {
		log.Error("strike failed", zap.Error(err))
		report.deferLottery(l.Name, StageStrike, err)
		return
	}

	e.metrics.RecordTransition(string(models.StatusStriked), 1)
	log.Info("lottery striked", zap.String("hash", hash), zap.Int64s("winning_tickets", winning))
	report.Struck = append(report.Struck, l.Name)
	report.Notifications = append(report.Notifications, Notification{
		Kind:           KindStriked,
		Lottery:        l.Name,
		Block:          l.StrikeEthBlock,
		BlockHash:      hash,
		WinningTickets: winning,
	})
}

func (e *Engine) drawNumbers(ctx context.Context, reg *lottery.Registry, l *models.Lottery, seed []byte) ([]int64, error) {
	if l.GuaranteedWinner {
		sold, err := reg.SoldNumbers(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		if len(sold) > 0 {
			return draw.SelectWinningTicketsGuaranteed(seed, sold, l.NumberOfWinningTickets)
		}
	}
	return draw.SelectWinningTickets(seed, l.TicketMinNumber, l.TicketMaxNumber, l.NumberOfWinningTickets)
}

func (e *Engine) payout(ctx context.Context, l *models.Lottery, report *Report) {
	log := e.logger.With(zap.String("lottery", l.Name))

	var note Notification
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reg := e.lotteries.WithTx(tx)
		locked, err := reg.GetForUpdate(ctx, l.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.StatusStriked {
			return errStale
		}

		holders, err := winningHolders(ctx, tx, locked)
		if err != nil {
			return err
		}
		note = Notification{Kind: KindNoWinners, Lottery: locked.Name, WinningTickets: []int64(locked.WinningTickets)}
		if len(holders) == 0 {
			note.Prize, err = reg.Pool(ctx, locked.ID)
			if err != nil {
				return err
			}
			return reg.MarkEnded(ctx, locked.ID, false)
		}

		own, err := reg.Pool(ctx, locked.ID)
		if err != nil {
			return err
		}
		carried, err := reg.UnclaimedPools(ctx, true)
		if err != nil {
			return err
		}
		prize := own
		claimed := make([]uuid.UUID, 0, len(carried))
		for _, p := range carried {
			prize = prize.Add(p.Amount)
			claimed = append(claimed, p.LotteryID)
		}
		if err := reg.MarkPoolsClaimed(ctx, claimed); err != nil {
			return err
		}

		ids := make([]int64, 0, len(holders))
		for id := range holders {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		shares := SplitEvenly(prize, len(ids))

		led := ledger.New(tx)
		note.Kind = KindWinners
		note.Prize = prize
		note.CarriedOver = prize.Sub(own)
		for n, id := range ids {
			if err := led.Credit(ctx, id, shares[n]); err != nil {
				return fmt.Errorf("credit winner %d: %w", id, err)
			}
			note.Winners = append(note.Winners, Payout{UserID: id, Amount: shares[n], Tickets: holders[id]})
		}
		return reg.MarkEnded(ctx, locked.ID, true)
	})
	if errors.Is(err, errStale) {
		return
	}
	if err != nil {
		log.Error("payout failed", zap.Error(err))
		report.deferLottery(l.Name, StagePayout, err)
		return
	}

	e.metrics.RecordTransition(string(models.StatusEnded), 1)
	if note.Kind == KindWinners {
		e.metrics.RecordPrizePaid(note.Prize)
	}
	log.Info("lottery ended",
		zap.Int("winners", len(note.Winners)),
		zap.String("prize", note.Prize.StringFixed(2)),
		zap.String("carried_over", note.CarriedOver.StringFixed(2)))
	report.Ended = append(report.Ended, l.Name)
	report.Notifications = append(report.Notifications, note)
}

// winningHolders maps each user holding a winning number to their winning numbers.
func winningHolders(ctx context.Context, tx *gorm.DB, l *models.Lottery) (map[int64][]int64, error) {
	holders := map[int64][]int64{}
	if len(l.WinningTickets) == 0 {
		return holders, nil
	}
	var winners []models.Ticket
	if err := tx.WithContext(ctx).
		Where("lottery_id = ? AND ticket_number IN ?", l.ID, []int64(l.WinningTickets)).
		Order("ticket_number ASC").
		Find(&winners).Error; err != nil {
		return nil, err
	}
	for _, t := range winners {
		holders[t.UserID] = append(holders[t.UserID], t.TicketNumber)
	}
	return holders, nil
}

// SplitEvenly divides total into n shares of whole cents. Every share is the
// floored quotient; the leftover cents go one each to the first shares.
func SplitEvenly(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	cents := total.Shift(2).IntPart()
	base, leftover := cents/int64(n), cents%int64(n)
	shares := make([]decimal.Decimal, n)
	for i := range shares {
		c := base
		if int64(i) < leftover {
			c++
		}
		shares[i] = decimal.New(c, -2)
	}
	return shares
}

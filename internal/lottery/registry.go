// Package lottery stores lotteries and owns their status transitions.
package lottery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sweepstake-bot/internal/chain"
	"sweepstake-bot/internal/database"
	"sweepstake-bot/internal/models"
)

// CreateParams describes a new lottery. Nil optional fields take the defaults.
type CreateParams struct {
	Name        string
	StrikeBlock uint64
	Price       *decimal.Decimal
	MinNumber   *int64
	MaxNumber   *int64
	Winners     *int
	Whitelisted bool
	Guaranteed  bool
}

// Snapshot is a lottery with its sales figures.
type Snapshot struct {
	Lottery     models.Lottery
	TicketsSold int64
	// Pool is the amount escrowed by this lottery's own tickets.
	Pool decimal.Decimal
	// CarriedPool is what unclaimed earlier lotteries would add to the prize.
	CarriedPool decimal.Decimal
}

// Prize is Pool plus CarriedPool.
func (s *Snapshot) Prize() decimal.Decimal {
	return s.Pool.Add(s.CarriedPool)
}

// UnclaimedPool is an ended lottery whose pool nobody won yet.
type UnclaimedPool struct {
	LotteryID uuid.UUID
	Name      string
	Amount    decimal.Decimal
}

type Registry struct {
	db     *gorm.DB
	oracle chain.Oracle
	now    func() time.Time
}

func NewRegistry(db *gorm.DB, oracle chain.Oracle, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{db: db, oracle: oracle, now: now}
}

// WithTx returns a registry operating inside tx.
func (r *Registry) WithTx(tx *gorm.DB) *Registry {
	return &Registry{db: tx, oracle: r.oracle, now: r.now}
}

// Create validates p, resolves the strike date and stores a STARTED lottery.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*models.Lottery, error) {
	l := models.Lottery{
		Name:                   strings.TrimSpace(p.Name),
		TicketPrice:            decimal.NewFromInt(models.DefaultTicketPrice),
		StrikeEthBlock:         p.StrikeBlock,
		TicketMinNumber:        models.DefaultTicketMinNumber,
		TicketMaxNumber:        models.DefaultTicketMaxNumber,
		NumberOfWinningTickets: models.DefaultWinningTickets,
		Status:                 models.StatusStarted,
		IsWhitelisted:          p.Whitelisted,
		GuaranteedWinner:       p.Guaranteed,
	}
	if p.Price != nil {
		l.TicketPrice = *p.Price
	}
	if p.MinNumber != nil {
		l.TicketMinNumber = *p.MinNumber
	}
	if p.MaxNumber != nil {
		l.TicketMaxNumber = *p.MaxNumber
	}
	if p.Winners != nil {
		l.NumberOfWinningTickets = *p.Winners
	}

	if l.Name == "" {
		return nil, ErrInvalidName
	}
	if !l.TicketPrice.IsPositive() {
		return nil, ErrInvalidPrice
	}
	// Prices are stored with two decimals.
	if !l.TicketPrice.Equal(l.TicketPrice.Round(2)) {
		return nil, fmt.Errorf("%w, got %s", ErrInvalidPrice, l.TicketPrice)
	}
	if l.TicketMinNumber >= l.TicketMaxNumber {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, l.TicketMinNumber, l.TicketMaxNumber)
	}
	if l.NumberOfWinningTickets < 1 || int64(l.NumberOfWinningTickets) > l.RangeSize() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWinners, l.NumberOfWinningTickets)
	}

	if _, err := r.Get(ctx, l.Name); err == nil {
		return nil, ErrDuplicateName
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	eta, err := r.oracle.ETAForBlock(ctx, p.StrikeBlock)
	if err != nil {
		if errors.Is(err, chain.ErrBlockAlreadyMined) {
			return nil, fmt.Errorf("%w: %d", ErrBlockAlreadyPassed, p.StrikeBlock)
		}
		return nil, fmt.Errorf("lottery: resolve strike date: %w", err)
	}
	l.StrikeDateETA = eta.UTC().Truncate(time.Second)

	if err := r.db.WithContext(ctx).Create(&l).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("lottery: create %q: %w", l.Name, err)
	}
	return &l, nil
}

// Get loads a lottery by name.
func (r *Registry) Get(ctx context.Context, name string) (*models.Lottery, error) {
	return r.first(ctx, r.db.WithContext(ctx), "name = ?", strings.TrimSpace(name))
}

// GetForUpdate loads and row-locks a lottery by id. Use inside a transaction.
func (r *Registry) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Lottery, error) {
	return r.first(ctx, r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

func (r *Registry) first(ctx context.Context, q *gorm.DB, query string, arg any) (*models.Lottery, error) {
	var l models.Lottery
	if err := q.First(&l, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// ListActive returns every lottery that has not ended, soonest strike first.
func (r *Registry) ListActive(ctx context.Context) ([]models.Lottery, error) {
	var out []models.Lottery
	err := r.db.WithContext(ctx).
		Where("status <> ?", models.StatusEnded).
		Order("strike_date_eta ASC").
		Find(&out).Error
	return out, err
}

// ListRecentHistory returns up to limit ended lotteries, most recent first.
func (r *Registry) ListRecentHistory(ctx context.Context, limit int) ([]models.Lottery, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []models.Lottery
	err := r.db.WithContext(ctx).
		Where("status = ?", models.StatusEnded).
		Order("ended_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListByStatus returns the lotteries currently in status.
func (r *Registry) ListByStatus(ctx context.Context, status models.LotteryStatus) ([]models.Lottery, error) {
	var out []models.Lottery
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("strike_date_eta ASC").Find(&out).Error
	return out, err
}

// Snapshot returns the lottery with its ticket count and pools.
func (r *Registry) Snapshot(ctx context.Context, name string) (*Snapshot, error) {
	l, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	var row struct {
		Sold int64
		Pool decimal.Decimal
	}
	if err := r.db.WithContext(ctx).Model(&models.Ticket{}).
		Select("COUNT(*) AS sold, COALESCE(SUM(price_paid), 0) AS pool").
		Where("lottery_id = ?", l.ID).
		Scan(&row).Error; err != nil {
		return nil, err
	}
	snap := &Snapshot{Lottery: *l, TicketsSold: row.Sold, Pool: row.Pool.Round(2)}
	if l.Status != models.StatusEnded {
		pools, err := r.UnclaimedPools(ctx, false)
		if err != nil {
			return nil, err
		}
		for _, p := range pools {
			snap.CarriedPool = snap.CarriedPool.Add(p.Amount)
		}
	}
	return snap, nil
}

// SoldNumbers returns the ticket numbers already issued for a lottery, ascending.
func (r *Registry) SoldNumbers(ctx context.Context, lotteryID uuid.UUID) ([]int64, error) {
	var numbers []int64
	err := r.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("lottery_id = ?", lotteryID).
		Order("ticket_number ASC").
		Pluck("ticket_number", &numbers).Error
	return numbers, err
}

// Pool sums what the lottery's tickets escrowed.
func (r *Registry) Pool(ctx context.Context, lotteryID uuid.UUID) (decimal.Decimal, error) {
	var row struct {
		Pool decimal.Decimal
	}
	err := r.db.WithContext(ctx).Model(&models.Ticket{}).
		Select("COALESCE(SUM(price_paid), 0) AS pool").
		Where("lottery_id = ?", lotteryID).
		Scan(&row).Error
	return row.Pool.Round(2), err
}

// UnclaimedPools lists ended lotteries nobody won, oldest first. With lock the
// rows are locked so a concurrent payout cannot claim them twice.
func (r *Registry) UnclaimedPools(ctx context.Context, lock bool) ([]UnclaimedPool, error) {
	q := r.db.WithContext(ctx).Where("status = ? AND has_winners = ?", models.StatusEnded, false).Order("created_at ASC")
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var ended []models.Lottery
	if err := q.Find(&ended).Error; err != nil {
		return nil, err
	}
	out := make([]UnclaimedPool, 0, len(ended))
	for _, l := range ended {
		amount, err := r.Pool(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, UnclaimedPool{LotteryID: l.ID, Name: l.Name, Amount: amount})
	}
	return out, nil
}

// MarkPoolsClaimed flags absorbed pools by setting has_winners on their lotteries.
// Timestamps are left alone so history keeps its order.
func (r *Registry) MarkPoolsClaimed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.Lottery{}).
		Where("id IN ? AND status = ? AND has_winners = ?", ids, models.StatusEnded, false).
		UpdateColumn("has_winners", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != int64(len(ids)) {
		return fmt.Errorf("%w: %d of %d carried pools already claimed", ErrInvalidTransition, int64(len(ids))-res.RowsAffected, len(ids))
	}
	return nil
}

// CanTransition reports whether to is the status directly after from.
func CanTransition(from, to models.LotteryStatus) bool {
	return from.Rank() >= 0 && to.Rank() == from.Rank()+1
}

func (r *Registry) transition(ctx context.Context, id uuid.UUID, from, to models.LotteryStatus, extra map[string]any) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	updates := map[string]any{"status": to, "updated_at": r.now().UTC()}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.Lottery{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: lottery %s is not %s", ErrInvalidTransition, id, from)
	}
	return nil
}

// StopSales closes ticket sales of a STARTED lottery.
func (r *Registry) StopSales(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, models.StatusStarted, models.StatusStopSales, nil)
}

// StopSalesDue moves every STARTED lottery striking before cutoff to STOP_SALES
// in one statement and returns their names.
func (r *Registry) StopSalesDue(ctx context.Context, cutoff time.Time) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []models.Lottery
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ? AND strike_date_eta <= ?", models.StatusStarted, cutoff.UTC()).
			Find(&due).Error; err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(due))
		for _, l := range due {
			ids = append(ids, l.ID)
			names = append(names, l.Name)
		}
		return tx.Model(&models.Lottery{}).
			Where("id IN ? AND status = ?", ids, models.StatusStarted).
			Updates(map[string]any{"status": models.StatusStopSales, "updated_at": r.now().UTC()}).Error
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// MarkStriked records the drawn numbers and the seed hash of a STOP_SALES lottery.
func (r *Registry) MarkStriked(ctx context.Context, id uuid.UUID, winning []int64, blockHash string) error {
	return r.transition(ctx, id, models.StatusStopSales, models.StatusStriked, map[string]any{
		"winning_tickets":   datatypes.JSONSlice[int64](winning),
		"strike_block_hash": blockHash,
	})
}

// MarkEnded closes a STRIKED lottery.
func (r *Registry) MarkEnded(ctx context.Context, id uuid.UUID, hasWinners bool) error {
	return r.transition(ctx, id, models.StatusStriked, models.StatusEnded, map[string]any{
		"has_winners": hasWinners,
		"ended_at":    r.now().UTC(),
	})
}

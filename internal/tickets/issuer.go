// Package tickets issues numbered lottery tickets against user balances.
package tickets

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sweepstake-bot/internal/database"
	"sweepstake-bot/internal/ledger"
	"sweepstake-bot/internal/lottery"
	"sweepstake-bot/internal/metrics"
	"sweepstake-bot/internal/models"
)

var (
	ErrSalesClosed   = errors.New("tickets: sales are closed")
	ErrAlreadyDrawn  = errors.New("tickets: lottery already drawn")
	ErrAlreadyEnded  = errors.New("tickets: lottery already ended")
	ErrWhitelistOnly = errors.New("tickets: lottery tickets are granted by admins only")
	ErrSoldOut       = errors.New("tickets: lottery sold out")
	// ErrCollision is returned when a concurrent purchase took the same number.
	// The request can simply be retried.
	ErrCollision = errors.New("tickets: ticket number taken, please retry")
	ErrNotAdmin  = errors.New("tickets: admin only")
	ErrNoTargets = errors.New("tickets: no beneficiaries given")
)

// Issuer sells and grants tickets.
type Issuer struct {
	db        *gorm.DB
	lotteries *lottery.Registry
	isAdmin   func(int64) bool
	metrics   *metrics.Metrics
	randInt   func(n int64) (int64, error)
}

type Option func(*Issuer)

// WithMetrics records issued and rejected tickets.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) { i.metrics = m }
}

// WithRandom replaces the source picking ticket numbers. randInt must return a
// value in [0, n).
func WithRandom(randInt func(n int64) (int64, error)) Option {
	return func(i *Issuer) { i.randInt = randInt }
}

func NewIssuer(db *gorm.DB, lotteries *lottery.Registry, isAdmin func(int64) bool, opts ...Option) *Issuer {
	i := &Issuer{db: db, lotteries: lotteries, isAdmin: isAdmin, randInt: cryptoInt}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func cryptoInt(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

// Buy debits the ticket price from userID and issues one ticket of the named
// lottery. When no number is left the lottery is moved to STOP_SALES, nothing is
// debited and ErrSoldOut is returned.
func (i *Issuer) Buy(ctx context.Context, userID int64, lotteryName string) (*models.Ticket, decimal.Decimal, error) {
	var (
		ticket    *models.Ticket
		balance   decimal.Decimal
		soldOutID uuid.UUID
	)
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		led := ledger.New(tx)
		if _, err := led.EnsureUser(ctx, userID, ""); err != nil {
			return err
		}
		user, err := led.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		l, err := i.openLottery(ctx, tx, lotteryName)
		if err != nil {
			return err
		}
		if l.IsWhitelisted {
			return ErrWhitelistOnly
		}
		if user.Balance.LessThan(l.TicketPrice) {
			return &ledger.FundsError{Err: ledger.ErrInsufficientFunds, Balance: user.Balance, Required: l.TicketPrice}
		}

		numbers, err := i.pickNumbers(ctx, tx, l, 1)
		if errors.Is(err, ErrSoldOut) {
			soldOutID = l.ID
			return err
		}
		if err != nil {
			return err
		}
		if err := led.Debit(ctx, userID, l.TicketPrice); err != nil {
			return err
		}
		t := models.Ticket{UserID: userID, LotteryID: l.ID, TicketNumber: numbers[0], PricePaid: l.TicketPrice}
		if err := tx.Create(&t).Error; err != nil {
			return createErr(err)
		}
		ticket = &t
		balance = user.Balance.Sub(l.TicketPrice)
		return nil
	})
	err = i.settle(ctx, err, soldOutID)
	if err != nil {
		i.metrics.RecordTicketRejected(reason(err))
		return nil, decimal.Zero, err
	}
	i.metrics.RecordTicketsIssued("buy", 1)
	return ticket, balance, nil
}

// Grant issues one free ticket per beneficiary entry. The batch is all or nothing:
// if the range runs out midway the lottery is moved to STOP_SALES, no ticket is
// issued and ErrSoldOut is returned.
func (i *Issuer) Grant(ctx context.Context, adminID int64, lotteryName string, beneficiaries []int64) ([]models.Ticket, error) {
	if i.isAdmin == nil || !i.isAdmin(adminID) {
		return nil, ErrNotAdmin
	}
	if len(beneficiaries) == 0 {
		return nil, ErrNoTargets
	}

	var (
		issued    []models.Ticket
		soldOutID uuid.UUID
	)
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := i.openLottery(ctx, tx, lotteryName)
		if err != nil {
			return err
		}

		led := ledger.New(tx)
		for _, id := range uniqueSorted(beneficiaries) {
			if _, err := led.EnsureUser(ctx, id, ""); err != nil {
				return err
			}
			if _, err := led.LockUser(ctx, id); err != nil {
				return err
			}
		}

		numbers, err := i.pickNumbers(ctx, tx, l, len(beneficiaries))
		if errors.Is(err, ErrSoldOut) {
			soldOutID = l.ID
			return err
		}
		if err != nil {
			return err
		}
		issued = make([]models.Ticket, 0, len(beneficiaries))
		for n, id := range beneficiaries {
			issued = append(issued, models.Ticket{UserID: id, LotteryID: l.ID, TicketNumber: numbers[n], PricePaid: decimal.Zero})
		}
		if err := tx.Create(&issued).Error; err != nil {
			return createErr(err)
		}
		return nil
	})
	err = i.settle(ctx, err, soldOutID)
	if err != nil {
		i.metrics.RecordTicketRejected(reason(err))
		return nil, err
	}
	i.metrics.RecordTicketsIssued("grant", len(issued))
	return issued, nil
}

// UserTickets lists the tickets userID holds in the named lottery.
func (i *Issuer) UserTickets(ctx context.Context, userID int64, lotteryName string) ([]models.Ticket, error) {
	l, err := i.lotteries.Get(ctx, lotteryName)
	if err != nil {
		return nil, err
	}
	var out []models.Ticket
	err = i.db.WithContext(ctx).
		Where("user_id = ? AND lottery_id = ?", userID, l.ID).
		Order("ticket_number ASC").
		Find(&out).Error
	return out, err
}

// openLottery loads the lottery with a share lock so the stop-sales sweep waits
// for in-flight issuance, and rejects it unless it is on sale.
func (i *Issuer) openLottery(ctx context.Context, tx *gorm.DB, name string) (*models.Lottery, error) {
	var l models.Lottery
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "SHARE"}).First(&l, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lottery.ErrNotFound
		}
		return nil, err
	}
	switch l.Status {
	case models.StatusStarted:
		return &l, nil
	case models.StatusStopSales:
		return nil, ErrSalesClosed
	case models.StatusStriked:
		return nil, ErrAlreadyDrawn
	case models.StatusEnded:
		return nil, ErrAlreadyEnded
	}
	return nil, fmt.Errorf("tickets: lottery %q has unknown status %q", l.Name, l.Status)
}

// pickNumbers draws count distinct unsold numbers of l, each uniform over what
// is still free.
func (i *Issuer) pickNumbers(ctx context.Context, tx *gorm.DB, l *models.Lottery, count int) ([]int64, error) {
	sold, err := i.lotteries.WithTx(tx).SoldNumbers(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	picked := make([]int64, 0, count)
	for len(picked) < count {
		free := l.RangeSize() - int64(len(sold))
		if free <= 0 {
			return nil, ErrSoldOut
		}
		k, err := i.randInt(free)
		if err != nil {
			return nil, fmt.Errorf("tickets: pick number: %w", err)
		}
		n := NthUnsold(l.TicketMinNumber, sold, k)
		picked = append(picked, n)
		sold = insertSorted(sold, n)
	}
	return picked, nil
}

// NthUnsold returns the k-th (zero based) number from min upwards that is not in
// the ascending slice sold.
func NthUnsold(min int64, sold []int64, k int64) int64 {
	candidate := min + k
	for _, s := range sold {
		if s < min {
			continue
		}
		if s > candidate {
			break
		}
		candidate++
	}
	return candidate
}

func insertSorted(sorted []int64, v int64) []int64 {
	idx := sort.Search(len(sorted), func(j int) bool { return sorted[j] >= v })
	sorted = append(sorted, 0)
	copy(sorted[idx+1:], sorted[idx:])
	sorted[idx] = v
	return sorted
}

func uniqueSorted(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	n := 0
	for j, id := range out {
		if j == 0 || id != out[n-1] {
			out[n] = id
			n++
		}
	}
	return out[:n]
}

// settle maps the outcome of an issuing transaction. A sold-out lottery is moved
// to STOP_SALES here, after the transaction released its share lock: upgrading
// that lock in place deadlocks against a concurrent buyer doing the same.
// Transactions Postgres aborted to break a lock cycle surface as ErrCollision.
func (i *Issuer) settle(ctx context.Context, err error, soldOutID uuid.UUID) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSoldOut):
		stopErr := i.lotteries.StopSales(ctx, soldOutID)
		if stopErr == nil {
			i.metrics.RecordTransition(string(models.StatusStopSales), 1)
		} else if !errors.Is(stopErr, lottery.ErrInvalidTransition) {
			return fmt.Errorf("tickets: stop sales of sold-out lottery: %w", stopErr)
		}
		return ErrSoldOut
	case database.IsRetryable(err):
		return ErrCollision
	}
	return err
}

func createErr(err error) error {
	if database.IsUniqueViolation(err) {
		return ErrCollision
	}
	return fmt.Errorf("tickets: create ticket: %w", err)
}

func reason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, lottery.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSalesClosed):
		return "sales_closed"
	case errors.Is(err, ErrAlreadyDrawn):
		return "already_drawn"
	case errors.Is(err, ErrAlreadyEnded):
		return "already_ended"
	case errors.Is(err, ErrWhitelistOnly):
		return "whitelist_only"
	case errors.Is(err, ErrSoldOut):
		return "sold_out"
	case errors.Is(err, ErrCollision):
		return "collision"
	case errors.Is(err, ErrNotAdmin), errors.Is(err, ErrNoTargets):
		return "invalid_request"
	}
	return "error"
}

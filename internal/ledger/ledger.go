// Package ledger holds user point balances. Every balance change is a relative
// update applied by the database, so concurrent writers never lose updates.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sweepstake-bot/internal/models"
)

var (
	// ErrInsufficientFunds is returned when a debit would make a balance negative.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrNegativeAmount rejects credits and debits of negative amounts.
	ErrNegativeAmount = errors.New("ledger: amount must not be negative")
	// ErrUserNotFound is returned when the user was never registered.
	ErrUserNotFound = errors.New("ledger: user not found")
	// ErrBelowMinimum is returned when a withdrawal is smaller than the allowed minimum.
	ErrBelowMinimum = errors.New("ledger: balance below withdrawal minimum")
)

// FundsError carries the balance that failed a requirement.
type FundsError struct {
	Err      error
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *FundsError) Error() string {
	return fmt.Sprintf("%v: have %s, need %s", e.Err, e.Balance.StringFixed(2), e.Required.StringFixed(2))
}

func (e *FundsError) Unwrap() error { return e.Err }

// Ledger reads and adjusts balances. A Ledger bound to a transaction via WithTx
// takes part in that transaction.
type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a ledger operating inside tx.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// Transaction runs fn with a ledger bound to a new transaction.
func (l *Ledger) Transaction(ctx context.Context, fn func(*Ledger) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(l.WithTx(tx))
	})
}

// EnsureUser registers the user with a zero balance if unseen and refreshes the
// stored username when one is given.
func (l *Ledger) EnsureUser(ctx context.Context, id int64, username string) (*models.User, error) {
	username = NormalizeUsername(username)
	conflict := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}
	if username != "" {
		conflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username"}),
		}
	}
	user := models.User{ID: id, Username: username}
	if err := l.db.WithContext(ctx).Clauses(conflict).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("ledger: register user %d: %w", id, err)
	}
	return l.get(ctx, id)
}

// Balance returns the current balance, registering the user if needed.
func (l *Ledger) Balance(ctx context.Context, id int64) (decimal.Decimal, error) {
	user, err := l.EnsureUser(ctx, id, "")
	if err != nil {
		return decimal.Zero, err
	}
	return user.Balance, nil
}

// LockUser loads the user row with FOR UPDATE. Only meaningful inside a transaction.
func (l *Ledger) LockUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := l.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Credit increases the balance by amount.
func (l *Ledger) Credit(ctx context.Context, id int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	res := l.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("ledger: credit user %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Debit decreases the balance by amount, failing with ErrInsufficientFunds rather
// than going negative. Callers run it in the transaction of the effect it pays for.
func (l *Ledger) Debit(ctx context.Context, id int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	res := l.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND balance >= ?", id, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("ledger: debit user %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		user, err := l.get(ctx, id)
		if err != nil {
			return err
		}
		return &FundsError{Err: ErrInsufficientFunds, Balance: user.Balance, Required: amount}
	}
	return nil
}

// Withdraw empties the balance and returns the amount taken out. The balance must
// be at least min.
func (l *Ledger) Withdraw(ctx context.Context, id int64, min decimal.Decimal) (decimal.Decimal, error) {
	var withdrawn decimal.Decimal
	err := l.Transaction(ctx, func(tx *Ledger) error {
		user, err := tx.LockUser(ctx, id)
		if err != nil {
			return err
		}
		if user.Balance.LessThan(min) {
			return &FundsError{Err: ErrBelowMinimum, Balance: user.Balance, Required: min}
		}
		if err := tx.Debit(ctx, id, user.Balance); err != nil {
			return err
		}
		withdrawn = user.Balance
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return withdrawn, nil
}

// Total sums every balance held by the ledger.
func (l *Ledger) Total(ctx context.Context) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	if err := l.db.WithContext(ctx).Model(&models.User{}).Select("COALESCE(SUM(balance), 0) AS total").Scan(&row).Error; err != nil {
		return decimal.Zero, fmt.Errorf("ledger: total: %w", err)
	}
	return row.Total, nil
}

// FindByUsername resolves a registered @username to a user id.
func (l *Ledger) FindByUsername(ctx context.Context, username string) (int64, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return 0, ErrUserNotFound
	}
	var user models.User
	if err := l.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.ID, nil
}

// Usernames returns the stored usernames of ids. Users without one are omitted.
func (l *Ledger) Usernames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := l.db.WithContext(ctx).Select("id", "username").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("ledger: usernames: %w", err)
	}
	for _, u := range users {
		if u.Username != "" {
			out[u.ID] = u.Username
		}
	}
	return out, nil
}

// NormalizeUsername strips the leading @ and lower-cases a Telegram username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}

func (l *Ledger) get(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := l.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweepstake-bot/internal/dbtest"
)

func TestEnsureUserIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := New(dbtest.Open(t))

	user, err := l.EnsureUser(ctx, 1001, "@Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.True(t, user.Balance.IsZero())

	require.NoError(t, l.Credit(ctx, 1001, decimal.NewFromInt(25)))

	again, err := l.EnsureUser(ctx, 1001, "")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Username)
	assert.Equal(t, "25.00", again.Balance.StringFixed(2))

	id, err := l.FindByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), id)
}

func TestBalanceRegistersUnseenUser(t *testing.T) {
	l := New(dbtest.Open(t))
	balance, err := l.Balance(context.Background(), 77)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestDebitInsufficientFundsLeavesBalance(t *testing.T) {
	ctx := context.Background()
	l := New(dbtest.Open(t))
	_, err := l.EnsureUser(ctx, 5, "")
	require.NoError(t, err)
	require.NoError(t, l.Credit(ctx, 5, decimal.NewFromInt(5)))

	err = l.Debit(ctx, 5, decimal.NewFromInt(10))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	var fundsErr *FundsError
	require.True(t, errors.As(err, &fundsErr))
	assert.Equal(t, "5.00", fundsErr.Balance.StringFixed(2))

	balance, err := l.Balance(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "5.00", balance.StringFixed(2))
}

func TestCreditAndDebitValidation(t *testing.T) {
	ctx := context.Background()
	l := New(dbtest.Open(t))

	assert.ErrorIs(t, l.Credit(ctx, 1, decimal.NewFromInt(-1)), ErrNegativeAmount)
	assert.ErrorIs(t, l.Debit(ctx, 1, decimal.NewFromInt(-1)), ErrNegativeAmount)
	assert.ErrorIs(t, l.Credit(ctx, 404, decimal.NewFromInt(1)), ErrUserNotFound)
	assert.ErrorIs(t, l.Debit(ctx, 404, decimal.NewFromInt(1)), ErrUserNotFound)
}

func TestDebitRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	l := New(dbtest.Open(t))
	_, err := l.EnsureUser(ctx, 9, "")
	require.NoError(t, err)
	require.NoError(t, l.Credit(ctx, 9, decimal.NewFromInt(30)))

	boom := errors.New("ticket insert failed")
	err = l.Transaction(ctx, func(tx *Ledger) error {
		if err := tx.Debit(ctx, 9, decimal.NewFromInt(10)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	balance, err := l.Balance(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "30.00", balance.StringFixed(2))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := New(dbtest.Open(t))
	_, err := l.EnsureUser(ctx, 3, "")
	require.NoError(t, err)
	require.NoError(t, l.Credit(ctx, 3, decimal.NewFromInt(50)))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Debit(ctx, 3, decimal.NewFromInt(10)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	balance, err := l.Balance(ctx, 3)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()
	l := New(dbtest.Open(t))
	_, err := l.EnsureUser(ctx, 11, "")
	require.NoError(t, err)

	_, err = l.Withdraw(ctx, 11, decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrBelowMinimum)

	require.NoError(t, l.Credit(ctx, 11, decimal.RequireFromString("12.5")))
	amount, err := l.Withdraw(ctx, 11, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, "12.50", amount.StringFixed(2))

	total, err := l.Total(ctx)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestNormalizeUsername(t *testing.T) {
	assert.Equal(t, "bob", NormalizeUsername(" @Bob "))
	assert.Equal(t, "", NormalizeUsername("@"))
}

func TestUsernames(t *testing.T) {
	ctx := context.Background()
	l := New(dbtest.Open(t))
	_, err := l.EnsureUser(ctx, 1, "@carol")
	require.NoError(t, err)
	_, err = l.EnsureUser(ctx, 2, "")
	require.NoError(t, err)

	names, err := l.Usernames(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{1: "carol"}, names)

	empty, err := l.Usernames(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sweepstake-bot/internal/chain/chaintest"
	"sweepstake-bot/internal/dbtest"
	"sweepstake-bot/internal/draw"
	"sweepstake-bot/internal/ledger"
	"sweepstake-bot/internal/lottery"
	"sweepstake-bot/internal/models"
	"sweepstake-bot/internal/tickets"
)

type fixture struct {
	db        *gorm.DB
	now       time.Time
	oracle    *chaintest.Fake
	ledger    *ledger.Ledger
	lotteries *lottery.Registry
	issuer    *tickets.Issuer
	engine    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: dbtest.Open(t), now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.oracle = chaintest.New(1000, clock)
	f.ledger = ledger.New(f.db)
	f.lotteries = lottery.NewRegistry(f.db, f.oracle, clock)
	// Lowest free number first, so tests know which numbers users hold.
	f.issuer = tickets.NewIssuer(f.db, f.lotteries, func(int64) bool { return true },
		tickets.WithRandom(func(int64) (int64, error) { return 0, nil }))
	f.engine = NewEngine(f.db, f.lotteries, f.oracle, Config{}, nil, WithClock(clock))
	return f
}

func (f *fixture) create(t *testing.T, name string, block uint64, min, max int64, winners int, guaranteed bool) *models.Lottery {
	t.Helper()
	l, err := f.lotteries.Create(context.Background(), lottery.CreateParams{
		Name: name, StrikeBlock: block, MinNumber: &min, MaxNumber: &max, Winners: &winners, Guaranteed: guaranteed,
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) buy(t *testing.T, userID int64, name string) int64 {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.EnsureUser(ctx, userID, "")
	require.NoError(t, err)
	require.NoError(t, f.ledger.Credit(ctx, userID, decimal.NewFromInt(10)))
	ticket, _, err := f.issuer.Buy(ctx, userID, name)
	require.NoError(t, err)
	return ticket.TicketNumber
}

// strikeManually fixes the winning numbers so payout tests do not depend on the draw.
func (f *fixture) strikeManually(t *testing.T, l *models.Lottery, winning ...int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.lotteries.StopSales(ctx, l.ID))
	require.NoError(t, f.lotteries.MarkStriked(ctx, l.ID, winning, "0xfeed"))
}

func (f *fixture) balance(t *testing.T, userID int64) string {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func (f *fixture) status(t *testing.T, name string) *models.Lottery {
	t.Helper()
	l, err := f.lotteries.Get(context.Background(), name)
	require.NoError(t, err)
	return l
}

func TestStopSalesSweepOnlyTouchesDueLotteries(t *testing.T) {
	f := newFixture(t)
	f.create(t, "Soon", 1100, 1, 100, 1, false)
	f.create(t, "Later", 2000, 1, 100, 1, false)

	report, err := f.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Soon"}, report.Stopped)
	assert.Empty(t, report.Struck)
	assert.Empty(t, report.Deferred)
	require.Len(t, report.Notifications, 1)
	assert.Equal(t, KindSalesStopped, report.Notifications[0].Kind)

	assert.Equal(t, models.StatusStopSales, f.status(t, "Soon").Status)
	assert.Equal(t, models.StatusStarted, f.status(t, "Later").Status)
}

func TestStrikeWaitsForConfirmations(t *testing.T) {
	f := newFixture(t)
	f.create(t, "Main", 1100, 1, 100, 1, false)
	f.oracle.SetHead(1105)

	_, err := f.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopSales, f.status(t, "Main").Status)

	f.oracle.SetHead(1112)
	report, err := f.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Main"}, report.Struck)
}

func TestStrikeWithoutConfirmations(t *testing.T) {
	f := newFixture(t)
	f.engine = NewEngine(f.db, f.lotteries, f.oracle, Config{}, nil,
		WithClock(func() time.Time { return f.now }), WithConfirmations(0))
	f.create(t, "Main", 1100, 1, 100, 1, false)

	f.oracle.SetHead(1099)
	report, err := f.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Struck)

	f.oracle.SetHead(1100)
	report, err = f.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Main"}, report.Struck)
}

func TestStrikeIsDeterministicFromBlockHash(t *testing.T) {
	f := newFixture(t)
	const hash = "0x88e96d4537bea4d9c05d12549907b32561d3bf31f45aae734cdc119f13406cb6"
	f.create(t, "Main", 1100, models.DefaultTicketMinNumber, models.DefaultTicketMaxNumber, 3, false)
	f.oracle.SetHead(1200)
	f.oracle.SetHash(1100, hash)

	report, err := f.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Main"}, report.Stopped)
	assert.Equal(t, []string{"Main"}, report.Struck)
	assert.Equal(t, []string{"Main"}, report.Ended)

	seed, err := draw.SeedFromHash(hash)
	require.NoError(t, err)
	want, err := draw.SelectWinningTickets(seed, models.DefaultTicketMinNumber, models.DefaultTicketMaxNumber, 3)
	require.NoError(t, err)

	l := f.status(t, "Main")
	assert.Equal(t, want, []int64(l.WinningTickets))
	assert.Equal(t, hash, l.StrikeBlockHash)
	assert.Equal(t, models.StatusEnded, l.Status)
	assert.False(t, l.HasWinners)
}

func TestGuaranteedWinnerDrawsFromSoldTickets(t *testing.T) {
	f := newFixture(t)
	f.create(t, "Sure", 1100, 1, 1000, 1, true)
	number := f.buy(t, 7, "Sure")
	f.oracle.SetHead(1200)

	report, err := f.engine.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"Sure"}, report.Ended)

	l := f.status(t, "Sure")
	assert.Equal(t, []int64{number}, []int64(l.WinningTickets))
	assert.True(t, l.HasWinners)
	assert.Equal(t, "10.00", f.balance(t, 7))

	var winners *Notification
	for i := range report.Notifications {
		if report.Notifications[i].Kind == KindWinners {
			winners = &report.Notifications[i]
		}
	}
	require.NotNil(t, winners)
	require.Len(t, winners.Winners, 1)
	assert.Equal(t, int64(7), winners.Winners[0].UserID)
	assert.Equal(t, []int64{number}, winners.Winners[0].Tickets)
}

func TestPayoutRollsPoolOverExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dry := f.create(t, "Dry", 5000, 1, 100, 1, false)
	f.buy(t, 1, "Dry")
	f.buy(t, 2, "Dry")
	f.strikeManually(t, dry, 50)

	report, err := f.engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dry"}, report.Ended)
	require.Len(t, report.Notifications, 1)
	assert.Equal(t, KindNoWinners, report.Notifications[0].Kind)
	assert.Equal(t, "20.00", report.Notifications[0].Prize.StringFixed(2))
	assert.False(t, f.status(t, "Dry").HasWinners)

	wet := f.create(t, "Wet", 5000, 1, 100, 2, false)
	a := f.buy(t, 3, "Wet")
	b := f.buy(t, 4, "Wet")
	f.strikeManually(t, wet, a, b)

	report, err = f.engine.RunPass(ctx)
	require.NoError(t, err)
	require.Len(t, report.Notifications, 1)
	note := report.Notifications[0]
	assert.Equal(t, KindWinners, note.Kind)
	assert.Equal(t, "40.00", note.Prize.StringFixed(2))
	assert.Equal(t, "20.00", note.CarriedOver.StringFixed(2))
	assert.Equal(t, "20.00", f.balance(t, 3))
	assert.Equal(t, "20.00", f.balance(t, 4))
	assert.True(t, f.status(t, "Dry").HasWinners, "absorbed pool is marked claimed")

	next := f.create(t, "Next", 5000, 1, 100, 1, false)
	c := f.buy(t, 5, "Next")
	f.strikeManually(t, next, c)

	report, err = f.engine.RunPass(ctx)
	require.NoError(t, err)
	require.Len(t, report.Notifications, 1)
	assert.Equal(t, "10.00", report.Notifications[0].Prize.StringFixed(2))
	assert.True(t, report.Notifications[0].CarriedOver.IsZero())
	assert.Equal(t, "10.00", f.balance(t, 5))

	// Every deposited point is either held by a user or still escrowed.
	total, err := f.ledger.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, "50.00", total.StringFixed(2))
}

func TestPayoutSharesByDistinctOwner(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, "Split", 5000, 1, 100, 3, false)
	first := f.buy(t, 1, "Split")
	second := f.buy(t, 1, "Split")
	third := f.buy(t, 2, "Split")
	f.strikeManually(t, l, first, second, third)

	report, err := f.engine.RunPass(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Notifications, 1)
	require.Len(t, report.Notifications[0].Winners, 2)
	assert.Equal(t, []int64{first, second}, report.Notifications[0].Winners[0].Tickets)
	assert.Equal(t, "15.00", f.balance(t, 1))
	assert.Equal(t, "15.00", f.balance(t, 2))
}

func TestOracleFailureDefersStrike(t *testing.T) {
	f := newFixture(t)
	f.create(t, "Main", 1100, 1, 100, 1, false)
	f.oracle.SetHead(1200)
	f.oracle.FailWith(errors.New("etherscan: rate limited"), nil)

	report, err := f.engine.RunPass(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Deferred, 1)
	assert.Equal(t, "Main", report.Deferred[0].Lottery)
	assert.Equal(t, StageStrike, report.Deferred[0].Stage)
	assert.Equal(t, models.StatusStopSales, f.status(t, "Main").Status)

	f.oracle.FailWith(nil, errors.New("hash lookup timed out"))
	report, err = f.engine.RunPass(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Deferred, 1)
	assert.Equal(t, models.StatusStopSales, f.status(t, "Main").Status)

	f.oracle.FailWith(nil, nil)
	report, err = f.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Deferred)
	assert.Equal(t, []string{"Main"}, report.Struck)
}

func TestRepeatedPassesAreIdempotent(t *testing.T) {
	f := newFixture(t)
	f.create(t, "Main", 1100, 1, 100, 1, true)
	f.buy(t, 9, "Main")
	f.oracle.SetHead(1200)

	report, err := f.engine.RunPass(context.Background())
	require.NoError(t, err)
	require.False(t, report.Empty())
	assert.Equal(t, "10.00", f.balance(t, 9))

	for range 3 {
		report, err = f.engine.RunPass(context.Background())
		require.NoError(t, err)
		assert.True(t, report.Empty())
	}
	assert.Equal(t, "10.00", f.balance(t, 9))
	assert.Equal(t, models.StatusEnded, f.status(t, "Main").Status)
}

func TestSplitEvenly(t *testing.T) {
	cases := []struct {
		total string
		n     int
		want  []string
	}{
		{"10", 3, []string{"3.34", "3.33", "3.33"}},
		{"0.02", 3, []string{"0.01", "0.01", "0.00"}},
		{"100", 4, []string{"25.00", "25.00", "25.00", "25.00"}},
		{"0", 2, []string{"0.00", "0.00"}},
	}
	for _, tc := range cases {
		shares := SplitEvenly(decimal.RequireFromString(tc.total), tc.n)
		sum := decimal.Zero
		got := make([]string, len(shares))
		for i, s := range shares {
			got[i] = s.StringFixed(2)
			sum = sum.Add(s)
		}
		assert.Equal(t, tc.want, got, "split %s by %d", tc.total, tc.n)
		assert.True(t, sum.Equal(decimal.RequireFromString(tc.total)), "split %s by %d loses funds", tc.total, tc.n)
	}
	assert.Nil(t, SplitEvenly(decimal.NewFromInt(5), 0))
}

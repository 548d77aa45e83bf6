package settlement

import (
	"errors"

	"github.com/shopspring/decimal"
)

// errStale aborts a step whose lottery moved on since it was listed.
var errStale = errors.New("settlement: lottery status changed")

type NotificationKind string

const (
	KindSalesStopped NotificationKind = "sales_stopped"
	KindStriked      NotificationKind = "striked"
	KindWinners      NotificationKind = "winners"
	KindNoWinners    NotificationKind = "no_winners"
)

type Stage string

const (
	StageStrike Stage = "strike"
	StagePayout Stage = "payout"
)

// Notification is an announcement produced by a pass, sent once the pass committed.
type Notification struct {
	Kind           NotificationKind
	Lottery        string
	Block          uint64
	BlockHash      string
	WinningTickets []int64
	// Prize is what winners shared, or the pool left unclaimed for KindNoWinners.
	Prize       decimal.Decimal
	CarriedOver decimal.Decimal
	Winners     []Payout
}

// Payout is one winner's credited share.
type Payout struct {
	UserID  int64
	Amount  decimal.Decimal
	Tickets []int64
}

// Deferral is a lottery step that failed and is retried on the next pass.
type Deferral struct {
	Lottery string
	Stage   Stage
	Err     error
}

type Report struct {
	Stopped       []string
	Struck        []string
	Ended         []string
	Notifications []Notification
	Deferred      []Deferral
}

// Empty reports whether the pass changed nothing and deferred nothing.
func (r *Report) Empty() bool {
	return len(r.Stopped) == 0 && len(r.Struck) == 0 && len(r.Ended) == 0 && len(r.Deferred) == 0
}

func (r *Report) deferLottery(name string, stage Stage, err error) {
	r.Deferred = append(r.Deferred, Deferral{Lottery: name, Stage: stage, Err: err})
}

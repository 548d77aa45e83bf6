package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LotteryStatus is a step of the lottery lifecycle. Statuses only move forward.
type LotteryStatus string

const (
	StatusStarted   LotteryStatus = "started"    // tickets on sale
	StatusStopSales LotteryStatus = "stop_sales" // close to strike date, sales closed
	StatusStriked   LotteryStatus = "striked"    // winning tickets drawn
	StatusEnded     LotteryStatus = "ended"      // winners paid or pool rolled forward
)

// Rank orders statuses along the lifecycle.
func (s LotteryStatus) Rank() int {
	switch s {
	case StatusStarted:
		return 0
	case StatusStopSales:
		return 1
	case StatusStriked:
		return 2
	case StatusEnded:
		return 3
	}
	return -1
}

const (
	DefaultTicketPrice     = 10
	DefaultTicketMinNumber = 10000
	DefaultTicketMaxNumber = 99000
	DefaultWinningTickets  = 1
)

// Lottery is a named sweepstake drawn from an Ethereum block hash.
type Lottery struct {
	ID                     uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	Name                   string                      `gorm:"size:255;uniqueIndex;not null"`
	TicketPrice            decimal.Decimal             `gorm:"type:numeric(15,2);not null;default:10"`
	StrikeEthBlock         uint64                      `gorm:"not null"`
	StrikeDateETA          time.Time                   `gorm:"not null;index"`
	TicketMinNumber        int64                       `gorm:"not null;default:10000"`
	TicketMaxNumber        int64                       `gorm:"not null;default:99000"`
	NumberOfWinningTickets int                         `gorm:"not null;default:1"`
	Status                 LotteryStatus               `gorm:"size:32;not null;default:'started';index"`
	WinningTickets         datatypes.JSONSlice[int64]  `gorm:"type:json"`
	StrikeBlockHash        string                      `gorm:"size:66"`
	HasWinners             bool                        `gorm:"not null;default:false"`
	IsWhitelisted          bool                        `gorm:"not null;default:false"`
	GuaranteedWinner       bool                        `gorm:"not null;default:false"`
	EndedAt                *time.Time                  `gorm:"index"`
	Tickets                []Ticket                    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// BeforeCreate assigns the lottery id.
func (l *Lottery) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// RangeSize is the count of ticket numbers available in the lottery.
func (l *Lottery) RangeSize() int64 {
	return l.TicketMaxNumber - l.TicketMinNumber + 1
}

func (l *Lottery) String() string {
	return l.Name
}

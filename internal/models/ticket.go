package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ticket is a numbered entry of a user in a lottery.
type Ticket struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID       int64           `gorm:"not null;index"`
	User         User            `gorm:"foreignKey:UserID"`
	LotteryID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_tickets_number_lottery,priority:2;index"`
	Lottery      Lottery         `gorm:"foreignKey:LotteryID"`
	TicketNumber int64           `gorm:"not null;uniqueIndex:idx_tickets_number_lottery,priority:1"`
	PricePaid    decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0"`
	CreatedAt    time.Time
}

// BeforeCreate assigns the ticket id.
func (t *Ticket) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (t *Ticket) String() string {
	return fmt.Sprintf("#%s (%d)", t.ID, t.TicketNumber)
}

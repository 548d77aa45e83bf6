package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a chat participant identified by their Telegram user id.
type User struct {
	ID        int64           `gorm:"primaryKey;autoIncrement:false"`
	Username  string          `gorm:"size:255;index"`
	Balance   decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0;check:chk_users_balance_non_negative,balance >= 0"`
	Tickets   []Ticket        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

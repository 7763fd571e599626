package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionFill is an immutable audit row linking one execution to one
// position. Rows are append-only and never mutated, so the model carries no
// update or delete timestamps.
type PositionFill struct {
	ID         uint            `gorm:"primaryKey"`
	PositionID uint            `gorm:"not null;index"`
	JobID      uint            `gorm:"not null;index"`
	Side       OrderSide       `gorm:"type:varchar(4);not null"`
	Quantity   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Price      decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	CreatedAt  time.Time
}

func (PositionFill) TableName() string {
	return "position_fills"
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeExecution is the result of an order reaching the exchange. One job may
// have zero or more executions (partial fills). Rows are append-only.
type TradeExecution struct {
	ID              uint            `gorm:"primaryKey"`
	JobID           uint            `gorm:"not null;index"`
	ExecutedQty     decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	AvgPrice        decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	FeeUSD          decimal.Decimal `gorm:"column:fee_usd;type:numeric(30,10);not null;default:0"`
	ExchangeOrderID string          `gorm:"type:varchar(40)"`
	CreatedAt       time.Time
}

func (TradeExecution) TableName() string {
	return "trade_executions"
}

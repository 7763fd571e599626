package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeJob is an order intent. It is created by the Order Intake Gate,
// executed asynchronously, and terminates with a status plus reason fields.
type TradeJob struct {
	gorm.Model
	AccountID uint      `gorm:"not null;index:idx_jobs_key"`
	Mode      TradeMode `gorm:"type:varchar(12);not null;index:idx_jobs_key"`
	Symbol    string    `gorm:"type:varchar(20);not null;index:idx_jobs_key"`
	Side      OrderSide `gorm:"type:varchar(4);not null;index:idx_jobs_key"`
	OrderType OrderType `gorm:"type:varchar(12);not null"`

	// Quantity is the base-asset amount. Nil for BUY jobs whose sizing is
	// resolved at execution time.
	Quantity decimal.NullDecimal `gorm:"type:numeric(30,10)"`
	// QuoteAmount sizes a BUY in quote currency when Quantity is nil.
	QuoteAmount decimal.NullDecimal `gorm:"type:numeric(30,10)"`
	LimitPrice  decimal.NullDecimal `gorm:"type:numeric(20,10)"`

	// PositionIDToClose is mandatory for SELL jobs. There is no FIFO
	// auto-selection fallback.
	PositionIDToClose *uint      `gorm:"index"`
	Origin            SellOrigin `gorm:"type:varchar(20)"`

	Status          JobStatus `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	ReasonCode      string    `gorm:"type:varchar(40)"`
	ReasonMessage   string
	ClientOrderID   string `gorm:"type:varchar(40);index"`
	ExchangeOrderID string `gorm:"type:varchar(40);index"`
}

func (TradeJob) TableName() string {
	return "trade_jobs"
}

// NonTerminalSellStatuses are the statuses that count against the
// one-open-sell-per-position invariant.
var NonTerminalSellStatuses = []JobStatus{
	JobPending, JobPendingLimit, JobExecuting, JobPartiallyFilled,
}

package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeParameter holds per account+symbol+side sizing and risk defaults.
// Sizing is either a fixed quote amount or a percentage of the free balance;
// when both are set the fixed amount wins.
type TradeParameter struct {
	gorm.Model
	AccountID uint      `gorm:"not null;uniqueIndex:idx_param_key"`
	Symbol    string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_param_key"`
	Side      OrderSide `gorm:"type:varchar(4);not null;uniqueIndex:idx_param_key"`

	QuoteAmount decimal.NullDecimal `gorm:"type:numeric(30,10)"`
	BalancePct  *float64

	MaxOrdersPerHour int `gorm:"not null;default:0"`
	MinIntervalSec   int `gorm:"not null;default:0"`

	DefaultSLPct *float64
	DefaultTPPct *float64
	MinProfitPct *float64

	Enabled bool `gorm:"not null;default:true"`
}

func (TradeParameter) TableName() string {
	return "trade_parameters"
}

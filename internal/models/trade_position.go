package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradePosition is an open or closed long holding of a base asset.
// Quantities and prices are fixed-decimal; percentage thresholds are plain
// floats because they only ever parameterize comparisons.
type TradePosition struct {
	gorm.Model
	AccountID uint      `gorm:"not null;index:idx_positions_key"`
	Mode      TradeMode `gorm:"type:varchar(12);not null;index:idx_positions_key"`
	Symbol    string    `gorm:"type:varchar(20);not null;index:idx_positions_key"`
	Side      OrderSide `gorm:"type:varchar(4);not null"`

	QtyTotal     decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	QtyRemaining decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	// PriceOpen is the volume-weighted entry price.
	PriceOpen decimal.Decimal `gorm:"type:numeric(20,10);not null"`

	Status PositionStatus `gorm:"type:varchar(10);not null;default:'OPEN';index"`
	// RealizedProfitUSD accumulates monotonically across partial sells.
	RealizedProfitUSD decimal.Decimal `gorm:"column:realized_profit_usd;type:numeric(30,10);not null;default:0"`

	SLEnabled   bool    `gorm:"column:sl_enabled;not null;default:false"`
	SLPct       float64 `gorm:"column:sl_pct;not null;default:0"`
	SLTriggered bool    `gorm:"column:sl_triggered;not null;default:false"`

	TPEnabled   bool    `gorm:"column:tp_enabled;not null;default:false"`
	TPPct       float64 `gorm:"column:tp_pct;not null;default:0"`
	TPTriggered bool    `gorm:"column:tp_triggered;not null;default:false"`

	// Stop-gain is an earlier exit than take-profit, same shape.
	SGEnabled   bool    `gorm:"column:sg_enabled;not null;default:false"`
	SGPct       float64 `gorm:"column:sg_pct;not null;default:0"`
	SGTriggered bool    `gorm:"column:sg_triggered;not null;default:false"`

	TrailingEnabled     bool            `gorm:"not null;default:false"`
	TrailingDistancePct float64         `gorm:"not null;default:0"`
	TrailingMaxPrice    decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	TrailingTriggered   bool            `gorm:"not null;default:false"`

	TSGEnabled       bool            `gorm:"column:tsg_enabled;not null;default:false"`
	TSGActivationPct float64         `gorm:"column:tsg_activation_pct;not null;default:0"`
	TSGDistancePct   float64         `gorm:"column:tsg_distance_pct;not null;default:0"`
	TSGMaxPrice      decimal.Decimal `gorm:"column:tsg_max_price;type:numeric(20,10);not null;default:0"`
	TSGTriggered     bool            `gorm:"column:tsg_triggered;not null;default:false"`

	// MinProfitPct overrides the account/symbol minimum-profit gate when set.
	MinProfitPct *float64
	// LockSellByWebhook excludes the position from webhook-driven sells.
	LockSellByWebhook bool `gorm:"not null;default:false"`

	CloseReason CloseReason `gorm:"type:varchar(20)"`
	ClosedAt    *time.Time
}

func (TradePosition) TableName() string {
	return "trade_positions"
}

// IsOpen reports whether the position still holds quantity.
func (p *TradePosition) IsOpen() bool {
	return p.Status == PositionOpen
}

// HasRiskControls reports whether any exit trigger is enabled for the position.
func (p *TradePosition) HasRiskControls() bool {
	return p.SLEnabled || p.TPEnabled || p.SGEnabled || p.TrailingEnabled || p.TSGEnabled
}

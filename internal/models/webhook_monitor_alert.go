package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WebhookMonitorAlert is a candidate buy signal held in a monitoring state by
// the delayed-entry monitor. It is created MONITORING, mutated each tick, and
// terminates to EXECUTED or CANCELLED; terminal alerts are never mutated again.
type WebhookMonitorAlert struct {
	gorm.Model
	SourceEventID string    `gorm:"type:varchar(64);index"`
	AccountID     uint      `gorm:"not null;index:idx_alerts_key"`
	Symbol        string    `gorm:"type:varchar(20);not null;index:idx_alerts_key"`
	Mode          TradeMode `gorm:"type:varchar(12);not null;index:idx_alerts_key"`

	// PriceAlert is the signal price; PriceMinimum is the running local low
	// and only ever decreases while monitoring.
	PriceAlert   decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	PriceMinimum decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	CurrentPrice decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	State               AlertState `gorm:"type:varchar(12);not null;default:'MONITORING';index"`
	CyclesWithoutNewLow int        `gorm:"not null;default:0"`

	CancelReason  string `gorm:"type:varchar(64)"`
	ExitReason    string `gorm:"type:varchar(64)"`
	ExecutedJobID *uint
	ExecutedAt    *time.Time
}

func (WebhookMonitorAlert) TableName() string {
	return "webhook_monitor_alerts"
}

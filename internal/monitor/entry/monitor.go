// Package entry holds webhook buy signals in a monitoring state and decides
// when a falling price has stabilized enough to convert a signal into an
// actual buy order.
package entry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mayconvmartins/mvcashnode-sub001/internal/gateway"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/intake"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/models"
)

// ErrCooldownActive rejects a signal arriving too soon after an executed
// alert for the same account+symbol+mode key.
var ErrCooldownActive = errors.New("cooldown active for this symbol")

// Thresholds parameterize the state machine. All values come from
// configuration rows, never from constants.
type Thresholds struct {
	LateralTolerancePct float64
	LateralCyclesMin    int
	RiseTriggerPct      float64
	RiseCyclesMin       int
	MaxFallPct          float64
	MaxMonitoringTime   time.Duration
	Cooldown            time.Duration
}

// ThresholdResolver returns the thresholds for one account, falling back to
// the global defaults for accounts without overrides.
type ThresholdResolver func(accountID uint) Thresholds

// Signal is an external buy signal entering the monitor.
type Signal struct {
	SourceEventID string
	AccountID     uint
	Symbol        string
	Mode          models.TradeMode
	Price         decimal.Decimal
}

// trend classification of one tick relative to the running minimum.
type trend int

const (
	trendFalling trend = iota
	trendLateral
	trendRising
)

// Monitor is the delayed-entry decision engine.
type Monitor struct {
	db      *gorm.DB
	gw      gateway.Gateway
	gate    *intake.Gate
	resolve ThresholdResolver
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an entry monitor.
func New(db *gorm.DB, gw gateway.Gateway, gate *intake.Gate, resolve ThresholdResolver, logger *zap.Logger) *Monitor {
	return &Monitor{db: db, gw: gw, gate: gate, resolve: resolve, logger: logger, now: time.Now}
}

// HandleSignal admits a new signal. At most one MONITORING alert exists per
// (account, symbol, mode): an active alert is replaced only when the new
// signal price is strictly lower, otherwise the signal is ignored and the
// active alert is returned unchanged.
func (m *Monitor) HandleSignal(ctx context.Context, sig Signal) (*models.WebhookMonitorAlert, error) {
	symbol, err := intake.NormalizeSymbol(sig.Symbol)
	if err != nil {
		return nil, err
	}
	if sig.Price.Sign() <= 0 {
		return nil, fmt.Errorf("signal price must be positive, got %s", sig.Price)
	}

	var active models.WebhookMonitorAlert
	err = m.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND mode = ? AND state = ?", sig.AccountID, symbol, sig.Mode, models.AlertMonitoring).
		First(&active).Error
	switch {
	case err == nil:
		if !sig.Price.LessThan(active.PriceAlert) {
			m.logger.Debug("Ignoring signal, active alert has lower or equal price",
				zap.Uint("alert_id", active.ID),
				zap.String("signal_price", sig.Price.String()),
			)
			return &active, nil
		}
		if err := m.terminate(ctx, active.ID, models.AlertCancelled, "cheaper alert"); err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		cooldown := m.resolve(sig.AccountID).Cooldown
		if cooldown > 0 {
			var executed models.WebhookMonitorAlert
			err := m.db.WithContext(ctx).
				Where("account_id = ? AND symbol = ? AND mode = ? AND state = ?", sig.AccountID, symbol, sig.Mode, models.AlertExecuted).
				Where("executed_at > ?", m.now().Add(-cooldown)).
				First(&executed).Error
			if err == nil {
				return nil, fmt.Errorf("%w: alert %d executed at %s", ErrCooldownActive, executed.ID, executed.ExecutedAt)
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("cooldown check failed: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("could not look up active alert: %w", err)
	}

	alert := models.WebhookMonitorAlert{
		SourceEventID: sig.SourceEventID,
		AccountID:     sig.AccountID,
		Symbol:        symbol,
		Mode:          sig.Mode,
		PriceAlert:    sig.Price,
		PriceMinimum:  sig.Price,
		CurrentPrice:  sig.Price,
		State:         models.AlertMonitoring,
	}
	if err := m.db.WithContext(ctx).Create(&alert).Error; err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	m.logger.Info("Monitoring new entry alert",
		zap.Uint("alert_id", alert.ID),
		zap.String("symbol", symbol),
		zap.String("price", sig.Price.String()),
	)
	return &alert, nil
}

// Tick evaluates every MONITORING alert against a fresh price sample. One
// alert's failure is logged and does not abort the batch; only the initial
// alert query fails the whole tick.
func (m *Monitor) Tick(ctx context.Context) error {
	var alerts []models.WebhookMonitorAlert
	if err := m.db.WithContext(ctx).Where("state = ?", models.AlertMonitoring).Find(&alerts).Error; err != nil {
		return fmt.Errorf("could not load monitoring alerts: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(alerts))
	for i := range alerts {
		alert := &alerts[i]

		price, ok := prices[alert.Symbol]
		if !ok {
			var err error
			price, err = m.gw.FetchTicker(ctx, alert.Symbol)
			if err != nil {
				m.logger.Warn("Skipping alert, price fetch failed",
					zap.Uint("alert_id", alert.ID),
					zap.String("symbol", alert.Symbol),
					zap.Error(err),
				)
				continue
			}
			prices[alert.Symbol] = price
		}

		if err := m.evaluate(ctx, alert, price); err != nil {
			m.logger.Error("Alert evaluation failed",
				zap.Uint("alert_id", alert.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// evaluate advances one alert by one cycle.
func (m *Monitor) evaluate(ctx context.Context, alert *models.WebhookMonitorAlert, price decimal.Decimal) error {
	th := m.resolve(alert.AccountID)

	var tr trend
	if price.LessThan(alert.PriceMinimum) {
		alert.PriceMinimum = price
		alert.CyclesWithoutNewLow = 0
		tr = trendFalling
	} else {
		alert.CyclesWithoutNewLow++
		deviationPct, _ := price.Sub(alert.PriceMinimum).
			Div(alert.PriceMinimum).
			Mul(decimal.NewFromInt(100)).
			Float64()
		switch {
		case deviationPct <= th.LateralTolerancePct:
			tr = trendLateral
		case deviationPct >= th.RiseTriggerPct:
			tr = trendRising
		default:
			tr = trendFalling
		}
	}
	alert.CurrentPrice = price

	updates := map[string]interface{}{
		"price_minimum":          alert.PriceMinimum,
		"current_price":          alert.CurrentPrice,
		"cycles_without_new_low": alert.CyclesWithoutNewLow,
	}
	if err := m.db.WithContext(ctx).Model(&models.WebhookMonitorAlert{}).
		Where("id = ? AND state = ?", alert.ID, models.AlertMonitoring).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to persist alert cycle: %w", err)
	}

	// Protection checks run regardless of trend.
	fallPct, _ := alert.PriceAlert.Sub(alert.PriceMinimum).
		Div(alert.PriceAlert).
		Mul(decimal.NewFromInt(100)).
		Float64()
	if th.MaxFallPct > 0 && fallPct > th.MaxFallPct {
		return m.terminate(ctx, alert.ID, models.AlertCancelled,
			fmt.Sprintf("fall protection: %.2f%% below alert price", fallPct))
	}
	if th.MaxMonitoringTime > 0 && m.now().Sub(alert.CreatedAt) > th.MaxMonitoringTime {
		return m.terminate(ctx, alert.ID, models.AlertCancelled, "monitoring window expired")
	}

	switch {
	case tr == trendLateral && alert.CyclesWithoutNewLow >= th.LateralCyclesMin:
		return m.execute(ctx, alert, "lateral stabilization")
	case tr == trendRising && alert.CyclesWithoutNewLow >= th.RiseCyclesMin:
		return m.execute(ctx, alert, "rise confirmation")
	}
	return nil
}

// execute converts the alert into a MARKET BUY through the intake gate and
// marks it EXECUTED.
func (m *Monitor) execute(ctx context.Context, alert *models.WebhookMonitorAlert, exitReason string) error {
	job, err := m.gate.CreateOrder(ctx, intake.Request{
		AccountID:   alert.AccountID,
		Mode:        alert.Mode,
		Symbol:      alert.Symbol,
		Side:        models.SideBuy,
		OrderType:   models.OrderTypeMarket,
		Origin:      models.OriginWebhook,
		FromWebhook: true,
	})
	if err != nil {
		// Alert stays MONITORING; the condition is re-evaluated next tick.
		return fmt.Errorf("buy order creation failed: %w", err)
	}
	if job.Status == models.JobSkipped {
		m.logger.Info("Entry buy skipped by intake gate",
			zap.Uint("alert_id", alert.ID),
			zap.Uint("job_id", job.ID),
			zap.String("reason_code", job.ReasonCode),
		)
		return nil
	}

	now := m.now()
	res := m.db.WithContext(ctx).Model(&models.WebhookMonitorAlert{}).
		Where("id = ? AND state = ?", alert.ID, models.AlertMonitoring).
		Updates(map[string]interface{}{
			"state":           models.AlertExecuted,
			"exit_reason":     exitReason,
			"executed_job_id": job.ID,
			"executed_at":     &now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark alert executed: %w", res.Error)
	}

	m.logger.Info("Entry alert executed",
		zap.Uint("alert_id", alert.ID),
		zap.Uint("job_id", job.ID),
		zap.String("exit_reason", exitReason),
	)
	return nil
}

// terminate moves an alert to a terminal state. The conditional update
// guarantees a terminal alert is never mutated again, even under concurrent
// monitor runs.
func (m *Monitor) terminate(ctx context.Context, alertID uint, state models.AlertState, reason string) error {
	updates := map[string]interface{}{"state": state}
	if state == models.AlertCancelled {
		updates["cancel_reason"] = reason
	}
	res := m.db.WithContext(ctx).Model(&models.WebhookMonitorAlert{}).
		Where("id = ? AND state = ?", alertID, models.AlertMonitoring).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to terminate alert %d: %w", alertID, res.Error)
	}
	if res.RowsAffected > 0 {
		m.logger.Info("Entry alert terminated",
			zap.Uint("alert_id", alertID),
			zap.String("state", string(state)),
			zap.String("reason", reason),
		)
	}
	return nil
}

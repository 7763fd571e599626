// Package exit scans open protected positions each tick and converts
// percentage thresholds crossed by the live price into sell orders.
package exit

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mayconvmartins/mvcashnode-sub001/internal/gateway"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/intake"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/models"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/notify"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/profitguard"
)

// Monitor is the SL/TP/Trailing/Stop-Gain decision engine.
type Monitor struct {
	db        *gorm.DB
	gw        gateway.Gateway
	gate      *intake.Gate
	guard     *profitguard.Guard
	publisher notify.Publisher
	logger    *zap.Logger
}

// New creates an exit monitor.
func New(db *gorm.DB, gw gateway.Gateway, gate *intake.Gate, guard *profitguard.Guard, publisher notify.Publisher, logger *zap.Logger) *Monitor {
	return &Monitor{db: db, gw: gw, gate: gate, guard: guard, publisher: publisher, logger: logger}
}

// Tick evaluates every open position with at least one risk control enabled.
// A position's failure is logged and does not abort the batch; only the
// initial query fails the whole tick.
func (m *Monitor) Tick(ctx context.Context) error {
	var positions []models.TradePosition
	err := m.db.WithContext(ctx).
		Where("status = ?", models.PositionOpen).
		Where("sl_enabled OR tp_enabled OR sg_enabled OR trailing_enabled OR tsg_enabled").
		Find(&positions).Error
	if err != nil {
		return fmt.Errorf("could not load protected positions: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(positions))
	for i := range positions {
		position := &positions[i]

		price, ok := prices[position.Symbol]
		if !ok {
			price, err = m.gw.FetchTicker(ctx, position.Symbol)
			if err != nil {
				m.logger.Warn("Skipping position, price fetch failed",
					zap.Uint("position_id", position.ID),
					zap.String("symbol", position.Symbol),
					zap.Error(err),
				)
				continue
			}
			prices[position.Symbol] = price
		}

		if err := m.evaluate(ctx, position, price); err != nil {
			m.logger.Error("Position evaluation failed",
				zap.Uint("position_id", position.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// evaluate runs the rule table against one position.
func (m *Monitor) evaluate(ctx context.Context, position *models.TradePosition, price decimal.Decimal) error {
	if position.PriceOpen.Sign() <= 0 {
		return fmt.Errorf("position %d has no open price", position.ID)
	}
	pnlPct, _ := price.Sub(position.PriceOpen).
		Div(position.PriceOpen).
		Mul(hundred).
		Float64()

	if err := m.ratchetHighWaterMarks(ctx, position, price); err != nil {
		return err
	}

	for i := range exitRules {
		r := &exitRules[i]
		if !r.enabled(position) || r.triggered(position) || !r.activated(position, price, pnlPct) {
			continue
		}

		target := r.targetPrice(position, price)
		if !r.bypassGuard {
			res := m.guard.Validate(ctx, profitguard.Input{
				AccountID:         position.AccountID,
				Symbol:            position.Symbol,
				PriceOpen:         position.PriceOpen,
				Origin:            r.origin,
				SellPriceHint:     &target,
				MinProfitOverride: position.MinProfitPct,
			})
			if !res.Valid {
				// Skipped silently; the condition is re-evaluated next tick.
				m.logger.Debug("Exit trigger held back by profit guard",
					zap.Uint("position_id", position.ID),
					zap.String("rule", r.name),
					zap.Float64("profit_pct", res.ProfitPct),
					zap.Float64("min_profit_pct", res.MinProfitPct),
				)
				continue
			}
		}

		fired, err := m.fire(ctx, position, r, target)
		if err != nil {
			return err
		}
		if fired {
			return nil
		}
	}
	return nil
}

// ratchetHighWaterMarks persists any increase of the trailing high-water
// marks. The conditional update makes the ratchet monotonic under concurrent
// monitor runs: the mark only ever goes up.
func (m *Monitor) ratchetHighWaterMarks(ctx context.Context, position *models.TradePosition, price decimal.Decimal) error {
	if position.TrailingEnabled && price.GreaterThan(position.TrailingMaxPrice) {
		res := m.db.WithContext(ctx).Model(&models.TradePosition{}).
			Where("id = ? AND trailing_max_price < ?", position.ID, price).
			Update("trailing_max_price", price)
		if res.Error != nil {
			return fmt.Errorf("failed to ratchet trailing max price: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			position.TrailingMaxPrice = price
		}
	}
	if position.TSGEnabled && price.GreaterThan(position.TSGMaxPrice) {
		res := m.db.WithContext(ctx).Model(&models.TradePosition{}).
			Where("id = ? AND tsg_max_price < ?", position.ID, price).
			Update("tsg_max_price", price)
		if res.Error != nil {
			return fmt.Errorf("failed to ratchet trailing stop-gain max price: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			position.TSGMaxPrice = price
		}
	}
	return nil
}

// fire claims the rule's one-shot flag and creates the LIMIT sell. The flag
// claim is a compare-and-swap at the storage layer, so two concurrent ticks
// cannot both sell for the same condition. When order creation fails the
// claim is released so the trigger can re-fire next tick.
func (m *Monitor) fire(ctx context.Context, position *models.TradePosition, r *rule, target decimal.Decimal) (bool, error) {
	claim := m.db.WithContext(ctx).Model(&models.TradePosition{}).
		Where("id = ?", position.ID).
		Where(r.flagColumn+" = ?", false).
		Update(r.flagColumn, true)
	if claim.Error != nil {
		return false, fmt.Errorf("failed to claim %s flag: %w", r.name, claim.Error)
	}
	if claim.RowsAffected == 0 {
		// A concurrent run already claimed this trigger.
		return false, nil
	}

	qty := position.QtyRemaining
	job, err := m.gate.CreateOrder(ctx, intake.Request{
		AccountID:         position.AccountID,
		Mode:              position.Mode,
		Symbol:            position.Symbol,
		Side:              models.SideSell,
		OrderType:         models.OrderTypeLimit,
		Quantity:          &qty,
		LimitPrice:        &target,
		PositionIDToClose: &position.ID,
		Origin:            r.origin,
	})
	if err != nil {
		m.release(ctx, position.ID, r)
		var dup *intake.DuplicateOrderError
		if errors.As(err, &dup) {
			m.logger.Warn("Exit sell blocked by existing open sell job",
				zap.Uint("position_id", position.ID),
				zap.String("rule", r.name),
				zap.Uint("conflicting_job_id", dup.ConflictingJobID),
			)
			return false, nil
		}
		return false, fmt.Errorf("%s sell creation failed: %w", r.name, err)
	}

	m.logger.Info("Exit trigger fired",
		zap.Uint("position_id", position.ID),
		zap.String("rule", r.name),
		zap.Uint("job_id", job.ID),
		zap.String("limit_price", target.String()),
	)
	if m.publisher != nil {
		m.publisher.Publish(notify.Intent{PositionID: position.ID, Kind: r.notifyKind})
	}
	return true, nil
}

// release undoes a flag claim after a failed order creation.
func (m *Monitor) release(ctx context.Context, positionID uint, r *rule) {
	if err := m.db.WithContext(ctx).Model(&models.TradePosition{}).
		Where("id = ?", positionID).
		Update(r.flagColumn, false).Error; err != nil {
		m.logger.Error("Failed to release trigger flag",
			zap.Uint("position_id", positionID),
			zap.String("rule", r.name),
			zap.Error(err),
		)
	}
}

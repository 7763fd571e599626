// Package executor takes PENDING trade jobs to the exchange and reconciles
// the results into the position ledger. It is invoked through the scheduler,
// which retries a failed execution a bounded number of times.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mayconvmartins/mvcashnode-sub001/internal/gateway"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/intake"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/ledger"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/models"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/notify"
)

// qtyPrecision is the decimal precision used when deriving a base quantity
// from a quote amount.
const qtyPrecision = 8

// Executor submits jobs and applies the resulting fills.
type Executor struct {
	db        *gorm.DB
	gw        gateway.Gateway
	ledger    *ledger.Ledger
	gate      *intake.Gate
	publisher notify.Publisher
	logger    *zap.Logger
}

// New creates an executor.
func New(db *gorm.DB, gw gateway.Gateway, l *ledger.Ledger, gate *intake.Gate, publisher notify.Publisher, logger *zap.Logger) *Executor {
	return &Executor{db: db, gw: gw, ledger: l, gate: gate, publisher: publisher, logger: logger}
}

// ExecuteJob drives one job from PENDING to a terminal state. It is safe to
// call more than once for the same job: the status transition is conditional
// and the exchange deduplicates by client order id.
func (e *Executor) ExecuteJob(ctx context.Context, jobID uint) error {
	claim := e.db.WithContext(ctx).Model(&models.TradeJob{}).
		Where("id = ? AND status IN ?", jobID, []models.JobStatus{models.JobPending, models.JobExecuting}).
		Update("status", models.JobExecuting)
	if claim.Error != nil {
		return fmt.Errorf("failed to claim job %d: %w", jobID, claim.Error)
	}
	if claim.RowsAffected == 0 {
		// Already terminal or parked as PENDING_LIMIT; nothing to do.
		return nil
	}

	var job models.TradeJob
	if err := e.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		return fmt.Errorf("could not load job %d: %w", jobID, err)
	}

	qty, err := e.resolveQuantity(ctx, &job)
	if err != nil {
		return err
	}
	if qty == nil {
		// Soft terminal: the job had no sizing and none could be derived.
		return e.gate.UpdateStatus(ctx, job.ID, models.JobSkipped, intake.ReasonNoSizing, "no quantity or quote amount to execute")
	}

	if job.Mode == models.ModeSimulation {
		return e.executeSimulated(ctx, &job, *qty)
	}
	return e.executeReal(ctx, &job, *qty)
}

// resolveQuantity returns the base quantity to submit, deriving it from the
// quote amount at the live price when necessary. Nil means the job is
// unsized and must be skipped.
func (e *Executor) resolveQuantity(ctx context.Context, job *models.TradeJob) (*decimal.Decimal, error) {
	if job.Quantity.Valid && job.Quantity.Decimal.Sign() > 0 {
		return &job.Quantity.Decimal, nil
	}
	if !job.QuoteAmount.Valid || job.QuoteAmount.Decimal.Sign() <= 0 {
		return nil, nil
	}

	price, err := e.gw.FetchTicker(ctx, job.Symbol)
	if err != nil {
		return nil, fmt.Errorf("could not price quote amount for job %d: %w", job.ID, err)
	}
	qty := job.QuoteAmount.Decimal.DivRound(price, qtyPrecision)
	if qty.Sign() <= 0 {
		return nil, nil
	}
	return &qty, nil
}

// executeSimulated synthesizes a fill at the live price without touching the
// exchange. Simulation jobs follow the exact same ledger path as real ones.
func (e *Executor) executeSimulated(ctx context.Context, job *models.TradeJob, qty decimal.Decimal) error {
	var fillPrice decimal.Decimal
	if job.OrderType == models.OrderTypeLimit && job.LimitPrice.Valid {
		fillPrice = job.LimitPrice.Decimal
	} else {
		var err error
		fillPrice, err = e.gw.FetchTicker(ctx, job.Symbol)
		if err != nil {
			return fmt.Errorf("could not fetch fill price for simulated job %d: %w", job.ID, err)
		}
	}

	execution := models.TradeExecution{
		JobID:       job.ID,
		ExecutedQty: qty,
		AvgPrice:    fillPrice,
	}
	if err := e.db.WithContext(ctx).Create(&execution).Error; err != nil {
		return fmt.Errorf("failed to record simulated execution: %w", err)
	}
	return e.applyExecution(ctx, job, qty, fillPrice)
}

// executeReal submits the order to the exchange. Market orders are applied
// immediately; limit orders that do not fill right away park as
// PENDING_LIMIT for the reconciliation loop.
func (e *Executor) executeReal(ctx context.Context, job *models.TradeJob, qty decimal.Decimal) error {
	req := gateway.OrderRequest{
		Symbol:        job.Symbol,
		Side:          string(job.Side),
		Type:          string(job.OrderType),
		Quantity:      qty,
		ClientOrderID: job.ClientOrderID,
	}
	if job.OrderType == models.OrderTypeLimit {
		req.LimitPrice = job.LimitPrice.Decimal
	}

	result, err := e.gw.CreateOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("exchange rejected job %d: %w", job.ID, err)
	}

	if err := e.db.WithContext(ctx).Model(job).
		Update("exchange_order_id", result.ExchangeOrderID).Error; err != nil {
		return fmt.Errorf("failed to store exchange order id for job %d: %w", job.ID, err)
	}

	if !result.Filled() {
		// Resting or partially filled limit order; the reconciliation loop
		// applies the fills once the order leaves the book.
		return e.markPendingLimit(ctx, job)
	}

	execution := models.TradeExecution{
		JobID:           job.ID,
		ExecutedQty:     result.ExecutedQty,
		AvgPrice:        result.AvgPrice(),
		ExchangeOrderID: result.ExchangeOrderID,
	}
	if err := e.db.WithContext(ctx).Create(&execution).Error; err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return e.applyExecution(ctx, job, result.ExecutedQty, execution.AvgPrice)
}

func (e *Executor) markPendingLimit(ctx context.Context, job *models.TradeJob) error {
	if err := e.db.WithContext(ctx).Model(job).
		Where("status = ?", models.JobExecuting).
		Update("status", models.JobPendingLimit).Error; err != nil {
		return fmt.Errorf("failed to park job %d as pending limit: %w", job.ID, err)
	}
	e.logger.Info("Limit order resting on exchange",
		zap.Uint("job_id", job.ID),
		zap.String("exchange_order_id", job.ExchangeOrderID),
	)
	return nil
}

// applyExecution routes a fill into the ledger and finalizes the job status.
func (e *Executor) applyExecution(ctx context.Context, job *models.TradeJob, executedQty, avgPrice decimal.Decimal) error {
	status, message, err := e.applyFill(ctx, job, executedQty, avgPrice)
	if err != nil {
		return err
	}
	return e.gate.UpdateStatus(ctx, job.ID, status, "", message)
}

// applyFill routes a fill into the ledger and returns the job status the fill
// implies, leaving the actual status transition to the caller.
func (e *Executor) applyFill(ctx context.Context, job *models.TradeJob, executedQty, avgPrice decimal.Decimal) (models.JobStatus, string, error) {
	switch job.Side {
	case models.SideBuy:
		positionID, err := e.ledger.ApplyBuy(ctx, job.ID, executedQty, avgPrice)
		if err != nil {
			return "", "", fmt.Errorf("ledger rejected buy for job %d: %w", job.ID, err)
		}
		if err := e.applyRiskDefaults(ctx, job, positionID); err != nil {
			e.logger.Warn("Could not apply risk defaults to new position",
				zap.Uint("position_id", positionID),
				zap.Error(err),
			)
		}
		if e.publisher != nil {
			e.publisher.Publish(notify.Intent{PositionID: positionID, Kind: notify.KindPositionOpened})
		}
		return models.JobFilled, "", nil

	case models.SideSell:
		result, err := e.ledger.ApplySell(ctx, job.ID, executedQty, avgPrice, job.Origin)
		if err != nil {
			return "", "", fmt.Errorf("ledger rejected sell for job %d: %w", job.ID, err)
		}
		if e.publisher != nil && result.Closed {
			e.publisher.Publish(notify.Intent{PositionID: result.PositionID, Kind: notify.KindPositionClosed})
		}
		if result.Remainder.Sign() > 0 {
			// The excess is reported, not silently dropped.
			return models.JobPartiallyFilled,
				fmt.Sprintf("position held only %s of requested %s", result.QtyClosed, executedQty), nil
		}
		return models.JobFilled, "", nil
	}
	return "", "", fmt.Errorf("job %d has unknown side %q", job.ID, job.Side)
}

// applyRiskDefaults copies the account's default stop-loss and take-profit
// onto a freshly opened position.
func (e *Executor) applyRiskDefaults(ctx context.Context, job *models.TradeJob, positionID uint) error {
	var param models.TradeParameter
	err := e.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND side = ? AND enabled = ?", job.AccountID, job.Symbol, models.SideBuy, true).
		First(&param).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if param.DefaultSLPct != nil && *param.DefaultSLPct > 0 {
		updates["sl_enabled"] = true
		updates["sl_pct"] = *param.DefaultSLPct
	}
	if param.DefaultTPPct != nil && *param.DefaultTPPct > 0 {
		updates["tp_enabled"] = true
		updates["tp_pct"] = *param.DefaultTPPct
	}
	if param.MinProfitPct != nil {
		updates["min_profit_pct"] = *param.MinProfitPct
	}
	if len(updates) == 0 {
		return nil
	}
	return e.db.WithContext(ctx).Model(&models.TradePosition{}).
		Where("id = ?", positionID).
		Updates(updates).Error
}

// ReconcilePendingLimit polls resting limit orders on the exchange and
// applies any fills that happened since the last pass. One job's failure is
// logged and does not abort the batch.
func (e *Executor) ReconcilePendingLimit(ctx context.Context) error {
	var jobs []models.TradeJob
	err := e.db.WithContext(ctx).
		Where("status = ? AND exchange_order_id <> ''", models.JobPendingLimit).
		Find(&jobs).Error
	if err != nil {
		return fmt.Errorf("could not load pending limit jobs: %w", err)
	}

	for i := range jobs {
		job := &jobs[i]
		if err := e.reconcileOne(ctx, job); err != nil {
			e.logger.Error("Limit order reconciliation failed",
				zap.Uint("job_id", job.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (e *Executor) reconcileOne(ctx context.Context, job *models.TradeJob) error {
	result, err := e.gw.FetchOrder(ctx, job.ExchangeOrderID, job.Symbol)
	if err != nil {
		return fmt.Errorf("could not fetch order %s: %w", job.ExchangeOrderID, err)
	}

	terminal := false
	switch result.Status {
	case "FILLED", "CANCELED", "EXPIRED", "REJECTED":
		terminal = true
	}
	if !terminal {
		// Still working on the book; check again next pass.
		return nil
	}

	// Sum what we already applied so a fill never reaches the ledger twice.
	var applied decimal.Decimal
	var executions []models.TradeExecution
	if err := e.db.WithContext(ctx).Where("job_id = ?", job.ID).Find(&executions).Error; err != nil {
		return fmt.Errorf("could not load executions for job %d: %w", job.ID, err)
	}
	for _, ex := range executions {
		applied = applied.Add(ex.ExecutedQty)
	}

	delta := result.ExecutedQty.Sub(applied)
	if delta.Sign() > 0 {
		execution := models.TradeExecution{
			JobID:           job.ID,
			ExecutedQty:     delta,
			AvgPrice:        result.AvgPrice(),
			ExchangeOrderID: result.ExchangeOrderID,
		}
		if err := e.db.WithContext(ctx).Create(&execution).Error; err != nil {
			return fmt.Errorf("failed to record execution: %w", err)
		}
		if result.Filled() {
			return e.applyExecution(ctx, job, delta, execution.AvgPrice)
		}
		// Canceled after a partial fill: apply what executed, then record
		// the truncated outcome instead of the status the fill implies.
		if _, _, err := e.applyFill(ctx, job, delta, execution.AvgPrice); err != nil {
			return err
		}
		return e.gate.UpdateStatus(ctx, job.ID, models.JobPartiallyFilled, intake.ReasonExchangeError,
			fmt.Sprintf("order %s on exchange after partial fill", result.Status))
	}

	if !result.Filled() {
		return e.gate.UpdateStatus(ctx, job.ID, models.JobCanceled, intake.ReasonExchangeError,
			fmt.Sprintf("order %s on exchange", result.Status))
	}
	return nil
}

// Package intake is the single entry point for order creation. Every buy or
// sell, whether webhook-driven, monitor-driven or manual, becomes a TradeJob
// here or not at all.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mayconvmartins/mvcashnode-sub001/internal/gateway"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/models"
)

// Dispatcher hands a freshly created job to the execution pipeline. It is
// optional; when nil, jobs stay PENDING until something else picks them up.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID uint)
}

// Request carries everything needed to create an order intent.
type Request struct {
	AccountID uint
	Mode      models.TradeMode
	Symbol    string
	Side      models.OrderSide
	OrderType models.OrderType

	// Quantity and QuoteAmount are alternative sizings. A BUY may carry
	// neither; sizing is then resolved from trade parameters, or deferred.
	Quantity    *decimal.Decimal
	QuoteAmount *decimal.Decimal
	LimitPrice  *decimal.Decimal

	PositionIDToClose *uint
	Origin            models.SellOrigin
	FromWebhook       bool
}

// Gate validates and persists order requests.
type Gate struct {
	db         *gorm.DB
	gw         gateway.Gateway
	dispatcher Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// NewGate creates an order intake gate. The gateway is only used for
// balance-percentage sizing and may be a read-only client.
func NewGate(db *gorm.DB, gw gateway.Gateway, logger *zap.Logger) *Gate {
	return &Gate{db: db, gw: gw, logger: logger, now: time.Now}
}

// SetDispatcher wires the execution pipeline. Called once during startup.
func (g *Gate) SetDispatcher(d Dispatcher) {
	g.dispatcher = d
}

// CreateOrder runs the validation chain and persists the job. Hard failures
// return an error and persist nothing. Soft rejections (rate limit, locked
// position) persist a SKIPPED job with a reason code and return it without
// error; callers check the status.
func (g *Gate) CreateOrder(ctx context.Context, req Request) (*models.TradeJob, error) {
	symbol, err := NormalizeSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}

	// A webhook-originated sell is always a LIMIT order.
	if req.Side == models.SideSell && req.FromWebhook {
		req.OrderType = models.OrderTypeLimit
	}

	if req.Side == models.SideSell {
		if req.PositionIDToClose == nil {
			return nil, &ValidationError{Field: "positionIdToClose", Message: "SELL requires an explicit position to close"}
		}
		if req.Quantity == nil || req.Quantity.Sign() <= 0 {
			return nil, &ValidationError{Field: "quantity", Message: "SELL requires a strictly positive quantity"}
		}
	}

	if req.OrderType == models.OrderTypeLimit || req.OrderType == models.OrderTypeStopLimit {
		if req.LimitPrice == nil || req.LimitPrice.Sign() <= 0 {
			return nil, &ValidationError{Field: "limitPrice", Message: string(req.OrderType) + " order requires a positive limit price"}
		}
	}

	job := models.TradeJob{
		AccountID:     req.AccountID,
		Mode:          req.Mode,
		Symbol:        symbol,
		Side:          req.Side,
		OrderType:     req.OrderType,
		Origin:        req.Origin,
		Status:        models.JobPending,
		ClientOrderID: uuid.NewString(),
	}
	if req.Quantity != nil {
		job.Quantity = decimal.NewNullDecimal(*req.Quantity)
	}
	if req.QuoteAmount != nil {
		job.QuoteAmount = decimal.NewNullDecimal(*req.QuoteAmount)
	}
	if req.LimitPrice != nil {
		job.LimitPrice = decimal.NewNullDecimal(*req.LimitPrice)
	}
	job.PositionIDToClose = req.PositionIDToClose
	if req.OrderType == models.OrderTypeImported {
		// History backfill only; an imported job is born terminal.
		job.Status = models.JobFilled
	}

	if req.Side == models.SideSell {
		if err := g.checkSellTarget(ctx, &job, req); err != nil {
			return nil, err
		}
		if job.Status == models.JobSkipped {
			if err := g.db.WithContext(ctx).Create(&job).Error; err != nil {
				return nil, fmt.Errorf("failed to persist skipped job: %w", err)
			}
			return &job, nil
		}
	}

	if req.Side == models.SideBuy && req.Quantity == nil && req.QuoteAmount == nil {
		if err := g.sizeBuy(ctx, &job); err != nil {
			return nil, err
		}
		if job.Status == models.JobSkipped {
			if err := g.db.WithContext(ctx).Create(&job).Error; err != nil {
				return nil, fmt.Errorf("failed to persist skipped job: %w", err)
			}
			return &job, nil
		}
	}

	// The duplicate-order check and the insert share one transaction so two
	// concurrent sells for the same position cannot both pass.
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.Side == models.SideSell {
			var conflicting models.TradeJob
			err := tx.
				Where("position_id_to_close = ?", *req.PositionIDToClose).
				Where("side = ?", models.SideSell).
				Where("status IN ?", models.NonTerminalSellStatuses).
				First(&conflicting).Error
			if err == nil {
				return &DuplicateOrderError{PositionID: *req.PositionIDToClose, ConflictingJobID: conflicting.ID}
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("duplicate check failed: %w", err)
			}
		}
		if err := tx.Create(&job).Error; err != nil {
			return fmt.Errorf("failed to persist job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("Created trade job",
		zap.Uint("job_id", job.ID),
		zap.String("symbol", job.Symbol),
		zap.String("side", string(job.Side)),
		zap.String("order_type", string(job.OrderType)),
		zap.String("origin", string(job.Origin)),
		zap.String("status", string(job.Status)),
	)

	if g.dispatcher != nil && job.Status == models.JobPending {
		g.dispatcher.Dispatch(ctx, job.ID)
	}
	return &job, nil
}

// checkSellTarget verifies the target position exists, is open, matches the
// request's account and mode, and is not locked against webhook sells.
func (g *Gate) checkSellTarget(ctx context.Context, job *models.TradeJob, req Request) error {
	var position models.TradePosition
	err := g.db.WithContext(ctx).First(&position, *req.PositionIDToClose).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ValidationError{Field: "positionIdToClose", Message: fmt.Sprintf("position %d does not exist", *req.PositionIDToClose)}
	}
	if err != nil {
		return fmt.Errorf("could not load position %d: %w", *req.PositionIDToClose, err)
	}
	if position.AccountID != req.AccountID || position.Mode != req.Mode {
		return &ValidationError{Field: "positionIdToClose", Message: fmt.Sprintf("position %d belongs to another account or mode", position.ID)}
	}
	if position.Status != models.PositionOpen {
		job.Status = models.JobSkipped
		job.ReasonCode = ReasonNoEligiblePosition
		job.ReasonMessage = fmt.Sprintf("position %d is already closed", position.ID)
		return nil
	}
	if req.FromWebhook && position.LockSellByWebhook {
		job.Status = models.JobSkipped
		job.ReasonCode = ReasonWebhookLocked
		job.ReasonMessage = fmt.Sprintf("position %d is locked against webhook sells", position.ID)
	}
	return nil
}

// sizeBuy resolves the quantity of a BUY without explicit sizing from the
// account's trade parameters. A missing parameter is not fatal; the job is
// created unsized and resolved later.
func (g *Gate) sizeBuy(ctx context.Context, job *models.TradeJob) error {
	var param models.TradeParameter
	err := g.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND side = ? AND enabled = ?", job.AccountID, job.Symbol, models.SideBuy, true).
		First(&param).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not load trade parameter: %w", err)
	}

	if reason := g.rateLimited(ctx, job, &param); reason != "" {
		job.Status = models.JobSkipped
		job.ReasonCode = ReasonRateLimited
		job.ReasonMessage = reason
		return nil
	}

	if param.QuoteAmount.Valid && param.QuoteAmount.Decimal.Sign() > 0 {
		job.QuoteAmount = param.QuoteAmount
		return nil
	}
	if param.BalancePct != nil && *param.BalancePct > 0 {
		balances, err := g.gw.FetchBalance(ctx)
		if err != nil {
			return fmt.Errorf("could not size order from balance: %w", err)
		}
		quote := gateway.QuoteAsset(job.Symbol)
		free := balances[quote].Free
		amount := free.Mul(decimal.NewFromFloat(*param.BalancePct / 100))
		if amount.Sign() > 0 {
			job.QuoteAmount = decimal.NewNullDecimal(amount)
		}
	}
	return nil
}

// rateLimited checks maxOrdersPerHour and minIntervalSec for the job's
// account+symbol+side key. Returns a human-readable reason when violated.
func (g *Gate) rateLimited(ctx context.Context, job *models.TradeJob, param *models.TradeParameter) string {
	if param.MaxOrdersPerHour > 0 {
		var count int64
		g.db.WithContext(ctx).Model(&models.TradeJob{}).
			Where("account_id = ? AND symbol = ? AND side = ?", job.AccountID, job.Symbol, job.Side).
			Where("status <> ?", models.JobSkipped).
			Where("created_at > ?", g.now().Add(-time.Hour)).
			Count(&count)
		if count >= int64(param.MaxOrdersPerHour) {
			return fmt.Sprintf("%d orders in the last hour (max %d)", count, param.MaxOrdersPerHour)
		}
	}
	if param.MinIntervalSec > 0 {
		var last models.TradeJob
		err := g.db.WithContext(ctx).
			Where("account_id = ? AND symbol = ? AND side = ?", job.AccountID, job.Symbol, job.Side).
			Where("status <> ?", models.JobSkipped).
			Order("created_at DESC").
			First(&last).Error
		if err == nil {
			elapsed := g.now().Sub(last.CreatedAt)
			if elapsed < time.Duration(param.MinIntervalSec)*time.Second {
				return fmt.Sprintf("last order %s ago (min interval %ds)", elapsed.Round(time.Second), param.MinIntervalSec)
			}
		}
	}
	return ""
}

// UpdateStatus performs an idempotent terminal-state transition on a job.
// Updating a job that already reached a terminal state is a no-op.
func (g *Gate) UpdateStatus(ctx context.Context, jobID uint, status models.JobStatus, reasonCode, reasonMessage string) error {
	var job models.TradeJob
	if err := g.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		return fmt.Errorf("could not load job %d: %w", jobID, err)
	}
	if job.Status == status || job.Status.IsTerminal() {
		return nil
	}

	updates := map[string]interface{}{"status": status}
	if reasonCode != "" {
		updates["reason_code"] = reasonCode
	}
	if reasonMessage != "" {
		updates["reason_message"] = reasonMessage
	}
	if err := g.db.WithContext(ctx).Model(&job).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update job %d status: %w", jobID, err)
	}

	g.logger.Info("Updated job status",
		zap.Uint("job_id", jobID),
		zap.String("from", string(job.Status)),
		zap.String("to", string(status)),
		zap.String("reason_code", reasonCode),
	)
	return nil
}

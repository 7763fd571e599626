// Package ledger owns TradePosition and PositionFill mutation. It is the only
// component allowed to change quantities and realized profit; monitors and
// the intake gate go through it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mayconvmartins/mvcashnode-sub001/internal/models"
)

// ErrInvalidJob is returned when an execution event is applied against a job
// of the wrong side, or a sell job without a target position.
var ErrInvalidJob = errors.New("invalid job for execution event")

// ErrPositionNotFound is returned when a sell references a missing or
// already-closed position.
var ErrPositionNotFound = errors.New("position not found")

// SellResult reports what a sell execution did to the target position.
// Remainder is the requested quantity that could not be applied because the
// position held less; callers mark the job partially filled when it is
// positive rather than dropping the excess silently.
type SellResult struct {
	PositionID uint
	QtyClosed  decimal.Decimal
	Remainder  decimal.Decimal
	Profit     decimal.Decimal
	Closed     bool
}

// Ledger applies buy and sell execution events to the position store.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// New creates a position ledger.
func New(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger, now: time.Now}
}

// ApplyBuy creates a new OPEN position from a buy execution and writes the
// corresponding fill row. It returns the new position id.
//
// The ledger does not deduplicate execution events; replaying the same buy
// twice creates two positions. Callers must guarantee each execution is
// applied exactly once.
func (l *Ledger) ApplyBuy(ctx context.Context, jobID uint, executedQty, avgPrice decimal.Decimal) (uint, error) {
	var positionID uint

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.TradeJob
		if err := tx.First(&job, jobID).Error; err != nil {
			return fmt.Errorf("could not load job %d: %w", jobID, err)
		}
		if job.Side != models.SideBuy {
			return fmt.Errorf("%w: job %d is not a BUY job", ErrInvalidJob, jobID)
		}
		if executedQty.Sign() <= 0 {
			return fmt.Errorf("%w: job %d executed quantity must be positive", ErrInvalidJob, jobID)
		}

		position := models.TradePosition{
			AccountID:    job.AccountID,
			Mode:         job.Mode,
			Symbol:       job.Symbol,
			Side:         models.SideBuy,
			QtyTotal:     executedQty,
			QtyRemaining: executedQty,
			PriceOpen:    avgPrice,
			Status:       models.PositionOpen,
		}
		if err := tx.Create(&position).Error; err != nil {
			return fmt.Errorf("failed to create position: %w", err)
		}

		fill := models.PositionFill{
			PositionID: position.ID,
			JobID:      jobID,
			Side:       models.SideBuy,
			Quantity:   executedQty,
			Price:      avgPrice,
		}
		if err := tx.Create(&fill).Error; err != nil {
			return fmt.Errorf("failed to create fill: %w", err)
		}

		positionID = position.ID
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.logger.Info("Opened position",
		zap.Uint("position_id", positionID),
		zap.Uint("job_id", jobID),
		zap.String("qty", executedQty.String()),
		zap.String("price", avgPrice.String()),
	)
	return positionID, nil
}

// ApplySell applies a sell execution to the position referenced by the job's
// PositionIDToClose, decrementing the remaining quantity and accumulating
// realized profit. When the position empties it is closed with a reason
// derived from the sell origin.
func (l *Ledger) ApplySell(ctx context.Context, jobID uint, executedQty, avgPrice decimal.Decimal, origin models.SellOrigin) (*SellResult, error) {
	var result SellResult

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.TradeJob
		if err := tx.First(&job, jobID).Error; err != nil {
			return fmt.Errorf("could not load job %d: %w", jobID, err)
		}
		if job.Side != models.SideSell {
			return fmt.Errorf("%w: job %d is not a SELL job", ErrInvalidJob, jobID)
		}
		if job.PositionIDToClose == nil {
			return fmt.Errorf("%w: job %d has no position to close", ErrInvalidJob, jobID)
		}
		if executedQty.Sign() <= 0 {
			return fmt.Errorf("%w: job %d executed quantity must be positive", ErrInvalidJob, jobID)
		}

		var position models.TradePosition
		err := tx.First(&position, *job.PositionIDToClose).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: id %d", ErrPositionNotFound, *job.PositionIDToClose)
		}
		if err != nil {
			return fmt.Errorf("could not load position %d: %w", *job.PositionIDToClose, err)
		}
		if position.Status != models.PositionOpen {
			return fmt.Errorf("%w: position %d is already closed", ErrPositionNotFound, position.ID)
		}

		qtyClosed := executedQty
		if qtyClosed.GreaterThan(position.QtyRemaining) {
			qtyClosed = position.QtyRemaining
		}
		remainder := executedQty.Sub(qtyClosed)
		profit := avgPrice.Sub(position.PriceOpen).Mul(qtyClosed)

		updates := map[string]interface{}{
			"qty_remaining":       position.QtyRemaining.Sub(qtyClosed),
			"realized_profit_usd": position.RealizedProfitUSD.Add(profit),
		}
		closed := position.QtyRemaining.Sub(qtyClosed).IsZero()
		if closed {
			now := l.now()
			updates["status"] = models.PositionClosed
			updates["close_reason"] = models.CloseReasonForOrigin(origin)
			updates["closed_at"] = &now
		}
		if err := tx.Model(&position).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update position %d: %w", position.ID, err)
		}

		fill := models.PositionFill{
			PositionID: position.ID,
			JobID:      jobID,
			Side:       models.SideSell,
			Quantity:   qtyClosed,
			Price:      avgPrice,
		}
		if err := tx.Create(&fill).Error; err != nil {
			return fmt.Errorf("failed to create fill: %w", err)
		}

		result = SellResult{
			PositionID: position.ID,
			QtyClosed:  qtyClosed,
			Remainder:  remainder,
			Profit:     profit,
			Closed:     closed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Applied sell to position",
		zap.Uint("position_id", result.PositionID),
		zap.Uint("job_id", jobID),
		zap.String("origin", string(origin)),
		zap.String("qty_closed", result.QtyClosed.String()),
		zap.String("profit", result.Profit.String()),
		zap.Bool("closed", result.Closed),
	)
	return &result, nil
}

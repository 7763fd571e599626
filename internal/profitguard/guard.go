// Package profitguard gates non-loss-cutting sells against a configured
// minimum-profit floor.
package profitguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mayconvmartins/mvcashnode-sub001/internal/gateway"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/models"
)

// Input describes the sell being validated. SellPriceHint, when set, is used
// instead of a live ticker (webhook reference prices, computed trigger
// prices). MinProfitOverride is the position-level override of the
// account+symbol threshold.
type Input struct {
	AccountID         uint
	Symbol            string
	PriceOpen         decimal.Decimal
	Origin            models.SellOrigin
	SellPriceHint     *decimal.Decimal
	MinProfitOverride *float64
}

// Result reports the validation outcome. ProfitPct and MinProfitPct are only
// meaningful when a threshold was actually evaluated.
type Result struct {
	Valid        bool
	ProfitPct    float64
	MinProfitPct float64
	Reason       string
}

// Guard validates sells against the minimum-profit gate.
type Guard struct {
	db     *gorm.DB
	gw     gateway.Gateway
	logger *zap.Logger
}

// New creates a profit guard.
func New(db *gorm.DB, gw gateway.Gateway, logger *zap.Logger) *Guard {
	return &Guard{db: db, gw: gw, logger: logger}
}

// Validate applies the minimum-profit gate. Stop-loss sells are always valid:
// loss cutting must never be blocked. A price-feed failure also validates
// (fail-open): trading must not stall on a transient feed outage.
func (g *Guard) Validate(ctx context.Context, in Input) Result {
	if in.Origin == models.OriginStopLoss {
		return Result{Valid: true, Reason: "stop loss is never blocked"}
	}

	minPct, ok := g.resolveMinProfit(ctx, in)
	if !ok {
		return Result{Valid: true, Reason: "no minimum profit configured"}
	}

	var price decimal.Decimal
	if in.SellPriceHint != nil {
		price = *in.SellPriceHint
	} else {
		var err error
		price, err = g.gw.FetchTicker(ctx, in.Symbol)
		if err != nil {
			// Fail open. Availability over strictness: a sell must not be
			// held hostage by the price feed.
			g.logger.Warn("Profit guard failing open on price fetch error",
				zap.String("symbol", in.Symbol),
				zap.Error(err),
			)
			return Result{Valid: true, MinProfitPct: minPct, Reason: "price feed unavailable, failing open"}
		}
	}

	if in.PriceOpen.Sign() <= 0 {
		return Result{Valid: true, MinProfitPct: minPct, Reason: "open price unavailable"}
	}

	profitPct, _ := price.Sub(in.PriceOpen).
		Div(in.PriceOpen).
		Mul(decimal.NewFromInt(100)).
		Float64()

	if profitPct >= minPct {
		return Result{Valid: true, ProfitPct: profitPct, MinProfitPct: minPct}
	}
	return Result{
		Valid:        false,
		ProfitPct:    profitPct,
		MinProfitPct: minPct,
		Reason:       fmt.Sprintf("profit %.4f%% below minimum %.4f%%", profitPct, minPct),
	}
}

// resolveMinProfit returns the applicable threshold: the position override
// when provided, otherwise the account+symbol trade parameter. The second
// return is false when no threshold is configured at all.
func (g *Guard) resolveMinProfit(ctx context.Context, in Input) (float64, bool) {
	if in.MinProfitOverride != nil {
		return *in.MinProfitOverride, true
	}

	var param models.TradeParameter
	err := g.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND side = ?", in.AccountID, in.Symbol, models.SideSell).
		First(&param).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			g.logger.Warn("Could not load trade parameter for profit guard", zap.Error(err))
		}
		return 0, false
	}
	if param.MinProfitPct == nil {
		return 0, false
	}
	return *param.MinProfitPct, true
}

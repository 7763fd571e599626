package exit

import (
	"github.com/shopspring/decimal"

	"github.com/mayconvmartins/mvcashnode-sub001/internal/models"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/notify"
)

var hundred = decimal.NewFromInt(100)

// pctFactor returns 1 + pct/100 as a decimal.
func pctFactor(pct float64) decimal.Decimal {
	return decimal.NewFromFloat(pct).Div(hundred).Add(decimal.NewFromInt(1))
}

// negPctFactor returns 1 - pct/100 as a decimal.
func negPctFactor(pct float64) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(decimal.NewFromFloat(pct).Div(hundred))
}

// rule is one percentage-threshold exit trigger. Stop loss, take profit,
// stop gain and the two trailing variants differ only in activation
// condition, target price formula, their one-shot flag, and whether they may
// bypass the profit guard; everything else is shared control flow.
type rule struct {
	name       string
	origin     models.SellOrigin
	notifyKind notify.Kind
	// flagColumn is the one-shot trigger column claimed via conditional
	// update before any order is created.
	flagColumn string

	enabled   func(p *models.TradePosition) bool
	triggered func(p *models.TradePosition) bool
	// activated decides whether the rule fires this tick given the live
	// price and the pnl percentage relative to the entry price.
	activated func(p *models.TradePosition, price decimal.Decimal, pnlPct float64) bool
	// targetPrice is the LIMIT price of the resulting sell, also used as the
	// profit-guard hint.
	targetPrice func(p *models.TradePosition, price decimal.Decimal) decimal.Decimal
	// bypassGuard is true only for loss protection.
	bypassGuard bool
}

// trailingTrigger computes the trailing exit price from a high-water mark.
func trailingTrigger(maxPrice decimal.Decimal, distancePct float64) decimal.Decimal {
	return maxPrice.Mul(negPctFactor(distancePct))
}

// exitRules is ordered by priority: loss protection first, then trailing
// variants, then the fixed profit exits. At most one rule fires per position
// per tick; the duplicate-order invariant blocks the rest anyway.
var exitRules = []rule{
	{
		name:        "stop_loss",
		origin:      models.OriginStopLoss,
		notifyKind:  notify.KindStopLossTriggered,
		flagColumn:  "sl_triggered",
		enabled:     func(p *models.TradePosition) bool { return p.SLEnabled && p.SLPct > 0 },
		triggered:   func(p *models.TradePosition) bool { return p.SLTriggered },
		activated: func(p *models.TradePosition, _ decimal.Decimal, pnlPct float64) bool {
			return pnlPct <= -p.SLPct
		},
		targetPrice: func(p *models.TradePosition, _ decimal.Decimal) decimal.Decimal {
			return p.PriceOpen.Mul(negPctFactor(p.SLPct))
		},
		bypassGuard: true,
	},
	{
		name:       "trailing_stop",
		origin:     models.OriginTrailing,
		notifyKind: notify.KindTrailingTriggered,
		flagColumn: "trailing_triggered",
		enabled: func(p *models.TradePosition) bool {
			return p.TrailingEnabled && p.TrailingDistancePct > 0
		},
		triggered: func(p *models.TradePosition) bool { return p.TrailingTriggered },
		activated: func(p *models.TradePosition, price decimal.Decimal, _ float64) bool {
			if p.TrailingMaxPrice.Sign() <= 0 {
				return false
			}
			return !price.GreaterThan(trailingTrigger(p.TrailingMaxPrice, p.TrailingDistancePct))
		},
		targetPrice: func(p *models.TradePosition, _ decimal.Decimal) decimal.Decimal {
			return trailingTrigger(p.TrailingMaxPrice, p.TrailingDistancePct)
		},
	},
	{
		name:       "trailing_stop_gain",
		origin:     models.OriginTrailingStopGain,
		notifyKind: notify.KindTrailingStopGainTriggered,
		flagColumn: "tsg_triggered",
		enabled: func(p *models.TradePosition) bool {
			return p.TSGEnabled && p.TSGDistancePct > 0 && p.TSGActivationPct > 0
		},
		triggered: func(p *models.TradePosition) bool { return p.TSGTriggered },
		activated: func(p *models.TradePosition, price decimal.Decimal, _ float64) bool {
			// Arms only after the high-water mark clears the activation
			// level above entry, then behaves like a trailing stop.
			if p.TSGMaxPrice.Sign() <= 0 {
				return false
			}
			armed := !p.TSGMaxPrice.LessThan(p.PriceOpen.Mul(pctFactor(p.TSGActivationPct)))
			return armed && !price.GreaterThan(trailingTrigger(p.TSGMaxPrice, p.TSGDistancePct))
		},
		targetPrice: func(p *models.TradePosition, _ decimal.Decimal) decimal.Decimal {
			return trailingTrigger(p.TSGMaxPrice, p.TSGDistancePct)
		},
	},
	{
		name:       "stop_gain",
		origin:     models.OriginStopGain,
		notifyKind: notify.KindStopGainTriggered,
		flagColumn: "sg_triggered",
		enabled:    func(p *models.TradePosition) bool { return p.SGEnabled && p.SGPct > 0 },
		triggered:  func(p *models.TradePosition) bool { return p.SGTriggered },
		activated: func(p *models.TradePosition, _ decimal.Decimal, pnlPct float64) bool {
			return pnlPct >= p.SGPct
		},
		targetPrice: func(p *models.TradePosition, _ decimal.Decimal) decimal.Decimal {
			return p.PriceOpen.Mul(pctFactor(p.SGPct))
		},
	},
	{
		name:       "take_profit",
		origin:     models.OriginTakeProfit,
		notifyKind: notify.KindTakeProfitTriggered,
		flagColumn: "tp_triggered",
		enabled:    func(p *models.TradePosition) bool { return p.TPEnabled && p.TPPct > 0 },
		triggered:  func(p *models.TradePosition) bool { return p.TPTriggered },
		activated: func(p *models.TradePosition, _ decimal.Decimal, pnlPct float64) bool {
			return pnlPct >= p.TPPct
		},
		targetPrice: func(p *models.TradePosition, _ decimal.Decimal) decimal.Decimal {
			return p.PriceOpen.Mul(pctFactor(p.TPPct))
		},
	},
}

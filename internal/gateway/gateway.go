package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrPriceFeed wraps any failure to obtain a live price. Callers decide
// whether it is fail-open (profit guard) or fail-item (monitors).
var ErrPriceFeed = errors.New("price feed unavailable")

// Balance is the free/locked amount of one asset on the account.
type Balance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// OrderRequest describes an order to be placed on the exchange.
// Symbol is in canonical BASE-QUOTE form; the client converts it to the
// exchange's native format.
type OrderRequest struct {
	Symbol        string
	Side          string // "BUY" or "SELL"
	Type          string // "MARKET" or "LIMIT"
	Quantity      decimal.Decimal
	LimitPrice    decimal.Decimal // required for LIMIT
	ClientOrderID string
}

// OrderResult is the exchange's view of an order.
type OrderResult struct {
	ExchangeOrderID string
	Status          string
	ExecutedQty     decimal.Decimal
	CumQuoteQty     decimal.Decimal
}

// AvgPrice returns the volume-weighted average fill price, zero when nothing
// executed yet.
func (r *OrderResult) AvgPrice() decimal.Decimal {
	if r.ExecutedQty.IsZero() {
		return decimal.Zero
	}
	return r.CumQuoteQty.Div(r.ExecutedQty)
}

// Filled reports whether the exchange considers the order complete.
func (r *OrderResult) Filled() bool {
	return r.Status == "FILLED"
}

// Gateway is the price/order gateway consumed by the engine. FetchTicker must
// work without credentials so simulation mode and trailing calculations can
// run against a read-only client.
type Gateway interface {
	FetchTicker(ctx context.Context, symbol string) (decimal.Decimal, error)
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (*OrderResult, error)
	FetchBalance(ctx context.Context) (map[string]Balance, error)
}

// ExchangeSymbol converts a canonical BASE-QUOTE symbol to the exchange's
// concatenated form, e.g. "BTC-USDT" -> "BTCUSDT".
func ExchangeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "-", "")
}

// BaseAsset returns the base asset of a canonical BASE-QUOTE symbol.
func BaseAsset(symbol string) string {
	base, _, _ := strings.Cut(symbol, "-")
	return base
}

// QuoteAsset returns the quote asset of a canonical BASE-QUOTE symbol.
func QuoteAsset(symbol string) string {
	_, quote, _ := strings.Cut(symbol, "-")
	return quote
}

package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mayconvmartins/mvcashnode-sub001/internal/config"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
	recvWindow     = "5000" // How long a request is valid in milliseconds
)

// RestClient is a client for the exchange REST API.
// It implements the Gateway interface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure RestClient implements the interface
var _ Gateway = (*RestClient)(nil)

// NewRestClient creates a new exchange REST API client. Credentials may be
// empty for read-only price use.
func NewRestClient(cfg *config.Exchange, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using exchange testnet")
	} else {
		url = baseURL
	}

	client := resty.New().SetBaseURL(url)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// tickerPrice represents the response for a single ticker price.
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// FetchTicker fetches the latest price for one symbol. This endpoint is
// unauthenticated, so it works with an empty-credential client.
func (c *RestClient) FetchTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var ticker tickerPrice

	req := c.client.R().
		SetResult(&ticker).
		SetQueryParam("symbol", ExchangeSymbol(symbol)).
		SetHeader("Content-Type", "application/json")

	if _, err := c.doRequest(ctx, "GET", "/ticker/price", req); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %s", ErrPriceFeed, symbol, err)
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: bad price %q", ErrPriceFeed, symbol, ticker.Price)
	}
	return price, nil
}

// orderResponse represents the exchange's response to order creation/query.
type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQuantity        string `json:"origQty"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
}

func (r *orderResponse) toResult() (*OrderResult, error) {
	executed, err := decimal.NewFromString(r.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("bad executed quantity %q: %w", r.ExecutedQuantity, err)
	}
	cumQuote, err := decimal.NewFromString(r.CummulativeQuoteQty)
	if err != nil {
		return nil, fmt.Errorf("bad quote quantity %q: %w", r.CummulativeQuoteQty, err)
	}
	return &OrderResult{
		ExchangeOrderID: strconv.FormatInt(r.OrderID, 10),
		Status:          r.Status,
		ExecutedQty:     executed,
		CumQuoteQty:     cumQuote,
	}, nil
}

// CreateOrder places a new order on the exchange.
func (c *RestClient) CreateOrder(ctx context.Context, order OrderRequest) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", ExchangeSymbol(order.Symbol))
	params.Set("side", order.Side)
	params.Set("type", order.Type)
	params.Set("quantity", order.Quantity.String())
	if order.Type == "LIMIT" {
		params.Set("price", order.LimitPrice.String())
		params.Set("timeInForce", "GTC")
	}
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	params.Set("signature", c.sign(queryString))

	var result orderResponse
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&result)

	if _, err := c.doRequest(ctx, "POST", "/order", req); err != nil {
		c.logger.Error("Failed to create order after multiple attempts",
			zap.Error(err),
			zap.String("symbol", order.Symbol),
		)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	c.logger.Info("Order placed on exchange",
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.Int64("exchange_order_id", result.OrderID),
		zap.String("status", result.Status),
	)
	return result.toResult()
}

// FetchOrder queries the current state of an order on the exchange.
func (c *RestClient) FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", ExchangeSymbol(symbol))
	params.Set("orderId", exchangeOrderID)
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	params.Set("signature", c.sign(queryString))

	var result orderResponse
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&result)

	if _, err := c.doRequest(ctx, "GET", "/order", req); err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", exchangeOrderID, err)
	}
	return result.toResult()
}

// accountResponse represents the /account endpoint response.
type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// FetchBalance fetches free and locked amounts for every asset on the account.
func (c *RestClient) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	params := url.Values{}
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	params.Set("signature", c.sign(queryString))

	var account accountResponse
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&account)

	if _, err := c.doRequest(ctx, "GET", "/account", req); err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}

	balances := make(map[string]Balance, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			continue
		}
		balances[b.Asset] = Balance{Free: free, Locked: locked}
	}
	return balances, nil
}

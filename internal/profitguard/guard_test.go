package profitguard

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mayconvmartins/mvcashnode-sub001/internal/database"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/gateway"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/models"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) FetchTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockGateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResult, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.OrderResult), args.Error(1)
}

func (m *MockGateway) FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (*gateway.OrderResult, error) {
	args := m.Called(exchangeOrderID, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.OrderResult), args.Error(1)
}

func (m *MockGateway) FetchBalance(ctx context.Context) (map[string]gateway.Balance, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]gateway.Balance), args.Error(1)
}

func setupTest(t *testing.T) (*gorm.DB, *MockGateway, *Guard) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	mockGw := new(MockGateway)
	return db, mockGw, New(db, mockGw, zap.NewNop())
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func seedMinProfit(t *testing.T, db *gorm.DB, pct float64) {
	require.NoError(t, db.Create(&models.TradeParameter{
		AccountID:    1,
		Symbol:       "BTC-USDT",
		Side:         models.SideSell,
		MinProfitPct: &pct,
		Enabled:      true,
	}).Error)
}

func TestValidate_StopLossAlwaysPasses(t *testing.T) {
	db, _, guard := setupTest(t)
	seedMinProfit(t, db, 10)

	// Deep in the red; the gate must not hold a loss cut.
	res := guard.Validate(context.Background(), Input{
		AccountID:     1,
		Symbol:        "BTC-USDT",
		PriceOpen:     d("100"),
		Origin:        models.OriginStopLoss,
		SellPriceHint: dp("80"),
	})

	assert.True(t, res.Valid)
}

func TestValidate_BelowMinimumRejected(t *testing.T) {
	db, _, guard := setupTest(t)
	seedMinProfit(t, db, 5)

	res := guard.Validate(context.Background(), Input{
		AccountID:     1,
		Symbol:        "BTC-USDT",
		PriceOpen:     d("100"),
		Origin:        models.OriginTakeProfit,
		SellPriceHint: dp("103"),
	})

	assert.False(t, res.Valid)
	assert.InDelta(t, 3.0, res.ProfitPct, 0.0001)
	assert.Equal(t, 5.0, res.MinProfitPct)
	assert.NotEmpty(t, res.Reason)
}

func TestValidate_AtOrAboveMinimumPasses(t *testing.T) {
	db, _, guard := setupTest(t)
	seedMinProfit(t, db, 5)

	res := guard.Validate(context.Background(), Input{
		AccountID:     1,
		Symbol:        "BTC-USDT",
		PriceOpen:     d("100"),
		Origin:        models.OriginTakeProfit,
		SellPriceHint: dp("106"),
	})

	assert.True(t, res.Valid)
	assert.InDelta(t, 6.0, res.ProfitPct, 0.0001)
}

func TestValidate_PositionOverrideWins(t *testing.T) {
	db, _, guard := setupTest(t)
	seedMinProfit(t, db, 5)
	override := 2.0

	res := guard.Validate(context.Background(), Input{
		AccountID:         1,
		Symbol:            "BTC-USDT",
		PriceOpen:         d("100"),
		Origin:            models.OriginTakeProfit,
		SellPriceHint:     dp("103"),
		MinProfitOverride: &override,
	})

	assert.True(t, res.Valid)
	assert.Equal(t, 2.0, res.MinProfitPct)
}

func TestValidate_NoThresholdConfigured(t *testing.T) {
	_, _, guard := setupTest(t)

	res := guard.Validate(context.Background(), Input{
		AccountID:     1,
		Symbol:        "BTC-USDT",
		PriceOpen:     d("100"),
		Origin:        models.OriginManual,
		SellPriceHint: dp("90"),
	})

	assert.True(t, res.Valid)
}

func TestValidate_UsesLiveTickerWithoutHint(t *testing.T) {
	db, mockGw, guard := setupTest(t)
	seedMinProfit(t, db, 5)
	mockGw.On("FetchTicker", "BTC-USDT").Return(d("110"), nil)

	res := guard.Validate(context.Background(), Input{
		AccountID: 1,
		Symbol:    "BTC-USDT",
		PriceOpen: d("100"),
		Origin:    models.OriginWebhook,
	})

	assert.True(t, res.Valid)
	assert.InDelta(t, 10.0, res.ProfitPct, 0.0001)
	mockGw.AssertExpectations(t)
}

func TestValidate_FailsOpenOnPriceFeedError(t *testing.T) {
	db, mockGw, guard := setupTest(t)
	seedMinProfit(t, db, 5)
	mockGw.On("FetchTicker", "BTC-USDT").Return(decimal.Zero, gateway.ErrPriceFeed)

	res := guard.Validate(context.Background(), Input{
		AccountID: 1,
		Symbol:    "BTC-USDT",
		PriceOpen: d("100"),
		Origin:    models.OriginWebhook,
	})

	assert.True(t, res.Valid)
	mockGw.AssertExpectations(t)
}

package executor

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
	"github.com/mayconvmartins/mvcashnode-sub001/internal/intake"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/ledger"
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

func setupTest(t *testing.T) (*gorm.DB, *MockGateway, *Executor) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	mockGw := new(MockGateway)
	logger := zap.NewNop()
	gate := intake.NewGate(db, mockGw, logger)
	l := ledger.New(db, logger)
	return db, mockGw, New(db, mockGw, l, gate, nil, logger)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createJob(t *testing.T, db *gorm.DB, mutate func(*models.TradeJob)) *models.TradeJob {
	job := &models.TradeJob{
		AccountID:     1,
		Mode:          models.ModeSimulation,
		Symbol:        "BTC-USDT",
		Side:          models.SideBuy,
		OrderType:     models.OrderTypeMarket,
		Status:        models.JobPending,
		ClientOrderID: "client-1",
	}
	if mutate != nil {
		mutate(job)
	}
	require.NoError(t, db.Create(job).Error)
	return job
}

func reload(t *testing.T, db *gorm.DB, id uint) *models.TradeJob {
	var job models.TradeJob
	require.NoError(t, db.First(&job, id).Error)
	return &job
}

func TestExecuteJob_SimulatedMarketBuy(t *testing.T) {
	db, mockGw, e := setupTest(t)
	job := createJob(t, db, func(j *models.TradeJob) {
		j.Quantity = decimal.NewNullDecimal(d("1"))
	})
	mockGw.On("FetchTicker", "BTC-USDT").Return(d("100"), nil)

	require.NoError(t, e.ExecuteJob(context.Background(), job.ID))

	assert.Equal(t, models.JobFilled, reload(t, db, job.ID).Status)

	var position models.TradePosition
	require.NoError(t, db.Where("symbol = ?", "BTC-USDT").First(&position).Error)
	assert.Equal(t, models.ModeSimulation, position.Mode)
	assert.True(t, position.QtyTotal.Equal(d("1")))
	assert.True(t, position.PriceOpen.Equal(d("100")))

	var executions []models.TradeExecution
	require.NoError(t, db.Where("job_id = ?", job.ID).Find(&executions).Error)
	require.Len(t, executions, 1)
	assert.True(t, executions[0].ExecutedQty.Equal(d("1")))
}

func TestExecuteJob_SimulatedBuySizedFromQuoteAmount(t *testing.T) {
	db, mockGw, e := setupTest(t)
	job := createJob(t, db, func(j *models.TradeJob) {
		j.QuoteAmount = decimal.NewNullDecimal(d("100"))
	})
	mockGw.On("FetchTicker", "BTC-USDT").Return(d("50"), nil)

	require.NoError(t, e.ExecuteJob(context.Background(), job.ID))

	var position models.TradePosition
	require.NoError(t, db.Where("symbol = ?", "BTC-USDT").First(&position).Error)
	assert.True(t, position.QtyTotal.Equal(d("2")))
}

func TestExecuteJob_SimulatedLimitSellWithRemainder(t *testing.T) {
	db, mockGw, e := setupTest(t)
	position := &models.TradePosition{
		AccountID:    1,
		Mode:         models.ModeSimulation,
		Symbol:       "BTC-USDT",
		Side:         models.SideBuy,
		QtyTotal:     d("1"),
		QtyRemaining: d("1"),
		PriceOpen:    d("100"),
		Status:       models.PositionOpen,
	}
	require.NoError(t, db.Create(position).Error)
	job := createJob(t, db, func(j *models.TradeJob) {
		j.Side = models.SideSell
		j.OrderType = models.OrderTypeLimit
		j.Quantity = decimal.NewNullDecimal(d("1.5"))
		j.LimitPrice = decimal.NewNullDecimal(d("110"))
		j.PositionIDToClose = &position.ID
		j.Origin = models.OriginManual
	})

	require.NoError(t, e.ExecuteJob(context.Background(), job.ID))

	assert.Equal(t, models.JobPartiallyFilled, reload(t, db, job.ID).Status)

	var reloaded models.TradePosition
	require.NoError(t, db.First(&reloaded, position.ID).Error)
	assert.Equal(t, models.PositionClosed, reloaded.Status)
	assert.True(t, reloaded.RealizedProfitUSD.Equal(d("10")))
	mockGw.AssertNotCalled(t, "FetchTicker", mock.Anything)
}

func TestExecuteJob_UnsizedJobSkipped(t *testing.T) {
	db, _, e := setupTest(t)
	job := createJob(t, db, nil)

	require.NoError(t, e.ExecuteJob(context.Background(), job.ID))

	reloaded := reload(t, db, job.ID)
	assert.Equal(t, models.JobSkipped, reloaded.Status)
	assert.Equal(t, intake.ReasonNoSizing, reloaded.ReasonCode)
}

func TestExecuteJob_RiskDefaultsAppliedToNewPosition(t *testing.T) {
	db, mockGw, e := setupTest(t)
	slPct, tpPct, minProfit := 2.0, 5.0, 1.0
	require.NoError(t, db.Create(&models.TradeParameter{
		AccountID:    1,
		Symbol:       "BTC-USDT",
		Side:         models.SideBuy,
		DefaultSLPct: &slPct,
		DefaultTPPct: &tpPct,
		MinProfitPct: &minProfit,
		Enabled:      true,
	}).Error)
	job := createJob(t, db, func(j *models.TradeJob) {
		j.Quantity = decimal.NewNullDecimal(d("1"))
	})
	mockGw.On("FetchTicker", "BTC-USDT").Return(d("100"), nil)

	require.NoError(t, e.ExecuteJob(context.Background(), job.ID))

	var position models.TradePosition
	require.NoError(t, db.Where("symbol = ?", "BTC-USDT").First(&position).Error)
	assert.True(t, position.SLEnabled)
	assert.Equal(t, 2.0, position.SLPct)
	assert.True(t, position.TPEnabled)
	assert.Equal(t, 5.0, position.TPPct)
	require.NotNil(t, position.MinProfitPct)
	assert.Equal(t, 1.0, *position.MinProfitPct)
}

func TestExecuteJob_TerminalJobIsNoOp(t *testing.T) {
	db, mockGw, e := setupTest(t)
	job := createJob(t, db, func(j *models.TradeJob) {
		j.Status = models.JobFilled
		j.Quantity = decimal.NewNullDecimal(d("1"))
	})

	require.NoError(t, e.ExecuteJob(context.Background(), job.ID))

	assert.Equal(t, models.JobFilled, reload(t, db, job.ID).Status)
	mockGw.AssertNotCalled(t, "FetchTicker", mock.Anything)
	mockGw.AssertNotCalled(t, "CreateOrder", mock.Anything)
}

func TestExecuteJob_RealMarketBuyAppliedImmediately(t *testing.T) {
	db, mockGw, e := setupTest(t)
	job := createJob(t, db, func(j *models.TradeJob) {
		j.Mode = models.ModeReal
		j.Quantity = decimal.NewNullDecimal(d("1"))
	})
	mockGw.On("CreateOrder", mock.MatchedBy(func(req gateway.OrderRequest) bool {
		return req.Side == "BUY" && req.ClientOrderID == "client-1"
	})).Return(&gateway.OrderResult{
		ExchangeOrderID: "ex-1",
		Status:          "FILLED",
		ExecutedQty:     d("1"),
		CumQuoteQty:     d("100"),
	}, nil)

	require.NoError(t, e.ExecuteJob(context.Background(), job.ID))

	reloaded := reload(t, db, job.ID)
	assert.Equal(t, models.JobFilled, reloaded.Status)
	assert.Equal(t, "ex-1", reloaded.ExchangeOrderID)

	var position models.TradePosition
	require.NoError(t, db.Where("mode = ?", models.ModeReal).First(&position).Error)
	assert.True(t, position.PriceOpen.Equal(d("100")))
	mockGw.AssertExpectations(t)
}

func TestExecuteJob_RealLimitParksAsPendingLimit(t *testing.T) {
	db, mockGw, e := setupTest(t)
	job := createJob(t, db, func(j *models.TradeJob) {
		j.Mode = models.ModeReal
		j.OrderType = models.OrderTypeLimit
		j.Quantity = decimal.NewNullDecimal(d("1"))
		j.LimitPrice = decimal.NewNullDecimal(d("95"))
	})
	mockGw.On("CreateOrder", mock.Anything).Return(&gateway.OrderResult{
		ExchangeOrderID: "ex-2",
		Status:          "NEW",
	}, nil)

	require.NoError(t, e.ExecuteJob(context.Background(), job.ID))

	reloaded := reload(t, db, job.ID)
	assert.Equal(t, models.JobPendingLimit, reloaded.Status)
	assert.Equal(t, "ex-2", reloaded.ExchangeOrderID)

	var count int64
	db.Model(&models.TradePosition{}).Count(&count)
	assert.Zero(t, count)
}

func pendingLimitJob(t *testing.T, db *gorm.DB) *models.TradeJob {
	return createJob(t, db, func(j *models.TradeJob) {
		j.Mode = models.ModeReal
		j.OrderType = models.OrderTypeLimit
		j.Quantity = decimal.NewNullDecimal(d("1"))
		j.LimitPrice = decimal.NewNullDecimal(d("95"))
		j.Status = models.JobPendingLimit
		j.ExchangeOrderID = "ex-3"
	})
}

func TestReconcile_FilledOrderAppliedExactlyOnce(t *testing.T) {
	db, mockGw, e := setupTest(t)
	job := pendingLimitJob(t, db)
	mockGw.On("FetchOrder", "ex-3", "BTC-USDT").Return(&gateway.OrderResult{
		ExchangeOrderID: "ex-3",
		Status:          "FILLED",
		ExecutedQty:     d("1"),
		CumQuoteQty:     d("95"),
	}, nil).Once()

	require.NoError(t, e.ReconcilePendingLimit(context.Background()))

	assert.Equal(t, models.JobFilled, reload(t, db, job.ID).Status)
	var positions []models.TradePosition
	require.NoError(t, db.Find(&positions).Error)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].PriceOpen.Equal(d("95")))

	// A terminal job is no longer scanned.
	require.NoError(t, e.ReconcilePendingLimit(context.Background()))
	require.NoError(t, db.Find(&positions).Error)
	assert.Len(t, positions, 1)
	mockGw.AssertExpectations(t)
}

func TestReconcile_RestingOrderLeftAlone(t *testing.T) {
	db, mockGw, e := setupTest(t)
	job := pendingLimitJob(t, db)
	mockGw.On("FetchOrder", "ex-3", "BTC-USDT").Return(&gateway.OrderResult{
		ExchangeOrderID: "ex-3",
		Status:          "NEW",
	}, nil)

	require.NoError(t, e.ReconcilePendingLimit(context.Background()))

	assert.Equal(t, models.JobPendingLimit, reload(t, db, job.ID).Status)
}

func TestReconcile_CanceledWithoutFill(t *testing.T) {
	db, mockGw, e := setupTest(t)
	job := pendingLimitJob(t, db)
	mockGw.On("FetchOrder", "ex-3", "BTC-USDT").Return(&gateway.OrderResult{
		ExchangeOrderID: "ex-3",
		Status:          "CANCELED",
	}, nil)

	require.NoError(t, e.ReconcilePendingLimit(context.Background()))

	reloaded := reload(t, db, job.ID)
	assert.Equal(t, models.JobCanceled, reloaded.Status)
	assert.Equal(t, intake.ReasonExchangeError, reloaded.ReasonCode)
}

func TestReconcile_CanceledAfterPartialFill(t *testing.T) {
	db, mockGw, e := setupTest(t)
	job := pendingLimitJob(t, db)
	mockGw.On("FetchOrder", "ex-3", "BTC-USDT").Return(&gateway.OrderResult{
		ExchangeOrderID: "ex-3",
		Status:          "CANCELED",
		ExecutedQty:     d("0.4"),
		CumQuoteQty:     d("38"),
	}, nil)

	require.NoError(t, e.ReconcilePendingLimit(context.Background()))

	reloaded := reload(t, db, job.ID)
	assert.Equal(t, models.JobPartiallyFilled, reloaded.Status)
	assert.Equal(t, intake.ReasonExchangeError, reloaded.ReasonCode)

	var position models.TradePosition
	require.NoError(t, db.First(&position).Error)
	assert.True(t, position.QtyTotal.Equal(d("0.4")))
	assert.True(t, position.PriceOpen.Equal(d("95")))
}

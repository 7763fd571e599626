package models

// TradeMode separates real trading from simulation. Positions, jobs and
// balances of the two modes never mix.
type TradeMode string

const (
	ModeReal       TradeMode = "REAL"
	ModeSimulation TradeMode = "SIMULATION"
)

// OrderSide is the direction of an order. The engine is spot, long-only:
// positions are opened by BUY fills and reduced by SELL fills.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the exchange order type requested for a job. Imported orders
// exist for history backfill only and are never dispatched to the exchange.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
	OrderTypeImported  OrderType = "IMPORTED"
)

// JobStatus is the lifecycle state of a TradeJob.
type JobStatus string

const (
	JobPending         JobStatus = "PENDING"
	JobPendingLimit    JobStatus = "PENDING_LIMIT"
	JobExecuting       JobStatus = "EXECUTING"
	JobFilled          JobStatus = "FILLED"
	JobPartiallyFilled JobStatus = "PARTIALLY_FILLED"
	JobCanceled        JobStatus = "CANCELED"
	JobSkipped         JobStatus = "SKIPPED"
)

// IsTerminal reports whether the status is a terminal state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobFilled, JobCanceled, JobSkipped:
		return true
	}
	return false
}

// SellOrigin identifies which component produced a sell order.
type SellOrigin string

const (
	OriginWebhook          SellOrigin = "WEBHOOK"
	OriginStopLoss         SellOrigin = "STOP_LOSS"
	OriginTakeProfit       SellOrigin = "TAKE_PROFIT"
	OriginStopGain         SellOrigin = "STOP_GAIN"
	OriginTrailing         SellOrigin = "TRAILING"
	OriginTrailingStopGain SellOrigin = "TRAILING_STOP_GAIN"
	OriginManual           SellOrigin = "MANUAL"
)

// PositionStatus is the lifecycle state of a TradePosition.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// CloseReason records why a position was fully closed.
type CloseReason string

const (
	CloseReasonStopLoss    CloseReason = "StopLoss"
	CloseReasonTargetHit   CloseReason = "TargetHit"
	CloseReasonWebhookSell CloseReason = "WebhookSell"
	CloseReasonManual      CloseReason = "Manual"
)

// CloseReasonForOrigin maps a sell origin to the close reason written on the
// position when that sell empties it.
func CloseReasonForOrigin(origin SellOrigin) CloseReason {
	switch origin {
	case OriginStopLoss:
		return CloseReasonStopLoss
	case OriginTakeProfit:
		return CloseReasonTargetHit
	case OriginWebhook:
		return CloseReasonWebhookSell
	default:
		return CloseReasonManual
	}
}

// AlertState is the lifecycle state of a WebhookMonitorAlert.
// MONITORING is the only live state; EXECUTED and CANCELLED are terminal.
type AlertState string

const (
	AlertMonitoring AlertState = "MONITORING"
	AlertExecuted   AlertState = "EXECUTED"
	AlertCancelled  AlertState = "CANCELLED"
)

package intake

import (
	"errors"
	"fmt"
)

// ErrDuplicateOrder is the sentinel wrapped by DuplicateOrderError so callers
// can match with errors.Is.
var ErrDuplicateOrder = errors.New("duplicate order")

// DuplicateOrderError reports a violation of the one-open-sell-per-position
// invariant, naming the conflicting job. Callers must not retry blindly.
type DuplicateOrderError struct {
	PositionID       uint
	ConflictingJobID uint
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("duplicate order: position %d already has open sell job %d", e.PositionID, e.ConflictingJobID)
}

func (e *DuplicateOrderError) Unwrap() error {
	return ErrDuplicateOrder
}

// ValidationError reports a hard intake rejection: bad symbol, price or
// quantity. Validation failures are never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// Reason codes for soft-rejected (SKIPPED) and terminal jobs.
const (
	ReasonRateLimited        = "RATE_LIMITED"
	ReasonWebhookLocked      = "WEBHOOK_LOCKED"
	ReasonNoEligiblePosition = "NO_ELIGIBLE_POSITION"
	ReasonBelowMinProfit     = "BELOW_MIN_PROFIT"
	ReasonExchangeError      = "EXCHANGE_ERROR"
	ReasonNoSizing           = "NO_SIZING"
)

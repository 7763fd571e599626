// Package notify emits notification intents for the surrounding delivery
// layer (WhatsApp/email/push). Delivery is someone else's job; the engine
// only records that something notable happened and must never block on it.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Kind classifies a notification intent.
type Kind string

const (
	KindPositionOpened            Kind = "POSITION_OPENED"
	KindPositionClosed            Kind = "POSITION_CLOSED"
	KindStopLossTriggered         Kind = "STOP_LOSS_TRIGGERED"
	KindTakeProfitTriggered       Kind = "TAKE_PROFIT_TRIGGERED"
	KindStopGainTriggered         Kind = "STOP_GAIN_TRIGGERED"
	KindTrailingTriggered         Kind = "TRAILING_TRIGGERED"
	KindTrailingStopGainTriggered Kind = "TRAILING_STOP_GAIN_TRIGGERED"
)

// Intent is the engine-side record of a notification to be delivered.
type Intent struct {
	PositionID uint
	Kind       Kind
	OccurredAt time.Time
}

// Publisher accepts intents without blocking the caller.
type Publisher interface {
	Publish(intent Intent)
}

// Sink delivers intents to the outside world.
type Sink interface {
	Send(ctx context.Context, intent Intent) error
}

// LogSink writes intents to the log. It stands in for the real delivery
// layer in tests and simulation deployments.
type LogSink struct {
	Logger *zap.Logger
}

func (s *LogSink) Send(_ context.Context, intent Intent) error {
	s.Logger.Info("Notification intent",
		zap.Uint("position_id", intent.PositionID),
		zap.String("kind", string(intent.Kind)),
	)
	return nil
}

// Dispatcher buffers intents and forwards them to a sink on a background
// goroutine. A full buffer drops the intent: losing a notification is
// acceptable, stalling the engine is not.
type Dispatcher struct {
	ch     chan Intent
	sink   Sink
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher with the given buffer size.
func NewDispatcher(sink Sink, bufferSize int, logger *zap.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Dispatcher{
		ch:     make(chan Intent, bufferSize),
		sink:   sink,
		logger: logger,
	}
}

// Publish queues an intent, dropping it when the buffer is full.
func (d *Dispatcher) Publish(intent Intent) {
	intent.OccurredAt = time.Now()
	select {
	case d.ch <- intent:
	default:
		d.logger.Warn("Notification buffer full, dropping intent",
			zap.Uint("position_id", intent.PositionID),
			zap.String("kind", string(intent.Kind)),
		)
	}
}

// Run forwards queued intents until the context is cancelled. Sink failures
// are logged and the intent is dropped; the delivery layer being unreachable
// must not back up into the engine.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent := <-d.ch:
			if err := d.sink.Send(ctx, intent); err != nil {
				d.logger.Warn("Notification delivery failed",
					zap.Uint("position_id", intent.PositionID),
					zap.String("kind", string(intent.Kind)),
					zap.Error(err),
				)
			}
		}
	}
}

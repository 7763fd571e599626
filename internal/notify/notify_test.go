package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// recordingSink collects delivered intents for assertions.
type recordingSink struct {
	mu      sync.Mutex
	intents []Intent
}

func (s *recordingSink) Send(_ context.Context, intent Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, intent)
	return nil
}

func (s *recordingSink) delivered() []Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Intent, len(s.intents))
	copy(out, s.intents)
	return out
}

func TestDispatcher_ForwardsIntents(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 8, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Publish(Intent{PositionID: 1, Kind: KindPositionOpened})
	d.Publish(Intent{PositionID: 1, Kind: KindStopLossTriggered})

	assert.Eventually(t, func() bool {
		return len(sink.delivered()) == 2
	}, time.Second, 5*time.Millisecond)

	intents := sink.delivered()
	assert.Equal(t, KindPositionOpened, intents[0].Kind)
	assert.Equal(t, KindStopLossTriggered, intents[1].Kind)
	assert.False(t, intents[0].OccurredAt.IsZero())
}

func TestDispatcher_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 1, zap.NewNop())

	// No Run loop draining; the second publish must not block.
	done := make(chan struct{})
	go func() {
		d.Publish(Intent{PositionID: 1, Kind: KindPositionOpened})
		d.Publish(Intent{PositionID: 2, Kind: KindPositionClosed})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
}

package exchange

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/innohassle/room-booking-backend/internal/clock"
	"github.com/innohassle/room-booking-backend/internal/tz"
)

func TestWatchdogResubscribesWhenCallbacksGoQuiet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var subscribes int64
	inner := &funcGateway{}
	gw := subscribeCounter{Gateway: inner, count: &subscribes, stopAt: 2, cancel: cancel}

	clk := clock.NewFake(time.Date(2025, 3, 10, 12, 0, 0, 0, tz.MSK))
	w := NewWatchdog(gw, WatchdogConfig{
		CallbackURL: "https://innohassle.ru/room-booking/webhooks/exchange",
		CheckEvery:  time.Minute,
		StaleAfter:  2 * time.Minute,
	}, clk, zap.NewNop())

	// The fake clock makes Sleep instant, so the run loop reaches the stale
	// threshold and re-subscribes without real waiting.
	w.Run(ctx)

	assert.Equal(t, int64(2), atomic.LoadInt64(&subscribes))
}

// subscribeCounter counts PushSubscribe calls and cancels the run context
// once enough happened.
type subscribeCounter struct {
	Gateway
	count  *int64
	stopAt int64
	cancel context.CancelFunc
}

func (s subscribeCounter) PushSubscribe(ctx context.Context, callbackURL string, eventTypes []string) (Subscription, error) {
	if atomic.AddInt64(s.count, 1) >= s.stopAt {
		s.cancel()
	}
	return Subscription{ID: "sub", Watermark: "w"}, nil
}

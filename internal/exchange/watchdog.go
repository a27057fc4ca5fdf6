package exchange

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/innohassle/room-booking-backend/internal/clock"
)

// Watchdog keeps the backend push subscription alive. The backend silently
// drops subscriptions, so liveness is inferred from callbacks: if none is
// observed for StaleAfter, the subscription is recreated.
type Watchdog struct {
	gateway     Gateway
	callbackURL string
	eventTypes  []string
	checkEvery  time.Duration
	staleAfter  time.Duration
	clk         clock.Clock
	log         *zap.Logger

	mu       sync.Mutex
	sub      Subscription
	lastSeen time.Time
}

// WatchdogConfig tunes the subscription health check.
type WatchdogConfig struct {
	CallbackURL string
	EventTypes  []string
	// CheckEvery is the health check interval. Default 60s.
	CheckEvery time.Duration
	// StaleAfter is how long without a callback before re-subscribing.
	// Default 120s.
	StaleAfter time.Duration
}

func NewWatchdog(gw Gateway, cfg WatchdogConfig, clk clock.Clock, log *zap.Logger) *Watchdog {
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = 60 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 120 * time.Second
	}
	if len(cfg.EventTypes) == 0 {
		cfg.EventTypes = []string{"CreatedEvent", "ModifiedEvent", "DeletedEvent"}
	}
	return &Watchdog{
		gateway:     gw,
		callbackURL: cfg.CallbackURL,
		eventTypes:  cfg.EventTypes,
		checkEvery:  cfg.CheckEvery,
		staleAfter:  cfg.StaleAfter,
		clk:         clk,
		log:         log,
	}
}

// ObserveCallback records that a push callback arrived. The HTTP callback
// handler calls this; notification payloads are not parsed here.
func (w *Watchdog) ObserveCallback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSeen = w.clk.Now()
}

// Run subscribes and then re-subscribes whenever callbacks go quiet.
// It returns when ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	w.subscribe(ctx)
	for {
		if err := w.clk.Sleep(ctx, w.checkEvery); err != nil {
			return
		}
		w.mu.Lock()
		stale := w.lastSeen.IsZero() || w.clk.Now().Sub(w.lastSeen) > w.staleAfter
		w.mu.Unlock()
		if stale {
			w.subscribe(ctx)
		}
	}
}

func (w *Watchdog) subscribe(ctx context.Context) {
	sub, err := w.gateway.PushSubscribe(ctx, w.callbackURL, w.eventTypes)
	if err != nil {
		w.log.Warn("push subscribe failed", zap.Error(err))
		return
	}
	w.mu.Lock()
	w.sub = sub
	w.lastSeen = w.clk.Now()
	w.mu.Unlock()
	w.log.Info("push subscription established",
		zap.String("subscription_id", sub.ID),
		zap.String("watermark", sub.Watermark))
}

package exchange

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/innohassle/room-booking-backend/internal/metrics"
	"github.com/innohassle/room-booking-backend/internal/pkg/apperror"
)

// ErrUnavailable is surfaced to callers when the backend failed, timed out,
// or the circuit breaker is open. It maps to HTTP 429.
var ErrUnavailable = apperror.New(http.StatusTooManyRequests, "booking backend is temporarily unavailable")

// ThrottledConfig bounds the load the gateway puts on the backend.
type ThrottledConfig struct {
	// MaxConcurrency caps in-flight backend calls. Default 5.
	MaxConcurrency int
	// CallTimeout is the per-call deadline. Default 30s.
	CallTimeout time.Duration
}

// Throttled wraps a Gateway with a concurrency cap, a per-call timeout and a
// circuit breaker. Backend failures come back as ErrUnavailable so the HTTP
// layer answers 429; ErrItemNotFound passes through untouched.
type Throttled struct {
	inner   Gateway
	sem     chan struct{}
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewThrottled(inner Gateway, cfg ThrottledConfig, log *zap.Logger) *Throttled {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ews",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Not-found and caller cancellation say nothing about backend health.
			return err == nil || errors.Is(err, ErrItemNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Throttled{
		inner:   inner,
		sem:     make(chan struct{}, cfg.MaxConcurrency),
		timeout: cfg.CallTimeout,
		breaker: breaker,
		log:     log,
	}
}

func call[T any](t *Throttled, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-t.sem }()

	metrics.GatewayCalls.WithLabelValues(op).Inc()

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	res, err := t.breaker.Execute(func() (any, error) {
		return fn(callCtx)
	})
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return zero, err
		}
		metrics.GatewayErrors.WithLabelValues(op).Inc()
		t.log.Warn("exchange call failed", zap.String("op", op), zap.Error(err))
		return zero, apperror.Wrap(err, http.StatusTooManyRequests, ErrUnavailable.Message)
	}
	v, ok := res.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}

func (t *Throttled) CalendarView(ctx context.Context, start, end time.Time) ([]Item, error) {
	return call(t, ctx, "calendar_view", func(ctx context.Context) ([]Item, error) {
		return t.inner.CalendarView(ctx, start, end)
	})
}

func (t *Throttled) FreeBusy(ctx context.Context, emails []string, start, end time.Time) (map[string][]Event, error) {
	return call(t, ctx, "free_busy", func(ctx context.Context) (map[string][]Event, error) {
		return t.inner.FreeBusy(ctx, emails, start, end)
	})
}

func (t *Throttled) CreateItem(ctx context.Context, p CreateItemParams) (string, error) {
	return call(t, ctx, "create_item", func(ctx context.Context) (string, error) {
		return t.inner.CreateItem(ctx, p)
	})
}

func (t *Throttled) GetItem(ctx context.Context, id string) (*Item, error) {
	return call(t, ctx, "get_item", func(ctx context.Context) (*Item, error) {
		return t.inner.GetItem(ctx, id)
	})
}

func (t *Throttled) UpdateItem(ctx context.Context, id string, fields UpdateItemFields) error {
	_, err := call(t, ctx, "update_item", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.inner.UpdateItem(ctx, id, fields)
	})
	return err
}

func (t *Throttled) CancelItem(ctx context.Context, id, body string) error {
	_, err := call(t, ctx, "cancel_item", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.inner.CancelItem(ctx, id, body)
	})
	return err
}

func (t *Throttled) PushSubscribe(ctx context.Context, callbackURL string, eventTypes []string) (Subscription, error) {
	return call(t, ctx, "push_subscribe", func(ctx context.Context) (Subscription, error) {
		return t.inner.PushSubscribe(ctx, callbackURL, eventTypes)
	})
}

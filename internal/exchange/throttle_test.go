package exchange

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/innohassle/room-booking-backend/internal/pkg/apperror"
)

// funcGateway routes calls to configurable functions; unset ones return zero.
type funcGateway struct {
	calendarViewFn func(ctx context.Context, start, end time.Time) ([]Item, error)
	getItemFn      func(ctx context.Context, id string) (*Item, error)
}

func (f *funcGateway) CalendarView(ctx context.Context, start, end time.Time) ([]Item, error) {
	if f.calendarViewFn != nil {
		return f.calendarViewFn(ctx, start, end)
	}
	return nil, nil
}

func (f *funcGateway) FreeBusy(ctx context.Context, emails []string, start, end time.Time) (map[string][]Event, error) {
	return nil, nil
}

func (f *funcGateway) CreateItem(ctx context.Context, p CreateItemParams) (string, error) {
	return "", nil
}

func (f *funcGateway) GetItem(ctx context.Context, id string) (*Item, error) {
	if f.getItemFn != nil {
		return f.getItemFn(ctx, id)
	}
	return nil, nil
}

func (f *funcGateway) UpdateItem(ctx context.Context, id string, fields UpdateItemFields) error {
	return nil
}

func (f *funcGateway) CancelItem(ctx context.Context, id, body string) error {
	return nil
}

func (f *funcGateway) PushSubscribe(ctx context.Context, callbackURL string, eventTypes []string) (Subscription, error) {
	return Subscription{}, nil
}

func TestThrottledWrapsFailuresAs429(t *testing.T) {
	inner := &funcGateway{
		getItemFn: func(ctx context.Context, id string) (*Item, error) {
			return nil, errors.New("boom")
		},
	}
	gw := NewThrottled(inner, ThrottledConfig{}, zap.NewNop())

	_, err := gw.GetItem(context.Background(), "x")
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 429, appErr.Code)
}

func TestThrottledPassesNotFoundThrough(t *testing.T) {
	inner := &funcGateway{
		getItemFn: func(ctx context.Context, id string) (*Item, error) {
			return nil, ErrItemNotFound
		},
	}
	gw := NewThrottled(inner, ThrottledConfig{}, zap.NewNop())

	_, err := gw.GetItem(context.Background(), "x")
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestThrottledCapsConcurrency(t *testing.T) {
	gate := make(chan struct{})
	var current, peak int64
	inner := &funcGateway{
		calendarViewFn: func(ctx context.Context, start, end time.Time) ([]Item, error) {
			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			<-gate
			atomic.AddInt64(&current, -1)
			return nil, nil
		},
	}
	gw := NewThrottled(inner, ThrottledConfig{MaxConcurrency: 2}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.CalendarView(context.Background(), time.Now(), time.Now())
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestThrottledBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int64
	inner := &funcGateway{
		getItemFn: func(ctx context.Context, id string) (*Item, error) {
			atomic.AddInt64(&calls, 1)
			return nil, errors.New("backend down")
		},
	}
	gw := NewThrottled(inner, ThrottledConfig{}, zap.NewNop())

	for i := 0; i < 7; i++ {
		_, err := gw.GetItem(context.Background(), "x")
		require.Error(t, err)
	}
	// After the trip threshold the breaker short-circuits without reaching
	// the backend.
	assert.Equal(t, int64(5), atomic.LoadInt64(&calls))
}

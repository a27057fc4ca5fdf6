package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDoReturnsResult(t *testing.T) {
	g := NewGroup[string, int]()
	v, err := g.Do(context.Background(), "k", func() (int, error) { return 42, nil }, true)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestConcurrentCallersShareOneExecution(t *testing.T) {
	g := NewGroup[string, string]()

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func() (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const n = 50
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	started := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			results[i], errs[i] = g.Do(context.Background(), "k", fn, true)
		}()
	}
	for i := 0; i < n; i++ {
		<-started
	}
	// Give every goroutine a chance to reach Do before releasing.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
}

func TestDistinctKeysRunInParallel(t *testing.T) {
	g := NewGroup[string, string]()

	var both sync.WaitGroup
	both.Add(2)
	barrier := make(chan struct{})

	// Each fn waits for the other to start. If keys serialized, this would
	// deadlock past the test timeout.
	fn := func(v string) func() (string, error) {
		return func() (string, error) {
			both.Done()
			<-barrier
			return v, nil
		}
	}

	go func() {
		both.Wait()
		close(barrier)
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	var r1, r2 string
	go func() { defer wg.Done(); r1, _ = g.Do(context.Background(), "a", fn("va"), true) }()
	go func() { defer wg.Done(); r2, _ = g.Do(context.Background(), "b", fn("vb"), true) }()
	wg.Wait()

	assert.Equal(t, "va", r1)
	assert.Equal(t, "vb", r2)
}

func TestFailureClearsSlot(t *testing.T) {
	g := NewGroup[string, int]()
	boom := errors.New("boom")

	_, err := g.Do(context.Background(), "k", func() (int, error) { return 0, boom }, true)
	require.ErrorIs(t, err, boom)

	// The failed execution must not be replayed to later callers.
	v, err := g.Do(context.Background(), "k", func() (int, error) { return 7, nil }, true)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestDedupDisabledStartsFreshExecution(t *testing.T) {
	g := NewGroup[string, int]()

	var calls atomic.Int32
	release := make(chan struct{})

	first := make(chan struct{})
	go func() {
		_, _ = g.Do(context.Background(), "k", func() (int, error) {
			calls.Add(1)
			close(first)
			<-release
			return 1, nil
		}, true)
	}()
	<-first

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := g.Do(context.Background(), "k", func() (int, error) {
			calls.Add(1)
			<-release
			return 2, nil
		}, false)
		require.NoError(t, err)
		assert.Equal(t, 2, v)
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)
	<-done
	assert.Equal(t, int32(2), calls.Load())
}

func TestCancelledWaiterDoesNotStopExecution(t *testing.T) {
	g := NewGroup[string, int]()

	release := make(chan struct{})
	started := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		v, err := g.Do(context.Background(), "k", func() (int, error) {
			close(started)
			<-release
			defer close(finished)
			return 9, nil
		}, true)
		require.NoError(t, err)
		assert.Equal(t, 9, v)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Do(ctx, "k", func() (int, error) { return 0, nil }, true)
	require.ErrorIs(t, err, context.Canceled)

	// The in-flight execution keeps running and completes.
	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("execution did not complete after waiter cancellation")
	}
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayDoublesAndCaps(t *testing.T) {
	p := Policy{MaxAttempts: 10, BackoffBase: 100 * time.Millisecond, BackoffCap: 1 * time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
	assert.Equal(t, 1*time.Second, p.Delay(5))
	assert.Equal(t, 1*time.Second, p.Delay(20))
}

func TestDelayIsMonotonic(t *testing.T) {
	p := Policy{MaxAttempts: 8, BackoffBase: 50 * time.Millisecond, BackoffCap: 2 * time.Second}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay must not decrease at attempt %d", attempt)
		assert.LessOrEqual(t, d, p.BackoffCap)
		prev = d
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond}

	calls := 0
	wantErr := errors.New("flaky")
	err := p.Do(context.Background(), nil, func() error {
		calls++
		return wantErr
	})

	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestDoSucceedsAfterRetry(t *testing.T) {
	p := Policy{MaxAttempts: 5, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), nil, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	p := Policy{MaxAttempts: 5, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond}

	permanent := errors.New("bad request")
	calls := 0
	err := p.Do(context.Background(), func(err error) bool {
		return !errors.Is(err, permanent)
	}, func() error {
		calls++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoAbortsWhenContextCanceled(t *testing.T) {
	p := Policy{MaxAttempts: 10, BackoffBase: time.Hour, BackoffCap: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, nil, func() error {
			calls++
			return errors.New("flaky")
		})
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestSleepReturnsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

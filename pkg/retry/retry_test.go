package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSleeper records requested delays without sleeping.
type fakeSleeper struct {
	delays []time.Duration
	err    error
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return f.err
}

func cfg(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		InitDelay:   100 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Strategy:    Exponential,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	s := &fakeSleeper{}
	calls := 0
	err := doWithSleeper(context.Background(), cfg(5), func() error {
		calls++
		return nil
	}, s)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.delays)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	s := &fakeSleeper{}
	calls := 0
	err := doWithSleeper(context.Background(), cfg(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("throttled")
		}
		return nil
	}, s)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, s.delays, 2)
}

func TestDoAttemptCapBoundsCalls(t *testing.T) {
	s := &fakeSleeper{}
	boom := errors.New("boom")
	calls := 0
	err := doWithSleeper(context.Background(), cfg(4), func() error {
		calls++
		return boom
	}, s)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)
	// No sleep after the final attempt.
	assert.Len(t, s.delays, 3)
}

func TestDoStopErrorShortCircuits(t *testing.T) {
	s := &fakeSleeper{}
	denied := errors.New("permission denied")
	calls := 0
	err := doWithSleeper(context.Background(), cfg(5), func() error {
		calls++
		return Stop(denied)
	}, s)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.delays)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := doWithSleeper(ctx, cfg(5), func() error {
		t.Fatal("fn must not run after cancellation")
		return nil
	}, &fakeSleeper{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoCancelDuringSleep(t *testing.T) {
	s := &fakeSleeper{err: context.Canceled}
	calls := 0
	err := doWithSleeper(context.Background(), cfg(5), func() error {
		calls++
		return errors.New("transient")
	}, s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoZeroAttemptsIsNoop(t *testing.T) {
	err := doWithSleeper(context.Background(), Config{}, func() error {
		t.Fatal("fn must not run")
		return nil
	}, &fakeSleeper{})
	assert.NoError(t, err)
}

func TestCalcDelay(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		attempt  int
		want     time.Duration
	}{
		{"exponential first", Exponential, 0, 100 * time.Millisecond},
		{"exponential third", Exponential, 2, 400 * time.Millisecond},
		{"linear first", Linear, 0, 100 * time.Millisecond},
		{"linear third", Linear, 2, 300 * time.Millisecond},
		{"constant third", Constant, 2, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg(5)
			c.Strategy = tt.strategy
			assert.Equal(t, tt.want, CalcDelay(c, tt.attempt))
		})
	}
}

func TestCalcDelayCapped(t *testing.T) {
	c := cfg(20)
	c.MaxDelay = time.Second
	assert.Equal(t, time.Second, CalcDelay(c, 15))
}

func TestCalcDelayJitterStaysInBand(t *testing.T) {
	c := cfg(5)
	c.Jitter = true
	for range 100 {
		d := CalcDelay(c, 2) // base 400ms
		assert.GreaterOrEqual(t, d, 300*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
	}
}

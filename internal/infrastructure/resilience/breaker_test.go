package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProbe = errors.New("probe failed")

func tripAfter(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

func newTestBreaker(timeout time.Duration, maxRequests, trip uint32) *Breaker {
	return New("test", Settings{
		MaxRequests: maxRequests,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: tripAfter(trip),
	})
}

func fail(b *Breaker) error { return b.Do(func() error { return errProbe }) }

func succeed(b *Breaker) error { return b.Do(func() error { return nil }) }

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := newTestBreaker(time.Minute, 1, 3)
	for i := 0; i < 5; i++ {
		require.NoError(t, succeed(b))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(time.Minute, 1, 3)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, fail(b), errProbe)
	}
	assert.Equal(t, StateClosed, b.State(), "one failure short of the trip point")

	_ = fail(b)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := newTestBreaker(time.Minute, 1, 2)
	_ = fail(b)
	_ = fail(b)
	require.Equal(t, StateOpen, b.State())

	ran := false
	err := b.Do(func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran, "open breaker must not run the call")
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := newTestBreaker(time.Minute, 1, 3)

	_ = fail(b)
	_ = fail(b)
	require.NoError(t, succeed(b))
	_ = fail(b)
	_ = fail(b)

	assert.Equal(t, StateClosed, b.State(), "streak broken by a success must not trip")

	counts := b.Counts()
	assert.Equal(t, uint32(2), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(4), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(5), counts.Requests)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := newTestBreaker(30*time.Millisecond, 2, 2)
	_ = fail(b)
	_ = fail(b)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, succeed(b))
	assert.Equal(t, StateHalfOpen, b.State(), "one probe is not enough to close")
	require.NoError(t, succeed(b))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(30*time.Millisecond, 2, 2)
	_ = fail(b)
	_ = fail(b)
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	assert.ErrorIs(t, fail(b), errProbe)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenProbeBudget(t *testing.T) {
	b := newTestBreaker(30*time.Millisecond, 1, 2)
	_ = fail(b)
	_ = fail(b)
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	// Hold the single probe slot, then try a second call.
	release := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Do(func() error {
			<-release
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return b.Counts().Requests == 1
	}, time.Second, time.Millisecond)

	err := b.Do(func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)

	close(release)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerStaleOutcomeIgnored(t *testing.T) {
	b := newTestBreaker(time.Minute, 1, 2)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			<-release
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return b.Counts().Requests == 1
	}, time.Second, time.Millisecond)

	_ = fail(b)
	_ = fail(b)
	require.Equal(t, StateOpen, b.State())

	close(release)
	require.NoError(t, <-done)

	// The late success belongs to the closed generation and must not
	// count toward the open one.
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, Counts{}, b.Counts())
}

func TestBreakerReportsTransitions(t *testing.T) {
	var transitions []string
	b := New("downloads", Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: tripAfter(2),
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+": "+from.String()+"->"+to.String())
		},
	})

	_ = fail(b)
	_ = fail(b)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, succeed(b))

	assert.Equal(t, []string{
		"downloads: closed->open",
		"downloads: open->half-open",
		"downloads: half-open->closed",
	}, transitions)
}

func TestBreakerDefaults(t *testing.T) {
	b := New("bare", Settings{})
	for i := 0; i < 6; i++ {
		_ = fail(b)
	}
	assert.Equal(t, StateOpen, b.State(), "default trip point is more than five consecutive failures")
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b := newTestBreaker(time.Minute, 1, 1)

	assert.Panics(t, func() {
		_ = b.Do(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

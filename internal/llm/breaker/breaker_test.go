package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
)

func newTestRegistry(threshold int, reset time.Duration) *Registry {
	return NewRegistry(Config{FailureThreshold: threshold, ResetTimeout: reset}, nil)
}

func TestBreakerTripsOnThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
	}{
		{name: "threshold one", threshold: 1},
		{name: "threshold three", threshold: 3},
		{name: "threshold five", threshold: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(tt.threshold, time.Minute)

			for i := 0; i < tt.threshold-1; i++ {
				r.RecordFailure("ep")
				assert.Equal(t, StateClosed, r.State("ep"), "failure %d must not trip", i+1)
				assert.True(t, r.IsAvailable("ep"))
			}

			r.RecordFailure("ep")
			assert.Equal(t, StateOpen, r.State("ep"))
			assert.False(t, r.IsAvailable("ep"))
		})
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	r := newTestRegistry(3, time.Minute)

	r.RecordFailure("ep")
	r.RecordFailure("ep")
	r.RecordSuccess("ep")
	r.RecordFailure("ep")
	r.RecordFailure("ep")

	// Consecutive count restarted after the success.
	assert.Equal(t, StateClosed, r.State("ep"))
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	r := newTestRegistry(1, time.Minute)
	r.RecordFailure("ep")

	_, err := r.Allow("ep")
	require.Error(t, err)

	var openErr *llmerrors.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "ep", openErr.Endpoint)
	assert.Equal(t, llmerrors.ErrorTypeCircuitOpen, llmerrors.Classify(err))
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	r := newTestRegistry(1, 20*time.Millisecond)
	r.RecordFailure("ep")
	require.Equal(t, StateOpen, r.State("ep"))

	time.Sleep(30 * time.Millisecond)

	probe, err := r.Allow("ep")
	require.NoError(t, err)
	assert.True(t, probe, "first call after reset timeout is the trial")
	assert.Equal(t, StateHalfOpen, r.State("ep"))
}

func TestBreakerHalfOpenAllowsSingleProbe(t *testing.T) {
	r := newTestRegistry(1, 10*time.Millisecond)
	r.RecordFailure("ep")
	time.Sleep(20 * time.Millisecond)

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Allow("ep"); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, allowed, "exactly one trial call while half-open")
}

func TestBreakerHalfOpenOutcomes(t *testing.T) {
	t.Run("probe success closes", func(t *testing.T) {
		r := newTestRegistry(1, 10*time.Millisecond)
		r.RecordFailure("ep")
		time.Sleep(20 * time.Millisecond)

		probe, err := r.Allow("ep")
		require.NoError(t, err)
		require.True(t, probe)

		r.RecordSuccess("ep")
		assert.Equal(t, StateClosed, r.State("ep"))

		probe, err = r.Allow("ep")
		require.NoError(t, err)
		assert.False(t, probe)
	})

	t.Run("probe failure reopens", func(t *testing.T) {
		r := newTestRegistry(1, 10*time.Millisecond)
		r.RecordFailure("ep")
		time.Sleep(20 * time.Millisecond)

		_, err := r.Allow("ep")
		require.NoError(t, err)

		r.RecordFailure("ep")
		assert.Equal(t, StateOpen, r.State("ep"))
		_, err = r.Allow("ep")
		assert.Error(t, err)
	})

	t.Run("released probe can be reclaimed", func(t *testing.T) {
		r := newTestRegistry(1, 10*time.Millisecond)
		r.RecordFailure("ep")
		time.Sleep(20 * time.Millisecond)

		probe, err := r.Allow("ep")
		require.NoError(t, err)
		require.True(t, probe)

		r.ReleaseProbe("ep")

		probe, err = r.Allow("ep")
		require.NoError(t, err)
		assert.True(t, probe)
	})
}

func TestBreakersAreIndependent(t *testing.T) {
	r := newTestRegistry(1, time.Minute)

	r.RecordFailure("a")
	assert.False(t, r.IsAvailable("a"))
	assert.True(t, r.IsAvailable("b"))

	_, err := r.Allow("b")
	assert.NoError(t, err)
}

func TestBreakerReset(t *testing.T) {
	r := newTestRegistry(1, time.Hour)
	r.RecordFailure("ep")
	require.Equal(t, StateOpen, r.State("ep"))

	r.Reset("ep")
	assert.Equal(t, StateClosed, r.State("ep"))
	assert.True(t, r.IsAvailable("ep"))
}

func TestBreakerTransitionHook(t *testing.T) {
	type transition struct{ from, to State }
	var mu sync.Mutex
	var seen []transition

	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond},
		func(endpoint string, from, to State) {
			mu.Lock()
			seen = append(seen, transition{from, to})
			mu.Unlock()
		})

	r.RecordFailure("ep")
	time.Sleep(20 * time.Millisecond)
	_, err := r.Allow("ep")
	require.NoError(t, err)
	r.RecordSuccess("ep")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, transition{StateClosed, StateOpen}, seen[0])
	assert.Equal(t, transition{StateHalfOpen, StateClosed}, seen[len(seen)-1])
}

func TestBreakerConcurrentFailuresTripOnce(t *testing.T) {
	trips := 0
	var mu sync.Mutex
	r := NewRegistry(Config{FailureThreshold: 10, ResetTimeout: time.Minute},
		func(endpoint string, from, to State) {
			if to == StateOpen {
				mu.Lock()
				trips++
				mu.Unlock()
			}
		})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordFailure("ep")
		}()
	}
	wg.Wait()

	assert.Equal(t, StateOpen, r.State("ep"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, trips, "threshold crossing transitions exactly once")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}

func TestAllowErrorIsNotRetryableOnSameEndpoint(t *testing.T) {
	r := newTestRegistry(1, time.Minute)
	r.RecordFailure("ep")

	_, err := r.Allow("ep")
	require.Error(t, err)
	assert.False(t, llmerrors.CountsAgainstBreaker(err))
	assert.True(t, errors.As(err, new(*llmerrors.CircuitOpenError)))
}

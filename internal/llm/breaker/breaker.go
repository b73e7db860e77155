// Package breaker implements per-endpoint circuit breaking.
// Each endpoint owns an independent three-state breaker; failure of one
// endpoint never affects another's counters, so a saturated provider cannot
// starve calls intended for a healthy one.
package breaker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
)

// State is the current position of a breaker's state machine.
type State int32

const (
	// StateClosed allows requests through.
	StateClosed State = iota
	// StateOpen blocks all requests until the reset timeout elapses.
	StateOpen
	// StateHalfOpen allows exactly one trial request.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls breaker behavior for every endpoint in a registry.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// ResetTimeout is how long the breaker stays open before allowing
	// a single half-open trial call.
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout"`
}

// breaker is the per-endpoint state machine. All transitions use atomic
// CAS loops so concurrent call completions never lose updates.
type breaker struct {
	state         atomic.Int32
	failures      atomic.Int32
	lastFailureNs atomic.Int64
	probeInFlight atomic.Bool

	failureThreshold int
	resetTimeout     time.Duration
}

func newBreaker(cfg Config) *breaker {
	b := &breaker{
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
	}
	b.state.Store(int32(StateClosed))
	return b
}

// available is the non-claiming view: true when a call issued now would be
// allowed. An open breaker past its reset timeout reports available since
// a trial would be admitted.
func (b *breaker) available() bool {
	switch State(b.state.Load()) {
	case StateClosed:
		return true
	case StateHalfOpen:
		return !b.probeInFlight.Load()
	case StateOpen:
		return b.resetElapsed()
	default:
		return false
	}
}

func (b *breaker) resetElapsed() bool {
	last := time.Unix(0, b.lastFailureNs.Load())
	return time.Since(last) > b.resetTimeout
}

// resetAt returns when the open breaker will next admit a trial call.
func (b *breaker) resetAt() time.Time {
	return time.Unix(0, b.lastFailureNs.Load()).Add(b.resetTimeout)
}

// allow claims permission for one call. In half-open it claims the single
// probe slot; the claim is released by recordSuccess or recordFailure.
// Returns false with the observed state when the call must be rejected.
func (b *breaker) allow() (bool, State) {
	for {
		state := State(b.state.Load())
		switch state {
		case StateClosed:
			return true, state

		case StateOpen:
			if !b.resetElapsed() {
				return false, state
			}
			if !b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
				continue
			}
			fallthrough

		case StateHalfOpen:
			if b.probeInFlight.CompareAndSwap(false, true) {
				return true, StateHalfOpen
			}
			return false, StateHalfOpen

		default:
			return false, state
		}
	}
}

// recordSuccess resets the failure counter; in half-open the trial's
// success closes the breaker.
func (b *breaker) recordSuccess() (transitioned bool, from State) {
	for {
		state := State(b.state.Load())
		switch state {
		case StateClosed:
			b.failures.Store(0)
			return false, state

		case StateHalfOpen:
			if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
				b.failures.Store(0)
				b.probeInFlight.Store(false)
				return true, StateHalfOpen
			}
			continue

		case StateOpen:
			// Stale completion from before the trip; counters already reset.
			return false, state
		}
	}
}

// recordFailure advances the failure counter; at the threshold the breaker
// trips open, and a failed half-open trial reopens immediately.
func (b *breaker) recordFailure() (transitioned bool, from State) {
	b.lastFailureNs.Store(time.Now().UnixNano())

	for {
		state := State(b.state.Load())
		switch state {
		case StateClosed:
			failures := b.failures.Add(1)
			if int(failures) >= b.failureThreshold {
				if b.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
					b.failures.Store(0)
					return true, StateClosed
				}
				continue
			}
			return false, state

		case StateHalfOpen:
			if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateOpen)) {
				b.failures.Store(0)
				b.probeInFlight.Store(false)
				return true, StateHalfOpen
			}
			continue

		case StateOpen:
			return false, state
		}
	}
}

// TransitionFunc observes breaker state changes for event emission.
// Called outside any lock; implementations must not block.
type TransitionFunc func(endpoint string, from, to State)

// Registry holds one independent breaker per endpoint name.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*breaker

	config       Config
	onTransition TransitionFunc
	logger       *slog.Logger
}

// NewRegistry creates a breaker registry with the given shared config.
// The transition hook may be nil.
func NewRegistry(cfg Config, onTransition TransitionFunc) *Registry {
	return &Registry{
		breakers:     make(map[string]*breaker),
		config:       cfg,
		onTransition: onTransition,
		logger:       slog.Default().With("component", "breaker"),
	}
}

func (r *Registry) get(endpoint string) *breaker {
	r.mu.RLock()
	b, ok := r.breakers[endpoint]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[endpoint]; ok {
		return b
	}
	b = newBreaker(r.config)
	r.breakers[endpoint] = b
	return b
}

// IsAvailable reports whether a call to the endpoint would be admitted now.
// This is a view only; Allow performs the admitting claim.
func (r *Registry) IsAvailable(endpoint string) bool {
	return r.get(endpoint).available()
}

// Allow claims permission for one call against the endpoint.
// probe is true when the claim is the breaker's single half-open trial;
// the caller must settle it with RecordSuccess, RecordFailure, or
// ReleaseProbe. Returns a CircuitOpenError when the breaker rejects.
func (r *Registry) Allow(endpoint string) (probe bool, err error) {
	b := r.get(endpoint)
	allowed, state := b.allow()
	if allowed {
		return state == StateHalfOpen, nil
	}
	return false, &llmerrors.CircuitOpenError{
		Endpoint: endpoint,
		State:    state.String(),
		ResetAt:  b.resetAt().Unix(),
	}
}

// ReleaseProbe abandons a half-open trial claim without recording a health
// outcome. Used when the call failed for reasons that say nothing about
// the endpoint (e.g. misconfiguration).
func (r *Registry) ReleaseProbe(endpoint string) {
	r.get(endpoint).probeInFlight.Store(false)
}

// RecordSuccess records a successful call completion for the endpoint.
func (r *Registry) RecordSuccess(endpoint string) {
	b := r.get(endpoint)
	if transitioned, from := b.recordSuccess(); transitioned {
		r.notify(endpoint, from, StateClosed)
	}
}

// RecordFailure records a failed call completion for the endpoint.
func (r *Registry) RecordFailure(endpoint string) {
	b := r.get(endpoint)
	if transitioned, from := b.recordFailure(); transitioned {
		r.notify(endpoint, from, StateOpen)
	}
}

// State returns the endpoint's current breaker state.
func (r *Registry) State(endpoint string) State {
	return State(r.get(endpoint).state.Load())
}

// Reset forces the endpoint's breaker back to closed. Used by operators
// and tests, never by the call path.
func (r *Registry) Reset(endpoint string) {
	b := r.get(endpoint)
	from := State(b.state.Swap(int32(StateClosed)))
	b.failures.Store(0)
	b.probeInFlight.Store(false)
	if from != StateClosed {
		r.notify(endpoint, from, StateClosed)
	}
}

func (r *Registry) notify(endpoint string, from, to State) {
	r.logger.Info("circuit breaker state transition",
		"endpoint", endpoint,
		"from", from.String(),
		"to", to.String())
	if r.onTransition != nil {
		r.onTransition(endpoint, from, to)
	}
}

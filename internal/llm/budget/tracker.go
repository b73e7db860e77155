// Package budget enforces the process-wide spending ceiling.
// A call may only be dispatched once its estimated cost is reserved against
// the remaining ceiling; the ledger only records actual measured cost on
// commit, so estimates never inflate the books and rejection never mutates
// the ledger.
package budget

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
)

// Config controls the ledger ceiling and accounting period.
type Config struct {
	// DailyCeiling is the hard spend limit per accounting day, in USD.
	DailyCeiling decimal.Decimal `json:"daily_ceiling" yaml:"daily_ceiling"`
}

// Tracker is the process-wide running-cost ledger. All mutation happens
// under one mutex: reservations, commits, and the lazy daily rollover.
type Tracker struct {
	mu          sync.Mutex
	ceiling     decimal.Decimal
	spent       decimal.Decimal
	reserved    decimal.Decimal
	windowStart time.Time

	now func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock substitutes the wall clock, for rollover tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a ledger with the given daily ceiling.
func NewTracker(cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		ceiling: cfg.DailyCeiling,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.windowStart = midnightUTC(t.now())
	return t
}

func midnightUTC(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// maybeRoll resets the ledger at the first touch after UTC midnight.
// Reservations taken before the rollover survive it: a call that started
// in the prior period is not penalized by the reset.
func (t *Tracker) maybeRoll() {
	today := midnightUTC(t.now())
	if today.After(t.windowStart) {
		t.spent = decimal.Zero
		t.windowStart = today
	}
}

// Reservation is a claim against the remaining ceiling for one in-flight
// call. Exactly one of Commit or Release must be called.
type Reservation struct {
	tracker  *Tracker
	estimate decimal.Decimal
	settled  bool
}

// Reserve claims the estimated cost against the remaining ceiling.
// Returns a BudgetExceededError without touching the ledger when the
// estimate does not fit.
func (t *Tracker) Reserve(estimate decimal.Decimal) (*Reservation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeRoll()

	committed := t.spent.Add(t.reserved)
	if committed.Add(estimate).GreaterThan(t.ceiling) {
		return nil, &llmerrors.BudgetExceededError{
			Requested: estimate,
			Remaining: t.ceiling.Sub(committed),
			Ceiling:   t.ceiling,
		}
	}

	t.reserved = t.reserved.Add(estimate)
	return &Reservation{tracker: t, estimate: estimate}, nil
}

// Commit settles the reservation with the call's true measured cost.
// Estimate and actual may differ; only actual lands in the ledger.
func (r *Reservation) Commit(actual decimal.Decimal) {
	t := r.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	t.maybeRoll()
	t.reserved = t.reserved.Sub(r.estimate)
	t.spent = t.spent.Add(actual)
}

// Release abandons the reservation without recording any spend.
// Used when the call fails before the provider charged anything.
func (r *Reservation) Release() {
	t := r.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	t.reserved = t.reserved.Sub(r.estimate)
}

// Remaining returns the uncommitted headroom under the ceiling.
func (t *Tracker) Remaining() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeRoll()
	return t.ceiling.Sub(t.spent).Sub(t.reserved)
}

// Spent returns the actual spend recorded for the current period.
func (t *Tracker) Spent() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeRoll()
	return t.spent
}

package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed lets every call through and counts consecutive failures.
	Closed State = iota
	// Open rejects calls until the cool-down elapses.
	Open
	// HalfOpen lets trial calls through to probe whether the sink has recovered.
	HalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the guarded function while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures a Breaker. Zero thresholds are treated as 1.
type Settings struct {
	FailureThreshold uint32        // consecutive failures that trip the breaker
	SuccessThreshold uint32        // consecutive half-open successes that close it again
	Timeout          time.Duration // how long the breaker stays open
	// OnStateChange, if set, is called after every transition, outside the lock.
	OnStateChange func(from, to State)
}

// Breaker guards calls to an unreliable dependency.
type Breaker struct {
	settings Settings
	now      func() time.Time

	mu        sync.Mutex
	state     State
	failures  uint32
	successes uint32
	openedAt  time.Time
}

// New creates a closed Breaker.
func New(settings Settings) *Breaker {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 1
	}
	if settings.SuccessThreshold == 0 {
		settings.SuccessThreshold = 1
	}
	return &Breaker{settings: settings, now: time.Now}
}

// State returns the current state, moving Open to HalfOpen if the timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.refresh()
	state := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return state
}

// Do runs fn unless the breaker is open and records its outcome.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	from, to := b.refresh()
	open := b.state == Open
	b.mu.Unlock()
	b.notify(from, to)
	if open {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	if err != nil {
		from, to = b.onFailure()
	} else {
		from, to = b.onSuccess()
	}
	b.mu.Unlock()
	b.notify(from, to)
	return err
}

// Execute runs fn through b and returns its value.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Do(func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// refresh, onSuccess and onFailure must be called with mu held. They return
// the transition they made, from == to meaning none.
func (b *Breaker) refresh() (State, State) {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.settings.Timeout {
		return b.setState(HalfOpen)
	}
	return b.state, b.state
}

func (b *Breaker) onSuccess() (State, State) {
	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			return b.setState(Closed)
		}
	case Closed:
		b.failures = 0
	}
	return b.state, b.state
}

func (b *Breaker) onFailure() (State, State) {
	switch b.state {
	case HalfOpen:
		return b.setState(Open)
	case Closed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			return b.setState(Open)
		}
	}
	return b.state, b.state
}

func (b *Breaker) setState(to State) (State, State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == Open {
		b.openedAt = b.now()
	}
	return from, to
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(from, to)
	}
}

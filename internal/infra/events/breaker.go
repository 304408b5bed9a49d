package events

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Publish while the broker is considered down.
var ErrCircuitOpen = errors.New("event publishing suspended: circuit open")

// breakerState is the publishing circuit state.
//   - closed: publishes go through; consecutive failures trip it open
//   - open: publishes fail fast until the cool-down elapses
//   - halfOpen: publishes go through; enough successes close it, a failure reopens
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes how quickly a failing broker is cut off.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to open (default 5)
	Cooldown         time.Duration // time open before probing (default 30s)
	ProbeSuccesses   int           // half-open successes to close (default 2)
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		ProbeSuccesses:   2,
	}
}

// breaker keeps a down broker from adding a network timeout to every award.
type breaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	state     breakerState
	failures  int
	successes int
	openedAt  time.Time
	trips     int
	now       func() time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.ProbeSuccesses <= 0 {
		cfg.ProbeSuccesses = def.ProbeSuccesses
	}
	return &breaker{cfg: cfg, now: time.Now}
}

// allow reports whether a publish may be attempted.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.state = stateHalfOpen
		b.successes = 0
	}
	return nil
}

// success records a delivered publish and returns the resulting state.
func (b *breaker) success() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.ProbeSuccesses {
			b.state = stateClosed
			b.failures = 0
		}
	case stateClosed:
		b.failures = 0
	}
	return b.state
}

// failure records a failed publish and returns the resulting state.
func (b *breaker) failure() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateHalfOpen:
		b.trip()
	case stateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
	return b.state
}

func (b *breaker) trip() {
	b.state = stateOpen
	b.openedAt = b.now()
	b.failures = 0
	b.trips++
}

func (b *breaker) current() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

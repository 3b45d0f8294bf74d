package resilience

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState is the mode of a circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota // calls pass through normally
	StateOpen                       // calls are rejected without contacting the provider
	StateHalfOpen                   // a single probe is allowed through
)

// String returns the state name for logging.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes circuit behavior.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int

	// Cooldown is how long an open circuit rejects calls before allowing a
	// probe.
	Cooldown time.Duration

	// CooldownGrowth multiplies the cooldown after a failed probe. 1.0
	// disables growth.
	CooldownGrowth float64

	// MaxCooldown caps cooldown growth.
	MaxCooldown time.Duration
}

// DefaultBreakerConfig matches the production defaults: 5 consecutive
// failures open the circuit for 60 seconds, doubling up to 10 minutes while
// probes keep failing.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		CooldownGrowth:   2.0,
		MaxCooldown:      10 * time.Minute,
	}
}

// breaker is the state for one key. All transitions happen under mu.
//
// The open→half-open transition is lazy: the next Allow call after the
// cooldown elapses performs it and claims the probe slot. Exactly one caller
// holds the probe slot per cycle; concurrent callers are rejected until the
// probe outcome is reported.
type breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	openUntil   time.Time
	cooldown    time.Duration
	probing     bool
}

// BreakerGroup is a keyed table of circuit breakers, one per provider. Locking
// is per key so contention on one provider never serializes calls to another.
type BreakerGroup struct {
	mu       sync.RWMutex
	cfg      BreakerConfig
	breakers map[string]*breaker
	logger   *zap.Logger
	now      func() time.Time
}

// NewBreakerGroup creates a breaker group with the given configuration.
func NewBreakerGroup(cfg BreakerConfig, logger *zap.Logger) *BreakerGroup {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if cfg.CooldownGrowth < 1.0 {
		cfg.CooldownGrowth = 1.0
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = cfg.Cooldown
	}
	return &BreakerGroup{
		cfg:      cfg,
		breakers: make(map[string]*breaker),
		logger:   logger,
		now:      time.Now,
	}
}

// get returns the breaker for key, creating it on first use.
func (g *BreakerGroup) get(key string) *breaker {
	g.mu.RLock()
	b, ok := g.breakers[key]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok = g.breakers[key]; ok {
		return b
	}
	b = &breaker{state: StateClosed, cooldown: g.cfg.Cooldown}
	g.breakers[key] = b
	return b
}

// Allow reports whether a call to the keyed provider may proceed. The state
// read and any open→half-open transition happen atomically: when the cooldown
// has elapsed, the calling goroutine claims the single probe slot and every
// concurrent caller is rejected until the probe outcome is reported.
func (g *BreakerGroup) Allow(key string) bool {
	b := g.get(key)
	now := g.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if now.Before(b.openUntil) {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		g.logger.Info("circuit breaker half-open, admitting probe",
			zap.String("key", key))
		return true

	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess reports a successful call. A successful probe closes the
// circuit and resets the failure counter and cooldown.
func (g *BreakerGroup) RecordSuccess(key string) {
	b := g.get(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		g.logger.Info("circuit breaker closed after successful probe",
			zap.String("key", key))
	}
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.cooldown = g.cfg.Cooldown
}

// RecordFailure reports a failed call. A failed probe reopens the circuit
// with a grown cooldown; reaching the consecutive-failure threshold while
// closed opens it.
func (g *BreakerGroup) RecordFailure(key string) {
	b := g.get(key)
	now := g.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = now

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		b.state = StateOpen
		b.cooldown = g.growCooldown(b.cooldown)
		b.openUntil = now.Add(b.cooldown)
		g.logger.Warn("circuit breaker reopened after failed probe",
			zap.String("key", key),
			zap.Duration("cooldown", b.cooldown))

	case StateClosed:
		if b.failures >= g.cfg.FailureThreshold {
			b.state = StateOpen
			b.openUntil = now.Add(b.cooldown)
			g.logger.Warn("circuit breaker opened",
				zap.String("key", key),
				zap.Int("consecutive_failures", b.failures),
				zap.Duration("cooldown", b.cooldown))
		}
	}
}

// ReleaseProbe reports that a call finished without saying anything about
// provider health, such as a request the vendor rejected as malformed or one
// the caller abandoned. It frees the half-open probe slot so a later call can
// probe again; state and counters are untouched. Without this, a probe whose
// outcome is never reported would hold the slot until process restart.
func (g *BreakerGroup) ReleaseProbe(key string) {
	b := g.get(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current state for a key. A key that has never been used
// reports closed.
func (g *BreakerGroup) State(key string) BreakerState {
	b := g.get(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive-failure count for a key.
func (g *BreakerGroup) Failures(key string) int {
	b := g.get(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (g *BreakerGroup) growCooldown(current time.Duration) time.Duration {
	grown := time.Duration(float64(current) * g.cfg.CooldownGrowth)
	if grown > g.cfg.MaxCooldown {
		return g.cfg.MaxCooldown
	}
	if grown < g.cfg.Cooldown {
		return g.cfg.Cooldown
	}
	return grown
}

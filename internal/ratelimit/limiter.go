// Package ratelimit provides per-user request limiting for the chat transports.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures rate limiting behavior.
type Config struct {
	// RequestsPerSecond is the sustained rate allowed per key.
	RequestsPerSecond float64
	// Burst is the maximum number of requests allowed at once.
	Burst int
	// Enabled controls whether rate limiting is active.
	Enabled bool
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 1,
		Burst:             5,
		Enabled:           true,
	}
}

func (c Config) normalized() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = DefaultConfig().Burst
	}
	return c
}

const defaultMaxKeys = 10000

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key (usually a user ID).
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	maxKeys int
	now     func() time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		config:  config.normalized(),
		maxKeys: defaultMaxKeys,
		now:     time.Now,
	}
}

// Allow reports whether a request for key may proceed now, consuming a token
// if so.
func (l *Limiter) Allow(key string) bool {
	if l == nil || !l.config.Enabled {
		return true
	}
	now := l.now()
	return l.get(key, now).AllowN(now, 1)
}

// RetryAfter returns how long key has to wait for the next token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	if l == nil || !l.config.Enabled {
		return 0
	}
	now := l.now()
	r := l.get(key, now).ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay
}

// Reset forgets the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	if len(l.entries) >= l.maxKeys {
		l.prune(now)
	}
	e := &entry{
		limiter:  rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst),
		lastSeen: now,
	}
	l.entries[key] = e
	return e.limiter
}

// prune drops keys whose bucket has refilled completely; they behave exactly
// like a fresh bucket. Must be called with mu held.
func (l *Limiter) prune(now time.Time) {
	refill := time.Duration(float64(l.config.Burst) / l.config.RequestsPerSecond * float64(time.Second))
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) >= refill {
			delete(l.entries, key)
		}
	}
}

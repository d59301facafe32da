// Package ratelimit tracks attempts per opaque key inside a sliding window and
// blocks keys that reach a threshold until a fixed expiry.
//
// Keys are composed by callers (for example "ip_10.0.0.1:user_alice"), so
// per-IP, per-user and per-IP-per-user limiting are caller policy.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 5 * time.Minute
	DefaultBlock       = time.Hour

	bucketSize = time.Minute
)

type Config struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

type Option func(*Limiter)

// WithClock overrides the time source. Tests use it to step time deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

type Limiter struct {
	mu sync.Mutex

	maxAttempts int
	windowMs    int64
	blockMs     int64
	now         func() time.Time

	// attempts maps key -> bucket start (epoch ms) -> count.
	attempts map[string]map[int64]int
	// blockedUntil maps key -> block expiry (epoch ms).
	blockedUntil map[string]int64
}

func New(cfg Config, opts ...Option) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultBlock
	}

	l := &Limiter{
		maxAttempts:  cfg.MaxAttempts,
		windowMs:     cfg.Window.Milliseconds(),
		blockMs:      cfg.Block.Milliseconds(),
		now:          time.Now,
		attempts:     make(map[string]map[int64]int),
		blockedUntil: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Config() Config {
	return Config{
		MaxAttempts: l.maxAttempts,
		Window:      time.Duration(l.windowMs) * time.Millisecond,
		Block:       time.Duration(l.blockMs) * time.Millisecond,
	}
}

// IsRateLimited reports whether key is blocked and, if so, until when.
// It is not a pure query: it clears expired blocks and stale buckets, and it
// installs a block when attempts reached the threshold without one being set.
func (l *Limiter) IsRateLimited(key string) (bool, time.Time) {
	now := l.now().UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()

	if until, blocked := l.activeBlockLocked(key, now); blocked {
		return true, time.UnixMilli(until)
	}

	l.purgeLocked(key, now)
	if l.countLocked(key) >= l.maxAttempts {
		until := l.blockLocked(key, now)
		return true, time.UnixMilli(until)
	}
	return false, time.Time{}
}

// RecordAttempt counts one attempt for key and reports whether key is now blocked.
func (l *Limiter) RecordAttempt(key string) bool {
	now := l.now().UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()

	// An expired block takes its history with it before the new attempt lands.
	l.activeBlockLocked(key, now)

	buckets, ok := l.attempts[key]
	if !ok {
		buckets = make(map[int64]int, 1)
		l.attempts[key] = buckets
	}
	buckets[quantize(now)]++

	l.purgeLocked(key, now)
	if l.countLocked(key) >= l.maxAttempts {
		l.blockLocked(key, now)
		return true
	}
	return false
}

// Reset forgets everything about key. Unknown keys are a no-op.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.attempts, key)
	delete(l.blockedUntil, key)
}

// Sweep applies expiry and window cleanup to every key. Lookups already do this
// lazily; Sweep only bounds memory held by keys nobody asks about again.
func (l *Limiter) Sweep() {
	now := l.now().UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.blockedUntil {
		l.activeBlockLocked(key, now)
	}
	for key := range l.attempts {
		l.purgeLocked(key, now)
	}
}

// Run calls Sweep every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

type Stats struct {
	Keys    int
	Blocked int
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Keys: len(l.attempts), Blocked: len(l.blockedUntil)}
}

// activeBlockLocked returns the block expiry for key if it is still in the
// future. An expired block is removed together with the key's attempts.
func (l *Limiter) activeBlockLocked(key string, now int64) (int64, bool) {
	until, ok := l.blockedUntil[key]
	if !ok {
		return 0, false
	}
	if until > now {
		return until, true
	}
	delete(l.blockedUntil, key)
	delete(l.attempts, key)
	return 0, false
}

func (l *Limiter) blockLocked(key string, now int64) int64 {
	until := now + l.blockMs
	l.blockedUntil[key] = until
	return until
}

// purgeLocked drops buckets older than the window. A bucket stamped after now
// (clock stepped backwards) is kept: it cannot be proven stale, so it counts.
func (l *Limiter) purgeLocked(key string, now int64) {
	buckets, ok := l.attempts[key]
	if !ok {
		return
	}
	cutoff := now - l.windowMs
	for ts := range buckets {
		if ts < cutoff {
			delete(buckets, ts)
		}
	}
	if len(buckets) == 0 {
		delete(l.attempts, key)
	}
}

func (l *Limiter) countLocked(key string) int {
	total := 0
	for _, n := range l.attempts[key] {
		total += n
	}
	return total
}

func quantize(ms int64) int64 {
	size := bucketSize.Milliseconds()
	return ms - ms%size
}

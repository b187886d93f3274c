// Package ratelimit bounds how many purchase attempts an account may make
// within a trailing time window.
//
// The limiter keeps a sliding-window log per account: the timestamps of the
// admissions still inside the window. A check evicts expired timestamps,
// admits when fewer than MaxRequests remain, and records the admission time.
// Denied checks leave the log untouched. State lives in memory only.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	DefaultMaxRequests = 5
	DefaultWindow      = 10 * time.Second

	shardCount = 32
)

type Config struct {
	MaxRequests int
	Window      time.Duration
}

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed bool
	// Admissions left in the current window after this check.
	Remaining int
	// On denial, how long until the oldest admission leaves the window.
	RetryAfter time.Duration
}

type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

type shard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

type Limiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time
	shards      [shardCount]*shard
}

// New returns a limiter. Non-positive config values fall back to the defaults.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}

	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	l := &Limiter{
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		now:         time.Now,
	}

	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string][]time.Time)}
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

func (l *Limiter) shardFor(steamID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(steamID))

	return l.shards[h.Sum32()%shardCount]
}

// Check decides whether steamID may make another request now.
func (l *Limiter) Check(steamID string) Decision {
	s := l.shardFor(steamID)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	times := evict(s.windows[steamID], now.Add(-l.window))

	if len(times) >= l.maxRequests {
		s.windows[steamID] = times

		// An admission stops counting once it is strictly older than the window.
		retry := times[0].Add(l.window).Sub(now) + time.Nanosecond

		return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}
	}

	times = append(times, now)
	s.windows[steamID] = times

	return Decision{Allowed: true, Remaining: l.maxRequests - len(times)}
}

// evict drops timestamps older than cutoff. times is sorted ascending.
func evict(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}

	if i == 0 {
		return times
	}

	// Copy down so the backing array does not keep growing.
	n := copy(times, times[i:])

	return times[:n]
}

// Sweep removes accounts whose windows hold no live admissions and returns
// how many were removed.
func (l *Limiter) Sweep() int {
	removed := 0
	cutoff := l.now().Add(-l.window)

	for _, s := range l.shards {
		s.mu.Lock()

		for id, times := range s.windows {
			times = evict(times, cutoff)
			if len(times) == 0 {
				delete(s.windows, id)
				removed++

				continue
			}

			s.windows[id] = times
		}

		s.mu.Unlock()
	}

	return removed
}

// Tracked returns the number of accounts currently holding a window.
func (l *Limiter) Tracked() int {
	n := 0

	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}

	return n
}

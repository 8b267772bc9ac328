// Package ratelimit bounds how often an identifier may hit sensitive entry points.
//
// The in-memory limiter is a fixed-window counter, not a true sliding log: each
// identifier gets a window that starts on its first request, and the count
// resets once the window elapses. A caller can therefore squeeze up to twice
// the limit through in a short span straddling a window boundary. That burst is
// accepted; callers needing exact sliding semantics must not rely on this type.
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	defaultInterval      = time.Minute
	defaultSweepInterval = time.Minute
	defaultMaxTracked    = 10000
)

// Decision describes the outcome of a single check.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetIn   time.Duration
	ResetAt   time.Time
}

// Checker is implemented by every limiter backend.
type Checker interface {
	Check(identifier string, limit int) Decision
}

// Config configures a Limiter.
type Config struct {
	// Name distinguishes independent limiters, e.g. "strict" or "standard".
	Name string
	// Interval is the window length.
	Interval time.Duration
	// MaxTracked caps the number of identifiers held in memory.
	MaxTracked int
	// SweepInterval is how often Start's background sweep runs.
	SweepInterval time.Duration
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter is an in-memory fixed-window counter keyed by identifier.
type Limiter struct {
	name       string
	interval   time.Duration
	maxTracked int
	sweepEvery time.Duration
	clock      clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

// New constructs a Limiter. The sweep does not run until Start is called.
func New(cfg Config) *Limiter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.MaxTracked <= 0 {
		cfg.MaxTracked = defaultMaxTracked
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Limiter{
		name:       cfg.Name,
		interval:   cfg.Interval,
		maxTracked: cfg.MaxTracked,
		sweepEvery: cfg.SweepInterval,
		clock:      cfg.Clock,
		buckets:    make(map[string]*bucket),
	}
}

// Name returns the limiter's configured name.
func (l *Limiter) Name() string {
	return l.name
}

// Interval returns the window length.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Check counts one request for identifier and reports whether it fits in the
// current window. A non-positive limit is treated as 1.
func (l *Limiter) Check(identifier string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.clock.Now()

	l.mu.Lock()
	b, ok := l.buckets[identifier]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(l.interval)}
		l.buckets[identifier] = b
	}
	b.count++
	count, resetAt := b.count, b.resetAt
	l.mu.Unlock()

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   resetAt.Sub(now),
		ResetAt:   resetAt,
	}
}

// Reset forgets a single identifier.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	delete(l.buckets, identifier)
	l.mu.Unlock()
}

// Clear forgets every identifier.
func (l *Limiter) Clear() {
	l.mu.Lock()
	l.buckets = make(map[string]*bucket)
	l.mu.Unlock()
}

// Len returns the number of tracked identifiers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Sweep drops expired buckets, then evicts the buckets closest to expiry until
// at most MaxTracked remain. It returns the number of buckets removed.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, id)
			removed++
		}
	}

	excess := len(l.buckets) - l.maxTracked
	if excess <= 0 {
		return removed
	}
	type entry struct {
		id      string
		resetAt time.Time
	}
	entries := make([]entry, 0, len(l.buckets))
	for id, b := range l.buckets {
		entries = append(entries, entry{id: id, resetAt: b.resetAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].resetAt.Before(entries[j].resetAt)
	})
	for _, e := range entries[:excess] {
		delete(l.buckets, e.id)
	}
	return removed + excess
}

// Start launches the periodic sweep. Calling Start on a running limiter is a no-op.
func (l *Limiter) Start() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	ticker := l.clock.Ticker(l.sweepEvery)
	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}(l.stop, l.done)
}

// Shutdown stops the sweep and waits for it to exit. It is safe to call more than once.
func (l *Limiter) Shutdown() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	if l.stop == nil {
		return
	}
	close(l.stop)
	<-l.done
	l.stop = nil
	l.done = nil
}

var _ Checker = (*Limiter)(nil)

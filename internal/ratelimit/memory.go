package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"passwordless-auth/internal/bucketing"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/util"
)

const (
	defaultIdleTTL         = time.Hour
	defaultJanitorInterval = 5 * time.Minute
	defaultShards          = 64
)

// MemoryLimiter keeps per-key buckets in process. Keys are spread over
// shards so map access never serialises unrelated users, and each key has
// its own lock so its windows are checked and consumed together.
type MemoryLimiter struct {
	windows  []Window
	clock    model.Clock
	idleTTL  time.Duration
	interval time.Duration
	buckets  *bucketing.BucketingManager
	shards   []*shard

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu       sync.Mutex
	limiters []*rate.Limiter
	lastSeen time.Time
	evicted  bool
}

type Option func(*MemoryLimiter)

func WithClock(c model.Clock) Option {
	return func(l *MemoryLimiter) { l.clock = c }
}

// WithIdleTTL sets how long a key must go untouched before it may be evicted.
func WithIdleTTL(d time.Duration) Option {
	return func(l *MemoryLimiter) { l.idleTTL = d }
}

func WithJanitorInterval(d time.Duration) Option {
	return func(l *MemoryLimiter) { l.interval = d }
}

func WithShards(n int) Option {
	return func(l *MemoryLimiter) { l.buckets = bucketing.NewBucketingManager(n) }
}

func NewMemoryLimiter(windows []Window, opts ...Option) *MemoryLimiter {
	if len(windows) == 0 {
		windows = DefaultWindows()
	}
	l := &MemoryLimiter{
		windows:  windows,
		clock:    model.SystemClock{},
		idleTTL:  defaultIdleTTL,
		interval: defaultJanitorInterval,
		buckets:  bucketing.NewBucketingManager(defaultShards),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.shards = make([]*shard, l.buckets.Buckets())
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return l
}

func (l *MemoryLimiter) TryConsume(_ context.Context, key string) Decision {
	now := l.clock.Now()
	for {
		e := l.entry(key)
		e.mu.Lock()
		if e.evicted {
			// lost a race with the janitor; the key now has a fresh entry
			e.mu.Unlock()
			continue
		}
		d := e.consume(now)
		e.lastSeen = now
		e.mu.Unlock()
		return d
	}
}

func (l *MemoryLimiter) entry(key string) *entry {
	s := l.shards[l.buckets.Bucket(key)]
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{limiters: make([]*rate.Limiter, len(l.windows))}
		for i, w := range l.windows {
			every := rate.Limit(float64(w.Capacity) / w.Period.Seconds())
			e.limiters[i] = rate.NewLimiter(every, w.Capacity)
		}
		s.entries[key] = e
	}
	return e
}

// consume must be called with e.mu held.
func (e *entry) consume(now time.Time) Decision {
	var wait time.Duration
	exhausted := false

	for _, lim := range e.limiters {
		tokens := lim.TokensAt(now)
		if tokens >= 1 {
			continue
		}
		w := time.Duration(math.Ceil((1 - tokens) / float64(lim.Limit()) * float64(time.Second)))
		if !exhausted || w < wait {
			wait = w
		}
		exhausted = true
	}
	if exhausted {
		return Decision{Allowed: false, RetryAfter: wait}
	}

	for _, lim := range e.limiters {
		lim.AllowN(now, 1)
	}
	return Decision{Allowed: true}
}

// full must be called with e.mu held.
func (e *entry) full(now time.Time) bool {
	for _, lim := range e.limiters {
		if lim.TokensAt(now) < float64(lim.Burst()) {
			return false
		}
	}
	return true
}

// Evict drops keys idle for at least the idle TTL whose buckets have fully
// refilled, so dropping them loses no accounting. Keys busy at the moment
// of the sweep are skipped. It returns the number of keys removed.
func (l *MemoryLimiter) Evict(now time.Time) int {
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if !e.mu.TryLock() {
				continue
			}
			if now.Sub(e.lastSeen) >= l.idleTTL && e.full(now) {
				e.evicted = true
				delete(s.entries, key)
				removed++
			}
			e.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Start runs the eviction janitor until Close.
func (l *MemoryLimiter) Start() {
	l.startOnce.Do(func() {
		go l.janitor()
	})
}

func (l *MemoryLimiter) janitor() {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if n := l.Evict(l.clock.Now()); n > 0 {
				util.Debug("Evicted idle rate limit keys", util.Int("count", n))
			}
		}
	}
}

// Close stops the janitor. It is safe to call without Start and more than once.
func (l *MemoryLimiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)
		started := true
		l.startOnce.Do(func() { started = false })
		if started {
			<-l.done
		}
	})
}

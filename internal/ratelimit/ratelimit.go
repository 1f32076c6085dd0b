package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// bucket is a coarse sliding-window counter: a window start timestamp
// and the number of events seen since. Reset when the window expires.
type bucket struct {
	windowStart time.Time
	count       int
}

type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter counts events per key over a rolling window. Used for the
// per-IP and per-user limits.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	buckets map[string]*bucket
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewLimiter returns a limiter allowing max events per window per key.
// A sweeper goroutine prunes expired buckets every sweepInterval; pass
// zero to disable sweeping.
func NewLimiter(max int, window, sweepInterval time.Duration) *Limiter {
	l := &Limiter{
		max:     max,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	if sweepInterval > 0 {
		go l.sweepLoop(sweepInterval)
	}

	return l
}

// Allow records one event for key and reports whether it fits in the
// current window. On denial, RetryAfter is the time until the window
// resets, rounded up to at least one second.
func (l *Limiter) Allow(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) > l.window {
		l.buckets[key] = &bucket{windowStart: now, count: 1}
		return Result{Allowed: true}
	}

	b.count++
	if b.count > l.max {
		retry := b.windowStart.Add(l.window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return Result{Allowed: false, RetryAfter: retry}
	}

	return Result{Allowed: true}
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) > l.window {
			delete(l.buckets, key)
		}
	}
}

func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// EventKind identifies a socket event class with its own limit.
type EventKind string

const (
	EventTyping   EventKind = "typing"
	EventEdit     EventKind = "edit"
	EventDelete   EventKind = "delete"
	EventJoinRoom EventKind = "joinRoom"
)

type eventLimit struct {
	max    int
	window time.Duration
}

var eventLimits = map[EventKind]eventLimit{
	EventTyping:   {max: 10, window: 5 * time.Second},
	EventEdit:     {max: 5, window: 10 * time.Second},
	EventDelete:   {max: 5, window: 10 * time.Second},
	EventJoinRoom: {max: 10, window: 10 * time.Second},
}

const (
	eventCacheSize = 10_000
	eventCacheTTL  = 30 * time.Second
)

// EventLimiter applies per-(socket, event) limits with bounded memory:
// buckets live in an expiring LRU, so a stale entry simply allows a
// fresh window to start.
type EventLimiter struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *bucket]
	now   func() time.Time
}

func NewEventLimiter() *EventLimiter {
	return &EventLimiter{
		cache: expirable.NewLRU[string, *bucket](eventCacheSize, nil, eventCacheTTL),
		now:   time.Now,
	}
}

// Allow records one event for the socket and reports whether it fits
// in the window for that event kind. Unknown kinds are allowed.
func (e *EventLimiter) Allow(socketId string, kind EventKind) bool {
	limit, ok := eventLimits[kind]
	if !ok {
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	key := socketId + ":" + string(kind)
	b, ok := e.cache.Get(key)
	if !ok || now.Sub(b.windowStart) > limit.window {
		e.cache.Add(key, &bucket{windowStart: now, count: 1})
		return true
	}

	b.count++
	return b.count <= limit.max
}

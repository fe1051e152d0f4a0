// Package ratelimit limits requests per client address with token buckets.
//
// Buckets live in memory and are not shared between instances. This covers a
// single address flooding the service. It does not cover distributed
// sources, and request bodies have already been read off the wire by the
// time it runs. The server runs two limiters: a site-wide one, and a
// stricter one in front of uploads and deletes, which cost disk writes,
// archive extraction and a store round trip.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/sitedrop/internal/httpmw"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
	// reported is set on the first denial and cleared by eviction, so each
	// offender is logged once per idle period
	reported bool
}

type verdict int

const (
	allowed verdict = iota
	limited
	full
)

// Limiter holds one token bucket per client address
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	full    bool

	perSecond rate.Limit
	burst     int
	ttl       time.Duration
	// maxKeys bounds the map so a spray of source addresses cannot grow it
	// without limit, 0 disables the bound
	maxKeys int

	onDenied      func(ip string)
	onFirstDenied func(ip string)
	onCapacity    func()
}

type Option func(*Limiter)

// WithRate sets the bucket size and refill rate. WithRate(0.5, 5) allows five
// uploads back to back, then one every two seconds.
func WithRate(perSecond float64, burst int) Option {
	return func(l *Limiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle address keeps its bucket
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) { l.ttl = d }
}

// WithMaxVisitors bounds how many addresses are tracked. New addresses are
// turned away while the map is full, known ones keep their budget.
func WithMaxVisitors(n int) Option {
	return func(l *Limiter) { l.maxKeys = n }
}

// WithOnDenied runs on every rejected request, for counting
func WithOnDenied(fn func(ip string)) Option {
	return func(l *Limiter) { l.onDenied = fn }
}

// WithOnFirstDenied runs once per address until its bucket is evicted, for logging
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *Limiter) { l.onFirstDenied = fn }
}

// WithOnCapacity runs once when the map fills up and again only after
// eviction has made room
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) { l.onCapacity = fn }
}

// New returns a Limiter whose eviction loop runs until ctx is done
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:   make(map[string]*bucket),
		perSecond: 10,
		burst:     30,
		ttl:       5 * time.Minute,
		maxKeys:   100000,
	}
	for _, o := range opts {
		o(l)
	}
	go l.evictLoop(ctx)
	return l
}

// take spends one token for ip. first reports whether this is the first
// denial of its kind since the last reset.
func (l *Limiter) take(ip string, now time.Time) (v verdict, first bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		if l.maxKeys > 0 && len(l.buckets) >= l.maxKeys {
			first = !l.full
			l.full = true
			return full, first
		}
		b = &bucket{lim: rate.NewLimiter(l.perSecond, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	if b.lim.AllowN(now, 1) {
		return allowed, false
	}
	first = !b.reported
	b.reported = true
	return limited, first
}

// allow runs the hooks outside the lock, they may log or touch metrics
func (l *Limiter) allow(ip string) bool {
	v, first := l.take(ip, time.Now())
	switch v {
	case allowed:
		return true
	case full:
		if first && l.onCapacity != nil {
			l.onCapacity()
		}
	case limited:
		if first && l.onFirstDenied != nil {
			l.onFirstDenied(ip)
		}
	}
	if l.onDenied != nil {
		l.onDenied(ip)
	}
	return false
}

// sweep drops buckets idle for longer than the ttl and re-arms the
// capacity hook once there is room again
func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, ip)
		}
	}
	if l.maxKeys <= 0 || len(l.buckets) < l.maxKeys {
		l.full = false
	}
}

func (l *Limiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

// retryAfter is the time for one token to refill, at least a second
func (l *Limiter) retryAfter() int {
	if l.perSecond <= 0 || l.perSecond == rate.Inf {
		return 1
	}
	return max(1, int(math.Ceil(1/float64(l.perSecond))))
}

// Middleware answers 429 once the client address is over budget. The
// address comes from httpmw.ClientIPWithOptions, so X-Forwarded-For from
// an untrusted peer cannot pick the bucket.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(httpmw.ClientIPFromContext(r.Context())) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
			w.WriteHeader(http.StatusTooManyRequests)
			// no detail on budget or refill
			_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

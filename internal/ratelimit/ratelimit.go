// ABOUTME: Keyed fixed-window rate limiter for operator commands
// ABOUTME: Minute and hour windows per operator, swept in the background

package ratelimit

import (
	"strconv"
	"sync"
	"time"
)

// Config sets the per-operator command budget.
type Config struct {
	PerMinute int
	PerHour   int
}

// DefaultConfig allows 10 commands per minute and 100 per hour.
func DefaultConfig() Config {
	return Config{PerMinute: 10, PerHour: 100}
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool          `json:"allowed"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"resetIn"`
}

// Status reports an operator's current window usage.
type Status struct {
	MinuteUsed  int           `json:"minuteUsed"`
	MinuteLimit int           `json:"minuteLimit"`
	HourUsed    int           `json:"hourUsed"`
	HourLimit   int           `json:"hourLimit"`
	ResetIn     time.Duration `json:"resetIn"`
}

type bucket struct {
	count   int
	expires time.Time
}

// Limiter tracks fixed minute and hour windows per operator. Counters only
// advance via Commit, so rejected or failed commands never consume budget.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a limiter and starts its background sweep goroutine.
func New(cfg Config) *Limiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = DefaultConfig().PerMinute
	}
	if cfg.PerHour <= 0 {
		cfg.PerHour = DefaultConfig().PerHour
	}
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func minuteKey(operatorID string, now time.Time) string {
	return operatorID + "|m|" + strconv.FormatInt(now.Unix()/60, 10)
}

func hourKey(operatorID string, now time.Time) string {
	return operatorID + "|h|" + strconv.FormatInt(now.Unix()/3600, 10)
}

func minuteReset(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

func hourReset(now time.Time) time.Duration {
	return now.Truncate(time.Hour).Add(time.Hour).Sub(now)
}

// countLocked returns the live count for a key. Caller holds l.mu.
func (l *Limiter) countLocked(key string, now time.Time) int {
	b, ok := l.buckets[key]
	if !ok || now.After(b.expires) {
		return 0
	}
	return b.count
}

// Allow checks whether the operator has budget left in both windows. It does
// not consume budget; call Commit after the command succeeds.
func (l *Limiter) Allow(operatorID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	minuteUsed := l.countLocked(minuteKey(operatorID, now), now)
	hourUsed := l.countLocked(hourKey(operatorID, now), now)

	if minuteUsed >= l.cfg.PerMinute {
		return Decision{Allowed: false, Remaining: 0, ResetIn: minuteReset(now)}
	}
	if hourUsed >= l.cfg.PerHour {
		return Decision{Allowed: false, Remaining: 0, ResetIn: hourReset(now)}
	}

	remaining := l.cfg.PerMinute - minuteUsed
	if hourLeft := l.cfg.PerHour - hourUsed; hourLeft < remaining {
		remaining = hourLeft
	}
	return Decision{Allowed: true, Remaining: remaining, ResetIn: minuteReset(now)}
}

// Commit consumes one unit of budget in both windows.
func (l *Limiter) Commit(operatorID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.incrementLocked(minuteKey(operatorID, now), now, minuteReset(now))
	l.incrementLocked(hourKey(operatorID, now), now, hourReset(now))
}

// incrementLocked bumps a bucket, recreating it if expired. Caller holds l.mu.
func (l *Limiter) incrementLocked(key string, now time.Time, ttl time.Duration) {
	b, ok := l.buckets[key]
	if !ok || now.After(b.expires) {
		l.buckets[key] = &bucket{count: 1, expires: now.Add(ttl)}
		return
	}
	b.count++
}

// Status reports the operator's current usage without consuming budget.
func (l *Limiter) Status(operatorID string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	return Status{
		MinuteUsed:  l.countLocked(minuteKey(operatorID, now), now),
		MinuteLimit: l.cfg.PerMinute,
		HourUsed:    l.countLocked(hourKey(operatorID, now), now),
		HourLimit:   l.cfg.PerHour,
		ResetIn:     minuteReset(now),
	}
}

// sweep periodically drops expired buckets so the map never grows unbounded.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, b := range l.buckets {
				if now.After(b.expires) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		close(l.done)
		l.closed = true
	}
}

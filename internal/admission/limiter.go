package admission

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Limits holds the configured ceilings for the three sliding windows
type Limits struct {
	PerSecond int
	PerMinute int
	PerHour   int
}

// Decision is the outcome of one admission check
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// Stats is a read-only snapshot of one key's current window counts
type Stats struct {
	Key         string `json:"key"`
	SecondCount int    `json:"secondCount"`
	MinuteCount int    `json:"minuteCount"`
	HourCount   int    `json:"hourCount"`
	SecondLimit int    `json:"secondLimit"`
	MinuteLimit int    `json:"minuteLimit"`
	HourLimit   int    `json:"hourLimit"`
}

// keyState holds the per-key timestamp logs. All three windows share one log:
// pruning to the hour window keeps every entry the shorter windows need.
type keyState struct {
	hits     []time.Time
	lastSeen time.Time
}

// Limiter is a sliding-window rate limiter keyed by caller number or IP.
// Per-key state is created lazily and evicted after an idle period.
type Limiter struct {
	mu      sync.Mutex
	keys    map[string]*keyState
	limits  Limits
	idleTTL time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// NewLimiter creates a limiter with the given ceilings and key idle eviction
func NewLimiter(limits Limits, idleTTL time.Duration, logger zerolog.Logger) *Limiter {
	return &Limiter{
		keys:    make(map[string]*keyState),
		limits:  limits,
		idleTTL: idleTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// Allow checks all three windows for key and, if permitted, records the hit.
// Check and increment happen under one lock so concurrent callers cannot
// slip past a ceiling together.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.keys[key]
	if !ok {
		st = &keyState{}
		l.keys[key] = st
	}
	st.lastSeen = now
	st.prune(now)

	second, minute, hour := st.counts(now)

	switch {
	case second >= l.limits.PerSecond:
		return l.reject(key, "burst limit exceeded", st.retryAfter(now, time.Second, l.limits.PerSecond))
	case minute >= l.limits.PerMinute:
		return l.reject(key, "per-minute limit exceeded", st.retryAfter(now, time.Minute, l.limits.PerMinute))
	case hour >= l.limits.PerHour:
		return l.reject(key, "hourly limit exceeded", st.retryAfter(now, time.Hour, l.limits.PerHour))
	}

	st.hits = append(st.hits, now)
	return Decision{Allowed: true}
}

func (l *Limiter) reject(key, reason string, retryAfter time.Duration) Decision {
	l.logger.Debug().
		Str("key", key).
		Str("reason", reason).
		Dur("retry_after", retryAfter).
		Msg("admission rejected")
	return Decision{Allowed: false, Reason: reason, RetryAfter: retryAfter}
}

// Stats returns the current counts and configured limits for key without
// mutating any state.
func (l *Limiter) Stats(key string) Stats {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{
		Key:         key,
		SecondLimit: l.limits.PerSecond,
		MinuteLimit: l.limits.PerMinute,
		HourLimit:   l.limits.PerHour,
	}

	st, ok := l.keys[key]
	if !ok {
		return stats
	}
	stats.SecondCount, stats.MinuteCount, stats.HourCount = st.counts(now)
	return stats
}

// Start runs the idle-key eviction loop until done is closed
func (l *Limiter) Start(done <-chan struct{}) {
	interval := l.idleTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *Limiter) evictIdle() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, st := range l.keys {
		if now.Sub(st.lastSeen) > l.idleTTL {
			delete(l.keys, key)
			evicted++
		}
	}
	if evicted > 0 {
		l.logger.Debug().Int("evicted", evicted).Int("remaining", len(l.keys)).Msg("evicted idle rate keys")
	}
}

// KeyCount returns the number of tracked keys
func (l *Limiter) KeyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// prune drops hits older than the widest window
func (s *keyState) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(s.hits) && !s.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.hits = append(s.hits[:0], s.hits[i:]...)
	}
}

func (s *keyState) counts(now time.Time) (second, minute, hour int) {
	secCutoff := now.Add(-time.Second)
	minCutoff := now.Add(-time.Minute)
	hourCutoff := now.Add(-time.Hour)
	for _, h := range s.hits {
		if !h.After(hourCutoff) {
			continue
		}
		hour++
		if h.After(minCutoff) {
			minute++
		}
		if h.After(secCutoff) {
			second++
		}
	}
	return second, minute, hour
}

// retryAfter reports how long until the oldest hit inside the violated window
// slides out and one slot frees up.
func (s *keyState) retryAfter(now time.Time, window time.Duration, limit int) time.Duration {
	cutoff := now.Add(-window)
	var inWindow []time.Time
	for _, h := range s.hits {
		if h.After(cutoff) {
			inWindow = append(inWindow, h)
		}
	}
	if len(inWindow) < limit {
		return 0
	}
	oldest := inWindow[len(inWindow)-limit]
	d := oldest.Add(window).Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

package logx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle rate-limits log lines per key.
//
// Each key gets its own token bucket; lines over budget are counted and the
// count is attached (as "suppressed") to the next line that gets through.
type Throttle struct {
	every time.Duration
	burst int

	mu   sync.Mutex
	keys map[string]*throttleKey
}

type throttleKey struct {
	lim        *rate.Limiter
	suppressed int
}

// NewThrottle allows burst lines per key, refilled one per every.
func NewThrottle(every time.Duration, burst int) *Throttle {
	if every <= 0 {
		every = 5 * time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{every: every, burst: burst, keys: map[string]*throttleKey{}}
}

// Allow reports whether a line for key may be written now, and how many
// lines were dropped since the previous allowed one.
func (t *Throttle) Allow(key string) (bool, int) {
	if t == nil {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	k := t.keys[key]
	if k == nil {
		k = &throttleKey{lim: rate.NewLimiter(rate.Every(t.every), t.burst)}
		t.keys[key] = k
	}
	if !k.lim.Allow() {
		k.suppressed++
		return false, 0
	}
	n := k.suppressed
	k.suppressed = 0
	return true, n
}

// Log writes msg through l at level if key is within budget.
func (t *Throttle) Log(l Logger, level Level, key, msg string, fields ...Field) {
	ok, suppressed := t.Allow(key)
	if !ok {
		return
	}
	if suppressed > 0 {
		fields = append(fields, Int("suppressed", suppressed))
	}
	l.log(level, msg, fields...)
}

package accounts

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MailThrottle limits how often mails go out to the same address
type MailThrottle interface {
	Allow(email string) bool
}

type mailVisitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateMailThrottle keeps one token bucket per address
type RateMailThrottle struct {
	mu       sync.Mutex
	visitors map[string]*mailVisitor
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      Clock
}

// NewRateMailThrottle allows perHour mails per address with the given burst
func NewRateMailThrottle(perHour float64, burst int) *RateMailThrottle {
	if burst < 1 {
		burst = 1
	}

	return &RateMailThrottle{
		visitors: make(map[string]*mailVisitor),
		limit:    rate.Limit(perHour / 3600),
		burst:    burst,
		idleTTL:  2 * time.Hour,
		now:      defaultClock,
	}
}

// Allow reports whether a mail to email may be sent now
func (t *RateMailThrottle) Allow(email string) bool {
	key := normalizeEmail(email)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cleanup(now)

	v, ok := t.visitors[key]
	if !ok {
		v = &mailVisitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[key] = v
	}
	v.lastSeen = now

	return v.limiter.AllowN(now, 1)
}

func (t *RateMailThrottle) cleanup(now time.Time) {
	for key, v := range t.visitors {
		if now.Sub(v.lastSeen) > t.idleTTL {
			delete(t.visitors, key)
		}
	}
}

type noopMailThrottle struct{}

func (noopMailThrottle) Allow(string) bool { return true }

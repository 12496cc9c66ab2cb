package paywall

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/x402kit/utils"
)

// RateLimitConfig bounds requests per payer over a sliding window.
type RateLimitConfig struct {
	MaxRequests int           `validate:"gt=0"`
	Window      time.Duration `validate:"gt=0"`
	// SkipAboveAmount exempts payments of at least this amount.
	SkipAboveAmount string `validate:"omitempty,amount"`
}

// RateLimiter is a per-payer sliding window log. It is safe for
// concurrent use.
type RateLimiter struct {
	max    int
	window time.Duration
	skip   *decimal.Decimal
	now    func() time.Time

	mu    sync.Mutex
	hits  map[string][]time.Time
	calls int
}

const pruneEvery = 1024

func NewRateLimiter(cfg RateLimitConfig) (*RateLimiter, error) {
	if err := utils.ValidateStruct(cfg); err != nil {
		return nil, err
	}

	l := &RateLimiter{
		max:    cfg.MaxRequests,
		window: cfg.Window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
	if cfg.SkipAboveAmount != "" {
		skip, err := utils.ValidateAmount(cfg.SkipAboveAmount)
		if err != nil {
			return nil, err
		}
		l.skip = skip
	}
	return l, nil
}

// Allow records a request from payer paying amount. When the window is
// full it returns false and how long until the oldest request leaves it.
// Exempt payments are neither limited nor recorded.
func (l *RateLimiter) Allow(payer, amount string) (bool, time.Duration) {
	if l.exempt(amount) {
		return true, 0
	}

	key := strings.ToLower(payer)
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%pruneEvery == 0 {
		l.pruneLocked(cutoff)
	}

	recent := l.hits[key]
	i := 0
	for i < len(recent) && !recent[i].After(cutoff) {
		i++
	}
	recent = recent[i:]

	if len(recent) >= l.max {
		l.hits[key] = recent
		return false, recent[0].Add(l.window).Sub(now)
	}

	l.hits[key] = append(recent, now)
	return true, 0
}

func (l *RateLimiter) exempt(amount string) bool {
	if l.skip == nil || amount == "" {
		return false
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return false
	}
	return dec.GreaterThanOrEqual(*l.skip)
}

// Prune drops payers with no requests inside the window. Allow also
// prunes every pruneEvery calls.
func (l *RateLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now().Add(-l.window))
}

// Len reports how many payers are tracked.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

func (l *RateLimiter) pruneLocked(cutoff time.Time) {
	for k, recent := range l.hits {
		if len(recent) == 0 || !recent[len(recent)-1].After(cutoff) {
			delete(l.hits, k)
		}
	}
}

package stackexchange

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// pacer spaces requests with a token bucket that slows down when the API
// throttles and honors the "backoff" seconds the API asks for.
// On throttling it halves the rate (down to initial/4); each success regains
// 20% (up to the initial rate).
type pacer struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
	notBefore   time.Time
}

func newPacer(perSec float64) *pacer {
	r := rate.Limit(perSec)
	if perSec <= 0 {
		r = rate.Inf
	}
	return &pacer{
		limiter:     rate.NewLimiter(r, 1),
		initialRate: r,
		minRate:     r / 4,
		currentRate: r,
	}
}

// Wait blocks until a request may be sent.
func (p *pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	hold := time.Until(p.notBefore)
	p.mu.Unlock()

	if hold > 0 {
		timer := time.NewTimer(hold)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return p.limiter.Wait(ctx)
}

// Backoff holds further requests for secs seconds.
func (p *pacer) Backoff(secs int) {
	if secs <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	until := time.Now().Add(time.Duration(secs) * time.Second)
	if until.After(p.notBefore) {
		p.notBefore = until
	}
}

// OnSuccess regains 20% of the rate, up to the initial rate.
func (p *pacer) OnSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentRate == rate.Inf || p.currentRate >= p.initialRate {
		return
	}
	newRate := min(p.currentRate*1.2, p.initialRate)
	p.currentRate = newRate
	p.limiter.SetLimit(newRate)
}

// OnThrottle halves the rate after a throttle_violation or 429.
func (p *pacer) OnThrottle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentRate == rate.Inf {
		return
	}
	newRate := max(p.currentRate*0.5, p.minRate)
	p.currentRate = newRate
	p.limiter.SetLimit(newRate)
	zap.L().Warn("stackexchange: throttled, reducing request rate",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate.
func (p *pacer) Limit() rate.Limit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentRate
}

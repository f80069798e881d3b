package dispatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Pacer throttles outbound calls per destination. A zero rate disables pacing.
type Pacer struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewPacer creates a pacer allowing rps calls per second to each destination.
func NewPacer(rps float64) *Pacer {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Pacer{
		limiters: make(map[int64]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Enabled reports whether the pacer throttles at all.
func (p *Pacer) Enabled() bool {
	return p != nil && p.rps > 0
}

// Wait blocks until destID may be called or ctx is done.
func (p *Pacer) Wait(ctx context.Context, destID int64) error {
	if !p.Enabled() {
		return nil
	}
	return p.limiter(destID).Wait(ctx)
}

// Forget drops the limiter for a destination.
func (p *Pacer) Forget(destID int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.limiters, destID)
	p.mu.Unlock()
}

func (p *Pacer) limiter(destID int64) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[destID]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.limiters[destID] = l
	}
	return l
}

package dispatch

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// pacer keeps one token bucket per destination host
type pacer struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newPacer(perSecond float64, burst int) *pacer {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &pacer{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (p *pacer) limiter(host string) *rate.Limiter {
	p.mu.RLock()
	l, ok := p.limiters[host]
	p.mu.RUnlock()
	if ok {
		return l
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok = p.limiters[host]; ok {
		return l
	}
	l = rate.NewLimiter(p.limit, p.burst)
	p.limiters[host] = l
	return l
}

// wait blocks until the destination host has a free token
func (p *pacer) wait(ctx context.Context, destination string) error {
	if p == nil {
		return nil
	}

	host := destination
	if u, err := url.Parse(destination); err == nil && u.Host != "" {
		host = u.Host
	}
	return p.limiter(host).Wait(ctx)
}

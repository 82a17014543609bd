package dispatch

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrSaturated is passed to the completion hook when the background pool is full
	ErrSaturated = errors.New("background dispatch pool saturated")

	// ErrShutdown is passed to the completion hook after Shutdown
	ErrShutdown = errors.New("dispatcher shut down")
)

// background is the bounded pool running fire-and-forget sends.
// Its context is detached from any caller and only ends on Shutdown.
type background struct {
	mu     sync.Mutex
	group  errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

func newBackground(workers int) *background {
	ctx, cancel := context.WithCancel(context.Background())
	b := &background{ctx: ctx, cancel: cancel}
	b.group.SetLimit(workers)
	return b
}

// Go sends in the background and returns at once. It reports whether the send
// was scheduled; a full pool drops the send and logs it.
func (d *Dispatcher) Go(url string, payload any, opts ...Option) bool {
	o := d.resolve(opts)
	b := d.background

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		d.logger.Warn().Str("url", url).Msg("background dispatch after shutdown, dropping")
		notify(o.completion, ErrShutdown)
		return false
	}
	scheduled := b.group.TryGo(func() error {
		resp, err := d.Send(b.ctx, url, payload, opts...)
		if err != nil {
			d.logger.Warn().Err(err).Str("url", url).Str("instance", o.instanceLabel).Msg("background dispatch failed")
		}
		if o.completion != nil {
			o.completion(resp, err)
		}
		return nil
	})
	b.mu.Unlock()

	if !scheduled {
		d.logger.Warn().Str("url", url).Str("instance", o.instanceLabel).Msg("background dispatch pool saturated, dropping")
		notify(o.completion, ErrSaturated)
	}

	return scheduled
}

// Shutdown stops accepting background sends, cancels the in-flight ones
// and waits for them until ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	b := d.background

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cancel()

	done := make(chan struct{})
	go func() {
		_ = b.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.logger.Warn().Msg("background dispatches still running at shutdown")
		return ctx.Err()
	}
}

func notify(fn func(Response, error), err error) {
	if fn != nil {
		fn(Response{}, err)
	}
}

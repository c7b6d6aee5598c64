package playback

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Periodic runs a function on a clock ticker until it returns false or is
// stopped.
type Periodic struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartPeriodic calls fn every interval. The ticker is armed before
// StartPeriodic returns.
func StartPeriodic(ctx context.Context, clk clock.Clock, interval time.Duration, fn func() bool) *Periodic {
	ctx, cancel := context.WithCancel(ctx)
	p := &Periodic{cancel: cancel, done: make(chan struct{})}
	ticker := clk.Ticker(interval)

	go func() {
		defer close(p.done)
		defer cancel()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil || !fn() {
					return
				}
			}
		}
	}()
	return p
}

// startJob runs fn once in a goroutine with the same stop and wait handles
// as a periodic task.
func startJob(ctx context.Context, fn func(ctx context.Context)) *Periodic {
	ctx, cancel := context.WithCancel(ctx)
	p := &Periodic{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer cancel()
		fn(ctx)
	}()
	return p
}

// Stop cancels the task. It does not wait for a running call to finish, so
// it is safe to call from inside fn or while holding locks fn needs.
func (p *Periodic) Stop() {
	if p != nil {
		p.cancel()
	}
}

// Done is closed once the task has exited.
func (p *Periodic) Done() <-chan struct{} { return p.done }

// Wait blocks until the task has exited.
func (p *Periodic) Wait() { <-p.done }

// Running reports whether the task has not exited yet.
func (p *Periodic) Running() bool {
	if p == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

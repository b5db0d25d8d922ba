package client

import (
	"context"
	"sync"
)

type refreshResult struct {
	creds *Credentials
	err   error
}

// refreshGroup collapses concurrent refresh requests into one operation.
// Waiters registered while the operation runs all receive its result, in the
// order they arrived.
type refreshGroup struct {
	mu       sync.Mutex
	inflight bool
	waiters  []chan refreshResult
}

// do runs fn unless a call is already in flight, in which case it waits for
// that call's result instead. fn runs on a context detached from the caller's
// cancellation, so a caller giving up never aborts the refresh for the others.
func (g *refreshGroup) do(ctx context.Context, fn func(context.Context) (*Credentials, error)) (*Credentials, error) {
	ch := make(chan refreshResult, 1)

	g.mu.Lock()
	g.waiters = append(g.waiters, ch)
	start := !g.inflight
	g.inflight = true
	g.mu.Unlock()

	if start {
		go g.run(context.WithoutCancel(ctx), fn)
	}

	select {
	case res := <-ch:
		return res.creds, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *refreshGroup) run(ctx context.Context, fn func(context.Context) (*Credentials, error)) {
	creds, err := fn(ctx)

	g.mu.Lock()
	waiters := g.waiters
	g.waiters = nil
	g.inflight = false
	g.mu.Unlock()

	// buffered channels: delivery never blocks on a waiter that went away
	for _, ch := range waiters {
		ch <- refreshResult{creds: creds, err: err}
	}
}

// pending reports how many callers are currently waiting
func (g *refreshGroup) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// Package serial provides a FIFO serialization gate for store access.
//
// The ClickHouse connection used by this pipeline serves one query at a
// time; overlapping queries fail outright. Every store-touching operation
// from both schedulers funnels through one Gate, so no two queries are ever
// in flight simultaneously.
package serial

import (
	"context"
	"sync"
)

// Gate executes functions one at a time in submission order. There is no
// timeout-based preemption: a slow operation blocks the queue.
type Gate struct {
	mu    sync.Mutex
	busy  bool
	queue []chan struct{}
}

func New() *Gate { return &Gate{} }

// Do runs fn after all previously submitted operations have completed.
// Waiting is aborted when ctx is cancelled; a running fn is never cancelled.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()
	return fn()
}

func (g *Gate) acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	g.queue = append(g.queue, ch)
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.queue {
			if w == ch {
				g.queue = append(g.queue[:i], g.queue[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// The baton was handed to us concurrently with cancellation;
		// pass it on so the queue keeps draining.
		<-ch
		g.release()
		return ctx.Err()
	}
}

func (g *Gate) release() {
	g.mu.Lock()
	if len(g.queue) > 0 {
		next := g.queue[0]
		g.queue = g.queue[1:]
		g.mu.Unlock()
		close(next)
		return
	}
	g.busy = false
	g.mu.Unlock()
}

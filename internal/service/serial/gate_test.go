package serial

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNoOverlap(t *testing.T) {
	g := New()
	var inFlight, maxInFlight int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func() error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					m := atomic.LoadInt32(&maxInFlight)
					if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&maxInFlight) != 1 {
		t.Fatalf("observed %d concurrent operations, want 1", maxInFlight)
	}
}

func TestFIFOOrder(t *testing.T) {
	g := New()
	var order []int
	var mu sync.Mutex

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// Give each waiter time to enqueue so submission order is known.
		time.Sleep(10 * time.Millisecond)
	}
	close(release)
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("served out of order: %v", order)
		}
	}
}

func TestCancelledWaiter(t *testing.T) {
	g := New()
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Do(ctx, func() error { return nil })
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-errCh; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(release)
	// Gate must still serve new work after a cancelled waiter.
	done := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("gate stuck after cancelled waiter")
	}
}

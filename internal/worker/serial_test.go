package worker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoSerializesPerKey(t *testing.T) {
	exec := NewKeyedExecutor()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exec.Do("conv-1", func() error {
				now := atomic.AddInt32(&active, 1)
				for {
					seen := atomic.LoadInt32(&maxActive)
					if now <= seen || atomic.CompareAndSwapInt32(&maxActive, seen, now) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Fatalf("max concurrent holders for one key = %d, want 1", got)
	}
	if len(exec.entries) != 0 {
		t.Fatalf("entries must be reclaimed after the last holder, %d left", len(exec.entries))
	}
}

func TestDoDistinctKeysRunConcurrently(t *testing.T) {
	exec := NewKeyedExecutor()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = exec.Do("conv-1", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// A different key must not wait on conv-1's holder.
	done := make(chan struct{})
	go func() {
		_ = exec.Do("conv-2", func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("distinct key blocked behind an unrelated holder")
	}
	close(release)
}

func TestDoPropagatesError(t *testing.T) {
	exec := NewKeyedExecutor()

	want := errors.New("boom")
	if err := exec.Do("conv-1", func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("Do error = %v, want %v", err, want)
	}

	// The key is usable again after a failed run.
	if err := exec.Do("conv-1", func() error { return nil }); err != nil {
		t.Fatalf("Do after failure: %v", err)
	}
}

package importer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spaghettifunk/oxygen/engine/core"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	pool, err := NewWorkerPool(2, 4)
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	defer pool.Shutdown()

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Run(context.Background(), func(ctx context.Context) error {
				count.Add(1)
				return nil
			}); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := count.Load(); got != 8 {
		t.Fatalf("ran %d tasks, want 8", got)
	}
}

func TestWorkerPoolRejectsBadConfig(t *testing.T) {
	if _, err := NewWorkerPool(0, 4); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("zero workers: got %v, want ErrNoWorkers", err)
	}
	if _, err := NewWorkerPool(1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Fatalf("negative channel: got %v, want ErrNegativeChannelSize", err)
	}
}

func TestWorkerPoolCanceledContext(t *testing.T) {
	pool, err := NewWorkerPool(1, 0)
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	defer pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err = pool.Run(ctx, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if !core.IsCanceled(err) {
		t.Fatalf("canceled context: got %v, want canceled", err)
	}
	if ran {
		t.Fatal("task body ran despite canceled context")
	}
}

func TestWorkerPoolShutdown(t *testing.T) {
	pool, err := NewWorkerPool(1, 2)
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	if err := pool.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := pool.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	err = pool.Run(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, core.ErrNotReady) {
		t.Fatalf("Run after shutdown: got %v, want ErrNotReady", err)
	}
}

package shutdown

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"
)

func TestTrigger_ReverseOrder(t *testing.T) {
	h := NewHandler(time.Second, nil)

	var mu sync.Mutex
	order := make([]int, 0, 3)
	for i := 1; i <= 3; i++ {
		i := i
		h.OnShutdown("hook", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}

	if err := h.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("hook order = %v, want [3 2 1]", order)
	}

	select {
	case <-h.Done():
	default:
		t.Error("Done channel should be closed after Trigger")
	}
}

func TestTrigger_HookErrorDoesNotStopOthers(t *testing.T) {
	h := NewHandler(time.Second, nil)

	wantErr := errors.New("unmount failed")
	ran := 0
	h.OnShutdown("first", func(ctx context.Context) error { ran++; return nil })
	h.OnShutdown("second", func(ctx context.Context) error { ran++; return wantErr })
	h.OnShutdown("third", func(ctx context.Context) error { ran++; return nil })

	err := h.Trigger()
	if !errors.Is(err, wantErr) {
		t.Errorf("Trigger() = %v, want %v", err, wantErr)
	}
	if ran != 3 {
		t.Errorf("ran %d hooks, want 3", ran)
	}
}

func TestWait_Signal(t *testing.T) {
	h := NewHandler(time.Second, nil)

	fired := make(chan struct{})
	h.OnShutdown("mark", func(ctx context.Context) error {
		close(fired)
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait() }()

	// Let Wait arm its signal handler before delivering.
	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after SIGTERM")
	}

	select {
	case <-fired:
	default:
		t.Error("hook did not run")
	}
}

func TestConcurrentRegistration(t *testing.T) {
	h := NewHandler(time.Second, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.OnShutdown("noop", func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()

	h.mu.Lock()
	n := len(h.hooks)
	h.mu.Unlock()
	if n != 10 {
		t.Errorf("registered %d hooks, want 10", n)
	}
}

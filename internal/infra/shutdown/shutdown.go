// Package shutdown coordinates graceful termination of the pagevaultd
// daemon. Hooks run in reverse registration order so the outer
// surfaces come down before the engine: stop the socket server, drain
// pending filler renewals, unmount bases and zeroize their keys.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Handler waits for a termination signal and runs registered hooks.
type Handler struct {
	timeout time.Duration
	logger  *slog.Logger
	mu      sync.Mutex
	hooks   []namedHook
	done    chan struct{}
}

type namedHook struct {
	name string
	fn   func(context.Context) error
}

// NewHandler creates a shutdown handler. Hooks share a single context
// bounded by timeout.
func NewHandler(timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// OnShutdown registers a named hook. Hooks run in reverse order of
// registration.
func (h *Handler) OnShutdown(name string, hook func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, namedHook{name: name, fn: hook})
}

// Wait blocks until SIGINT or SIGTERM, then runs all hooks. Every hook
// runs even when an earlier one fails; the last error is returned.
func (h *Handler) Wait() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)

	h.logger.Info("shutdown signal received", "signal", sig.String())
	return h.run()
}

// Trigger runs the hooks without waiting for a signal.
func (h *Handler) Trigger() error {
	return h.run()
}

func (h *Handler) run() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	hooks := make([]namedHook, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.Unlock()

	var lastErr error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].fn(ctx); err != nil {
			h.logger.Error("shutdown hook failed", "hook", hooks[i].name, "error", err)
			lastErr = err
		}
	}

	close(h.done)
	return lastErr
}

// Done closes once all hooks have run.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

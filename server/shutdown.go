// server/shutdown.go
package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

// DefaultShutdownTimeout bounds a graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// ShutdownManager handles graceful shutdown
type ShutdownManager struct {
	server     *http.Server
	closers    []io.Closer
	timeout    time.Duration
	shutdownCh chan struct{}
	once       sync.Once
	waitGroup  sync.WaitGroup
}

// NewShutdownManager creates a shutdown manager for srv.
// The closers (tool resources, leak detector) are closed after the server stops.
func NewShutdownManager(srv *http.Server, timeout time.Duration, closers ...io.Closer) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &ShutdownManager{
		server:     srv,
		closers:    closers,
		timeout:    timeout,
		shutdownCh: make(chan struct{}),
	}
}

// HandleGracefulShutdown waits for SIGINT, SIGTERM or ctx, then shuts down
func (sm *ShutdownManager) HandleGracefulShutdown(ctx context.Context) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		logger.KV(xlog.INFO, "status", "signal", "signal", sig.String())
	case <-ctx.Done():
		logger.KV(xlog.INFO, "status", "context_done")
	}

	return sm.Shutdown()
}

// Shutdown stops the server and closes the registered resources
func (sm *ShutdownManager) Shutdown() error {
	var err error
	sm.once.Do(func() {
		close(sm.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
		defer cancel()

		done := make(chan error, 1)
		sm.waitGroup.Add(1)
		go func() {
			defer sm.waitGroup.Done()
			done <- sm.performGracefulShutdown(ctx)
		}()

		select {
		case err = <-done:
			if err == nil {
				logger.KV(xlog.INFO, "status", "shutdown_complete")
			}
		case <-ctx.Done():
			err = errors.Wrap(ctx.Err(), "shutdown timed out")
		}
	})
	return err
}

// performGracefulShutdown handles the actual shutdown sequence
func (sm *ShutdownManager) performGracefulShutdown(ctx context.Context) error {
	var shutdownErr error

	// Stop accepting new connections
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			logger.KV(xlog.ERROR, "reason", "server_shutdown", "err", err.Error())
			shutdownErr = errors.CombineErrors(shutdownErr, errors.Wrap(err, "server shutdown error"))
		}
	}

	for _, c := range sm.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			logger.KV(xlog.ERROR, "reason", "close", "err", err.Error())
			shutdownErr = errors.CombineErrors(shutdownErr, errors.Wrap(err, "close error"))
		}
	}

	return shutdownErr
}

// IsShuttingDown returns true if shutdown has been initiated
func (sm *ShutdownManager) IsShuttingDown() bool {
	select {
	case <-sm.shutdownCh:
		return true
	default:
		return false
	}
}

// WaitForShutdown blocks until shutdown is complete
func (sm *ShutdownManager) WaitForShutdown() {
	sm.waitGroup.Wait()
}

// Package server provides application lifecycle management including
// graceful startup and shutdown with signal handling.
package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds how long Run waits for services to return
// after shutdown begins.
const DefaultShutdownTimeout = 10 * time.Second

// ErrShutdownTimeout is returned by Run when services outlive the shutdown timeout.
var ErrShutdownTimeout = errors.New("services did not stop before shutdown timeout")

// Service is a long-running component. Run blocks until ctx is cancelled or
// the service fails; returning nil or context.Canceled counts as a clean stop.
type Service interface {
	Run(ctx context.Context) error
}

// ServiceFunc adapts a function into the Service interface.
type ServiceFunc func(ctx context.Context) error

// Run calls f.
func (f ServiceFunc) Run(ctx context.Context) error { return f(ctx) }

// Lifecycle runs named services together. The first service failure, SIGINT,
// SIGTERM or cancellation of the parent context stops all of them.
type Lifecycle struct {
	logger   *zap.Logger
	timeout  time.Duration
	services []namedService
	mu       sync.Mutex
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle creates a new Lifecycle manager. A non-positive timeout uses
// DefaultShutdownTimeout.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger, shutdownTimeout time.Duration) *Lifecycle {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Lifecycle{
		logger:  logger,
		timeout: shutdownTimeout,
	}
}

// Add registers a named service.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts every service and blocks until shutdown completes.
//
// Postcondition: Returns the first service error, ErrShutdownTimeout if a
// service ignored cancellation, or nil after a clean stop.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	l.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ns := range services {
		g.Go(func() error {
			l.logger.Info("starting service", zap.String("service", ns.name))
			svcStart := time.Now()
			err := ns.service.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				return fmt.Errorf("service %s: %w", ns.name, err)
			}
			l.logger.Info("service stopped",
				zap.String("service", ns.name),
				zap.Duration("uptime", time.Since(svcStart)),
			)
			return nil
		})
	}

	l.logger.Info("all services started",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	<-gctx.Done()
	shutdownStart := time.Now()
	l.logger.Info("shutting down", zap.NamedError("cause", context.Cause(gctx)))

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		l.logger.Info("shutdown complete",
			zap.Duration("shutdown_elapsed", time.Since(shutdownStart)),
			zap.Duration("total_uptime", time.Since(start)),
		)
		return err
	case <-timer.C:
		l.logger.Error("shutdown timed out", zap.Duration("timeout", l.timeout))
		return ErrShutdownTimeout
	}
}

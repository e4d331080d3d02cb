package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// HTTPService serves srv on srv.Addr until ctx is cancelled, then shuts it
// down within timeout. Request contexts derive from ctx, so hijacked
// connections such as websockets observe the shutdown too.
func HTTPService(srv *http.Server, timeout time.Duration, logger *zap.Logger) Service {
	return ServiceFunc(func(ctx context.Context) error {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", srv.Addr, err)
		}
		srv.BaseContext = func(net.Listener) context.Context { return ctx }

		errCh := make(chan error, 1)
		go func() {
			logger.Info("http listening", zap.String("addr", ln.Addr().String()))
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
			_ = srv.Close()
		}
		return <-errCh
	})
}

// GRPCService serves srv on addr until ctx is cancelled. It stops gracefully,
// forcing the stop once timeout elapses.
func GRPCService(srv *grpc.Server, addr string, timeout time.Duration, logger *zap.Logger) Service {
	return ServiceFunc(func(ctx context.Context) error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("grpc listening", zap.String("addr", ln.Addr().String()))
			errCh <- srv.Serve(ln)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(timeout):
			logger.Warn("grpc graceful stop timed out, forcing")
			srv.Stop()
		}
		return nil
	})
}

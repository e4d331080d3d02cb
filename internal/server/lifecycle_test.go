package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
)

type blockingService struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (b *blockingService) Run(ctx context.Context) error {
	b.started.Store(true)
	<-ctx.Done()
	b.stopped.Store(true)
	return ctx.Err()
}

func runAsync(lc *Lifecycle, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()
	return done
}

func TestLifecycleStartsAndStopsServices(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t), time.Second)
	svc1, svc2 := &blockingService{}, &blockingService{}
	lc.Add("svc1", svc1)
	lc.Add("svc2", svc2)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(lc, ctx)

	require.Eventually(t, func() bool {
		return svc1.started.Load() && svc2.started.Load()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down in time")
	}
	assert.True(t, svc1.stopped.Load())
	assert.True(t, svc2.stopped.Load())
}

func TestLifecycleFailureStopsOthers(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t), time.Second)
	peer := &blockingService{}
	boom := errors.New("boom")
	lc.Add("peer", peer)
	lc.Add("broken", ServiceFunc(func(context.Context) error { return boom }))

	select {
	case err := <-runAsync(lc, context.Background()):
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "service broken")
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not stop after failure")
	}
	assert.True(t, peer.stopped.Load())
}

func TestLifecycleShutdownTimeout(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t), 50*time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	lc.Add("stubborn", ServiceFunc(func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	select {
	case err := <-runAsync(lc, ctx):
		assert.ErrorIs(t, err, ErrShutdownTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle ignored its shutdown timeout")
	}
}

func TestNewLifecycleDefaultsTimeout(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t), 0)
	assert.Equal(t, DefaultShutdownTimeout, lc.timeout)
}

func TestServiceFunc(t *testing.T) {
	var got context.Context
	svc := ServiceFunc(func(ctx context.Context) error {
		got = ctx
		return nil
	})
	ctx := context.Background()
	require.NoError(t, svc.Run(ctx))
	assert.Equal(t, ctx, got)
}

func TestHTTPServiceStopsOnCancel(t *testing.T) {
	logger := zaptest.NewLogger(t)
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	svc := HTTPService(srv, time.Second, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("http service did not stop")
	}
}

func TestHTTPServiceBadAddr(t *testing.T) {
	srv := &http.Server{Addr: "256.0.0.1:http"}
	err := HTTPService(srv, time.Second, zaptest.NewLogger(t)).Run(context.Background())
	assert.Error(t, err)
}

func TestGRPCServiceStopsOnCancel(t *testing.T) {
	svc := GRPCService(grpc.NewServer(), "127.0.0.1:0", time.Second, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("grpc service did not stop")
	}
}

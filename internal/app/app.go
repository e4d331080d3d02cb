// Package app wires configuration into a running table server: the storage
// backend and its change feed, the table, the websocket gateway and the
// admin gRPC endpoint.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	grpclogging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpcrecovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/cory-johannsen/prism/internal/config"
	"github.com/cory-johannsen/prism/internal/game/bestiary"
	"github.com/cory-johannsen/prism/internal/game/dice"
	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/token"
	"github.com/cory-johannsen/prism/internal/gateway"
	"github.com/cory-johannsen/prism/internal/observability"
	"github.com/cory-johannsen/prism/internal/realtime"
	"github.com/cory-johannsen/prism/internal/server"
	"github.com/cory-johannsen/prism/internal/storage/memory"
	"github.com/cory-johannsen/prism/internal/storage/postgres"
	redisstore "github.com/cory-johannsen/prism/internal/storage/redis"
	"github.com/cory-johannsen/prism/internal/table"
)

// HealthService is the gRPC health service name reported for the table.
const HealthService = "prism.Table"

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// App holds every long-lived component of one server process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	repo   realtime.Repository
	feed   realtime.Feed
	outbox *realtime.Outbox
	table  *table.Table
	hub    *gateway.Hub
	health *health.Server
	checks []healthCheck
	closer []func()

	// seeded is closed once the table holds the stored tokens.
	seeded     chan struct{}
	seededOnce sync.Once
}

// New builds an App for cfg. Nothing runs until Register's services start.
//
// Precondition: cfg must have passed Validate.
// Postcondition: Returns an App or an error; on error every opened
// connection is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger, health: health.NewServer(), seeded: make(chan struct{})}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	announcer, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}

	var beasts *bestiary.Bestiary
	if cfg.Table.BestiaryDir != "" {
		beasts, err = bestiary.Load(cfg.Table.BestiaryDir)
		if err != nil {
			return nil, fmt.Errorf("loading bestiary: %w", err)
		}
		logger.Info("bestiary loaded", zap.Int("monsters", beasts.Len()))
	}

	a.outbox = realtime.NewOutbox(a.repo, announcer, cfg.Realtime.WriteTimeout, logger.Named("outbox"))
	a.hub = gateway.NewHub(gateway.DefaultSendBuffer, logger.Named("gateway"))
	a.table, err = table.New(table.Options{
		Board: grid.Map{
			Width:    cfg.Table.MapWidth,
			Height:   cfg.Table.MapHeight,
			GridSize: cfg.Table.GridSize,
			ImageURL: cfg.Table.MapImageURL,
		},
		Origin:        cfg.Server.InstanceID,
		Jitter:        cfg.Table.DragJitter,
		InitiativeDie: cfg.Table.InitiativeDie,
	}, table.Deps{
		Writer:    a.outbox,
		Publisher: a.hub,
		Roller:    dice.NewRoller(dice.NewCryptoSource(), logger.Named("dice")),
		Bestiary:  beasts,
		Logger:    logger.Named("table"),
	})
	if err != nil {
		return nil, err
	}
	built = true
	return a, nil
}

// openBackend selects the repository, feed and announcer for the backend.
func (a *App) openBackend(ctx context.Context) (realtime.Announcer, error) {
	cfg := a.cfg
	origin := cfg.Server.InstanceID

	if cfg.Realtime.Backend == config.BackendMemory {
		broker := memory.NewBroker(origin, memory.DefaultBuffer, a.logger.Named("broker"))
		a.repo, a.feed = memory.NewRepository(), broker
		return broker, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.closer = append(a.closer, pool.Close)
	a.repo = postgres.NewTokenRepository(pool.DB(), origin)
	a.checks = append(a.checks, healthCheck{name: "postgres", check: func(ctx context.Context) error {
		return pool.Health(ctx, 2*time.Second)
	}})

	switch cfg.Realtime.Backend {
	case config.BackendRedis:
		client, err := redisstore.NewClient(cfg.Redis.Addr, &redisstore.Options{
			Password:        cfg.Redis.Password,
			DB:              cfg.Redis.DB,
			PoolSize:        cfg.Redis.PoolSize,
			MinIdleConns:    cfg.Redis.MinIdleConns,
			ConnMaxIdleTime: cfg.Redis.ConnMaxIdleTime,
			MaxRetries:      cfg.Redis.MaxRetries,
			UseTLS:          cfg.Redis.UseTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closer = append(a.closer, func() { _ = client.Close() })
		bus := redisstore.NewBus(client, cfg.Realtime.Channel, origin, a.logger.Named("bus"))
		a.feed = bus
		a.checks = append(a.checks, healthCheck{name: "redis", check: bus.Ping})
		return bus, nil
	default:
		a.feed = postgres.NewListener(pool.DB(), cfg.Realtime.Channel, a.logger.Named("listener"))
		return realtime.NopAnnouncer{}, nil
	}
}

// Table returns the table served by this App.
func (a *App) Table() *table.Table { return a.table }

// Handler returns the HTTP routes: the websocket endpoint at /ws and a
// liveness check at /healthz.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.NewHandler(a.table, a.hub, gateway.Options{
		WriteTimeout:   a.cfg.HTTP.WriteTimeout,
		OriginPatterns: a.cfg.HTTP.OriginPatterns,
	}, a.logger.Named("gateway")))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp, err := a.health.Check(r.Context(), &healthpb.HealthCheckRequest{Service: HealthService})
		status := healthpb.HealthCheckResponse_UNKNOWN
		if err == nil {
			status = resp.GetStatus()
		}
		code := http.StatusOK
		if status != healthpb.HealthCheckResponse_SERVING {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": status.String(),
			"seats":  a.hub.Len(),
		})
	})
	return mux
}

// Register adds every service of the App to lc. The HTTP listener opens
// only after the table has been seeded from storage, so no seat acts on an
// empty table.
func (a *App) Register(lc *server.Lifecycle) {
	timeout := a.cfg.Server.ShutdownTimeout
	lc.Add("outbox", server.ServiceFunc(a.outbox.Run))
	lc.Add("table", server.ServiceFunc(a.table.Run))
	lc.Add("feed", server.ServiceFunc(a.syncFeed))
	lc.Add("health", server.ServiceFunc(a.healthLoop))
	lc.Add("http", a.afterSeed(server.HTTPService(&http.Server{
		Addr:              a.cfg.HTTP.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.cfg.HTTP.ReadHeaderTimeout,
	}, timeout, a.logger.Named("http"))))
	lc.Add("admin", server.GRPCService(a.adminServer(), a.cfg.Admin.Addr(), timeout, a.logger.Named("admin")))
}

// Seeded is closed once the table has been loaded from storage.
func (a *App) Seeded() <-chan struct{} { return a.seeded }

// afterSeed delays svc until the table is seeded.
func (a *App) afterSeed(svc server.Service) server.Service {
	return server.ServiceFunc(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-a.seeded:
		}
		return svc.Run(ctx)
	})
}

func (a *App) adminServer() *grpc.Server {
	grpcLog := observability.GRPCLogger(a.logger.Named("grpc"))
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpclogging.UnaryServerInterceptor(grpcLog),
			grpcrecovery.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			grpclogging.StreamServerInterceptor(grpcLog),
			grpcrecovery.StreamServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(srv, a.health)
	if a.cfg.Admin.Reflection {
		reflection.Register(srv)
	}
	return srv
}

// syncFeed keeps the table in step with storage until ctx is done. Each
// round subscribes first and lists second: changes that arrive while the
// table catches up are held and replayed after it, so none written after
// the subscription went live are lost. The first round seeds the table;
// after a feed failure syncFeed waits ReconnectDelay and reconciles.
func (a *App) syncFeed(ctx context.Context) error {
	logger := a.logger.Named("feed")
	catchUp := a.seed
	for {
		err := a.follow(ctx, logger, catchUp)
		if ctx.Err() != nil {
			return nil
		}
		var fatal seedError
		if errors.As(err, &fatal) {
			return fatal.err
		}
		logger.Warn("change feed interrupted", zap.Error(err), zap.Duration("retry_in", a.cfg.Realtime.ReconnectDelay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.cfg.Realtime.ReconnectDelay):
		}
		if a.isSeeded() {
			catchUp = a.reconcile
		}
	}
}

// seedError stops syncFeed instead of retrying.
type seedError struct{ err error }

func (e seedError) Error() string { return e.err.Error() }

// follow runs one subscription. catchUp runs once the subscription is live;
// changes delivered before it returns are replayed after it, in order.
func (a *App) follow(ctx context.Context, logger *zap.Logger, catchUp func(context.Context, *zap.Logger) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	held := &backlog{apply: func(ch token.Change) {
		if _, err := a.table.ApplyRemote(ctx, ch); err != nil && ctx.Err() == nil {
			logger.Warn("applying remote change", zap.String("token_id", ch.ID), zap.Error(err))
		}
	}}
	live := make(chan struct{})
	var liveOnce sync.Once
	done := make(chan error, 1)
	go func() {
		done <- a.feed.Subscribe(ctx, func() { liveOnce.Do(func() { close(live) }) }, held.deliver)
	}()

	select {
	case <-live:
	case err := <-done:
		if err == nil && ctx.Err() == nil {
			err = errors.New("feed closed before going live")
		}
		return err
	}
	if err := catchUp(ctx, logger); err != nil {
		return err
	}
	if n := held.release(); n > 0 {
		logger.Debug("replayed changes held during catch-up", zap.Int("changes", n))
	}
	return <-done
}

// seed loads the stored tokens into the table and opens the gate for seats.
func (a *App) seed(ctx context.Context, logger *zap.Logger) error {
	tokens, err := a.repo.List(ctx)
	if err != nil {
		return seedError{fmt.Errorf("seeding table: %w", err)}
	}
	n, err := a.table.Seed(ctx, tokens)
	if err != nil {
		return seedError{err}
	}
	logger.Info("table seeded", zap.Int("tokens", n))
	a.seededOnce.Do(func() { close(a.seeded) })
	return nil
}

func (a *App) isSeeded() bool {
	select {
	case <-a.seeded:
		return true
	default:
		return false
	}
}

// reconcile replays the stored tokens as remote updates so changes missed
// while the feed was down reach the table. A listing failure is logged and
// left to the next reconnect.
func (a *App) reconcile(ctx context.Context, logger *zap.Logger) error {
	tokens, err := a.repo.List(ctx)
	if err != nil {
		logger.Warn("reconciling after reconnect", zap.Error(err))
		return nil
	}
	var applied int
	for _, t := range tokens {
		ok, err := a.table.ApplyRemote(ctx, token.Change{Op: token.OpUpdate, ID: t.ID, Token: t})
		if err != nil {
			return err
		}
		if ok {
			applied++
		}
	}
	logger.Info("reconciled after reconnect", zap.Int("tokens", len(tokens)), zap.Int("applied", applied))
	return nil
}

// backlog holds feed changes until release, then passes them straight on.
type backlog struct {
	apply func(token.Change)

	mu      sync.Mutex
	open    bool
	pending []token.Change
}

func (b *backlog) deliver(ch token.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		b.pending = append(b.pending, ch)
		return
	}
	b.apply(ch)
}

// release applies the held changes in arrival order and returns how many
// there were. Later changes are applied as they arrive.
func (b *backlog) release() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.pending {
		b.apply(ch)
	}
	n := len(b.pending)
	b.pending, b.open = nil, true
	return n
}

// healthLoop reports backend health to the gRPC health service every
// HealthInterval until ctx is done.
func (a *App) healthLoop(ctx context.Context) error {
	interval := a.cfg.Admin.HealthInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	a.checkHealth(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.health.Shutdown()
			return nil
		case <-ticker.C:
			a.checkHealth(ctx)
		}
	}
}

func (a *App) checkHealth(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, p := range a.checks {
		status := healthpb.HealthCheckResponse_SERVING
		if err := p.check(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			a.logger.Warn("health check failed", zap.String("check", p.name), zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
		}
		a.health.SetServingStatus(p.name, status)
	}
	a.health.SetServingStatus(HealthService, overall)
	a.health.SetServingStatus("", overall)
}

// Close releases database and redis connections.
func (a *App) Close() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		a.closer[i]()
	}
	a.closer = nil
}

package bootstrap

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/http"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/memory"
	metricsadapter "github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/metrics"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/security"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	service    *application.Service
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	limiter    *httpadapter.ClientRateLimiter
	outbox     *eventadapter.OutboxWorker
	cleanupFns []func()
}

// stores is the storage wiring selected by the storage driver.
type stores struct {
	attempts   ports.AttemptRepository
	states     ports.AccountStateRepository
	tokens     ports.ResetTokenRepository
	events     ports.SecurityEventRepository
	outbox     ports.OutboxRepository
	identities ports.IdentityDirectory
	counter    ports.IPAttemptCounter
	ready      []func(context.Context) error
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger.With("service", cfg.ServiceID))
	logger.Info("bootstrapping m08 auth security core",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage_driver", cfg.StorageDriver,
		"account_state_backend", cfg.AccountStateBackend,
	)

	rt := &Runtime{cfg: cfg, logger: logger}
	st, err := rt.openStores(ctx)
	if err != nil {
		rt.cleanup()
		return nil, err
	}

	hashKey := []byte(cfg.TokenHashKey)
	if len(hashKey) == 0 {
		logger.Warn("using ephemeral reset token hash key for local runtime")
		hashKey = make([]byte, 32)
		if _, err := rand.Read(hashKey); err != nil {
			rt.cleanup()
			return nil, fmt.Errorf("generate token hash key: %w", err)
		}
	}
	hasher, err := security.NewBlake2bTokenHasher(hashKey)
	if err != nil {
		rt.cleanup()
		return nil, fmt.Errorf("init token hasher: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := metricsadapter.NewCollector(registry)

	rt.service = application.NewService(application.Dependencies{
		Config: application.Config{
			Lockout: domain.LockoutPolicy{
				Threshold:         cfg.LockoutThreshold,
				Duration:          cfg.LockoutDuration,
				FreezeWhileLocked: cfg.FreezeWhileLocked,
			},
			IPWindow:         cfg.IPWindow,
			IPLimit:          cfg.IPLimit,
			ResetTokenTTL:    cfg.ResetTokenTTL,
			OperationTimeout: cfg.OperationTimeout,
			QueryDefaultSize: cfg.QueryDefaultSize,
			QueryMaxSize:     cfg.QueryMaxSize,
		},
		Attempts:       st.attempts,
		AttemptCounter: st.counter,
		AccountStates:  st.states,
		ResetTokens:    st.tokens,
		Events:         st.events,
		Identities:     st.identities,
		Clock:          security.SystemClock{},
		TokenGenerator: security.NewRandomTokenGenerator(),
		TokenHasher:    hasher,
		Metrics:        metrics,
	})

	publisher, err := rt.newPublisher()
	if err != nil {
		rt.cleanup()
		return nil, err
	}
	rt.outbox = eventadapter.NewOutboxWorker(logger, st.outbox, publisher, eventadapter.OutboxWorkerConfig{
		Interval:   cfg.OutboxPollPeriod,
		BatchSize:  cfg.OutboxBatchSize,
		ClaimTTL:   cfg.OutboxClaimTTL,
		MaxRetries: cfg.OutboxMaxRetries,
	})

	ready := func(ctx context.Context) error {
		for _, check := range st.ready {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	trusted, err := httpadapter.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		rt.cleanup()
		return nil, err
	}
	opts := httpadapter.RouterOptions{ServiceToken: cfg.ServiceToken, TrustedProxies: trusted}
	if cfg.APIRateLimit > 0 {
		rt.limiter = httpadapter.NewClientRateLimiter(httpadapter.RateLimitConfig{
			Rate:  rate.Limit(cfg.APIRateLimit),
			Burst: cfg.APIRateBurst,
		})
		opts.Limiter = rt.limiter
		rt.cleanupFns = append(rt.cleanupFns, rt.limiter.Stop)
	}
	if cfg.MetricsEnabled {
		opts.Metrics = metricsadapter.Handler(registry)
	}
	if cfg.ServiceToken == "" {
		logger.Warn("service token not configured, /security/v1 is unauthenticated")
	}

	rt.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(httpadapter.NewHandler(rt.service, ready), opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	rt.grpcServer = grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(rt.grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(rt.grpcServer, grpcadapter.NewLoginGuardServer(rt.service))

	return rt, nil
}

func (r *Runtime) openStores(ctx context.Context) (stores, error) {
	var st stores
	var redisClient *redis.Client
	if r.cfg.RedisURL != "" {
		client, err := cacheadapter.Connect(ctx, r.cfg.RedisURL)
		if err != nil {
			return stores{}, fmt.Errorf("connect redis: %w", err)
		}
		redisClient = client
		r.cleanupFns = append(r.cleanupFns, func() { _ = client.Close() })
		st.ready = append(st.ready, func(ctx context.Context) error { return client.Ping(ctx).Err() })
		st.counter = cacheadapter.NewRedisAttemptWindow(client, r.cfg.IPWindow)
	}

	switch r.cfg.StorageDriver {
	case StoragePostgres:
		db, err := postgres.Connect(ctx, r.cfg.DatabaseURL, r.cfg.MaxDBConns)
		if err != nil {
			return stores{}, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return stores{}, fmt.Errorf("gorm sql db: %w", err)
		}
		r.cleanupFns = append(r.cleanupFns, func() { _ = sqlDB.Close() })
		st.ready = append(st.ready, sqlDB.PingContext)

		if err := postgres.RunMigrations(ctx, r.cfg.DatabaseURL); err != nil {
			return stores{}, fmt.Errorf("run migrations: %w", err)
		}
		repos := postgres.NewRepositories(db)
		identities, err := postgres.NewIdentityDirectory(db, r.cfg.IdentityTable, r.cfg.IdentityColumn)
		if err != nil {
			return stores{}, err
		}
		st.attempts = repos.Attempts
		st.states = repos.AccountStates
		st.tokens = repos.ResetTokens
		st.events = repos.Events
		st.outbox = repos.Outbox
		st.identities = identities
	default:
		outbox := memory.NewOutboxRepository()
		st.attempts = memory.NewAttemptRepository()
		st.states = memory.NewAccountStateRepository()
		st.tokens = memory.NewResetTokenRepository()
		st.events = memory.NewSecurityEventRepository(outbox)
		st.outbox = outbox
		if len(r.cfg.StaticIdentities) > 0 {
			st.identities = memory.NewIdentityDirectory(r.cfg.StaticIdentities...)
		} else {
			r.logger.Warn("no static identities configured, accepting any identity")
			st.identities = memory.NewPermissiveIdentityDirectory()
		}
	}

	if r.cfg.AccountStateBackend == AccountStateRedis {
		if redisClient == nil {
			return stores{}, errors.New("account state backend redis requires REDIS_URL")
		}
		st.states = cacheadapter.NewRedisAccountStateStore(redisClient)
	}
	return st, nil
}

func (r *Runtime) newPublisher() (ports.EventPublisher, error) {
	if len(r.cfg.KafkaBrokers) == 0 {
		return eventadapter.NewLoggingPublisher(r.logger), nil
	}
	publisher, err := eventadapter.NewKafkaPublisher(r.cfg.KafkaBrokers, r.cfg.KafkaTopic, nil)
	if err != nil {
		return nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	r.cleanupFns = append(r.cleanupFns, func() { _ = publisher.Close() })
	return publisher, nil
}

// Handler exposes the HTTP surface, used by smoke tests.
func (r *Runtime) Handler() http.Handler {
	return r.httpServer.Handler
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanup()
		return fmt.Errorf("listen gRPC: %w", err)
	}
	r.grpcLis = lis

	errCh := make(chan error, 3)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	// The memory outbox lives in this process, so nothing else can drain it.
	if r.cfg.StorageDriver == StorageMemory {
		go func() {
			if err := r.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("outbox worker: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanup()
	return nil
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.cleanup()

	if r.cfg.StorageDriver == StorageMemory {
		return errors.New("outbox worker needs the postgres storage driver")
	}
	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// cleanup releases resources in reverse acquisition order.
func (r *Runtime) cleanup() {
	for i := len(r.cleanupFns) - 1; i >= 0; i-- {
		r.cleanupFns[i]()
	}
	r.cleanupFns = nil
}

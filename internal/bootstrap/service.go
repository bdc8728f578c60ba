package bootstrap

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/circuitbreaker"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/consumer"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/dlq"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/eventlog"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/gamification"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	libHTTP "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/net/http"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
	outboxPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox/postgres"
	libPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/postgres"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/protocol"
	protocolPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/protocol/postgres"
	libRedis "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/redis"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/rules"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/server"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/steps"
	stepsPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/steps/postgres"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/stream"
	libZap "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/zap"
)

const brokerBreakerName = "redis-streams"

// Service is the wired pipeline.
type Service struct {
	Config *Config
	Logger libLog.Logger
	Server *server.ServerManager

	apps []namedApp
}

type namedApp struct {
	name string
	app  reliability.App
}

// Run starts every worker and the HTTP server and blocks until shutdown.
func (s *Service) Run() error {
	opts := []reliability.LauncherOption{reliability.WithLogger(s.Logger)}

	for _, a := range s.apps {
		opts = append(opts, reliability.RunApp(a.name, a.app))
	}

	opts = append(opts, reliability.RunApp("HTTP Service", s.Server))

	return reliability.NewLauncher(opts...).RunWithError()
}

// Apps lists the registered worker names in start order.
func (s *Service) Apps() []string {
	names := make([]string, 0, len(s.apps))
	for _, a := range s.apps {
		names = append(names, a.name)
	}

	return names
}

// builder accumulates resources so a failed wiring releases what it opened.
type builder struct {
	cfg      *Config
	logger   libLog.Logger
	tracer   trace.Tracer
	cleanups []server.Cleanup
}

func (b *builder) onShutdown(name string, fn func(ctx context.Context) error) {
	b.cleanups = append(b.cleanups, server.Cleanup{Name: name, Fn: fn})
}

// release runs the cleanups in reverse order after a failed wiring.
func (b *builder) release(ctx context.Context) {
	for i := len(b.cleanups) - 1; i >= 0; i-- {
		if err := b.cleanups[i].Fn(ctx); err != nil {
			b.logger.Log(ctx, libLog.LevelWarn, "cleanup after failed start",
				libLog.String("name", b.cleanups[i].Name), libLog.Err(err))
		}
	}
}

// InitServers wires every component described by cfg.
func InitServers(ctx context.Context, cfg *Config) (svc *Service, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrMissingConfig)
	}

	logger, err := libZap.New(libZap.Config{
		Environment:     libZap.Environment(cfg.EnvName),
		Level:           cfg.LogLevel,
		OTelLibraryName: cfg.OtelLibraryName,
		ServiceName:     ApplicationName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	b := &builder{cfg: cfg, logger: logger}

	defer func() {
		if err != nil {
			b.release(context.Background())
		}
	}()

	tp, err := libOpentelemetry.NewTracerProvider(libOpentelemetry.TracerConfig{
		ServiceName:    ApplicationName,
		ServiceVersion: cfg.Version,
		DeploymentEnv:  cfg.EnvName,
		Global:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
	}

	b.onShutdown("tracer_provider", func(ctx context.Context) error {
		return libOpentelemetry.ShutdownTracerProvider(ctx, tp)
	})

	b.tracer = tp.Tracer(cfg.OtelLibraryName)

	pg, err := b.postgres(ctx)
	if err != nil {
		return nil, err
	}

	rds, locks, err := b.redis(ctx)
	if err != nil {
		return nil, err
	}

	breakers := circuitbreaker.NewRegistry(logger)

	broker, err := stream.NewRedisBroker(rds,
		stream.WithLogger(logger),
		stream.WithTracer(b.tracer),
		stream.WithCircuitBreaker(breakers, brokerBreakerName),
		stream.WithMaxLen(cfg.StreamName, cfg.StreamMaxLen),
		stream.WithMaxLen(cfg.RetryStreamName, cfg.RetryMaxLen),
		stream.WithMaxLen(cfg.DLQStreamName, cfg.DLQMaxLen),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize stream broker: %w", err)
	}

	events, err := eventlog.NewStore(pg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event log: %w", err)
	}

	sink, err := eventlog.NewMirroredPublisher(broker, events, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mirrored publisher: %w", err)
	}

	outboxRepo, err := outboxPostgres.NewRepository(pg, outboxPostgres.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize outbox repository: %w", err)
	}

	emitter, err := outbox.NewEmitter(outboxRepo, sink, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize outbox emitter: %w", err)
	}

	negotiations, transfers, err := b.protocol(pg, emitter)
	if err != nil {
		return nil, err
	}

	executor, err := b.steps(pg, emitter, negotiations, transfers)
	if err != nil {
		return nil, err
	}

	ruleCache, err := b.rules(pg)
	if err != nil {
		return nil, err
	}

	admin, err := dlq.NewAdmin(broker, dlq.Config{
		Stream:      cfg.StreamName,
		RetryStream: cfg.RetryStreamName,
		DLQStream:   cfg.DLQStreamName,
		Group:       cfg.ConsumerGroup,
		MaxLen:      dlq.Counts{Stream: cfg.StreamMaxLen, Retry: cfg.RetryMaxLen, DLQ: cfg.DLQMaxLen},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dlq admin: %w", err)
	}

	admin.WithLocks(locks)

	svc = &Service{Config: cfg, Logger: logger}

	workers, err := b.workers(svc, broker, locks, outboxRepo, sink, pg, ruleCache)
	if err != nil {
		return nil, err
	}

	app := libHTTP.NewApp(libHTTP.Handlers{
		Streams:      admin,
		Rules:        ruleCache,
		Negotiations: negotiations,
		Transfers:    transfers,
		Steps:        executor,
		Events:       events,
		Health: map[string]libHTTP.HealthCheck{
			"postgres":      pg.Ping,
			"redis":         rds.Ping,
			"redis-breaker": breakers.Check(brokerBreakerName),
		},
	}, logger, b.tracer)

	svc.Server = server.NewServerManager(logger).
		WithHTTPServer(app, cfg.ServerAddress).
		WithWorkers(workers...).
		WithShutdownTimeout(cfg.ShutdownTimeout)

	for i := len(b.cleanups) - 1; i >= 0; i-- {
		svc.Server.WithCleanup(b.cleanups[i].Name, b.cleanups[i].Fn)
	}

	logger.Log(ctx, libLog.LevelInfo, "pipeline wired",
		libLog.String("stream", cfg.StreamName),
		libLog.String("group", cfg.ConsumerGroup),
		libLog.Bool("retry_stream", cfg.ConsumerUseRetryStream),
		libLog.Any("apps", svc.Apps()),
	)

	return svc, nil
}

func (b *builder) postgres(ctx context.Context) (*libPostgres.Client, error) {
	pg, err := libPostgres.New(libPostgres.Config{
		PrimaryDSN:         b.cfg.PostgresPrimaryDSN,
		ReplicaDSN:         b.cfg.PostgresReplicaDSN,
		Logger:             b.logger,
		MaxOpenConnections: b.cfg.PostgresMaxOpenConn,
		MaxIdleConnections: b.cfg.PostgresMaxIdleConn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres client: %w", err)
	}

	if err := pg.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	b.onShutdown("postgres", func(context.Context) error { return pg.Close() })

	if !b.cfg.MigrationsEnabled {
		return pg, nil
	}

	migrator, err := libPostgres.NewMigrator(pg, libPostgres.MigrationConfig{
		DatabaseName: b.cfg.PostgresDBName,
		Logger:       b.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}

	if err := migrator.Up(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return pg, nil
}

func (b *builder) redis(ctx context.Context) (*libRedis.Client, *libRedis.RedisLockManager, error) {
	rds, err := libRedis.New(ctx, libRedis.Config{
		Addresses:  libRedis.ParseAddresses(b.cfg.RedisAddress),
		MasterName: b.cfg.RedisMasterName,
		Password:   libRedis.Secret(b.cfg.RedisPassword),
		DB:         b.cfg.RedisDB,
		Logger:     b.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	b.onShutdown("redis", func(context.Context) error { return rds.Close() })

	locks, err := libRedis.NewRedisLockManager(ctx, rds)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize lock manager: %w", err)
	}

	return rds, locks, nil
}

func (b *builder) protocol(pg *libPostgres.Client, emitter *outbox.Emitter) (*protocol.NegotiationService, *protocol.TransferService, error) {
	svcCfg := protocol.ServiceConfig{Stream: b.cfg.StreamName, SourceService: b.cfg.SourceService}

	negotiationRepo, err := protocolPostgres.NewNegotiationRepository(pg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize negotiation repository: %w", err)
	}

	transferRepo, err := protocolPostgres.NewTransferRepository(pg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize transfer repository: %w", err)
	}

	negotiations, err := protocol.NewNegotiationService(pg, negotiationRepo, emitter, svcCfg, b.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize negotiation service: %w", err)
	}

	transfers, err := protocol.NewTransferService(pg, transferRepo, emitter, svcCfg, b.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize transfer service: %w", err)
	}

	return negotiations, transfers, nil
}

func (b *builder) steps(
	pg *libPostgres.Client,
	emitter *outbox.Emitter,
	negotiations negotiationDriver,
	transfers transferDriver,
) (*steps.Executor, error) {
	registry := steps.NewRegistry()

	if err := steps.RegisterBuiltins(registry); err != nil {
		return nil, err
	}

	if err := registerProtocolSteps(registry, negotiations, transfers); err != nil {
		return nil, err
	}

	receipts, err := stepsPostgres.NewReceiptRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize receipt repository: %w", err)
	}

	executor, err := steps.NewExecutor(pg, receipts, registry, emitter, steps.Config{
		Stream:        b.cfg.StreamName,
		SourceService: b.cfg.SourceService,
	}, b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize step executor: %w", err)
	}

	return executor, nil
}

func (b *builder) rules(pg *libPostgres.Client) (*rules.Cache, error) {
	pgSource, err := rules.NewPostgresSource(pg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule source: %w", err)
	}

	sources := rules.FallbackSource{pgSource}
	if b.cfg.PointRulesFile != "" {
		sources = append(sources, rules.YAMLSource{Path: b.cfg.PointRulesFile})
	}

	cache, err := rules.NewCache(sources, b.cfg.RuleCacheTTL(), b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule cache: %w", err)
	}

	return cache, nil
}

// workers registers the long-running apps on svc and returns them for the
// shutdown sequence.
func (b *builder) workers(
	svc *Service,
	broker *stream.RedisBroker,
	locks libRedis.LockManager,
	repo outbox.Repository,
	sink outbox.Sink,
	pg *libPostgres.Client,
	ruleCache *rules.Cache,
) ([]server.Shutdowner, error) {
	var workers []server.Shutdowner

	register := func(name string, app interface {
		reliability.App
		server.Shutdowner
	}) {
		svc.apps = append(svc.apps, namedApp{name: name, app: app})
		workers = append(workers, app)
	}

	if b.cfg.OutboxWorkerEnabled {
		publisher, err := outbox.NewPublisher(repo, sink, b.logger, b.tracer,
			outbox.WithBatchSize(b.cfg.OutboxBatchSize),
			outbox.WithPublishInterval(b.cfg.OutboxInterval()),
			outbox.WithLockTimeout(b.cfg.OutboxLockTimeout()),
			outbox.WithBackoff(0, b.cfg.OutboxBackoffCap()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize outbox publisher: %w", err)
		}

		register("Outbox Publisher", publisher)
	}

	if b.cfg.ConsumerEnabled {
		points, err := gamification.NewPointsHandler(pg, ruleCache, b.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize points handler: %w", err)
		}

		c, err := consumer.NewConsumer(broker, points, consumer.Config{
			Stream:      b.cfg.StreamName,
			Group:       b.cfg.ConsumerGroup,
			Consumer:    b.cfg.ConsumerName,
			DLQStream:   b.cfg.DLQStreamName,
			RetryStream: b.cfg.RetryStream(),
			RetryLimit:  b.cfg.ConsumerRetryLimit,
			BackoffBase: b.cfg.ConsumerBackoffBase(),
			BackoffCap:  b.cfg.ConsumerBackoffCap(),
		}, b.logger, b.tracer)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize consumer: %w", err)
		}

		register("Gamification Consumer", c)

		if b.cfg.ConsumerUseRetryStream {
			relay, err := consumer.NewRetryRelay(broker, consumer.RelayConfig{
				RetryStream:   b.cfg.RetryStreamName,
				PrimaryStream: b.cfg.StreamName,
				Group:         b.cfg.ConsumerGroup + "-retry",
				Consumer:      b.cfg.ConsumerName,
				DLQStream:     b.cfg.DLQStreamName,
				DelayCap:      b.cfg.ConsumerBackoffCap(),
			}, b.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize retry relay: %w", err)
			}

			register("Retry Relay", relay)
		}
	}

	trimmer, err := consumer.NewTrimmer(broker, locks, []consumer.TrimTarget{
		{Stream: b.cfg.StreamName, MaxLen: b.cfg.StreamMaxLen},
		{Stream: b.cfg.RetryStreamName, MaxLen: b.cfg.RetryMaxLen},
		{Stream: b.cfg.DLQStreamName, MaxLen: b.cfg.DLQMaxLen},
	}, b.cfg.TrimInterval(), b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize stream trimmer: %w", err)
	}

	register("Stream Trimmer", trimmer)

	return workers, nil
}

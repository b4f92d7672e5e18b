package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"meshgate/internal/auth/pipeline"
	"meshgate/internal/auth/sessioncache"
	"meshgate/internal/auth/token"
	"meshgate/internal/entitycache"
	"meshgate/internal/mutation"
	"meshgate/internal/platform/config"
	"meshgate/internal/platform/kafka"
	"meshgate/internal/platform/metrics"
	"meshgate/internal/platform/postgres"
	"meshgate/internal/platform/redis"
	productservice "meshgate/internal/product/service"
	productstore "meshgate/internal/product/store"
	httptransport "meshgate/internal/transport/http"
	userservice "meshgate/internal/user/service"
	userstore "meshgate/internal/user/store"
	audit "meshgate/pkg/platform/audit"
	"meshgate/pkg/platform/audit/publishers/security"
	auditmemory "meshgate/pkg/platform/audit/store/memory"
	auditpostgres "meshgate/pkg/platform/audit/store/postgres"
)

const mutationTopicPartitions = 3

// worker is a background loop that runs until ctx is cancelled.
type worker func(ctx context.Context) error

type app struct {
	router  http.Handler
	workers []worker
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	db, err := postgres.Open(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	var rdb *redis.Client
	if cfg.Cache.Backend == config.CacheBackendRedis {
		rdb, err = redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	// Caches
	var entityStore entitycache.Store
	var sessions sessioncache.Cache
	if rdb != nil {
		entityStore = entitycache.NewRedisStore(rdb.Client, entitycache.WithKeyPrefix(cfg.Cache.EntityKeyPrefix))
		sessions = sessioncache.NewRedis(rdb.Client, cfg.Cache.SessionTTL, sessioncache.WithKeyPrefix(cfg.Cache.SessionKeyPrefix))
	} else {
		mem := entitycache.NewMemoryStore()
		entityStore = mem
		a.workers = append(a.workers, func(ctx context.Context) error {
			return mem.RunJanitor(ctx, cfg.Cache.JanitorInterval)
		})
		sessions, err = sessioncache.NewInMemory(cfg.Cache.SessionSize, cfg.Cache.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("session cache: %w", err)
		}
	}
	layer := entitycache.New(entityStore, entitycache.WithLogger(log), entitycache.WithMetrics(m))

	// Audit
	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	if db != nil {
		auditStore = auditpostgres.New(db)
	}
	publisher := security.NewPublisher(auditStore, security.WithLogger(log))
	a.workers = append(a.workers, publisher.Run)

	// Mutation fan-out
	notifier := mutation.New(mutation.WithLogger(log), mutation.WithMetrics(m))
	notifier.Subscribe("entity-cache", layer)
	notifier.Subscribe("session-cache", sessioncache.NewSubscriber(sessions))
	if err := wireRelay(ctx, a, cfg, notifier, log); err != nil {
		return nil, err
	}

	// Services
	codec := token.New(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	users := userservice.New(newUserStore(db), codec, notifier,
		userservice.WithLogger(log),
		userservice.WithTokenTTL(cfg.Auth.SessionTokenTTL),
		userservice.WithSecurityEmitter(publisher),
		userservice.WithComplianceStore(auditStore),
	)
	products := productservice.New(newProductStore(db), notifier, productservice.WithLogger(log))

	seeded, err := users.SeedAdmin(ctx, userservice.AdminSeed{
		Login:    cfg.Admin.Login,
		Password: cfg.Admin.Password,
		Email:    cfg.Admin.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	if seeded {
		log.Info("seeded superadmin", "login", cfg.Admin.Login)
	}

	pipe := pipeline.New(codec, sessions, users,
		pipeline.Config{
			UpstreamTimeout:      cfg.Timeout.Upstream,
			DistinguishForbidden: cfg.Auth.DistinguishForbidden,
		},
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
		pipeline.WithAuditor(pipeline.NewSecurityAuditor(publisher, log)),
	)

	a.router = httptransport.NewRouter(httptransport.RouterConfig{
		Gateway:        httptransport.NewGateway(pipe, layer, log),
		Users:          httptransport.NewUserHandler(users),
		Products:       httptransport.NewProductHandler(products),
		Greeter:        httptransport.NewGreeterHandler(),
		Logger:         log,
		Metrics:        m,
		Gatherer:       reg,
		RequestTimeout: cfg.Timeout.Request,
		Health:         healthCheck(db, rdb),
	})
	ok = true
	return a, nil
}

// wireRelay forwards local mutations to Kafka and applies remote ones. It is
// a no-op without brokers.
func wireRelay(ctx context.Context, a *app, cfg config.Config, notifier *mutation.Notifier, log *slog.Logger) error {
	producer, err := kafka.NewClient(cfg.Kafka)
	if err != nil {
		return err
	}
	if producer == nil {
		log.Info("mutation relay disabled: no kafka brokers configured")
		return nil
	}
	a.closers = append(a.closers, producer.Close)
	if err := kafka.EnsureTopic(ctx, producer, cfg.Kafka.MutationTopic, mutationTopicPartitions); err != nil {
		return err
	}

	consumer, err := kafka.NewClient(cfg.Kafka, mutation.ConsumerOptions(cfg.Kafka.MutationTopic, cfg.Kafka.ConsumerGroup)...)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, consumer.Close)

	notifier.Subscribe("kafka-relay", mutation.NewKafkaForwarder(producer, cfg.Kafka.MutationTopic, cfg.InstanceID, log))
	relay := mutation.NewRelay(consumer, notifier, cfg.InstanceID, log)
	a.workers = append(a.workers, relay.Run)
	return nil
}

func newUserStore(db *sql.DB) userservice.Store {
	if db != nil {
		return userstore.NewPostgres(db)
	}
	return userstore.NewInMemory()
}

func newProductStore(db *sql.DB) productservice.Store {
	if db != nil {
		return productstore.NewPostgres(db)
	}
	return productstore.NewInMemory()
}

func healthCheck(db *sql.DB, rdb *redis.Client) func(*http.Request) error {
	return func(r *http.Request) error {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if rdb != nil {
			if err := rdb.Health(r.Context()); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	"lms/internal/content/events"
	"lms/internal/content/schema"
	"lms/internal/content/service"
	"lms/internal/content/store"
	"lms/internal/content/store/memory"
	"lms/internal/content/store/mongodb"
	"lms/internal/content/store/postgres"
	"lms/internal/content/store/rediscache"
	"lms/internal/platform/config"
	"lms/internal/platform/redis"
	"lms/pkg/platform/circuit"
)

// openBackend connects the configured document store and, when Redis is
// configured, puts the read-through cache in front of it.
func openBackend(ctx context.Context, cfg config.Server, log *slog.Logger) (store.Backend, error) {
	var backend store.Backend
	switch cfg.Store.Backend {
	case config.BackendMongo:
		s, err := mongodb.Open(ctx, cfg.Store.DatabaseURL, cfg.Store.DatabaseName,
			mongodb.WithDedupKeys(schema.DedupKeys()))
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		backend = s
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, cfg.Store.PostgresDSN,
			postgres.WithDedupKeys(schema.DedupKeys()))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		backend = s
	default:
		log.Warn("using in-memory document store; data is lost on restart")
		backend = memory.New()
	}

	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		_ = backend.Close(ctx)
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if client == nil {
		return backend, nil
	}
	cached, err := rediscache.New(backend, client,
		rediscache.WithTTL(cfg.Redis.CacheTTL),
		rediscache.WithLogger(log),
		rediscache.WithBreaker(circuit.New("redis-cache")),
	)
	if err != nil {
		_ = client.Close()
		_ = backend.Close(ctx)
		return nil, err
	}
	return &closingBackend{Backend: cached, close: client.Close}, nil
}

// closingBackend releases the Redis connection after the wrapped store.
type closingBackend struct {
	store.Backend
	close func() error
}

func (b *closingBackend) Close(ctx context.Context) error {
	err := b.Backend.Close(ctx)
	if cerr := b.close(); err == nil {
		err = cerr
	}
	return err
}

// openPublisher returns the Kafka publisher when brokers are configured.
func openPublisher(cfg config.KafkaConfig, log *slog.Logger) (service.Publisher, func(), error) {
	if len(cfg.Brokers) == 0 {
		return events.NopPublisher{}, func() {}, nil
	}
	p, err := events.NewKafka(cfg.Brokers, cfg.Topic, events.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return p, p.Close, nil
}

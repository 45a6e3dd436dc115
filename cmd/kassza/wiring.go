package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kassza/internal/archive"
	"kassza/internal/config"
	"kassza/internal/domain"
	"kassza/internal/events"
	"kassza/internal/httpapi"
	"kassza/internal/store"
	"kassza/internal/store/memory"
	pgstore "kassza/internal/store/postgres"
	redisstore "kassza/internal/store/redis"
)

type closer func() error

// openStore connects the configured backend. A configured backend that is
// unreachable is an error; there is no silent fallback to memory.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Port, closer, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if err := pgstore.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pg, err := pgstore.New(ctx, log, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store backend selected", "backend", "postgres")
		return pg, func() error { pg.Close(); return nil }, nil
	case config.BackendRedis:
		rs, err := redisstore.New(ctx, log, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store backend selected", "backend", "redis")
		return rs, rs.Close, nil
	case config.BackendMemory, "":
		log.Info("store backend selected", "backend", "memory")
		return memory.NewSeeded(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// openPublisher returns the Kafka publisher behind the async worker pool,
// or a no-op publisher when no brokers are configured.
func openPublisher(cfg config.Config, log *slog.Logger) (events.Publisher, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		log.Info("event stream disabled", "reason", "KAFKA_BROKERS not set")
		return events.Noop{}, nil
	}
	kafka, err := events.NewKafkaPublisher(log, strings.Join(brokers, ","), cfg.KafkaTopic)
	if err != nil {
		return nil, err
	}
	async, err := events.NewAsyncPublisher(kafka, cfg.WorkerPoolSize, log)
	if err != nil {
		_ = kafka.Close()
		return nil, err
	}
	log.Info("event stream enabled", "brokers", brokers, "topic", cfg.KafkaTopic, "workers", cfg.WorkerPoolSize)
	return async, nil
}

func openArchive(ctx context.Context, cfg config.Config, log *slog.Logger) (archive.Archive, closer, error) {
	if cfg.MongoURI == "" {
		log.Info("closing report archive", "backend", "memory")
		return archive.NewMemory(), func() error { return nil }, nil
	}
	mongo, err := archive.NewMongo(ctx, log, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, nil, err
	}
	log.Info("closing report archive", "backend", "mongo", "database", cfg.MongoDatabase)
	return mongo, func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return mongo.Close(closeCtx)
	}, nil
}

// bootstrapAdmin creates the first admin when the user store is empty and
// ADMIN_PASSWORD is set.
func bootstrapAdmin(ctx context.Context, auth *httpapi.AuthManager, password string, log *slog.Logger) error {
	users, err := auth.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	if password == "" {
		log.Warn("user store is empty and ADMIN_PASSWORD is not set; nobody can log in")
		return nil
	}
	_, err = auth.CreateStaff(ctx, domain.StaffCreateRequest{
		Username:    "admin",
		Password:    password,
		DisplayName: "Adminisztrátor",
		Role:        domain.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	log.Info("bootstrapped admin account", "username", "admin")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if isRepeatedChar(cfg.AuthSecret) {
		return fmt.Errorf("AUTH_SECRET must not be a single repeated character")
	}
	return nil
}

func isRepeatedChar(value string) bool {
	for i := 1; i < len(value); i++ {
		if value[i] != value[0] {
			return false
		}
	}
	return true
}

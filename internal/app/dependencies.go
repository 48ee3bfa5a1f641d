package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderflow/internal/health"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/orderflow/internal/storage/redis"
)

// runtimeDependencies — хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	store           domain.Store
	idempotencyRepo domain.IdempotencyRepository
	// idempotencyExpires — true, если бэкенд сам удаляет истёкшие ключи.
	idempotencyExpires bool

	storageChecker healthcheck.Checker
	redisChecker   healthcheck.Checker

	closeFns []func() error
}

// close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for i := len(d.closeFns) - 1; i >= 0; i-- {
		if err := d.closeFns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closeFns = nil
	return errors.Join(errs...)
}

// initRuntimeDependencies открывает хранилище и idempotency-бэкенд.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}

	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		deps.store = store
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		deps.storageChecker = healthcheck.NewPingChecker("storage", true, store)
		logger.Info("using in-memory storage")

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		deps.closeFns = append(deps.closeFns, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = deps.close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		deps.store = store
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.storageChecker = healthcheck.NewPingChecker("storage", true, store)
		logger.Info("using postgres storage")

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client, err := redisstore.NewClient(ctx, addr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			_ = deps.close()
			return nil, err
		}
		deps.closeFns = append(deps.closeFns, client.Close)

		repo := redisstore.NewIdempotencyRepository(client, "")
		deps.idempotencyRepo = repo
		deps.idempotencyExpires = true
		deps.redisChecker = healthcheck.NewPingChecker("redis", false, repo)
		logger.WithField("addr", addr).Info("idempotency keys stored in redis")
	}

	return deps, nil
}

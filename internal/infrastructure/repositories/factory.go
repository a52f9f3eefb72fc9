package repositories

import (
	"context"

	"voicerooms/internal/core/ports"
	"voicerooms/internal/core/services"
	"voicerooms/internal/infrastructure/distributed"
	redisrepo "voicerooms/internal/infrastructure/repositories/redis"
	"voicerooms/internal/infrastructure/repositories/sqlite"
	"voicerooms/pkg/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory opens the store and picks Redis-backed coordination when
// Redis is reachable, falling back to in-process implementations otherwise.
type RepositoryFactory struct {
	cfg         *config.Config
	useRedis    bool
	redisClient *redis.Client
	store       *sqlite.Store
	instanceID  string
	eventBus    *distributed.EventBus
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	store, err := sqlite.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	factory := &RepositoryFactory{
		cfg:        cfg,
		useRedis:   cfg.Redis.Enabled,
		store:      store,
		instanceID: uuid.NewString(),
		logger:     logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to in-process guard",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Infow("using Redis coordination", "instance_id", factory.instanceID)
		}
	}

	if !factory.useRedis {
		logger.Info("using in-process coordination")
	}

	return factory, nil
}

func (f *RepositoryFactory) Store() *sqlite.Store {
	return f.store
}

func (f *RepositoryFactory) InstanceID() string {
	return f.instanceID
}

// CreateProvisionGuard returns the Redis guard or the in-process one.
func (f *RepositoryFactory) CreateProvisionGuard() ports.ProvisionGuard {
	if f.useRedis && f.redisClient != nil {
		return distributed.NewGuard(f.redisClient, distributed.GuardConfig{
			Prefix:      f.cfg.Redis.KeyPrefix,
			MarkerTTL:   f.cfg.Guard.MarkerTTL,
			LockTTL:     f.cfg.Guard.LockTTL,
			LockTimeout: f.cfg.Guard.LockTimeout,
		}, f.logger)
	}
	return services.NewMemoryGuard(f.cfg.Guard.MarkerTTL)
}

// CreateEventPublisher returns the Redis event bus or a no-op publisher.
func (f *RepositoryFactory) CreateEventPublisher() ports.EventPublisher {
	if f.useRedis && f.redisClient != nil {
		if f.eventBus == nil {
			f.eventBus = distributed.NewEventBus(f.redisClient, f.cfg.Redis.EventsChannel, f.instanceID, f.logger)
		}
		return f.eventBus
	}
	return services.NopPublisher{}
}

// EventBus is nil unless Redis is in use.
func (f *RepositoryFactory) EventBus() *distributed.EventBus {
	if f.useRedis && f.redisClient != nil {
		f.CreateEventPublisher()
		return f.eventBus
	}
	return nil
}

// RedisClient is nil when Redis is not in use.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if f.useRedis {
		return f.redisClient
	}
	return nil
}

func (f *RepositoryFactory) Close() error {
	var firstErr error
	if f.eventBus != nil {
		if err := f.eventBus.Close(); err != nil {
			firstErr = err
		}
	}
	if f.redisClient != nil {
		if err := redisrepo.CloseRedisClient(f.redisClient); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := f.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// HealthCheck pings the store and, when used, Redis.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if err := f.store.Ping(ctx); err != nil {
		return err
	}
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

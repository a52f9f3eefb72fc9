package repositories

import (
	"context"
	"testing"

	"voicerooms/internal/core/services"
	"voicerooms/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRepositoryFactory_FallsBackWithoutRedis(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Path = ":memory:"
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f, err := NewRepositoryFactory(context.Background(), cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.IsType(t, &services.MemoryGuard{}, f.CreateProvisionGuard())
	assert.IsType(t, services.NopPublisher{}, f.CreateEventPublisher())
	assert.Nil(t, f.RedisClient())
	assert.NotEmpty(t, f.InstanceID())
	assert.NoError(t, f.HealthCheck(context.Background()))
}

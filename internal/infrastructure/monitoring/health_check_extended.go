package monitoring

import (
	"context"
	"fmt"
	"time"

	"voicerooms/internal/core/ports"
	"voicerooms/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, interval, timeout)
}

// AddStoreCheck adds a check that the room store answers.
func (h *HealthChecker) AddStoreCheck(store ports.Store, interval, timeout time.Duration) {
	h.AddCheck("store", store.Ping, interval, timeout)
}

// AddPlatformCheck reports unhealthy while the platform breaker is open.
func (h *HealthChecker) AddPlatformCheck(state func() circuitbreaker.State, interval, timeout time.Duration) {
	h.AddCheck("platform", func(context.Context) error {
		if s := state(); s == circuitbreaker.StateOpen {
			return fmt.Errorf("circuit %s", s)
		}
		return nil
	}, interval, timeout)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == statusHealthy
}

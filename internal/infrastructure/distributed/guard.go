package distributed

import (
	"context"
	"fmt"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"
	"voicerooms/pkg/distributed"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type GuardConfig struct {
	Prefix      string
	MarkerTTL   time.Duration
	LockTTL     time.Duration
	LockTimeout time.Duration
}

// Guard is the provisioning guard shared by every instance using the same
// Redis. Locks are renewed while held; markers expire after MarkerTTL.
type Guard struct {
	client redis.UniversalClient
	locks  *distributed.LockManager
	cfg    GuardConfig
	logger *zap.SugaredLogger
}

var _ ports.ProvisionGuard = (*Guard)(nil)

func NewGuard(client redis.UniversalClient, cfg GuardConfig, logger *zap.SugaredLogger) *Guard {
	return &Guard{
		client: client,
		locks:  distributed.NewLockManager(client, cfg.Prefix+"lock:"),
		cfg:    cfg,
		logger: logger,
	}
}

func userKey(guildID domain.GuildID, userID domain.UserID) string {
	return fmt.Sprintf("%d:%d", guildID, userID)
}

func (g *Guard) markerKey(guildID domain.GuildID, userID domain.UserID) string {
	return g.cfg.Prefix + "inflight:" + userKey(guildID, userID)
}

func (g *Guard) Acquire(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (func(), error) {
	lock, err := g.locks.Acquire(ctx, "provision:"+userKey(guildID, userID), g.cfg.LockTTL, g.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	return func() {
		// The caller's context may already be done.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil {
			g.logger.Warnw("failed to release provisioning lock",
				"guild_id", guildID,
				"user_id", userID,
				"key", lock.Key(),
				"error", err,
			)
		}
	}, nil
}

func (g *Guard) MarkInProgress(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (string, error) {
	token := uuid.NewString()
	if err := g.client.Set(ctx, g.markerKey(guildID, userID), token, g.cfg.MarkerTTL).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// IsInProgress reports false when Redis cannot answer; the lock still
// serializes the attempt.
func (g *Guard) IsInProgress(ctx context.Context, guildID domain.GuildID, userID domain.UserID) bool {
	n, err := g.client.Exists(ctx, g.markerKey(guildID, userID)).Result()
	if err != nil {
		g.logger.Warnw("failed to read in-progress marker", "guild_id", guildID, "user_id", userID, "error", err)
		return false
	}
	return n > 0
}

func (g *Guard) ClearInProgress(ctx context.Context, guildID domain.GuildID, userID domain.UserID, token string) {
	if token == "" {
		return
	}
	if _, err := distributed.DeleteIfValue(ctx, g.client, g.markerKey(guildID, userID), token); err != nil {
		g.logger.Warnw("failed to clear in-progress marker", "guild_id", guildID, "user_id", userID, "error", err)
	}
}

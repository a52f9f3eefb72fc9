package services

import (
	"context"
	"fmt"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"
	"voicerooms/pkg/cache"

	"go.uber.org/zap"
)

type GuildConfigDefaults struct {
	CooldownSeconds    int
	StartupCleanupMode domain.CleanupMode
	CacheTTL           time.Duration
}

// GuildConfigService serves trigger channels and guild settings from a short
// lived cache in front of the store.
type GuildConfigService struct {
	store    ports.TriggerRepository
	defaults GuildConfigDefaults
	triggers *cache.Cache[domain.GuildID, []domain.TriggerChannel]
	settings *cache.Cache[domain.GuildID, domain.GuildSettings]
	logger   *zap.SugaredLogger
}

var _ ports.GuildConfig = (*GuildConfigService)(nil)

func NewGuildConfigService(store ports.TriggerRepository, defaults GuildConfigDefaults, logger *zap.SugaredLogger) *GuildConfigService {
	if !defaults.StartupCleanupMode.Valid() {
		defaults.StartupCleanupMode = domain.CleanupDelayed
	}
	return &GuildConfigService{
		store:    store,
		defaults: defaults,
		triggers: cache.New[domain.GuildID, []domain.TriggerChannel](defaults.CacheTTL),
		settings: cache.New[domain.GuildID, domain.GuildSettings](defaults.CacheTTL),
		logger:   logger,
	}
}

func (s *GuildConfigService) TriggerChannels(ctx context.Context, guildID domain.GuildID) ([]domain.TriggerChannel, error) {
	return s.triggers.GetOrLoad(ctx, guildID, func(ctx context.Context) ([]domain.TriggerChannel, error) {
		return s.store.TriggerChannels(ctx, guildID)
	})
}

func (s *GuildConfigService) guildSettings(ctx context.Context, guildID domain.GuildID) domain.GuildSettings {
	settings, err := s.settings.GetOrLoad(ctx, guildID, func(ctx context.Context) (domain.GuildSettings, error) {
		stored, err := s.store.GuildSettings(ctx, guildID)
		if err != nil || stored == nil {
			return domain.GuildSettings{GuildID: guildID}, err
		}
		return *stored, nil
	})
	if err != nil {
		s.logger.Warnw("failed to load guild settings, using defaults", "guild_id", guildID, "error", err)
		return domain.GuildSettings{GuildID: guildID}
	}
	return settings
}

func (s *GuildConfigService) CooldownSeconds(ctx context.Context, guildID domain.GuildID) int {
	if gs := s.guildSettings(ctx, guildID); gs.CooldownSeconds != nil {
		return *gs.CooldownSeconds
	}
	return s.defaults.CooldownSeconds
}

func (s *GuildConfigService) StartupCleanupMode(ctx context.Context, guildID domain.GuildID) domain.CleanupMode {
	if gs := s.guildSettings(ctx, guildID); gs.StartupCleanupMode.Valid() {
		return gs.StartupCleanupMode
	}
	return s.defaults.StartupCleanupMode
}

// Settings returns the effective settings of a guild with defaults filled in.
func (s *GuildConfigService) Settings(ctx context.Context, guildID domain.GuildID) domain.GuildSettings {
	cooldown := s.CooldownSeconds(ctx, guildID)
	return domain.GuildSettings{
		GuildID:            guildID,
		CooldownSeconds:    &cooldown,
		StartupCleanupMode: s.StartupCleanupMode(ctx, guildID),
	}
}

func (s *GuildConfigService) SetGuildSettings(ctx context.Context, settings domain.GuildSettings) error {
	if settings.CooldownSeconds != nil && *settings.CooldownSeconds < 0 {
		return fmt.Errorf("%w: cooldown must be >= 0", domain.ErrInvalidPreference)
	}
	if settings.StartupCleanupMode != "" && !settings.StartupCleanupMode.Valid() {
		return fmt.Errorf("%w: unknown startup cleanup mode %q", domain.ErrInvalidPreference, settings.StartupCleanupMode)
	}
	if err := s.store.UpsertGuildSettings(ctx, settings); err != nil {
		return err
	}
	s.Invalidate(settings.GuildID)
	return nil
}

func (s *GuildConfigService) Invalidate(guildID domain.GuildID) {
	s.triggers.Delete(guildID)
	s.settings.Delete(guildID)
}

func (s *GuildConfigService) Close() {
	s.triggers.Stop()
	s.settings.Stop()
}

package services

import (
	"context"
	"fmt"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"
	"voicerooms/pkg/validation"

	"go.uber.org/zap"
)

// SettingsApplier pushes changed settings to rooms that are already live.
type SettingsApplier interface {
	ApplySettings(ctx context.Context, scope domain.Scope) error
}

// UserSettings is the stored setup of a user for one trigger.
type UserSettings struct {
	Scope      domain.Scope            `json:"scope"`
	Preference *domain.Preference      `json:"preference,omitempty"`
	Overrides  []domain.AccessOverride `json:"overrides"`
}

// PreferencesService edits the per-trigger room preferences of users.
// A zero trigger id selects the trigger the user provisioned from last.
type PreferencesService struct {
	store   ports.Store
	config  ports.GuildConfig
	applier SettingsApplier
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewPreferencesService(store ports.Store, config ports.GuildConfig, applier SettingsApplier, logger *zap.SugaredLogger) *PreferencesService {
	return &PreferencesService{
		store:   store,
		config:  config,
		applier: applier,
		logger:  logger,
		now:     time.Now,
	}
}

// ResolveScope picks the settings scope for a user.
func (s *PreferencesService) ResolveScope(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID) (domain.Scope, error) {
	triggers, err := s.config.TriggerChannels(ctx, guildID)
	if err != nil {
		return domain.Scope{}, err
	}
	configured := func(id domain.ChannelID) bool {
		for _, t := range triggers {
			if t.ChannelID == id {
				return true
			}
		}
		return false
	}
	scope := domain.Scope{GuildID: guildID, UserID: userID}

	if triggerID != 0 {
		if !configured(triggerID) {
			return domain.Scope{}, domain.ErrTriggerNotFound
		}
		scope.TriggerID = triggerID
		return scope, nil
	}

	last, err := s.store.LastTrigger(ctx, guildID, userID)
	if err != nil {
		return domain.Scope{}, err
	}
	if last != 0 && configured(last) {
		scope.TriggerID = last
		return scope, nil
	}
	if len(triggers) == 0 {
		return domain.Scope{}, domain.ErrTriggerNotFound
	}
	scope.TriggerID = triggers[0].ChannelID
	return scope, nil
}

func (s *PreferencesService) updatePreference(ctx context.Context, scope domain.Scope, change func(*domain.Preference)) (*domain.Preference, error) {
	pref, err := s.store.Preference(ctx, scope)
	if err != nil {
		return nil, err
	}
	if pref == nil {
		pref = &domain.Preference{Scope: scope}
	}
	change(pref)
	pref.UpdatedAt = s.now()

	if err := s.store.UpsertPreference(ctx, pref); err != nil {
		return nil, err
	}
	s.apply(ctx, scope)
	return pref, nil
}

func (s *PreferencesService) apply(ctx context.Context, scope domain.Scope) {
	if s.applier == nil {
		return
	}
	if err := s.applier.ApplySettings(ctx, scope); err != nil {
		s.logger.Warnw("failed to apply settings to live rooms",
			"guild_id", scope.GuildID,
			"trigger_id", scope.TriggerID,
			"user_id", scope.UserID,
			"error", err,
		)
	}
}

// SetName stores the room name. An empty name restores the default.
func (s *PreferencesService) SetName(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID, name string) (*domain.Preference, error) {
	name = validation.SanitizeName(name)
	if err := validation.ValidateRoomName(name); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidPreference, err)
	}
	scope, err := s.ResolveScope(ctx, guildID, userID, triggerID)
	if err != nil {
		return nil, err
	}
	return s.updatePreference(ctx, scope, func(p *domain.Preference) { p.Name = name })
}

// SetUserLimit stores the user limit; nil falls back to the trigger's limit.
func (s *PreferencesService) SetUserLimit(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID, limit *int) (*domain.Preference, error) {
	if limit != nil {
		if err := validation.ValidateUserLimit(*limit); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidPreference, err)
		}
	}
	scope, err := s.ResolveScope(ctx, guildID, userID, triggerID)
	if err != nil {
		return nil, err
	}
	return s.updatePreference(ctx, scope, func(p *domain.Preference) { p.UserLimit = limit })
}

func (s *PreferencesService) SetLocked(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID, locked bool) (*domain.Preference, error) {
	scope, err := s.ResolveScope(ctx, guildID, userID, triggerID)
	if err != nil {
		return nil, err
	}
	return s.updatePreference(ctx, scope, func(p *domain.Preference) { p.Locked = locked })
}

func (s *PreferencesService) overrideScope(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID, feature domain.Feature, target domain.TargetID, typ domain.TargetType) (domain.Scope, domain.TargetID, error) {
	if _, ok := domain.FamilyFor(feature); !ok {
		return domain.Scope{}, 0, fmt.Errorf("%w: unknown feature %q", domain.ErrInvalidPreference, feature)
	}
	if !typ.Valid() {
		return domain.Scope{}, 0, fmt.Errorf("%w: unknown target type %q", domain.ErrInvalidPreference, typ)
	}
	if typ == domain.TargetEveryone {
		target = domain.TargetID(guildID)
	}
	if target == 0 {
		return domain.Scope{}, 0, fmt.Errorf("%w: target id is required", domain.ErrInvalidPreference)
	}
	scope, err := s.ResolveScope(ctx, guildID, userID, triggerID)
	return scope, target, err
}

// SetAccessOverride stores one per-target decision of a feature family.
func (s *PreferencesService) SetAccessOverride(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID, feature domain.Feature, target domain.TargetID, typ domain.TargetType, enabled bool) error {
	scope, target, err := s.overrideScope(ctx, guildID, userID, triggerID, feature, target, typ)
	if err != nil {
		return err
	}
	err = s.store.SetAccessOverride(ctx, domain.AccessOverride{
		Scope:      scope,
		TargetID:   target,
		TargetType: typ,
		Feature:    feature,
		Enabled:    enabled,
	})
	if err != nil {
		return err
	}
	s.apply(ctx, scope)
	return nil
}

func (s *PreferencesService) RemoveAccessOverride(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID, feature domain.Feature, target domain.TargetID, typ domain.TargetType) error {
	scope, target, err := s.overrideScope(ctx, guildID, userID, triggerID, feature, target, typ)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAccessOverride(ctx, scope, feature, target, typ); err != nil {
		return err
	}
	s.apply(ctx, scope)
	return nil
}

// Reset deletes the user's stored setup for one trigger.
func (s *PreferencesService) Reset(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID) (ports.PurgeReport, error) {
	scope, err := s.ResolveScope(ctx, guildID, userID, triggerID)
	if err != nil {
		return ports.PurgeReport{}, err
	}
	report, err := s.store.PurgeScope(ctx, guildID, scope.TriggerID, &userID)
	if err != nil {
		return report, err
	}
	s.logger.Infow("user settings reset",
		"guild_id", guildID,
		"trigger_id", scope.TriggerID,
		"user_id", userID,
		"preferences", report.Preferences,
		"overrides", report.Overrides,
	)
	s.apply(ctx, scope)
	return report, nil
}

// PurgeUser deletes every stored row of a user in a guild.
func (s *PreferencesService) PurgeUser(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (ports.PurgeReport, error) {
	report, err := s.store.PurgeUser(ctx, guildID, userID)
	if err != nil {
		return report, err
	}
	s.logger.Infow("user data purged",
		"guild_id", guildID,
		"user_id", userID,
		"preferences", report.Preferences,
		"overrides", report.Overrides,
		"cooldowns", report.Cooldowns,
	)
	return report, nil
}

func (s *PreferencesService) Settings(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID) (*UserSettings, error) {
	scope, err := s.ResolveScope(ctx, guildID, userID, triggerID)
	if err != nil {
		return nil, err
	}
	pref, err := s.store.Preference(ctx, scope)
	if err != nil {
		return nil, err
	}
	overrides, err := s.store.AccessOverrides(ctx, scope)
	if err != nil {
		return nil, err
	}
	return &UserSettings{Scope: scope, Preference: pref, Overrides: overrides}, nil
}

package services

import (
	"context"
	"fmt"
	"strings"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"

	"go.uber.org/zap"
)

// Resolver computes the setup of a room from the owner's stored settings.
type Resolver struct {
	prefs    ports.PreferenceRepository
	platform ports.Platform
	logger   *zap.SugaredLogger
}

func NewResolver(prefs ports.PreferenceRepository, platform ports.Platform, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{prefs: prefs, platform: platform, logger: logger}
}

// DefaultRoomName is used when the owner has no stored name.
func DefaultRoomName(displayName string) string {
	return fmt.Sprintf("%s's Channel", displayName)
}

// Resolve returns name, limit, lock flag and overwrites for member's room
// under triggerID. The owner's own grant is not included.
func (r *Resolver) Resolve(ctx context.Context, guildID domain.GuildID, triggerID domain.ChannelID, member *domain.Member) (*domain.Resolution, error) {
	scope := domain.Scope{GuildID: guildID, TriggerID: triggerID, UserID: member.UserID}

	pref, err := r.prefs.Preference(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load preference: %w", err)
	}
	overrides, err := r.prefs.AccessOverrides(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load access overrides: %w", err)
	}

	res := &domain.Resolution{Name: DefaultRoomName(member.DisplayName)}
	if pref != nil && strings.TrimSpace(pref.Name) != "" {
		res.Name = pref.Name
	}
	if pref != nil && pref.UserLimit != nil {
		res.UserLimit = *pref.UserLimit
	} else {
		res.UserLimit = r.triggerLimit(ctx, guildID, triggerID)
	}
	res.Locked = pref != nil && pref.Locked

	byFeature := make(map[domain.Feature][]domain.AccessOverride)
	exists := make(map[overwriteTarget]bool)
	for _, o := range overrides {
		target := r.normalize(guildID, o)
		known, seen := exists[target]
		if !seen {
			known = r.targetExists(ctx, guildID, target)
			exists[target] = known
		}
		if !known {
			r.logger.Warnw("skipping override for missing target",
				"guild_id", guildID,
				"trigger_id", triggerID,
				"user_id", member.UserID,
				"target_id", o.TargetID,
				"target_type", o.TargetType,
				"feature", o.Feature,
			)
			res.Skipped = append(res.Skipped, o)
			continue
		}
		o.TargetID = target.id
		byFeature[o.Feature] = append(byFeature[o.Feature], o)
	}

	set := domain.NewOverwriteSet()
	applyFamily(set, domain.AccessFamily, byFeature[domain.AccessFamily.Feature])
	if res.Locked {
		set.Deny(domain.TargetID(guildID), domain.TargetEveryone, domain.PermConnect)
	}
	for _, fam := range domain.FeatureFamilies {
		applyFamily(set, fam, byFeature[fam.Feature])
	}
	res.Overwrites = set.List()

	return res, nil
}

func applyFamily(set *domain.OverwriteSet, fam domain.FeatureFamily, rows []domain.AccessOverride) {
	for _, o := range rows {
		fam.Apply(set, o.TargetID, o.TargetType, o.Enabled)
	}
}

type overwriteTarget struct {
	id  domain.TargetID
	typ domain.TargetType
}

// normalize maps everyone rows onto the guild id, which is how the platform
// addresses the everyone role.
func (r *Resolver) normalize(guildID domain.GuildID, o domain.AccessOverride) overwriteTarget {
	if o.TargetType == domain.TargetEveryone {
		return overwriteTarget{id: domain.TargetID(guildID), typ: domain.TargetEveryone}
	}
	return overwriteTarget{id: o.TargetID, typ: o.TargetType}
}

// targetExists keeps a target when the platform cannot answer.
func (r *Resolver) targetExists(ctx context.Context, guildID domain.GuildID, t overwriteTarget) bool {
	if t.typ == domain.TargetEveryone {
		return true
	}
	ok, err := r.platform.TargetExists(ctx, guildID, t.id, t.typ)
	if err != nil {
		r.logger.Warnw("target lookup failed, keeping override",
			"guild_id", guildID,
			"target_id", t.id,
			"target_type", t.typ,
			"error", err,
		)
		return true
	}
	return ok
}

func (r *Resolver) triggerLimit(ctx context.Context, guildID domain.GuildID, triggerID domain.ChannelID) int {
	if room, ok := r.platform.CachedRoom(guildID, triggerID); ok {
		return room.UserLimit
	}
	room, outcome, err := r.platform.FetchRoom(ctx, guildID, triggerID)
	switch {
	case err != nil:
		r.logger.Warnw("trigger channel lookup failed, room limit left unset",
			"guild_id", guildID, "trigger_id", triggerID, "error", err)
		return 0
	case outcome != domain.FetchFound:
		r.logger.Warnw("trigger channel unavailable, room limit left unset",
			"guild_id", guildID, "trigger_id", triggerID, "outcome", outcome.String())
		return 0
	}
	return room.UserLimit
}

// withOwnerGrant returns overwrites with the owner's grant merged in.
func withOwnerGrant(overwrites []domain.Overwrite, owner domain.UserID) []domain.Overwrite {
	set := domain.NewOverwriteSet()
	for _, ow := range overwrites {
		set.Allow(ow.TargetID, ow.TargetType, ow.Allow)
		set.Deny(ow.TargetID, ow.TargetType, ow.Deny)
	}
	set.Allow(domain.TargetID(owner), domain.TargetUser, domain.OwnerGrant)
	return set.List()
}

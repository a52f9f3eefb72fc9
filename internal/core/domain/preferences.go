package domain

import "time"

// Scope addresses the settings a user keeps for one trigger channel.
type Scope struct {
	GuildID   GuildID   `json:"guild_id"`
	TriggerID ChannelID `json:"trigger_id"`
	UserID    UserID    `json:"user_id"`
}

// Preference is the saved room setup of a user for a trigger channel.
// A nil UserLimit means the trigger channel's own limit applies.
type Preference struct {
	Scope
	Name      string    `json:"name,omitempty"`
	UserLimit *int      `json:"user_limit,omitempty"`
	Locked    bool      `json:"locked"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TargetType string

const (
	TargetUser     TargetType = "user"
	TargetRole     TargetType = "role"
	TargetEveryone TargetType = "everyone"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetUser, TargetRole, TargetEveryone:
		return true
	}
	return false
}

// AccessOverride is one stored per-target decision of a feature family.
type AccessOverride struct {
	Scope
	TargetID   TargetID   `json:"target_id"`
	TargetType TargetType `json:"target_type"`
	Feature    Feature    `json:"feature"`
	Enabled    bool       `json:"enabled"`
}

// TriggerPreference records the trigger channel a user provisioned from last,
// used to pick a settings scope when a user has several.
type TriggerPreference struct {
	GuildID   GuildID
	UserID    UserID
	TriggerID ChannelID
	UpdatedAt time.Time
}

type Cooldown struct {
	Scope
	LastProvisioned time.Time
}

// Remaining returns how much of the window is left at now, or zero.
func (c Cooldown) Remaining(now time.Time, window time.Duration) time.Duration {
	if c.LastProvisioned.IsZero() || window <= 0 {
		return 0
	}
	left := window - now.Sub(c.LastProvisioned)
	if left < 0 {
		return 0
	}
	return left
}

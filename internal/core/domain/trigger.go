package domain

type TriggerChannel struct {
	GuildID    GuildID   `json:"guild_id"`
	ChannelID  ChannelID `json:"channel_id"`
	CategoryID ChannelID `json:"category_id"`
	Position   int       `json:"position"`
}

type CleanupMode string

const (
	CleanupImmediate CleanupMode = "immediate"
	CleanupDelayed   CleanupMode = "delayed"
)

func (m CleanupMode) Valid() bool {
	return m == CleanupImmediate || m == CleanupDelayed
}

// GuildSettings holds per-guild overrides of the process defaults. Zero
// values mean "use the default".
type GuildSettings struct {
	GuildID            GuildID     `json:"guild_id"`
	CooldownSeconds    *int        `json:"cooldown_seconds,omitempty"`
	StartupCleanupMode CleanupMode `json:"startup_cleanup_mode,omitempty"`
}

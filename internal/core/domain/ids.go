package domain

// Platform identifiers are snowflakes.
type GuildID uint64
type ChannelID uint64
type UserID uint64

// TargetID is the subject of a permission overwrite: a user, a role, or the
// guild itself for the everyone role.
type TargetID uint64

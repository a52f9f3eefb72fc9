package domain

import "time"

// Room is the persisted record of a provisioned voice room. Uniqueness is on
// RoomID only; one owner may hold several active rooms under the same trigger.
type Room struct {
	GuildID      GuildID   `json:"guild_id"`
	TriggerID    ChannelID `json:"trigger_id"`
	OwnerID      UserID    `json:"owner_id"`
	RoomID       ChannelID `json:"room_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
}

type RoomStatus string

const (
	RoomProvisioning   RoomStatus = "provisioning"
	RoomActive         RoomStatus = "active"
	RoomPendingCleanup RoomStatus = "empty-pending-cleanup"
	RoomDeleted        RoomStatus = "deleted"
)

// ManagedRoom is a room tracked in memory by the lifecycle manager.
type ManagedRoom struct {
	Room
	Status RoomStatus `json:"status"`
	Since  time.Time  `json:"since"`
}

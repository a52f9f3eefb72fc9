package domain

import "time"

type EventType string

const (
	EventRoomCreated  EventType = "room.created"
	EventRoomDeleted  EventType = "room.deleted"
	EventOwnerChanged EventType = "room.owner_changed"
)

type RoomEvent struct {
	Type          EventType `json:"type"`
	GuildID       GuildID   `json:"guild_id"`
	TriggerID     ChannelID `json:"trigger_id"`
	RoomID        ChannelID `json:"room_id"`
	OwnerID       UserID    `json:"owner_id"`
	PreviousOwner UserID    `json:"previous_owner,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

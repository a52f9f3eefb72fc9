package domain

import "fmt"

// PlatformRoom is a voice channel as seen on the chat platform.
type PlatformRoom struct {
	ID         ChannelID
	GuildID    GuildID
	CategoryID ChannelID
	Name       string
	UserLimit  int
	Members    []UserID
	Overwrites []Overwrite
}

func (r *PlatformRoom) HasMember(id UserID) bool {
	for _, m := range r.Members {
		if m == id {
			return true
		}
	}
	return false
}

func (r *PlatformRoom) Empty() bool { return len(r.Members) == 0 }

// Member is a guild member with their current voice channel (zero if none).
type Member struct {
	GuildID        GuildID
	UserID         UserID
	DisplayName    string
	VoiceChannelID ChannelID
	Bot            bool
}

type RoomSpec struct {
	GuildID    GuildID
	CategoryID ChannelID
	Name       string
	UserLimit  int
	Overwrites []Overwrite
}

// RoomEdit changes a room. Nil fields are left untouched; a non-nil
// Overwrites replaces the full overwrite list.
type RoomEdit struct {
	Name       *string
	UserLimit  *int
	Overwrites []Overwrite
}

type DeleteOutcome int

const (
	DeleteOK DeleteOutcome = iota
	DeleteNotFound
	DeleteForbidden
)

func (o DeleteOutcome) String() string {
	switch o {
	case DeleteOK:
		return "deleted"
	case DeleteNotFound:
		return "not_found"
	case DeleteForbidden:
		return "forbidden"
	default:
		return fmt.Sprintf("delete_outcome(%d)", int(o))
	}
}

type FetchOutcome int

const (
	FetchFound FetchOutcome = iota
	FetchNotFound
	FetchForbidden
)

func (o FetchOutcome) String() string {
	switch o {
	case FetchFound:
		return "found"
	case FetchNotFound:
		return "not_found"
	case FetchForbidden:
		return "forbidden"
	default:
		return fmt.Sprintf("fetch_outcome(%d)", int(o))
	}
}

// VoiceStateUpdate is a gateway notification that a member moved between
// voice channels. Before or After is zero when the member was or is no longer
// in voice.
type VoiceStateUpdate struct {
	GuildID GuildID   `json:"guild_id"`
	UserID  UserID    `json:"user_id"`
	Before  ChannelID `json:"before"`
	After   ChannelID `json:"after"`
}

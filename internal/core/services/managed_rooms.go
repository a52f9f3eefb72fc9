package services

import (
	"sort"
	"sync"
	"time"

	"voicerooms/internal/core/domain"
)

// ManagedRooms is the in-memory set of rooms under lifecycle management,
// keyed by room id. It is rebuilt by reconciliation after a restart.
type ManagedRooms struct {
	mu    sync.RWMutex
	rooms map[domain.ChannelID]*domain.ManagedRoom
	now   func() time.Time
}

func NewManagedRooms() *ManagedRooms {
	return &ManagedRooms{
		rooms: make(map[domain.ChannelID]*domain.ManagedRoom),
		now:   time.Now,
	}
}

// Put adds or replaces a room with the given status.
func (m *ManagedRooms) Put(room domain.Room, status domain.RoomStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.rooms[room.RoomID]; ok && cur.Status == status {
		cur.Room = room
		return
	}
	m.rooms[room.RoomID] = &domain.ManagedRoom{Room: room, Status: status, Since: m.now()}
}

// SetStatus changes the status of a tracked room. It reports false when the
// room is not tracked.
func (m *ManagedRooms) SetStatus(id domain.ChannelID, status domain.RoomStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.rooms[id]
	if !ok {
		return false
	}
	if cur.Status != status {
		cur.Status = status
		cur.Since = m.now()
	}
	return true
}

func (m *ManagedRooms) SetOwner(id domain.ChannelID, owner domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.rooms[id]
	if !ok {
		return false
	}
	cur.OwnerID = owner
	return true
}

func (m *ManagedRooms) Touch(id domain.ChannelID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rooms[id]; ok {
		cur.LastActivity = at
	}
}

func (m *ManagedRooms) Get(id domain.ChannelID) (domain.ManagedRoom, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cur, ok := m.rooms[id]
	if !ok {
		return domain.ManagedRoom{}, false
	}
	return *cur, true
}

func (m *ManagedRooms) Remove(id domain.ChannelID) (domain.ManagedRoom, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.rooms[id]
	if !ok {
		return domain.ManagedRoom{}, false
	}
	delete(m.rooms, id)
	return *cur, true
}

func (m *ManagedRooms) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Owned lists the rooms a user owns under a trigger.
func (m *ManagedRooms) Owned(guildID domain.GuildID, triggerID domain.ChannelID, owner domain.UserID) []domain.ManagedRoom {
	return m.filter(func(r *domain.ManagedRoom) bool {
		return r.GuildID == guildID && r.TriggerID == triggerID && r.OwnerID == owner
	})
}

func (m *ManagedRooms) ByGuild(guildID domain.GuildID) []domain.ManagedRoom {
	return m.filter(func(r *domain.ManagedRoom) bool { return r.GuildID == guildID })
}

// Snapshot returns every tracked room ordered by creation time then id.
func (m *ManagedRooms) Snapshot() []domain.ManagedRoom {
	return m.filter(func(*domain.ManagedRoom) bool { return true })
}

func (m *ManagedRooms) filter(keep func(*domain.ManagedRoom) bool) []domain.ManagedRoom {
	m.mu.RLock()
	out := make([]domain.ManagedRoom, 0, len(m.rooms))
	for _, r := range m.rooms {
		if keep(r) {
			out = append(out, *r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out
}

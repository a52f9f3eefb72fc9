// Package memory is an in-process chat platform. It backs local runs without
// platform credentials and drives the lifecycle tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"
)

type Op string

const (
	OpCreate Op = "create"
	OpDelete Op = "delete"
	OpMove   Op = "move"
	OpEdit   Op = "edit"
	OpFetch  Op = "fetch"
	OpMember Op = "member"
)

type memberKey struct {
	guild domain.GuildID
	user  domain.UserID
}

// Platform keeps guild state in maps. Every returned room is a copy.
type Platform struct {
	mu sync.Mutex

	nextID    domain.ChannelID
	rooms     map[domain.ChannelID]*domain.PlatformRoom
	members   map[memberKey]*domain.Member
	roles     map[domain.GuildID]map[domain.TargetID]bool
	forbidden map[domain.ChannelID]bool
	uncached  map[domain.ChannelID]bool
	errs      map[Op]error

	creates int
	deletes map[domain.ChannelID]int
	edits   map[domain.ChannelID][]domain.RoomEdit
}

var _ ports.Platform = (*Platform)(nil)

func New() *Platform {
	return &Platform{
		nextID:    10000,
		rooms:     make(map[domain.ChannelID]*domain.PlatformRoom),
		members:   make(map[memberKey]*domain.Member),
		roles:     make(map[domain.GuildID]map[domain.TargetID]bool),
		forbidden: make(map[domain.ChannelID]bool),
		uncached:  make(map[domain.ChannelID]bool),
		errs:      make(map[Op]error),
		deletes:   make(map[domain.ChannelID]int),
		edits:     make(map[domain.ChannelID][]domain.RoomEdit),
	}
}

func copyRoom(r *domain.PlatformRoom) *domain.PlatformRoom {
	c := *r
	c.Members = append([]domain.UserID(nil), r.Members...)
	c.Overwrites = append([]domain.Overwrite(nil), r.Overwrites...)
	return &c
}

func (p *Platform) CreateRoom(_ context.Context, spec domain.RoomSpec) (*domain.PlatformRoom, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.errs[OpCreate]; err != nil {
		return nil, err
	}
	p.nextID++
	p.creates++
	room := &domain.PlatformRoom{
		ID:         p.nextID,
		GuildID:    spec.GuildID,
		CategoryID: spec.CategoryID,
		Name:       spec.Name,
		UserLimit:  spec.UserLimit,
		Overwrites: append([]domain.Overwrite(nil), spec.Overwrites...),
	}
	p.rooms[room.ID] = room
	return copyRoom(room), nil
}

func (p *Platform) DeleteRoom(_ context.Context, guildID domain.GuildID, roomID domain.ChannelID) (domain.DeleteOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.errs[OpDelete]; err != nil {
		return 0, err
	}
	if p.forbidden[roomID] {
		return domain.DeleteForbidden, nil
	}
	room, ok := p.rooms[roomID]
	if !ok || room.GuildID != guildID {
		return domain.DeleteNotFound, nil
	}
	for _, uid := range room.Members {
		if m, ok := p.members[memberKey{guildID, uid}]; ok {
			m.VoiceChannelID = 0
		}
	}
	delete(p.rooms, roomID)
	p.deletes[roomID]++
	return domain.DeleteOK, nil
}

func (p *Platform) MoveMember(_ context.Context, guildID domain.GuildID, userID domain.UserID, roomID domain.ChannelID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.errs[OpMove]; err != nil {
		return err
	}
	m, ok := p.members[memberKey{guildID, userID}]
	if !ok || m.VoiceChannelID == 0 {
		return fmt.Errorf("move member %d: %w", userID, domain.ErrMemberNotFound)
	}
	if _, ok := p.rooms[roomID]; !ok {
		return fmt.Errorf("move member into %d: %w", roomID, domain.ErrRoomNotFound)
	}
	p.place(m, roomID)
	return nil
}

// place must be called with mu held.
func (p *Platform) place(m *domain.Member, roomID domain.ChannelID) {
	if old, ok := p.rooms[m.VoiceChannelID]; ok {
		kept := old.Members[:0]
		for _, uid := range old.Members {
			if uid != m.UserID {
				kept = append(kept, uid)
			}
		}
		old.Members = kept
	}
	m.VoiceChannelID = roomID
	if room, ok := p.rooms[roomID]; ok {
		room.Members = append(room.Members, m.UserID)
	}
}

func (p *Platform) EditRoom(_ context.Context, guildID domain.GuildID, roomID domain.ChannelID, edit domain.RoomEdit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.errs[OpEdit]; err != nil {
		return err
	}
	if p.forbidden[roomID] {
		return domain.ErrPlatformForbidden
	}
	room, ok := p.rooms[roomID]
	if !ok || room.GuildID != guildID {
		return domain.ErrRoomNotFound
	}
	if edit.Name != nil {
		room.Name = *edit.Name
	}
	if edit.UserLimit != nil {
		room.UserLimit = *edit.UserLimit
	}
	if edit.Overwrites != nil {
		room.Overwrites = append([]domain.Overwrite(nil), edit.Overwrites...)
	}
	p.edits[roomID] = append(p.edits[roomID], edit)
	return nil
}

func (p *Platform) FetchRoom(_ context.Context, guildID domain.GuildID, roomID domain.ChannelID) (*domain.PlatformRoom, domain.FetchOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.errs[OpFetch]; err != nil {
		return nil, 0, err
	}
	if p.forbidden[roomID] {
		return nil, domain.FetchForbidden, nil
	}
	room, ok := p.rooms[roomID]
	if !ok || room.GuildID != guildID {
		return nil, domain.FetchNotFound, nil
	}
	return copyRoom(room), domain.FetchFound, nil
}

func (p *Platform) CachedRoom(guildID domain.GuildID, roomID domain.ChannelID) (*domain.PlatformRoom, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.uncached[roomID] || p.forbidden[roomID] {
		return nil, false
	}
	room, ok := p.rooms[roomID]
	if !ok || room.GuildID != guildID {
		return nil, false
	}
	return copyRoom(room), true
}

func (p *Platform) Member(_ context.Context, guildID domain.GuildID, userID domain.UserID) (*domain.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.errs[OpMember]; err != nil {
		return nil, err
	}
	m, ok := p.members[memberKey{guildID, userID}]
	if !ok {
		return nil, domain.ErrMemberNotFound
	}
	c := *m
	return &c, nil
}

func (p *Platform) TargetExists(_ context.Context, guildID domain.GuildID, id domain.TargetID, typ domain.TargetType) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch typ {
	case domain.TargetEveryone:
		return true, nil
	case domain.TargetUser:
		_, ok := p.members[memberKey{guildID, domain.UserID(id)}]
		return ok, nil
	case domain.TargetRole:
		return p.roles[guildID][id], nil
	}
	return false, nil
}

package memory

import (
	"slices"

	"voicerooms/internal/core/domain"
)

// AddVoiceChannel registers an existing channel, such as a trigger channel.
// A channel already known only has its limit updated; its members, name and
// overwrites stay as they are.
func (p *Platform) AddVoiceChannel(guildID domain.GuildID, id domain.ChannelID, userLimit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if room, ok := p.rooms[id]; ok {
		room.GuildID = guildID
		room.UserLimit = userLimit
		return
	}

	room := &domain.PlatformRoom{ID: id, GuildID: guildID, Name: "Join to Create", UserLimit: userLimit}
	// Members whose voice state arrived before the channel did.
	for key, m := range p.members {
		if key.guild == guildID && m.VoiceChannelID == id {
			room.Members = append(room.Members, m.UserID)
		}
	}
	slices.Sort(room.Members)
	p.rooms[id] = room
}

// AddMember registers a member or renames an existing one in place.
func (p *Platform) AddMember(guildID domain.GuildID, userID domain.UserID, displayName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.members[memberKey{guildID, userID}]; ok {
		m.DisplayName = displayName
		return
	}
	p.members[memberKey{guildID, userID}] = &domain.Member{GuildID: guildID, UserID: userID, DisplayName: displayName}
}

func (p *Platform) RemoveMember(guildID domain.GuildID, userID domain.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.members[memberKey{guildID, userID}]; ok {
		p.place(m, 0)
		delete(p.members, memberKey{guildID, userID})
	}
}

func (p *Platform) AddRole(guildID domain.GuildID, roleID domain.TargetID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roles[guildID] == nil {
		p.roles[guildID] = make(map[domain.TargetID]bool)
	}
	p.roles[guildID][roleID] = true
}

// Join moves a member into a channel (zero to disconnect) and returns the
// gateway update the platform would emit.
func (p *Platform) Join(guildID domain.GuildID, userID domain.UserID, channelID domain.ChannelID) domain.VoiceStateUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[memberKey{guildID, userID}]
	if !ok {
		m = &domain.Member{GuildID: guildID, UserID: userID}
		p.members[memberKey{guildID, userID}] = m
	}
	before := m.VoiceChannelID
	p.place(m, channelID)
	return domain.VoiceStateUpdate{GuildID: guildID, UserID: userID, Before: before, After: channelID}
}

func (p *Platform) Leave(guildID domain.GuildID, userID domain.UserID) domain.VoiceStateUpdate {
	return p.Join(guildID, userID, 0)
}

// SetError makes every call of op fail with err until cleared with nil.
func (p *Platform) SetError(op Op, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, op)
		return
	}
	p.errs[op] = err
}

func (p *Platform) SetForbidden(roomID domain.ChannelID, forbidden bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forbidden[roomID] = forbidden
}

// SetUncached hides a room from CachedRoom so lookups go remote.
func (p *Platform) SetUncached(roomID domain.ChannelID, uncached bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uncached[roomID] = uncached
}

// DropRoom removes a room behind the service's back.
func (p *Platform) DropRoom(roomID domain.ChannelID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms, roomID)
}

// Room returns a copy of a room for assertions.
func (p *Platform) Room(roomID domain.ChannelID) (*domain.PlatformRoom, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rooms[roomID]
	if !ok {
		return nil, false
	}
	return copyRoom(r), true
}

func (p *Platform) Creates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}

func (p *Platform) Deletes(roomID domain.ChannelID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deletes[roomID]
}

func (p *Platform) TotalDeletes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.deletes {
		n += c
	}
	return n
}

func (p *Platform) Edits(roomID domain.ChannelID) []domain.RoomEdit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.RoomEdit(nil), p.edits[roomID]...)
}

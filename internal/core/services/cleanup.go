package services

import (
	"context"
	"sync"
	"time"

	"voicerooms/internal/core/domain"
)

type pendingCleanup struct {
	guildID domain.GuildID
	timer   *time.Timer
}

// CleanupScheduler runs one delayed re-check per room. Scheduling a room that
// already has a pending check is a no-op.
type CleanupScheduler struct {
	delay time.Duration
	check func(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID)

	mu      sync.Mutex
	pending map[domain.ChannelID]*pendingCleanup
	stopped bool
}

func NewCleanupScheduler(delay time.Duration, check func(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID)) *CleanupScheduler {
	return &CleanupScheduler{
		delay:   delay,
		check:   check,
		pending: make(map[domain.ChannelID]*pendingCleanup),
	}
}

// Schedule arms a re-check of roomID. It reports whether a new check was
// armed.
func (s *CleanupScheduler) Schedule(guildID domain.GuildID, roomID domain.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, ok := s.pending[roomID]; ok {
		return false
	}
	p := &pendingCleanup{guildID: guildID}
	p.timer = time.AfterFunc(s.delay, func() { s.fire(roomID, p) })
	s.pending[roomID] = p
	return true
}

func (s *CleanupScheduler) fire(roomID domain.ChannelID, p *pendingCleanup) {
	s.mu.Lock()
	if cur, ok := s.pending[roomID]; !ok || cur != p {
		s.mu.Unlock()
		return
	}
	delete(s.pending, roomID)
	s.mu.Unlock()

	s.check(context.Background(), p.guildID, roomID)
}

// Cancel drops a pending re-check.
func (s *CleanupScheduler) Cancel(roomID domain.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[roomID]; ok {
		p.timer.Stop()
		delete(s.pending, roomID)
	}
}

func (s *CleanupScheduler) Pending(roomID domain.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[roomID]
	return ok
}

func (s *CleanupScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending re-check and refuses new ones.
func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
}

package services

import (
	"context"
	"sync"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"

	"github.com/google/uuid"
)

type guardKey struct {
	guild domain.GuildID
	user  domain.UserID
}

// keyLock is a context-aware mutex shared by the waiters of one key.
type keyLock struct {
	sem     chan struct{}
	waiters int
}

type marker struct {
	token string
	timer *time.Timer
}

// MemoryGuard is the single-process provisioning guard. Markers clear
// themselves after markerTTL in case a release is ever lost.
type MemoryGuard struct {
	markerTTL time.Duration

	mu      sync.Mutex
	locks   map[guardKey]*keyLock
	markers map[guardKey]*marker
}

var _ ports.ProvisionGuard = (*MemoryGuard)(nil)

func NewMemoryGuard(markerTTL time.Duration) *MemoryGuard {
	return &MemoryGuard{
		markerTTL: markerTTL,
		locks:     make(map[guardKey]*keyLock),
		markers:   make(map[guardKey]*marker),
	}
}

func (g *MemoryGuard) Acquire(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (func(), error) {
	key := guardKey{guildID, userID}

	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		g.locks[key] = l
	}
	l.waiters++
	g.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		g.leave(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			g.leave(key, l)
		})
	}, nil
}

// leave drops the lock entry once nobody holds or waits for it.
func (g *MemoryGuard) leave(key guardKey, l *keyLock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l.waiters--
	if l.waiters == 0 {
		delete(g.locks, key)
	}
}

func (g *MemoryGuard) MarkInProgress(_ context.Context, guildID domain.GuildID, userID domain.UserID) (string, error) {
	key := guardKey{guildID, userID}
	token := uuid.NewString()

	g.mu.Lock()
	defer g.mu.Unlock()

	if m, ok := g.markers[key]; ok {
		m.timer.Stop()
	}
	g.markers[key] = &marker{
		token: token,
		timer: time.AfterFunc(g.markerTTL, func() {
			g.clear(key, token)
		}),
	}
	return token, nil
}

func (g *MemoryGuard) IsInProgress(_ context.Context, guildID domain.GuildID, userID domain.UserID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.markers[guardKey{guildID, userID}]
	return ok
}

func (g *MemoryGuard) ClearInProgress(_ context.Context, guildID domain.GuildID, userID domain.UserID, token string) {
	g.clear(guardKey{guildID, userID}, token)
}

func (g *MemoryGuard) clear(key guardKey, token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.markers[key]; ok && m.token == token {
		m.timer.Stop()
		delete(g.markers, key)
	}
}

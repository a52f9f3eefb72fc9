package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/infrastructure/platform/memory"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingHandler struct {
	updates chan domain.VoiceStateUpdate
}

func (h *recordingHandler) HandleVoiceStateUpdate(_ context.Context, update domain.VoiceStateUpdate) {
	h.updates <- update
}

func startServer(t *testing.T, cfg Config, mirror StateMirror) (*WebSocketServer, *recordingHandler, *websocket.Conn) {
	t.Helper()

	handler := &recordingHandler{updates: make(chan domain.VoiceStateUpdate, 16)}
	srv := NewWebSocketServer(handler, mirror, nil, cfg, zap.NewNop().Sugar())
	return srv, handler, dial(t, srv)
}

func dial(t *testing.T, srv *WebSocketServer) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame string) reply {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var r reply
	require.NoError(t, conn.ReadJSON(&r))
	return r
}

func TestWebSocketServer_PingPong(t *testing.T) {
	_, _, conn := startServer(t, Config{}, nil)

	r := roundTrip(t, conn, `{"type":"ping","seq":7}`)
	assert.Equal(t, FramePong, r.Type)
	assert.Equal(t, uint64(7), r.Seq)
}

func TestWebSocketServer_DispatchesVoiceStateUpdates(t *testing.T) {
	platform := memory.New()
	_, handler, conn := startServer(t, Config{}, platform)

	r := roundTrip(t, conn, `{"type":"guild_member","seq":1,"payload":{"guild_id":1,"user_id":2,"display_name":"Ana"}}`)
	assert.Equal(t, FrameAck, r.Type)

	r = roundTrip(t, conn, `{"type":"voice_state_update","seq":2,"payload":{"guild_id":1,"user_id":2,"before":0,"after":30}}`)
	assert.Equal(t, FrameAck, r.Type)
	assert.Equal(t, uint64(2), r.Seq)

	select {
	case update := <-handler.updates:
		assert.Equal(t, domain.VoiceStateUpdate{GuildID: 1, UserID: 2, Before: 0, After: 30}, update)
	case <-time.After(2 * time.Second):
		t.Fatal("update was not dispatched")
	}

	member, err := platform.Member(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "Ana", member.DisplayName)
	assert.Equal(t, domain.ChannelID(30), member.VoiceChannelID)
}

func TestWebSocketServer_RejectsBadFrames(t *testing.T) {
	_, handler, conn := startServer(t, Config{}, nil)

	r := roundTrip(t, conn, `{"type":"offer"}`)
	assert.Equal(t, FrameError, r.Type)
	assert.Contains(t, r.Error, "unknown frame type")

	r = roundTrip(t, conn, `{"type":"voice_state_update","payload":{"guild_id":1}}`)
	assert.Equal(t, FrameError, r.Type)

	r = roundTrip(t, conn, `not json`)
	assert.Equal(t, FrameError, r.Type)

	// The session survives bad frames.
	r = roundTrip(t, conn, `{"type":"ping"}`)
	assert.Equal(t, FramePong, r.Type)
	assert.Empty(t, handler.updates)
}

func TestWebSocketServer_SameChannelIsNoop(t *testing.T) {
	_, handler, conn := startServer(t, Config{}, nil)

	r := roundTrip(t, conn, `{"type":"voice_state_update","payload":{"guild_id":1,"user_id":2,"before":30,"after":30}}`)
	assert.Equal(t, FrameAck, r.Type)
	assert.Empty(t, handler.updates)
}

func TestWebSocketServer_RateLimitsFrames(t *testing.T) {
	_, _, conn := startServer(t, Config{MessagesPerSecond: 0.001, Burst: 1}, nil)

	assert.Equal(t, FramePong, roundTrip(t, conn, `{"type":"ping"}`).Type)

	r := roundTrip(t, conn, `{"type":"ping"}`)
	assert.Equal(t, FrameError, r.Type)
	assert.Equal(t, ErrRateLimited.Error(), r.Error)
}

func TestWebSocketServer_ShutdownClosesSessions(t *testing.T) {
	srv, _, conn := startServer(t, Config{PingInterval: 20 * time.Millisecond}, nil)

	assert.Equal(t, FramePong, roundTrip(t, conn, `{"type":"ping"}`).Type)
	assert.Equal(t, 1, srv.ConnectionCount())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	assert.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketServer_VoiceChannelKeepsOccupants(t *testing.T) {
	platform := memory.New()
	_, handler, conn := startServer(t, Config{}, platform)

	// The member's voice state arrives before the channel itself.
	frames := []string{
		`{"type":"voice_state_update","payload":{"guild_id":1,"user_id":2,"before":0,"after":70}}`,
		`{"type":"voice_channel","payload":{"guild_id":1,"channel_id":70,"user_limit":0}}`,
		`{"type":"voice_state_update","payload":{"guild_id":1,"user_id":3,"before":0,"after":70}}`,
		`{"type":"voice_channel","payload":{"guild_id":1,"channel_id":70,"user_limit":5}}`,
	}
	for _, f := range frames {
		require.Equal(t, FrameAck, roundTrip(t, conn, f).Type)
	}

	room, ok := platform.Room(70)
	require.True(t, ok)
	assert.Equal(t, 5, room.UserLimit)
	assert.ElementsMatch(t, []domain.UserID{2, 3}, room.Members)
	assert.False(t, room.Empty())
	assert.Eventually(t, func() bool { return len(handler.updates) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketServer_ReadyRunsAfterPriorFrames(t *testing.T) {
	platform := memory.New()
	srv, _, conn := startServer(t, Config{}, platform)

	seen := make(chan []domain.UserID, 2)
	srv.OnReady(func(context.Context) {
		room, _ := platform.Room(70)
		seen <- room.Members
	})

	require.Equal(t, FrameAck, roundTrip(t, conn, `{"type":"voice_channel","payload":{"guild_id":1,"channel_id":70}}`).Type)
	require.Equal(t, FrameAck, roundTrip(t, conn, `{"type":"voice_state_update","payload":{"guild_id":1,"user_id":2,"after":70}}`).Type)
	r := roundTrip(t, conn, `{"type":"ready","seq":9}`)
	assert.Equal(t, FrameAck, r.Type)
	assert.Equal(t, uint64(9), r.Seq)

	select {
	case members := <-seen:
		assert.Equal(t, []domain.UserID{2}, members)
	case <-time.After(2 * time.Second):
		t.Fatal("ready hook did not run")
	}
}

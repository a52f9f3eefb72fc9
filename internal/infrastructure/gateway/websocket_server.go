// Package gateway bridges a chat platform gateway into the lifecycle
// manager. A platform adapter connects over websocket and forwards voice
// state updates as JSON frames.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/pkg/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	FrameVoiceStateUpdate = "voice_state_update"
	FrameGuildMember      = "guild_member"
	FrameVoiceChannel     = "voice_channel"
	// FrameReady tells the bridge the adapter has replayed the guild state
	// it holds: channels, members and their voice channels.
	FrameReady = "ready"
	FramePing             = "ping"
	FramePong             = "pong"
	FrameAck              = "ack"
	FrameError            = "error"
)

var (
	ErrUnknownFrame = errors.New("unknown frame type")
	ErrRateLimited  = errors.New("frame rate limit exceeded")
)

// VoiceStateHandler consumes voice state updates. *services.LifecycleManager
// satisfies it.
type VoiceStateHandler interface {
	HandleVoiceStateUpdate(ctx context.Context, update domain.VoiceStateUpdate)
}

// StateMirror keeps a local platform copy in step with gateway frames. The
// in-memory platform implements it.
type StateMirror interface {
	Join(guildID domain.GuildID, userID domain.UserID, channelID domain.ChannelID) domain.VoiceStateUpdate
	AddMember(guildID domain.GuildID, userID domain.UserID, displayName string)
	AddVoiceChannel(guildID domain.GuildID, id domain.ChannelID, userLimit int)
}

// Metrics observes gateway traffic.
type Metrics interface {
	GatewayConnected()
	GatewayDisconnected()
	GatewayMessage(kind string)
}

type Config struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    int64
	MessagesPerSecond float64
	Burst             int
	AllowedOrigins    []string
}

type Frame struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type GuildMemberPayload struct {
	GuildID     domain.GuildID `json:"guild_id"`
	UserID      domain.UserID  `json:"user_id"`
	DisplayName string         `json:"display_name"`
}

type VoiceChannelPayload struct {
	GuildID   domain.GuildID   `json:"guild_id"`
	ChannelID domain.ChannelID `json:"channel_id"`
	UserLimit int              `json:"user_limit"`
}

type reply struct {
	Type  string `json:"type"`
	Seq   uint64 `json:"seq,omitempty"`
	Error string `json:"error,omitempty"`
}

// connection is one adapter session. Writes go through writeMu; gorilla
// allows one concurrent writer.
type connection struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter
}

type WebSocketServer struct {
	handler VoiceStateHandler
	mirror  StateMirror
	metrics Metrics
	cfg     Config

	upgrader websocket.Upgrader

	connections map[string]*connection
	mu          sync.RWMutex

	onReady func(ctx context.Context)

	// dispatch tracks in-flight handler goroutines.
	dispatch sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	logger *zap.SugaredLogger
}

// NewWebSocketServer returns a bridge dispatching to handler. mirror and
// metrics may be nil.
func NewWebSocketServer(handler VoiceStateHandler, mirror StateMirror, metrics Metrics, cfg Config, logger *zap.SugaredLogger) *WebSocketServer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 16 * 1024
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 200
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.MessagesPerSecond) * 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &WebSocketServer{
		handler:     handler,
		mirror:      mirror,
		metrics:     metrics,
		cfg:         cfg,
		connections: make(map[string]*connection),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// OnReady registers fn to run after every ready frame, once the frames sent
// before it have been applied to the mirror. Call it before serving.
func (s *WebSocketServer) OnReady(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReady = fn
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// ConnectionCount returns the number of open adapter sessions.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	conn := &connection{
		id:      uuid.NewString(),
		ws:      ws,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst),
	}

	s.mu.Lock()
	s.connections[conn.id] = conn
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.GatewayConnected()
	}
	s.logger.Infow("gateway adapter connected", "connection_id", conn.id, "remote_addr", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.connections, conn.id)
		s.mu.Unlock()
		ws.Close()
		if s.metrics != nil {
			s.metrics.GatewayDisconnected()
		}
		s.logger.Infow("gateway adapter disconnected", "connection_id", conn.id)
	}()

	ws.SetReadLimit(s.cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(conn, done)

	for {
		var frame Frame
		if err := ws.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.send(conn, reply{Type: FrameError, Error: "malformed frame"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("gateway read failed", "connection_id", conn.id, "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if err := s.handleFrame(conn, frame); err != nil {
			s.logger.Debugw("gateway frame rejected",
				"connection_id", conn.id,
				"type", frame.Type,
				"error", err,
			)
			s.send(conn, reply{Type: FrameError, Seq: frame.Seq, Error: err.Error()})
		}
	}
}

func (s *WebSocketServer) pingLoop(conn *connection, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.ctx.Done():
			conn.writeMu.Lock()
			conn.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(s.cfg.WriteTimeout))
			conn.writeMu.Unlock()
			conn.ws.Close()
			return
		case <-ticker.C:
			conn.writeMu.Lock()
			err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			conn.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("gateway ping failed", "connection_id", conn.id, "error", err)
				conn.ws.Close()
				return
			}
		}
	}
}

func (s *WebSocketServer) handleFrame(conn *connection, frame Frame) error {
	if frame.Type == "" {
		return fmt.Errorf("frame type is required")
	}
	if !conn.limiter.Allow() {
		return ErrRateLimited
	}
	if s.metrics != nil {
		s.metrics.GatewayMessage(frame.Type)
	}

	switch frame.Type {
	case FramePing:
		s.send(conn, reply{Type: FramePong, Seq: frame.Seq})
		return nil
	case FrameVoiceStateUpdate:
		return s.handleVoiceStateUpdate(conn, frame)
	case FrameGuildMember:
		return s.handleGuildMember(conn, frame)
	case FrameVoiceChannel:
		return s.handleVoiceChannel(conn, frame)
	case FrameReady:
		s.handleReady(conn, frame)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFrame, frame.Type)
	}
}

func (s *WebSocketServer) handleVoiceStateUpdate(conn *connection, frame Frame) error {
	var update domain.VoiceStateUpdate
	if err := json.Unmarshal(frame.Payload, &update); err != nil {
		return fmt.Errorf("invalid voice_state_update payload: %w", err)
	}
	if update.GuildID == 0 || update.UserID == 0 {
		return fmt.Errorf("guild_id and user_id are required")
	}
	if update.Before == update.After {
		s.send(conn, reply{Type: FrameAck, Seq: frame.Seq})
		return nil
	}

	if s.mirror != nil {
		s.mirror.Join(update.GuildID, update.UserID, update.After)
	}

	s.dispatch.Add(1)
	go func() {
		defer s.dispatch.Done()
		ctx, span := tracing.TraceGatewayMessage(s.ctx, frame.Type)
		defer span.End()
		s.handler.HandleVoiceStateUpdate(ctx, update)
	}()

	s.send(conn, reply{Type: FrameAck, Seq: frame.Seq})
	return nil
}

func (s *WebSocketServer) handleGuildMember(conn *connection, frame Frame) error {
	var payload GuildMemberPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid guild_member payload: %w", err)
	}
	if payload.GuildID == 0 || payload.UserID == 0 {
		return fmt.Errorf("guild_id and user_id are required")
	}
	if s.mirror != nil {
		s.mirror.AddMember(payload.GuildID, payload.UserID, payload.DisplayName)
	}
	s.send(conn, reply{Type: FrameAck, Seq: frame.Seq})
	return nil
}

func (s *WebSocketServer) handleVoiceChannel(conn *connection, frame Frame) error {
	var payload VoiceChannelPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid voice_channel payload: %w", err)
	}
	if payload.GuildID == 0 || payload.ChannelID == 0 || payload.UserLimit < 0 {
		return fmt.Errorf("guild_id and channel_id are required")
	}
	if s.mirror != nil {
		s.mirror.AddVoiceChannel(payload.GuildID, payload.ChannelID, payload.UserLimit)
	}
	s.send(conn, reply{Type: FrameAck, Seq: frame.Seq})
	return nil
}

func (s *WebSocketServer) handleReady(conn *connection, frame Frame) {
	s.mu.RLock()
	fn := s.onReady
	s.mu.RUnlock()

	s.logger.Infow("gateway adapter ready", "connection_id", conn.id)
	if fn != nil {
		s.dispatch.Add(1)
		go func() {
			defer s.dispatch.Done()
			ctx, span := tracing.TraceGatewayMessage(s.ctx, frame.Type)
			defer span.End()
			fn(ctx)
		}()
	}
	s.send(conn, reply{Type: FrameAck, Seq: frame.Seq})
}

func (s *WebSocketServer) send(conn *connection, msg reply) {
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()

	conn.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.ws.WriteJSON(msg); err != nil {
		s.logger.Debugw("gateway write failed", "connection_id", conn.id, "error", err)
	}
}

// Shutdown closes every session and waits for dispatched updates to finish
// or ctx to expire.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.dispatch.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

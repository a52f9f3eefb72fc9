package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

var ErrGatewayClosed = errors.New("gateway connection closed")

// GatewayError is an error frame sent back for one of our frames.
type GatewayError struct {
	Seq     uint64
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway rejected frame %d: %s", e.Seq, e.Message)
}

// VoiceStateUpdate mirrors the gateway's voice_state_update payload. Zero
// channel ids mean "not connected".
type VoiceStateUpdate struct {
	GuildID uint64 `json:"guild_id"`
	UserID  uint64 `json:"user_id"`
	Before  uint64 `json:"before"`
	After   uint64 `json:"after"`
}

type gatewayFrame struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type gatewayReply struct {
	Type  string `json:"type"`
	Seq   uint64 `json:"seq,omitempty"`
	Error string `json:"error,omitempty"`
}

// GatewayClient feeds platform events to the bridge. Calls are safe for
// concurrent use; each waits for the reply to its own sequence number.
type GatewayClient struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	seq     atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan gatewayReply
	err     error
	done    chan struct{}
}

// DialGateway connects to a ws:// or wss:// gateway URL.
func DialGateway(ctx context.Context, url string, header http.Header) (*GatewayClient, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	c := &GatewayClient{
		ws:      ws,
		pending: make(map[uint64]chan gatewayReply),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// readLoop also keeps the session alive: gorilla answers server pings while
// a read is in progress.
func (c *GatewayClient) readLoop() {
	for {
		var r gatewayReply
		if err := c.ws.ReadJSON(&r); err != nil {
			c.fail(err)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[r.Seq]
		delete(c.pending, r.Seq)
		c.mu.Unlock()
		if ok {
			ch <- r
		}
	}
}

func (c *GatewayClient) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = fmt.Errorf("%w: %v", ErrGatewayClosed, err)
	close(c.done)
}

func (c *GatewayClient) call(ctx context.Context, frameType string, payload any) error {
	seq := c.seq.Add(1)
	ch := make(chan gatewayReply, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[seq] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.ws.WriteJSON(gatewayFrame{Type: frameType, Seq: seq, Payload: payload})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write %s frame: %w", frameType, err)
	}

	select {
	case r := <-ch:
		if r.Type == "error" {
			return &GatewayError{Seq: seq, Message: r.Error}
		}
		return nil
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *GatewayClient) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", nil)
}

func (c *GatewayClient) SendVoiceState(ctx context.Context, update VoiceStateUpdate) error {
	return c.call(ctx, "voice_state_update", update)
}

func (c *GatewayClient) SendMember(ctx context.Context, guildID, userID uint64, displayName string) error {
	return c.call(ctx, "guild_member", map[string]any{
		"guild_id":     guildID,
		"user_id":      userID,
		"display_name": displayName,
	})
}

// SendVoiceChannel announces a voice channel. userLimit 0 means unlimited.
func (c *GatewayClient) SendVoiceChannel(ctx context.Context, guildID, channelID uint64, userLimit int) error {
	return c.call(ctx, "voice_channel", map[string]any{
		"guild_id":   guildID,
		"channel_id": channelID,
		"user_limit": userLimit,
	})
}

// SendReady marks the end of the adapter's state replay. The bridge checks
// rooms left over from a previous run only after the first one.
func (c *GatewayClient) SendReady(ctx context.Context) error {
	return c.call(ctx, "ready", nil)
}

func (c *GatewayClient) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

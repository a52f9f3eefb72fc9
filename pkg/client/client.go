// Package client talks to a voicerooms instance: the admin API over HTTP and
// the gateway bridge over websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Room is a managed room as reported by the admin API.
type Room struct {
	GuildID      uint64    `json:"guild_id"`
	TriggerID    uint64    `json:"trigger_id"`
	OwnerID      uint64    `json:"owner_id"`
	RoomID       uint64    `json:"room_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
	Status       string    `json:"status,omitempty"`
}

type Trigger struct {
	GuildID    uint64 `json:"guild_id"`
	ChannelID  uint64 `json:"channel_id"`
	CategoryID uint64 `json:"category_id"`
	Position   int    `json:"position"`
}

type RemoveTriggerReport struct {
	Purged struct {
		Preferences int64 `json:"preferences"`
		Overrides   int64 `json:"overrides"`
		Cooldowns   int64 `json:"cooldowns"`
	} `json:"purged"`
	DeletedRooms []uint64 `json:"deleted_rooms"`
	SkippedRooms []uint64 `json:"skipped_rooms"`
}

type ReconcileReport struct {
	Kept        int `json:"kept"`
	Cleaned     int `json:"cleaned"`
	Gone        int `json:"gone"`
	Deferred    int `json:"deferred"`
	Provisioned int `json:"provisioned"`
	Failed      int `json:"failed"`
}

// APIError is a non-2xx admin API response.
type APIError struct {
	StatusCode        int    `json:"-"`
	Code              string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("voicerooms: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("voicerooms: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func guildPath(guildID uint64, rest string) string {
	return "/api/v1/guilds/" + strconv.FormatUint(guildID, 10) + rest
}

func id(v uint64) string { return strconv.FormatUint(v, 10) }

func (c *Client) ListRooms(ctx context.Context, guildID uint64) ([]Room, error) {
	var out struct {
		Rooms []Room `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, guildPath(guildID, "/rooms"), nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

// Claim hands userID the room whose owner has left.
func (c *Client) Claim(ctx context.Context, guildID, userID uint64) (*Room, error) {
	var out struct {
		Room *Room `json:"room"`
	}
	body := map[string]string{"user_id": id(userID)}
	if err := c.do(ctx, http.MethodPost, guildPath(guildID, "/rooms/claim"), body, &out); err != nil {
		return nil, err
	}
	return out.Room, nil
}

func (c *Client) Transfer(ctx context.Context, guildID, fromUserID, toUserID uint64) (*Room, error) {
	var out struct {
		Room *Room `json:"room"`
	}
	body := map[string]string{"from_user_id": id(fromUserID), "to_user_id": id(toUserID)}
	if err := c.do(ctx, http.MethodPost, guildPath(guildID, "/rooms/transfer"), body, &out); err != nil {
		return nil, err
	}
	return out.Room, nil
}

// ProvisionCheck reports whether userID may get a room from triggerID right
// now, and the rejection reason when not.
func (c *Client) ProvisionCheck(ctx context.Context, guildID, triggerID, userID uint64) (bool, string, error) {
	q := url.Values{}
	q.Set("trigger_id", id(triggerID))
	q.Set("user_id", id(userID))

	var out struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	if err := c.do(ctx, http.MethodGet, guildPath(guildID, "/provision-check?"+q.Encode()), nil, &out); err != nil {
		return false, "", err
	}
	return out.Allowed, out.Reason, nil
}

func (c *Client) ListTriggers(ctx context.Context, guildID uint64) ([]Trigger, error) {
	var out struct {
		Triggers []Trigger `json:"triggers"`
	}
	if err := c.do(ctx, http.MethodGet, guildPath(guildID, "/triggers"), nil, &out); err != nil {
		return nil, err
	}
	return out.Triggers, nil
}

func (c *Client) AddTrigger(ctx context.Context, t Trigger) error {
	body := map[string]any{
		"channel_id": id(t.ChannelID),
		"position":   t.Position,
	}
	if t.CategoryID != 0 {
		body["category_id"] = id(t.CategoryID)
	}
	return c.do(ctx, http.MethodPost, guildPath(t.GuildID, "/triggers"), body, nil)
}

// RemoveTrigger unregisters a trigger. With cascade its preferences are
// purged and its empty rooms deleted.
func (c *Client) RemoveTrigger(ctx context.Context, guildID, channelID uint64, cascade bool) (*RemoveTriggerReport, error) {
	path := guildPath(guildID, "/triggers/"+id(channelID))
	if cascade {
		path += "?cascade=true"
	}
	var out struct {
		Report *RemoveTriggerReport `json:"report"`
	}
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Report, nil
}

type PurgeGuildReport struct {
	DeletedRooms   []uint64 `json:"deleted_rooms"`
	UntrackedRooms []uint64 `json:"untracked_rooms"`
}

// PurgeGuild deletes every stored row of a guild. It cannot be undone.
func (c *Client) PurgeGuild(ctx context.Context, guildID uint64) (*PurgeGuildReport, error) {
	var out struct {
		Report *PurgeGuildReport `json:"report"`
	}
	if err := c.do(ctx, http.MethodDelete, guildPath(guildID, "?confirm=true"), nil, &out); err != nil {
		return nil, err
	}
	return out.Report, nil
}

func (c *Client) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	var out struct {
		Report *ReconcileReport `json:"report"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/reconcile", nil, &out); err != nil {
		return nil, err
	}
	return out.Report, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package videoroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jukezispilled/lockd/internal/httpclient"
	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("daily API key not configured")

// APIError is a non-2xx answer from Daily. Status is passed through to callers.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string { return fmt.Sprintf("daily api %d: %s", e.Status, e.Body) }

func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

type Room struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	URL          string            `json:"url"`
	Privacy      string            `json:"privacy,omitempty"`
	CreatedAt    string            `json:"created_at,omitempty"`
	Config       json.RawMessage   `json:"config,omitempty"`
	Participants []json.RawMessage `json:"participants,omitempty"`
}

type Properties struct {
	EnableChat        bool  `json:"enable_chat"`
	EnableKnocking    bool  `json:"enable_knocking"`
	EnablePrejoinUI   bool  `json:"enable_prejoin_ui"`
	EnableScreenshare bool  `json:"enable_screenshare"`
	EnableRecording   bool  `json:"enable_recording"`
	StartVideoOff     bool  `json:"start_video_off"`
	StartAudioOff     bool  `json:"start_audio_off"`
	MaxParticipants   int   `json:"max_participants"`
	EjectAtRoomExp    bool  `json:"eject_at_room_exp"`
	Exp               int64 `json:"exp"`
}

type Config struct {
	BaseURL         string
	APIKey          string
	MaxParticipants int
	RoomTTL         time.Duration
}

// Client manages one Daily room per chat.
type Client struct {
	conf Config
	http *httpclient.Client
	log  *zap.SugaredLogger
	now  func() time.Time
}

func NewClient(conf Config, hc *httpclient.Client, log *zap.SugaredLogger) *Client {
	conf.BaseURL = strings.TrimRight(conf.BaseURL, "/")
	if conf.MaxParticipants == 0 {
		conf.MaxParticipants = 50
	}
	if conf.RoomTTL == 0 {
		conf.RoomTTL = 24 * time.Hour
	}
	return &Client{conf: conf, http: hc, log: log, now: time.Now}
}

func (c *Client) Configured() bool { return c.conf.APIKey != "" }

func RoomName(chatID string) string { return "chat-" + chatID }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = b
	}
	header := http.Header{
		"Authorization": {"Bearer " + c.conf.APIKey},
		"Content-Type":  {"application/json"},
	}
	resp, err := c.http.Do(ctx, method, c.conf.BaseURL+path, header, body)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return &APIError{Status: se.StatusCode, Body: string(se.Body)}
		}
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: string(resp.Body)}
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Body, out)
}

func (c *Client) Get(ctx context.Context, chatID string) (*Room, error) {
	var room Room
	if err := c.do(ctx, http.MethodGet, "/rooms/"+RoomName(chatID), nil, &room); err != nil {
		return nil, err
	}
	if room.Participants == nil {
		room.Participants = []json.RawMessage{}
	}
	return &room, nil
}

// Ensure returns the chat's room, creating it when Daily does not know it.
// The boolean reports whether the room already existed.
func (c *Client) Ensure(ctx context.Context, chatID string) (*Room, bool, error) {
	room, err := c.Get(ctx, chatID)
	switch {
	case err == nil:
		return room, true, nil
	case errors.Is(err, ErrNotConfigured):
		return nil, false, err
	case !IsNotFound(err):
		// Daily sometimes answers odd statuses for a missing room; try creating anyway
		c.log.Warnw("room lookup failed, creating", "room", RoomName(chatID), "error", err)
	}

	req := struct {
		Name       string     `json:"name"`
		Properties Properties `json:"properties"`
	}{
		Name: RoomName(chatID),
		Properties: Properties{
			EnableChat:        true,
			EnableScreenshare: true,
			MaxParticipants:   c.conf.MaxParticipants,
			EjectAtRoomExp:    true,
			Exp:               c.now().Add(c.conf.RoomTTL).Unix(),
		},
	}
	var created Room
	if err := c.do(ctx, http.MethodPost, "/rooms", req, &created); err != nil {
		return nil, false, err
	}
	c.log.Infow("video room created", "room", created.Name)
	return &created, false, nil
}

// Update sets room properties. Daily updates rooms with POST.
func (c *Client) Update(ctx context.Context, chatID string, props map[string]any) (json.RawMessage, error) {
	if props == nil {
		props = map[string]any{}
	}
	var room json.RawMessage
	err := c.do(ctx, http.MethodPost, "/rooms/"+RoomName(chatID), map[string]any{"properties": props}, &room)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// Delete removes the chat's room. A room that is already gone is not an error.
func (c *Client) Delete(ctx context.Context, chatID string) error {
	err := c.do(ctx, http.MethodDelete, "/rooms/"+RoomName(chatID), nil, nil)
	if IsNotFound(err) {
		c.log.Infow("video room already gone", "room", RoomName(chatID))
		return nil
	}
	return err
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/jukezispilled/lockd/internal/access"
	"github.com/jukezispilled/lockd/internal/domain"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 64 * 1024
	sendBuffer = 64
)

type inFrame struct {
	Type   string `json:"type"`
	Wallet string `json:"wallet"`
}

type accessFrame struct {
	Type     string          `json:"type"`
	State    access.State    `json:"state"`
	Decision access.Decision `json:"decision"`
	Message  string          `json:"message,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Client is one websocket viewer of one chat. It only receives chat messages
// while its access session is GRANTED.
type Client struct {
	hub     *Hub
	chatID  string
	session *access.Session
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	joined  bool
	log     *zap.SugaredLogger
}

func NewClient(hub *Hub, chat *domain.Chat, eval *access.Evaluator, wallet string, log *zap.SugaredLogger) *Client {
	return &Client{
		hub:     hub,
		chatID:  chat.ID.Hex(),
		session: access.NewSession(eval, chat, wallet),
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		log:     log,
	}
}

func (c *Client) trySend(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if !c.trySend(b) {
		c.close()
	}
}

// verify runs the session and joins or leaves the room to match the outcome.
func (c *Client) verify(ctx context.Context) {
	d, err := c.session.Verify(ctx)
	if errors.Is(err, access.ErrVerifyInProgress) {
		c.sendJSON(errorFrame{Type: "error", Error: "verification already in progress"})
		return
	}
	state := c.session.State()
	if state == access.StateGranted && !c.joined {
		c.hub.Register(c.chatID, c)
		c.joined = true
	}
	if state != access.StateGranted && c.joined {
		c.hub.Unregister(c.chatID, c)
		c.joined = false
	}
	c.sendJSON(accessFrame{Type: "access", State: state, Decision: d, Message: d.Message()})
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	var in inFrame
	if err := json.Unmarshal(data, &in); err != nil {
		c.sendJSON(errorFrame{Type: "error", Error: "invalid frame"})
		return
	}
	switch in.Type {
	case "verify":
		c.verify(ctx)
	case "wallet":
		c.session.Reconnect(in.Wallet)
		if c.joined {
			c.hub.Unregister(c.chatID, c)
			c.joined = false
		}
		if in.Wallet != "" {
			c.verify(ctx)
			return
		}
		c.sendJSON(accessFrame{Type: "access", State: c.session.State()})
	case "ping":
		c.sendJSON(map[string]string{"type": "pong"})
	default:
		c.sendJSON(errorFrame{Type: "error", Error: "unknown frame type"})
	}
}

func (c *Client) leave() {
	if c.joined {
		c.hub.Unregister(c.chatID, c)
		c.joined = false
	}
	c.close()
}

// Serve runs the connection until the peer goes away or ctx ends.
func (c *Client) Serve(ctx context.Context, conn *websocket.Conn) {
	connOpened()
	defer connClosed()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writePump(conn)
	// writePump closes conn once done is closed, which unblocks readPump
	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-c.done:
		}
	}()

	if c.session.Wallet() != "" {
		c.verify(ctx)
	} else {
		c.sendJSON(accessFrame{Type: "access", State: c.session.State(), Decision: access.Decision{Reason: access.ReasonWalletNotConnected}})
	}
	c.readPump(ctx, conn)
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		c.leave()
		_ = conn.Close()
	}()
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debugw("websocket read failed", "chatId", c.chatID, "error", err)
			}
			return
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
			return
		case frame := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

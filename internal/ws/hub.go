package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jukezispilled/lockd/internal/domain"
	"github.com/jukezispilled/lockd/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type messageFrame struct {
	Type    string          `json:"type"`
	Message *domain.Message `json:"message"`
}

// envelope carries a frame between nodes over Redis pub/sub.
type envelope struct {
	Node   string          `json:"node"`
	ChatID string          `json:"chatId"`
	Frame  json.RawMessage `json:"frame"`
}

// Hub tracks granted connections per chat and fans messages out to them.
// With Redis attached, messages sent on one node reach clients on every node.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	rdb    redis.UniversalClient
	prefix string
	node   string
	log    *zap.SugaredLogger
}

func NewHub(rdb redis.UniversalClient, prefix string, log *zap.SugaredLogger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		rdb:    rdb,
		prefix: prefix,
		node:   uuid.NewString(),
		log:    log,
	}
}

func (h *Hub) channel(chatID string) string { return h.prefix + ":chat:" + chatID }

func (h *Hub) Register(chatID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[chatID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[chatID] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) Unregister(chatID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[chatID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

func (h *Hub) Count(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// Broadcast delivers m to local subscribers and, with Redis, to other nodes.
func (h *Hub) Broadcast(ctx context.Context, chatID string, m *domain.Message) {
	frame, err := json.Marshal(messageFrame{Type: "message", Message: m})
	if err != nil {
		h.log.Errorw("encode message frame failed", "chatId", chatID, "error", err)
		return
	}
	h.deliver(chatID, frame)

	if h.rdb == nil {
		return
	}
	b, _ := json.Marshal(envelope{Node: h.node, ChatID: chatID, Frame: frame})
	if err := h.rdb.Publish(ctx, h.channel(chatID), b).Err(); err != nil {
		h.log.Warnw("fan-out publish failed", "chatId", chatID, "error", err)
	}
}

func (h *Hub) deliver(chatID string, frame []byte) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.rooms[chatID] {
		if !c.trySend(frame) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warnw("dropping slow consumer", "chatId", chatID, "wallet", c.session.Wallet())
		h.Unregister(chatID, c)
		c.close()
	}
}

// Run relays frames published by other nodes until ctx ends. It returns
// at once when no Redis client is attached.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		return
	}
	sub := h.rdb.PSubscribe(ctx, h.channel("*"))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.log.Warnw("bad fan-out payload", "channel", msg.Channel, "error", err)
				continue
			}
			if env.Node == h.node {
				continue
			}
			chatID := env.ChatID
			if chatID == "" {
				chatID = strings.TrimPrefix(msg.Channel, h.channel(""))
			}
			h.deliver(chatID, env.Frame)
		}
	}
}

func connOpened() { metrics.Connections.Inc() }
func connClosed() { metrics.Connections.Dec() }

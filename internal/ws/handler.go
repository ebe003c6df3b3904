package ws

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/jukezispilled/lockd/internal/access"
	"github.com/jukezispilled/lockd/internal/apperr"
	"github.com/jukezispilled/lockd/internal/domain"
	"go.uber.org/zap"
)

type ChatFinder interface {
	Get(ctx context.Context, chatID string) (*domain.Chat, error)
}

type Handler struct {
	hub   *Hub
	chats ChatFinder
	eval  *access.Evaluator
	log   *zap.SugaredLogger
	// ctx ends every connection on shutdown
	ctx context.Context
}

func NewHandler(ctx context.Context, hub *Hub, chats ChatFinder, eval *access.Evaluator, log *zap.SugaredLogger) *Handler {
	return &Handler{ctx: ctx, hub: hub, chats: chats, eval: eval, log: log}
}

// Upgrade resolves the chat before the protocol switch, so unknown chats get
// a plain HTTP error.
func (h *Handler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()
	chat, err := h.chats.Get(ctx, c.Params("chatId"))
	if err != nil {
		return c.Status(apperr.Status(err)).JSON(fiber.Map{"error": apperr.Public(err)})
	}
	c.Locals("chat", chat)
	return c.Next()
}

func (h *Handler) Serve() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		chat, ok := conn.Locals("chat").(*domain.Chat)
		if !ok {
			_ = conn.Close()
			return
		}
		client := NewClient(h.hub, chat, h.eval, conn.Query("wallet"), h.log)
		client.Serve(h.ctx, conn)
	})
}

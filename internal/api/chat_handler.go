package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jukezispilled/lockd/internal/domain"
	"github.com/jukezispilled/lockd/internal/service"
)

type createChatRequest struct {
	TokenName      string   `json:"tokenName"`
	TokenSymbol    string   `json:"tokenSymbol"`
	TokenMint      string   `json:"tokenMint"`
	CreatorWallet  string   `json:"creatorWallet"`
	CreatorPubKey  string   `json:"creatorPublicKey"`
	RequiredAmount *float64 `json:"requiredAmount"`
}

type sendMessageRequest struct {
	Content      string `json:"content"`
	SenderWallet string `json:"senderWallet"`
	SenderPubKey string `json:"senderPublicKey"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// POST /chats
func (s *Server) createChat(c *fiber.Ctx) error {
	var req createChatRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid request body")
	}
	chat, _, err := s.Chats.CreateOrGet(c.UserContext(), service.CreateChatInput{
		TokenName:      req.TokenName,
		TokenSymbol:    req.TokenSymbol,
		TokenMint:      req.TokenMint,
		CreatorWallet:  firstNonEmpty(req.CreatorWallet, req.CreatorPubKey),
		RequiredAmount: req.RequiredAmount,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "chatId": chat.ID.Hex(), "chatName": chat.Name})
}

// GET /chats
func (s *Server) listChats(c *fiber.Ctx) error {
	chats, err := s.Chats.List(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	return c.JSON(chats)
}

// GET /chats/:chatId
func (s *Server) getChat(c *fiber.Ctx) error {
	chat, err := s.Chats.Get(c.UserContext(), c.Params("chatId"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(chat)
}

// GET /chats/:chatId/messages?limit=&skip=
func (s *Server) listMessages(c *fiber.Ctx) error {
	limit, skip := service.ParsePage(c.Query("limit"), c.Query("skip"))
	msgs, err := s.Messages.List(c.UserContext(), c.Params("chatId"), limit, skip)
	if err != nil {
		return s.fail(c, err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// POST /chats/:chatId/messages
func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid request body")
	}
	msg, err := s.Messages.Append(c.UserContext(), service.SendInput{
		ChatID:       c.Params("chatId"),
		SenderWallet: firstNonEmpty(req.SenderWallet, req.SenderPubKey),
		Content:      req.Content,
		AccessPass:   c.Get("X-Access-Pass"),
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "message": msg})
}

type accessResponse struct {
	HasAccess  bool       `json:"hasAccess"`
	Reason     string     `json:"reason,omitempty"`
	Message    string     `json:"message,omitempty"`
	Balance    float64    `json:"balance"`
	Required   float64    `json:"required"`
	AccessPass string     `json:"accessPass,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// GET /chats/:chatId/access?wallet=
// A granted decision on a gated chat comes with an access pass for sending.
func (s *Server) checkAccess(c *fiber.Ctx) error {
	chat, err := s.Chats.Get(c.UserContext(), c.Params("chatId"))
	if err != nil {
		return s.fail(c, err)
	}
	wallet := c.Query("wallet")
	d := s.Evaluator.Evaluate(c.UserContext(), chat, wallet)
	resp := accessResponse{
		HasAccess: d.Granted,
		Reason:    string(d.Reason),
		Message:   d.Message(),
		Balance:   d.Balance,
		Required:  d.Required,
	}
	if _, gated := chat.Gate().(domain.Gated); gated && d.Granted && s.Passes != nil {
		token, exp, err := s.Passes.Issue(chat.ID.Hex(), wallet)
		if err != nil {
			s.log.Errorw("issue access pass failed", "chatId", chat.ID.Hex(), "error", err)
		} else {
			resp.AccessPass = token
			resp.ExpiresAt = &exp
		}
	}
	return c.JSON(resp)
}

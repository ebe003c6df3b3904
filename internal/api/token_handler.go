package api

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jukezispilled/lockd/internal/access"
	"github.com/jukezispilled/lockd/internal/domain"
)

type verifyTokenRequest struct {
	WalletAddress  string   `json:"walletAddress"`
	TokenMint      string   `json:"tokenMint"`
	RequiredAmount *float64 `json:"requiredAmount"`
	ChatID         string   `json:"chatId"`
}

// POST /verify-token
// A standalone balance check. The oracle failing is a 500 that still reads
// as a denial.
func (s *Server) verifyToken(c *fiber.Ctx) error {
	var req verifyTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.WalletAddress = strings.TrimSpace(req.WalletAddress)
	req.TokenMint = strings.TrimSpace(req.TokenMint)
	if req.WalletAddress == "" || req.TokenMint == "" || req.RequiredAmount == nil {
		return jsonError(c, fiber.StatusBadRequest, "Missing required parameters")
	}

	// the balance is always read so a zero threshold still reports it
	gate := domain.Gated{RequiredAmount: *req.RequiredAmount}
	d := s.Evaluator.EvaluateGate(c.UserContext(), gate, req.TokenMint, req.WalletAddress)
	if d.Reason == access.ReasonOracleUnavailable {
		s.log.Errorw("token verification failed", "wallet", req.WalletAddress, "mint", req.TokenMint, "chatId", req.ChatID, "error", d.Err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":     "Token verification failed",
			"hasAccess": false,
			"balance":   0,
		})
	}
	s.log.Infow("token gate check",
		"wallet", req.WalletAddress, "mint", req.TokenMint, "chatId", req.ChatID,
		"balance", d.Balance, "required", *req.RequiredAmount, "hasAccess", d.Granted)

	return c.JSON(fiber.Map{
		"hasAccess":     d.Granted,
		"balance":       d.Balance,
		"required":      *req.RequiredAmount,
		"tokenMint":     req.TokenMint,
		"walletAddress": req.WalletAddress,
	})
}

type tokenImageRequest struct {
	MintAddress json.RawMessage `json:"mintAddress"`
}

// parseMints accepts a single mint or an array of mints.
func parseMints(raw json.RawMessage) ([]string, bool) {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, true
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, true
	}
	return nil, false
}

// POST /token-image
func (s *Server) tokenImages(c *fiber.Ctx) error {
	if len(strings.TrimSpace(string(c.Body()))) == 0 {
		return jsonError(c, fiber.StatusBadRequest, "request body cannot be empty")
	}
	var req tokenImageRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid JSON in request body")
	}
	if len(req.MintAddress) == 0 || string(req.MintAddress) == "null" {
		return jsonError(c, fiber.StatusBadRequest, "mint address(es) is required")
	}
	mints, ok := parseMints(req.MintAddress)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid mint address format, must be a string or an array of strings")
	}
	images, err := s.Images.Resolve(c.UserContext(), mints)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(images)
}

// GET /tokens/:mint
func (s *Server) tokenMetadata(c *fiber.Ctx) error {
	md, err := s.Images.Metadata(c.UserContext(), c.Params("mint"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(md)
}

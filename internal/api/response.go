package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jukezispilled/lockd/internal/apperr"
)

func jsonError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// fail writes err using its public message. Internal detail stays in the log.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := apperr.Status(err)
	if status >= fiber.StatusInternalServerError {
		s.log.Errorw("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return jsonError(c, status, apperr.Public(err))
}

// errorHandler catches errors returned from handlers that did not write a
// response themselves, including Fiber's own routing errors.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return jsonError(c, fe.Code, fe.Message)
	}
	return jsonError(c, apperr.Status(err), apperr.Public(err))
}

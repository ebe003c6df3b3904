package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jukezispilled/lockd/internal/videoroom"
)

func (s *Server) requireRooms(c *fiber.Ctx) error {
	if s.Rooms == nil || !s.Rooms.Configured() {
		return jsonError(c, fiber.StatusServiceUnavailable, "Daily API key not configured")
	}
	return c.Next()
}

// requireChat keeps rooms from being minted for chats that do not exist.
func (s *Server) requireChat(c *fiber.Ctx) error {
	if _, err := s.Chats.Get(c.UserContext(), c.Params("chatId")); err != nil {
		return s.fail(c, err)
	}
	return c.Next()
}

// roomError passes provider statuses through so callers can tell a missing
// room from an outage.
func (s *Server) roomError(c *fiber.Ctx, msg string, err error) error {
	var ae *videoroom.APIError
	if errors.As(err, &ae) {
		s.log.Warnw(msg, "chatId", c.Params("chatId"), "status", ae.Status, "body", ae.Body)
		return c.Status(ae.Status).JSON(fiber.Map{"error": msg, "dailyApiError": ae.Body})
	}
	if errors.Is(err, videoroom.ErrNotConfigured) {
		return jsonError(c, fiber.StatusServiceUnavailable, "Daily API key not configured")
	}
	s.log.Errorw(msg, "chatId", c.Params("chatId"), "error", err)
	return jsonError(c, fiber.StatusInternalServerError, msg)
}

// GET /video-room/:chatId
func (s *Server) getRoom(c *fiber.Ctx) error {
	room, err := s.Rooms.Get(c.UserContext(), c.Params("chatId"))
	if err != nil {
		return s.roomError(c, "Room not found", err)
	}
	return c.JSON(fiber.Map{
		"url":          room.URL,
		"roomName":     room.Name,
		"config":       room.Config,
		"participants": room.Participants,
	})
}

// POST /video-room/:chatId
func (s *Server) ensureRoom(c *fiber.Ctx) error {
	room, existing, err := s.Rooms.Ensure(c.UserContext(), c.Params("chatId"))
	if err != nil {
		return s.roomError(c, "Failed to create room", err)
	}
	return c.JSON(fiber.Map{"url": room.URL, "roomName": room.Name, "isExisting": existing})
}

type updateRoomRequest struct {
	Properties map[string]any `json:"properties"`
}

// PUT /video-room/:chatId
func (s *Server) updateRoom(c *fiber.Ctx) error {
	var req updateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Properties) == 0 {
		return jsonError(c, fiber.StatusBadRequest, "properties are required")
	}
	room, err := s.Rooms.Update(c.UserContext(), c.Params("chatId"), req.Properties)
	if err != nil {
		return s.roomError(c, "Failed to update room", err)
	}
	return c.JSON(fiber.Map{"success": true, "room": room, "message": "Room updated successfully"})
}

// DELETE /video-room/:chatId
func (s *Server) deleteRoom(c *fiber.Ctx) error {
	chatID := c.Params("chatId")
	if err := s.Rooms.Delete(c.UserContext(), chatID); err != nil {
		return s.roomError(c, "Failed to delete room", err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "Room deleted successfully", "roomName": videoroom.RoomName(chatID)})
}

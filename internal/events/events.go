package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeChatCreated = "chat.created"
	TypeMessageSent = "message.sent"
)

type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ChatID     string    `json:"chatId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

func New(typ, chatID string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		ChatID:     chatID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop drops every event. Used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                          { return nil }

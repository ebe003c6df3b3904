package service

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jukezispilled/lockd/internal/apperr"
	"github.com/jukezispilled/lockd/internal/domain"
	"github.com/jukezispilled/lockd/internal/events"
	"github.com/jukezispilled/lockd/internal/metrics"
	"github.com/jukezispilled/lockd/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
)

type MessageStore interface {
	Insert(ctx context.Context, m *domain.Message) error
	List(ctx context.Context, chatID primitive.ObjectID, limit, skip int64) ([]domain.Message, error)
	Stats(ctx context.Context, chatID primitive.ObjectID) (*repository.ChatStats, error)
}

// TxRunner runs fn in a multi-document transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Authorizer interface {
	Authorize(ctx context.Context, chat *domain.Chat, wallet, pass string) error
}

// Broadcaster pushes a persisted message to live subscribers of its chat.
type Broadcaster interface {
	Broadcast(ctx context.Context, chatID string, m *domain.Message)
}

type SendInput struct {
	ChatID       string
	SenderWallet string
	Content      string
	AccessPass   string
}

type MessageService struct {
	chats    ChatStore
	messages MessageStore
	tx       TxRunner
	guard    Authorizer
	events   events.Publisher
	fanout   Broadcaster
	clock    *MonotonicClock
	log      *zap.SugaredLogger
}

type MessageServiceOption func(*MessageService)

// WithTransactions makes Append write message and counters atomically.
func WithTransactions(tx TxRunner) MessageServiceOption {
	return func(s *MessageService) { s.tx = tx }
}

func WithGuard(g Authorizer) MessageServiceOption {
	return func(s *MessageService) { s.guard = g }
}

func WithEvents(p events.Publisher) MessageServiceOption {
	return func(s *MessageService) { s.events = p }
}

func WithBroadcaster(b Broadcaster) MessageServiceOption {
	return func(s *MessageService) { s.fanout = b }
}

func NewMessageService(chats ChatStore, messages MessageStore, log *zap.SugaredLogger, opts ...MessageServiceOption) *MessageService {
	s := &MessageService{
		chats:    chats,
		messages: messages,
		events:   events.Noop{},
		clock:    NewMonotonicClock(),
		log:      log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetBroadcaster attaches the live fan-out after construction; the hub needs
// the service and the service needs the hub.
func (s *MessageService) SetBroadcaster(b Broadcaster) { s.fanout = b }

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperr.Validation("content is required")
	}
	if utf8.RuneCountInString(content) > domain.MaxContentLength {
		return "", apperr.Validation("message too long (max 1000 characters)")
	}
	return content, nil
}

// Append persists a message and bumps the chat's counters.
func (s *MessageService) Append(ctx context.Context, in SendInput) (*domain.Message, error) {
	id, err := ParseChatID(in.ChatID)
	if err != nil {
		return nil, err
	}
	chat, err := s.chats.GetByID(ctx, id)
	if err != nil {
		return nil, chatLookupErr(err)
	}
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}
	sender := strings.TrimSpace(in.SenderWallet)
	if sender == "" {
		return nil, apperr.Validation("sender wallet is required")
	}
	if s.guard != nil {
		if err := s.guard.Authorize(ctx, chat, sender, in.AccessPass); err != nil {
			return nil, err
		}
	}

	msg := &domain.Message{
		ID:           primitive.NewObjectID(),
		ChatID:       id,
		Content:      content,
		SenderWallet: sender,
		Timestamp:    s.clock.Next(),
		Reactions:    []domain.Reaction{},
	}
	if err := s.persist(ctx, msg); err != nil {
		s.log.Errorw("send message failed", "chatId", in.ChatID, "error", err)
		return nil, apperr.Persistence("failed to send message", err)
	}
	metrics.MessagesSent.Inc()

	if err := s.events.Publish(ctx, events.New(events.TypeMessageSent, in.ChatID, msg)); err != nil {
		s.log.Warnw("publish event failed", "type", events.TypeMessageSent, "chatId", in.ChatID, "error", err)
	}
	if s.fanout != nil {
		s.fanout.Broadcast(ctx, in.ChatID, msg)
	}
	return msg, nil
}

func (s *MessageService) persist(ctx context.Context, msg *domain.Message) error {
	write := func(ctx context.Context) error {
		if err := s.messages.Insert(ctx, msg); err != nil {
			return err
		}
		return s.chats.RecordMessage(ctx, msg.ChatID, msg.SenderWallet, msg.Timestamp)
	}
	if s.tx != nil {
		return s.tx.WithinTx(ctx, write)
	}

	if err := s.messages.Insert(ctx, msg); err != nil {
		return err
	}
	if err := s.chats.RecordMessage(ctx, msg.ChatID, msg.SenderWallet, msg.Timestamp); err != nil {
		// the message is stored; recount so the counters catch up
		s.log.Warnw("counter update failed, reconciling", "chatId", msg.ChatID.Hex(), "error", err)
		s.reconcile(ctx, msg.ChatID)
	}
	return nil
}

func (s *MessageService) reconcile(ctx context.Context, chatID primitive.ObjectID) {
	stats, err := s.messages.Stats(ctx, chatID)
	if err != nil {
		s.log.Errorw("reconcile stats failed", "chatId", chatID.Hex(), "error", err)
		return
	}
	if err := s.chats.Reconcile(ctx, chatID, stats.Count, stats.Senders, stats.LastActivity); err != nil {
		s.log.Errorw("reconcile failed", "chatId", chatID.Hex(), "error", err)
	}
}

// ParsePage turns raw limit/skip query values into a page. Junk falls back
// to the defaults.
func ParsePage(limit, skip string) (int64, int64) {
	l, err := strconv.ParseInt(strings.TrimSpace(limit), 10, 64)
	if err != nil || l <= 0 {
		l = DefaultPageSize
	}
	sk, err := strconv.ParseInt(strings.TrimSpace(skip), 10, 64)
	if err != nil || sk < 0 {
		sk = 0
	}
	return l, sk
}

func (s *MessageService) List(ctx context.Context, chatID string, limit, skip int64) ([]domain.Message, error) {
	id, err := ParseChatID(chatID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if skip < 0 {
		skip = 0
	}
	msgs, err := s.messages.List(ctx, id, limit, skip)
	if err != nil {
		s.log.Errorw("list messages failed", "chatId", chatID, "error", err)
		return nil, apperr.Persistence("failed to fetch messages", err)
	}
	return msgs, nil
}

package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/jukezispilled/lockd/internal/apperr"
	"github.com/jukezispilled/lockd/internal/domain"
	"github.com/jukezispilled/lockd/internal/events"
	"github.com/jukezispilled/lockd/internal/metrics"
	"github.com/jukezispilled/lockd/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type ChatStore interface {
	FindOrCreate(ctx context.Context, c *domain.Chat) (*domain.Chat, bool, error)
	List(ctx context.Context) ([]domain.Chat, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Chat, error)
	RecordMessage(ctx context.Context, id primitive.ObjectID, sender string, at time.Time) error
	Reconcile(ctx context.Context, id primitive.ObjectID, count int64, members []string, lastActivity time.Time) error
}

type CreateChatInput struct {
	TokenName      string
	TokenSymbol    string
	TokenMint      string
	CreatorWallet  string
	RequiredAmount *float64
}

type ChatService struct {
	chats  ChatStore
	events events.Publisher
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewChatService(chats ChatStore, pub events.Publisher, log *zap.SugaredLogger) *ChatService {
	if pub == nil {
		pub = events.Noop{}
	}
	return &ChatService{chats: chats, events: pub, log: log, now: time.Now}
}

func (in *CreateChatInput) normalize() error {
	in.TokenName = strings.TrimSpace(in.TokenName)
	in.TokenSymbol = strings.TrimSpace(in.TokenSymbol)
	in.TokenMint = strings.TrimSpace(in.TokenMint)
	in.CreatorWallet = strings.TrimSpace(in.CreatorWallet)
	if in.TokenName == "" || in.TokenSymbol == "" || in.TokenMint == "" || in.CreatorWallet == "" {
		return apperr.Validation("token name, symbol, mint, and creator wallet are required")
	}
	if a := in.RequiredAmount; a != nil {
		if math.IsNaN(*a) || math.IsInf(*a, 0) || *a < 0 {
			return apperr.Validation("requiredAmount must be a non-negative number")
		}
		if *a == 0 {
			in.RequiredAmount = nil
		}
	}
	return nil
}

// CreateOrGet returns the chat for the input's mint, creating it on first
// use. The boolean reports whether this call created it.
func (s *ChatService) CreateOrGet(ctx context.Context, in CreateChatInput) (*domain.Chat, bool, error) {
	if err := in.normalize(); err != nil {
		return nil, false, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	chat := &domain.Chat{
		Name:           domain.ChatName(in.TokenName),
		TokenName:      in.TokenName,
		TokenMint:      in.TokenMint,
		TokenSymbol:    in.TokenSymbol,
		CreatorWallet:  in.CreatorWallet,
		RequiredAmount: in.RequiredAmount,
		Members:        []string{in.CreatorWallet},
		CreatedAt:      now,
		LastActivity:   now,
		IsActive:       true,
	}
	got, created, err := s.chats.FindOrCreate(ctx, chat)
	if err != nil {
		s.log.Errorw("create chat failed", "mint", in.TokenMint, "error", err)
		return nil, false, apperr.Persistence("failed to create group chat", err)
	}
	if created {
		metrics.ChatsCreated.Inc()
		s.log.Infow("chat created", "chatId", got.ID.Hex(), "mint", got.TokenMint)
		s.publish(ctx, events.New(events.TypeChatCreated, got.ID.Hex(), got))
	}
	return got, created, nil
}

func (s *ChatService) List(ctx context.Context) ([]domain.Chat, error) {
	chats, err := s.chats.List(ctx)
	if err != nil {
		s.log.Errorw("list chats failed", "error", err)
		return nil, apperr.Persistence("failed to fetch group chats", err)
	}
	return chats, nil
}

func (s *ChatService) Get(ctx context.Context, chatID string) (*domain.Chat, error) {
	id, err := ParseChatID(chatID)
	if err != nil {
		return nil, err
	}
	chat, err := s.chats.GetByID(ctx, id)
	if err != nil {
		return nil, chatLookupErr(err)
	}
	return chat, nil
}

func (s *ChatService) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warnw("publish event failed", "type", ev.Type, "chatId", ev.ChatID, "error", err)
	}
}

// ParseChatID rejects anything that is not a hex ObjectID.
func ParseChatID(chatID string) (primitive.ObjectID, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return primitive.NilObjectID, apperr.Validation("chat ID is required")
	}
	id, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return primitive.NilObjectID, apperr.Validation("invalid chat ID")
	}
	return id, nil
}

func chatLookupErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("chat not found")
	}
	return apperr.Persistence("failed to fetch chat", err)
}

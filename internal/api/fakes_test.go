package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/jukezispilled/lockd/internal/apperr"
	"github.com/jukezispilled/lockd/internal/domain"
	"github.com/jukezispilled/lockd/internal/media"
	"github.com/jukezispilled/lockd/internal/service"
	"github.com/jukezispilled/lockd/internal/videoroom"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeChats struct {
	mu    sync.Mutex
	chats map[string]*domain.Chat
	err   error
}

func newFakeChats(chats ...*domain.Chat) *fakeChats {
	f := &fakeChats{chats: map[string]*domain.Chat{}}
	for _, c := range chats {
		f.chats[c.ID.Hex()] = c
	}
	return f
}

func (f *fakeChats) CreateOrGet(_ context.Context, in service.CreateChatInput) (*domain.Chat, bool, error) {
	if in.TokenName == "" || in.TokenMint == "" || in.CreatorWallet == "" {
		return nil, false, apperr.Validation("token name, symbol, mint and creator wallet are required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chats {
		if c.TokenMint == in.TokenMint {
			return c, false, nil
		}
	}
	c := &domain.Chat{
		ID:             primitive.NewObjectID(),
		Name:           domain.ChatName(in.TokenName),
		TokenName:      in.TokenName,
		TokenMint:      in.TokenMint,
		CreatorWallet:  in.CreatorWallet,
		RequiredAmount: in.RequiredAmount,
		Members:        []string{in.CreatorWallet},
	}
	f.chats[c.ID.Hex()] = c
	return c, true, nil
}

func (f *fakeChats) List(context.Context) ([]domain.Chat, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Chat
	for _, c := range f.chats {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeChats) Get(_ context.Context, chatID string) (*domain.Chat, error) {
	if _, err := service.ParseChatID(chatID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok {
		return nil, apperr.NotFound("chat not found")
	}
	return c, nil
}

type fakeMessages struct {
	mu          sync.Mutex
	sent        []service.SendInput
	limit, skip int64
	err         error
}

func (f *fakeMessages) Append(_ context.Context, in service.SendInput) (*domain.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	id, _ := primitive.ObjectIDFromHex(in.ChatID)
	return &domain.Message{ID: primitive.NewObjectID(), ChatID: id, Content: in.Content, SenderWallet: in.SenderWallet, Reactions: []domain.Reaction{}}, nil
}

func (f *fakeMessages) List(_ context.Context, _ string, limit, skip int64) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit, f.skip = limit, skip
	return nil, nil
}

type balances struct {
	m   map[string]float64
	err error
}

func (b *balances) TokenBalance(_ context.Context, owner, _ string) (float64, error) {
	if b.err != nil {
		return 0, b.err
	}
	return b.m[owner], nil
}

type fakeImages struct {
	got []string
}

func (f *fakeImages) Resolve(_ context.Context, mints []string) (map[string]*string, error) {
	f.got = mints
	url := "https://img/" + mints[0]
	out := map[string]*string{mints[0]: &url}
	for _, m := range mints[1:] {
		out[m] = nil
	}
	return out, nil
}

func (f *fakeImages) Metadata(_ context.Context, mint string) (*domain.TokenMetadata, error) {
	if mint == "missing" {
		return nil, apperr.NotFound("token not found")
	}
	return &domain.TokenMetadata{Mint: mint, Name: "Abc", Symbol: "ABC"}, nil
}

type fakeRooms struct {
	configured bool
	err        error
	deleted    []string
}

func (f *fakeRooms) Configured() bool { return f.configured }

func (f *fakeRooms) Get(_ context.Context, chatID string) (*videoroom.Room, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &videoroom.Room{Name: videoroom.RoomName(chatID), URL: "https://x.daily.co/" + videoroom.RoomName(chatID), Config: json.RawMessage(`{"max_participants":50}`)}, nil
}

func (f *fakeRooms) Ensure(ctx context.Context, chatID string) (*videoroom.Room, bool, error) {
	r, err := f.Get(ctx, chatID)
	return r, false, err
}

func (f *fakeRooms) Update(_ context.Context, _ string, props map[string]any) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, _ := json.Marshal(map[string]any{"config": props})
	return b, nil
}

func (f *fakeRooms) Delete(_ context.Context, chatID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, chatID)
	return nil
}

type fakeUploader struct {
	form *media.Form
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, form *media.Form) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.form = form
	return map[string]any{"metadataUri": "ipfs://abc"}, nil
}

var errDown = errors.New("down")

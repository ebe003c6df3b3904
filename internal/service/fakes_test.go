package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jukezispilled/lockd/internal/domain"
	"github.com/jukezispilled/lockd/internal/events"
	"github.com/jukezispilled/lockd/internal/repository"
	"github.com/jukezispilled/lockd/internal/solana"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memChats struct {
	mu         sync.Mutex
	byID       map[primitive.ObjectID]*domain.Chat
	err        error
	recordErr  error
	reconciled int
}

func newMemChats() *memChats {
	return &memChats{byID: map[primitive.ObjectID]*domain.Chat{}}
}

func (m *memChats) FindOrCreate(_ context.Context, c *domain.Chat) (*domain.Chat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	for _, existing := range m.byID {
		if existing.TokenMint == c.TokenMint {
			cp := *existing
			return &cp, false, nil
		}
	}
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	cp := *c
	m.byID[c.ID] = &cp
	return c, true, nil
}

func (m *memChats) List(context.Context) ([]domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []domain.Chat{}
	for _, c := range m.byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memChats) GetByID(_ context.Context, id primitive.ObjectID) (*domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	cp.Members = append([]string(nil), c.Members...)
	return &cp, nil
}

func (m *memChats) RecordMessage(_ context.Context, id primitive.ObjectID, sender string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	c, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.MessageCount++
	if at.After(c.LastActivity) {
		c.LastActivity = at
	}
	c.Members = addToSet(c.Members, sender)
	return nil
}

func (m *memChats) Reconcile(_ context.Context, id primitive.ObjectID, count int64, members []string, last time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciled++
	c := m.byID[id]
	c.MessageCount = count
	c.LastActivity = last
	for _, w := range members {
		c.Members = addToSet(c.Members, w)
	}
	return nil
}

func addToSet(set []string, v string) []string {
	for _, s := range set {
		if s == v {
			return set
		}
	}
	return append(set, v)
}

type memMessages struct {
	mu   sync.Mutex
	msgs []domain.Message
	err  error
}

func (m *memMessages) Insert(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *memMessages) List(_ context.Context, chatID primitive.ObjectID, limit, skip int64) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var all []domain.Message
	for _, msg := range m.msgs {
		if msg.ChatID == chatID {
			all = append(all, msg)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	out := []domain.Message{}
	for i := skip; i < int64(len(all)) && int64(len(out)) < limit; i++ {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memMessages) Stats(_ context.Context, chatID primitive.ObjectID) (*repository.ChatStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &repository.ChatStats{}
	for _, msg := range m.msgs {
		if msg.ChatID != chatID {
			continue
		}
		st.Count++
		st.Senders = addToSet(st.Senders, msg.SenderWallet)
		if msg.Timestamp.After(st.LastActivity) {
			st.LastActivity = msg.Timestamp
		}
	}
	return st, nil
}

// fakeTx runs fn directly and fails the whole unit when fn fails.
type fakeTx struct{ calls int }

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type captureBroadcaster struct {
	mu   sync.Mutex
	sent []string
}

func (b *captureBroadcaster) Broadcast(_ context.Context, chatID string, m *domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, chatID+":"+m.Content)
}

type denyAll struct{ err error }

func (d denyAll) Authorize(context.Context, *domain.Chat, string, string) error { return d.err }

type memTier struct {
	mu     sync.Mutex
	data   map[string]*string
	getErr error
	setErr error
	sets   int
}

func newMemTier() *memTier { return &memTier{data: map[string]*string{}} }

func (t *memTier) GetMany(_ context.Context, mints []string) (map[string]*string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.getErr != nil {
		return nil, t.getErr
	}
	out := map[string]*string{}
	for _, m := range mints {
		if v, ok := t.data[m]; ok {
			out[m] = v
		}
	}
	return out, nil
}

func (t *memTier) SetMany(_ context.Context, images map[string]*string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sets++
	if t.setErr != nil {
		return t.setErr
	}
	for k, v := range images {
		t.data[k] = v
	}
	return nil
}

type fakeImageOracle struct {
	images   map[string]*string
	meta     map[string]*domain.TokenMetadata
	err      error
	requests [][]string
}

func (f *fakeImageOracle) AssetImages(_ context.Context, mints []string) (map[string]*string, error) {
	f.requests = append(f.requests, append([]string(nil), mints...))
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]*string{}
	for _, m := range mints {
		if v, ok := f.images[m]; ok {
			out[m] = v
		}
	}
	return out, nil
}

func (f *fakeImageOracle) TokenMetadata(_ context.Context, mint string) (*domain.TokenMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	md, ok := f.meta[mint]
	if !ok {
		return nil, solana.ErrAssetNotFound
	}
	return md, nil
}

func strp(s string) *string { return &s }

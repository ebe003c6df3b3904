package access

import (
	"context"
	"errors"
	"sync"

	"github.com/jukezispilled/lockd/internal/domain"
)

type State int

const (
	StateUnverified State = iota
	StateVerifying
	StateGranted
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateUnverified:
		return "UNVERIFIED"
	case StateVerifying:
		return "VERIFYING"
	case StateGranted:
		return "GRANTED"
	case StateDenied:
		return "DENIED"
	}
	return "UNKNOWN"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var ErrVerifyInProgress = errors.New("verification already in progress")

// Session tracks one viewer's access to one chat:
//
//	UNVERIFIED -> VERIFYING -> GRANTED | DENIED
//	DENIED -> VERIFYING (retry)
//
// GRANTED sticks until the wallet changes.
type Session struct {
	eval   *Evaluator
	chat   *domain.Chat
	mu     sync.Mutex
	state  State
	wallet string
	last   Decision
}

func NewSession(eval *Evaluator, chat *domain.Chat, wallet string) *Session {
	return &Session{eval: eval, chat: chat, wallet: wallet}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Wallet() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet
}

func (s *Session) Last() Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Verify runs an evaluation unless the session is already granted.
func (s *Session) Verify(ctx context.Context) (Decision, error) {
	s.mu.Lock()
	switch s.state {
	case StateGranted:
		d := s.last
		s.mu.Unlock()
		return d, nil
	case StateVerifying:
		s.mu.Unlock()
		return Decision{}, ErrVerifyInProgress
	}
	s.state = StateVerifying
	wallet := s.wallet
	s.mu.Unlock()

	d := s.eval.Evaluate(ctx, s.chat, wallet)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wallet != wallet {
		// wallet changed mid-flight; the result belongs to the old one
		s.state = StateUnverified
		return d, nil
	}
	s.last = d
	if d.Granted {
		s.state = StateGranted
	} else {
		s.state = StateDenied
	}
	return d, nil
}

// Reconnect switches the session to another wallet and drops any verdict.
func (s *Session) Reconnect(wallet string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallet = wallet
	s.state = StateUnverified
	s.last = Decision{}
}

package access

import (
	"context"

	"github.com/jukezispilled/lockd/internal/apperr"
	"github.com/jukezispilled/lockd/internal/domain"
)

// Guard decides whether a post into a chat is allowed. A valid pass skips
// the balance lookup.
type Guard struct {
	eval   *Evaluator
	passes *PassIssuer
}

func NewGuard(eval *Evaluator, passes *PassIssuer) *Guard {
	return &Guard{eval: eval, passes: passes}
}

func (g *Guard) Authorize(ctx context.Context, chat *domain.Chat, wallet, pass string) error {
	if _, ok := chat.Gate().(domain.Ungated); ok {
		return nil
	}
	if g.passes != nil && pass != "" && g.passes.Verify(pass, chat.ID.Hex(), wallet) == nil {
		return nil
	}
	d := g.eval.Evaluate(ctx, chat, wallet)
	if d.Granted {
		return nil
	}
	if d.Reason == ReasonOracleUnavailable {
		return apperr.Oracle(d.Message(), d.Err)
	}
	return apperr.AccessDenied(d.Message())
}

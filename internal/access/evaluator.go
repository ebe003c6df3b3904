package access

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jukezispilled/lockd/internal/domain"
	"github.com/jukezispilled/lockd/internal/metrics"
	"go.uber.org/zap"
)

type Reason string

const (
	ReasonNone                Reason = ""
	ReasonWalletNotConnected  Reason = "WALLET_NOT_CONNECTED"
	ReasonInsufficientBalance Reason = "INSUFFICIENT_BALANCE"
	ReasonOracleUnavailable   Reason = "ORACLE_UNAVAILABLE"
)

// BalanceOracle answers "how many units of mint does owner hold", summed
// over all of the owner's token accounts.
type BalanceOracle interface {
	TokenBalance(ctx context.Context, owner, mint string) (float64, error)
}

type Decision struct {
	Granted  bool    `json:"hasAccess"`
	Reason   Reason  `json:"reason,omitempty"`
	Balance  float64 `json:"balance"`
	Required float64 `json:"required"`
	// Err is the oracle failure behind ReasonOracleUnavailable.
	Err error `json:"-"`
}

// Message is the user facing explanation of a denial.
func (d Decision) Message() string {
	switch d.Reason {
	case ReasonWalletNotConnected:
		return "connect a wallet to access this chat"
	case ReasonInsufficientBalance:
		return fmt.Sprintf("need %s tokens, you have %s", formatAmount(d.Required), formatAmount(d.Balance))
	case ReasonOracleUnavailable:
		return "could not verify token balance, try again"
	}
	return ""
}

type Evaluator struct {
	oracle  BalanceOracle
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewEvaluator(oracle BalanceOracle, timeout time.Duration, log *zap.SugaredLogger) *Evaluator {
	return &Evaluator{oracle: oracle, timeout: timeout, log: log}
}

// Evaluate decides whether wallet may read and post in chat. It never
// returns an error: an oracle failure is a denial.
func (e *Evaluator) Evaluate(ctx context.Context, chat *domain.Chat, wallet string) Decision {
	return e.EvaluateGate(ctx, chat.Gate(), chat.TokenMint, wallet)
}

func (e *Evaluator) EvaluateGate(ctx context.Context, gate domain.Gate, mint, wallet string) Decision {
	d := e.evaluate(ctx, gate, mint, wallet)
	result := "denied"
	if d.Granted {
		result = "granted"
	}
	metrics.AccessDecisions.WithLabelValues(result, string(d.Reason)).Inc()
	return d
}

func (e *Evaluator) evaluate(ctx context.Context, gate domain.Gate, mint, wallet string) Decision {
	if wallet == "" {
		return Decision{Reason: ReasonWalletNotConnected, Required: domain.Required(gate)}
	}

	var required float64
	switch g := gate.(type) {
	case domain.Ungated:
		return Decision{Granted: true}
	case domain.Gated:
		required = g.RequiredAmount
	default:
		return Decision{Reason: ReasonOracleUnavailable, Err: fmt.Errorf("unknown gate %T", gate)}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	balance, err := e.oracle.TokenBalance(ctx, wallet, mint)
	if err != nil {
		e.log.Warnw("balance lookup failed, denying", "wallet", wallet, "mint", mint, "error", err)
		return Decision{Reason: ReasonOracleUnavailable, Required: required, Err: err}
	}
	if balance >= required {
		return Decision{Granted: true, Balance: balance, Required: required}
	}
	return Decision{Reason: ReasonInsufficientBalance, Balance: balance, Required: required}
}

func formatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

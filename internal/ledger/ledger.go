// Package ledger aplica débitos e créditos no saldo virtual dos usuários.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/market"
	"github.com/radieske/opinio/internal/realtime"
	"github.com/radieske/opinio/internal/shared/metrics"
)

// Store aplica a alteração de saldo sob lock do usuário e grava a entrada de ledger
// na mesma transação. Debit devolve *market.InsufficientBalanceError sem alterar nada
// quando o saldo ficaria negativo.
type Store interface {
	Debit(ctx context.Context, userID string, amount decimal.Decimal, op, ref string) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal, op, ref string) (decimal.Decimal, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

type Ledger struct {
	Log            *zap.Logger
	Store          Store
	Notifier       *realtime.Notifier // opcional
	RechargeAmount decimal.Decimal
}

// Debit retira amount do saldo e devolve o novo saldo
func (l *Ledger) Debit(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	if err := validate(userID, amount); err != nil {
		return decimal.Zero, err
	}
	bal, err := l.Store.Debit(ctx, userID, amount, market.OpDebit, ref)
	if err != nil {
		return decimal.Zero, err
	}
	metrics.LedgerOps.WithLabelValues(market.OpDebit).Inc()
	l.Notifier.UserBalanceUpdated(userID, bal.InexactFloat64())
	return bal, nil
}

// Credit soma amount ao saldo e devolve o novo saldo
func (l *Ledger) Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	return l.credit(ctx, userID, amount, market.OpCredit, ref)
}

// Recharge credita o valor fixo de recarga (recompensa)
func (l *Ledger) Recharge(ctx context.Context, userID string) (decimal.Decimal, error) {
	bal, err := l.credit(ctx, userID, l.RechargeAmount, market.OpRecharge, "recharge")
	if err != nil {
		return decimal.Zero, err
	}
	l.Notifier.BalanceUpdated()

	l.Log.Info("balance recharged",
		zap.String("user_id", userID),
		zap.String("amount", l.RechargeAmount.String()),
		zap.String("new_balance", bal.String()),
	)
	return bal, nil
}

func (l *Ledger) credit(ctx context.Context, userID string, amount decimal.Decimal, op, ref string) (decimal.Decimal, error) {
	if err := validate(userID, amount); err != nil {
		return decimal.Zero, err
	}
	bal, err := l.Store.Credit(ctx, userID, amount, op, ref)
	if err != nil {
		return decimal.Zero, err
	}
	metrics.LedgerOps.WithLabelValues(op).Inc()
	l.Notifier.UserBalanceUpdated(userID, bal.InexactFloat64())
	return bal, nil
}

func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if userID == "" {
		return decimal.Zero, market.ErrAuth
	}
	return l.Store.Balance(ctx, userID)
}

func validate(userID string, amount decimal.Decimal) error {
	if userID == "" {
		return market.ErrAuth
	}
	if !amount.IsPositive() {
		return market.Validationf("amount must be positive")
	}
	return nil
}

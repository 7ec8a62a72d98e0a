// Package settlement credita as posições vencedoras de eventos encerrados.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/market"
	"github.com/radieske/opinio/internal/realtime"
	"github.com/radieske/opinio/internal/shared/metrics"
)

// Store define a persistência usada pela liquidação.
// SettlePosition trava a posição e depois o usuário; se a posição já estiver marcada
// devolve credited=false sem erro. Payout zero apenas marca a posição.
type Store interface {
	GetEvent(ctx context.Context, id string) (market.Event, error)
	UnsettledPositions(ctx context.Context, eventID string) ([]market.Position, error)
	SettlePosition(ctx context.Context, positionID string, payout decimal.Decimal, at time.Time) (balance decimal.Decimal, credited bool, err error)
	MarkEventSettled(ctx context.Context, eventID string, at time.Time) error
	UnsettledEvents(ctx context.Context, limit int) ([]market.Event, error)
}

// Report resume uma execução de Settle
type Report struct {
	EventID  string
	Outcome  market.Side
	Settled  int             // posições marcadas nesta execução
	Credited int             // posições vencedoras creditadas
	Paid     decimal.Decimal // total creditado
	Failed   int
	Complete bool // nenhuma posição pendente ao final
}

type Engine struct {
	Log           *zap.Logger
	Store         Store
	Notifier      *realtime.Notifier // opcional
	PayoutPerUnit decimal.Decimal
	Now           func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

// Settle liquida todas as posições pendentes de um evento encerrado.
// Falhas individuais não interrompem o restante; são devolvidas em *market.SettlementPartialFailure.
// Rodar de novo só processa o que ficou pendente.
func (e *Engine) Settle(ctx context.Context, eventID string) (Report, error) {
	ev, err := e.Store.GetEvent(ctx, eventID)
	if err != nil {
		return Report{}, err
	}
	if ev.Active() || ev.Outcome == nil {
		return Report{}, fmt.Errorf("%w: event %s is not ended", market.ErrConflict, eventID)
	}
	rep := Report{EventID: ev.ID, Outcome: *ev.Outcome, Paid: decimal.Zero}
	if ev.SettledAt != nil {
		rep.Complete = true
		return rep, nil
	}

	positions, err := e.Store.UnsettledPositions(ctx, ev.ID)
	if err != nil {
		return Report{}, fmt.Errorf("load positions: %w", err)
	}

	var failure *market.SettlementPartialFailure
	now := e.now()
	for _, p := range positions {
		payout := decimal.Zero
		if p.Vote == *ev.Outcome {
			payout = e.PayoutPerUnit.Mul(decimal.NewFromInt(p.Quantity))
		}

		bal, credited, err := e.Store.SettlePosition(ctx, p.ID, payout, now)
		if err != nil {
			metrics.SettlementFailures.Inc()
			e.Log.Warn("settle position failed",
				zap.String("event_id", ev.ID),
				zap.String("position_id", p.ID),
				zap.String("user_id", p.UserID),
				zap.Error(err),
			)
			if failure == nil {
				failure = &market.SettlementPartialFailure{EventID: ev.ID}
			}
			failure.UserIDs = append(failure.UserIDs, p.UserID)
			failure.Errs = append(failure.Errs, err)
			rep.Failed++
			continue
		}
		rep.Settled++
		if credited {
			rep.Credited++
			rep.Paid = rep.Paid.Add(payout)
			metrics.SettlementCredits.Inc()
			e.Notifier.UserBalanceUpdated(p.UserID, bal.InexactFloat64())
		}
	}

	if rep.Credited > 0 {
		e.Notifier.BalanceUpdated()
	}
	if failure != nil {
		return rep, failure
	}

	if err := e.Store.MarkEventSettled(ctx, ev.ID, now); err != nil {
		return rep, fmt.Errorf("mark event settled: %w", err)
	}
	rep.Complete = true

	e.Log.Info("event settled",
		zap.String("event_id", ev.ID),
		zap.String("outcome", string(*ev.Outcome)),
		zap.Int("positions", rep.Settled),
		zap.Int("credited", rep.Credited),
		zap.String("paid", rep.Paid.String()),
	)
	return rep, nil
}

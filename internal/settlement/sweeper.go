package settlement

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/market"
)

// Sweeper reprocessa eventos encerrados que ainda têm posições pendentes
// (falha parcial, fila indisponível, worker fora do ar)
type Sweeper struct {
	Log    *zap.Logger
	Store  Store
	Engine *Engine
	Batch  int
}

// RunOnce liquida um lote de eventos pendentes e devolve quantos ficaram completos
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}
	pending, err := s.Store.UnsettledEvents(ctx, batch)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, ev := range pending {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		rep, err := s.Engine.Settle(ctx, ev.ID)
		var partial *market.SettlementPartialFailure
		switch {
		case errors.As(err, &partial):
			s.Log.Warn("settlement still partial",
				zap.String("event_id", ev.ID),
				zap.Strings("user_ids", partial.UserIDs),
			)
		case err != nil:
			s.Log.Warn("settlement retry failed", zap.String("event_id", ev.ID), zap.Error(err))
		case rep.Complete:
			done++
		}
	}
	if len(pending) > 0 {
		s.Log.Info("settlement sweep", zap.Int("pending", len(pending)), zap.Int("completed", done))
	}
	return done, nil
}

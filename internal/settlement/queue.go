package settlement

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/market"
	"github.com/radieske/opinio/internal/shared/kafka"
	"github.com/radieske/opinio/pkg/contracts/events"
)

// Inline liquida no próprio processo logo após o encerramento
type Inline struct {
	Log    *zap.Logger
	Engine *Engine
}

// Enqueue roda a liquidação desacoplada do cancelamento da requisição.
// Falha parcial não é erro aqui: o sweep reprocessa.
func (q *Inline) Enqueue(ctx context.Context, ev market.Event, trigger string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	_, err := q.Engine.Settle(ctx, ev.ID)
	var partial *market.SettlementPartialFailure
	if errors.As(err, &partial) {
		q.Log.Warn("inline settlement partial, sweep will retry",
			zap.String("event_id", ev.ID),
			zap.String("trigger", trigger),
			zap.Strings("user_ids", partial.UserIDs),
		)
		return nil
	}
	return err
}

// KafkaQueue publica event_ended para o settlement-worker (chave = eventId)
type KafkaQueue struct {
	Writer *kafka.Writer
}

func (q *KafkaQueue) Enqueue(ctx context.Context, ev market.Event, trigger string) error {
	msg := events.EventEnded{
		EventID: ev.ID,
		Trigger: trigger,
		EndedAt: time.Now().UTC(),
	}
	if ev.Outcome != nil {
		msg.Outcome = string(*ev.Outcome)
	}
	if ev.EndedAt != nil {
		msg.EndedAt = *ev.EndedAt
	}
	return kafka.WriteJSON(ctx, q.Writer, ev.ID, msg)
}

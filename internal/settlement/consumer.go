package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/market"
	"github.com/radieske/opinio/pkg/contracts/events"
)

// MessageReader é satisfeito por *kafka.Reader
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
}

// MessageWriter é satisfeito por *kafka.Writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Consumer consome event_ended e liquida o evento. Após Retries tentativas a mensagem
// vai para a DLQ; o sweep de retry continua cobrindo o evento.
type Consumer struct {
	Log     *zap.Logger
	Reader  MessageReader
	DLQ     MessageWriter // opcional
	Engine  *Engine
	Retries int
	Backoff time.Duration
}

// Run inicia o loop principal de consumo; retorna quando o contexto é cancelado
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.Log.Warn("kafka read failed", zap.Error(err))
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if err := c.Handle(ctx, m); err != nil {
			c.Log.Error("settle event_ended", zap.String("key", string(m.Key)), zap.Error(err))
		}
	}
}

// Handle processa uma mensagem event_ended com retry e DLQ
func (c *Consumer) Handle(ctx context.Context, m kafkago.Message) error {
	var ev events.EventEnded
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.EventID == "" {
		c.Log.Warn("invalid event_ended message", zap.Error(err))
		return c.deadLetter(ctx, m)
	}

	retries := c.Retries
	if retries <= 0 {
		retries = 3
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}

	var err error
	for i := 0; i < retries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff * time.Duration(i)):
			}
		}
		if _, err = c.Engine.Settle(ctx, ev.EventID); err == nil {
			return nil
		}
		// evento inexistente não melhora com retry
		if errors.Is(err, market.ErrNotFound) {
			break
		}
		c.Log.Warn("settle attempt failed",
			zap.String("event_id", ev.EventID),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
	}

	if dlqErr := c.deadLetter(ctx, m); dlqErr != nil {
		return errors.Join(err, dlqErr)
	}
	return err
}

func (c *Consumer) deadLetter(ctx context.Context, m kafkago.Message) error {
	if c.DLQ == nil {
		return nil
	}
	return c.DLQ.WriteMessages(ctx, kafkago.Message{
		Key:   m.Key,
		Value: m.Value,
		Time:  time.Now(),
	})
}

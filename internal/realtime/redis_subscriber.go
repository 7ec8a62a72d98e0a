package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Subscriber escuta o canal Redis Pub/Sub e repassa as mensagens ao Hub.
// Run bloqueia até o contexto ser cancelado e reconecta com backoff se a inscrição cair.
type Subscriber struct {
	Redis   *redis.Client
	Channel string
	Hub     *Hub
	Log     *zap.Logger
	Backoff time.Duration
}

func (s *Subscriber) Run(ctx context.Context) {
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = 3 * time.Second
	}
	for {
		if err := s.listen(ctx); err != nil {
			s.Log.Warn("realtime subscription lost", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.Log.Info("realtime subscriber stopped")
			return
		case <-time.After(backoff): // aguarda antes de reinscrever
		}
	}
}

func (s *Subscriber) listen(ctx context.Context) error {
	channel := s.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	sub := s.Redis.Subscribe(ctx, channel)
	defer sub.Close()

	// confirma a inscrição antes de consumir
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	s.Log.Info("realtime subscribed", zap.String("channel", channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return redis.ErrClosed
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				s.Log.Warn("realtime subscriber unmarshal error", zap.Error(err))
				continue
			}
			s.Hub.Broadcast(msg)
		}
	}
}

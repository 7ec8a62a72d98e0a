package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Publisher entrega uma mensagem ao transporte (Redis Pub/Sub, Hub local, ...)
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// PublisherFunc adapta uma função a Publisher
type PublisherFunc func(ctx context.Context, msg Message) error

func (f PublisherFunc) Publish(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Noop descarta as mensagens
var Noop Publisher = PublisherFunc(func(context.Context, Message) error { return nil })

// Notifier publica as mudanças de preço/voto/saldo em modo fire-and-forget.
// As mensagens passam por uma fila única drenada por um worker, então a ordem de
// publicação do processo é preservada; com a fila cheia a mensagem é descartada.
// Um Notifier nil é válido e não faz nada.
type Notifier struct {
	pub     Publisher
	log     *zap.Logger
	timeout time.Duration
	queue   chan Message
	pending sync.WaitGroup
}

// DefaultQueueSize é a capacidade da fila de publicação
const DefaultQueueSize = 1024

func NewNotifier(pub Publisher, log *zap.Logger) *Notifier {
	return NewNotifierSize(pub, log, DefaultQueueSize)
}

// NewNotifierSize cria o Notifier com a fila do tamanho informado
func NewNotifierSize(pub Publisher, log *zap.Logger, size int) *Notifier {
	if pub == nil {
		pub = Noop
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	n := &Notifier{pub: pub, log: log, timeout: 500 * time.Millisecond, queue: make(chan Message, size)}
	go n.drain()
	return n
}

func (n *Notifier) VoteUpdated(u VoteUpdate) {
	n.send(TypeVoteUpdated, u.EventID, u)
}

func (n *Notifier) EventEnded(eventID string) {
	n.send(TypeEventEnded, eventID, eventID)
}

func (n *Notifier) UserBalanceUpdated(userID string, newBalance float64) {
	n.send(TypeUserBalanceUpdated, "", BalanceUpdate{UserID: userID, NewBalance: newBalance})
}

func (n *Notifier) BalanceUpdated() {
	n.send(TypeBalanceUpdated, "", nil)
}

// Wait aguarda a fila esvaziar (shutdown e testes)
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.pending.Wait()
}

func (n *Notifier) send(typ, eventID string, payload any) {
	if n == nil {
		return
	}
	msg, err := newMessage(typ, eventID, payload)
	if err != nil {
		n.log.Warn("realtime encode failed", zap.String("type", typ), zap.Error(err))
		return
	}

	n.pending.Add(1)
	select {
	case n.queue <- msg:
	default:
		n.pending.Done()
		n.log.Warn("realtime queue full, message dropped", zap.String("type", typ), zap.String("event_id", eventID))
	}
}

func (n *Notifier) drain() {
	for msg := range n.queue {
		n.publish(msg)
		n.pending.Done()
	}
}

func (n *Notifier) publish(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.pub.Publish(ctx, msg); err != nil {
		n.log.Warn("realtime publish failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

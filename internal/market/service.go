package market

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/realtime"
	"github.com/radieske/opinio/internal/shared/metrics"
)

// Repo define as operações de persistência usadas pelo serviço de mercado.
// CastVote e EndEvent precisam ser atômicos: lock do evento e depois do usuário.
type Repo interface {
	CreateEvent(ctx context.Context, ev Event) error
	GetEvent(ctx context.Context, id string) (Event, error)
	ListEvents(ctx context.Context, status Status) ([]Event, error)
	DeleteEvent(ctx context.Context, id string) error
	PriceHistory(ctx context.Context, eventID string) ([]PriceHistoryRecord, error)
	VotedEvents(ctx context.Context, userID string) ([]VotedEvent, error)
	CastVote(ctx context.Context, eventID, userID string, apply func(VoteState) (VoteResult, error)) (VoteResult, error)
	EndEvent(ctx context.Context, eventID string, outcome Side, now time.Time) (Event, error)
	ExpiredEvents(ctx context.Context, now time.Time, limit int) ([]Event, error)
}

// SettlementQueue dispara a liquidação de um evento encerrado (inline ou via Kafka)
type SettlementQueue interface {
	Enqueue(ctx context.Context, ev Event, trigger string) error
}

// EventCache guarda snapshots de EventDetail (ex.: Redis)
type EventCache interface {
	Get(ctx context.Context, id string, dst any) (bool, error)
	Set(ctx context.Context, id string, v any, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// Gatilhos de encerramento
const (
	TriggerResolve = "resolve"
	TriggerExpiry  = "expiry"
)

// EventDetail é o evento com a série de preços
type EventDetail struct {
	Event   Event
	History []PriceHistoryRecord
}

type CreateEventRequest struct {
	Question    string
	Description string
	Category    string
	EndingAt    time.Time
	CreatedBy   string
}

// Service orquestra votos, criação/remoção e encerramento de eventos
type Service struct {
	Log         *zap.Logger
	Repo        Repo
	Rules       Rules
	Notifier    *realtime.Notifier // opcional
	Settlements SettlementQueue    // opcional; sem fila o sweep de retry liquida
	Cache       EventCache         // opcional
	CacheTTL    time.Duration
	Now         func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// CreateEvent cria um evento ativo com os preços iniciais da curva
func (s *Service) CreateEvent(ctx context.Context, req CreateEventRequest) (Event, error) {
	q := strings.TrimSpace(req.Question)
	switch {
	case req.CreatedBy == "":
		return Event{}, ErrAuth
	case q == "":
		return Event{}, Validationf("question required")
	case len(q) > 500:
		return Event{}, Validationf("question too long")
	case !req.EndingAt.After(s.now()):
		return Event{}, Validationf("endingAt must be in the future")
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = "none"
	}

	quote := s.Rules.Pricing.Prices(0, 0)
	ev := Event{
		ID:          uuid.NewString(),
		Question:    q,
		Description: strings.TrimSpace(req.Description),
		Category:    category,
		CreatedBy:   req.CreatedBy,
		EndingAt:    req.EndingAt.UTC(),
		Status:      StatusActive,
		Yes:         quote.Yes,
		No:          quote.No,
		CreatedAt:   s.now(),
	}
	if err := s.Repo.CreateEvent(ctx, ev); err != nil {
		return Event{}, err
	}
	s.Log.Info("event created", zap.String("event_id", ev.ID), zap.String("created_by", ev.CreatedBy))
	return ev, nil
}

// GetEvent devolve o evento e o histórico de preços, preferencialmente do cache
func (s *Service) GetEvent(ctx context.Context, id string) (EventDetail, error) {
	var detail EventDetail
	if s.Cache != nil {
		if ok, err := s.Cache.Get(ctx, id, &detail); err == nil && ok {
			return detail, nil
		}
	}

	ev, err := s.Repo.GetEvent(ctx, id)
	if err != nil {
		return EventDetail{}, err
	}
	hist, err := s.Repo.PriceHistory(ctx, id)
	if err != nil {
		return EventDetail{}, err
	}
	detail = EventDetail{Event: ev, History: hist}

	if s.Cache != nil {
		s.fill(ctx, detail)
	}
	return detail, nil
}

// fill grava o snapshot e confere o evento de novo: um voto ou encerramento que
// comitou entre a leitura e o Set invalidou antes do Set, então o snapshot sai do cache
func (s *Service) fill(ctx context.Context, detail EventDetail) {
	id := detail.Event.ID
	if err := s.Cache.Set(ctx, id, detail, s.CacheTTL); err != nil {
		s.Log.Warn("event cache set failed", zap.String("event_id", id), zap.Error(err))
		return
	}
	cur, err := s.Repo.GetEvent(ctx, id)
	if err == nil && sameSnapshot(detail.Event, cur) {
		return
	}
	s.invalidate(ctx, id)
}

func sameSnapshot(a, b Event) bool {
	return a.YesVotes == b.YesVotes &&
		a.NoVotes == b.NoVotes &&
		a.Status == b.Status &&
		(a.SettledAt == nil) == (b.SettledAt == nil)
}

func (s *Service) ListEvents(ctx context.Context, status Status) ([]Event, error) {
	if status != "" && status != StatusActive && status != StatusEnded {
		return nil, Validationf("unknown status %q", status)
	}
	return s.Repo.ListEvents(ctx, status)
}

func (s *Service) VotedEvents(ctx context.Context, userID string) ([]VotedEvent, error) {
	if userID == "" {
		return nil, ErrAuth
	}
	return s.Repo.VotedEvents(ctx, userID)
}

// DeleteEvent remove um evento sem posições; apenas criador ou admin
func (s *Service) DeleteEvent(ctx context.Context, id string, actor User) error {
	ev, err := s.Repo.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	if !canManage(ev, actor) {
		return ErrForbidden
	}
	if err := s.Repo.DeleteEvent(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.Log.Info("event deleted", zap.String("event_id", id), zap.String("user_id", actor.ID))
	return nil
}

// CastVote registra ou atualiza o voto do usuário, debita o custo e move os preços
func (s *Service) CastVote(ctx context.Context, req VoteRequest) (VoteResult, error) {
	if err := req.Validate(); err != nil {
		metrics.VoteRejections.WithLabelValues("validation").Inc()
		return VoteResult{}, err
	}

	res, err := s.Repo.CastVote(ctx, req.EventID, req.UserID, func(st VoteState) (VoteResult, error) {
		return s.Rules.Apply(st, req, s.now())
	})
	if err != nil {
		metrics.VoteRejections.WithLabelValues(rejectReason(err)).Inc()
		return VoteResult{}, err
	}

	kind := "update"
	if res.Created() {
		kind = "new"
	}
	metrics.VotesCast.WithLabelValues(string(req.Side), kind).Inc()
	s.invalidate(ctx, req.EventID)

	s.Notifier.VoteUpdated(realtime.VoteUpdate{
		EventID:  res.Event.ID,
		YesVotes: res.Event.YesVotes,
		NoVotes:  res.Event.NoVotes,
		YesPrice: res.Event.Yes.InexactFloat64(),
		NoPrice:  res.Event.No.InexactFloat64(),
	})
	s.Notifier.UserBalanceUpdated(req.UserID, res.Balance.InexactFloat64())

	s.Log.Info("vote cast",
		zap.String("event_id", req.EventID),
		zap.String("user_id", req.UserID),
		zap.String("side", string(req.Side)),
		zap.Int64("quantity", req.Quantity),
		zap.String("kind", kind),
		zap.String("cost", res.Cost.String()),
	)
	return res, nil
}

// EndEvent resolve manualmente um evento ativo; apenas admin.
// O criador pode ter posição no evento, então não resolve.
func (s *Service) EndEvent(ctx context.Context, id string, outcome Side, actor User) (Event, error) {
	if !outcome.Valid() {
		return Event{}, Validationf("outcome must be 'yes' or 'no'")
	}
	if actor.ID == "" || actor.Role != RoleAdmin {
		return Event{}, ErrForbidden
	}
	if _, err := s.Repo.GetEvent(ctx, id); err != nil {
		return Event{}, err
	}
	return s.end(ctx, id, outcome, TriggerResolve)
}

// ExpireDue encerra os eventos cujo endingAt já passou. Devolve quantos foram encerrados.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := s.Repo.ExpiredEvents(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range due {
		if _, err := s.end(ctx, ev.ID, ExpiryOutcome(ev), TriggerExpiry); err != nil {
			if errors.Is(err, ErrAlreadyEnded) {
				s.Log.Debug("event already ended by another actor", zap.String("event_id", ev.ID))
				continue
			}
			s.Log.Warn("expire event failed", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

func (s *Service) end(ctx context.Context, id string, outcome Side, trigger string) (Event, error) {
	ev, err := s.Repo.EndEvent(ctx, id, outcome, s.now())
	if err != nil {
		return Event{}, err
	}
	metrics.EventsEnded.WithLabelValues(trigger).Inc()
	s.invalidate(ctx, id)
	s.Notifier.EventEnded(id)

	s.Log.Info("event ended",
		zap.String("event_id", id),
		zap.String("outcome", string(outcome)),
		zap.String("trigger", trigger),
	)

	// falha ao enfileirar não desfaz o encerramento: o sweep de retry liquida depois
	if s.Settlements != nil {
		if err := s.Settlements.Enqueue(ctx, ev, trigger); err != nil {
			s.Log.Error("enqueue settlement failed", zap.String("event_id", id), zap.Error(err))
		}
	}
	return ev, nil
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Delete(ctx, id); err != nil {
		s.Log.Warn("event cache invalidate failed", zap.String("event_id", id), zap.Error(err))
	}
}

func canManage(ev Event, actor User) bool {
	return actor.ID != "" && (ev.CreatedBy == actor.ID || actor.Role == RoleAdmin)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrEventClosed):
		return "closed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "error"
}

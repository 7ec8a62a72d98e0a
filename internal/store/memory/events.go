package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/opinio/internal/market"
)

func (s *Store) CreateEvent(ctx context.Context, ev market.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[ev.CreatedBy]; !ok {
		return notFound("user", ev.CreatedBy)
	}
	if _, ok := s.events[ev.ID]; ok {
		return fmt.Errorf("%w: event %s exists", market.ErrConflict, ev.ID)
	}
	s.events[ev.ID] = ev
	return nil
}

func (s *Store) GetEvent(_ context.Context, id string) (market.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return market.Event{}, notFound("event", id)
	}
	return s.withCreator(ev), nil
}

// withCreator exige s.mu travado
func (s *Store) withCreator(ev market.Event) market.Event {
	if u, ok := s.users[ev.CreatedBy]; ok {
		ev.CreatorName = u.Username
	}
	return ev
}

// ListEvents devolve os eventos mais recentes primeiro; status vazio lista todos
func (s *Store) ListEvents(_ context.Context, status market.Status) ([]market.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]market.Event, 0, len(s.events))
	for _, ev := range s.events {
		if status != "" && ev.Status != status {
			continue
		}
		out = append(out, s.withCreator(ev))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteEvent recusa eventos com posições para não apagar histórico de preços e saldos
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	unlock := s.locks.Lock("event:" + id)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return notFound("event", id)
	}
	for _, p := range s.positions {
		if p.EventID == id {
			return fmt.Errorf("%w: event has positions", market.ErrConflict)
		}
	}
	delete(s.events, id)
	delete(s.history, id)
	return nil
}

func (s *Store) PriceHistory(_ context.Context, eventID string) ([]market.PriceHistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.events[eventID]; !ok {
		return nil, notFound("event", eventID)
	}
	return append([]market.PriceHistoryRecord(nil), s.history[eventID]...), nil
}

// VotedEvents devolve os eventos em que o usuário tem posição, última atualização primeiro
func (s *Store) VotedEvents(_ context.Context, userID string) ([]market.VotedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.VotedEvent
	for _, p := range s.positions {
		if p.UserID != userID {
			continue
		}
		ev, ok := s.events[p.EventID]
		if !ok {
			continue
		}
		out = append(out, market.VotedEvent{Event: s.withCreator(ev), Position: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position.UpdatedAt.After(out[j].Position.UpdatedAt) })
	return out, nil
}

// CastVote trava o evento e depois o usuário, aplica o voto e grava tudo ou nada
func (s *Store) CastVote(ctx context.Context, eventID, userID string, apply func(market.VoteState) (market.VoteResult, error)) (market.VoteResult, error) {
	unlockEvent := s.locks.Lock("event:" + eventID)
	defer unlockEvent()
	unlockUser := s.locks.Lock("user:" + userID)
	defer unlockUser()

	if err := ctx.Err(); err != nil {
		return market.VoteResult{}, err
	}

	s.mu.RLock()
	ev, okEv := s.events[eventID]
	u, okUser := s.users[userID]
	var prev *market.Position
	if id, ok := s.posByKey[posKey(userID, eventID)]; ok {
		p := s.positions[id]
		prev = &p
	}
	s.mu.RUnlock()
	if !okEv {
		return market.VoteResult{}, notFound("event", eventID)
	}
	if !okUser {
		return market.VoteResult{}, notFound("user", userID)
	}

	res, err := apply(market.VoteState{Event: ev, Position: prev, Balance: u.Balance})
	if err != nil {
		return market.VoteResult{}, err
	}
	// requisição cancelada antes do commit não deixa estado parcial
	if err := ctx.Err(); err != nil {
		return market.VoteResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventID] = res.Event
	s.positions[res.Position.ID] = res.Position
	s.posByKey[posKey(userID, eventID)] = res.Position.ID
	s.history[eventID] = append(s.history[eventID], res.History)

	// relê o usuário: só o saldo é desta operação (senha/login podem ter mudado)
	cur := s.users[userID]
	ref := "event:" + eventID
	if res.Refund.IsPositive() {
		s.appendLedger(userID, market.OpRefund, res.Refund, cur.Balance.Add(res.Refund), ref)
	}
	s.appendLedger(userID, market.OpDebit, res.Cost, res.Balance, ref)
	cur.Balance = res.Balance
	s.users[userID] = cur

	res.Event = s.withCreator(res.Event)
	return res, nil
}

// EndEvent encerra o evento sob o lock do evento; a segunda chamada falha com ErrAlreadyEnded
func (s *Store) EndEvent(ctx context.Context, eventID string, outcome market.Side, now time.Time) (market.Event, error) {
	unlock := s.locks.Lock("event:" + eventID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return market.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return market.Event{}, notFound("event", eventID)
	}
	if !ev.Active() {
		return market.Event{}, market.ErrAlreadyEnded
	}
	ev.Status = market.StatusEnded
	ev.Outcome = &outcome
	ev.EndedAt = &now
	s.events[eventID] = ev
	return s.withCreator(ev), nil
}

// ExpiredEvents lista eventos ativos com endingAt <= now, mais antigos primeiro
func (s *Store) ExpiredEvents(_ context.Context, now time.Time, limit int) ([]market.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.Event
	for _, ev := range s.events {
		if ev.Active() && !ev.EndingAt.After(now) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndingAt.Before(out[j].EndingAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------- settlement ----------

func (s *Store) UnsettledPositions(_ context.Context, eventID string) ([]market.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.Position
	for _, p := range s.positions {
		if p.EventID == eventID && !p.Settled() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SettlePosition credita o payout e marca a posição na mesma seção crítica.
// Posição já marcada não é creditada de novo.
func (s *Store) SettlePosition(ctx context.Context, positionID string, payout decimal.Decimal, at time.Time) (decimal.Decimal, bool, error) {
	unlockPos := s.locks.Lock("position:" + positionID)
	defer unlockPos()

	s.mu.RLock()
	p, ok := s.positions[positionID]
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, false, notFound("position", positionID)
	}

	unlockUser := s.locks.Lock("user:" + p.UserID)
	defer unlockUser()
	if err := ctx.Err(); err != nil {
		return decimal.Zero, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p = s.positions[positionID]
	u, ok := s.users[p.UserID]
	if !ok {
		return decimal.Zero, false, notFound("user", p.UserID)
	}
	if p.Settled() {
		return u.Balance, false, nil
	}

	credited := payout.IsPositive()
	if credited {
		u.Balance = u.Balance.Add(payout)
		s.users[u.ID] = u
		s.appendLedger(u.ID, market.OpPayout, payout, u.Balance, "event:"+p.EventID)
	}
	p.SettledAt = &at
	p.Payout = &payout
	s.positions[positionID] = p
	return u.Balance, credited, nil
}

func (s *Store) MarkEventSettled(ctx context.Context, eventID string, at time.Time) error {
	unlock := s.locks.Lock("event:" + eventID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return notFound("event", eventID)
	}
	if ev.SettledAt == nil {
		ev.SettledAt = &at
		s.events[eventID] = ev
	}
	return nil
}

// UnsettledEvents lista eventos encerrados ainda sem settledAt
func (s *Store) UnsettledEvents(_ context.Context, limit int) ([]market.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.Event
	for _, ev := range s.events {
		if ev.Status == market.StatusEnded && ev.SettledAt == nil {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Package memory implementa os repositórios em memória (STORE=memory e testes).
// A ordem de locks é a mesma do Postgres: evento antes de usuário, posição antes de usuário.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/opinio/internal/market"
)

type Store struct {
	mu         sync.RWMutex
	users      map[string]market.User
	byUsername map[string]string
	byEmail    map[string]string
	events     map[string]market.Event
	positions  map[string]market.Position
	posByKey   map[string]string // userID|eventID -> positionID
	history    map[string][]market.PriceHistoryRecord
	ledger     []market.LedgerEntry

	locks *keyedMutex
	Now   func() time.Time
}

func New() *Store {
	return &Store{
		users:      make(map[string]market.User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		events:     make(map[string]market.Event),
		positions:  make(map[string]market.Position),
		posByKey:   make(map[string]string),
		history:    make(map[string][]market.PriceHistoryRecord),
		locks:      newKeyedMutex(),
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func posKey(userID, eventID string) string { return userID + "|" + eventID }

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", market.ErrNotFound, kind, id)
}

// ---------- usuários ----------

func (s *Store) CreateUser(ctx context.Context, u market.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, ok := s.byUsername[u.Username]; ok {
		return fmt.Errorf("%w: username taken", market.ErrConflict)
	}
	if _, ok := s.byEmail[email]; ok {
		return fmt.Errorf("%w: email taken", market.ErrConflict)
	}
	if u.Role == "" {
		u.Role = market.RoleUser
	}
	s.users[u.ID] = u
	s.byUsername[u.Username] = u.ID
	s.byEmail[email] = u.ID
	return nil
}

func (s *Store) UserByID(_ context.Context, id string) (market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return market.User{}, notFound("user", id)
	}
	return u, nil
}

func (s *Store) UserByUsername(_ context.Context, username string) (market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return market.User{}, notFound("user", username)
	}
	return s.users[id], nil
}

func (s *Store) TouchLogin(_ context.Context, id string, at time.Time) error {
	return s.updateUser(id, func(u *market.User) { u.LastLogin = &at })
}

func (s *Store) SetPassword(_ context.Context, id, hash string) error {
	return s.updateUser(id, func(u *market.User) { u.PasswordHash = hash })
}

func (s *Store) updateUser(id string, fn func(*market.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("user", id)
	}
	fn(&u)
	s.users[id] = u
	return nil
}

// ---------- ledger ----------

func (s *Store) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	u, err := s.UserByID(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.Balance, nil
}

func (s *Store) Debit(ctx context.Context, userID string, amount decimal.Decimal, op, ref string) (decimal.Decimal, error) {
	return s.applyBalance(ctx, userID, amount.Neg(), op, ref)
}

func (s *Store) Credit(ctx context.Context, userID string, amount decimal.Decimal, op, ref string) (decimal.Decimal, error) {
	return s.applyBalance(ctx, userID, amount, op, ref)
}

func (s *Store) applyBalance(ctx context.Context, userID string, delta decimal.Decimal, op, ref string) (decimal.Decimal, error) {
	unlock := s.locks.Lock("user:" + userID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, notFound("user", userID)
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, &market.InsufficientBalanceError{Required: delta.Neg(), Available: u.Balance}
	}
	u.Balance = next
	s.users[userID] = u
	s.appendLedger(userID, op, delta.Abs(), next, ref)
	return next, nil
}

// appendLedger exige s.mu travado
func (s *Store) appendLedger(userID, op string, amount, after decimal.Decimal, ref string) {
	s.ledger = append(s.ledger, market.LedgerEntry{
		UserID:       userID,
		Operation:    op,
		Amount:       amount,
		BalanceAfter: after,
		Reference:    ref,
		CreatedAt:    s.now(),
	})
}

// Entries devolve as entradas de ledger do usuário em ordem de gravação
func (s *Store) Entries(userID string) []market.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

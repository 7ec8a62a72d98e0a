// Package postgres implementa os repositórios sobre database/sql + lib/pq.
// Operações de saldo usam SELECT ... FOR UPDATE na ordem evento -> usuário e posição -> usuário.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/radieske/opinio/internal/market"
)

// Store implementa market.Repo, ledger.Store, settlement.Store e auth.UserStore
type Store struct{ db *sql.DB }

func New(db *sql.DB) *Store { return &Store{db: db} }

type scanner interface {
	Scan(dest ...any) error
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", market.ErrNotFound, kind, id)
}

// isUniqueViolation identifica violação de UNIQUE (23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// withTx executa fn numa transação; qualquer erro (ou ctx cancelado) faz rollback
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------- usuários ----------

const userCols = `id, username, email, password_hash, role, balance, last_login, created_at`

func scanUser(row scanner) (market.User, error) {
	var (
		u         market.User
		role      string
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.Balance, &lastLogin, &u.CreatedAt); err != nil {
		return market.User{}, err
	}
	u.Role = market.Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u market.User) error {
	role := u.Role
	if role == "" {
		role = market.RoleUser
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users(id, username, email, password_hash, role, balance, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Username, strings.ToLower(u.Email), u.PasswordHash, string(role), u.Balance, u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: username or email taken", market.ErrConflict)
	}
	return err
}

func (s *Store) UserByID(ctx context.Context, id string) (market.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return market.User{}, notFound("user", id)
	}
	return u, err
}

func (s *Store) UserByUsername(ctx context.Context, username string) (market.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE username=$1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return market.User{}, notFound("user", username)
	}
	return u, err
}

func (s *Store) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, "user", id, `UPDATE users SET last_login=$2 WHERE id=$1`, id, at)
}

func (s *Store) SetPassword(ctx context.Context, id, hash string) error {
	return s.execOne(ctx, "user", id, `UPDATE users SET password_hash=$2, version=version+1 WHERE id=$1`, id, hash)
}

func (s *Store) execOne(ctx context.Context, kind, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(kind, id)
	}
	return nil
}

// ---------- ledger ----------

func (s *Store) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id=$1`, userID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, notFound("user", userID)
	}
	return bal, err
}

func (s *Store) Debit(ctx context.Context, userID string, amount decimal.Decimal, op, ref string) (decimal.Decimal, error) {
	return s.applyBalance(ctx, userID, amount.Neg(), op, ref)
}

func (s *Store) Credit(ctx context.Context, userID string, amount decimal.Decimal, op, ref string) (decimal.Decimal, error) {
	return s.applyBalance(ctx, userID, amount, op, ref)
}

func (s *Store) applyBalance(ctx context.Context, userID string, delta decimal.Decimal, op, ref string) (decimal.Decimal, error) {
	var next decimal.Decimal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		bal, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		next = bal.Add(delta)
		if next.IsNegative() {
			return &market.InsufficientBalanceError{Required: delta.Neg(), Available: bal}
		}
		return setBalance(ctx, tx, userID, next, op, delta.Abs(), ref)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// lockUser trava a linha do usuário e devolve o saldo atual
func lockUser(ctx context.Context, tx *sql.Tx, userID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, notFound("user", userID)
	}
	return bal, err
}

// setBalance grava o saldo final e registra a movimentação no ledger
func setBalance(ctx context.Context, tx *sql.Tx, userID string, balance decimal.Decimal, op string, amount decimal.Decimal, ref string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE users SET balance=$1, version=version+1 WHERE id=$2`, balance, userID); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return insertLedger(ctx, tx, userID, op, amount, balance, ref)
}

func insertLedger(ctx context.Context, tx *sql.Tx, userID, op string, amount, after decimal.Decimal, ref string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries(user_id, operation_type, amount, balance_after, reference)
		VALUES($1,$2,$3,$4,$5)`, userID, op, amount, after, ref); err != nil {
		return fmt.Errorf("insert ledger: %w", err)
	}
	return nil
}

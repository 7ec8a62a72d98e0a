package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/opinio/internal/market"
)

func (s *Store) UnsettledPositions(ctx context.Context, eventID string) ([]market.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionCols+` FROM positions p
		WHERE p.event_id=$1 AND p.settled_at IS NULL ORDER BY p.created_at`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SettlePosition trava a posição e depois o usuário; credita o payout e marca a posição
// na mesma transação. Posição já marcada devolve credited=false.
func (s *Store) SettlePosition(ctx context.Context, positionID string, payout decimal.Decimal, at time.Time) (decimal.Decimal, bool, error) {
	var (
		balance  decimal.Decimal
		credited bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			userID, eventID string
			settledAt       sql.NullTime
		)
		err := tx.QueryRowContext(ctx, `SELECT user_id, event_id, settled_at FROM positions WHERE id=$1 FOR UPDATE`, positionID).
			Scan(&userID, &eventID, &settledAt)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("position", positionID)
		}
		if err != nil {
			return err
		}

		if balance, err = lockUser(ctx, tx, userID); err != nil {
			return err
		}
		if settledAt.Valid {
			return nil // idempotente
		}

		if payout.IsPositive() {
			balance = balance.Add(payout)
			if err := setBalance(ctx, tx, userID, balance, market.OpPayout, payout, "event:"+eventID); err != nil {
				return err
			}
			credited = true
		}
		if _, err := tx.ExecContext(ctx, `UPDATE positions SET settled_at=$2, payout=$3 WHERE id=$1`, positionID, at, payout); err != nil {
			return fmt.Errorf("mark position: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	return balance, credited, nil
}

func (s *Store) MarkEventSettled(ctx context.Context, eventID string, at time.Time) error {
	return s.execOne(ctx, "event", eventID,
		`UPDATE events SET settled_at=COALESCE(settled_at, $2) WHERE id=$1`, eventID, at)
}

// UnsettledEvents lista eventos encerrados ainda sem settled_at
func (s *Store) UnsettledEvents(ctx context.Context, limit int) ([]market.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventCols+eventFrom+`
		WHERE e.status='ended' AND e.settled_at IS NULL
		ORDER BY e.ended_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

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

const eventCols = `e.id, e.question, e.description, e.category, e.created_by, COALESCE(u.username, ''),
	e.ending_at, e.status, e.yes_votes, e.no_votes, e.yes_price, e.no_price,
	e.outcome, e.ended_at, e.settled_at, e.created_at`

const eventFrom = ` FROM events e LEFT JOIN users u ON u.id = e.created_by`

// eventRow concentra os destinos de Scan de uma linha de evento
type eventRow struct {
	ev                 market.Event
	status             string
	outcome            sql.NullString
	endedAt, settledAt sql.NullTime
}

func (r *eventRow) dest() []any {
	return []any{&r.ev.ID, &r.ev.Question, &r.ev.Description, &r.ev.Category, &r.ev.CreatedBy, &r.ev.CreatorName,
		&r.ev.EndingAt, &r.status, &r.ev.YesVotes, &r.ev.NoVotes, &r.ev.Yes, &r.ev.No,
		&r.outcome, &r.endedAt, &r.settledAt, &r.ev.CreatedAt}
}

func (r *eventRow) event() market.Event {
	ev := r.ev
	ev.Status = market.Status(r.status)
	if r.outcome.Valid {
		side := market.Side(r.outcome.String)
		ev.Outcome = &side
	}
	if r.endedAt.Valid {
		t := r.endedAt.Time
		ev.EndedAt = &t
	}
	if r.settledAt.Valid {
		t := r.settledAt.Time
		ev.SettledAt = &t
	}
	return ev
}

func scanEvent(row scanner) (market.Event, error) {
	var r eventRow
	if err := row.Scan(r.dest()...); err != nil {
		return market.Event{}, err
	}
	return r.event(), nil
}

func scanEvents(rows *sql.Rows) ([]market.Event, error) {
	defer rows.Close()
	var out []market.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) CreateEvent(ctx context.Context, ev market.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events(id, question, description, category, created_by, ending_at, status,
			yes_votes, no_votes, yes_price, no_price, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		ev.ID, ev.Question, ev.Description, ev.Category, ev.CreatedBy, ev.EndingAt, string(ev.Status),
		ev.YesVotes, ev.NoVotes, ev.Yes, ev.No, ev.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: event %s exists", market.ErrConflict, ev.ID)
	}
	return err
}

func (s *Store) GetEvent(ctx context.Context, id string) (market.Event, error) {
	ev, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventCols+eventFrom+` WHERE e.id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return market.Event{}, notFound("event", id)
	}
	return ev, err
}

// ListEvents devolve os eventos mais recentes primeiro; status vazio lista todos
func (s *Store) ListEvents(ctx context.Context, status market.Status) ([]market.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventCols+eventFrom+`
		WHERE ($1 = '' OR e.status = $1) ORDER BY e.created_at DESC`, string(status))
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// DeleteEvent recusa eventos com posições para não apagar histórico de preços e saldos
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockEvent(ctx, tx, id); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions WHERE event_id=$1`, id).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: event has positions", market.ErrConflict)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM price_history WHERE event_id=$1`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id=$1`, id)
		return err
	})
}

func (s *Store) PriceHistory(ctx context.Context, eventID string) ([]market.PriceHistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, ts, yes_price, no_price FROM price_history
		WHERE event_id=$1 ORDER BY ts, id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []market.PriceHistoryRecord{}
	for rows.Next() {
		var h market.PriceHistoryRecord
		if err := rows.Scan(&h.EventID, &h.Timestamp, &h.YesPrice, &h.NoPrice); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const positionCols = `p.id, p.user_id, p.event_id, p.vote, p.quantity, p.cost, p.settled_at, p.payout, p.created_at, p.updated_at`

type positionRow struct {
	p         market.Position
	vote      string
	settledAt sql.NullTime
	payout    decimal.NullDecimal
}

func (r *positionRow) dest() []any {
	return []any{&r.p.ID, &r.p.UserID, &r.p.EventID, &r.vote, &r.p.Quantity, &r.p.Cost,
		&r.settledAt, &r.payout, &r.p.CreatedAt, &r.p.UpdatedAt}
}

func (r *positionRow) position() market.Position {
	p := r.p
	p.Vote = market.Side(r.vote)
	if r.settledAt.Valid {
		t := r.settledAt.Time
		p.SettledAt = &t
	}
	if r.payout.Valid {
		d := r.payout.Decimal
		p.Payout = &d
	}
	return p
}

func scanPosition(row scanner) (market.Position, error) {
	var r positionRow
	if err := row.Scan(r.dest()...); err != nil {
		return market.Position{}, err
	}
	return r.position(), nil
}

// VotedEvents devolve os eventos em que o usuário tem posição, última atualização primeiro
func (s *Store) VotedEvents(ctx context.Context, userID string) ([]market.VotedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventCols+`, `+positionCols+`
		FROM positions p
		JOIN events e ON e.id = p.event_id
		LEFT JOIN users u ON u.id = e.created_by
		WHERE p.user_id=$1
		ORDER BY p.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.VotedEvent
	for rows.Next() {
		var (
			ev  eventRow
			pos positionRow
		)
		if err := rows.Scan(append(ev.dest(), pos.dest()...)...); err != nil {
			return nil, err
		}
		out = append(out, market.VotedEvent{Event: ev.event(), Position: pos.position()})
	}
	return out, rows.Err()
}

// lockEvent trava a linha do evento (primeiro lock de qualquer transação de voto/encerramento)
func lockEvent(ctx context.Context, tx *sql.Tx, id string) (market.Event, error) {
	ev, err := scanEvent(tx.QueryRowContext(ctx, `SELECT `+eventCols+eventFrom+` WHERE e.id=$1 FOR UPDATE OF e`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return market.Event{}, notFound("event", id)
	}
	return ev, err
}

// CastVote trava evento e usuário, aplica o voto e persiste tudo na mesma transação
func (s *Store) CastVote(ctx context.Context, eventID, userID string, apply func(market.VoteState) (market.VoteResult, error)) (market.VoteResult, error) {
	var res market.VoteResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		bal, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		var prev *market.Position
		p, err := scanPosition(tx.QueryRowContext(ctx, `SELECT `+positionCols+` FROM positions p
			WHERE p.user_id=$1 AND p.event_id=$2`, userID, eventID))
		switch {
		case err == nil:
			prev = &p
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("load position: %w", err)
		}

		res, err = apply(market.VoteState{Event: ev, Position: prev, Balance: bal})
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE events SET yes_votes=$2, no_votes=$3, yes_price=$4, no_price=$5 WHERE id=$1`,
			eventID, res.Event.YesVotes, res.Event.NoVotes, res.Event.Yes, res.Event.No); err != nil {
			return fmt.Errorf("update event: %w", err)
		}

		pos := res.Position
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions(id, user_id, event_id, vote, quantity, cost, created_at, updated_at)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (user_id, event_id) DO UPDATE
			SET vote=EXCLUDED.vote, quantity=EXCLUDED.quantity, cost=EXCLUDED.cost, updated_at=EXCLUDED.updated_at`,
			pos.ID, pos.UserID, pos.EventID, string(pos.Vote), pos.Quantity, pos.Cost, pos.CreatedAt, pos.UpdatedAt); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}

		h := res.History
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO price_history(event_id, ts, yes_price, no_price) VALUES($1,$2,$3,$4)`,
			h.EventID, h.Timestamp, h.YesPrice, h.NoPrice); err != nil {
			return fmt.Errorf("insert price history: %w", err)
		}

		ref := "event:" + eventID
		if res.Refund.IsPositive() {
			if err := insertLedger(ctx, tx, userID, market.OpRefund, res.Refund, bal.Add(res.Refund), ref); err != nil {
				return err
			}
		}
		return setBalance(ctx, tx, userID, res.Balance, market.OpDebit, res.Cost, ref)
	})
	if err != nil {
		return market.VoteResult{}, err
	}
	return res, nil
}

// EndEvent encerra o evento sob lock; a segunda chamada falha com ErrAlreadyEnded
func (s *Store) EndEvent(ctx context.Context, eventID string, outcome market.Side, now time.Time) (market.Event, error) {
	var ev market.Event
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if ev, err = lockEvent(ctx, tx, eventID); err != nil {
			return err
		}
		if !ev.Active() {
			return market.ErrAlreadyEnded
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE events SET status=$2, outcome=$3, ended_at=$4 WHERE id=$1`,
			eventID, string(market.StatusEnded), string(outcome), now); err != nil {
			return err
		}
		ev.Status = market.StatusEnded
		ev.Outcome = &outcome
		ev.EndedAt = &now
		return nil
	})
	if err != nil {
		return market.Event{}, err
	}
	return ev, nil
}

// ExpiredEvents lista eventos ativos com ending_at <= now, mais antigos primeiro
func (s *Store) ExpiredEvents(ctx context.Context, now time.Time, limit int) ([]market.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventCols+eventFrom+`
		WHERE e.status='active' AND e.ending_at <= $1
		ORDER BY e.ending_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

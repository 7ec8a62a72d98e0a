package settlement_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/market"
	"github.com/radieske/opinio/internal/pricing"
	"github.com/radieske/opinio/internal/settlement"
	"github.com/radieske/opinio/internal/store/memory"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, users ...string) (*memory.Store, market.Event) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.CreateUser(ctx, market.User{ID: "creator", Username: "creator", Email: "creator@x.io"}))
	for _, u := range users {
		require.NoError(t, st.CreateUser(ctx, market.User{ID: u, Username: u, Email: u + "@x.io", Balance: decimal.NewFromInt(100)}))
	}
	q := pricing.Default().Prices(0, 0)
	ev := market.Event{
		ID: "ev1", Question: "q", Category: "none", CreatedBy: "creator",
		EndingAt: t0.Add(time.Hour), Status: market.StatusActive, Yes: q.Yes, No: q.No, CreatedAt: t0,
	}
	require.NoError(t, st.CreateEvent(ctx, ev))
	return st, ev
}

func vote(t *testing.T, st *memory.Store, userID string, side market.Side, qty int64) {
	t.Helper()
	rules := market.Rules{Pricing: pricing.Default(), UpdateMode: market.UpdateReplace}
	req := market.VoteRequest{UserID: userID, EventID: "ev1", Side: side, Quantity: qty}
	_, err := st.CastVote(context.Background(), "ev1", userID, func(s market.VoteState) (market.VoteResult, error) {
		return rules.Apply(s, req, t0)
	})
	require.NoError(t, err)
}

func end(t *testing.T, st *memory.Store, outcome market.Side) {
	t.Helper()
	_, err := st.EndEvent(context.Background(), "ev1", outcome, t0.Add(time.Hour))
	require.NoError(t, err)
}

func newEngine(st settlement.Store) *settlement.Engine {
	return &settlement.Engine{
		Log:           zap.NewNop(),
		Store:         st,
		PayoutPerUnit: decimal.NewFromInt(10),
		Now:           func() time.Time { return t0.Add(2 * time.Hour) },
	}
}

func balance(t *testing.T, st *memory.Store, id string) decimal.Decimal {
	t.Helper()
	b, err := st.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestSettle_PaysWinnersOnly(t *testing.T) {
	st, _ := seed(t, "winner", "loser")
	vote(t, st, "winner", market.SideYes, 2)
	vote(t, st, "loser", market.SideNo, 1)
	end(t, st, market.SideYes)
	winnerBefore, loserBefore := balance(t, st, "winner"), balance(t, st, "loser")

	rep, err := newEngine(st).Settle(context.Background(), "ev1")
	require.NoError(t, err)
	assert.True(t, rep.Complete)
	assert.Equal(t, 2, rep.Settled)
	assert.Equal(t, 1, rep.Credited)
	assert.Equal(t, "20", rep.Paid.String())

	assert.Equal(t, "20", balance(t, st, "winner").Sub(winnerBefore).String())
	assert.True(t, balance(t, st, "loser").Equal(loserBefore))

	entries := st.Entries("winner")
	last := entries[len(entries)-1]
	assert.Equal(t, market.OpPayout, last.Operation)
	assert.Equal(t, "20", last.Amount.String())
	assert.Equal(t, "event:ev1", last.Reference)

	ev, err := st.GetEvent(context.Background(), "ev1")
	require.NoError(t, err)
	require.NotNil(t, ev.SettledAt)

	voted, err := st.VotedEvents(context.Background(), "loser")
	require.NoError(t, err)
	require.Len(t, voted, 1)
	require.NotNil(t, voted[0].Position.Payout)
	assert.True(t, voted[0].Position.Payout.IsZero())
	assert.True(t, voted[0].Position.Settled())
}

func TestSettle_Idempotent(t *testing.T) {
	st, _ := seed(t, "winner")
	vote(t, st, "winner", market.SideNo, 3)
	end(t, st, market.SideNo)
	before := balance(t, st, "winner")
	eng := newEngine(st)

	_, err := eng.Settle(context.Background(), "ev1")
	require.NoError(t, err)
	rep, err := eng.Settle(context.Background(), "ev1")
	require.NoError(t, err)
	assert.True(t, rep.Complete)
	assert.Zero(t, rep.Credited)
	assert.Equal(t, "30", balance(t, st, "winner").Sub(before).String())
}

func TestSettle_ConcurrentRunsCreditOnce(t *testing.T) {
	users := []string{"a", "b", "c", "d", "e", "f"}
	st, _ := seed(t, users...)
	for _, u := range users {
		vote(t, st, u, market.SideYes, 1)
	}
	end(t, st, market.SideYes)
	before := map[string]decimal.Decimal{}
	for _, u := range users {
		before[u] = balance(t, st, u)
	}
	eng := newEngine(st)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = eng.Settle(context.Background(), "ev1")
		}()
	}
	wg.Wait()

	for _, u := range users {
		assert.Equal(t, "10", balance(t, st, u).Sub(before[u]).String(), u)
	}
}

func TestSettle_ActiveEventIsConflict(t *testing.T) {
	st, _ := seed(t)
	_, err := newEngine(st).Settle(context.Background(), "ev1")
	assert.ErrorIs(t, err, market.ErrConflict)

	_, err = newEngine(st).Settle(context.Background(), "missing")
	assert.ErrorIs(t, err, market.ErrNotFound)
}

// flaky falha SettlePosition para um usuário enquanto failing estiver ligado
type flaky struct {
	*memory.Store
	user    string
	failing atomic.Bool
}

var errDown = errors.New("db down")

func (f *flaky) SettlePosition(ctx context.Context, positionID string, payout decimal.Decimal, at time.Time) (decimal.Decimal, bool, error) {
	if f.failing.Load() {
		positions, _ := f.Store.UnsettledPositions(ctx, "ev1")
		for _, p := range positions {
			if p.ID == positionID && p.UserID == f.user {
				return decimal.Zero, false, errDown
			}
		}
	}
	return f.Store.SettlePosition(ctx, positionID, payout, at)
}

func TestSettle_PartialFailureThenSweep(t *testing.T) {
	st, _ := seed(t, "ok", "broken")
	vote(t, st, "ok", market.SideYes, 1)
	vote(t, st, "broken", market.SideYes, 2)
	end(t, st, market.SideYes)
	okBefore, brokenBefore := balance(t, st, "ok"), balance(t, st, "broken")

	store := &flaky{Store: st, user: "broken"}
	store.failing.Store(true)
	eng := newEngine(store)

	rep, err := eng.Settle(context.Background(), "ev1")
	var partial *market.SettlementPartialFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"broken"}, partial.UserIDs)
	assert.ErrorIs(t, err, errDown)
	assert.False(t, rep.Complete)
	assert.Equal(t, 1, rep.Failed)

	ev, err := st.GetEvent(context.Background(), "ev1")
	require.NoError(t, err)
	assert.Nil(t, ev.SettledAt)
	assert.Equal(t, "10", balance(t, st, "ok").Sub(okBefore).String())

	store.failing.Store(false)
	sweeper := &settlement.Sweeper{Log: zap.NewNop(), Store: store, Engine: eng}
	done, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	assert.Equal(t, "10", balance(t, st, "ok").Sub(okBefore).String())
	assert.Equal(t, "20", balance(t, st, "broken").Sub(brokenBefore).String())

	done, err = sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, done)
}

func TestInline_PartialFailureIsNotAnError(t *testing.T) {
	st, ev := seed(t, "broken")
	vote(t, st, "broken", market.SideNo, 1)
	end(t, st, market.SideNo)

	store := &flaky{Store: st, user: "broken"}
	store.failing.Store(true)
	q := &settlement.Inline{Log: zap.NewNop(), Engine: newEngine(store)}
	assert.NoError(t, q.Enqueue(context.Background(), ev, market.TriggerResolve))

	pending, err := st.UnsettledEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/opinio/internal/market"
	"github.com/radieske/opinio/internal/pricing"
)

func TestCreateUser_Unique(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, market.User{ID: "1", Username: "alice", Email: "Alice@x.io"}))

	err := s.CreateUser(ctx, market.User{ID: "2", Username: "alice", Email: "other@x.io"})
	assert.ErrorIs(t, err, market.ErrConflict)
	err = s.CreateUser(ctx, market.User{ID: "3", Username: "bob", Email: "alice@X.io"})
	assert.ErrorIs(t, err, market.ErrConflict)

	u, err := s.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, market.RoleUser, u.Role)

	_, err = s.UserByID(ctx, "nope")
	assert.ErrorIs(t, err, market.ErrNotFound)
}

func TestCreateEvent_RequiresCreator(t *testing.T) {
	s := New()
	err := s.CreateEvent(context.Background(), market.Event{ID: "e1", CreatedBy: "ghost", Status: market.StatusActive})
	assert.ErrorIs(t, err, market.ErrNotFound)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("user:1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Empty(t, k.locks)
}

func TestApplyBalance_Rejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, market.User{ID: "1", Username: "a", Email: "a@x.io", Balance: decimal.NewFromInt(3)}))

	_, err := s.Debit(ctx, "1", decimal.NewFromInt(4), market.OpDebit, "x")
	assert.ErrorIs(t, err, market.ErrInsufficientBalance)
	assert.Empty(t, s.Entries("1"))

	bal, err := s.Balance(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "3", bal.String())
}

func TestCastVote_KeepsConcurrentUserUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, market.User{ID: "u1", Username: "u1", Email: "u1@x.io", PasswordHash: "old", Balance: decimal.NewFromInt(10)}))
	q := pricing.Default().Prices(0, 0)
	now := time.Now().UTC()
	require.NoError(t, s.CreateEvent(ctx, market.Event{
		ID: "e1", CreatedBy: "u1", Status: market.StatusActive, EndingAt: now.Add(time.Hour), Yes: q.Yes, No: q.No,
	}))

	rules := market.Rules{Pricing: pricing.Default(), UpdateMode: market.UpdateReplace}
	req := market.VoteRequest{UserID: "u1", EventID: "e1", Side: market.SideYes, Quantity: 1}
	_, err := s.CastVote(ctx, "e1", "u1", func(st market.VoteState) (market.VoteResult, error) {
		require.NoError(t, s.SetPassword(ctx, "u1", "new"))
		require.NoError(t, s.TouchLogin(ctx, "u1", now))
		return rules.Apply(st, req, now)
	})
	require.NoError(t, err)

	u, err := s.UserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", u.PasswordHash)
	require.NotNil(t, u.LastLogin)
	assert.Equal(t, "5", u.Balance.String())
}

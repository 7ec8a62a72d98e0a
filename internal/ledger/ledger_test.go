package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/ledger"
	"github.com/radieske/opinio/internal/market"
	"github.com/radieske/opinio/internal/realtime"
	"github.com/radieske/opinio/internal/store/memory"
)

type recorder struct {
	mu   sync.Mutex
	msgs []realtime.Message
}

func (r *recorder) Publish(_ context.Context, m realtime.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func setup(t *testing.T, balance string) (*ledger.Ledger, *memory.Store, *recorder, *realtime.Notifier) {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.CreateUser(context.Background(), market.User{
		ID: "u1", Username: "u1", Email: "u1@x.io", Balance: decimal.RequireFromString(balance),
	}))
	rec := &recorder{}
	n := realtime.NewNotifier(rec, zap.NewNop())
	return &ledger.Ledger{
		Log:            zap.NewNop(),
		Store:          st,
		Notifier:       n,
		RechargeAmount: decimal.NewFromInt(50),
	}, st, rec, n
}

func TestDebitCredit(t *testing.T) {
	l, st, _, _ := setup(t, "10")
	ctx := context.Background()

	bal, err := l.Debit(ctx, "u1", decimal.RequireFromString("2.5"), "test")
	require.NoError(t, err)
	assert.Equal(t, "7.5", bal.String())

	bal, err = l.Credit(ctx, "u1", decimal.NewFromInt(1), "test")
	require.NoError(t, err)
	assert.Equal(t, "8.5", bal.String())

	_, err = l.Debit(ctx, "u1", decimal.NewFromInt(9), "test")
	var ins *market.InsufficientBalanceError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, "9", ins.Required.String())
	assert.Equal(t, "8.5", ins.Available.String())

	entries := st.Entries("u1")
	require.Len(t, entries, 2)
	assert.Equal(t, market.OpDebit, entries[0].Operation)
	assert.Equal(t, "7.5", entries[0].BalanceAfter.String())
	assert.Equal(t, market.OpCredit, entries[1].Operation)
}

func TestInvalidArguments(t *testing.T) {
	l, _, _, _ := setup(t, "10")
	ctx := context.Background()

	_, err := l.Debit(ctx, "u1", decimal.Zero, "x")
	assert.ErrorIs(t, err, market.ErrValidation)
	_, err = l.Credit(ctx, "u1", decimal.NewFromInt(-1), "x")
	assert.ErrorIs(t, err, market.ErrValidation)
	_, err = l.Debit(ctx, "", decimal.NewFromInt(1), "x")
	assert.ErrorIs(t, err, market.ErrAuth)
	_, err = l.Credit(ctx, "ghost", decimal.NewFromInt(1), "x")
	assert.ErrorIs(t, err, market.ErrNotFound)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	l, _, _, _ := setup(t, "5")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Debit(ctx, "u1", decimal.NewFromInt(5), "race")
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, market.ErrInsufficientBalance)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	bal, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestRecharge(t *testing.T) {
	l, st, rec, n := setup(t, "0")

	bal, err := l.Recharge(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "50", bal.String())

	entries := st.Entries("u1")
	require.Len(t, entries, 1)
	assert.Equal(t, market.OpRecharge, entries[0].Operation)

	n.Wait()
	types := []string{}
	for _, m := range rec.msgs {
		types = append(types, m.Type)
	}
	assert.ElementsMatch(t, []string{realtime.TypeUserBalanceUpdated, realtime.TypeBalanceUpdated}, types)
}

func TestRechargeSharesCreditValidation(t *testing.T) {
	l, st, _, _ := setup(t, "0")
	l.RechargeAmount = decimal.Zero

	_, err := l.Recharge(context.Background(), "u1")
	assert.ErrorIs(t, err, market.ErrValidation)
	_, err = l.Recharge(context.Background(), "")
	assert.ErrorIs(t, err, market.ErrAuth)
	assert.Empty(t, st.Entries("u1"))
}

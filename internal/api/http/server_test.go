package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/api/dto"
	"github.com/radieske/opinio/internal/auth"
	"github.com/radieske/opinio/internal/contact"
	"github.com/radieske/opinio/internal/ledger"
	"github.com/radieske/opinio/internal/market"
	"github.com/radieske/opinio/internal/pricing"
	"github.com/radieske/opinio/internal/settlement"
	"github.com/radieske/opinio/internal/store/memory"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	store  *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()
	st := memory.New()
	jwt := auth.JWT{Secret: []byte("test"), TokenTTL: time.Hour}
	engine := &settlement.Engine{Log: log, Store: st, PayoutPerUnit: decimal.NewFromInt(10)}

	api := &API{
		Log: log,
		Market: &market.Service{
			Log:         log,
			Repo:        st,
			Rules:       market.Rules{Pricing: pricing.Default(), UpdateMode: market.UpdateReplace},
			Settlements: &settlement.Inline{Log: log, Engine: engine},
		},
		Ledger: &ledger.Ledger{Log: log, Store: st, RechargeAmount: decimal.NewFromInt(50)},
		Auth: &auth.Service{
			Log:            log,
			Users:          st,
			JWT:            jwt,
			Resets:         auth.NewMemoryResetTokens(),
			Mailer:         auth.LogMailer{Log: log},
			InitialBalance: decimal.NewFromInt(10),
			ResetTTL:       time.Hour,
			Admins:         []string{"admin"},
		},
		Contact: &contact.Service{Log: log, Mailer: auth.LogMailer{Log: log}},
		JWT:     jwt,
		Cookies: auth.Cookies{Name: "token", TTL: time.Hour},
	}
	return &testServer{t: t, router: api.Router(), store: st}
}

func (s *testServer) do(method, path string, body any, session *http.Cookie) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if session != nil {
		r.AddCookie(session)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, r)
	return rec
}

func (s *testServer) signup(username string) (*http.Cookie, dto.User) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/auth/signup", map[string]string{
		"username": username, "email": username + "@example.com", "password": "secret1",
	}, nil)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp dto.AuthResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	for _, c := range rec.Result().Cookies() {
		if c.Name == "token" {
			return c, resp.User
		}
	}
	s.t.Fatal("session cookie not set")
	return nil, dto.User{}
}

func (s *testServer) createEvent(session *http.Cookie) dto.Event {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/events", map[string]string{
		"question": "Will BTC close above 100k?",
		"endingAt": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	}, session)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var ev dto.Event
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &ev))
	return ev
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	session, user := s.signup("alice")
	assert.Equal(t, 10.0, user.Balance)
	assert.True(t, session.HttpOnly)

	rec := s.do(http.MethodGet, "/auth/me", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode[dto.User](t, rec).Username)

	rec = s.do(http.MethodGet, "/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/signup", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "secret1",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[dto.ErrorResponse](t, rec).Message, "Username or email already exists")

	rec = s.do(http.MethodPost, "/auth/login", map[string]string{"username": "alice", "password": "bad-pass"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/login", map[string]string{"username": "alice", "password": "secret1"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/auth/logout", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Empty(t, cleared[0].Value)
}

func TestForgotPasswordIsUniform(t *testing.T) {
	s := newTestServer(t)
	s.signup("alice")

	known := s.do(http.MethodPost, "/auth/forgot-password", map[string]string{"username": "alice"}, nil)
	unknown := s.do(http.MethodPost, "/auth/forgot-password", map[string]string{"username": "ghost"}, nil)
	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())

	rec := s.do(http.MethodPost, "/auth/reset-password/not-a-token", map[string]string{"newPassword": "newsecret"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVoteFlow(t *testing.T) {
	s := newTestServer(t)
	session, user := s.signup("alice")
	ev := s.createEvent(session)
	assert.Equal(t, user.ID, ev.CreatedBy.ID)
	assert.Equal(t, "alice", ev.CreatedBy.Username)
	assert.Equal(t, 5.0, ev.Yes)
	assert.Nil(t, ev.Outcome)

	path := "/events/" + ev.ID + "/vote"
	rec := s.do(http.MethodPatch, path, map[string]any{"vote": "yes", "quantity": 1}, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	vote := decode[dto.VoteResponse](t, rec)
	assert.Equal(t, 5.0, vote.Cost)
	assert.Equal(t, 5.0, vote.Balance)
	assert.Equal(t, int64(1), vote.Event.YesVotes)
	assert.Greater(t, vote.Event.Yes, 5.0)

	rec = s.do(http.MethodPatch, path, map[string]any{"vote": "no", "quantity": 1}, session)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, decode[dto.ErrorResponse](t, rec).HasVoted)

	rec = s.do(http.MethodPatch, path, map[string]any{"vote": "no", "quantity": 3, "isUpdate": true}, session)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	e := decode[dto.ErrorResponse](t, rec)
	assert.True(t, e.NeedsRecharge)
	require.NotNil(t, e.Required)
	require.NotNil(t, e.Available)
	// 3 no ao preço atual (1 yes, 0 no), sem devolver os 5 já pagos
	assert.Equal(t, 14.2857, *e.Required)
	assert.Equal(t, 5.0, *e.Available)

	rec = s.do(http.MethodPatch, path, map[string]any{"vote": "maybe", "quantity": 1, "isUpdate": true}, session)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/auth/recharge", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 55.0, decode[dto.RechargeResponse](t, rec).NewBalance)

	rec = s.do(http.MethodPatch, path, map[string]any{"vote": "no", "quantity": 3, "isUpdate": true}, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 40.7143, decode[dto.VoteResponse](t, rec).Balance)

	rec = s.do(http.MethodGet, "/events/"+ev.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[dto.EventDetail](t, rec)
	assert.Len(t, detail.PriceHistory, 2)
	assert.Equal(t, int64(0), detail.Event.YesVotes)
	assert.Equal(t, int64(3), detail.Event.NoVotes)

	rec = s.do(http.MethodGet, "/events/user/voted", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	voted := decode[[]dto.VotedEvent](t, rec)
	require.Len(t, voted, 1)
	assert.Equal(t, "no", voted[0].UserVote.Vote)
	assert.Equal(t, int64(3), voted[0].UserVote.Quantity)

	rec = s.do(http.MethodPatch, path, map[string]any{"vote": "yes", "quantity": 1}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResolveFlow(t *testing.T) {
	s := newTestServer(t)
	admin, adminUser := s.signup("admin")
	assert.Equal(t, "admin", adminUser.Role)
	owner, _ := s.signup("owner")
	bettor, bettorUser := s.signup("bettor")
	ev := s.createEvent(owner)

	rec := s.do(http.MethodPatch, "/events/"+ev.ID+"/vote", map[string]any{"vote": "yes", "quantity": 2}, bettor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/events/"+ev.ID+"/resolve", map[string]string{"outcome": "yes"}, bettor)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/events/"+ev.ID+"/resolve", map[string]string{"outcome": "yes"}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ended := decode[dto.Event](t, rec)
	assert.Equal(t, "ended", ended.Status)
	require.NotNil(t, ended.Outcome)
	assert.Equal(t, "yes", *ended.Outcome)

	rec = s.do(http.MethodPost, "/events/"+ev.ID+"/resolve", map[string]string{"outcome": "no"}, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPatch, "/events/"+ev.ID+"/vote", map[string]any{"vote": "no", "quantity": 1, "isUpdate": true}, bettor)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 10 - 10 (2 yes a 5) + 20 de payout
	bal, err := s.store.Balance(context.Background(), bettorUser.ID)
	require.NoError(t, err)
	assert.Equal(t, "20", bal.String())

	rec = s.do(http.MethodGet, "/events?status=ended", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]dto.Event](t, rec), 1)

	rec = s.do(http.MethodGet, "/events?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteEvent(t *testing.T) {
	s := newTestServer(t)
	owner, _ := s.signup("owner")
	other, _ := s.signup("other")
	ev := s.createEvent(owner)

	rec := s.do(http.MethodDelete, "/events/"+ev.ID, nil, other)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, "/events/"+ev.ID, nil, owner)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/events/"+ev.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEventValidation(t *testing.T) {
	s := newTestServer(t)
	session, _ := s.signup("alice")

	rec := s.do(http.MethodPost, "/events", map[string]string{
		"question": "past?", "endingAt": "2001-01-01T10:00",
	}, session)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/events", map[string]string{"question": "no session"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreatorCannotResolveOwnEvent(t *testing.T) {
	s := newTestServer(t)
	owner, _ := s.signup("owner")
	ev := s.createEvent(owner)

	rec := s.do(http.MethodPatch, "/events/"+ev.ID+"/vote", map[string]any{"vote": "yes", "quantity": 1}, owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/events/"+ev.ID+"/resolve", map[string]string{"outcome": "yes"}, owner)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/events/"+ev.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decode[dto.EventDetail](t, rec).Event.Status)
}

func TestContact(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/contact", map[string]string{
		"name": "Ana", "email": "ana@example.com", "subject": "Hello", "message": "Great markets",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Message sent successfully!", decode[dto.MessageResponse](t, rec).Message)

	rec = s.do(http.MethodPost, "/contact", map[string]string{
		"name": "Ana", "email": "not-an-email", "subject": "Hello", "message": "Great markets",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/contact", map[string]string{"name": "Ana"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

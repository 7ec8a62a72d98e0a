package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/market"
	"github.com/radieske/opinio/internal/store/memory"
)

var testJWT = JWT{Secret: []byte("test-secret"), TokenTTL: time.Hour}

type sentMail struct {
	mu    sync.Mutex
	email string
	link  string
}

func (m *sentMail) SendPasswordReset(_ context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.email, m.link = email, link
	return nil
}

func newService() (*Service, *sentMail) {
	mail := &sentMail{}
	return &Service{
		Log:            zap.NewNop(),
		Users:          memory.New(),
		JWT:            testJWT,
		Resets:         NewMemoryResetTokens(),
		Mailer:         mail,
		InitialBalance: decimal.NewFromInt(100),
		ResetTTL:       time.Hour,
		PublicURL:      "http://app.local/",
	}, mail
}

func TestJWT_SignVerify(t *testing.T) {
	tok, exp, err := testJWT.Sign("u1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := testJWT.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	_, err = JWT{Secret: []byte("other"), TokenTTL: time.Hour}.Verify(tok)
	assert.Error(t, err)

	expired, _, err := JWT{Secret: testJWT.Secret, TokenTTL: -time.Minute}.Sign("u1")
	require.NoError(t, err)
	_, err = testJWT.Verify(expired)
	assert.Error(t, err)
}

func TestPassword(t *testing.T) {
	_, err := HashPassword("12345")
	assert.ErrorIs(t, err, market.ErrValidation)

	h, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.True(t, CheckPassword(h, "hunter22"))
	assert.False(t, CheckPassword(h, "hunter23"))
}

func TestPassword_RejectsOverBcryptLimit(t *testing.T) {
	long := strings.Repeat("a", 72)
	_, err := HashPassword(long)
	require.NoError(t, err)

	// senhas que diferem só depois do byte 72 colidiriam no bcrypt
	_, err = HashPassword(long + "b")
	assert.ErrorIs(t, err, market.ErrValidation)

	svc, _ := newService()
	_, _, err = svc.Signup(context.Background(), SignupRequest{Username: "alice", Email: "alice@example.com", Password: long + "b"})
	assert.ErrorIs(t, err, market.ErrValidation)
}

func TestSignupLogin(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	u, tok, err := svc.Signup(ctx, SignupRequest{Username: "alice", Email: "Alice@Example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, "100", u.Balance.String())
	claims, err := testJWT.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)

	_, _, err = svc.Signup(ctx, SignupRequest{Username: "alice", Email: "x@example.com", Password: "secret1"})
	require.ErrorIs(t, err, market.ErrConflict)
	assert.Contains(t, err.Error(), "Username or email already exists")

	_, _, err = svc.Signup(ctx, SignupRequest{Username: "bob", Email: "not-an-email", Password: "secret1"})
	assert.ErrorIs(t, err, market.ErrValidation)

	logged, _, err := svc.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	require.NotNil(t, logged.LastLogin)

	_, _, err = svc.Login(ctx, "alice", "wrong-pw")
	assert.ErrorIs(t, err, market.ErrAuth)
	_, _, err = svc.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, market.ErrAuth)

	me, err := svc.Me(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)
	_, err = svc.Me(ctx, "deleted")
	assert.ErrorIs(t, err, market.ErrAuth)
}

func TestForgotAndResetPassword(t *testing.T) {
	svc, mail := newService()
	ctx := context.Background()
	_, _, err := svc.Signup(ctx, SignupRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)

	svc.ForgotPassword(ctx, "nobody")
	assert.Empty(t, mail.link)

	svc.ForgotPassword(ctx, "alice")
	assert.Equal(t, "alice@example.com", mail.email)
	require.True(t, strings.HasPrefix(mail.link, "http://app.local/reset-password/"))
	tok := strings.TrimPrefix(mail.link, "http://app.local/reset-password/")

	assert.ErrorIs(t, svc.ResetPassword(ctx, tok, "short"), market.ErrValidation)
	require.NoError(t, svc.ResetPassword(ctx, tok, "newsecret"))
	assert.ErrorIs(t, svc.ResetPassword(ctx, tok, "newsecret2"), market.ErrValidation, "token is single use")

	_, _, err = svc.Login(ctx, "alice", "secret1")
	assert.ErrorIs(t, err, market.ErrAuth)
	_, _, err = svc.Login(ctx, "alice", "newsecret")
	assert.NoError(t, err)
}

func TestMemoryResetTokens_Expire(t *testing.T) {
	s := NewMemoryResetTokens()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	tok, err := s.Issue(context.Background(), "u1", time.Minute)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = s.Consume(context.Background(), tok)
	assert.ErrorIs(t, err, market.ErrValidation)
}

func TestMiddleware(t *testing.T) {
	tok, _, err := testJWT.Sign("u1")
	require.NoError(t, err)

	var got string
	h := Middleware(testJWT, "token")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserID(r.Context())
	}))

	cases := []struct {
		name string
		set  func(r *http.Request)
		want string
	}{
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: tok}) }, "u1"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }, "u1"},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, ""},
		{"anonymous", func(*http.Request) {}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got = "unset"
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.set(r)
			h.ServeHTTP(httptest.NewRecorder(), r)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCookies(t *testing.T) {
	c := Cookies{Name: "token", TTL: time.Hour, Secure: true}
	rec := httptest.NewRecorder()
	c.Set(rec, "abc")
	ck := rec.Result().Cookies()
	require.Len(t, ck, 1)
	assert.Equal(t, "abc", ck[0].Value)
	assert.True(t, ck[0].HttpOnly)
	assert.True(t, ck[0].Secure)
	assert.Equal(t, http.SameSiteStrictMode, ck[0].SameSite)

	rec = httptest.NewRecorder()
	c.Clear(rec)
	ck = rec.Result().Cookies()
	require.Len(t, ck, 1)
	assert.Empty(t, ck[0].Value)
	assert.Less(t, ck[0].MaxAge, 0)
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 2)
	h := l.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	codes := []int{}
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	assert.True(t, l.Allow("10.0.0.2"))
}

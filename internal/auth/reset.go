package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/opinio/internal/market"
)

// ResetTokens emite e consome tokens de recuperação de senha (uso único)
type ResetTokens interface {
	Issue(ctx context.Context, userID string, ttl time.Duration) (string, error)
	Consume(ctx context.Context, token string) (userID string, err error)
}

func newToken() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RedisResetTokens guarda token -> userId com TTL; Consume usa GETDEL
type RedisResetTokens struct {
	R      *redis.Client
	Prefix string
}

func (s *RedisResetTokens) key(token string) string {
	p := s.Prefix
	if p == "" {
		p = "opinio:reset:"
	}
	return p + token
}

func (s *RedisResetTokens) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	tok, err := newToken()
	if err != nil {
		return "", err
	}
	if err := s.R.Set(ctx, s.key(tok), userID, ttl).Err(); err != nil {
		return "", err
	}
	return tok, nil
}

func (s *RedisResetTokens) Consume(ctx context.Context, token string) (string, error) {
	id, err := s.R.GetDel(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", market.Validationf("password reset token is invalid or has expired")
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// MemoryResetTokens é usado com STORE=memory e nos testes
type MemoryResetTokens struct {
	mu     sync.Mutex
	tokens map[string]memToken
	now    func() time.Time
}

type memToken struct {
	userID  string
	expires time.Time
}

func NewMemoryResetTokens() *MemoryResetTokens {
	return &MemoryResetTokens{tokens: make(map[string]memToken), now: time.Now}
}

func (s *MemoryResetTokens) Issue(_ context.Context, userID string, ttl time.Duration) (string, error) {
	tok, err := newToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.tokens[tok] = memToken{userID: userID, expires: s.now().Add(ttl)}
	s.mu.Unlock()
	return tok, nil
}

func (s *MemoryResetTokens) Consume(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	delete(s.tokens, token)
	if !ok || s.now().After(t.expires) {
		return "", market.Validationf("password reset token is invalid or has expired")
	}
	return t.userID, nil
}

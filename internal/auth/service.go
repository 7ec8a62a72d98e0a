package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/market"
)

// UserStore persiste usuários. CreateUser devolve market.ErrConflict para username/email duplicados.
type UserStore interface {
	CreateUser(ctx context.Context, u market.User) error
	UserByID(ctx context.Context, id string) (market.User, error)
	UserByUsername(ctx context.Context, username string) (market.User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
	SetPassword(ctx context.Context, id, hash string) error
}

type SignupRequest struct {
	Username string
	Email    string
	Password string
}

type Service struct {
	Log            *zap.Logger
	Users          UserStore
	JWT            JWT
	Resets         ResetTokens
	Mailer         Mailer
	InitialBalance decimal.Decimal
	ResetTTL       time.Duration
	PublicURL      string
	Admins         []string // usernames que recebem RoleAdmin no signup
	Now            func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Signup cria o usuário com o saldo inicial e já devolve o token de sessão
func (s *Service) Signup(ctx context.Context, req SignupRequest) (market.User, string, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" || len(username) > 50 {
		return market.User{}, "", market.Validationf("username is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return market.User{}, "", market.Validationf("a valid email is required")
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return market.User{}, "", err
	}

	u := market.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         s.roleFor(username),
		Balance:      s.InitialBalance,
		CreatedAt:    s.now(),
	}
	if err := s.Users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, market.ErrConflict) {
			return market.User{}, "", fmt.Errorf("%w: Username or email already exists", market.ErrConflict)
		}
		return market.User{}, "", err
	}

	tok, _, err := s.JWT.Sign(u.ID)
	if err != nil {
		return market.User{}, "", err
	}
	s.Log.Info("user signed up", zap.String("user_id", u.ID), zap.String("username", u.Username))
	return u, tok, nil
}

func (s *Service) roleFor(username string) market.Role {
	if slices.Contains(s.Admins, username) {
		return market.RoleAdmin
	}
	return market.RoleUser
}

// Login valida usuário/senha; qualquer falha vira market.ErrAuth
func (s *Service) Login(ctx context.Context, username, password string) (market.User, string, error) {
	u, err := s.Users.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, market.ErrNotFound) {
			return market.User{}, "", market.ErrAuth
		}
		return market.User{}, "", err
	}
	if !CheckPassword(u.PasswordHash, password) {
		return market.User{}, "", market.ErrAuth
	}

	now := s.now()
	if err := s.Users.TouchLogin(ctx, u.ID, now); err != nil {
		s.Log.Warn("touch last login failed", zap.String("user_id", u.ID), zap.Error(err))
	} else {
		u.LastLogin = &now
	}

	tok, _, err := s.JWT.Sign(u.ID)
	if err != nil {
		return market.User{}, "", err
	}
	return u, tok, nil
}

// Me devolve o usuário da sessão; sessão de usuário removido vira market.ErrAuth
func (s *Service) Me(ctx context.Context, userID string) (market.User, error) {
	if userID == "" {
		return market.User{}, market.ErrAuth
	}
	u, err := s.Users.UserByID(ctx, userID)
	if errors.Is(err, market.ErrNotFound) {
		return market.User{}, market.ErrAuth
	}
	return u, err
}

// ForgotPassword envia o link de redefinição se o usuário existir.
// Nunca revela se a conta existe: erros são apenas logados.
func (s *Service) ForgotPassword(ctx context.Context, username string) {
	u, err := s.Users.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if !errors.Is(err, market.ErrNotFound) {
			s.Log.Warn("forgot password lookup failed", zap.Error(err))
		}
		return
	}
	tok, err := s.Resets.Issue(ctx, u.ID, s.ResetTTL)
	if err != nil {
		s.Log.Error("issue reset token failed", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	link := strings.TrimSuffix(s.PublicURL, "/") + "/reset-password/" + tok
	if err := s.Mailer.SendPasswordReset(ctx, u.Email, link); err != nil {
		s.Log.Error("send reset email failed", zap.String("user_id", u.ID), zap.Error(err))
	}
}

// ResetPassword troca a senha usando um token de uso único
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return market.Validationf("password reset token is invalid or has expired")
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	userID, err := s.Resets.Consume(ctx, token)
	if err != nil {
		return err
	}
	if err := s.Users.SetPassword(ctx, userID, hash); err != nil {
		return err
	}
	s.Log.Info("password reset", zap.String("user_id", userID))
	return nil
}

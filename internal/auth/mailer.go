package auth

import (
	"context"

	"go.uber.org/zap"
)

// Mailer envia o link de redefinição de senha
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer apenas registra o link no log (ambiente local, sem SMTP)
type LogMailer struct {
	Log *zap.Logger
}

func (m LogMailer) SendPasswordReset(_ context.Context, email, link string) error {
	m.Log.Info("password reset link", zap.String("email", email), zap.String("link", link))
	return nil
}

func (m LogMailer) SendContactMessage(_ context.Context, from, subject, body string) error {
	m.Log.Info("contact message", zap.String("from", from), zap.String("subject", subject), zap.String("body", body))
	return nil
}

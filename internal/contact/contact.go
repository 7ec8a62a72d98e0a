// Package contact valida e encaminha as mensagens do formulário de contato.
package contact

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/market"
)

const (
	maxNameLen    = 100
	maxSubjectLen = 200
	maxBodyLen    = 5000
)

type Message struct {
	Name    string
	Email   string
	Subject string
	Body    string
}

// Mailer entrega a mensagem para a caixa da equipe
type Mailer interface {
	SendContactMessage(ctx context.Context, from, subject, body string) error
}

type Service struct {
	Log    *zap.Logger
	Mailer Mailer
}

// Normalize apara os campos e valida obrigatoriedade, email e tamanhos
func Normalize(m Message) (Message, error) {
	m.Name = strings.TrimSpace(m.Name)
	m.Email = strings.ToLower(strings.TrimSpace(m.Email))
	m.Subject = strings.TrimSpace(m.Subject)
	m.Body = strings.TrimSpace(m.Body)

	switch {
	case m.Name == "" || m.Email == "" || m.Subject == "" || m.Body == "":
		return Message{}, market.Validationf("name, email, subject and message are required")
	case utf8.RuneCountInString(m.Name) > maxNameLen:
		return Message{}, market.Validationf("name must be at most %d characters", maxNameLen)
	case utf8.RuneCountInString(m.Subject) > maxSubjectLen:
		return Message{}, market.Validationf("subject must be at most %d characters", maxSubjectLen)
	case utf8.RuneCountInString(m.Body) > maxBodyLen:
		return Message{}, market.Validationf("message must be at most %d characters", maxBodyLen)
	}
	addr, err := mail.ParseAddress(m.Email)
	if err != nil || addr.Address != m.Email {
		return Message{}, market.Validationf("a valid email is required")
	}
	// o assunto vai para um cabeçalho de email
	if strings.ContainsAny(m.Subject, "\r\n") {
		return Message{}, market.Validationf("subject must be a single line")
	}
	return m, nil
}

// Send valida e entrega a mensagem; falha do mailer é devolvida ao chamador
func (s *Service) Send(ctx context.Context, m Message) error {
	m, err := Normalize(m)
	if err != nil {
		return err
	}
	from := (&mail.Address{Name: m.Name, Address: m.Email}).String()
	if err := s.Mailer.SendContactMessage(ctx, from, m.Subject, m.Body); err != nil {
		s.Log.Error("contact message not delivered", zap.String("email", m.Email), zap.Error(err))
		return fmt.Errorf("contact: send: %w", err)
	}
	s.Log.Info("contact message received", zap.String("email", m.Email), zap.Int("length", len(m.Body)))
	return nil
}

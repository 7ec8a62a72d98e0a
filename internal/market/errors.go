package market

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrAlreadyVoted        = errors.New("already voted on this event")
	ErrAlreadyEnded        = errors.New("event already ended")
	ErrEventClosed         = errors.New("event is not open for voting")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("not found")
	ErrAuth                = errors.New("authentication required")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
)

// Validationf cria um erro de validação com mensagem formatada
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InsufficientBalanceError informa quanto era necessário e quanto havia disponível
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s", e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// SettlementPartialFailure lista os usuários que não foram creditados na liquidação.
// As posições deles continuam pendentes e são reprocessadas pelo sweep.
type SettlementPartialFailure struct {
	EventID string
	UserIDs []string
	Errs    []error
}

func (e *SettlementPartialFailure) Error() string {
	return fmt.Sprintf("settlement of event %s failed for %d user(s): %s",
		e.EventID, len(e.UserIDs), strings.Join(e.UserIDs, ","))
}

func (e *SettlementPartialFailure) Unwrap() []error { return e.Errs }

// Package market contém o modelo de domínio do Opinio (eventos, posições, usuários),
// as regras de voto e o serviço que orquestra votos e o ciclo de vida dos eventos.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

func (s Side) Valid() bool { return s == SideYes || s == SideNo }

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User é o titular do saldo virtual
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	Balance      decimal.Decimal
	LastLogin    *time.Time
	CreatedAt    time.Time
}

// Event é uma pergunta binária aberta a votos até EndingAt
type Event struct {
	ID          string
	Question    string
	Description string
	Category    string
	CreatedBy   string
	CreatorName string // preenchido nas leituras
	EndingAt    time.Time
	Status      Status
	YesVotes    int64
	NoVotes     int64
	Yes         decimal.Decimal
	No          decimal.Decimal
	Outcome     *Side
	EndedAt     *time.Time
	SettledAt   *time.Time
	CreatedAt   time.Time
}

func (e Event) Active() bool { return e.Status == StatusActive }

// Votes devolve o total acumulado do lado informado
func (e Event) Votes(s Side) int64 {
	if s == SideYes {
		return e.YesVotes
	}
	return e.NoVotes
}

// Position é a posição única de um usuário em um evento
type Position struct {
	ID        string
	UserID    string
	EventID   string
	Vote      Side
	Quantity  int64
	Cost      decimal.Decimal // custo acumulado pago pela posição
	SettledAt *time.Time
	Payout    *decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Position) Settled() bool { return p.SettledAt != nil }

// PriceHistoryRecord é um ponto da série de preços (append-only)
type PriceHistoryRecord struct {
	EventID   string
	Timestamp time.Time
	YesPrice  decimal.Decimal
	NoPrice   decimal.Decimal
}

// VotedEvent é um evento acompanhado da posição do usuário
type VotedEvent struct {
	Event    Event
	Position Position
}

// Operações registradas no ledger
const (
	OpDebit    = "DEBIT"
	OpCredit   = "CREDIT"
	OpRefund   = "REFUND"
	OpPayout   = "PAYOUT"
	OpRecharge = "RECHARGE"
)

// LedgerEntry é o registro de auditoria de uma alteração de saldo (append-only)
type LedgerEntry struct {
	UserID       string
	Operation    string
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Reference    string
	CreatedAt    time.Time
}

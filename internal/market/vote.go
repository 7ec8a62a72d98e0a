package market

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/radieske/opinio/internal/pricing"
)

// UpdateMode define como um "update vote" trata a quantidade anterior
type UpdateMode string

const (
	// UpdateReplace substitui lado e quantidade; a contribuição anterior sai dos totais
	UpdateReplace UpdateMode = "replace"
	// UpdateAdd soma a quantidade nova à anterior (mesmo lado)
	UpdateAdd UpdateMode = "add"
)

func ParseUpdateMode(s string) (UpdateMode, error) {
	switch m := UpdateMode(s); m {
	case UpdateReplace, UpdateAdd:
		return m, nil
	case "":
		return UpdateReplace, nil
	}
	return "", fmt.Errorf("unknown vote update mode %q", s)
}

type VoteRequest struct {
	UserID   string
	EventID  string
	Side     Side
	Quantity int64
	IsUpdate bool
}

func (r VoteRequest) Validate() error {
	if r.UserID == "" {
		return ErrAuth
	}
	if r.EventID == "" {
		return Validationf("event id required")
	}
	if !r.Side.Valid() {
		return Validationf("vote must be 'yes' or 'no'")
	}
	if r.Quantity < 1 {
		return Validationf("quantity must be at least 1")
	}
	return nil
}

// VoteState é o que o repositório carrega sob lock antes de aplicar um voto
type VoteState struct {
	Event    Event
	Position *Position // nil se o usuário ainda não votou
	Balance  decimal.Decimal
}

// VoteResult é o que o repositório precisa persistir na mesma transação
type VoteResult struct {
	Event    Event
	Position Position
	Previous *Position
	Cost     decimal.Decimal // debitado
	Refund   decimal.Decimal // devolvido do custo anterior (modo replace)
	Balance  decimal.Decimal // saldo final
	History  PriceHistoryRecord
}

// Created indica se o voto criou a posição
func (r VoteResult) Created() bool { return r.Previous == nil }

// Rules aplica um voto sobre o estado carregado. Não tem efeitos colaterais.
type Rules struct {
	Pricing    pricing.Engine
	UpdateMode UpdateMode
	// RefundOnReplace devolve o custo da posição anterior num update em modo replace.
	// Desligado, o update cobra o preço atual inteiro sobre o saldo.
	RefundOnReplace bool
}

// Apply valida o voto e calcula o novo estado do evento, da posição e do saldo.
// O custo usa o preço atual do evento, anterior ao peso do próprio voto, inclusive em updates.
func (r Rules) Apply(st VoteState, req VoteRequest, now time.Time) (VoteResult, error) {
	if err := req.Validate(); err != nil {
		return VoteResult{}, err
	}
	ev := st.Event
	if !ev.Active() || !now.Before(ev.EndingAt) {
		return VoteResult{}, ErrEventClosed
	}

	prev := st.Position
	switch {
	case !req.IsUpdate && prev != nil:
		return VoteResult{}, ErrAlreadyVoted
	case req.IsUpdate && prev == nil:
		return VoteResult{}, fmt.Errorf("%w: no vote to update", ErrNotFound)
	}

	yes, no := ev.YesVotes, ev.NoVotes
	// custo = preço atual do lado * quantidade, antes do peso do próprio voto
	before := r.Pricing.Prices(yes, no)
	cost := before.For(string(req.Side)).Mul(decimal.NewFromInt(req.Quantity))

	refund := decimal.Zero
	costBasis := decimal.Zero
	quantity := req.Quantity

	if prev != nil {
		switch r.UpdateMode {
		case UpdateAdd:
			if prev.Vote != req.Side {
				return VoteResult{}, Validationf("cannot switch side when adding to a vote")
			}
			quantity = prev.Quantity + req.Quantity
			costBasis = prev.Cost
		default:
			yes, no = withdraw(yes, no, prev.Vote, prev.Quantity)
			if r.RefundOnReplace {
				refund = prev.Cost
			} else {
				costBasis = prev.Cost
			}
		}
	}

	available := st.Balance.Add(refund)
	if available.LessThan(cost) {
		return VoteResult{}, &InsufficientBalanceError{Required: cost, Available: available}
	}

	if req.Side == SideYes {
		yes += req.Quantity
	} else {
		no += req.Quantity
	}
	after := r.Pricing.Prices(yes, no)
	ev.YesVotes, ev.NoVotes = yes, no
	ev.Yes, ev.No = after.Yes, after.No

	var pos Position
	if prev != nil {
		pos = *prev
	} else {
		pos = Position{
			ID:        uuid.NewString(),
			UserID:    req.UserID,
			EventID:   req.EventID,
			CreatedAt: now,
		}
	}
	pos.Vote = req.Side
	pos.Quantity = quantity
	pos.Cost = costBasis.Add(cost)
	pos.UpdatedAt = now

	return VoteResult{
		Event:    ev,
		Position: pos,
		Previous: prev,
		Cost:     cost,
		Refund:   refund,
		Balance:  available.Sub(cost),
		History: PriceHistoryRecord{
			EventID:   ev.ID,
			Timestamp: now,
			YesPrice:  after.Yes,
			NoPrice:   after.No,
		},
	}, nil
}

func withdraw(yes, no int64, side Side, qty int64) (int64, int64) {
	if side == SideYes {
		yes = max(yes-qty, 0)
	} else {
		no = max(no-qty, 0)
	}
	return yes, no
}

// ExpiryOutcome decide o resultado de um evento que expirou sem resolução manual:
// vence o lado com mais votos; empate resolve para "no".
func ExpiryOutcome(ev Event) Side {
	if ev.YesVotes > ev.NoVotes {
		return SideYes
	}
	return SideNo
}

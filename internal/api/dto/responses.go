package dto

import (
	"time"

	"github.com/radieske/opinio/internal/market"
)

// Os identificadores usam "_id" para manter o contrato consumido pelo cliente web

type User struct {
	ID        string     `json:"_id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	Balance   float64    `json:"balance"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type Creator struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

type Event struct {
	ID          string     `json:"_id"`
	Question    string     `json:"question"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	CreatedBy   Creator    `json:"createdBy"`
	EndingAt    time.Time  `json:"endingAt"`
	Status      string     `json:"status"`
	YesVotes    int64      `json:"yesVotes"`
	NoVotes     int64      `json:"noVotes"`
	Yes         float64    `json:"yes"`
	No          float64    `json:"no"`
	Outcome     *string    `json:"outcome"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	YesPrice  float64   `json:"yesPrice"`
	NoPrice   float64   `json:"noPrice"`
}

type EventDetail struct {
	Event        Event        `json:"event"`
	PriceHistory []PricePoint `json:"priceHistory"`
}

type UserVote struct {
	Vote      string    `json:"vote"`
	Quantity  int64     `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
	Settled   bool      `json:"settled"`
	Payout    *float64  `json:"payout,omitempty"`
}

type VotedEvent struct {
	Event
	UserVote UserVote `json:"userVote"`
}

type VoteResponse struct {
	Message string   `json:"message"`
	Event   Event    `json:"event"`
	Vote    UserVote `json:"userVote"`
	Cost    float64  `json:"cost"`
	Refund  float64  `json:"refund"`
	Balance float64  `json:"balance"`
}

type AuthResponse struct {
	Message string `json:"message"`
	User    User   `json:"user"`
}

type RechargeResponse struct {
	Message    string  `json:"message"`
	NewBalance float64 `json:"newBalance"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse carrega flags que o cliente usa para oferecer o caminho alternativo
type ErrorResponse struct {
	Message       string   `json:"message"`
	HasVoted      bool     `json:"hasVoted,omitempty"`
	NeedsRecharge bool     `json:"needsRecharge,omitempty"`
	Required      *float64 `json:"required,omitempty"`
	Available     *float64 `json:"available,omitempty"`
}

func FromUser(u market.User) User {
	return User{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      string(u.Role),
		Balance:   u.Balance.InexactFloat64(),
		LastLogin: u.LastLogin,
		CreatedAt: u.CreatedAt,
	}
}

func FromEvent(ev market.Event) Event {
	out := Event{
		ID:          ev.ID,
		Question:    ev.Question,
		Description: ev.Description,
		Category:    ev.Category,
		CreatedBy:   Creator{ID: ev.CreatedBy, Username: ev.CreatorName},
		EndingAt:    ev.EndingAt,
		Status:      string(ev.Status),
		YesVotes:    ev.YesVotes,
		NoVotes:     ev.NoVotes,
		Yes:         ev.Yes.InexactFloat64(),
		No:          ev.No.InexactFloat64(),
		EndedAt:     ev.EndedAt,
		SettledAt:   ev.SettledAt,
		CreatedAt:   ev.CreatedAt,
	}
	if ev.Outcome != nil {
		o := string(*ev.Outcome)
		out.Outcome = &o
	}
	return out
}

func FromEvents(evs []market.Event) []Event {
	out := make([]Event, 0, len(evs))
	for _, ev := range evs {
		out = append(out, FromEvent(ev))
	}
	return out
}

func FromDetail(d market.EventDetail) EventDetail {
	hist := make([]PricePoint, 0, len(d.History))
	for _, h := range d.History {
		hist = append(hist, PricePoint{
			Timestamp: h.Timestamp,
			YesPrice:  h.YesPrice.InexactFloat64(),
			NoPrice:   h.NoPrice.InexactFloat64(),
		})
	}
	return EventDetail{Event: FromEvent(d.Event), PriceHistory: hist}
}

func FromPosition(p market.Position) UserVote {
	v := UserVote{
		Vote:      string(p.Vote),
		Quantity:  p.Quantity,
		Timestamp: p.UpdatedAt,
		Settled:   p.Settled(),
	}
	if p.Payout != nil {
		f := p.Payout.InexactFloat64()
		v.Payout = &f
	}
	return v
}

func FromVotedEvents(vs []market.VotedEvent) []VotedEvent {
	out := make([]VotedEvent, 0, len(vs))
	for _, v := range vs {
		out = append(out, VotedEvent{Event: FromEvent(v.Event), UserVote: FromPosition(v.Position)})
	}
	return out
}

func FromVote(res market.VoteResult) VoteResponse {
	msg := "Vote recorded"
	if !res.Created() {
		msg = "Vote updated"
	}
	return VoteResponse{
		Message: msg,
		Event:   FromEvent(res.Event),
		Vote:    FromPosition(res.Position),
		Cost:    res.Cost.InexactFloat64(),
		Refund:  res.Refund.InexactFloat64(),
		Balance: res.Balance.InexactFloat64(),
	}
}

package realtime

import "encoding/json"

// Tipos de mensagem entregues aos clientes
const (
	TypeVoteUpdated        = "voteUpdated"
	TypeEventEnded         = "eventEnded"
	TypeUserBalanceUpdated = "userBalanceUpdated"
	TypeBalanceUpdated     = "balanceUpdated"
)

// Message é o envelope trafegado no Redis Pub/Sub e no WebSocket
// EventID: preenchido em mensagens com escopo de evento (filtro de assinatura)
type Message struct {
	Type    string          `json:"type"`
	EventID string          `json:"eventId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// VoteUpdate é o payload de voteUpdated
type VoteUpdate struct {
	EventID  string  `json:"eventId"`
	YesVotes int64   `json:"yesVotes"`
	NoVotes  int64   `json:"noVotes"`
	YesPrice float64 `json:"yesPrice"`
	NoPrice  float64 `json:"noPrice"`
}

// BalanceUpdate é o payload de userBalanceUpdated
type BalanceUpdate struct {
	UserID     string  `json:"userId"`
	NewBalance float64 `json:"newBalance"`
}

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
// EventID: obrigatório para subscribe/unsubscribe
type ClientMsg struct {
	Type    string `json:"type"`
	EventID string `json:"eventId"`
}

func newMessage(typ, eventID string, payload any) (Message, error) {
	msg := Message{Type: typ, EventID: eventID}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = b
	return msg, nil
}

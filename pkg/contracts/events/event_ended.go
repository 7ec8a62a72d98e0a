package events

import "time"

// EventEnded é publicado no tópico "event_ended" quando um evento é encerrado
// (resolução manual ou expiração). O settlement-worker consome e liquida as posições.
type EventEnded struct {
	EventID string    `json:"event_id"`
	Outcome string    `json:"outcome"` // "yes" | "no"
	Trigger string    `json:"trigger"` // "resolve" | "expiry"
	EndedAt time.Time `json:"ended_at"`
}

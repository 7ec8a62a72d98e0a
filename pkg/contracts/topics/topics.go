package topics

const (
	// Ciclo de vida dos eventos
	EventEnded = "event_ended"

	// DLQs
	EventEndedDLQ = "event_ended_dlq"
)

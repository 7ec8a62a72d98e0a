package metrics

import "github.com/prometheus/client_golang/prometheus"

// Métricas de negócio compartilhadas pelos serviços
var (
	VotesCast = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opinio_votes_total",
		Help: "votos aceitos por lado e tipo (new|update)",
	}, []string{"side", "kind"})

	VoteRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opinio_vote_rejections_total",
		Help: "votos rejeitados por motivo",
	}, []string{"reason"})

	LedgerOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opinio_ledger_operations_total",
		Help: "operações de saldo por tipo",
	}, []string{"operation"})

	EventsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opinio_events_ended_total",
		Help: "eventos encerrados por gatilho (resolve|expiry)",
	}, []string{"trigger"})

	SettlementCredits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opinio_settlement_credits_total",
		Help: "posições vencedoras creditadas",
	})

	SettlementFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opinio_settlement_failures_total",
		Help: "falhas ao liquidar posições (reprocessadas pelo sweep)",
	})

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opinio_ws_connections",
		Help: "clientes WebSocket conectados",
	})

	WSMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opinio_ws_messages_sent_total",
		Help: "total de mensagens WS enviadas",
	})
)

// MustRegister registra as métricas no registry padrão (chamar uma vez no main)
func MustRegister() {
	prometheus.MustRegister(
		VotesCast, VoteRejections, LedgerOps, EventsEnded,
		SettlementCredits, SettlementFailures, WSConnections, WSMessagesSent,
	)
}

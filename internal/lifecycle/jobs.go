package lifecycle

import "context"

// Expirer encerra eventos vencidos (market.Service)
type Expirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// Retrier reprocessa liquidações pendentes (settlement.Sweeper)
type Retrier interface {
	RunOnce(ctx context.Context) (int, error)
}

// ExpiryJob encerra até limit eventos com endingAt no passado por execução
func ExpiryJob(e Expirer, limit int) Job {
	return func(ctx context.Context) (int, error) {
		return e.ExpireDue(ctx, limit)
	}
}

func SettlementRetryJob(r Retrier) Job {
	return r.RunOnce
}

// Schedule registra os jobs padrão; retrier nil desliga o retry de settlement
func Schedule(r *Runner, expirer Expirer, expirySpec string, retrier Retrier, retrySpec string) error {
	if expirer != nil {
		if _, err := r.Add("expire_events", expirySpec, ExpiryJob(expirer, 200)); err != nil {
			return err
		}
	}
	if retrier != nil {
		if _, err := r.Add("settlement_retry", retrySpec, SettlementRetryJob(retrier)); err != nil {
			return err
		}
	}
	return nil
}

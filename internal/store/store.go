// Package store seleciona o backend de persistência (postgres ou memory) conforme a config.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/auth"
	"github.com/radieske/opinio/internal/ledger"
	"github.com/radieske/opinio/internal/market"
	"github.com/radieske/opinio/internal/settlement"
	"github.com/radieske/opinio/internal/shared/config"
	"github.com/radieske/opinio/internal/shared/db"
	"github.com/radieske/opinio/internal/shared/metrics"
	"github.com/radieske/opinio/internal/store/memory"
	"github.com/radieske/opinio/internal/store/postgres"
)

// Backend é o conjunto de repositórios usado pelos serviços
type Backend interface {
	market.Repo
	ledger.Store
	settlement.Store
	auth.UserStore
}

// Open conecta o backend configurado. close libera as conexões; health entra no /healthz.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (b Backend, closeFn func(), health metrics.HealthFunc, err error) {
	switch cfg.Store {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), func() {}, func(context.Context) error { return nil }, nil
	case "postgres", "":
		pg, err := db.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Migrate(ctx, pg); err != nil {
			_ = pg.Close()
			return nil, nil, nil, err
		}
		log.Info("postgres connected")
		return postgres.New(pg), func() { _ = pg.Close() }, pg.PingContext, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

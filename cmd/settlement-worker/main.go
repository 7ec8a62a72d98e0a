package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/lifecycle"
	"github.com/radieske/opinio/internal/market"
	"github.com/radieske/opinio/internal/pricing"
	"github.com/radieske/opinio/internal/realtime"
	"github.com/radieske/opinio/internal/settlement"
	"github.com/radieske/opinio/internal/shared/cache"
	"github.com/radieske/opinio/internal/shared/config"
	"github.com/radieske/opinio/internal/shared/kafka"
	"github.com/radieske/opinio/internal/shared/logger"
	"github.com/radieske/opinio/internal/shared/metrics"
	"github.com/radieske/opinio/internal/store"
)

// settlement-worker consome event_ended, liquida posições e roda as varreduras
// de expiração e de retry de settlement
func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, closeStore, storeHealth, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("store open", zap.Error(err))
	}
	defer closeStore()
	checks := []metrics.HealthFunc{storeHealth}

	// Notificações saem pelo Redis Pub/Sub e chegam aos clientes pelas instâncias da API
	var pub realtime.Publisher = realtime.Noop
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		if rdb, err = cache.ConnectRedis(cfg.RedisAddr); err != nil {
			log.Fatal("redis connect", zap.Error(err))
		}
		defer rdb.Close()
		pub = realtime.NewRedisPublisher(rdb, cfg.RedisPubSubChannel)
		checks = append(checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	notifier := realtime.NewNotifier(pub, log)
	defer notifier.Wait()

	engine := pricing.Engine{Sum: cfg.PriceSum, Liquidity: cfg.PriceLiquidity, Min: cfg.PriceMin, Max: cfg.PriceMax}
	if err := engine.Validate(); err != nil {
		log.Fatal("pricing config", zap.Error(err))
	}
	mode, err := market.ParseUpdateMode(cfg.VoteUpdateMode)
	if err != nil {
		log.Fatal("vote update mode", zap.Error(err))
	}

	settler := &settlement.Engine{Log: log, Store: backend, Notifier: notifier, PayoutPerUnit: cfg.PayoutPerUnit}

	// Eventos expirados aqui são liquidados no próprio worker
	svc := &market.Service{
		Log:         log,
		Repo:        backend,
		Rules:       market.Rules{Pricing: engine, UpdateMode: mode, RefundOnReplace: cfg.VoteRefund},
		Notifier:    notifier,
		Settlements: &settlement.Inline{Log: log, Engine: settler},
		CacheTTL:    cfg.EventCacheTTL,
	}
	if rdb != nil {
		svc.Cache = cache.NewJSON(rdb, "opinio:event:")
	}

	runner := lifecycle.NewRunner(log, ctx)
	retrier := &settlement.Sweeper{Log: log, Store: backend, Engine: settler}
	if err := lifecycle.Schedule(runner, svc, cfg.SweepSpec, retrier, cfg.SettleRetrySpec); err != nil {
		log.Fatal("schedule sweeps", zap.Error(err))
	}
	runner.Start()

	// Kafka consumer: event_ended -> settlement; falhas esgotadas vão para a DLQ
	done := make(chan struct{})
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		reader := kafka.NewReader(brokers, cfg.TopicEventEnded, "settlement-worker")
		defer reader.Close()
		var dlq *kafka.Writer
		if cfg.TopicEventEndedDLQ != "" {
			dlq = kafka.NewWriter(brokers, cfg.TopicEventEndedDLQ)
			defer dlq.Close()
		}
		consumer := &settlement.Consumer{Log: log, Reader: reader, Engine: settler}
		if dlq != nil {
			consumer.DLQ = dlq
		}
		go func() {
			defer close(done)
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("consumer stopped", zap.Error(err))
			}
		}()
		log.Info("settlement-worker started",
			zap.String("consume", cfg.TopicEventEnded),
			zap.String("dlq", cfg.TopicEventEndedDLQ),
		)
	} else {
		close(done)
		log.Warn("no kafka brokers configured; running sweeps only")
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, checks...)

	<-ctx.Done()
	log.Info("shutting down")
	runner.Stop()
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	httpapi "github.com/radieske/opinio/internal/api/http"
	"github.com/radieske/opinio/internal/auth"
	"github.com/radieske/opinio/internal/contact"
	"github.com/radieske/opinio/internal/ledger"
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

func main() {
	cfg := config.Load()

	// Inicializa logger estruturado
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("env", cfg.Env))

	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistência (postgres ou memory)
	backend, closeStore, storeHealth, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("store open", zap.Error(err))
	}
	defer closeStore()
	checks := []metrics.HealthFunc{storeHealth}

	// Redis é opcional: cache de eventos, tokens de reset e fan-out do realtime entre instâncias
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		if rdb, err = cache.ConnectRedis(cfg.RedisAddr); err != nil {
			log.Fatal("redis connect", zap.Error(err))
		}
		defer rdb.Close()
		checks = append(checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Info("redis connected")
	}

	// Realtime: Hub local; com Redis as mensagens passam pelo canal Pub/Sub
	hub := realtime.NewHub(log, httpapi.AllowOrigin(cfg.AllowOrigins))
	defer hub.Close()
	var pub realtime.Publisher = hub
	if rdb != nil {
		pub = realtime.NewRedisPublisher(rdb, cfg.RedisPubSubChannel)
		sub := &realtime.Subscriber{Redis: rdb, Channel: cfg.RedisPubSubChannel, Hub: hub, Log: log}
		go sub.Run(ctx)
	}
	notifier := realtime.NewNotifier(pub, log)
	defer notifier.Wait()

	// Regras de mercado
	engine := pricing.Engine{Sum: cfg.PriceSum, Liquidity: cfg.PriceLiquidity, Min: cfg.PriceMin, Max: cfg.PriceMax}
	if err := engine.Validate(); err != nil {
		log.Fatal("pricing config", zap.Error(err))
	}
	mode, err := market.ParseUpdateMode(cfg.VoteUpdateMode)
	if err != nil {
		log.Fatal("vote update mode", zap.Error(err))
	}

	settler := &settlement.Engine{Log: log, Store: backend, Notifier: notifier, PayoutPerUnit: cfg.PayoutPerUnit}

	// Fila de settlement: Kafka (settlement-worker) ou inline
	var queue market.SettlementQueue = &settlement.Inline{Log: log, Engine: settler}
	if cfg.SettlementMode == "kafka" && len(cfg.Brokers()) > 0 {
		w := kafka.NewWriter(cfg.Brokers(), cfg.TopicEventEnded)
		defer w.Close()
		queue = &settlement.KafkaQueue{Writer: w}
		log.Info("kafka writer ready", zap.String("topic", cfg.TopicEventEnded))
	}

	svc := &market.Service{
		Log:         log,
		Repo:        backend,
		Rules:       market.Rules{Pricing: engine, UpdateMode: mode, RefundOnReplace: cfg.VoteRefund},
		Notifier:    notifier,
		Settlements: queue,
		CacheTTL:    cfg.EventCacheTTL,
	}
	var resets auth.ResetTokens = auth.NewMemoryResetTokens()
	if rdb != nil {
		svc.Cache = cache.NewJSON(rdb, "opinio:event:")
		resets = &auth.RedisResetTokens{R: rdb}
	}

	authSvc := &auth.Service{
		Log:            log,
		Users:          backend,
		JWT:            auth.JWT{Secret: []byte(cfg.JWTSecret), TokenTTL: cfg.TokenTTL},
		Resets:         resets,
		Mailer:         auth.LogMailer{Log: log},
		InitialBalance: cfg.InitialBalance,
		ResetTTL:       cfg.ResetTokenTTL,
		PublicURL:      cfg.PublicURL,
		Admins:         cfg.Admins,
	}

	api := &httpapi.API{
		Log:          log,
		Market:       svc,
		Ledger:       &ledger.Ledger{Log: log, Store: backend, Notifier: notifier, RechargeAmount: cfg.RechargeAmount},
		Auth:         authSvc,
		Contact:      &contact.Service{Log: log, Mailer: auth.LogMailer{Log: log}},
		JWT:          authSvc.JWT,
		Cookies:      auth.Cookies{Name: cfg.CookieName, TTL: cfg.TokenTTL, Secure: cfg.Production()},
		WS:           http.HandlerFunc(hub.HandleWS),
		Limiter:      auth.NewRateLimiter(30, 10),
		AllowOrigins: cfg.AllowOrigins,
	}

	// Varreduras periódicas quando não há settlement-worker
	if cfg.MemorySweeperOff() {
		log.Warn("STORE=memory with RUN_SWEEPER=false: events will not expire and partial settlements will not be retried")
	}
	if cfg.RunSweeper {
		runner := lifecycle.NewRunner(log, ctx)
		retrier := &settlement.Sweeper{Log: log, Store: backend, Engine: settler}
		if err := lifecycle.Schedule(runner, svc, cfg.SweepSpec, retrier, cfg.SettleRetrySpec); err != nil {
			log.Fatal("schedule sweeps", zap.Error(err))
		}
		runner.Start()
		defer runner.Stop()
	}

	// Servidor de métricas e health check
	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, checks...)

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api srv", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

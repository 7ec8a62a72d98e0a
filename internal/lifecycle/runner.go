// Package lifecycle agenda as varreduras periódicas: expiração de eventos e retry de settlement.
package lifecycle

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job é uma execução periódica; n é o número de itens processados (para log)
type Job func(ctx context.Context) (n int, err error)

// Runner encapsula o cron; execuções sobrepostas do mesmo job são puladas
type Runner struct {
	cron    *cron.Cron
	log     *zap.Logger
	baseCtx context.Context
	timeout time.Duration
}

func NewRunner(log *zap.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	cl := cronLogger{log.Sugar()}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		baseCtx: baseCtx,
		timeout: time.Minute,
	}
}

// cronLogger leva os logs do cron (panics recuperados, execuções puladas) para o zap
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.s.Debugw("cron: "+msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.s.Errorw("cron: "+msg, append(kv, "error", err)...)
}

// Add registra um job no spec informado (aceita "@every 30s" ou expressão com segundos)
func (r *Runner) Add(name, spec string, job Job) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		r.run(name, job)
	})
}

func (r *Runner) run(name string, job Job) {
	if r.baseCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.baseCtx, r.timeout)
	defer cancel()

	start := time.Now()
	n, err := job(ctx)
	if err != nil {
		r.log.Warn("cron job failed", zap.String("job", name), zap.Error(err))
		return
	}
	if n > 0 {
		r.log.Info("cron job done", zap.String("job", name), zap.Int("processed", n), zap.Duration("took", time.Since(start)))
	}
}

func (r *Runner) Start() {
	r.log.Info("cron started", zap.Int("jobs", len(r.cron.Entries())))
	r.cron.Start()
}

// Stop aguarda os jobs em andamento terminarem
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("cron stopped")
}

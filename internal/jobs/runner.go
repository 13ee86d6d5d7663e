package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job - периодическая задача. Ошибка логируется, следующий запуск идёт по расписанию.
type Job func(ctx context.Context) error

// Runner запускает задачи по интервалам. Задача, не успевшая завершиться
// к следующему срабатыванию, пропускает его.
type Runner struct {
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("jobs")
	cl := cronLogger{log: logger.Sugar()}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Runner) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, interval)
	}
	spec := "@every " + interval.String()
	if _, err := r.cron.AddFunc(spec, func() { r.run(name, job) }); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	r.logger.Info("Job scheduled", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

func (r *Runner) run(name string, job Job) {
	start := time.Now()
	if err := job(r.ctx); err != nil {
		r.logger.Warn("Job failed",
			zap.String("job", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	r.logger.Debug("Job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
}

func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop отменяет контекст задач и ждёт завершения уже запущенных, не дольше ctx.
func (r *Runner) Stop(ctx context.Context) {
	r.cancel()
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
		r.logger.Warn("Jobs still running at shutdown")
	}
}

// cronLogger пробрасывает внутренние сообщения cron в zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

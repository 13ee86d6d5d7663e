package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"dc-monitor/internal/alerting"
	"dc-monitor/internal/analytics"
	"dc-monitor/internal/api"
	"dc-monitor/internal/cache"
	"dc-monitor/internal/config"
	"dc-monitor/internal/ingest"
	"dc-monitor/internal/jobs"
	applog "dc-monitor/internal/logger"
	"dc-monitor/internal/models"
	"dc-monitor/internal/notifier"
	"dc-monitor/internal/scheduler"
	"dc-monitor/internal/storage"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// metricsStore - то, что нужно от хранилища снимков всем компонентам сразу.
type metricsStore interface {
	Save(ctx context.Context, sample models.MetricSample) error
	Query(ctx context.Context, since time.Time, limit int, order models.Order) ([]models.MetricSample, error)
	Ping(ctx context.Context) error
	Close() error
}

type backend struct {
	store metricsStore
	sink  scheduler.ResultSink
	// prune есть только у SQL: Redis обрезает историю при записи
	prune func(ctx context.Context, cutoff time.Time) (int64, error)
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	switch cfg.Store.Backend {
	case "sql":
		store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, logger)
		if err != nil {
			return nil, err
		}
		return &backend{store: store, prune: store.DeleteBefore}, nil
	default:
		store, err := cache.NewRedisStore(ctx, cache.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Retention: cfg.Redis.Retention,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &backend{store: store, sink: store}, nil
	}
}

func buildNotifier(cfg config.NotifierConfig, logger *zap.Logger) (alerting.Notifier, error) {
	var channels []notifier.Notifier

	if cfg.SMTP.Host != "" {
		n, err := notifier.NewSMTPNotifier(notifier.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return nil, fmt.Errorf("invalid smtp settings: %w", err)
		}
		channels = append(channels, n)
	}

	if cfg.Webhook.URL != "" {
		n, err := notifier.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook settings: %w", err)
		}
		channels = append(channels, n)
	}

	// Без настроенной доставки уведомления только пишутся в лог
	if len(channels) == 0 {
		logger.Warn("No notification channels configured, notifications go to the log only")
		return notifier.NewLogNotifier(logger), nil
	}
	return notifier.NewMulti(logger, channels...), nil
}

func schedulerConfig(cfg config.AnalysisConfig) scheduler.Config {
	sc := scheduler.DefaultConfig()
	sc.AnalysisWindow = cfg.Window
	sc.MaxSamples = cfg.MaxSamples
	sc.TrainingWindow = cfg.TrainingWindow
	sc.MinTrainingSamples = cfg.MinTrainingSamples
	sc.RetrainInterval = cfg.RetrainInterval
	sc.QueryTimeout = cfg.QueryTimeout
	sc.ForecastHorizon = cfg.ForecastHorizon
	return sc
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.store.Close()
	logger.Info("Metrics store ready", zap.String("backend", cfg.Store.Backend))

	settings, err := config.LoadAlertSettings(cfg.Alerts.SettingsFile, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := settings.Watch(ctx); err != nil {
			logger.Warn("Alert settings hot reload disabled", zap.Error(err))
		}
	}()

	notify, err := buildNotifier(cfg.Notifier, logger)
	if err != nil {
		return err
	}

	alerts, err := alerting.NewManager(settings, notify, logger, alerting.WithSendTimeout(cfg.Alerts.SendTimeout))
	if err != nil {
		return err
	}

	detectorCfg := analytics.DefaultDetectorConfig()
	detectorCfg.Contamination = cfg.Analysis.Contamination
	trendCfg := analytics.DefaultTrendConfig()
	trendCfg.Horizon = cfg.Analysis.ForecastHorizon
	trendCfg.Noise = cfg.Analysis.ForecastNoise

	schedOpts := []scheduler.Option{
		scheduler.WithDetector(analytics.NewAnomalyDetector(detectorCfg)),
		scheduler.WithTrendAnalyzer(analytics.NewTrendAnalyzer(trendCfg)),
	}
	if be.sink != nil {
		schedOpts = append(schedOpts, scheduler.WithSink(be.sink))
	}
	sched := scheduler.New(schedulerConfig(cfg.Analysis), be.store, logger, schedOpts...)

	pipeline := ingest.NewPipeline(be.store, alerts, logger, cfg.Ingest.QueueSize, cfg.Ingest.Workers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Run(ctx)
	}()

	var sub *ingest.NATSSubscriber
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("dc-monitor"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("NATS disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Close()

		sub = ingest.NewNATSSubscriber(nc, pipeline, logger)
		if err := sub.Start(cfg.NATS.Subject, cfg.NATS.Queue); err != nil {
			return err
		}
	}

	runner := jobs.NewRunner(logger)
	if err := runner.Every("analysis", cfg.Analysis.Interval, sched.Tick); err != nil {
		return err
	}
	if err := runner.Every("escalation", cfg.Alerts.EscalationInterval, func(ctx context.Context) error {
		if n := alerts.SweepEscalations(ctx); n > 0 {
			logger.Info("Escalation sweep finished", zap.Int("escalated", n))
		}
		return nil
	}); err != nil {
		return err
	}
	if err := runner.Every("retention", cfg.Alerts.RetentionInterval, retentionJob(cfg, be, alerts, logger)); err != nil {
		return err
	}
	runner.Start()

	// Первый проход сразу, не дожидаясь интервала
	go func() {
		if err := sched.Tick(ctx); err != nil {
			logger.Warn("Initial analysis pass failed", zap.Error(err))
		}
	}()

	server := api.NewServer(sched, alerts, pipeline, be.store, logger)
	serveErr := server.Run(ctx, api.RunConfig{
		Addr:            ":" + strconv.Itoa(cfg.Server.Port),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	stop()

	if sub != nil {
		if err := sub.Stop(); err != nil {
			logger.Warn("Failed to stop NATS subscriber", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	runner.Stop(shutdownCtx)
	wg.Wait()

	return serveErr
}

func retentionJob(cfg *config.Config, be *backend, alerts *alerting.Manager, logger *zap.Logger) jobs.Job {
	return func(ctx context.Context) error {
		now := time.Now()
		if n := alerts.PruneResolved(now.Add(-cfg.Alerts.Retention)); n > 0 {
			logger.Info("Pruned resolved alerts", zap.Int("count", n))
		}
		if be.prune == nil {
			return nil
		}
		n, err := be.prune(ctx, now.Add(-cfg.Database.Retention))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("Pruned old samples", zap.Int64("count", n))
		}
		return nil
	}
}

func main() {
	cfg, err := config.Load(os.Getenv("DCMON_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	logger, err := applog.New(cfg.Logging)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

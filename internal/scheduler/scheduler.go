package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dc-monitor/internal/analytics"
	"dc-monitor/internal/metrics"
	"dc-monitor/internal/models"

	"go.uber.org/zap"
)

type State int32

const (
	StateUninitialized State = iota
	StateTraining
	StateReady
)

func (s State) String() string {
	switch s {
	case StateTraining:
		return "training"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// MetricsStore - узкий интерфейс хранилища, которым пользуется планировщик.
type MetricsStore interface {
	Query(ctx context.Context, since time.Time, limit int, order models.Order) ([]models.MetricSample, error)
}

// ResultSink получает каждый опубликованный результат (например, зеркало в Redis).
type ResultSink interface {
	SaveAnalysis(ctx context.Context, result models.AnalysisResult) error
}

type Config struct {
	AnalysisWindow     time.Duration
	MaxSamples         int
	TrainingWindow     time.Duration
	TrainingLimit      int
	MinTrainingSamples int
	MinAnalysisSamples int
	RetrainInterval    time.Duration
	QueryTimeout       time.Duration
	ForecastHorizon    int

	AnomalyMetrics     []string
	TrendMetrics       []string
	CorrelationMetrics []string
}

func DefaultConfig() Config {
	return Config{
		AnalysisWindow:     24 * time.Hour,
		MaxSamples:         500,
		TrainingWindow:     7 * 24 * time.Hour,
		TrainingLimit:      10000,
		MinTrainingSamples: 50,
		MinAnalysisSamples: 10,
		RetrainInterval:    time.Hour,
		QueryTimeout:       30 * time.Second,
		ForecastHorizon:    6,
		AnomalyMetrics: []string{
			models.MetricCPU, models.MetricMemory, models.MetricDisk,
			models.MetricTemperature, models.MetricHumidity,
			models.MetricNetworkSent, models.MetricNetworkRecv,
			models.MetricProcessesCount,
		},
		TrendMetrics: []string{
			models.MetricCPU, models.MetricMemory, models.MetricDisk,
			models.MetricTemperature, models.MetricHumidity,
		},
		CorrelationMetrics: []string{
			models.MetricCPU, models.MetricMemory, models.MetricDisk,
			models.MetricTemperature, models.MetricHumidity,
			models.MetricNetworkSent, models.MetricNetworkRecv,
		},
	}
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithSink(sink ResultSink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

func WithDetector(d *analytics.AnomalyDetector) Option {
	return func(s *Scheduler) { s.detector = d }
}

func WithTrendAnalyzer(t *analytics.TrendAnalyzer) Option {
	return func(s *Scheduler) { s.trends = t }
}

// Scheduler - единственный писатель AnalysisResult. Читатели получают
// указатель на последний опубликованный снимок и никогда не блокируются
// идущим проходом.
type Scheduler struct {
	cfg    Config
	store  MetricsStore
	sink   ResultSink
	logger *zap.Logger
	now    func() time.Time

	detector     *analytics.AnomalyDetector
	trends       *analytics.TrendAnalyzer
	correlations *analytics.CorrelationAnalyzer
	health       analytics.HealthScorer
	recommender  analytics.RecommendationEngine

	// mu сериализует Tick; читатели его не берут
	mu          sync.Mutex
	lastTrained time.Time
	version     uint64

	state   atomic.Int32
	current atomic.Pointer[models.AnalysisResult]
}

func New(cfg Config, store MetricsStore, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	if cfg.AnalysisWindow <= 0 {
		cfg.AnalysisWindow = def.AnalysisWindow
	}
	if cfg.TrainingWindow <= 0 {
		cfg.TrainingWindow = def.TrainingWindow
	}
	if cfg.TrainingLimit <= 0 {
		cfg.TrainingLimit = def.TrainingLimit
	}
	if cfg.MinTrainingSamples <= 0 {
		cfg.MinTrainingSamples = def.MinTrainingSamples
	}
	if cfg.MinAnalysisSamples <= 0 {
		cfg.MinAnalysisSamples = def.MinAnalysisSamples
	}
	if cfg.RetrainInterval <= 0 {
		cfg.RetrainInterval = def.RetrainInterval
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	if cfg.ForecastHorizon <= 0 {
		cfg.ForecastHorizon = def.ForecastHorizon
	}
	if len(cfg.AnomalyMetrics) == 0 {
		cfg.AnomalyMetrics = def.AnomalyMetrics
	}
	if len(cfg.TrendMetrics) == 0 {
		cfg.TrendMetrics = def.TrendMetrics
	}
	if len(cfg.CorrelationMetrics) == 0 {
		cfg.CorrelationMetrics = def.CorrelationMetrics
	}

	s := &Scheduler{
		cfg:          cfg,
		store:        store,
		logger:       logger.Named("scheduler"),
		now:          time.Now,
		detector:     analytics.NewAnomalyDetector(analytics.DefaultDetectorConfig()),
		trends:       analytics.NewTrendAnalyzer(analytics.DefaultTrendConfig()),
		correlations: analytics.NewCorrelationAnalyzer(cfg.CorrelationMetrics),
	}
	for _, opt := range opts {
		opt(s)
	}

	initial := defaultResult(s.now())
	s.current.Store(&initial)
	return s
}

func defaultResult(now time.Time) models.AnalysisResult {
	return models.AnalysisResult{
		Anomalies:       []models.AnomalyRecord{},
		Scores:          map[string]models.AnomalyScore{},
		Trends:          []models.TrendRecord{},
		Forecasts:       []models.ForecastRecord{},
		Correlations:    models.CorrelationReport{Pairs: []models.CorrelationRecord{}, Insights: []string{}},
		Recommendations: []models.Recommendation{},
		HealthScore:     analytics.DefaultHealthScore,
		Status:          analytics.StatusAnalyzing,
		GeneratedAt:     now,
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Current возвращает последний опубликованный результат. До первого
// успешного прохода это результат по умолчанию со статусом "Analyzing...".
func (s *Scheduler) Current() models.AnalysisResult {
	return *s.current.Load()
}

func (s *Scheduler) Summary() models.AnalysisSummary {
	r := s.current.Load()
	summary := models.AnalysisSummary{
		HealthScore:          r.HealthScore,
		Status:               r.Status,
		State:                s.State().String(),
		AnomaliesCount:       len(r.Anomalies),
		RecommendationsCount: len(r.Recommendations),
	}
	if r.Version > 0 {
		ts := r.GeneratedAt
		summary.LastAnalysis = &ts
	}
	return summary
}

// Tick выполняет один шаг автомата: при необходимости (пере)обучает модели,
// затем, если модели готовы, делает проход анализа и публикует результат.
// Ошибка прохода оставляет прежний результат нетронутым.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.State() != StateReady || now.Sub(s.lastTrained) >= s.cfg.RetrainInterval {
		if err := s.train(ctx, now); err != nil {
			if s.State() != StateReady {
				s.logger.Info("Anomaly models not trained yet", zap.Error(err))
				return err
			}
			// Переобучение не удалось - работаем на прежних моделях
			s.logger.Warn("Retraining failed, keeping previous models", zap.Error(err))
		}
	}

	start := time.Now()
	result, err := s.analyze(ctx, now)
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalysisFailures.WithLabelValues(failureReason(err)).Inc()
		s.logger.Error("Analysis pass failed", zap.Error(err))
		return err
	}

	s.current.Store(&result)
	metrics.HealthScore.Set(float64(result.HealthScore))
	metrics.AnomaliesDetected.Add(float64(len(result.Anomalies)))

	s.logger.Info("Analysis published",
		zap.Uint64("version", result.Version),
		zap.Int("health_score", result.HealthScore),
		zap.String("status", result.Status),
		zap.Int("anomalies", len(result.Anomalies)),
		zap.Int("samples", result.SampleCount),
		zap.Duration("duration", time.Since(start)),
	)

	if s.sink != nil {
		if err := s.sink.SaveAnalysis(ctx, result); err != nil {
			s.logger.Warn("Failed to mirror analysis result", zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) train(ctx context.Context, now time.Time) error {
	if s.State() == StateUninitialized {
		s.state.Store(int32(StateTraining))
	}
	err := s.trainModels(ctx, now)
	if err != nil {
		metrics.ModelTrainings.WithLabelValues("failed").Inc()
		if s.State() == StateTraining {
			s.state.Store(int32(StateUninitialized))
		}
		return err
	}

	metrics.ModelTrainings.WithLabelValues("ok").Inc()
	s.lastTrained = now
	s.state.Store(int32(StateReady))
	return nil
}

func (s *Scheduler) trainModels(ctx context.Context, now time.Time) error {
	samples, err := s.query(ctx, now.Add(-s.cfg.TrainingWindow), s.cfg.TrainingLimit, models.Ascending)
	if err != nil {
		return err
	}
	if len(samples) < s.cfg.MinTrainingSamples {
		return fmt.Errorf("%w: %d samples for training, need %d",
			analytics.ErrInsufficientData, len(samples), s.cfg.MinTrainingSamples)
	}

	baselines, err := s.detector.Train(samples, s.cfg.AnomalyMetrics)
	if err != nil {
		return fmt.Errorf("failed to train anomaly models: %w", err)
	}

	degenerate := make([]string, 0)
	for name, b := range baselines {
		if b.Degenerate() {
			degenerate = append(degenerate, name)
			s.logger.Debug("Metric excluded from scoring", zap.String("metric", name), zap.Error(analytics.ErrDegenerateMetric))
		}
	}
	s.logger.Info("Anomaly models trained",
		zap.Int("samples", len(samples)),
		zap.Int("metrics", len(baselines)),
		zap.Strings("excluded_constant", degenerate),
	)
	return nil
}

func (s *Scheduler) analyze(ctx context.Context, now time.Time) (models.AnalysisResult, error) {
	window, err := s.query(ctx, now.Add(-s.cfg.AnalysisWindow), s.cfg.MaxSamples, models.Descending)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	if len(window) < s.cfg.MinAnalysisSamples {
		return models.AnalysisResult{}, fmt.Errorf("%w: %d samples in analysis window, need %d",
			analytics.ErrInsufficientData, len(window), s.cfg.MinAnalysisSamples)
	}

	// Выборка пришла от новых к старым
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	latest := window[len(window)-1]

	anomalies := s.detector.Detect(window)

	trends := make([]models.TrendRecord, 0, len(s.cfg.TrendMetrics))
	forecasts := make([]models.ForecastRecord, 0, len(s.cfg.TrendMetrics))
	for _, metric := range s.cfg.TrendMetrics {
		series := analytics.SeriesOf(window, metric)
		if len(series) == 0 {
			continue
		}
		trends = append(trends, s.trends.Analyze(metric, series))
		forecasts = append(forecasts, s.trends.Forecast(metric, series, s.cfg.ForecastHorizon))
	}

	score := s.health.Score(anomalies, trends, &latest)

	s.version++
	return models.AnalysisResult{
		Version:         s.version,
		Anomalies:       anomalies,
		Scores:          s.detector.Score(latest),
		Trends:          trends,
		Forecasts:       forecasts,
		Correlations:    s.correlations.Analyze(window),
		Recommendations: s.recommender.Generate(&latest, anomalies, trends),
		HealthScore:     score,
		Status:          analytics.StatusLabel(score),
		SampleCount:     len(window),
		GeneratedAt:     now,
	}, nil
}

func (s *Scheduler) query(ctx context.Context, since time.Time, limit int, order models.Order) ([]models.MetricSample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	samples, err := s.store.Query(ctx, since, limit, order)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analytics.ErrStoreUnavailable, err)
	}
	return samples, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, analytics.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, analytics.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "other"
	}
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"dc-monitor/internal/metrics"
	"dc-monitor/internal/models"

	"go.uber.org/zap"
)

var (
	ErrEmptySample     = errors.New("sample has no metric values")
	ErrNonFiniteSample = errors.New("sample has a non-finite metric value")
)

const drainTimeout = 5 * time.Second

type Store interface {
	Save(ctx context.Context, sample models.MetricSample) error
}

type Evaluator interface {
	Evaluate(ctx context.Context, sample models.MetricSample) []models.Alert
}

// Pipeline принимает снимки в буферизованную очередь; воркеры пишут их в
// хранилище и сразу прогоняют через пороговые алерты.
type Pipeline struct {
	store     Store
	evaluator Evaluator
	logger    *zap.Logger
	queue     chan models.MetricSample
	workers   int
}

func NewPipeline(store Store, evaluator Evaluator, logger *zap.Logger, queueSize, workers int) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 10000
	}
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{
		store:     store,
		evaluator: evaluator,
		logger:    logger.Named("ingest"),
		queue:     make(chan models.MetricSample, queueSize),
		workers:   workers,
	}
}

// Prepare проставляет время приёма снимкам без timestamp.
func Prepare(sample models.MetricSample, now time.Time) (models.MetricSample, error) {
	values := sample.Values()
	if len(values) == 0 {
		return models.MetricSample{}, ErrEmptySample
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.MetricSample{}, fmt.Errorf("%w: %s", ErrNonFiniteSample, name)
		}
	}
	if sample.Timestamp().IsZero() {
		return models.NewMetricSample(now.UTC(), values), nil
	}
	return sample, nil
}

// Submit не блокируется: false означает, что очередь заполнена и снимок отброшен.
func (p *Pipeline) Submit(sample models.MetricSample) bool {
	select {
	case p.queue <- sample:
		return true
	default:
		metrics.SamplesDropped.Inc()
		return false
	}
}

func (p *Pipeline) Pending() int {
	return len(p.queue)
}

// Run обрабатывает очередь до отмены ctx, затем дочищает то, что уже принято.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()

	p.drain()
}

func (p *Pipeline) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-p.queue:
			p.process(ctx, sample)
		}
	}
}

func (p *Pipeline) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	drained := 0
	for {
		select {
		case sample := <-p.queue:
			p.process(ctx, sample)
			drained++
		default:
			if drained > 0 {
				p.logger.Info("Ingest queue drained", zap.Int("samples", drained))
			}
			return
		}
	}
}

func (p *Pipeline) process(ctx context.Context, sample models.MetricSample) {
	// Сохранение снимка
	if err := p.store.Save(ctx, sample); err != nil {
		metrics.SamplesStoreErrors.Inc()
		p.logger.Error("Failed to store sample",
			zap.Time("timestamp", sample.Timestamp()),
			zap.Error(err))
	}

	// Алерты оцениваются даже если запись не удалась
	if p.evaluator == nil {
		return
	}
	for _, a := range p.evaluator.Evaluate(ctx, sample) {
		p.logger.Debug("Alert raised",
			zap.String("alert_id", a.ID),
			zap.String("metric", a.MetricType),
			zap.String("severity", string(a.Severity)))
	}
}

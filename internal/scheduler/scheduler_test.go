package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"dc-monitor/internal/analytics"
	"dc-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	samples []models.MetricSample
	err     error
	calls   int
}

func (m *memStore) Query(ctx context.Context, since time.Time, limit int, order models.Order) ([]models.MetricSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	out := make([]models.MetricSample, 0, len(m.samples))
	for _, s := range m.samples {
		if !s.Timestamp().Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if order == models.Descending {
			return out[i].Timestamp().After(out[j].Timestamp())
		}
		return out[i].Timestamp().Before(out[j].Timestamp())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type captureSink struct {
	mu      sync.Mutex
	results []models.AnalysisResult
}

func (c *captureSink) SaveAnalysis(ctx context.Context, r models.AnalysisResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var now0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func history(n int, end time.Time) []models.MetricSample {
	r := rand.New(rand.NewSource(5))
	out := make([]models.MetricSample, n)
	for i := 0; i < n; i++ {
		ts := end.Add(-time.Duration(n-i) * time.Minute)
		out[i] = models.NewMetricSample(ts, map[string]float64{
			models.MetricCPU:         30 + 5*r.NormFloat64(),
			models.MetricMemory:      60 + 3*r.NormFloat64(),
			models.MetricDisk:        45 + r.NormFloat64(),
			models.MetricTemperature: 24 + r.NormFloat64(),
			models.MetricHumidity:    45,
		})
	}
	return out
}

func newScheduler(store MetricsStore, clk *clock, opts ...Option) *Scheduler {
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	return New(DefaultConfig(), store, nil, opts...)
}

func TestScheduler_DefaultResultBeforeTraining(t *testing.T) {
	clk := &clock{now: now0}
	s := newScheduler(&memStore{}, clk)

	current := s.Current()
	assert.Equal(t, analytics.DefaultHealthScore, current.HealthScore)
	assert.Equal(t, analytics.StatusAnalyzing, current.Status)
	assert.Zero(t, current.Version)
	assert.Equal(t, StateUninitialized, s.State())

	summary := s.Summary()
	assert.Equal(t, 50, summary.HealthScore)
	assert.Equal(t, "uninitialized", summary.State)
	assert.Nil(t, summary.LastAnalysis)
}

func TestScheduler_InsufficientDataStaysUninitialized(t *testing.T) {
	clk := &clock{now: now0}
	store := &memStore{samples: history(20, now0)}
	s := newScheduler(store, clk)

	err := s.Tick(context.Background())
	assert.ErrorIs(t, err, analytics.ErrInsufficientData)
	assert.Equal(t, StateUninitialized, s.State())
	assert.Equal(t, analytics.StatusAnalyzing, s.Current().Status)

	// следующий тик с достаточной историей обучает и публикует
	store.mu.Lock()
	store.samples = history(100, now0)
	store.mu.Unlock()

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, uint64(1), s.Current().Version)
}

func TestScheduler_PublishesResult(t *testing.T) {
	clk := &clock{now: now0}
	samples := history(100, now0)
	samples = append(samples, models.NewMetricSample(now0, map[string]float64{
		models.MetricCPU:         95,
		models.MetricMemory:      60,
		models.MetricDisk:        45,
		models.MetricTemperature: 24,
		models.MetricHumidity:    45,
	}))
	sink := &captureSink{}
	s := newScheduler(&memStore{samples: samples}, clk, WithSink(sink))

	require.NoError(t, s.Tick(context.Background()))

	result := s.Current()
	assert.Equal(t, uint64(1), result.Version)
	assert.Equal(t, 101, result.SampleCount)
	assert.Equal(t, now0, result.GeneratedAt)
	assert.NotEqual(t, analytics.StatusAnalyzing, result.Status)
	assert.Equal(t, analytics.StatusLabel(result.HealthScore), result.Status)

	require.NotEmpty(t, result.Anomalies)
	last := result.Anomalies[len(result.Anomalies)-1]
	assert.Equal(t, models.MetricCPU, last.Metric)
	assert.Equal(t, models.SeverityCritical, last.Severity)

	cpuScore, ok := result.Scores[models.MetricCPU]
	require.True(t, ok)
	assert.True(t, cpuScore.IsAnomaly)
	_, humidityScored := result.Scores[models.MetricHumidity]
	assert.False(t, humidityScored)

	assert.Len(t, result.Trends, 5)
	assert.Len(t, result.Forecasts, 5)
	assert.LessOrEqual(t, len(result.Recommendations), 10)

	require.Len(t, sink.results, 1)
	assert.Equal(t, result.Version, sink.results[0].Version)

	summary := s.Summary()
	assert.Equal(t, "ready", summary.State)
	require.NotNil(t, summary.LastAnalysis)
	assert.Equal(t, now0, *summary.LastAnalysis)
	assert.Equal(t, len(result.Anomalies), summary.AnomaliesCount)
}

func TestScheduler_StoreFailureKeepsPreviousResult(t *testing.T) {
	clk := &clock{now: now0}
	store := &memStore{samples: history(100, now0)}
	s := newScheduler(store, clk)

	require.NoError(t, s.Tick(context.Background()))
	before := s.Current()

	store.setErr(errors.New("connection refused"))
	clk.Advance(10 * time.Minute)

	err := s.Tick(context.Background())
	assert.ErrorIs(t, err, analytics.ErrStoreUnavailable)
	assert.Equal(t, before, s.Current())
	assert.Equal(t, StateReady, s.State())
}

func TestScheduler_RetrainsOnlyAfterInterval(t *testing.T) {
	clk := &clock{now: now0}
	store := &memStore{samples: history(100, now0)}
	s := newScheduler(store, clk)

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 2, store.callCount(), "training query + analysis query")

	clk.Advance(10 * time.Minute)
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 3, store.callCount(), "analysis only")

	clk.Advance(time.Hour)
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 5, store.callCount(), "retrain + analysis")
	assert.Equal(t, uint64(3), s.Current().Version)
}

func TestScheduler_ReadersSeeWholeResults(t *testing.T) {
	clk := &clock{now: now0}
	s := newScheduler(&memStore{samples: history(200, now0)}, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				r := s.Current()
				if r.Version == 0 {
					assert.Equal(t, analytics.StatusAnalyzing, r.Status)
				} else {
					assert.Equal(t, analytics.StatusLabel(r.HealthScore), r.Status)
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Tick(context.Background()))
		clk.Advance(10 * time.Minute)
	}
	cancel()
	wg.Wait()

	assert.Equal(t, uint64(5), s.Current().Version)
}

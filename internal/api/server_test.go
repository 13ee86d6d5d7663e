package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"dc-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnalysis struct {
	result models.AnalysisResult
}

func (s stubAnalysis) Current() models.AnalysisResult { return s.result }

func (s stubAnalysis) Summary() models.AnalysisSummary {
	return models.AnalysisSummary{
		HealthScore:    s.result.HealthScore,
		Status:         s.result.Status,
		State:          "ready",
		AnomaliesCount: len(s.result.Anomalies),
	}
}

type stubAlerts struct {
	alerts      []models.Alert
	lastLimit   int
	statsWindow time.Duration
	resolved    []string
}

func (s *stubAlerts) ActiveAlerts(limit int) []models.Alert {
	s.lastLimit = limit
	return s.alerts
}

func (s *stubAlerts) RecentAlerts(limit int) []models.Alert {
	s.lastLimit = limit
	return s.alerts
}

func (s *stubAlerts) NotificationStats(window time.Duration) models.NotificationStats {
	s.statsWindow = window
	return models.NotificationStats{TotalAlerts: len(s.alerts)}
}

func (s *stubAlerts) ResolveAlert(id string) bool {
	for _, a := range s.alerts {
		if a.ID == id {
			s.resolved = append(s.resolved, id)
			return true
		}
	}
	return false
}

type stubSink struct {
	accept  bool
	samples []models.MetricSample
}

func (s *stubSink) Submit(sample models.MetricSample) bool {
	if s.accept {
		s.samples = append(s.samples, sample)
	}
	return s.accept
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	server *Server
	alerts *stubAlerts
	sink   *stubSink
}

func newFixture(pingErr error) fixture {
	anomalies := make([]models.AnomalyRecord, 15)
	for i := range anomalies {
		anomalies[i] = models.AnomalyRecord{Metric: models.MetricCPU, Value: float64(i)}
	}
	analysis := stubAnalysis{result: models.AnalysisResult{
		Version:     2,
		HealthScore: 81,
		Status:      "Good",
		Anomalies:   anomalies,
	}}
	alerts := &stubAlerts{alerts: []models.Alert{{ID: "a-1", MetricType: "cpu", Severity: models.SeverityCritical}}}
	sink := &stubSink{accept: true}

	s := NewServer(analysis, alerts, sink, stubPinger{err: pingErr}, nil)
	s.now = func() time.Time { return t0 }
	return fixture{server: s, alerts: alerts, sink: sink}
}

func (f fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := newFixture(nil).do("GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ready", body["analysis"])

	rec = newFixture(errors.New("connection refused")).do("GET", "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestIngest(t *testing.T) {
	f := newFixture(nil)

	rec := f.do("POST", "/metrics/ingest", `{"cpu_percent": 55.5, "memory_percent": 40}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.sink.samples, 1)
	assert.True(t, f.sink.samples[0].Timestamp().Equal(t0), "missing timestamp is stamped on arrival")
	assert.Equal(t, 55.5, f.sink.samples[0].ValueOrZero(models.MetricCPU))

	rec = f.do("POST", "/metrics/ingest", `{"timestamp": "2024-02-01T00:00:00Z", "disk_percent": 12}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 2024, f.sink.samples[1].Timestamp().Year())
	assert.Equal(t, time.February, f.sink.samples[1].Timestamp().Month())
}

func TestIngest_Rejections(t *testing.T) {
	f := newFixture(nil)

	assert.Equal(t, http.StatusBadRequest, f.do("POST", "/metrics/ingest", `{broken`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("POST", "/metrics/ingest", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("POST", "/metrics/ingest", `{"cpu_percent": "Infinity"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("POST", "/metrics/ingest", `{"humidity": "NaN"}`).Code)
	assert.Empty(t, f.sink.samples)

	f.sink.accept = false
	assert.Equal(t, http.StatusServiceUnavailable, f.do("POST", "/metrics/ingest", `{"cpu_percent": 1}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do("GET", "/metrics/ingest", "").Code)
}

func TestAnalytics(t *testing.T) {
	f := newFixture(nil)

	rec := f.do("GET", "/analytics/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var result models.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 81, result.HealthScore)
	assert.Equal(t, uint64(2), result.Version)

	rec = f.do("GET", "/analytics/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.AnalysisSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 15, summary.AnomaliesCount)

	rec = f.do("GET", "/analytics/anomalies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var anomalies []models.AnomalyRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &anomalies))
	require.Len(t, anomalies, 10)
	assert.Equal(t, 14.0, anomalies[9].Value, "most recent last")

	rec = f.do("GET", "/analytics/anomalies?limit=3", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &anomalies))
	assert.Len(t, anomalies, 3)

	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/analytics/anomalies?limit=-1", "").Code)
}

func TestAlerts(t *testing.T) {
	f := newFixture(nil)

	rec := f.do("GET", "/alerts?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.alerts.lastLimit)

	rec = f.do("GET", "/alerts/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.alerts.lastLimit, "manager applies its own default")
	var active []models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	require.Len(t, active, 1)
	assert.Equal(t, "a-1", active[0].ID)

	rec = f.do("GET", "/alerts/stats?window=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Hour, f.alerts.statsWindow)
	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/alerts/stats?window=soon", "").Code)
}

func TestResolveAlert(t *testing.T) {
	f := newFixture(nil)

	rec := f.do("POST", "/alerts/a-1/resolve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a-1"}, f.alerts.resolved)

	assert.Equal(t, http.StatusNotFound, f.do("POST", "/alerts/missing/resolve", "").Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	f := newFixture(nil)
	f.do("GET", "/health", "")

	rec := f.do("GET", "/metrics/prometheus", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRun_ListenFailureReturnsAndReleases(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	s := newFixture(nil).server
	before := runtime.NumGoroutine()

	for i := 0; i < 5; i++ {
		err := s.Run(context.Background(), RunConfig{Addr: busy.Addr().String(), ShutdownTimeout: time.Second})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "could not listen")
	}

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before }, 2*time.Second, 10*time.Millisecond)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := newFixture(nil).server
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, RunConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

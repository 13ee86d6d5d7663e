package analytics

import (
	"fmt"
	"testing"

	"dc-monitor/internal/models"

	"github.com/stretchr/testify/assert"
)

func sampleWith(values map[string]float64) *models.MetricSample {
	s := models.NewMetricSample(t0, values)
	return &s
}

func anomaliesN(n int) []models.AnomalyRecord {
	out := make([]models.AnomalyRecord, n)
	for i := range out {
		out[i] = models.AnomalyRecord{Metric: models.MetricCPU, Severity: models.SeverityWarning}
	}
	return out
}

func TestHealthScorer_Score(t *testing.T) {
	var h HealthScorer

	tests := []struct {
		name      string
		anomalies []models.AnomalyRecord
		trends    []models.TrendRecord
		latest    *models.MetricSample
		want      int
	}{
		{"healthy", nil, nil, sampleWith(map[string]float64{models.MetricCPU: 20}), 100},
		{"no sample", anomaliesN(2), nil, nil, 90},
		{"anomaly penalty capped", anomaliesN(20), nil, nil, 70},
		{"cpu high tier", nil, nil, sampleWith(map[string]float64{models.MetricCPU: 91}), 85},
		{"cpu low tier", nil, nil, sampleWith(map[string]float64{models.MetricCPU: 85}), 90},
		{"memory tiers", nil, nil, sampleWith(map[string]float64{models.MetricMemory: 96}), 85},
		{"disk high tier", nil, nil, sampleWith(map[string]float64{models.MetricDisk: 96}), 80},
		{"disk low tier", nil, nil, sampleWith(map[string]float64{models.MetricDisk: 92}), 85},
		{"temperature tiers", nil, nil, sampleWith(map[string]float64{models.MetricTemperature: 36}), 95},
		{
			"strong rising trends",
			nil,
			[]models.TrendRecord{
				{Metric: models.MetricCPU, Direction: models.DirectionIncreasing, Strength: 80},
				{Metric: models.MetricDisk, Direction: models.DirectionIncreasing, Strength: 71},
				{Metric: models.MetricMemory, Direction: models.DirectionIncreasing, Strength: 70},
				{Metric: models.MetricHumidity, Direction: models.DirectionDecreasing, Strength: 100},
			},
			nil,
			90,
		},
		{
			"everything on fire clamps to zero",
			anomaliesN(10),
			[]models.TrendRecord{
				{Direction: models.DirectionIncreasing, Strength: 100},
				{Direction: models.DirectionIncreasing, Strength: 100},
				{Direction: models.DirectionIncreasing, Strength: 100},
				{Direction: models.DirectionIncreasing, Strength: 100},
			},
			sampleWith(map[string]float64{
				models.MetricCPU:         99,
				models.MetricMemory:      99,
				models.MetricDisk:        99,
				models.MetricTemperature: 45,
			}),
			0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Score(tt.anomalies, tt.trends, tt.latest)
			assert.Equal(t, tt.want, got)
			// чистая функция - повторный вызов даёт тот же результат
			assert.Equal(t, got, h.Score(tt.anomalies, tt.trends, tt.latest))
		})
	}
}

func TestHealthScorer_AlwaysInRange(t *testing.T) {
	var h HealthScorer
	for n := 0; n < 12; n++ {
		for _, cpu := range []float64{0, 50, 85, 95, 150} {
			t.Run(fmt.Sprintf("n=%d cpu=%v", n, cpu), func(t *testing.T) {
				score := h.Score(anomaliesN(n), nil, sampleWith(map[string]float64{
					models.MetricCPU:  cpu,
					models.MetricDisk: cpu,
				}))
				assert.GreaterOrEqual(t, score, 0)
				assert.LessOrEqual(t, score, 100)
			})
		}
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{
		100: StatusExcellent,
		90:  StatusExcellent,
		89:  StatusGood,
		80:  StatusGood,
		75:  StatusSatisfactory,
		60:  StatusNeedsAttention,
		50:  StatusProblemsDetected,
		49:  StatusCritical,
		0:   StatusCritical,
	}
	for score, want := range tests {
		assert.Equal(t, want, StatusLabel(score), "score %d", score)
	}
}

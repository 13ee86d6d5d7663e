package analytics

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"dc-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var correlationMetrics = []string{
	models.MetricCPU, models.MetricMemory, models.MetricDisk,
	models.MetricTemperature, models.MetricHumidity,
	models.MetricNetworkSent, models.MetricNetworkRecv,
}

func correlatedWindow(n int) []models.MetricSample {
	r := rand.New(rand.NewSource(11))
	window := make([]models.MetricSample, n)
	for i := 0; i < n; i++ {
		cpu := 20 + 60*r.Float64()
		window[i] = models.NewMetricSample(t0.Add(time.Duration(i)*time.Minute), map[string]float64{
			models.MetricCPU:         cpu,
			models.MetricTemperature: 18 + cpu*0.2,
			models.MetricMemory:      100 - cpu,
			models.MetricDisk:        50 + 10*r.Float64(),
			models.MetricHumidity:    45,
		})
	}
	return window
}

func TestCorrelationAnalyzer_PairsAndInsights(t *testing.T) {
	c := NewCorrelationAnalyzer(correlationMetrics)
	report := c.Analyze(correlatedWindow(100))

	seen := map[[2]string]bool{}
	var cpuTemp, memCPU *models.CorrelationRecord
	for i := range report.Pairs {
		p := report.Pairs[i]
		assert.NotEqual(t, p.Metric1, p.Metric2, "self pair")
		assert.LessOrEqual(t, math.Abs(p.Coefficient), 1.0)

		key := [2]string{p.Metric1, p.Metric2}
		if p.Metric2 < p.Metric1 {
			key = [2]string{p.Metric2, p.Metric1}
		}
		assert.False(t, seen[key], "duplicate pair %v", key)
		seen[key] = true

		switch key {
		case [2]string{models.MetricCPU, models.MetricTemperature}:
			cpuTemp = &report.Pairs[i]
		case [2]string{models.MetricCPU, models.MetricMemory}:
			memCPU = &report.Pairs[i]
		}
		assert.NotEqual(t, models.MetricHumidity, p.Metric1)
		assert.NotEqual(t, models.MetricHumidity, p.Metric2)
	}

	// cpu, memory, disk, temperature -> 6 пар
	assert.Len(t, report.Pairs, 6)

	require.NotNil(t, cpuTemp)
	assert.InDelta(t, 1.0, cpuTemp.Coefficient, 1e-9)
	assert.Equal(t, "very_strong", cpuTemp.Strength)
	assert.True(t, cpuTemp.Significant)
	assert.Contains(t, cpuTemp.Insight, "r=1.00")

	require.NotNil(t, memCPU)
	assert.InDelta(t, -1.0, memCPU.Coefficient, 1e-9)
	assert.Contains(t, memCPU.Insight, "r=-1.00")

	assert.Contains(t, report.Insights, cpuTemp.Insight)
	assert.Equal(t, 1.0, report.Matrix[models.MetricCPU][models.MetricCPU])
	assert.Equal(t, report.Matrix[models.MetricCPU][models.MetricDisk], report.Matrix[models.MetricDisk][models.MetricCPU])
}

func TestCorrelationAnalyzer_PairWithoutInsight(t *testing.T) {
	c := NewCorrelationAnalyzer([]string{models.MetricCPU, models.MetricTemperature, models.MetricMemory, models.MetricDisk})
	report := c.Analyze(correlatedWindow(50))

	for _, p := range report.Pairs {
		if p.Metric1 == models.MetricDisk || p.Metric2 == models.MetricDisk {
			assert.Empty(t, p.Insight)
		}
	}
}

func TestCorrelationAnalyzer_NotEnoughMetrics(t *testing.T) {
	c := NewCorrelationAnalyzer(correlationMetrics)

	window := []models.MetricSample{
		models.NewMetricSample(t0, map[string]float64{models.MetricCPU: 10, models.MetricHumidity: 40}),
		models.NewMetricSample(t0.Add(time.Minute), map[string]float64{models.MetricCPU: 20, models.MetricHumidity: 40}),
	}
	report := c.Analyze(window)
	assert.Empty(t, report.Pairs)
	assert.Empty(t, report.Insights)

	assert.Empty(t, c.Analyze(nil).Pairs)
}

func TestCorrelationStrength(t *testing.T) {
	assert.Equal(t, "very_strong", CorrelationStrength(-0.85))
	assert.Equal(t, "strong", CorrelationStrength(0.6))
	assert.Equal(t, "moderate", CorrelationStrength(0.45))
	assert.Equal(t, "weak", CorrelationStrength(0.1))
}

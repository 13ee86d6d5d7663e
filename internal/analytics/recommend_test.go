package analytics

import (
	"fmt"
	"testing"

	"dc-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecommendationEngine_RulesAndOrdering(t *testing.T) {
	var e RecommendationEngine

	latest := sampleWith(map[string]float64{
		models.MetricCPU:         85,
		models.MetricMemory:      90,
		models.MetricDisk:        93,
		models.MetricTemperature: 37,
	})
	trends := []models.TrendRecord{
		{Metric: models.MetricCPU, Direction: models.DirectionIncreasing, Strength: 60},
		{Metric: models.MetricDisk, Direction: models.DirectionIncreasing, Strength: 40},
	}

	recs := e.Generate(latest, anomaliesN(6), trends)
	require.Len(t, recs, 6)

	categories := make([]string, len(recs))
	for i, r := range recs {
		categories[i] = r.Category
	}
	assert.Equal(t, []string{"storage", "performance", "memory", "anomaly", "environment", "trend"}, categories)
	assert.Equal(t, models.PriorityCritical, recs[0].Priority)
	assert.Contains(t, recs[5].Title, models.MetricCPU)
}

func TestRecommendationEngine_SortedAndCapped(t *testing.T) {
	var e RecommendationEngine

	trends := make([]models.TrendRecord, 12)
	for i := range trends {
		trends[i] = models.TrendRecord{
			Metric:    fmt.Sprintf("metric_%02d", i),
			Direction: models.DirectionIncreasing,
			Strength:  90,
		}
	}
	latest := sampleWith(map[string]float64{models.MetricDisk: 99})

	recs := e.Generate(latest, anomaliesN(8), trends)
	require.Len(t, recs, 10)

	for i := 1; i < len(recs); i++ {
		assert.LessOrEqual(t, recs[i-1].Priority.Rank(), recs[i].Priority.Rank())
	}
	assert.Equal(t, "storage", recs[0].Category)
	assert.Equal(t, "anomaly", recs[1].Category)
	// стабильная сортировка: тренды идут в порядке правил
	assert.Contains(t, recs[2].Title, "metric_00")
	assert.Contains(t, recs[9].Title, "metric_07")
}

func TestRecommendationEngine_NothingToSay(t *testing.T) {
	var e RecommendationEngine

	recs := e.Generate(sampleWith(map[string]float64{models.MetricCPU: 10}), anomaliesN(5), nil)
	assert.Empty(t, recs)

	recs = e.Generate(nil, nil, nil)
	assert.Empty(t, recs)
}

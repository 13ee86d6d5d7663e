package analytics

import (
	"fmt"
	"sort"

	"dc-monitor/internal/models"
)

const maxRecommendations = 10

type RecommendationEngine struct{}

// Generate применяет правила в фиксированном порядке и стабильно сортирует
// результат по приоритету, так что равные приоритеты сохраняют порядок правил.
func (RecommendationEngine) Generate(latest *models.MetricSample, anomalies []models.AnomalyRecord, trends []models.TrendRecord) []models.Recommendation {
	recs := make([]models.Recommendation, 0)

	if latest != nil {
		if cpu := latest.ValueOrZero(models.MetricCPU); cpu > 80 {
			recs = append(recs, models.Recommendation{
				Priority:    models.PriorityHigh,
				Category:    "performance",
				Title:       "High CPU load",
				Description: fmt.Sprintf("CPU load is %.1f%%", cpu),
				Action:      "Consider scaling resources or optimizing processes",
			})
		}

		if mem := latest.ValueOrZero(models.MetricMemory); mem > 85 {
			recs = append(recs, models.Recommendation{
				Priority:    models.PriorityHigh,
				Category:    "memory",
				Title:       "High memory usage",
				Description: fmt.Sprintf("Memory usage is %.1f%%", mem),
				Action:      "Add RAM or optimize applications",
			})
		}

		if disk := latest.ValueOrZero(models.MetricDisk); disk > 90 {
			recs = append(recs, models.Recommendation{
				Priority:    models.PriorityCritical,
				Category:    "storage",
				Title:       "Disk space critically low",
				Description: fmt.Sprintf("Disk usage: %.1f%%", disk),
				Action:      "Free up disk space immediately or add storage",
			})
		}

		if temp := latest.ValueOrZero(models.MetricTemperature); temp > 35 {
			recs = append(recs, models.Recommendation{
				Priority:    models.PriorityMedium,
				Category:    "environment",
				Title:       "Elevated temperature",
				Description: fmt.Sprintf("Facility temperature: %.1f°C", temp),
				Action:      "Check cooling and ventilation systems",
			})
		}
	}

	for _, t := range trends {
		if t.Direction != models.DirectionIncreasing || t.Strength <= 50 {
			continue
		}
		recs = append(recs, models.Recommendation{
			Priority:    models.PriorityMedium,
			Category:    "trend",
			Title:       fmt.Sprintf("Sustained growth of %s", t.Metric),
			Description: fmt.Sprintf("Metric %s shows sustained growth (slope %.2f per sample)", t.Metric, t.Slope),
			Action:      "Prepare for thresholds being exceeded",
		})
	}

	if len(anomalies) > 5 {
		recs = append(recs, models.Recommendation{
			Priority:    models.PriorityHigh,
			Category:    "anomaly",
			Title:       "Multiple anomalies",
			Description: fmt.Sprintf("%d anomalies detected", len(anomalies)),
			Action:      "Run detailed system diagnostics",
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority.Rank() < recs[j].Priority.Rank()
	})

	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

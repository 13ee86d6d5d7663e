package analytics

import "dc-monitor/internal/models"

const (
	StatusExcellent        = "Excellent"
	StatusGood             = "Good"
	StatusSatisfactory     = "Satisfactory"
	StatusNeedsAttention   = "Needs attention"
	StatusProblemsDetected = "Problems detected"
	StatusCritical         = "Critical"
	// StatusAnalyzing - статус до первого успешного обучения
	StatusAnalyzing = "Analyzing..."

	DefaultHealthScore = 50
)

type HealthScorer struct{}

// Score - чистая функция: 100 минус штрафы за аномалии, превышения
// порогов в последнем снимке и сильные растущие тренды, в пределах [0,100].
func (HealthScorer) Score(anomalies []models.AnomalyRecord, trends []models.TrendRecord, latest *models.MetricSample) int {
	score := 100

	penalty := 5 * len(anomalies)
	if penalty > 30 {
		penalty = 30
	}
	score -= penalty

	if latest != nil {
		score -= tiered(latest.ValueOrZero(models.MetricCPU), 90, 15, 80, 10)
		score -= tiered(latest.ValueOrZero(models.MetricMemory), 95, 15, 85, 10)
		score -= tiered(latest.ValueOrZero(models.MetricDisk), 95, 20, 90, 15)
		score -= tiered(latest.ValueOrZero(models.MetricTemperature), 40, 10, 35, 5)
	}

	for _, t := range trends {
		if t.Direction == models.DirectionIncreasing && t.Strength > 70 {
			score -= 5
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func tiered(value, high float64, highPenalty int, low float64, lowPenalty int) int {
	switch {
	case value > high:
		return highPenalty
	case value > low:
		return lowPenalty
	default:
		return 0
	}
}

func StatusLabel(score int) string {
	switch {
	case score >= 90:
		return StatusExcellent
	case score >= 80:
		return StatusGood
	case score >= 70:
		return StatusSatisfactory
	case score >= 60:
		return StatusNeedsAttention
	case score >= 50:
		return StatusProblemsDetected
	default:
		return StatusCritical
	}
}

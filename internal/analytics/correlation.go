package analytics

import (
	"fmt"
	"math"

	"dc-monitor/internal/models"

	"gonum.org/v1/gonum/stat"
)

// SignificanceThreshold - единственный порог значимости корреляции для всех вызовов.
const SignificanceThreshold = 0.5

type pairKey struct {
	a, b string
}

var insightTemplates = map[pairKey]string{
	{models.MetricCPU, models.MetricTemperature}:         "High CPU load correlates with temperature (r=%.2f). Watch cooling under heavy load.",
	{models.MetricMemory, models.MetricCPU}:              "Memory usage is linked to CPU load (r=%.2f). Resources may be running short.",
	{models.MetricTemperature, models.MetricHumidity}:    "Temperature and humidity are related (r=%.2f). Keep the facility climate under control.",
	{models.MetricNetworkSent, models.MetricNetworkRecv}: "Inbound and outbound traffic correlate (r=%.2f). Network load is symmetric.",
}

type CorrelationAnalyzer struct {
	metrics []string
}

func NewCorrelationAnalyzer(metrics []string) *CorrelationAnalyzer {
	return &CorrelationAnalyzer{metrics: metrics}
}

// Analyze считает коэффициент Пирсона для каждой неупорядоченной пары
// метрик с ненулевой дисперсией. Пары строятся только по снимкам,
// где присутствуют обе метрики.
func (c *CorrelationAnalyzer) Analyze(window []models.MetricSample) models.CorrelationReport {
	report := models.CorrelationReport{
		Pairs:    []models.CorrelationRecord{},
		Insights: []string{},
	}

	available := make([]string, 0, len(c.metrics))
	for _, m := range c.metrics {
		values := columnValues(window, m)
		if len(values) < 2 {
			continue
		}
		if _, std := stat.MeanStdDev(values, nil); std == 0 || math.IsNaN(std) {
			continue
		}
		available = append(available, m)
	}
	if len(available) < 2 {
		return report
	}

	report.Matrix = make(map[string]map[string]float64, len(available))
	for _, m := range available {
		report.Matrix[m] = map[string]float64{m: 1}
	}

	for i := 0; i < len(available); i++ {
		for j := i + 1; j < len(available); j++ {
			m1, m2 := available[i], available[j]
			r, ok := pearson(window, m1, m2)
			if !ok {
				continue
			}
			report.Matrix[m1][m2] = r
			report.Matrix[m2][m1] = r

			record := models.CorrelationRecord{
				Metric1:     m1,
				Metric2:     m2,
				Coefficient: r,
				Strength:    CorrelationStrength(r),
				Significant: math.Abs(r) >= SignificanceThreshold,
			}
			if record.Significant {
				record.Insight = correlationInsight(m1, m2, r)
				if record.Insight != "" {
					report.Insights = append(report.Insights, record.Insight)
				}
			}
			report.Pairs = append(report.Pairs, record)
		}
	}

	return report
}

func pearson(window []models.MetricSample, m1, m2 string) (float64, bool) {
	xs := make([]float64, 0, len(window))
	ys := make([]float64, 0, len(window))
	for _, s := range window {
		x, ok1 := s.Value(m1)
		y, ok2 := s.Value(m2)
		if !ok1 || !ok2 || math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if len(xs) < 2 {
		return 0, false
	}

	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		return 0, false
	}
	// Защита от погрешности округления
	return math.Max(-1, math.Min(1, r)), true
}

func CorrelationStrength(r float64) string {
	abs := math.Abs(r)
	switch {
	case abs >= 0.8:
		return "very_strong"
	case abs >= 0.6:
		return "strong"
	case abs >= 0.4:
		return "moderate"
	default:
		return "weak"
	}
}

func correlationInsight(m1, m2 string, r float64) string {
	tmpl, ok := insightTemplates[pairKey{m1, m2}]
	if !ok {
		tmpl, ok = insightTemplates[pairKey{m2, m1}]
	}
	if !ok {
		return ""
	}
	return fmt.Sprintf(tmpl, r)
}

package analytics

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"dc-monitor/internal/models"

	"gonum.org/v1/gonum/stat"
)

type DetectorConfig struct {
	MinSamples    int
	Contamination float64
	Trees         int
	SubsampleSize int
	Seed          int64
	// MaxAnomalies - сколько последних аномалий оставлять за один проход
	MaxAnomalies int
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinSamples:    10,
		Contamination: 0.1,
		Trees:         100,
		SubsampleSize: 256,
		Seed:          42,
		MaxAnomalies:  10,
	}
}

type metricModel struct {
	baseline models.Baseline
	forest   *isolationForest
}

// AnomalyDetector хранит обученные модели в неизменяемом снимке:
// переобучение подменяет указатель, а идущие параллельно Score
// продолжают работать со старым снимком.
type AnomalyDetector struct {
	cfg    DetectorConfig
	models atomic.Pointer[map[string]metricModel]
}

func NewAnomalyDetector(cfg DetectorConfig) *AnomalyDetector {
	def := DefaultDetectorConfig()
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = def.Contamination
	}
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.SubsampleSize <= 0 {
		cfg.SubsampleSize = def.SubsampleSize
	}
	if cfg.MaxAnomalies <= 0 {
		cfg.MaxAnomalies = def.MaxAnomalies
	}
	return &AnomalyDetector{cfg: cfg}
}

func (d *AnomalyDetector) IsTrained() bool {
	return d.models.Load() != nil
}

// Train строит baseline и модель для каждой метрики. При нехватке данных
// возвращает ErrInsufficientData и не трогает ранее обученные модели.
func (d *AnomalyDetector) Train(samples []models.MetricSample, metrics []string) (map[string]models.Baseline, error) {
	if len(samples) < d.cfg.MinSamples {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, len(samples), d.cfg.MinSamples)
	}

	trained := make(map[string]metricModel, len(metrics))
	baselines := make(map[string]models.Baseline, len(metrics))

	for i, metric := range metrics {
		values := columnValues(samples, metric)
		if len(values) < d.cfg.MinSamples {
			continue
		}

		baseline := computeBaseline(metric, values)
		baselines[metric] = baseline

		// Константный сигнал в оценку не попадает
		if baseline.Degenerate() {
			continue
		}

		normalized := make([]float64, len(values))
		for j, v := range values {
			normalized[j] = (v - baseline.Mean) / baseline.Std
		}

		trained[metric] = metricModel{
			baseline: baseline,
			forest:   fitIsolationForest(normalized, d.cfg.Trees, d.cfg.SubsampleSize, d.cfg.Contamination, d.cfg.Seed+int64(i)),
		}
	}

	if len(baselines) == 0 {
		return nil, fmt.Errorf("%w: no metric has %d values", ErrInsufficientData, d.cfg.MinSamples)
	}

	d.models.Store(&trained)
	return baselines, nil
}

func (d *AnomalyDetector) Baselines() map[string]models.Baseline {
	snapshot := d.models.Load()
	if snapshot == nil {
		return map[string]models.Baseline{}
	}
	out := make(map[string]models.Baseline, len(*snapshot))
	for name, m := range *snapshot {
		out[name] = m.baseline
	}
	return out
}

// Score оценивает каждое значение снимка, для которого есть невырожденная модель.
func (d *AnomalyDetector) Score(sample models.MetricSample) map[string]models.AnomalyScore {
	snapshot := d.models.Load()
	scores := make(map[string]models.AnomalyScore)
	if snapshot == nil {
		return scores
	}

	for name, m := range *snapshot {
		value, ok := sample.Value(name)
		if !ok {
			continue
		}
		scores[name] = scoreValue(m, value)
	}
	return scores
}

// Detect прогоняет окно снимков через модели и возвращает не более
// MaxAnomalies последних аномалий в хронологическом порядке.
func (d *AnomalyDetector) Detect(window []models.MetricSample) []models.AnomalyRecord {
	snapshot := d.models.Load()
	if snapshot == nil {
		return []models.AnomalyRecord{}
	}

	names := make([]string, 0, len(*snapshot))
	for name := range *snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	anomalies := make([]models.AnomalyRecord, 0)
	for _, sample := range window {
		for _, name := range names {
			value, ok := sample.Value(name)
			if !ok {
				continue
			}
			m := (*snapshot)[name]
			score := scoreValue(m, value)
			if !score.IsAnomaly {
				continue
			}
			anomalies = append(anomalies, models.AnomalyRecord{
				Timestamp:    sample.Timestamp(),
				Metric:       name,
				Value:        value,
				Score:        score.Score,
				Severity:     ClassifySeverity(score.Score, score.Deviation),
				Deviation:    score.Deviation,
				BaselineMean: m.baseline.Mean,
				Description:  describeAnomaly(name, value, m.baseline.Mean),
			})
		}
	}

	if len(anomalies) > d.cfg.MaxAnomalies {
		anomalies = anomalies[len(anomalies)-d.cfg.MaxAnomalies:]
	}
	return anomalies
}

func scoreValue(m metricModel, value float64) models.AnomalyScore {
	deviation := 0.0
	if m.baseline.Std > 0 {
		deviation = math.Abs(value-m.baseline.Mean) / m.baseline.Std
	}

	score := m.forest.decision((value - m.baseline.Mean) / m.baseline.Std)
	return models.AnomalyScore{
		Score: score,
		// Отклонение больше 3σ считаем выбросом независимо от ансамбля
		IsAnomaly: score < 0 || deviation > criticalDeviation,
		Deviation: deviation,
	}
}

const (
	criticalScore     = -0.5
	warningScore      = -0.3
	criticalDeviation = 3.0
	warningDeviation  = 2.0
)

// ClassifySeverity: первое совпавшее правило выигрывает.
func ClassifySeverity(score, deviation float64) models.Severity {
	switch {
	case score < criticalScore || deviation > criticalDeviation:
		return models.SeverityCritical
	case score < warningScore || deviation > warningDeviation:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

func columnValues(samples []models.MetricSample, metric string) []float64 {
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if v, ok := s.Value(metric); ok && !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	return values
}

func computeBaseline(metric string, values []float64) models.Baseline {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		std = 0
	}

	return models.Baseline{
		Metric: metric,
		Mean:   mean,
		Std:    std,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Q25:    stat.Quantile(0.25, stat.LinInterp, sorted, nil),
		Q75:    stat.Quantile(0.75, stat.LinInterp, sorted, nil),
		Count:  len(values),
	}
}

func describeAnomaly(metric string, value, mean float64) string {
	switch metric {
	case models.MetricCPU:
		return fmt.Sprintf("CPU load %.1f%% differs significantly from normal (%.1f%%)", value, mean)
	case models.MetricMemory:
		return fmt.Sprintf("Memory usage %.1f%% is abnormal for the system (normal %.1f%%)", value, mean)
	case models.MetricDisk:
		return fmt.Sprintf("Disk usage %.1f%% deviates from typical values (%.1f%%)", value, mean)
	case models.MetricTemperature:
		return fmt.Sprintf("Temperature %.1f°C is outside the usual range (normal %.1f°C)", value, mean)
	case models.MetricHumidity:
		return fmt.Sprintf("Humidity %.1f%% is outside the normal range (%.1f%%)", value, mean)
	case models.MetricNetworkSent:
		return fmt.Sprintf("Outbound traffic %.1fMB is abnormal (usually %.1fMB)", value, mean)
	case models.MetricNetworkRecv:
		return fmt.Sprintf("Inbound traffic %.1fMB is unusual (usually %.1fMB)", value, mean)
	default:
		return fmt.Sprintf("Abnormal value of %s: %.1f", metric, value)
	}
}

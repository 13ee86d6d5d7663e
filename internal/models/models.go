package models

import "time"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank упорядочивает уровни: info < warning < critical.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionStable     Direction = "stable"
	DirectionDecreasing Direction = "decreasing"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

type Baseline struct {
	Metric string  `json:"metric"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Q25    float64 `json:"q25"`
	Q75    float64 `json:"q75"`
	Count  int     `json:"count"`
}

// Degenerate - константный сигнал, z-score не определён.
func (b Baseline) Degenerate() bool {
	return b.Std == 0
}

type AnomalyRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Metric       string    `json:"metric"`
	Value        float64   `json:"value"`
	Score        float64   `json:"score"`
	Severity     Severity  `json:"severity"`
	Deviation    float64   `json:"deviation_from_mean"`
	BaselineMean float64   `json:"baseline_mean"`
	Description  string    `json:"description"`
}

// AnomalyScore - результат оценки одного значения одной метрики.
type AnomalyScore struct {
	Score     float64 `json:"score"`
	IsAnomaly bool    `json:"is_anomaly"`
	Deviation float64 `json:"deviation_from_mean"`
}

type TrendRecord struct {
	Metric       string    `json:"metric"`
	Direction    Direction `json:"direction"`
	Strength     float64   `json:"strength"`
	Slope        float64   `json:"slope"`
	Acceleration float64   `json:"acceleration"`
	CurrentValue float64   `json:"current_value"`
	Volatility   float64   `json:"volatility"`
	RSquared     float64   `json:"r_squared"`
	Points       int       `json:"points"`
}

type ForecastRecord struct {
	Metric     string  `json:"metric"`
	Current    float64 `json:"current"`
	Predicted  float64 `json:"predicted"`
	Change     float64 `json:"change"`
	Horizon    int     `json:"horizon"`
	Confidence string  `json:"confidence"`
	RSquared   float64 `json:"r_squared"`
}

type CorrelationRecord struct {
	Metric1     string  `json:"metric1"`
	Metric2     string  `json:"metric2"`
	Coefficient float64 `json:"correlation"`
	Strength    string  `json:"strength"`
	Significant bool    `json:"significant"`
	Insight     string  `json:"insight,omitempty"`
}

type CorrelationReport struct {
	Pairs    []CorrelationRecord           `json:"pairs"`
	Matrix   map[string]map[string]float64 `json:"matrix,omitempty"`
	Insights []string                      `json:"insights"`
}

type Recommendation struct {
	Priority    Priority `json:"priority"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Action      string   `json:"action"`
}

// AnalysisResult публикуется целиком и после публикации не меняется.
type AnalysisResult struct {
	Version         uint64                  `json:"version"`
	Anomalies       []AnomalyRecord         `json:"anomalies"`
	Scores          map[string]AnomalyScore `json:"scores"`
	Trends          []TrendRecord           `json:"trends"`
	Forecasts       []ForecastRecord        `json:"forecasts"`
	Correlations    CorrelationReport       `json:"correlations"`
	Recommendations []Recommendation        `json:"recommendations"`
	HealthScore     int                     `json:"health_score"`
	Status          string                  `json:"status"`
	SampleCount     int                     `json:"sample_count"`
	GeneratedAt     time.Time               `json:"generated_at"`
}

type AnalysisSummary struct {
	HealthScore          int        `json:"health_score"`
	Status               string     `json:"status"`
	State                string     `json:"state"`
	AnomaliesCount       int        `json:"anomalies_count"`
	RecommendationsCount int        `json:"recommendations_count"`
	LastAnalysis         *time.Time `json:"last_analysis"`
}

type Alert struct {
	ID          string     `json:"id"`
	MetricType  string     `json:"metric_type"`
	Severity    Severity   `json:"severity"`
	Value       float64    `json:"value"`
	Threshold   float64    `json:"threshold"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Escalated   bool       `json:"escalated"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
}

type NotificationStats struct {
	Window                  time.Duration `json:"-"`
	WindowSeconds           float64       `json:"window_seconds"`
	TotalAlerts             int           `json:"total_alerts"`
	CriticalAlerts          int           `json:"critical_alerts"`
	ResolvedAlerts          int           `json:"resolved_alerts"`
	EscalatedAlerts         int           `json:"escalated_alerts"`
	ActiveAlerts            int           `json:"active_alerts"`
	NotificationsSent       int           `json:"notifications_sent"`
	NotificationsFailed     int           `json:"notifications_failed"`
	NotificationsSuppressed int           `json:"notifications_suppressed"`
}

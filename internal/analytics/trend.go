package analytics

import (
	"math"
	"math/rand"

	"dc-monitor/internal/models"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type Bounds struct {
	Min float64
	Max float64
}

type TrendConfig struct {
	Window int
	// Порог наклона (в единицах метрики за шаг), выше которого тренд не считается стабильным
	SlopeThreshold      float64
	Horizon             int
	AccelerationDamping float64
	// Noise включает детерминированный шум прогноза (отключён по умолчанию)
	Noise  bool
	Bounds map[string]Bounds
}

func DefaultTrendConfig() TrendConfig {
	percent := Bounds{Min: 0, Max: 100}
	return TrendConfig{
		Window:              20,
		SlopeThreshold:      0.3,
		Horizon:             6,
		AccelerationDamping: 0.1,
		Bounds: map[string]Bounds{
			models.MetricCPU:         percent,
			models.MetricMemory:      percent,
			models.MetricDisk:        percent,
			models.MetricHumidity:    percent,
			models.MetricTemperature: {Min: 15, Max: 60},
		},
	}
}

type TrendAnalyzer struct {
	cfg TrendConfig
}

func NewTrendAnalyzer(cfg TrendConfig) *TrendAnalyzer {
	def := DefaultTrendConfig()
	if cfg.Window < 3 {
		cfg.Window = def.Window
	}
	if cfg.SlopeThreshold <= 0 {
		cfg.SlopeThreshold = def.SlopeThreshold
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.AccelerationDamping <= 0 {
		cfg.AccelerationDamping = def.AccelerationDamping
	}
	if cfg.Bounds == nil {
		cfg.Bounds = def.Bounds
	}
	return &TrendAnalyzer{cfg: cfg}
}

type linearFit struct {
	slope        float64
	acceleration float64
	rSquared     float64
}

// Analyze оценивает тренд по последним Window точкам ряда.
// Меньше трёх точек - стабильный тренд нулевой силы.
func (a *TrendAnalyzer) Analyze(metric string, series []float64) models.TrendRecord {
	recent := tail(series, a.cfg.Window)
	record := models.TrendRecord{
		Metric:    metric,
		Direction: models.DirectionStable,
		Points:    len(recent),
	}
	if len(recent) > 0 {
		record.CurrentValue = recent[len(recent)-1]
	}
	if len(recent) < 3 {
		return record
	}

	fit := fitSeries(recent)
	record.Slope = fit.slope
	record.Acceleration = fit.acceleration
	record.RSquared = fit.rSquared
	record.Strength = math.Min(math.Abs(fit.slope)*10, 100)
	record.Volatility = popStdDev(recent)

	switch {
	case fit.slope > a.cfg.SlopeThreshold:
		record.Direction = models.DirectionIncreasing
	case fit.slope < -a.cfg.SlopeThreshold:
		record.Direction = models.DirectionDecreasing
	}
	return record
}

// Forecast проецирует значение на horizon шагов вперёд с учётом ускорения
// и зажимает результат в физический диапазон метрики.
func (a *TrendAnalyzer) Forecast(metric string, series []float64, horizon int) models.ForecastRecord {
	if horizon <= 0 {
		horizon = a.cfg.Horizon
	}

	recent := tail(series, a.cfg.Window)
	record := models.ForecastRecord{
		Metric:     metric,
		Horizon:    horizon,
		Confidence: "low",
	}
	if len(recent) > 0 {
		record.Current = recent[len(recent)-1]
		record.Predicted = record.Current
	}
	if len(recent) < 3 {
		return record
	}

	fit := fitSeries(recent)
	h := float64(horizon)
	predicted := record.Current + fit.slope*h + fit.acceleration*h*h*a.cfg.AccelerationDamping

	if a.cfg.Noise {
		volatility := 1.0
		if len(recent) >= 10 {
			volatility = popStdDev(recent[len(recent)-10:])
		}
		// seed зависит только от текущего значения - повторный вызов даёт то же число
		r := rand.New(rand.NewSource(int64(record.Current*100) % 1000))
		predicted += r.NormFloat64() * volatility * 0.5
	}

	record.Predicted = a.clamp(metric, predicted)
	record.Change = record.Predicted - record.Current
	record.RSquared = fit.rSquared
	record.Confidence = confidenceLabel(fit.rSquared)
	return record
}

func (a *TrendAnalyzer) clamp(metric string, v float64) float64 {
	b, ok := a.cfg.Bounds[metric]
	if !ok {
		// Счётчики трафика и процессов не бывают отрицательными
		return math.Max(v, 0)
	}
	return math.Max(b.Min, math.Min(v, b.Max))
}

func confidenceLabel(rSquared float64) string {
	switch {
	case rSquared > 0.7:
		return "high"
	case rSquared > 0.4:
		return "medium"
	default:
		return "low"
	}
}

func fitSeries(values []float64) linearFit {
	x := make([]float64, len(values))
	for i := range x {
		x[i] = float64(i)
	}

	alpha, beta := stat.LinearRegression(x, values, nil, false)
	r2 := stat.RSquared(x, values, nil, alpha, beta)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		r2 = 0
	}

	fit := linearFit{slope: beta, rSquared: r2}
	if len(values) >= 4 {
		fit.acceleration = quadraticTerm(x, values)
	}
	return fit
}

// quadraticTerm - старший коэффициент МНК-параболы a*x^2 + b*x + c.
func quadraticTerm(x, y []float64) float64 {
	n := len(x)
	design := mat.NewDense(n, 3, nil)
	for i, xi := range x {
		design.Set(i, 0, xi*xi)
		design.Set(i, 1, xi)
		design.Set(i, 2, 1)
	}

	var coef mat.VecDense
	if err := coef.SolveVec(design, mat.NewVecDense(n, append([]float64(nil), y...))); err != nil {
		return 0
	}
	return coef.AtVec(0)
}

func popStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	_, variance := stat.PopMeanVariance(values, nil)
	return math.Sqrt(variance)
}

func tail(values []float64, n int) []float64 {
	if n <= 0 || len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

// SeriesOf извлекает упорядоченный ряд значений метрики из окна; пропуски отбрасываются.
func SeriesOf(window []models.MetricSample, metric string) []float64 {
	return columnValues(window, metric)
}

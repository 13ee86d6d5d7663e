package analytics

import "errors"

// Ни одна из этих ошибок не фатальна для процесса: вызывающий решает,
// повторить на следующем тике, пропустить метрику или просто залогировать.
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrDegenerateMetric = errors.New("degenerate metric: zero variance")
	ErrStoreUnavailable = errors.New("metrics store unavailable")
	ErrNotifyFailure    = errors.New("notification delivery failed")
	ErrConfigMissing    = errors.New("no threshold configured")
)

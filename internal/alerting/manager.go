package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dc-monitor/internal/analytics"
	"dc-monitor/internal/config"
	"dc-monitor/internal/metrics"
	"dc-monitor/internal/models"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	defaultActiveLimit = 20
	defaultRecentLimit = 50
	defaultStatsWindow = 24 * time.Hour
	cooldownCapacity   = 256
	maxNotifyEvents    = 10000
)

type Notifier interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// SettingsSource отдаёт актуальные пороги и получателей; читается на каждой оценке.
type SettingsSource interface {
	Settings() config.AlertSettings
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithSendTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sendTimeout = d
		}
	}
}

type cooldownKey struct {
	metric   string
	severity models.Severity
}

type notifyResult string

const (
	notifySent       notifyResult = "sent"
	notifyFailed     notifyResult = "failed"
	notifySuppressed notifyResult = "suppressed"
)

type notifyEvent struct {
	at     time.Time
	result notifyResult
}

// Manager - единственный владелец алертов и таблицы cooldown.
// mu защищает список алертов (проверка дубликата и создание - одна секция),
// notifyMu сериализует проверку cooldown вместе с отправкой.
type Manager struct {
	settings    SettingsSource
	notifier    Notifier
	logger      *zap.Logger
	now         func() time.Time
	sendTimeout time.Duration

	mu     sync.Mutex
	alerts []*models.Alert
	byID   map[string]*models.Alert

	notifyMu sync.Mutex
	cooldown *lru.Cache[cooldownKey, time.Time]

	statsMu sync.Mutex
	events  []notifyEvent
}

func NewManager(settings SettingsSource, notifier Notifier, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if settings == nil {
		return nil, fmt.Errorf("alert settings source is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cooldown, err := lru.New[cooldownKey, time.Time](cooldownCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create cooldown table: %w", err)
	}

	m := &Manager{
		settings:    settings,
		notifier:    notifier,
		logger:      logger.Named("alerts"),
		now:         time.Now,
		sendTimeout: 15 * time.Second,
		byID:        make(map[string]*models.Alert),
		cooldown:    cooldown,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Evaluate сравнивает снимок с порогами и возвращает созданные алерты.
// Метрики без настроенных порогов или отсутствующие в снимке пропускаются.
func (m *Manager) Evaluate(ctx context.Context, sample models.MetricSample) []models.Alert {
	settings := m.settings.Settings()
	created := make([]models.Alert, 0)

	for _, metricType := range settings.MetricTypes() {
		cfg := settings.Metrics[metricType]
		value, ok := sample.Value(cfg.Field)
		if !ok {
			continue
		}

		var severity models.Severity
		var threshold float64
		switch {
		case value >= cfg.CriticalThreshold:
			severity, threshold = models.SeverityCritical, cfg.CriticalThreshold
		case value >= cfg.WarningThreshold:
			severity, threshold = models.SeverityWarning, cfg.WarningThreshold
		default:
			continue
		}

		alert, ok := m.open(metricType, severity, value, threshold, settings.Cooldown())
		if !ok {
			metrics.AlertsSuppressed.Inc()
			continue
		}
		created = append(created, alert)

		metrics.AlertsCreated.WithLabelValues(metricType, string(severity)).Inc()
		m.logger.Info("Alert created",
			zap.String("alert_id", alert.ID),
			zap.String("metric", metricType),
			zap.String("severity", string(severity)),
			zap.Float64("value", value),
			zap.Float64("threshold", threshold),
		)

		if severity == models.SeverityCritical && cfg.Notify() {
			if err := m.notify(ctx, alert, false, settings); err != nil {
				m.logger.Warn("Alert notification failed",
					zap.String("alert_id", alert.ID), zap.Error(err))
			}
		}
	}
	return created
}

// open создаёт алерт, если за окно cooldown нет открытого алерта
// того же типа и уровня. Проверка и вставка идут под одной блокировкой.
func (m *Manager) open(metricType string, severity models.Severity, value, threshold float64, window time.Duration) (models.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-window)
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if a.CreatedAt.Before(cutoff) {
			break
		}
		if !a.Resolved && a.MetricType == metricType && a.Severity == severity {
			return models.Alert{}, false
		}
	}

	a := &models.Alert{
		ID:         uuid.NewString(),
		MetricType: metricType,
		Severity:   severity,
		Value:      value,
		Threshold:  threshold,
		Message:    alertMessage(metricType, severity, value, threshold),
		CreatedAt:  now,
	}
	m.alerts = append(m.alerts, a)
	m.byID[a.ID] = a
	m.updateActiveGauge()
	return *a, true
}

// notify отправляет уведомление. Обычные уведомления проходят через
// cooldown по (тип, уровень); отметка ставится только после успешной отправки.
// Эскалация cooldown не проверяет и уходит админам.
func (m *Manager) notify(ctx context.Context, a models.Alert, escalated bool, settings config.AlertSettings) error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	now := m.now()
	key := cooldownKey{metric: a.MetricType, severity: a.Severity}
	if !escalated {
		if last, ok := m.cooldown.Get(key); ok && now.Sub(last) < settings.Cooldown() {
			m.record(notifySuppressed, now)
			return nil
		}
	}

	recipients := settings.Recipients.Normal
	if escalated {
		recipients = settings.Recipients.Admin
	}
	if len(recipients) == 0 {
		m.record(notifyFailed, now)
		return fmt.Errorf("%w: recipient list is empty", analytics.ErrNotifyFailure)
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()
	if err := m.notifier.Send(sendCtx, recipients, notificationSubject(a, escalated), notificationBody(a, escalated)); err != nil {
		m.record(notifyFailed, now)
		return fmt.Errorf("%w: %v", analytics.ErrNotifyFailure, err)
	}

	if !escalated {
		m.cooldown.Add(key, now)
	}
	m.record(notifySent, now)
	return nil
}

func (m *Manager) record(result notifyResult, at time.Time) {
	metrics.Notifications.WithLabelValues(string(result)).Inc()

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.events = append(m.events, notifyEvent{at: at, result: result})
	if len(m.events) > maxNotifyEvents {
		m.events = append([]notifyEvent(nil), m.events[len(m.events)-maxNotifyEvents:]...)
	}
}

// SweepEscalations помечает просроченные открытые критические алерты как
// эскалированные и уведомляет админов. Флаг ставится до отправки, поэтому
// повторный проход не уведомляет повторно даже при ошибке доставки.
func (m *Manager) SweepEscalations(ctx context.Context) int {
	settings := m.settings.Settings()

	m.mu.Lock()
	now := m.now()
	due := make([]models.Alert, 0)
	for _, a := range m.alerts {
		if a.Resolved || a.Escalated || a.Severity != models.SeverityCritical {
			continue
		}
		cfg, ok := settings.Metric(a.MetricType)
		if !ok {
			// порог убрали из настроек после создания алерта
			m.logger.Debug("Skipping escalation", zap.String("alert_id", a.ID), zap.Error(analytics.ErrConfigMissing))
			continue
		}
		if now.Sub(a.CreatedAt) <= cfg.Escalation() {
			continue
		}
		a.Escalated = true
		escalatedAt := now
		a.EscalatedAt = &escalatedAt
		due = append(due, *a)
	}
	m.mu.Unlock()

	for _, a := range due {
		metrics.AlertsEscalated.Inc()
		m.logger.Warn("Alert escalated",
			zap.String("alert_id", a.ID),
			zap.String("metric", a.MetricType),
			zap.Duration("age", now.Sub(a.CreatedAt)),
		)
		if err := m.notify(ctx, a, true, settings); err != nil {
			m.logger.Error("Escalation notification failed", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
	return len(due)
}

// ResolveAlert закрывает алерт. Повторное закрытие допустимо; false - алерт не найден.
func (m *Manager) ResolveAlert(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return false
	}
	if !a.Resolved {
		a.Resolved = true
		resolvedAt := m.now()
		a.ResolvedAt = &resolvedAt
		m.updateActiveGauge()
		m.logger.Info("Alert resolved", zap.String("alert_id", id), zap.String("metric", a.MetricType))
	}
	return true
}

func (m *Manager) Alert(id string) (models.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return models.Alert{}, false
	}
	return *a, true
}

// ActiveAlerts - открытые алерты, новые первыми.
func (m *Manager) ActiveAlerts(limit int) []models.Alert {
	if limit <= 0 {
		limit = defaultActiveLimit
	}
	return m.collect(limit, func(a *models.Alert) bool { return !a.Resolved })
}

func (m *Manager) RecentAlerts(limit int) []models.Alert {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return m.collect(limit, func(*models.Alert) bool { return true })
}

func (m *Manager) collect(limit int, keep func(*models.Alert) bool) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Alert, 0, limit)
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(m.alerts[i]) {
			out = append(out, *m.alerts[i])
		}
	}
	return out
}

func (m *Manager) NotificationStats(window time.Duration) models.NotificationStats {
	if window <= 0 {
		window = defaultStatsWindow
	}
	now := m.now()
	since := now.Add(-window)
	stats := models.NotificationStats{Window: window, WindowSeconds: window.Seconds()}

	m.mu.Lock()
	for _, a := range m.alerts {
		if !a.Resolved {
			stats.ActiveAlerts++
		}
		if a.CreatedAt.Before(since) {
			continue
		}
		stats.TotalAlerts++
		if a.Severity == models.SeverityCritical {
			stats.CriticalAlerts++
		}
		if a.Resolved {
			stats.ResolvedAlerts++
		}
		if a.Escalated {
			stats.EscalatedAlerts++
		}
	}
	m.mu.Unlock()

	m.statsMu.Lock()
	for _, e := range m.events {
		if e.at.Before(since) {
			continue
		}
		switch e.result {
		case notifySent:
			stats.NotificationsSent++
		case notifyFailed:
			stats.NotificationsFailed++
		case notifySuppressed:
			stats.NotificationsSuppressed++
		}
	}
	m.statsMu.Unlock()

	return stats
}

// PruneResolved удаляет закрытые алерты, созданные раньше before.
// Сам менеджер ничего не удаляет - это делает внешний сборщик.
func (m *Manager) PruneResolved(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.alerts[:0]
	removed := 0
	for _, a := range m.alerts {
		if a.Resolved && a.CreatedAt.Before(before) {
			delete(m.byID, a.ID)
			removed++
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(m.alerts); i++ {
		m.alerts[i] = nil
	}
	m.alerts = kept
	return removed
}

// вызывается под mu
func (m *Manager) updateActiveGauge() {
	active := 0
	for _, a := range m.alerts {
		if !a.Resolved {
			active++
		}
	}
	metrics.ActiveAlerts.Set(float64(active))
}


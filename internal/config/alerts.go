package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"dc-monitor/internal/models"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCooldownMinutes   = 5
	DefaultEscalationMinutes = 15
)

// MetricAlert - пороги и эскалация для одного типа метрики.
type MetricAlert struct {
	// Field - имя поля в MetricSample; по умолчанию берётся из типа метрики
	Field                string  `yaml:"field"`
	WarningThreshold     float64 `yaml:"warning_threshold"`
	CriticalThreshold    float64 `yaml:"critical_threshold"`
	EscalationMinutes    int     `yaml:"escalation_minutes"`
	NotificationsEnabled *bool   `yaml:"notifications_enabled"`
}

func (m MetricAlert) Notify() bool {
	return m.NotificationsEnabled == nil || *m.NotificationsEnabled
}

func (m MetricAlert) Escalation() time.Duration {
	return time.Duration(m.EscalationMinutes) * time.Minute
}

type Recipients struct {
	Normal []string `yaml:"normal"`
	Admin  []string `yaml:"admin"`
}

// AlertSettings одновременно задаёт пороги по метрикам и справочник получателей.
type AlertSettings struct {
	CooldownMinutes int                    `yaml:"cooldown_minutes"`
	Metrics         map[string]MetricAlert `yaml:"metrics"`
	Recipients      Recipients             `yaml:"recipients"`
}

var defaultFields = map[string]string{
	"cpu":         models.MetricCPU,
	"memory":      models.MetricMemory,
	"disk":        models.MetricDisk,
	"temperature": models.MetricTemperature,
	"humidity":    models.MetricHumidity,
}

func DefaultAlertSettings() AlertSettings {
	s := AlertSettings{
		CooldownMinutes: DefaultCooldownMinutes,
		Metrics: map[string]MetricAlert{
			"cpu":         {WarningThreshold: 70, CriticalThreshold: 90},
			"memory":      {WarningThreshold: 80, CriticalThreshold: 95},
			"disk":        {WarningThreshold: 80, CriticalThreshold: 95},
			"temperature": {WarningThreshold: 40, CriticalThreshold: 50},
			"humidity":    {WarningThreshold: 70, CriticalThreshold: 85},
		},
	}
	s.applyDefaults()
	return s
}

func (s *AlertSettings) applyDefaults() {
	if s.CooldownMinutes <= 0 {
		s.CooldownMinutes = DefaultCooldownMinutes
	}
	for name, m := range s.Metrics {
		if m.Field == "" {
			m.Field = defaultFields[name]
			if m.Field == "" {
				m.Field = name
			}
		}
		if m.EscalationMinutes <= 0 {
			m.EscalationMinutes = DefaultEscalationMinutes
		}
		s.Metrics[name] = m
	}
}

func (s AlertSettings) Validate() error {
	for name, m := range s.Metrics {
		if m.WarningThreshold > m.CriticalThreshold {
			return fmt.Errorf("metric %s: warning threshold %.1f above critical %.1f",
				name, m.WarningThreshold, m.CriticalThreshold)
		}
	}
	return nil
}

func (s AlertSettings) Metric(metricType string) (MetricAlert, bool) {
	m, ok := s.Metrics[metricType]
	return m, ok
}

// MetricTypes возвращает настроенные типы метрик в стабильном порядке.
func (s AlertSettings) MetricTypes() []string {
	types := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

func (s AlertSettings) Cooldown() time.Duration {
	return time.Duration(s.CooldownMinutes) * time.Minute
}

func ParseAlertSettings(data []byte) (AlertSettings, error) {
	var s AlertSettings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return AlertSettings{}, fmt.Errorf("failed to parse alert settings: %w", err)
	}
	if s.Metrics == nil {
		s.Metrics = DefaultAlertSettings().Metrics
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return AlertSettings{}, err
	}
	return s, nil
}

// AlertSettingsStore держит текущие настройки и подменяет их целиком при
// изменении файла. Невалидный файл логируется, прежние настройки остаются.
type AlertSettingsStore struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[AlertSettings]
}

func NewStaticAlertSettings(s AlertSettings) *AlertSettingsStore {
	store := &AlertSettingsStore{logger: zap.NewNop()}
	store.current.Store(&s)
	return store
}

// LoadAlertSettings читает файл настроек; если файла нет, используются значения по умолчанию.
func LoadAlertSettings(path string, logger *zap.Logger) (*AlertSettingsStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &AlertSettingsStore{path: path, logger: logger.Named("alert-settings")}

	defaults := DefaultAlertSettings()
	store.current.Store(&defaults)

	if path == "" {
		return store, nil
	}
	if err := store.Reload(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			store.logger.Info("Alert settings file not found, using defaults", zap.String("path", path))
			return store, nil
		}
		return nil, err
	}
	return store, nil
}

func (s *AlertSettingsStore) Settings() AlertSettings {
	return *s.current.Load()
}

func (s *AlertSettingsStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read alert settings: %w", err)
	}
	settings, err := ParseAlertSettings(data)
	if err != nil {
		return err
	}
	s.current.Store(&settings)
	s.logger.Info("Alert settings loaded",
		zap.String("path", s.path),
		zap.Strings("metrics", settings.MetricTypes()),
		zap.Int("cooldown_minutes", settings.CooldownMinutes),
	)
	return nil
}

// Watch следит за каталогом файла (редакторы часто пишут через rename)
// и перечитывает настройки до отмены ctx.
func (s *AlertSettingsStore) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create settings watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Warn("Ignoring invalid alert settings", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Settings watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

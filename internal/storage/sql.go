package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dc-monitor/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SystemMetric - строка таблицы system_metrics. Известные метрики лежат в
// отдельных колонках (NULL - метрика не пришла), прочие - в extra как JSON.
type SystemMetric struct {
	ID             uint      `gorm:"primaryKey"`
	Timestamp      time.Time `gorm:"index;not null"`
	CPUPercent     *float64  `gorm:"column:cpu_percent"`
	MemoryPercent  *float64  `gorm:"column:memory_percent"`
	DiskPercent    *float64  `gorm:"column:disk_percent"`
	Temperature    *float64  `gorm:"column:temperature"`
	Humidity       *float64  `gorm:"column:humidity"`
	NetworkSentMB  *float64  `gorm:"column:network_sent_mb"`
	NetworkRecvMB  *float64  `gorm:"column:network_recv_mb"`
	ProcessesCount *float64  `gorm:"column:processes_count"`
	Extra          string    `gorm:"column:extra;type:text"`
}

func (SystemMetric) TableName() string {
	return "system_metrics"
}

func (m *SystemMetric) columns() map[string]**float64 {
	return map[string]**float64{
		models.MetricCPU:            &m.CPUPercent,
		models.MetricMemory:         &m.MemoryPercent,
		models.MetricDisk:           &m.DiskPercent,
		models.MetricTemperature:    &m.Temperature,
		models.MetricHumidity:       &m.Humidity,
		models.MetricNetworkSent:    &m.NetworkSentMB,
		models.MetricNetworkRecv:    &m.NetworkRecvMB,
		models.MetricProcessesCount: &m.ProcessesCount,
	}
}

func fromSample(s models.MetricSample) (SystemMetric, error) {
	row := SystemMetric{Timestamp: s.Timestamp().UTC()}
	cols := row.columns()
	extra := make(map[string]float64)
	for name, v := range s.Values() {
		if col, ok := cols[name]; ok {
			value := v
			*col = &value
			continue
		}
		extra[name] = v
	}
	if len(extra) > 0 {
		data, err := json.Marshal(extra)
		if err != nil {
			return SystemMetric{}, fmt.Errorf("failed to encode extra metrics: %w", err)
		}
		row.Extra = string(data)
	}
	return row, nil
}

func (m SystemMetric) toSample() (models.MetricSample, error) {
	values := make(map[string]float64)
	if m.Extra != "" {
		if err := json.Unmarshal([]byte(m.Extra), &values); err != nil {
			return models.MetricSample{}, fmt.Errorf("failed to decode extra metrics of row %d: %w", m.ID, err)
		}
	}
	for name, col := range m.columns() {
		if *col != nil {
			values[name] = **col
		}
	}
	return models.NewMetricSample(m.Timestamp, values), nil
}

type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open подключается к postgres или sqlite и создаёт таблицу при необходимости.
func Open(driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	return New(db, logger)
}

func New(db *gorm.DB, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&SystemMetric{}); err != nil {
		return nil, fmt.Errorf("failed to migrate system_metrics: %w", err)
	}
	return &SQLStore{db: db, logger: logger.Named("sql")}, nil
}

func (s *SQLStore) Save(ctx context.Context, sample models.MetricSample) error {
	row, err := fromSample(sample)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

func (s *SQLStore) Query(ctx context.Context, since time.Time, limit int, order models.Order) ([]models.MetricSample, error) {
	direction := "timestamp ASC, id ASC"
	if order == models.Descending {
		direction = "timestamp DESC, id DESC"
	}

	q := s.db.WithContext(ctx).Where("timestamp >= ?", since.UTC()).Order(direction)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []SystemMetric
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}

	samples := make([]models.MetricSample, 0, len(rows))
	for _, row := range rows {
		sample, err := row.toSample()
		if err != nil {
			s.logger.Warn("Skipping malformed row", zap.Error(err))
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// DeleteBefore удаляет снимки старше cutoff и возвращает число удалённых строк.
func (s *SQLStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&SystemMetric{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old samples: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Notifier NotifierConfig `mapstructure:"notifier"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File - путь для ротируемого файла логов; пусто - только stderr
	File string `mapstructure:"file"`
}

type StoreConfig struct {
	// Backend: redis или sql
	Backend string `mapstructure:"backend"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Retention time.Duration `mapstructure:"retention"`
}

type DatabaseConfig struct {
	// Driver: postgres или sqlite
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// Retention - снимки старше удаляются периодической задачей
	Retention time.Duration `mapstructure:"retention"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Queue   string `mapstructure:"queue"`
}

type IngestConfig struct {
	QueueSize int `mapstructure:"queue_size"`
	Workers   int `mapstructure:"workers"`
}

type AnalysisConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	Window             time.Duration `mapstructure:"window"`
	MaxSamples         int           `mapstructure:"max_samples"`
	TrainingWindow     time.Duration `mapstructure:"training_window"`
	MinTrainingSamples int           `mapstructure:"min_training_samples"`
	RetrainInterval    time.Duration `mapstructure:"retrain_interval"`
	QueryTimeout       time.Duration `mapstructure:"query_timeout"`
	ForecastHorizon    int           `mapstructure:"forecast_horizon"`
	ForecastNoise      bool          `mapstructure:"forecast_noise"`
	Contamination      float64       `mapstructure:"contamination"`
}

type AlertsConfig struct {
	SettingsFile       string        `mapstructure:"settings_file"`
	EscalationInterval time.Duration `mapstructure:"escalation_interval"`
	SendTimeout        time.Duration `mapstructure:"send_timeout"`
	// Retention - закрытые алерты старше удаляются из памяти
	Retention         time.Duration `mapstructure:"retention"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
}

type NotifierConfig struct {
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("store.backend", "redis")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.retention", 7*24*time.Hour)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "dc-monitor.db")
	v.SetDefault("database.retention", 30*24*time.Hour)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "telemetry.samples")
	v.SetDefault("nats.queue", "dc-monitor")

	v.SetDefault("ingest.queue_size", 10000)
	v.SetDefault("ingest.workers", 1)

	v.SetDefault("analysis.interval", 10*time.Minute)
	v.SetDefault("analysis.window", 24*time.Hour)
	v.SetDefault("analysis.max_samples", 500)
	v.SetDefault("analysis.training_window", 7*24*time.Hour)
	v.SetDefault("analysis.min_training_samples", 50)
	v.SetDefault("analysis.retrain_interval", time.Hour)
	v.SetDefault("analysis.query_timeout", 30*time.Second)
	v.SetDefault("analysis.forecast_horizon", 6)
	v.SetDefault("analysis.forecast_noise", false)
	v.SetDefault("analysis.contamination", 0.1)

	v.SetDefault("alerts.settings_file", "alerts.yaml")
	v.SetDefault("alerts.escalation_interval", 5*time.Minute)
	v.SetDefault("alerts.send_timeout", 15*time.Second)
	v.SetDefault("alerts.retention", 7*24*time.Hour)
	v.SetDefault("alerts.retention_interval", time.Hour)

	v.SetDefault("notifier.smtp.host", "")
	v.SetDefault("notifier.smtp.port", 587)
	v.SetDefault("notifier.smtp.username", "")
	v.SetDefault("notifier.smtp.password", "")
	v.SetDefault("notifier.smtp.from", "")
	v.SetDefault("notifier.webhook.url", "")
	v.SetDefault("notifier.webhook.timeout", 10*time.Second)
}

// Load читает необязательный YAML-файл и переменные окружения DCMON_*
// (например DCMON_REDIS_ADDR). REDIS_ADDR и PORT поддерживаются как раньше.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DCMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("redis.addr", "DCMON_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("server.port", "DCMON_SERVER_PORT", "PORT")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "redis", "sql":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "sql" {
		switch c.Database.Driver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("unknown database driver %q", c.Database.Driver)
		}
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Analysis.Interval <= 0 {
		return fmt.Errorf("analysis interval must be positive")
	}
	return nil
}

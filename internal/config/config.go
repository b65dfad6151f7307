// Package config loads and validates collector configuration via Viper.
//
// This covers bootstrap configuration only: database access, SMTP, report
// storage, metrics, and event publishing. Operator-tunable job parameters
// (API keys, thread counts, retry bounds) live in the database config table
// and are resolved by each job at startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all bootstrap configuration knobs loaded via Viper.
type Config struct {
	DB      DBConfig      `mapstructure:"db"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Reports ReportsConfig `mapstructure:"reports"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SMTPConfig configures operator notification mail.
type SMTPConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Sender       string `mapstructure:"sender"`
	Recipient    string `mapstructure:"recipient"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	NotifyErrors bool   `mapstructure:"notify_errors"`
}

// ReportsConfig selects where raw API responses are persisted.
type ReportsConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// PubSubConfig holds metadata for job completion events. Both fields empty
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// JobsConfig holds per-job runtime paths and timeouts.
type JobsConfig struct {
	PIDDir             string `mapstructure:"pid_dir"`
	HTTPTimeoutSeconds int    `mapstructure:"http_timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEOPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/seopulse/")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.port", 25)
	v.SetDefault("smtp.notify_errors", true)
	v.SetDefault("reports.provider", "local")
	v.SetDefault("reports.base_dir", "data/reports")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9256")
	v.SetDefault("logging.development", false)
	v.SetDefault("jobs.pid_dir", "run")
	v.SetDefault("jobs.http_timeout_seconds", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	switch c.Reports.Provider {
	case "local":
		if c.Reports.BaseDir == "" {
			return fmt.Errorf("reports.base_dir must be set for the local provider")
		}
	case "gcs":
		if c.Reports.GCSBucket == "" {
			return fmt.Errorf("reports.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown reports provider %q", c.Reports.Provider)
	}
	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host must be set when smtp is enabled")
		}
		if c.SMTP.Sender == "" || c.SMTP.Recipient == "" {
			return fmt.Errorf("smtp.sender and smtp.recipient must be set when smtp is enabled")
		}
	}
	if c.Jobs.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("jobs.http_timeout_seconds must be > 0")
	}
	return nil
}

// HTTPTimeout converts the configured client timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Jobs.HTTPTimeoutSeconds) * time.Second
}

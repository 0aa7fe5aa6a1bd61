package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"host-sentinel/internal/alerting"
	"host-sentinel/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sampler   SamplerConfig   `mapstructure:"sampler"`
	Smoothing SmoothingConfig `mapstructure:"smoothing"`
	History   HistoryConfig   `mapstructure:"history"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Models    ModelsConfig    `mapstructure:"models"`
	Database  DatabaseConfig  `mapstructure:"database"`
	API       APIConfig       `mapstructure:"api"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// Host labels notifications; empty means the OS hostname.
	Host string `mapstructure:"host"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Jitter       time.Duration `mapstructure:"jitter"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// SamplerConfig controls how raw readings are taken.
type SamplerConfig struct {
	CPUReads         int           `mapstructure:"cpu_reads"`
	CPUReadInterval  time.Duration `mapstructure:"cpu_read_interval"`
	DefaultVolume    string        `mapstructure:"default_volume"`
	AlternateVolumes []string      `mapstructure:"alternate_volumes"`
	Noise            bool          `mapstructure:"noise"`
	// Nominal values stand in for a metric that has never been readable.
	NominalCPU    float64 `mapstructure:"nominal_cpu"`
	NominalMemory float64 `mapstructure:"nominal_memory"`
	NominalDisk   float64 `mapstructure:"nominal_disk"`
}

// SmoothingConfig sets the EMA weight.
type SmoothingConfig struct {
	Alpha float64 `mapstructure:"alpha"`
}

// HistoryConfig bounds the in-memory series.
type HistoryConfig struct {
	MaxPoints int `mapstructure:"max_points"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Thresholds  alerting.Thresholds `mapstructure:"thresholds"`
	Cooldown    time.Duration       `mapstructure:"cooldown"`
	LogCapacity int                 `mapstructure:"log_capacity"`
	Telegram    TelegramConfig      `mapstructure:"telegram"`
}

// TelegramConfig describes the optional Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ModelsConfig tunes the forecaster and anomaly detector.
type ModelsConfig struct {
	Async            bool          `mapstructure:"async"`
	FitTimeout       time.Duration `mapstructure:"fit_timeout"`
	ForecastHorizon  int           `mapstructure:"forecast_horizon"`
	ForecastMinimum  int           `mapstructure:"forecast_min_samples"`
	TrainMinimum     int           `mapstructure:"train_min_samples"`
	RetrainInterval  int           `mapstructure:"retrain_interval"`
	Trees            int           `mapstructure:"trees"`
	MaxSamples       int           `mapstructure:"max_samples"`
	Contamination    float64       `mapstructure:"contamination"`
	Seed             int64         `mapstructure:"seed"`
	RecentAnomalyCap int           `mapstructure:"recent_anomalies"`
}

// DatabaseConfig encapsulates the optional PostgreSQL audit store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Retention       time.Duration `mapstructure:"retention"`
	BufferSize      int           `mapstructure:"buffer_size"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// APIConfig controls the observer HTTP API.
type APIConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Listen         string        `mapstructure:"listen"`
	StreamInterval time.Duration `mapstructure:"stream_interval"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HOSTSENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "hostsentinel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.interval", "1s")
	v.SetDefault("scheduler.jitter", "100ms")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("sampler.cpu_reads", 3)
	v.SetDefault("sampler.cpu_read_interval", "100ms")
	v.SetDefault("sampler.default_volume", "")
	v.SetDefault("sampler.alternate_volumes", []string{})
	v.SetDefault("sampler.noise", false)
	v.SetDefault("sampler.nominal_cpu", 0.0)
	v.SetDefault("sampler.nominal_memory", 0.0)
	v.SetDefault("sampler.nominal_disk", 0.0)

	v.SetDefault("smoothing.alpha", 0.3)

	v.SetDefault("history.max_points", 3600)

	v.SetDefault("alerting.thresholds.cpu", 80)
	v.SetDefault("alerting.thresholds.memory", 80)
	v.SetDefault("alerting.thresholds.disk", 90)
	v.SetDefault("alerting.cooldown", "60s")
	v.SetDefault("alerting.log_capacity", 100)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("models.async", true)
	v.SetDefault("models.fit_timeout", "0s")
	v.SetDefault("models.forecast_horizon", 5)
	v.SetDefault("models.forecast_min_samples", 30)
	v.SetDefault("models.train_min_samples", 50)
	v.SetDefault("models.retrain_interval", 10)
	v.SetDefault("models.trees", 100)
	v.SetDefault("models.max_samples", 256)
	v.SetDefault("models.contamination", 0.05)
	v.SetDefault("models.seed", 42)
	v.SetDefault("models.recent_anomalies", 20)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.retention", "168h")
	v.SetDefault("database.buffer_size", 256)
	v.SetDefault("database.advisory_lock_key", int64(0x68737463))

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", "127.0.0.1:8089")
	v.SetDefault("api.stream_interval", "1s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.Interval < 500*time.Millisecond {
		errs = append(errs, fmt.Errorf("scheduler.interval must be at least 500ms"))
	}
	if c.Scheduler.Jitter < 0 {
		errs = append(errs, fmt.Errorf("scheduler.jitter cannot be negative"))
	}
	if c.Sampler.CPUReads <= 0 {
		errs = append(errs, fmt.Errorf("sampler.cpu_reads must be greater than zero"))
	}
	if !(c.Smoothing.Alpha > 0 && c.Smoothing.Alpha <= 1) {
		errs = append(errs, fmt.Errorf("smoothing.alpha must be in (0,1]"))
	}
	if c.History.MaxPoints <= 0 {
		errs = append(errs, fmt.Errorf("history.max_points must be greater than zero"))
	}
	if err := c.Alerting.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("alerting.thresholds: %w", err))
	}
	if c.Alerting.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("alerting.cooldown must be greater than zero"))
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			errs = append(errs, fmt.Errorf("alerting.telegram.bot_token is required"))
		}
		if c.Alerting.Telegram.ChatID == "" {
			errs = append(errs, fmt.Errorf("alerting.telegram.chat_id is required"))
		}
	}
	if !(c.Models.Contamination > 0 && c.Models.Contamination <= 0.5) {
		errs = append(errs, fmt.Errorf("models.contamination must be in (0,0.5]"))
	}
	if c.Models.ForecastHorizon <= 0 {
		errs = append(errs, fmt.Errorf("models.forecast_horizon must be greater than zero"))
	}
	if c.Models.FitTimeout < 0 {
		errs = append(errs, fmt.Errorf("models.fit_timeout cannot be negative"))
	}
	if c.API.Enabled && c.API.Listen == "" {
		errs = append(errs, fmt.Errorf("api.listen is required when the api is enabled"))
	}
	return errors.Join(errs...)
}

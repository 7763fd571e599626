package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Exchange Exchange `mapstructure:"exchange"`
	Database Database `mapstructure:"database"`
	Logger   Logger   `mapstructure:"logger"`
	Engine   Engine   `mapstructure:"engine"`
	Notify   Notify   `mapstructure:"notify"`
}

// Exchange holds the configuration for the exchange REST API.
type Exchange struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Engine holds cadences and thresholds for the decision engines.
type Engine struct {
	EntryIntervalSec     int `mapstructure:"entry_interval_sec"`
	ExitIntervalSec      int `mapstructure:"exit_interval_sec"`
	ReconcileIntervalSec int `mapstructure:"reconcile_interval_sec"`
	ExecuteAttempts      int `mapstructure:"execute_attempts"`

	Entry EntryThresholds `mapstructure:"entry"`
}

// EntryThresholds parameterize the delayed-entry state machine. They are
// global defaults; per-account overrides come from trade parameters.
type EntryThresholds struct {
	LateralTolerancePct  float64 `mapstructure:"lateral_tolerance_pct"`
	LateralCyclesMin     int     `mapstructure:"lateral_cycles_min"`
	RiseTriggerPct       float64 `mapstructure:"rise_trigger_pct"`
	RiseCyclesMin        int     `mapstructure:"rise_cycles_min"`
	MaxFallPct           float64 `mapstructure:"max_fall_pct"`
	MaxMonitoringTimeMin int     `mapstructure:"max_monitoring_time_min"`
	CooldownMin          int     `mapstructure:"cooldown_min"`
}

// Notify holds the configuration for the notification dispatcher.
type Notify struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("exchange.rate_limit", 20)      // requests per second
	viper.SetDefault("exchange.rate_limit_burst", 5) // burst size
	viper.SetDefault("engine.entry_interval_sec", 30)
	viper.SetDefault("engine.exit_interval_sec", 30)
	viper.SetDefault("engine.reconcile_interval_sec", 60)
	viper.SetDefault("engine.execute_attempts", 3)
	viper.SetDefault("engine.entry.lateral_tolerance_pct", 0.3)
	viper.SetDefault("engine.entry.lateral_cycles_min", 4)
	viper.SetDefault("engine.entry.rise_trigger_pct", 0.75)
	viper.SetDefault("engine.entry.rise_cycles_min", 2)
	viper.SetDefault("engine.entry.max_fall_pct", 6.0)
	viper.SetDefault("engine.entry.max_monitoring_time_min", 60)
	viper.SetDefault("engine.entry.cooldown_min", 30)
	viper.SetDefault("notify.buffer_size", 256)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

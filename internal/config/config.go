package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App             App             `mapstructure:"app"`
	Database        Database        `mapstructure:"database"`
	Cache           Cache           `mapstructure:"cache"`
	Personalization Personalization `mapstructure:"personalization"`
	Logging         Logging         `mapstructure:"logging"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	LogLevel   string `mapstructure:"log_level"`
	DataDir    string `mapstructure:"data_dir"`
	ConfigFile string `mapstructure:"config_file"`
}

// Database holds PostgreSQL configuration
type Database struct {
	URL             string `mapstructure:"url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

// Cache holds score-cache configuration. Backend selects redis for shared
// deployments, sqlite for single-node installs or memory for tests.
type Cache struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	ScoreTTL      string `mapstructure:"score_ttl"`
	Directory     string `mapstructure:"directory"`
}

// Personalization holds the engine tuning knobs
type Personalization struct {
	MaxPatterns     int     `mapstructure:"max_patterns"`
	BounceThreshold float64 `mapstructure:"bounce_threshold"`
}

// Logging holds logging configuration
type Logging struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	// Configure viper
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".attune")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ATTUNE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".attune-data")

	// Database defaults
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	// Cache defaults
	viper.SetDefault("cache.backend", "sqlite")
	viper.SetDefault("cache.redis_addr", "localhost:6379")
	viper.SetDefault("cache.redis_db", 0)
	viper.SetDefault("cache.score_ttl", "15m")

	// Personalization defaults
	viper.SetDefault("personalization.max_patterns", 100)
	viper.SetDefault("personalization.bounce_threshold", 0.25)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stderr")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("database.url", []string{
		"ATTUNE_DATABASE_URL",
		"DATABASE_URL",
		"POSTGRES_URL",
	})

	bindEnvKeys("cache.redis_addr", []string{
		"ATTUNE_REDIS_ADDR",
		"REDIS_ADDR",
	})

	bindEnvKeys("cache.redis_password", []string{
		"ATTUNE_REDIS_PASSWORD",
		"REDIS_PASSWORD",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"ATTUNE_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.Cache.Directory == "" {
		config.Cache.Directory = config.App.DataDir
	}
	config.Cache.Directory = expandPath(config.Cache.Directory)
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures required configuration is present
func validateConfig(config *Config) error {
	var errors []string

	if config.Database.URL == "" {
		errors = append(errors, "Database URL is required. Set ATTUNE_DATABASE_URL environment variable or database.url in config file")
	}

	switch config.Cache.Backend {
	case "redis":
		if config.Cache.RedisAddr == "" {
			errors = append(errors, "Redis address is required when cache.backend is redis. Set ATTUNE_REDIS_ADDR")
		}
	case "sqlite", "memory":
		// No validation needed for these backends
	default:
		errors = append(errors, fmt.Sprintf("Unknown cache backend: %s. Supported: redis, sqlite, memory", config.Cache.Backend))
	}

	if _, err := time.ParseDuration(config.Cache.ScoreTTL); err != nil {
		errors = append(errors, fmt.Sprintf("Invalid cache.score_ttl %q: must be a duration like 15m", config.Cache.ScoreTTL))
	}

	if config.Personalization.BounceThreshold < 0 || config.Personalization.BounceThreshold >= 1 {
		errors = append(errors, fmt.Sprintf("personalization.bounce_threshold must be in [0, 1), got %v", config.Personalization.BounceThreshold))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Convenience getters for commonly used configuration values
func GetApp() App                         { return Get().App }
func GetDatabase() Database               { return Get().Database }
func GetCache() Cache                     { return Get().Cache }
func GetPersonalization() Personalization { return Get().Personalization }
func GetLogging() Logging                 { return Get().Logging }

func GetDatabaseURL() string { return Get().Database.URL }
func GetDataDir() string     { return Get().App.DataDir }
func IsDebugMode() bool      { return Get().App.Debug }

// GetScoreTTL returns the parsed score-cache TTL.
func GetScoreTTL() time.Duration {
	d, err := time.ParseDuration(Get().Cache.ScoreTTL)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}

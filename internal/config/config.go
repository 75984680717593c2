package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig
	ClickHouse ClickHouseConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	RCON       RCONConfig
	Policy     PolicyConfig
	Executor   ExecutorConfig
	Engine     EngineConfig
	JWT        JWTConfig
}

type AppConfig struct {
	Env         string
	Port        int
	Host        string
	CORSOrigins []string // space separated in the environment
}

type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

type PostgresConfig struct {
	URL string
}

// RedisConfig points at the stream the game log forwarder writes to
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Stream   string
	StartID  string
}

// RCONConfig is the moderation backend (RCON web API in front of the game server)
type RCONConfig struct {
	BaseURL   string
	APIToken  string
	Timeout   time.Duration
	RateLimit int // requests per minute
}

type PolicyConfig struct {
	Source          string // file, postgres
	FilePath        string
	WebhookUsername string
}

type ExecutorConfig struct {
	Workers        int
	QueueSize      int
	BanTimeout     time.Duration
	WebhookTimeout time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

type EngineConfig struct {
	Partitions     int
	ProfileTimeout time.Duration
}

type JWTConfig struct {
	Secret string
}

func Load() (*Config, error) {
	// Optional .env for local runs, real environment wins
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Error reading .env file", "error", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/etc/tkguard")

	viper.AutomaticEnv()

	bindEnvVars()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("Error reading config file", "error", err)
		}
	}

	config := &Config{
		App: AppConfig{
			Env:         viper.GetString("APP_ENV"),
			Port:        viper.GetInt("APP_PORT"),
			Host:        viper.GetString("APP_HOST"),
			CORSOrigins: viper.GetStringSlice("APP_CORS_ORIGINS"),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  viper.GetBool("CLICKHOUSE_ENABLED"),
			Host:     viper.GetString("CLICKHOUSE_HOST"),
			Port:     viper.GetInt("CLICKHOUSE_PORT"),
			User:     viper.GetString("CLICKHOUSE_USER"),
			Password: viper.GetString("CLICKHOUSE_PASSWORD"),
			Database: viper.GetString("CLICKHOUSE_DATABASE"),
		},
		Postgres: PostgresConfig{
			URL: viper.GetString("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetInt("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
			Stream:   viper.GetString("REDIS_EVENT_STREAM"),
			StartID:  viper.GetString("REDIS_EVENT_START_ID"),
		},
		RCON: RCONConfig{
			BaseURL:   viper.GetString("RCON_API_URL"),
			APIToken:  viper.GetString("RCON_API_TOKEN"),
			Timeout:   viper.GetDuration("RCON_TIMEOUT"),
			RateLimit: viper.GetInt("RCON_RATE_LIMIT"),
		},
		Policy: PolicyConfig{
			Source:          viper.GetString("POLICY_SOURCE"),
			FilePath:        viper.GetString("POLICY_FILE"),
			WebhookUsername: viper.GetString("POLICY_WEBHOOK_USERNAME"),
		},
		Executor: ExecutorConfig{
			Workers:        viper.GetInt("EXECUTOR_WORKERS"),
			QueueSize:      viper.GetInt("EXECUTOR_QUEUE_SIZE"),
			BanTimeout:     viper.GetDuration("EXECUTOR_BAN_TIMEOUT"),
			WebhookTimeout: viper.GetDuration("EXECUTOR_WEBHOOK_TIMEOUT"),
			MaxRetries:     viper.GetInt("EXECUTOR_MAX_RETRIES"),
			BaseBackoff:    viper.GetDuration("EXECUTOR_BASE_BACKOFF"),
			MaxBackoff:     viper.GetDuration("EXECUTOR_MAX_BACKOFF"),
		},
		Engine: EngineConfig{
			Partitions:     viper.GetInt("ENGINE_PARTITIONS"),
			ProfileTimeout: viper.GetDuration("ENGINE_PROFILE_TIMEOUT"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("JWT_SECRET"),
		},
	}

	return config, nil
}

func bindEnvVars() {
	// App
	viper.BindEnv("APP_ENV")
	viper.BindEnv("APP_PORT")
	viper.BindEnv("APP_HOST")
	viper.BindEnv("APP_CORS_ORIGINS")

	// ClickHouse (audit trail)
	viper.BindEnv("CLICKHOUSE_ENABLED")
	viper.BindEnv("CLICKHOUSE_HOST")
	viper.BindEnv("CLICKHOUSE_PORT")
	viper.BindEnv("CLICKHOUSE_USER")
	viper.BindEnv("CLICKHOUSE_PASSWORD")
	viper.BindEnv("CLICKHOUSE_DATABASE")

	// Postgres (player profiles, stored policy)
	viper.BindEnv("DATABASE_URL")

	// Redis (event stream)
	viper.BindEnv("REDIS_HOST")
	viper.BindEnv("REDIS_PORT")
	viper.BindEnv("REDIS_PASSWORD")
	viper.BindEnv("REDIS_DB")
	viper.BindEnv("REDIS_EVENT_STREAM")
	viper.BindEnv("REDIS_EVENT_START_ID")

	// RCON web API
	viper.BindEnv("RCON_API_URL")
	viper.BindEnv("RCON_API_TOKEN")
	viper.BindEnv("RCON_TIMEOUT")
	viper.BindEnv("RCON_RATE_LIMIT")

	// Policy
	viper.BindEnv("POLICY_SOURCE")
	viper.BindEnv("POLICY_FILE")
	viper.BindEnv("POLICY_WEBHOOK_USERNAME")

	// Executor
	viper.BindEnv("EXECUTOR_WORKERS")
	viper.BindEnv("EXECUTOR_QUEUE_SIZE")
	viper.BindEnv("EXECUTOR_BAN_TIMEOUT")
	viper.BindEnv("EXECUTOR_WEBHOOK_TIMEOUT")
	viper.BindEnv("EXECUTOR_MAX_RETRIES")
	viper.BindEnv("EXECUTOR_BASE_BACKOFF")
	viper.BindEnv("EXECUTOR_MAX_BACKOFF")

	// Engine
	viper.BindEnv("ENGINE_PARTITIONS")
	viper.BindEnv("ENGINE_PROFILE_TIMEOUT")

	// JWT
	viper.BindEnv("JWT_SECRET")
}

func setDefaults() {
	// App defaults
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("APP_PORT", 8090)
	viper.SetDefault("APP_HOST", "0.0.0.0")
	viper.SetDefault("APP_CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"})

	// ClickHouse defaults
	viper.SetDefault("CLICKHOUSE_ENABLED", false)
	viper.SetDefault("CLICKHOUSE_HOST", "localhost")
	viper.SetDefault("CLICKHOUSE_PORT", 9000)
	viper.SetDefault("CLICKHOUSE_USER", "tkguard")
	viper.SetDefault("CLICKHOUSE_DATABASE", "tkguard")

	// Redis defaults
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_EVENT_START_ID", "$")

	// RCON defaults
	viper.SetDefault("RCON_TIMEOUT", 10*time.Second)
	viper.SetDefault("RCON_RATE_LIMIT", 120)

	// Policy defaults
	viper.SetDefault("POLICY_SOURCE", "file")
	viper.SetDefault("POLICY_FILE", "/etc/tkguard/ban_tk_on_connect.yaml")

	// Executor defaults
	viper.SetDefault("EXECUTOR_WORKERS", 4)
	viper.SetDefault("EXECUTOR_QUEUE_SIZE", 256)
	viper.SetDefault("EXECUTOR_BAN_TIMEOUT", 10*time.Second)
	viper.SetDefault("EXECUTOR_WEBHOOK_TIMEOUT", 5*time.Second)
	viper.SetDefault("EXECUTOR_MAX_RETRIES", 2)
	viper.SetDefault("EXECUTOR_BASE_BACKOFF", 500*time.Millisecond)
	viper.SetDefault("EXECUTOR_MAX_BACKOFF", 5*time.Second)

	// Engine defaults
	viper.SetDefault("ENGINE_PARTITIONS", 8)
	viper.SetDefault("ENGINE_PROFILE_TIMEOUT", 2*time.Second)
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func SetupLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

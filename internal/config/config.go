package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the server configuration.
type Config struct {
	Env  string `yaml:"env" env:"ENV" env-default:"development"`
	Port string `yaml:"port" env:"PORT" env-default:"8080"`

	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Lock     LockConfig     `yaml:"lock"`
	Turn     TurnConfig     `yaml:"turn"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Tracing  TracingConfig  `yaml:"tracing"`
	HTTP     HTTPConfig     `yaml:"http"`
	Presence PresenceConfig `yaml:"presence"`

	// AI is read by envconfig from AI_* variables.
	AI AIConfig `yaml:"-"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	// Encoding is json or console; empty lets the logger pick by env.
	Encoding string `yaml:"encoding" env:"LOG_ENCODING"`
}

// StoreConfig selects the WorldStateStore implementation.
type StoreConfig struct {
	Driver     string `yaml:"driver" env:"STORE_DRIVER" env-default:"file"` // file | sqlite | postgres
	Dir        string `yaml:"dir" env:"STORE_DIR" env-default:"./storage"`
	SQLitePath string `yaml:"sqlite_path" env:"STORE_SQLITE_PATH" env-default:"./storage/worlds.db"`

	DBHost         string        `yaml:"db_host" env:"DB_HOST" env-default:"localhost"`
	DBPort         string        `yaml:"db_port" env:"DB_PORT" env-default:"5432"`
	DBUser         string        `yaml:"db_user" env:"DB_USER" env-default:"postgres"`
	DBPassword     string        `yaml:"-" env:"DB_PASSWORD"`
	DBName         string        `yaml:"db_name" env:"DB_NAME" env-default:"dreamweaver"`
	DBSSLMode      string        `yaml:"db_sslmode" env:"DB_SSLMODE" env-default:"disable"`
	DBMaxConns     int           `yaml:"db_max_conns" env:"DB_MAX_CONNS" env-default:"10"`
	DBIdleTimeout  time.Duration `yaml:"db_idle_timeout" env:"DB_IDLE_TIMEOUT" env-default:"5m"`
	MigrateOnStart bool          `yaml:"migrate_on_start" env:"DB_MIGRATE_ON_START" env-default:"true"`
}

// LockConfig sets the per-world contention policy.
type LockConfig struct {
	Policy   string        `yaml:"policy" env:"LOCK_POLICY" env-default:"queue"` // queue | reject
	RedisTTL time.Duration `yaml:"redis_ttl" env:"LOCK_REDIS_TTL" env-default:"30s"`
}

type TurnConfig struct {
	StageTimeout time.Duration `yaml:"stage_timeout" env:"TURN_STAGE_TIMEOUT" env-default:"30s"`
	MaxRetries   int           `yaml:"max_retries" env:"TURN_MAX_RETRIES" env-default:"2"`
	MemoryLimit  int           `yaml:"memory_limit" env:"TURN_MEMORY_LIMIT" env-default:"10"`
}

// RedisConfig enables the cross-instance world lock when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// RabbitMQConfig enables committed-turn publishing when URL is set.
type RabbitMQConfig struct {
	URL      string `yaml:"url" env:"RABBITMQ_URL"`
	Exchange string `yaml:"exchange" env:"RABBITMQ_TURN_EXCHANGE" env-default:"world_turns"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint" env:"OTEL_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME" env-default:"dreamweaver-server"`
}

type HTTPConfig struct {
	AllowedOrigins string        `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT" env-default:"5m"`
}

type PresenceConfig struct {
	SessionTimeout time.Duration `yaml:"session_timeout" env:"PRESENCE_SESSION_TIMEOUT" env-default:"10m"`
}

// AIConfig configures the stage model backend.
type AIConfig struct {
	ClientType  string        `envconfig:"CLIENT_TYPE" default:"offline"` // openai | ollama | offline
	APIKey      string        `envconfig:"API_KEY"`
	BaseURL     string        `envconfig:"BASE_URL" default:"https://api.openai.com/v1"`
	Model       string        `envconfig:"MODEL" default:"gpt-4o-mini"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"60s"`
	Temperature float64       `envconfig:"TEMPERATURE" default:"0.7"`
	MaxTokens   int           `envconfig:"MAX_TOKENS" default:"1024"`
	TokenBudget int           `envconfig:"CONTEXT_TOKEN_BUDGET" default:"6000"`
}

// LoadConfig reads path (if it exists) and then the environment.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, statErr := os.Stat(path); path != "" && statErr == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config from env: %w", err)
	}
	if err := envconfig.Process("AI", &cfg.AI); err != nil {
		return nil, fmt.Errorf("read AI config: %w", err)
	}

	if cfg.Store.DBPassword == "" {
		if secret, err := ReadSecret("db_password"); err == nil {
			cfg.Store.DBPassword = secret
		}
	}
	if cfg.AI.APIKey == "" {
		if secret, err := ReadSecret("ai_api_key"); err == nil {
			cfg.AI.APIKey = secret
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "file", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	switch strings.ToLower(c.Lock.Policy) {
	case "", "queue", "reject":
	default:
		errs = append(errs, fmt.Errorf("unknown lock policy %q", c.Lock.Policy))
	}
	if c.Turn.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("turn max retries must not be negative"))
	}
	if c.Turn.StageTimeout <= 0 {
		errs = append(errs, fmt.Errorf("turn stage timeout must be positive"))
	}
	switch strings.ToLower(c.AI.ClientType) {
	case "offline", "ollama":
	case "openai":
		if c.AI.APIKey == "" {
			errs = append(errs, fmt.Errorf("AI_API_KEY is required for the openai client"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AI client type %q", c.AI.ClientType))
	}
	return errors.Join(errs...)
}

// GetDSN returns the PostgreSQL connection URL.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Store.DBUser, c.Store.DBPassword, c.Store.DBHost, c.Store.DBPort, c.Store.DBName, c.Store.DBSSLMode)
}

// GetAllowedOrigins splits the comma-separated CORS origins.
func (c *Config) GetAllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.HTTP.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Badger  BadgerConfig  `mapstructure:"badger"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Events  EventsConfig  `mapstructure:"events"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds admin API server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	Environment     string        `mapstructure:"environment"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	HealthCheckPath string        `mapstructure:"health_check_path"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst       int           `mapstructure:"rate_burst"`
}

// StoreConfig selects the document backend and how records are laid out in it
type StoreConfig struct {
	Backend     string `mapstructure:"backend"` // redis, badger or memory
	Collection  string `mapstructure:"collection"`
	Partitioned bool   `mapstructure:"partitioned"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	URL          string             `mapstructure:"url"`
	MaxRetries   int                `mapstructure:"max_retries"`
	PoolSize     int                `mapstructure:"pool_size"`
	DialTimeout  time.Duration      `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration      `mapstructure:"read_timeout"`
	WriteTimeout time.Duration      `mapstructure:"write_timeout"`
	Streams      RedisStreamsConfig `mapstructure:"streams"`
}

// RedisStreamsConfig holds Redis Streams specific configuration
type RedisStreamsConfig struct {
	MaxLen        int64  `mapstructure:"max_len"`
	ConsumerGroup string `mapstructure:"consumer_group"`
}

// BadgerConfig holds embedded store configuration
type BadgerConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

// AuthConfig holds admin API authentication configuration
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	JWTIssuer     string        `mapstructure:"jwt_issuer"`
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`
}

// EventsConfig controls change-event publishing
type EventsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level        string        `mapstructure:"level"`
	Environment  string        `mapstructure:"environment"`
	Encoding     string        `mapstructure:"encoding"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

var (
	validBackends  = []string{"redis", "badger", "memory"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validEncodings = []string{"json", "console"}
)

// Load loads configuration from .env, environment variables and config files
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/docidentity")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.health_check_path", "/health")
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_burst", 100)

	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.collection", "identity")
	v.SetDefault("store.partitioned", true)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.streams.max_len", 10000)
	v.SetDefault("redis.streams.consumer_group", "docidentity")

	v.SetDefault("badger.dir", "./data/badger")
	v.SetDefault("badger.in_memory", false)

	v.SetDefault("auth.jwt_secret", "dev-jwt-secret-change-in-production")
	v.SetDefault("auth.jwt_issuer", "docidentity")
	v.SetDefault("auth.jwt_expiration", "24h")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.topic_prefix", "identity-events")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_age", "168h")
	v.SetDefault("log.rotation_time", "24h")
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if cfg.Server.RateLimit < 0 {
		return fmt.Errorf("server rate limit cannot be negative")
	}

	if !contains(validBackends, cfg.Store.Backend) {
		return fmt.Errorf("invalid store backend: %s", cfg.Store.Backend)
	}

	if cfg.Store.Collection == "" {
		return fmt.Errorf("store collection cannot be empty")
	}

	switch strings.ToLower(cfg.Store.Backend) {
	case "redis":
		if cfg.Redis.URL == "" {
			return fmt.Errorf("redis url cannot be empty")
		}
		if cfg.Redis.PoolSize < 1 {
			return fmt.Errorf("redis pool size must be at least 1")
		}
	case "badger":
		if cfg.Badger.Dir == "" && !cfg.Badger.InMemory {
			return fmt.Errorf("badger dir cannot be empty unless in_memory is set")
		}
	}

	if len(cfg.Auth.JWTSecret) < 8 {
		return fmt.Errorf("JWT secret must be at least 8 characters long")
	}

	if cfg.Auth.JWTExpiration < time.Minute {
		return fmt.Errorf("JWT expiration must be at least 1 minute")
	}

	if !contains(validLogLevels, cfg.Log.Level) {
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}

	if !contains(validEncodings, cfg.Log.Encoding) {
		return fmt.Errorf("invalid log encoding: %s", cfg.Log.Encoding)
	}

	return nil
}

// GetServerAddr returns the server address in host:port format
func (s *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction returns true if the environment is production
func (s *ServerConfig) IsProduction() bool {
	return strings.ToLower(s.Environment) == "production"
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}

// Package config loads the engine's top-level configuration from an
// optional YAML file plus environment-variable overrides, grounded on the
// teacher's flat Options-struct-with-defaults idiom (features/model/*,
// features/stream/pulse) and r3e-network-service_layer's pkg/config
// file+env layering for the loading shape itself.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP API surface (spec.md §6).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RedisConfig controls the KV store backing sessions and rate limiting.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MongoConfig controls the execution store when Store is "mongo".
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// SessionConfig controls agent/session.Isolator defaults.
type SessionConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxPerUser int           `yaml:"max_per_user"`
}

// RateLimitConfig controls agent/ratelimit.Limiter defaults.
type RateLimitConfig struct {
	RequestsPerWindow int           `yaml:"requests_per_window"`
	RequestWindow     time.Duration `yaml:"request_window"`
	BurstMultiplier   float64       `yaml:"burst_multiplier"`
	TokensPerWindow   int64         `yaml:"tokens_per_window"`
	TokenWindow       time.Duration `yaml:"token_window"`
	FailOpen          bool          `yaml:"fail_open"`
}

// LLMConfig selects and configures the AI flow builder's model provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "anthropic", "openai", "bedrock", or "" to disable
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	Region   string `yaml:"region"` // bedrock only
}

// ContainerConfig selects the plugin orchestrator backend.
type ContainerConfig struct {
	Backend string `yaml:"backend"` // "docker", "kubernetes", or "auto"
}

// LoggingConfig controls internal/telemetry's logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CredentialConfig controls the engine's credential resolver. MasterKey is
// the base64 encoding of a 32-byte secretbox key; an empty value leaves the
// resolver unconfigured, so nodes referencing a CredentialID fail at
// schedule time rather than running with an unresolved credential.
type CredentialConfig struct {
	MasterKey string `yaml:"master_key"`
}

// Config is the n3n-engine process's top-level configuration.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Redis       RedisConfig      `yaml:"redis"`
	Store       string           `yaml:"store"` // "inmem" or "mongo"
	Mongo       MongoConfig      `yaml:"mongo"`
	Session     SessionConfig    `yaml:"session"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	LLM         LLMConfig        `yaml:"llm"`
	Container   ContainerConfig  `yaml:"container"`
	Credential  CredentialConfig `yaml:"credential"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Redis:  RedisConfig{Addr: "127.0.0.1:6379"},
		Store:  "inmem",
		Mongo:  MongoConfig{Database: "n3n"},
		Session: SessionConfig{
			TTL:        24 * time.Hour,
			MaxPerUser: 10,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 60,
			RequestWindow:     time.Minute,
			BurstMultiplier:   1.5,
			TokensPerWindow:   100000,
			TokenWindow:       time.Minute,
			FailOpen:          false,
		},
		Container: ContainerConfig{Backend: "auto"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads cfg from path (if non-empty and present) and then applies
// environment-variable overrides, mirroring the teacher's layered
// file-then-env config loading.
func Load(path string) (*Config, error) {
	cfg := New()
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides overlays N3N_-prefixed environment variables on top of
// whatever New/loadFromFile produced, so a container deployment never needs
// a mounted file for the handful of values that vary per environment.
func applyEnvOverrides(cfg *Config) {
	str(&cfg.Server.Host, "N3N_SERVER_HOST")
	intv(&cfg.Server.Port, "N3N_SERVER_PORT")
	str(&cfg.Redis.Addr, "N3N_REDIS_ADDR")
	str(&cfg.Redis.Password, "N3N_REDIS_PASSWORD")
	intv(&cfg.Redis.DB, "N3N_REDIS_DB")
	str(&cfg.Store, "N3N_STORE")
	str(&cfg.Mongo.URI, "N3N_MONGO_URI")
	str(&cfg.Mongo.Database, "N3N_MONGO_DATABASE")
	duration(&cfg.Session.TTL, "N3N_SESSION_TTL")
	intv(&cfg.Session.MaxPerUser, "N3N_SESSION_MAX_PER_USER")
	intv(&cfg.RateLimit.RequestsPerWindow, "N3N_RATELIMIT_REQUESTS_PER_WINDOW")
	duration(&cfg.RateLimit.RequestWindow, "N3N_RATELIMIT_REQUEST_WINDOW")
	float(&cfg.RateLimit.BurstMultiplier, "N3N_RATELIMIT_BURST_MULTIPLIER")
	int64v(&cfg.RateLimit.TokensPerWindow, "N3N_RATELIMIT_TOKENS_PER_WINDOW")
	duration(&cfg.RateLimit.TokenWindow, "N3N_RATELIMIT_TOKEN_WINDOW")
	boolv(&cfg.RateLimit.FailOpen, "N3N_RATELIMIT_FAIL_OPEN")
	str(&cfg.LLM.Provider, "N3N_LLM_PROVIDER")
	str(&cfg.LLM.Model, "N3N_LLM_MODEL")
	str(&cfg.LLM.APIKey, "N3N_LLM_API_KEY")
	str(&cfg.LLM.Region, "N3N_LLM_REGION")
	str(&cfg.Container.Backend, "N3N_CONTAINER_BACKEND")
	str(&cfg.Credential.MasterKey, "N3N_CREDENTIAL_MASTER_KEY")
	str(&cfg.Logging.Level, "N3N_LOG_LEVEL")
	str(&cfg.Logging.Format, "N3N_LOG_FORMAT")
}

func str(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func intv(dst *int, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func int64v(dst *int64, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func float(dst *float64, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func boolv(dst *bool, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func duration(dst *time.Duration, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Package config loads service configuration from an optional .env file, an
// optional YAML overlay and the process environment, in increasing priority.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	NATS     NATSConfig     `yaml:"nats"`
	Workflow WorkflowConfig `yaml:"workflow"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// GRPCConfig holds gRPC server settings.
type GRPCConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig holds PostgreSQL connection settings. Backend "memory"
// keeps all state in process and ignores the connection settings.
type DatabaseConfig struct {
	Backend     string        `yaml:"backend"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Database    string        `yaml:"database"`
	SSLMode     string        `yaml:"ssl_mode"`
	MaxConns    int32         `yaml:"max_conns"`
	MinConns    int32         `yaml:"min_conns"`
	MaxConnTime time.Duration `yaml:"max_conn_time"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	HealthCheck time.Duration `yaml:"health_check"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// RequireMFA rejects requests from users whose last MFA is stale.
	RequireMFA bool `yaml:"require_mfa"`
}

// NATSConfig holds the optional notification bus settings. An empty URL
// disables NATS publishing.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// WorkflowConfig holds case workflow policy.
type WorkflowConfig struct {
	MinQuotesForReview int `yaml:"min_quotes_for_review"`
	MFAValidityDays    int `yaml:"mfa_validity_days"`
}

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "be-procurement-cases",
			Version:     "0.1.0",
			Environment: "development",
			LogLevel:    "info",
		},
		Server: ServerConfig{
			Port:            8086,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0, // SSE streams stay open
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		GRPC: GRPCConfig{Port: 9086},
		Database: DatabaseConfig{
			Backend:     BackendPostgres,
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Database:    "procurement",
			SSLMode:     "disable",
			MaxConns:    10,
			MinConns:    1,
			MaxConnTime: time.Hour,
			MaxIdleTime: 30 * time.Minute,
			HealthCheck: time.Minute,
		},
		Auth: AuthConfig{
			Issuer:   "be-procurement-cases",
			TokenTTL: 12 * time.Hour,
		},
		NATS: NATSConfig{SubjectPrefix: "notifications.pr"},
		Workflow: WorkflowConfig{
			MinQuotesForReview: 1,
			MFAValidityDays:    3,
		},
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded first if present; CONFIG_FILE names an optional YAML overlay; then
// environment variables override individual settings.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Workflow.MinQuotesForReview < 1 {
		return fmt.Errorf("workflow.min_quotes_for_review must be >= 1")
	}
	if c.Workflow.MFAValidityDays <= 0 {
		return fmt.Errorf("workflow.mfa_validity_days must be > 0")
	}
	if c.Database.Backend != BackendPostgres && c.Database.Backend != BackendMemory {
		return fmt.Errorf("database.backend must be %q or %q", BackendPostgres, BackendMemory)
	}
	if c.Environment() == "production" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

// Environment returns the normalized environment name.
func (c *Config) Environment() string {
	return strings.ToLower(c.Service.Environment)
}

func applyEnv(cfg *Config) error {
	var err error
	setString(&cfg.Service.Name, "SERVICE_NAME")
	setString(&cfg.Service.Version, "SERVICE_VERSION")
	setString(&cfg.Service.Environment, "ENVIRONMENT")
	setString(&cfg.Service.LogLevel, "LOG_LEVEL")

	if err = setInt(&cfg.Server.Port, "PORT"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Server.RequestTimeout, "REQUEST_TIMEOUT"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT"); err != nil {
		return err
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if err = setInt(&cfg.GRPC.Port, "GRPC_PORT"); err != nil {
		return err
	}

	setString(&cfg.Database.Backend, "STORAGE_BACKEND")
	setString(&cfg.Database.Host, "DB_HOST")
	if err = setInt(&cfg.Database.Port, "DB_PORT"); err != nil {
		return err
	}
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Database, "DB_NAME")
	setString(&cfg.Database.SSLMode, "DB_SSLMODE")
	var maxConns int
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		if maxConns, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("DB_MAX_CONNS: %w", err)
		}
		cfg.Database.MaxConns = int32(maxConns)
	}

	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.Issuer, "JWT_ISSUER")
	if err = setBool(&cfg.Auth.RequireMFA, "REQUIRE_MFA"); err != nil {
		return err
	}

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "NATS_SUBJECT_PREFIX")

	if err = setInt(&cfg.Workflow.MinQuotesForReview, "MIN_QUOTES_FOR_REVIEW"); err != nil {
		return err
	}
	return setInt(&cfg.Workflow.MFAValidityDays, "MFA_VALIDITY_DAYS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

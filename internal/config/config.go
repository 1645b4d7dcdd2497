package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides. Secrets are expected to come from the environment,
// not from the YAML file.
const (
	EnvAPIKey   = "GEMINI_API_KEY"
	EnvPort     = "RELAY_PORT"
	EnvLogLevel = "LOG_LEVEL"
)

// Store drivers
const (
	StoreNone     = ""
	StoreMinio    = "minio"
	StoreMySQL    = "mysql"
	StorePostgres = "postgres"
)

// DefaultAllowedOrigins is the origin allow-list used when the config file has none.
var DefaultAllowedOrigins = []string{
	"https://latindance.kr",
	"https://golf.archerlab.dev",
	"https://archerlab.dev",
	"http://localhost:3000",
	"http://localhost:8000",
	"http://127.0.0.1:5500",
	"http://127.0.0.1:5501",
	"null",
}

type Config struct {
	Server struct {
		Port               int `yaml:"port"`
		ReadTimeoutSeconds int `yaml:"readTimeoutSeconds"`
		RateLimit          struct {
			Capacity        int `yaml:"capacity"`
			RefillPerSecond int `yaml:"refillPerSecond"`
		} `yaml:"rateLimit"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`

	Upstream struct {
		APIKey         string `yaml:"apiKey"`
		UploadBaseURL  string `yaml:"uploadBaseURL"`
		APIBaseURL     string `yaml:"apiBaseURL"`
		Model          string `yaml:"model"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
	} `yaml:"upstream"`

	Store struct {
		Driver  string `yaml:"driver"`
		TTLDays int    `yaml:"ttlDays"`
	} `yaml:"store"`

	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"database"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`
}

// Default returns a config with every optional field filled in.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads the YAML file at path, then applies defaults and environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Upstream.APIKey = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 310
	}
	if c.Server.RateLimit.Capacity == 0 {
		c.Server.RateLimit.Capacity = 60
	}
	if c.Server.RateLimit.RefillPerSecond == 0 {
		c.Server.RateLimit.RefillPerSecond = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if c.Upstream.UploadBaseURL == "" {
		c.Upstream.UploadBaseURL = "https://generativelanguage.googleapis.com"
	}
	if c.Upstream.APIBaseURL == "" {
		c.Upstream.APIBaseURL = c.Upstream.UploadBaseURL
	}
	if c.Upstream.Model == "" {
		c.Upstream.Model = "gemini-3-flash-preview"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 300
	}
	if c.Store.TTLDays == 0 {
		c.Store.TTLDays = 30
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
}

// Validate checks values that would otherwise fail late at request time.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d: must be between 1 and 65535", c.Server.Port)
	}
	for _, raw := range []string{c.Upstream.UploadBaseURL, c.Upstream.APIBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid upstream base URL %q", raw)
		}
	}
	switch c.Store.Driver {
	case StoreNone, StoreMinio, StoreMySQL, StorePostgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// ResultTTL is how long persisted results stay readable.
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.Store.TTLDays) * 24 * time.Hour
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Name,
		c.Postgres.SSLMode,
	)
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "LAUNCHPAD_"

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" toml:"driver"`
	DSN             string        `yaml:"dsn" toml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns" toml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" toml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" toml:"connMaxLifetime"`
	SlowThreshold   time.Duration `yaml:"slowThreshold" toml:"slowThreshold"`
}

// AuthConfig controls wallet signature authentication.
type AuthConfig struct {
	Message            string `yaml:"message" toml:"message"`
	StrictAddressMatch bool   `yaml:"strictAddressMatch" toml:"strictAddressMatch"`
	MaxBodyBytes       int64  `yaml:"maxBodyBytes" toml:"maxBodyBytes"`
}

// JobsConfig controls the operator job endpoints and their JWT checks.
type JobsConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	HMACSecret    string        `yaml:"hmacSecret" toml:"hmacSecret"`
	Issuer        string        `yaml:"issuer" toml:"issuer"`
	Audience      string        `yaml:"audience" toml:"audience"`
	ScopeClaim    string        `yaml:"scopeClaim" toml:"scopeClaim"`
	ClockSkew     time.Duration `yaml:"clockSkew" toml:"clockSkew"`
	BackfillLimit int           `yaml:"backfillLimit" toml:"backfillLimit"`
}

type IndexerConfig struct {
	Endpoint string        `yaml:"endpoint" toml:"endpoint"`
	APIKey   string        `yaml:"apiKey" toml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"`
}

type RPCConfig struct {
	Endpoint string        `yaml:"endpoint" toml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"`
	ChainID  uint64        `yaml:"chainId" toml:"chainId"`
}

type CacheConfig struct {
	Backend       string        `yaml:"backend" toml:"backend"`
	Capacity      int           `yaml:"capacity" toml:"capacity"`
	TTL           time.Duration `yaml:"ttl" toml:"ttl"`
	RedisAddr     string        `yaml:"redisAddr" toml:"redisAddr"`
	RedisDB       int           `yaml:"redisDB" toml:"redisDB"`
	RedisPassword string        `yaml:"redisPassword" toml:"redisPassword"`
	KeyPrefix     string        `yaml:"keyPrefix" toml:"keyPrefix"`
}

type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"ratePerSecond" toml:"ratePerSecond"`
	Burst         int     `yaml:"burst" toml:"burst"`
}

// RateLimitsConfig groups limits by route class.
type RateLimitsConfig struct {
	Public RateLimitConfig `yaml:"public" toml:"public"`
	Auth   RateLimitConfig `yaml:"auth" toml:"auth"`
	Jobs   RateLimitConfig `yaml:"jobs" toml:"jobs"`
}

type ObservabilityConfig struct {
	ServiceName  string            `yaml:"serviceName" toml:"serviceName"`
	Metrics      bool              `yaml:"metrics" toml:"metrics"`
	Tracing      bool              `yaml:"tracing" toml:"tracing"`
	LogRequests  bool              `yaml:"logRequests" toml:"logRequests"`
	OTLPEndpoint string            `yaml:"otlpEndpoint" toml:"otlpEndpoint"`
	OTLPInsecure bool              `yaml:"otlpInsecure" toml:"otlpInsecure"`
	OTLPHeaders  map[string]string `yaml:"otlpHeaders" toml:"otlpHeaders"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB" toml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups" toml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays" toml:"maxAgeDays"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins" toml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials" toml:"allowCredentials"`
}

type SecurityConfig struct {
	AllowInsecure bool   `yaml:"allowInsecure" toml:"allowInsecure"`
	TLSCertFile   string `yaml:"tlsCertFile" toml:"tlsCertFile"`
	TLSKeyFile    string `yaml:"tlsKeyFile" toml:"tlsKeyFile"`
}

type Config struct {
	Environment   string              `yaml:"environment" toml:"environment"`
	ListenAddress string              `yaml:"listen" toml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout" toml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout" toml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout" toml:"idleTimeout"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Jobs          JobsConfig          `yaml:"jobs" toml:"jobs"`
	Indexer       IndexerConfig       `yaml:"indexer" toml:"indexer"`
	RPC           RPCConfig           `yaml:"rpc" toml:"rpc"`
	Cache         CacheConfig         `yaml:"cache" toml:"cache"`
	RateLimits    RateLimitsConfig    `yaml:"rateLimits" toml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability" toml:"observability"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
	CORS          CORSConfig          `yaml:"cors" toml:"cors"`
	Security      SecurityConfig      `yaml:"security" toml:"security"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Environment:   "dev",
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:launchpad.db?cache=shared",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			SlowThreshold:   200 * time.Millisecond,
		},
		Auth: AuthConfig{
			Message:      "we're going higherrrrrrr",
			MaxBodyBytes: 1 << 20,
		},
		Jobs: JobsConfig{
			ScopeClaim:    "scope",
			ClockSkew:     2 * time.Minute,
			BackfillLimit: 100,
		},
		Indexer: IndexerConfig{Timeout: 10 * time.Second},
		RPC:     RPCConfig{Timeout: 10 * time.Second},
		Cache: CacheConfig{
			Backend:   "memory",
			Capacity:  1024,
			TTL:       time.Minute,
			KeyPrefix: "launchpad:",
		},
		RateLimits: RateLimitsConfig{
			Public: RateLimitConfig{RatePerSecond: 20, Burst: 40},
			Auth:   RateLimitConfig{RatePerSecond: 5, Burst: 10},
			Jobs:   RateLimitConfig{RatePerSecond: 1, Burst: 2},
		},
		Observability: ObservabilityConfig{
			ServiceName: "launchpad",
			Metrics:     true,
			Tracing:     true,
			LogRequests: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// Load reads a YAML or TOML file over the defaults, then applies LAUNCHPAD_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (cfg *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("ENV", &cfg.Environment)
	str("LISTEN", &cfg.ListenAddress)
	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_DSN", &cfg.Database.DSN)
	str("AUTH_MESSAGE", &cfg.Auth.Message)
	str("JOBS_SECRET", &cfg.Jobs.HMACSecret)
	str("INDEXER_ENDPOINT", &cfg.Indexer.Endpoint)
	str("INDEXER_API_KEY", &cfg.Indexer.APIKey)
	str("RPC_ENDPOINT", &cfg.RPC.Endpoint)
	str("CACHE_BACKEND", &cfg.Cache.Backend)
	str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	str("LOG_LEVEL", &cfg.Logging.Level)

	if v, ok := lookup(EnvPrefix + "JOBS_ENABLED"); ok && strings.TrimSpace(v) != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %sJOBS_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Jobs.Enabled = enabled
	}
	if v, ok := lookup(EnvPrefix + "RPC_CHAIN_ID"); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("parse %sRPC_CHAIN_ID: %w", EnvPrefix, err)
		}
		cfg.RPC.ChainID = id
	}
	return nil
}

var (
	ErrIndexerEndpointMissing = errors.New("indexer.endpoint is required")
	ErrRPCEndpointMissing     = errors.New("rpc.endpoint is required")
	ErrJobsSecretMissing      = errors.New("jobs.hmacSecret is required when jobs.enabled is true")
)

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("database.driver %q is not supported", cfg.Database.Driver)
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		return fmt.Errorf("observability.serviceName is required")
	}
	if strings.TrimSpace(cfg.Auth.Message) == "" {
		return fmt.Errorf("auth.message cannot be empty")
	}
	if cfg.Auth.MaxBodyBytes <= 0 {
		return fmt.Errorf("auth.maxBodyBytes must be positive")
	}
	if strings.TrimSpace(cfg.Indexer.Endpoint) == "" {
		return ErrIndexerEndpointMissing
	}
	endpoint, err := url.Parse(cfg.Indexer.Endpoint)
	if err != nil {
		return fmt.Errorf("parse indexer.endpoint: %w", err)
	}
	if _, _, err := EnforceSecureScheme(cfg.Environment, endpoint, false); err != nil {
		return fmt.Errorf("indexer.endpoint: %w", err)
	}
	if strings.TrimSpace(cfg.RPC.Endpoint) == "" {
		return ErrRPCEndpointMissing
	}
	if cfg.Indexer.Timeout <= 0 || cfg.RPC.Timeout <= 0 {
		return fmt.Errorf("indexer.timeout and rpc.timeout must be positive")
	}
	if cfg.Jobs.Enabled {
		if strings.TrimSpace(cfg.Jobs.HMACSecret) == "" {
			return ErrJobsSecretMissing
		}
		if cfg.Jobs.BackfillLimit <= 0 {
			return fmt.Errorf("jobs.backfillLimit must be positive")
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Cache.Backend)) {
	case "memory", "":
	case "redis":
		if strings.TrimSpace(cfg.Cache.RedisAddr) == "" {
			return fmt.Errorf("cache.redisAddr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", cfg.Cache.Backend)
	}
	if (cfg.Security.TLSCertFile == "") != (cfg.Security.TLSKeyFile == "") {
		return fmt.Errorf("security.tlsCertFile and security.tlsKeyFile must be set together")
	}
	return nil
}

// TLSEnabled reports whether the server should terminate TLS itself.
func (cfg Config) TLSEnabled() bool {
	return strings.TrimSpace(cfg.Security.TLSCertFile) != "" && strings.TrimSpace(cfg.Security.TLSKeyFile) != ""
}

// EnforceSecureScheme ensures the supplied URL uses HTTPS outside of the dev environment.
// If autoUpgrade is enabled, insecure HTTP URLs are transparently upgraded to HTTPS.
// The returned boolean indicates whether an upgrade occurred.
func EnforceSecureScheme(env string, target *url.URL, autoUpgrade bool) (*url.URL, bool, error) {
	if target == nil {
		return nil, false, fmt.Errorf("target URL is nil")
	}
	scheme := strings.ToLower(strings.TrimSpace(target.Scheme))
	switch scheme {
	case "https":
		return target, false, nil
	case "http":
		if isDevEnv(env) {
			return target, false, nil
		}
		if autoUpgrade {
			upgraded := *target
			upgraded.Scheme = "https"
			return &upgraded, true, nil
		}
		if strings.TrimSpace(env) == "" {
			env = "(unset)"
		}
		return nil, false, fmt.Errorf("plaintext HTTP endpoints are not permitted for environment %s", env)
	case "":
		return nil, false, fmt.Errorf("URL scheme is required")
	default:
		return nil, false, fmt.Errorf("unsupported URL scheme %q", target.Scheme)
	}
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

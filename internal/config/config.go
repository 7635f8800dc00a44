// Package config loads runtime configuration through a three-layer
// precedence: defaults, then environment variables, then functional
// options (highest priority wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates every concern of the runtime: ambient (HTTP, logging,
// session root) and domain (delegation defaults, gateway security).
type Config struct {
	ServiceName string
	Port        int
	LogLevel    string
	LogFormat   string

	Session    SessionConfig
	Gateway    GatewayConfig
	Delegation DelegationDefaults
	Completer  CompleterConfig
	Development DevelopmentConfig
}

// SessionConfig controls the Session File Manager's on-disk root and
// polling cadence.
type SessionConfig struct {
	RootDir       string
	PollInterval  time.Duration
}

// GatewayConfig controls the security pipeline.
type GatewayConfig struct {
	JWTSecret      string
	JWTIssuer      string
	ClockSkew      time.Duration
	MaxBodySize    int64
	MaxInputLength int
	MaxScanSize    int64
	CORSOrigins    []string
	CORSCredentials bool
	AllowedHosts   []string
	PublicPaths    []string
	BlockOnDetection bool
	MaskOutput     bool
}

// DelegationDefaults seeds the orchestrator's delegation defaults, which the
// planner's deriveDelegation falls back to.
type DelegationDefaults struct {
	WorkerCount int
	Timeout     time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	BackoffFactor float64
	MaxDelay    time.Duration
	MaxWorkers  int
}

// CompleterConfig configures the LLM completion client.
type CompleterConfig struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	RequestTimeout time.Duration
}

type DevelopmentConfig struct {
	DevMode bool // true when no JWT secret is set, unless WithDevMode overrides it: auth + output filtering disabled
}

// DefaultConfig returns the baseline configuration before env/options are
// applied, mirroring core.DefaultConfig's role as the lowest-priority layer.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "tachikoma",
		Port:        3000,
		LogLevel:    "info",
		LogFormat:   "json",
		Session: SessionConfig{
			RootDir:      ".tachikoma",
			PollInterval: 500 * time.Millisecond,
		},
		Gateway: GatewayConfig{
			JWTIssuer:       "tachikoma",
			ClockSkew:       60 * time.Second,
			MaxBodySize:     1048576,
			MaxInputLength:  100 * 1024,
			MaxScanSize:     256 * 1024,
			PublicPaths:     []string{"/", "/health"},
			BlockOnDetection: false,
			MaskOutput:      true,
		},
		Delegation: DelegationDefaults{
			WorkerCount:   1,
			Timeout:       5 * time.Minute,
			MaxRetries:    3,
			BaseDelay:     500 * time.Millisecond,
			BackoffFactor: 2.0,
			MaxDelay:      30 * time.Second,
			MaxWorkers:    10,
		},
		Completer: CompleterConfig{
			Provider:       "mock",
			Model:          "gpt-4",
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Option mutates a Config during New(); applied after env vars, so an
// explicit option always wins, per the three-layer precedence rule.
type Option func(*Config) error

// New builds a Config from defaults, environment variables, then options.
func New(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	cfg.Development.DevMode = cfg.Gateway.JWTSecret == ""
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Port = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("MAX_BODY_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_BODY_SIZE: %w", err)
		}
		c.Gateway.MaxBodySize = n
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Gateway.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		c.Gateway.JWTIssuer = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Gateway.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("CORS_CREDENTIALS"); v != "" {
		c.Gateway.CORSCredentials = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ALLOWED_HOSTS"); v != "" {
		c.Gateway.AllowedHosts = splitCSV(v)
	}
	if v := os.Getenv("TACHIKOMA_SESSION_ROOT"); v != "" {
		c.Session.RootDir = v
	}
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate enforces the invariants PlannerOutput/DelegationConfig/
// RetryPolicy values required at the configuration level.
func (c *Config) Validate() error {
	if c.Delegation.WorkerCount < 1 {
		return fmt.Errorf("delegation.workerCount must be >= 1")
	}
	if c.Delegation.Timeout <= 0 {
		return fmt.Errorf("delegation.timeout must be > 0")
	}
	if c.Delegation.MaxRetries < 0 {
		return fmt.Errorf("delegation.maxRetries must be >= 0")
	}
	if c.Delegation.BaseDelay <= 0 {
		return fmt.Errorf("delegation.baseDelay must be > 0")
	}
	if c.Delegation.BackoffFactor < 1 {
		return fmt.Errorf("delegation.backoffFactor must be >= 1")
	}
	if c.Delegation.MaxDelay < c.Delegation.BaseDelay {
		return fmt.Errorf("delegation.maxDelay must be >= baseDelay")
	}
	if !c.Development.DevMode {
		if c.Gateway.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
	}
	return nil
}

// WithPort overrides the listen port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port <= 0 {
			return fmt.Errorf("port must be positive")
		}
		c.Port = port
		return nil
	}
}

// WithSessionRoot overrides the Session File Manager's root directory.
func WithSessionRoot(dir string) Option {
	return func(c *Config) error {
		if dir == "" {
			return fmt.Errorf("session root must not be empty")
		}
		c.Session.RootDir = dir
		return nil
	}
}

// WithJWTSecret sets the HMAC secret used by the gateway's JWT stage.
func WithJWTSecret(secret string) Option {
	return func(c *Config) error {
		c.Gateway.JWTSecret = secret
		c.Development.DevMode = secret == ""
		return nil
	}
}

// WithCompleter configures the LLM provider the Planner dispatches to.
func WithCompleter(provider, apiKey, model string) Option {
	return func(c *Config) error {
		c.Completer.Provider = provider
		c.Completer.APIKey = apiKey
		if model != "" {
			c.Completer.Model = model
		}
		return nil
	}
}

// WithAllowedHosts seeds the outbound proxy allow-list.
func WithAllowedHosts(hosts ...string) Option {
	return func(c *Config) error {
		c.Gateway.AllowedHosts = append(c.Gateway.AllowedHosts, hosts...)
		return nil
	}
}

// WithDevMode forces dev mode regardless of JWT_SECRET presence; useful for
// local iteration and for tests that must exercise the gateway without
// standing up real credentials.
func WithDevMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.DevMode = enabled
		return nil
	}
}

// fileOverrides is the subset of Config a YAML file may override. Only
// non-zero fields are applied, so a file can set just the values it cares
// about and leave the rest at their default/env-derived value.
type fileOverrides struct {
	ServiceName string `yaml:"serviceName"`
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
	Session     struct {
		RootDir      string        `yaml:"rootDir"`
		PollInterval time.Duration `yaml:"pollInterval"`
	} `yaml:"session"`
	Gateway struct {
		JWTIssuer    string   `yaml:"jwtIssuer"`
		AllowedHosts []string `yaml:"allowedHosts"`
		PublicPaths  []string `yaml:"publicPaths"`
	} `yaml:"gateway"`
	Delegation struct {
		WorkerCount int           `yaml:"workerCount"`
		Timeout     time.Duration `yaml:"timeout"`
		MaxRetries  int           `yaml:"maxRetries"`
	} `yaml:"delegation"`
	Completer struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
		BaseURL  string `yaml:"baseUrl"`
	} `yaml:"completer"`
}

// WithConfigFile layers a YAML file's values on top of whatever defaults
// and env vars have already produced; only fields present and non-zero in
// the file are applied. The secret itself (JWT_SECRET, API keys) is
// intentionally not YAML-configurable — those stay env-only.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}
		var ov fileOverrides
		if err := yaml.Unmarshal(data, &ov); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}

		if ov.ServiceName != "" {
			c.ServiceName = ov.ServiceName
		}
		if ov.Port != 0 {
			c.Port = ov.Port
		}
		if ov.LogLevel != "" {
			c.LogLevel = ov.LogLevel
		}
		if ov.LogFormat != "" {
			c.LogFormat = ov.LogFormat
		}
		if ov.Session.RootDir != "" {
			c.Session.RootDir = ov.Session.RootDir
		}
		if ov.Session.PollInterval > 0 {
			c.Session.PollInterval = ov.Session.PollInterval
		}
		if ov.Gateway.JWTIssuer != "" {
			c.Gateway.JWTIssuer = ov.Gateway.JWTIssuer
		}
		if len(ov.Gateway.AllowedHosts) > 0 {
			c.Gateway.AllowedHosts = append(c.Gateway.AllowedHosts, ov.Gateway.AllowedHosts...)
		}
		if len(ov.Gateway.PublicPaths) > 0 {
			c.Gateway.PublicPaths = ov.Gateway.PublicPaths
		}
		if ov.Delegation.WorkerCount != 0 {
			c.Delegation.WorkerCount = ov.Delegation.WorkerCount
		}
		if ov.Delegation.Timeout > 0 {
			c.Delegation.Timeout = ov.Delegation.Timeout
		}
		if ov.Delegation.MaxRetries != 0 {
			c.Delegation.MaxRetries = ov.Delegation.MaxRetries
		}
		if ov.Completer.Provider != "" {
			c.Completer.Provider = ov.Completer.Provider
		}
		if ov.Completer.Model != "" {
			c.Completer.Model = ov.Completer.Model
		}
		if ov.Completer.BaseURL != "" {
			c.Completer.BaseURL = ov.Completer.BaseURL
		}
		return nil
	}
}

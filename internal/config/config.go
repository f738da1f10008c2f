// ABOUTME: Configuration loading and parsing for hookrelay
// ABOUTME: Supports YAML or TOML files, env var expansion, env overrides and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrMissingSecret is returned when no shared secret is configured.
// The relay refuses to start without one.
var ErrMissingSecret = errors.New("auth.shared_secret is required (or set SHARED_SECRET)")

// Defaults applied to unset fields.
const (
	DefaultHTTPAddr            = ":18080"
	DefaultPrivateAddr         = ":9100"
	DefaultWSPath              = "/ws"
	DefaultProvisioningTimeout = 30 * time.Second
	DefaultWriteWait           = 10 * time.Second
	DefaultPongWait            = 60 * time.Second
	DefaultLateReplyTTL        = 5 * time.Minute
	DefaultMaxMessageBytes     = 1 << 20
	DefaultMaxBodyBytes        = 1 << 20
	DefaultMetricsPath         = "/metrics"
)

// Config represents the complete hookrelay configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`
	Relay   RelayConfig   `yaml:"relay" toml:"relay"`
	Ledger  LedgerConfig  `yaml:"ledger" toml:"ledger"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	// HTTPAddr serves webhooks and consumer upgrades.
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// PrivateAddr serves health and metrics; it is not authenticated.
	PrivateAddr string `yaml:"private_addr" toml:"private_addr"`
}

// AuthConfig holds the shared secret presented by every caller and consumer
type AuthConfig struct {
	SharedSecret string `yaml:"shared_secret" toml:"shared_secret"`
}

// RelayConfig holds consumer connection and provisioning settings
type RelayConfig struct {
	WSPath          string   `yaml:"ws_path" toml:"ws_path"`
	MaxMessageBytes int64    `yaml:"max_message_bytes" toml:"max_message_bytes"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes" toml:"max_body_bytes"`
	AllowedOrigins  []string `yaml:"allowed_origins" toml:"allowed_origins"`

	ProvisioningTimeout time.Duration `yaml:"-" toml:"-"`
	WriteWait           time.Duration `yaml:"-" toml:"-"`
	PongWait            time.Duration `yaml:"-" toml:"-"`
	PingInterval        time.Duration `yaml:"-" toml:"-"`
	LateReplyTTL        time.Duration `yaml:"-" toml:"-"`

	// Raw string values for YAML/TOML unmarshaling
	ProvisioningTimeoutRaw string `yaml:"provisioning_timeout" toml:"provisioning_timeout"`
	WriteWaitRaw           string `yaml:"write_wait" toml:"write_wait"`
	PongWaitRaw            string `yaml:"pong_wait" toml:"pong_wait"`
	PingIntervalRaw        string `yaml:"ping_interval" toml:"ping_interval"`
	LateReplyTTLRaw        string `yaml:"late_reply_ttl" toml:"late_reply_ttl"`
}

// LedgerConfig holds the optional relay event ledger settings.
// An empty Path disables the ledger.
type LedgerConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Load reads the configuration file at path (YAML, or TOML when the extension
// is .toml), applies environment overrides and defaults, and validates the result.
// An empty path skips the file entirely so the relay can be configured from
// the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw content
		expanded := expandEnvVars(string(data))

		if err := decode(path, expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func decode(path, content string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(content, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(content), cfg)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides lets the environment win over the file. PORT, METRICS_PORT
// and SHARED_SECRET are honoured for compatibility with existing deployments.
func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.HTTPAddr = ":" + port
	}
	if port := os.Getenv("METRICS_PORT"); port != "" {
		cfg.Server.PrivateAddr = ":" + port
	}
	if secret := os.Getenv("SHARED_SECRET"); secret != "" {
		cfg.Auth.SharedSecret = secret
	}

	overrides := []struct {
		env    string
		target *string
	}{
		{"HOOKRELAY_HTTP_ADDR", &cfg.Server.HTTPAddr},
		{"HOOKRELAY_PRIVATE_ADDR", &cfg.Server.PrivateAddr},
		{"HOOKRELAY_SHARED_SECRET", &cfg.Auth.SharedSecret},
		{"HOOKRELAY_WS_PATH", &cfg.Relay.WSPath},
		{"HOOKRELAY_PROVISIONING_TIMEOUT", &cfg.Relay.ProvisioningTimeoutRaw},
		{"HOOKRELAY_LEDGER_PATH", &cfg.Ledger.Path},
		{"HOOKRELAY_LOG_LEVEL", &cfg.Logging.Level},
		{"HOOKRELAY_LOG_FORMAT", &cfg.Logging.Format},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{"provisioning_timeout", cfg.Relay.ProvisioningTimeoutRaw, &cfg.Relay.ProvisioningTimeout},
		{"write_wait", cfg.Relay.WriteWaitRaw, &cfg.Relay.WriteWait},
		{"pong_wait", cfg.Relay.PongWaitRaw, &cfg.Relay.PongWait},
		{"ping_interval", cfg.Relay.PingIntervalRaw, &cfg.Relay.PingInterval},
		{"late_reply_ttl", cfg.Relay.LateReplyTTLRaw, &cfg.Relay.LateReplyTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.target = d
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Server.PrivateAddr == "" {
		cfg.Server.PrivateAddr = DefaultPrivateAddr
	}
	if cfg.Relay.WSPath == "" {
		cfg.Relay.WSPath = DefaultWSPath
	}
	if cfg.Relay.MaxMessageBytes == 0 {
		cfg.Relay.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.Relay.MaxBodyBytes == 0 {
		cfg.Relay.MaxBodyBytes = DefaultMaxBodyBytes
	}
	// An explicit "0s" disables the timeout; only an unset value gets the default.
	if cfg.Relay.ProvisioningTimeout == 0 && cfg.Relay.ProvisioningTimeoutRaw == "" {
		cfg.Relay.ProvisioningTimeout = DefaultProvisioningTimeout
	}
	if cfg.Relay.WriteWait == 0 {
		cfg.Relay.WriteWait = DefaultWriteWait
	}
	if cfg.Relay.PongWait == 0 {
		cfg.Relay.PongWait = DefaultPongWait
	}
	if cfg.Relay.PingInterval == 0 {
		// Must fire before the peer's read deadline lapses.
		cfg.Relay.PingInterval = cfg.Relay.PongWait * 9 / 10
	}
	if cfg.Relay.LateReplyTTL == 0 {
		cfg.Relay.LateReplyTTL = DefaultLateReplyTTL
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Auth.SharedSecret == "" {
		return ErrMissingSecret
	}

	if c.Server.HTTPAddr == c.Server.PrivateAddr {
		return fmt.Errorf("server.http_addr and server.private_addr must differ (both %q)", c.Server.HTTPAddr)
	}

	if !strings.HasPrefix(c.Relay.WSPath, "/") {
		return fmt.Errorf("relay.ws_path must start with '/', got %q", c.Relay.WSPath)
	}
	if c.Relay.WSPath == "/wh" || c.Relay.WSPath == "/wh/settings" {
		return fmt.Errorf("relay.ws_path %q collides with a webhook route", c.Relay.WSPath)
	}

	if c.Relay.ProvisioningTimeout < 0 {
		return fmt.Errorf("relay.provisioning_timeout must not be negative, got %v", c.Relay.ProvisioningTimeout)
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"relay.write_wait", c.Relay.WriteWait},
		{"relay.pong_wait", c.Relay.PongWait},
		{"relay.ping_interval", c.Relay.PingInterval},
		{"relay.late_reply_ttl", c.Relay.LateReplyTTL},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", p.name, p.value)
		}
	}

	if c.Relay.MaxMessageBytes <= 0 {
		return fmt.Errorf("relay.max_message_bytes must be positive, got %d", c.Relay.MaxMessageBytes)
	}
	if c.Relay.MaxBodyBytes <= 0 {
		return fmt.Errorf("relay.max_body_bytes must be positive, got %d", c.Relay.MaxBodyBytes)
	}

	if c.Relay.PingInterval >= c.Relay.PongWait {
		return fmt.Errorf("relay.ping_interval (%v) must be shorter than relay.pong_wait (%v)",
			c.Relay.PingInterval, c.Relay.PongWait)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

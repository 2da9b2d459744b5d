package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Startup-Consulting-Inc/newsletter/internal/email"
)

// Relay providers
const (
	ProviderSMTP    = "smtp"
	ProviderSES     = "ses"
	ProviderSandbox = "sandbox"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Relay     RelayConfig     `yaml:"relay"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"` // Prometheus metrics configuration
	Audit     AuditConfig     `yaml:"audit"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"` // Announced in SMTP EHLO
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr      string         `yaml:"listen_addr"`
	Keys            []APIKeyConfig `yaml:"keys"`
	MaxHeaderBytes  int            `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	MaxBodyBytes    int64          `yaml:"max_body_bytes"`   // Max request body size (default: 10MB)
	ReadTimeout     time.Duration  `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout    time.Duration  `yaml:"write_timeout"`    // HTTP write timeout (default: 10m, sends are synchronous)
	IdleTimeout     time.Duration  `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"` // Graceful shutdown limit (default: 30s)
}

// APIKeyConfig is one API client. Hash is a bcrypt hash of the key.
type APIKeyConfig struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
}

// TrackingConfig contains message instrumentation settings
type TrackingConfig struct {
	BaseURL      string `yaml:"base_url"` // Public origin serving /trackOpen, /trackClick and /unsubscribe
	ContactEmail string `yaml:"contact_email"`
	InlineCSS    *bool  `yaml:"inline_css"` // Default: true
}

// RelayConfig contains outbound delivery settings
type RelayConfig struct {
	Provider                 string        `yaml:"provider"` // smtp, ses, sandbox
	From                     string        `yaml:"from"`
	FromName                 string        `yaml:"from_name"`
	ReplyTo                  string        `yaml:"reply_to"`
	MaxConnections           int           `yaml:"max_connections"`             // Default: 5
	MaxMessagesPerConnection int           `yaml:"max_messages_per_connection"` // Default: 100
	Timeout                  time.Duration `yaml:"timeout"`                     // Default: 30s

	SMTP    SMTPRelayConfig    `yaml:"smtp"`
	SES     SESRelayConfig     `yaml:"ses"`
	Sandbox SandboxRelayConfig `yaml:"sandbox"`
	DKIM    DKIMConfig         `yaml:"dkim"`
}

// SMTPRelayConfig contains submission server settings
type SMTPRelayConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"` // Default: 587
	TLS                string `yaml:"tls"`  // none, starttls, tls (default: starttls)
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
}

// SESRelayConfig contains Amazon SES settings. Empty keys use the default AWS credential chain.
type SESRelayConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// SandboxRelayConfig contains sandbox relay settings
type SandboxRelayConfig struct {
	ErrorProbability float64 `yaml:"error_probability"` // 0..1, simulated delivery failures
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
}

// DispatchConfig contains batch dispatch settings
type DispatchConfig struct {
	BatchSize   int           `yaml:"batch_size"`  // Default: 10
	Concurrency int           `yaml:"concurrency"` // Default: 10
	BatchDelay  time.Duration `yaml:"batch_delay"` // Default: 1s
}

// SchedulerConfig contains scheduled send settings
type SchedulerConfig struct {
	Enabled     *bool         `yaml:"enabled"`      // Default: true
	Interval    time.Duration `yaml:"interval"`     // Default: 5m
	MaxAttempts int           `yaml:"max_attempts"` // Failed scheduled sends before giving up (0 = unlimited)
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to access metrics
}

// AuditConfig contains audit log settings
type AuditConfig struct {
	Store *bool            `yaml:"store"` // Keep audit entries in the document store (default: true)
	Redis RedisAuditConfig `yaml:"redis"`
}

// RedisAuditConfig streams audit events to a Redis stream
type RedisAuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`  // Default: newsletter:audit
	MaxLen   int64  `yaml:"max_len"` // Approximate stream cap (default: 100000)
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func boolPtr(v bool) *bool { return &v }

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 10 << 20 // 10 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 10 * time.Minute
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}
	if c.API.ShutdownTimeout == 0 {
		c.API.ShutdownTimeout = 30 * time.Second
	}

	if c.Tracking.InlineCSS == nil {
		c.Tracking.InlineCSS = boolPtr(true)
	}

	if c.Relay.Provider == "" {
		c.Relay.Provider = ProviderSMTP
	}
	if c.Relay.MaxConnections == 0 {
		c.Relay.MaxConnections = 5
	}
	if c.Relay.MaxMessagesPerConnection == 0 {
		c.Relay.MaxMessagesPerConnection = 100
	}
	if c.Relay.Timeout == 0 {
		c.Relay.Timeout = 30 * time.Second
	}
	if c.Relay.SMTP.Port == 0 {
		c.Relay.SMTP.Port = 587
	}
	if c.Relay.SMTP.TLS == "" {
		c.Relay.SMTP.TLS = "starttls"
	}

	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 10
	}
	if c.Dispatch.Concurrency == 0 {
		c.Dispatch.Concurrency = 10
	}
	if c.Dispatch.BatchDelay == 0 {
		c.Dispatch.BatchDelay = time.Second
	}

	if c.Scheduler.Enabled == nil {
		c.Scheduler.Enabled = boolPtr(true)
	}
	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = 5 * time.Minute
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/newsletter/newsletter.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Audit.Store == nil {
		c.Audit.Store = boolPtr(true)
	}
	if c.Audit.Redis.Stream == "" {
		c.Audit.Redis.Stream = "newsletter:audit"
	}
	if c.Audit.Redis.MaxLen == 0 {
		c.Audit.Redis.MaxLen = 100000
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.validateTracking(); err != nil {
		return err
	}
	if err := c.validateRelay(); err != nil {
		return err
	}
	if err := c.validateAPIKeys(); err != nil {
		return err
	}

	if c.Dispatch.BatchSize < 0 || c.Dispatch.Concurrency < 0 || c.Dispatch.BatchDelay < 0 {
		return fmt.Errorf("dispatch values must not be negative")
	}
	if c.Scheduler.MaxAttempts < 0 {
		return fmt.Errorf("scheduler.max_attempts must not be negative")
	}
	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler.interval must be at least 1s")
	}

	if c.Audit.Redis.Enabled && c.Audit.Redis.Addr == "" {
		return fmt.Errorf("audit.redis.addr is required when redis audit is enabled")
	}

	return nil
}

// validateTracking validates link instrumentation settings
func (c *Config) validateTracking() error {
	if c.Tracking.BaseURL == "" {
		return fmt.Errorf("tracking.base_url is required")
	}
	u, err := url.Parse(c.Tracking.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("tracking.base_url must be an absolute http(s) URL: %s", c.Tracking.BaseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("tracking.base_url must not contain a query or fragment")
	}
	if c.Tracking.ContactEmail != "" && !email.Valid(c.Tracking.ContactEmail) {
		return fmt.Errorf("invalid tracking.contact_email: %s", c.Tracking.ContactEmail)
	}
	return nil
}

// validateRelay validates outbound delivery settings
func (c *Config) validateRelay() error {
	r := c.Relay

	if r.From == "" {
		return fmt.Errorf("relay.from is required")
	}
	if !email.Valid(r.From) {
		return fmt.Errorf("invalid relay.from: %s", r.From)
	}
	if r.ReplyTo != "" && !email.Valid(r.ReplyTo) {
		return fmt.Errorf("invalid relay.reply_to: %s", r.ReplyTo)
	}
	if r.MaxConnections < 0 || r.MaxMessagesPerConnection < 0 {
		return fmt.Errorf("relay connection limits must not be negative")
	}

	switch r.Provider {
	case ProviderSMTP:
		if r.SMTP.Host == "" {
			return fmt.Errorf("relay.smtp.host is required for the smtp provider")
		}
		validTLS := map[string]bool{"none": true, "starttls": true, "tls": true}
		if !validTLS[r.SMTP.TLS] {
			return fmt.Errorf("invalid relay.smtp.tls: %s (must be none, starttls, or tls)", r.SMTP.TLS)
		}
		if r.SMTP.Username != "" && r.SMTP.Password == "" {
			return fmt.Errorf("relay.smtp.password is required when username is set")
		}
	case ProviderSES:
		if r.SES.Region == "" {
			return fmt.Errorf("relay.ses.region is required for the ses provider")
		}
		if (r.SES.AccessKey == "") != (r.SES.SecretKey == "") {
			return fmt.Errorf("relay.ses.access_key and secret_key must be set together")
		}
	case ProviderSandbox:
		if p := r.Sandbox.ErrorProbability; p < 0 || p > 1 {
			return fmt.Errorf("relay.sandbox.error_probability must be between 0 and 1")
		}
	default:
		return fmt.Errorf("invalid relay.provider: %s (must be smtp, ses, or sandbox)", r.Provider)
	}

	if r.DKIM.Enabled {
		if r.DKIM.Selector == "" {
			return fmt.Errorf("relay.dkim.selector is required when DKIM is enabled")
		}
		if r.DKIM.KeyFile == "" {
			return fmt.Errorf("relay.dkim.key_file is required when DKIM is enabled")
		}
		if r.DKIM.Domain == "" {
			return fmt.Errorf("relay.dkim.domain is required when DKIM is enabled")
		}
	}

	return nil
}

// validateAPIKeys validates API client definitions
func (c *Config) validateAPIKeys() error {
	seen := make(map[string]bool)
	for i, k := range c.API.Keys {
		if k.Name == "" {
			return fmt.Errorf("api.keys[%d].name is required", i)
		}
		if k.Hash == "" {
			return fmt.Errorf("api.keys[%d].hash is required", i)
		}
		if seen[k.Name] {
			return fmt.Errorf("duplicate api key name: %s", k.Name)
		}
		seen[k.Name] = true
	}
	return nil
}

// SchedulerEnabled reports whether the scheduler loop should run
func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}

// InlineCSS reports whether styles are inlined into outgoing HTML
func (c *Config) InlineCSS() bool {
	return c.Tracking.InlineCSS == nil || *c.Tracking.InlineCSS
}

// AuditStoreEnabled reports whether audit entries are kept in the document store
func (c *Config) AuditStoreEnabled() bool {
	return c.Audit.Store == nil || *c.Audit.Store
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Mechabus gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Providers ProvidersConfig `yaml:"providers"`
	Uplink    UplinkConfig    `yaml:"uplink"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// GatewayConfig identifies this gateway instance.
type GatewayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker is optional; when disabled the state mirror is not started.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// PasswordHashes are argon2id PHC strings. A subscriber presenting a
	// password matching any of them is authenticated.
	PasswordHashes []string `yaml:"password_hashes"`

	Peer PeerConfig `yaml:"peer"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// AccessTokenTTL is the token lifetime in minutes. Default: 30
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// PeerConfig holds the trust material accepted from peer gateways.
type PeerConfig struct {
	// CredentialHashes are argon2id PHC strings of shared peer credentials.
	CredentialHashes []string `yaml:"credential_hashes"`
}

// ProvidersConfig describes the fixed set of actuator providers.
type ProvidersConfig struct {
	// AddressMapFile is a dnsmasq configuration file whose dhcp-host
	// entries name the remote switches. Optional.
	AddressMapFile string `yaml:"address_map_file"`

	// Remote maps provider id to network address. Entries here override
	// the address map file.
	Remote map[string]string `yaml:"remote"`

	Local []LocalActuatorConfig `yaml:"local"`

	Safety []SafetyTimerConfig `yaml:"safety"`

	// SafetyRetryDelay is how long to wait before retrying a failed
	// forced-off write. Default: 5s
	SafetyRetryDelay time.Duration `yaml:"safety_retry_delay"`

	// Pairings maps a notifying remote switch to a partner that follows it.
	Pairings map[string]string `yaml:"pairings"`

	// RequestTimeout bounds a single remote switch HTTP request. Default: 5s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	DevMode DevModeConfig `yaml:"dev_mode"`
}

// LocalActuatorConfig describes a locally wired binary output.
type LocalActuatorConfig struct {
	ID string `yaml:"id"`
	// Line is the GPIO pin name as known to the host, e.g. "GPIO17".
	Line      string `yaml:"line"`
	ActiveLow bool   `yaml:"active_low"`
}

// SafetyTimerConfig bounds how long an actuator may remain on.
type SafetyTimerConfig struct {
	ID    string        `yaml:"id"`
	MaxOn time.Duration `yaml:"max_on"`
}

// DevModeConfig replaces remote switches with in-memory stand-ins.
type DevModeConfig struct {
	Enabled bool          `yaml:"enabled"`
	Latency time.Duration `yaml:"latency"`
}

// UplinkConfig contains settings for the outbound connection to a peer hub.
type UplinkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Credential string `yaml:"credential"`

	// ReauthMargin is how long before token expiry the uplink re-authenticates.
	// Default: 5m
	ReauthMargin time.Duration `yaml:"reauth_margin"`

	// HandshakeTimeout bounds the websocket dial. Default: 10s
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	Backoff BackoffConfig   `yaml:"backoff"`
	TLS     UplinkTLSConfig `yaml:"tls"`
}

// BackoffConfig controls uplink reconnection delays.
// The delay after a failure is Base * 2^depth with depth in [MinDepth, MaxDepth].
type BackoffConfig struct {
	Base     time.Duration `yaml:"base"`
	MinDepth int           `yaml:"min_depth"`
	MaxDepth int           `yaml:"max_depth"`
	// StabilityFactor multiplies the current delay to obtain how long a
	// connection must stay up before the depth resets. Default: 2
	StabilityFactor int `yaml:"stability_factor"`
}

// UplinkTLSConfig configures trust for wss:// uplinks.
type UplinkTLSConfig struct {
	CAFile     string `yaml:"ca_file"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	ServerName string `yaml:"server_name"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MECHABUS_SECTION_KEY
// For example: MECHABUS_JWT_SECRET, MECHABUS_API_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:   "mechabus-001",
			Name: "Mechabus",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mechabus-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 30,
			},
		},
		Providers: ProvidersConfig{
			SafetyRetryDelay: 5 * time.Second,
			RequestTimeout:   5 * time.Second,
			DevMode: DevModeConfig{
				Latency: 100 * time.Millisecond,
			},
		},
		Uplink: UplinkConfig{
			ReauthMargin:     5 * time.Minute,
			HandshakeTimeout: 10 * time.Second,
			Backoff: BackoffConfig{
				Base:            time.Second,
				MinDepth:        0,
				MaxDepth:        6,
				StabilityFactor: 2,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MECHABUS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("MECHABUS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MECHABUS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MECHABUS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("MECHABUS_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Providers
	if v := os.Getenv("MECHABUS_ADDRESS_MAP"); v != "" {
		cfg.Providers.AddressMapFile = v
	}

	// Uplink credential is a secret and should never live in the file.
	if v := os.Getenv("MECHABUS_UPLINK_CREDENTIAL"); v != "" {
		cfg.Uplink.Credential = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("MECHABUS_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// A forged token grants control of physical outputs, so the secret is mandatory.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set MECHABUS_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}
	if len(c.Security.PasswordHashes) == 0 {
		errs = append(errs, "security.password_hashes must contain at least one hash")
	}

	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validateUplink()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateProviders() []string {
	var errs []string
	p := c.Providers

	seen := make(map[string]bool)
	for id, addr := range p.Remote {
		if id == "" || addr == "" {
			errs = append(errs, "providers.remote entries need an id and an address")
			continue
		}
		seen[id] = true
	}
	for i, l := range p.Local {
		switch {
		case l.ID == "":
			errs = append(errs, fmt.Sprintf("providers.local[%d].id is required", i))
		case l.Line == "":
			errs = append(errs, fmt.Sprintf("providers.local[%d].line is required", i))
		case seen[l.ID]:
			errs = append(errs, fmt.Sprintf("providers.local[%d].id %q is already used", i, l.ID))
		}
		seen[l.ID] = true
	}

	timers := make(map[string]bool)
	for i, s := range p.Safety {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("providers.safety[%d].id is required", i))
		}
		if s.MaxOn <= 0 {
			errs = append(errs, fmt.Sprintf("providers.safety[%d].max_on must be positive", i))
		}
		if timers[s.ID] {
			errs = append(errs, fmt.Sprintf("providers.safety[%d].id %q is listed twice", i, s.ID))
		}
		timers[s.ID] = true
	}
	if len(p.Safety) > 0 && p.SafetyRetryDelay <= 0 {
		errs = append(errs, "providers.safety_retry_delay must be positive")
	}

	for from, to := range p.Pairings {
		if from == "" || to == "" || from == to {
			errs = append(errs, fmt.Sprintf("providers.pairings entry %q -> %q is invalid", from, to))
		}
	}

	if p.RequestTimeout <= 0 {
		errs = append(errs, "providers.request_timeout must be positive")
	}

	return errs
}

func (c *Config) validateUplink() []string {
	u := c.Uplink
	if !u.Enabled {
		return nil
	}

	var errs []string
	if !strings.HasPrefix(u.URL, "ws://") && !strings.HasPrefix(u.URL, "wss://") {
		errs = append(errs, "uplink.url must be a ws:// or wss:// URL")
	}
	if u.Credential == "" {
		errs = append(errs, "uplink.credential is required (set MECHABUS_UPLINK_CREDENTIAL environment variable)")
	}
	if u.ReauthMargin <= 0 {
		errs = append(errs, "uplink.reauth_margin must be positive")
	}

	// 2^20 seconds is already twelve days; larger depths only overflow.
	const maxBackoffDepth = 20
	b := u.Backoff
	if b.Base <= 0 {
		errs = append(errs, "uplink.backoff.base must be positive")
	}
	if b.MinDepth < 0 || b.MaxDepth < b.MinDepth || b.MaxDepth > maxBackoffDepth {
		errs = append(errs, "uplink.backoff depths must satisfy 0 <= min_depth <= max_depth <= 20")
	}
	if b.StabilityFactor < 1 {
		errs = append(errs, "uplink.backoff.stability_factor must be at least 1")
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetTokenTTL returns the access token lifetime as a Duration.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

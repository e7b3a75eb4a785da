package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	dbconfig "classlens/pkg/database"
)

// EnvPrefix namespaces every environment override, e.g. CLASSLENS_HTTP_PORT
const EnvPrefix = "CLASSLENS"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database   *dbconfig.Config  `mapstructure:"database"`
	HTTP       *HTTPConfig       `mapstructure:"http"`
	WebSocket  *WebSocketConfig  `mapstructure:"websocket"`
	Auth       *AuthConfig       `mapstructure:"auth"`
	Engagement *EngagementConfig `mapstructure:"engagement"`
	NATS       *NATSConfig       `mapstructure:"nats"`
	Log        *LogConfig        `mapstructure:"log"`
}

type HTTPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// Addr returns host:port for http.Server
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BufferSize   int           `mapstructure:"buffer_size"`
	MaxFrameSize int64         `mapstructure:"max_frame_size"`
	HubBuffer    int           `mapstructure:"hub_buffer"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// EngagementConfig drives ingestion, the alert board and the reporter
type EngagementConfig struct {
	AlertThreshold     int           `mapstructure:"alert_threshold"`
	AlertTTL           time.Duration `mapstructure:"alert_ttl"`
	AlertCap           int           `mapstructure:"alert_cap"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	ReportParallelism  int           `mapstructure:"report_parallelism"`
}

// NATSConfig enables the engagement mirror when URL is set
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SlogLevel maps the configured level name, defaulting to info
func (l *LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DevSecret is the development signing key; Validate accepts it but the
// application logs a warning when it is in use
const DevSecret = "classlens-dev-secret"

// FUNCTIONAL DISCOVERY: Production-ready defaults based on classroom requirements
func DefaultConfig() *Config {
	return &Config{
		Database: dbconfig.DefaultConfig(),
		HTTP: &HTTPConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{},
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			BufferSize:   100,
			MaxFrameSize: 64 * 1024,
			HubBuffer:    1000,
		},
		Auth: &AuthConfig{
			Secret:   DevSecret,
			Issuer:   "classlens",
			TokenTTL: 12 * time.Hour,
		},
		Engagement: &EngagementConfig{
			AlertThreshold:     40,
			AlertTTL:           5 * time.Second,
			AlertCap:           3,
			RateLimitPerMinute: 100,
			ReportParallelism:  8,
		},
		NATS: &NATSConfig{
			SubjectPrefix: "classlens",
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks every section; the first problem found is returned
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	// port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 || c.WebSocket.HubBuffer <= 0 {
		return errors.New("WebSocket buffer sizes must be positive")
	}
	if c.WebSocket.MaxFrameSize <= 0 {
		return errors.New("WebSocket max frame size must be positive")
	}

	if c.Auth == nil || c.Auth.Secret == "" {
		return errors.New("auth secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token TTL must be positive")
	}

	if c.Engagement == nil {
		return errors.New("engagement configuration is required")
	}
	if c.Engagement.AlertThreshold < 0 || c.Engagement.AlertThreshold > 100 {
		return errors.New("alert threshold must be between 0 and 100")
	}
	if c.Engagement.AlertTTL <= 0 || c.Engagement.AlertCap <= 0 {
		return errors.New("alert TTL and cap must be positive")
	}
	if c.Engagement.RateLimitPerMinute < 0 {
		return errors.New("rate limit cannot be negative")
	}
	if c.Engagement.ReportParallelism <= 0 {
		return errors.New("report parallelism must be positive")
	}

	if c.NATS == nil || c.NATS.SubjectPrefix == "" {
		return errors.New("NATS subject prefix cannot be empty")
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	return nil
}

// setDefaults registers every key so environment overrides are visible to Unmarshal
// TECHNICAL DISCOVERY: viper's AutomaticEnv only resolves keys it already knows
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.DatabasePath)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", d.Database.ConnMaxIdleTime)
	v.SetDefault("database.query_timeout", d.Database.QueryTimeout)

	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.allowed_origins", d.HTTP.AllowedOrigins)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("websocket.max_frame_size", d.WebSocket.MaxFrameSize)
	v.SetDefault("websocket.hub_buffer", d.WebSocket.HubBuffer)

	v.SetDefault("auth.secret", d.Auth.Secret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)

	v.SetDefault("engagement.alert_threshold", d.Engagement.AlertThreshold)
	v.SetDefault("engagement.alert_ttl", d.Engagement.AlertTTL)
	v.SetDefault("engagement.alert_cap", d.Engagement.AlertCap)
	v.SetDefault("engagement.rate_limit_per_minute", d.Engagement.RateLimitPerMinute)
	v.SetDefault("engagement.report_parallelism", d.Engagement.ReportParallelism)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

func newViper(withEnv bool) *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	if withEnv {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &c, nil
}

// loadDotEnv loads .env into the process environment; a missing file is fine
// and variables already set are never overwritten
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv applies CLASSLENS_* overrides (after .env) on top of the defaults
func LoadFromEnv() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	return decode(newViper(true))
}

// LoadFromFile reads a JSON, YAML or TOML file over the defaults, ignoring the environment
func LoadFromFile(path string) (*Config, error) {
	v := newViper(false)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence layers defaults, then environment, then the file
// FUNCTIONAL DISCOVERY: Configuration precedence is file > environment > defaults;
// file values are applied with Set because viper otherwise ranks env above files
func LoadConfigWithPrecedence(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	v := newViper(true)

	if path != "" {
		fileV := viper.New()
		fileV.SetConfigFile(path)
		if err := fileV.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		for _, key := range fileV.AllKeys() {
			v.Set(key, fileV.Get(key))
		}
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

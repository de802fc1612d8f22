package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	JWT       JWTConfig       `yaml:"jwt"`
	HMAC      HMACConfig      `yaml:"hmac"`
	Log       LogConfig       `yaml:"log"`
	Device    DeviceConfig    `yaml:"device"`
	Recording RecordingConfig `yaml:"recording"`
	Fanout    FanoutConfig    `yaml:"fanout"`

	Integration IntegrationConfig `yaml:"integration"`
}

// ServerConfig represents server identity
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents REST API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	CAPath            string        `yaml:"ca_path"`
	CertPath          string        `yaml:"cert_path"`
	KeyPath           string        `yaml:"key_path"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// HMACConfig holds the shared secret for signing device commands.
type HMACConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DeviceConfig tunes the device connection layer.
type DeviceConfig struct {
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	InboundQueueSize  int           `yaml:"inbound_queue_size"`
	BatchSize         int           `yaml:"batch_size"`
	BatchInterval     time.Duration `yaml:"batch_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxFrameBytes     int           `yaml:"max_frame_bytes"`
	// Framing selects the wire framing: "end" (canonical <END> delimiter),
	// "legacy" (SSENDSS) or "length" (length-prefixed).
	Framing string `yaml:"framing"`

	// Mutual TLS towards devices. Empty paths disable TLS.
	CAPath   string `yaml:"ca_path"`
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// RecordingConfig tunes recording capture.
type RecordingConfig struct {
	Dir          string `yaml:"dir"`
	FrameBuffer  int    `yaml:"frame_buffer"`
	FlushBatch   int    `yaml:"flush_batch"`
	FramesPerSec int    `yaml:"frames_per_sec"`
}

// FanoutConfig tunes the viewer-facing socket gateway.
type FanoutConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	SessionSweepMax time.Duration `yaml:"session_sweep_max"`
}

// IntegrationConfig lists external endpoints receiving detection events.
type IntegrationConfig struct {
	HTTP []HTTPEndpoint `yaml:"http"`
	MQTT []MQTTEndpoint `yaml:"mqtt"`
}

// HTTPEndpoint is one webhook target.
type HTTPEndpoint struct {
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`
}

// MQTTEndpoint is one broker target. TopicPattern may contain {event} and
// {camera_id} placeholders.
type MQTTEndpoint struct {
	BrokerURL          string `yaml:"broker_url"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	TopicPattern       string `yaml:"topic_pattern"`
	QoS                byte   `yaml:"qos"`
	TLS                bool   `yaml:"tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if hmacSecret := os.Getenv("HMAC_SECRET"); hmacSecret != "" {
		c.HMAC.Secret = hmacSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// applyDefaults fills unset tunables with their baseline values.
func (c *Config) applyDefaults() {
	if c.Device.ReconnectDelay == 0 {
		c.Device.ReconnectDelay = 5 * time.Second
	}
	if c.Device.DialTimeout == 0 {
		c.Device.DialTimeout = 10 * time.Second
	}
	if c.Device.InboundQueueSize == 0 {
		c.Device.InboundQueueSize = 256
	}
	if c.Device.BatchSize == 0 {
		c.Device.BatchSize = 10
	}
	if c.Device.BatchInterval == 0 {
		c.Device.BatchInterval = 5 * time.Second
	}
	if c.Device.HeartbeatInterval == 0 {
		c.Device.HeartbeatInterval = 20 * time.Second
	}
	if c.Device.MaxFrameBytes == 0 {
		c.Device.MaxFrameBytes = 32 << 20
	}
	if c.Device.Framing == "" {
		c.Device.Framing = "end"
	}

	if c.Recording.Dir == "" {
		c.Recording.Dir = "uploads/recordings"
	}
	if c.Recording.FrameBuffer == 0 {
		c.Recording.FrameBuffer = 30
	}
	if c.Recording.FlushBatch == 0 {
		c.Recording.FlushBatch = 10
	}
	if c.Recording.FramesPerSec == 0 {
		c.Recording.FramesPerSec = 10
	}

	if c.Fanout.WriteTimeout == 0 {
		c.Fanout.WriteTimeout = 10 * time.Second
	}
	if c.Fanout.SessionSweepMax == 0 {
		c.Fanout.SessionSweepMax = time.Minute
	}

	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 10 * time.Second
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
}

// Validate rejects configurations the process cannot run with. A missing
// signing secret means no command could ever be sent, so it fails fast here.
func (c *Config) Validate() error {
	if c.HMAC.Secret == "" {
		return fmt.Errorf("hmac.secret is required (or set HMAC_SECRET)")
	}

	switch c.Device.Framing {
	case "end", "legacy", "length":
	default:
		return fmt.Errorf("invalid device.framing %q: want end, legacy or length", c.Device.Framing)
	}

	if c.Device.ReconnectDelay < 5*time.Second || c.Device.ReconnectDelay > 60*time.Second {
		return fmt.Errorf("device.reconnect_delay %s outside 5s-60s", c.Device.ReconnectDelay)
	}

	return nil
}

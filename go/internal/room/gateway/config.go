package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/coopsync/go/internal/room/mirror"
	"github.com/mcdev12/coopsync/go/internal/room/registry"
)

// Config holds configuration for the room gateway
type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	LogLevel      string `yaml:"log_level"`
	PublicBaseURL string `yaml:"public_base_url"` // Base of join links encoded in QR codes

	KeepAliveInterval    time.Duration `yaml:"keep_alive_interval"`
	SubscriberBuffer     int           `yaml:"subscriber_buffer"`
	MaxBodyBytes         int64         `yaml:"max_body_bytes"`
	DefaultTimerDuration time.Duration `yaml:"default_timer_duration"`
	IdleRoomTTL          time.Duration `yaml:"idle_room_ttl"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`

	Policy     PolicyConfig     `yaml:"policy"`
	Connection ConnectionConfig `yaml:"websocket"`
	Mirror     MirrorConfig     `yaml:"mirror"`
}

// PolicyConfig toggles the registry's integrity checks
type PolicyConfig struct {
	HostOnlyControl   bool `yaml:"host_only_control"`
	OwnerOnlyUpdates  bool `yaml:"owner_only_updates"`
	StrictHost        bool `yaml:"strict_host"`
	LeaveOnDisconnect bool `yaml:"leave_on_disconnect"`
}

func (p PolicyConfig) Registry() registry.Policy {
	return registry.Policy{
		HostOnlyControl:   p.HostOnlyControl,
		OwnerOnlyUpdates:  p.OwnerOnlyUpdates,
		StrictHost:        p.StrictHost,
		LeaveOnDisconnect: p.LeaveOnDisconnect,
	}
}

// MirrorConfig enables the JetStream envelope mirror
type MirrorConfig struct {
	Enabled   bool                   `yaml:"enabled"`
	QueueSize int                    `yaml:"queue_size"` // Envelopes buffered for the publisher
	JetStream mirror.JetStreamConfig `yaml:"jetstream"`
}

// DefaultConfig returns default configuration for the room gateway
func DefaultConfig() Config {
	p := registry.DefaultPolicy()
	return Config{
		ListenAddr:           ":8080",
		LogLevel:             "info",
		PublicBaseURL:        "http://localhost:3000",
		KeepAliveInterval:    15 * time.Second,
		SubscriberBuffer:     64,
		MaxBodyBytes:         64 << 10,
		DefaultTimerDuration: 120 * time.Second,
		IdleRoomTTL:          time.Minute,
		SweepInterval:        30 * time.Second,
		Policy: PolicyConfig{
			HostOnlyControl:   p.HostOnlyControl,
			OwnerOnlyUpdates:  p.OwnerOnlyUpdates,
			StrictHost:        p.StrictHost,
			LeaveOnDisconnect: p.LeaveOnDisconnect,
		},
		Connection: DefaultConnectionConfig(),
		Mirror:     MirrorConfig{QueueSize: 1024, JetStream: mirror.DefaultJetStreamConfig()},
	}
}

// LoadConfig layers defaults, the YAML file at path and the environment, in
// that order. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		c.ListenAddr = ":" + port
	}
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.PublicBaseURL = getEnv("PUBLIC_BASE_URL", c.PublicBaseURL)
	c.KeepAliveInterval = getEnvAsDuration("KEEPALIVE_INTERVAL", c.KeepAliveInterval)
	c.SubscriberBuffer = getEnvAsInt("SUBSCRIBER_BUFFER", c.SubscriberBuffer)
	c.DefaultTimerDuration = getEnvAsDuration("TIMER_DURATION", c.DefaultTimerDuration)
	c.IdleRoomTTL = getEnvAsDuration("IDLE_ROOM_TTL", c.IdleRoomTTL)
	c.SweepInterval = getEnvAsDuration("SWEEP_INTERVAL", c.SweepInterval)
	c.MaxBodyBytes = int64(getEnvAsInt("MAX_BODY_BYTES", int(c.MaxBodyBytes)))

	c.Policy.HostOnlyControl = getEnvAsBool("POLICY_HOST_ONLY_CONTROL", c.Policy.HostOnlyControl)
	c.Policy.OwnerOnlyUpdates = getEnvAsBool("POLICY_OWNER_ONLY_UPDATES", c.Policy.OwnerOnlyUpdates)
	c.Policy.StrictHost = getEnvAsBool("POLICY_STRICT_HOST", c.Policy.StrictHost)
	c.Policy.LeaveOnDisconnect = getEnvAsBool("POLICY_LEAVE_ON_DISCONNECT", c.Policy.LeaveOnDisconnect)

	c.Mirror.Enabled = getEnvAsBool("MIRROR_ENABLED", c.Mirror.Enabled)
	c.Mirror.JetStream.URL = getEnv("NATS_URL", c.Mirror.JetStream.URL)
	c.Mirror.JetStream.StreamName = getEnv("MIRROR_STREAM", c.Mirror.JetStream.StreamName)
	c.Mirror.JetStream.SubjectPrefix = getEnv("MIRROR_SUBJECT_PREFIX", c.Mirror.JetStream.SubjectPrefix)
}

// Validate rejects values the gateway cannot run with.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return errors.New("listen address is required")
	case c.KeepAliveInterval <= 0:
		return errors.New("keep alive interval must be positive")
	case c.SubscriberBuffer <= 0:
		return errors.New("subscriber buffer must be positive")
	case c.DefaultTimerDuration < time.Second:
		return errors.New("default timer duration must be at least one second")
	case c.SweepInterval <= 0:
		return errors.New("sweep interval must be positive")
	case c.MaxBodyBytes <= 0:
		return errors.New("max body bytes must be positive")
	case c.Connection.WriteTimeout <= 0 || c.Connection.ReadTimeout <= 0:
		return errors.New("websocket read and write timeouts must be positive")
	case c.Connection.PingInterval <= 0 || c.Connection.PingInterval >= c.Connection.ReadTimeout:
		return errors.New("websocket ping interval must be positive and shorter than the read timeout")
	case c.Mirror.Enabled && c.Mirror.QueueSize <= 0:
		return errors.New("mirror queue size must be positive")
	case c.Mirror.Enabled && c.Mirror.JetStream.SubjectPrefix == "":
		return errors.New("mirror subject prefix is required")
	}
	return nil
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration              `yaml:"write_timeout"`
	ReadTimeout     time.Duration              `yaml:"read_timeout"`
	PingInterval    time.Duration              `yaml:"ping_interval"`
	MaxMessageSize  int64                      `yaml:"max_message_size"`
	ReadBufferSize  int                        `yaml:"read_buffer_size"`
	WriteBufferSize int                        `yaml:"write_buffer_size"`
	CheckOrigin     func(r *http.Request) bool `yaml:"-"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 << 10,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Rooms are open to any origin, matching the CORS policy
			return true
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

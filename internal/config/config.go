package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/co-capacity/HeliosMLLP/internal/mllp"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
)

// Config holds all configuration for the gateway
type Config struct {
	GatewayID     string `toml:"gateway_id"`
	MLLPPort      int    `toml:"mllp_port"`
	HTTPPort      int    `toml:"http_port"`
	RedisURL      string `toml:"redis_url"`
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
	JetStream     bool   `toml:"jetstream"`

	// Framing
	Decoder       string `toml:"decoder"` // simple, multi or resumable
	MinPayloadLen int    `toml:"min_payload_len"`
	StartByte     int    `toml:"start_byte"`
	FirstEndByte  int    `toml:"first_end_byte"`
	LastEndByte   int    `toml:"last_end_byte"`

	// Connections
	ReadBufferSize int           `toml:"read_buffer_size"`
	MaxFrameSize   int           `toml:"max_frame_size"` // unread bytes allowed before a frame completes
	IdleTimeout    time.Duration `toml:"idle_timeout"`
	SessionTTL     time.Duration `toml:"session_ttl"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // console or json
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		GatewayID:      "mllp-01",
		MLLPPort:       2575,
		HTTPPort:       8081,
		RedisURL:       "localhost:6379",
		NATSURL:        "nats://localhost:4222",
		SubjectPrefix:  protocol.DefaultSubjectPrefix,
		Decoder:        mllp.StrategyResumable,
		StartByte:      int(mllp.DefaultStart),
		FirstEndByte:   int(mllp.DefaultFirstEnd),
		LastEndByte:    int(mllp.DefaultLastEnd),
		ReadBufferSize: 4096,
		MaxFrameSize:   16 * 1024 * 1024,
		IdleTimeout:    300 * time.Second,
		SessionTTL:     300 * time.Second,
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// Load loads configuration from environment variables
func Load() *Config {
	cfg := Defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile reads a TOML file over the defaults, then applies environment
// overrides and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.GatewayID = getEnv("GATEWAY_ID", cfg.GatewayID)
	cfg.MLLPPort = getEnvAsInt("MLLP_PORT", cfg.MLLPPort)
	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", cfg.HTTPPort)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.SubjectPrefix)
	cfg.JetStream = getEnvAsBool("NATS_JETSTREAM", cfg.JetStream)

	cfg.Decoder = getEnv("MLLP_DECODER", cfg.Decoder)
	cfg.MinPayloadLen = getEnvAsInt("MLLP_MIN_PAYLOAD_LEN", cfg.MinPayloadLen)
	cfg.StartByte = getEnvAsInt("MLLP_START_BYTE", cfg.StartByte)
	cfg.FirstEndByte = getEnvAsInt("MLLP_FIRST_END_BYTE", cfg.FirstEndByte)
	cfg.LastEndByte = getEnvAsInt("MLLP_LAST_END_BYTE", cfg.LastEndByte)

	cfg.ReadBufferSize = getEnvAsInt("MLLP_READ_BUFFER_SIZE", cfg.ReadBufferSize)
	cfg.MaxFrameSize = getEnvAsInt("MLLP_MAX_FRAME_SIZE", cfg.MaxFrameSize)
	cfg.IdleTimeout = getEnvAsDuration("MLLP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.SessionTTL = getEnvAsDuration("SESSION_TTL", cfg.SessionTTL)

	cfg.LogLevel = getEnv("MLLP_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("MLLP_LOG_FORMAT", cfg.LogFormat)
}

// Validate checks the values a gateway cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GatewayID) == "" {
		return fmt.Errorf("config missing gateway_id")
	}
	if c.MLLPPort < 0 || c.MLLPPort > 65535 {
		return fmt.Errorf("invalid mllp_port %d", c.MLLPPort)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("read_buffer_size should be positive, got %d", c.ReadBufferSize)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("max_frame_size should be positive, got %d", c.MaxFrameSize)
	}
	if _, err := c.MLLP(); err != nil {
		return err
	}
	if _, err := mllp.NewDecoder(c.Decoder, mllp.DefaultConfig()); err != nil {
		return err
	}
	return nil
}

// MLLP returns the framing configuration.
func (c *Config) MLLP() (mllp.Config, error) {
	for name, v := range map[string]int{
		"start_byte":     c.StartByte,
		"first_end_byte": c.FirstEndByte,
		"last_end_byte":  c.LastEndByte,
	} {
		if v < 0 || v > 0xFF {
			return mllp.Config{}, fmt.Errorf("%w: %s 0x%X is not a byte", mllp.ErrInvalidConfiguration, name, v)
		}
	}
	return mllp.NewConfig(byte(c.StartByte), byte(c.FirstEndByte), byte(c.LastEndByte), c.MinPayloadLen)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt accepts decimal and 0x-prefixed hex
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 0, 64); err == nil {
			return int(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

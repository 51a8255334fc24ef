package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/lexiqai/wit-speaker/internal/resilience"
)

// Config holds all configuration for the witspeak command
type Config struct {
	// Wit.ai access
	WitToken       string `envconfig:"WIT_TOKEN" required:"true"`
	WitTLSInsecure bool   `envconfig:"WIT_TLS_INSECURE" default:"false"` // Skip certificate checks (testing only)

	// Station credentials; ignored on hosts whose network is managed by the OS
	WiFiSSID     string `envconfig:"WIFI_SSID" default:""`
	WiFiPassword string `envconfig:"WIFI_PASSWORD" default:""`

	// Voice settings
	Voice          string  `envconfig:"WIT_VOICE" default:"wit$Remi"`
	Style          string  `envconfig:"WIT_STYLE" default:"default"`
	Speed          int     `envconfig:"WIT_SPEED" default:"100"` // 0-200
	Pitch          int     `envconfig:"WIT_PITCH" default:"100"` // 0-200
	SFXCharacter   string  `envconfig:"WIT_SFX_CHARACTER" default:"none"`
	SFXEnvironment string  `envconfig:"WIT_SFX_ENVIRONMENT" default:"none"`
	Gain           float64 `envconfig:"WIT_GAIN" default:"0.5"`                // 0.0-1.0
	AudioFormat    string  `envconfig:"WIT_AUDIO_FORMAT" default:"audio/mpeg"` // audio/mpeg or audio/pcm16
	DebugLevel     uint8   `envconfig:"WIT_DEBUG" default:"2"`                 // 0 off, 1 errors, 2 info, 3 verbose

	// Player
	PlayerMode    string `envconfig:"PLAYER_MODE" default:""` // background, blocking; empty uses the build default
	BCLKPin       *uint8 `envconfig:"I2S_BCLK_PIN"`           // Unset keeps the mode's default wiring
	LRCPin        *uint8 `envconfig:"I2S_LRC_PIN"`
	DINPin        *uint8 `envconfig:"I2S_DIN_PIN"`
	OutputPath    string `envconfig:"OUTPUT_PATH" default:""`          // Decoded output file; empty discards
	MixerByteRate int    `envconfig:"MIXER_BYTE_RATE" default:"16000"` // Host mixer render rate in bytes per second
	IdleTimeoutMs int    `envconfig:"IDLE_TIMEOUT_MS" default:"500"`   // Blocking player end-of-stream silence

	// Network bring-up
	ConnectAttempts int `envconfig:"CONNECT_ATTEMPTS" default:"40"`
	ConnectDelayMs  int `envconfig:"CONNECT_DELAY_MS" default:"500"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`        // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`      // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false"` // Serve Prometheus metrics and health checks
	MetricsPort    string `envconfig:"METRICS_PORT" default:"9090"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.WitToken == "" {
		return fmt.Errorf("WIT_TOKEN is required")
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("CONNECT_ATTEMPTS must be at least 1, got %d", c.ConnectAttempts)
	}
	if c.ConnectDelayMs < 0 {
		return fmt.Errorf("CONNECT_DELAY_MS must not be negative, got %d", c.ConnectDelayMs)
	}
	if c.IdleTimeoutMs <= 0 {
		return fmt.Errorf("IDLE_TIMEOUT_MS must be positive, got %d", c.IdleTimeoutMs)
	}
	if c.MixerByteRate <= 0 {
		return fmt.Errorf("MIXER_BYTE_RATE must be positive, got %d", c.MixerByteRate)
	}
	return nil
}

// ConnectConfig returns the polling policy for network bring-up
func (c *Config) ConnectConfig() *resilience.AwaitConfig {
	delay := time.Duration(c.ConnectDelayMs) * time.Millisecond
	return &resilience.AwaitConfig{
		MaxAttempts: c.ConnectAttempts,
		Delay:       delay,
		Multiplier:  1.0,
		MaxDelay:    delay,
	}
}

// IdleTimeout returns the blocking player's end-of-stream silence
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

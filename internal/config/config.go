package config

import (
	"time"

	"github.com/medlink-labs/consultkit/internal/logging"
)

// Config represents the application configuration
type Config struct {
	API       APIConfig       `json:"api" yaml:"api"`
	Signaling SignalingConfig `json:"signaling" yaml:"signaling"`
	Capture   CaptureConfig   `json:"capture" yaml:"capture"`
	Logging   logging.Config  `json:"logging" yaml:"logging"`
}

// APIConfig represents consultation service API configuration
type APIConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// SignalingConfig represents signaling channel configuration
type SignalingConfig struct {
	ReconnectWait  time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	MaxReconnect   int           `json:"max_reconnect" yaml:"max_reconnect"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	PingInterval   time.Duration `json:"ping_interval" yaml:"ping_interval"`
	MaxMessageSize int64         `json:"max_message_size" yaml:"max_message_size"`
}

// CaptureConfig represents media capture configuration
type CaptureConfig struct {
	VideoWidth    int           `json:"video_width" yaml:"video_width"`
	VideoHeight   int           `json:"video_height" yaml:"video_height"`
	VideoFPS      int           `json:"video_fps" yaml:"video_fps"`
	FrameInterval time.Duration `json:"frame_interval" yaml:"frame_interval"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 15 * time.Second,
		},
		Signaling: SignalingConfig{
			ReconnectWait:  time.Second,
			MaxReconnect:   5,
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			PingInterval:   30 * time.Second,
			MaxMessageSize: 4 * 1024 * 1024, // frames travel base64-encoded
		},
		Capture: CaptureConfig{
			VideoWidth:    640,
			VideoHeight:   480,
			VideoFPS:      30,
			FrameInterval: 5 * time.Second,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return NewConfigError("api.base_url", "base URL is required")
	}

	if c.Signaling.ReconnectWait <= 0 {
		return NewConfigError("signaling.reconnect_wait", "reconnect wait must be positive")
	}

	if c.Signaling.MaxReconnect < 0 {
		return NewConfigError("signaling.max_reconnect", "max reconnect cannot be negative")
	}

	if c.Capture.VideoWidth <= 0 || c.Capture.VideoHeight <= 0 {
		return NewConfigError("capture", "invalid capture dimensions")
	}

	if c.Capture.FrameInterval <= 0 {
		return NewConfigError("capture.frame_interval", "frame interval must be positive")
	}

	return nil
}

// Package config provides the configuration schema and loader for autovolume.
//
// Configuration comes from built-in defaults, command-line flags and
// AUTOVOLUME_* environment variables. No configuration file is read.
package config

import (
	"time"

	"github.com/MrWong99/autovolume/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for autovolume.
// It is built by [Load] from a [viper.Viper] prepared with [New].
type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Meter   MeterConfig   `mapstructure:"meter" yaml:"meter"`
	Volume  VolumeConfig  `mapstructure:"volume" yaml:"volume"`
	Observe ObserveConfig `mapstructure:"observe" yaml:"observe"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level LogLevel `mapstructure:"level" yaml:"level"`
}

// AudioConfig selects the audio server and the capture stream parameters.
type AudioConfig struct {
	// ClientName is announced to the audio server.
	ClientName string `mapstructure:"client_name" yaml:"client_name"`

	// Server selects a non-default audio server, e.g.
	// "unix:/run/user/1000/pulse/native". Empty means the default server.
	Server string `mapstructure:"server" yaml:"server"`

	// StreamName is the record stream's media name.
	StreamName string `mapstructure:"stream_name" yaml:"stream_name"`

	SampleRate int `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int `mapstructure:"channels" yaml:"channels"`

	// FrameSamples is the number of interleaved samples read per frame.
	FrameSamples int `mapstructure:"frame_samples" yaml:"frame_samples"`

	Buffer BufferConfig `mapstructure:"buffer" yaml:"buffer"`

	// OpenRetry is the number of extra attempts to open the record stream.
	OpenRetry int `mapstructure:"open_retry" yaml:"open_retry"`
}

// BufferConfig is the server-side buffering request, in bytes.
type BufferConfig struct {
	MaxLength    uint32 `mapstructure:"max_length" yaml:"max_length"`
	TargetLength uint32 `mapstructure:"target_length" yaml:"target_length"`
	PreBuffer    uint32 `mapstructure:"pre_buffer" yaml:"pre_buffer"`
	MinRequest   uint32 `mapstructure:"min_request" yaml:"min_request"`
	FragmentSize uint32 `mapstructure:"fragment_size" yaml:"fragment_size"`
}

// MeterConfig controls the terminal meter.
type MeterConfig struct {
	Width int `mapstructure:"width" yaml:"width"`

	// Clamp limits the drawn level to 100%.
	Clamp bool `mapstructure:"clamp" yaml:"clamp"`

	// Interval is the pause between frames. Zero disables it.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// VolumeConfig selects the volume control utility and the sink it targets.
type VolumeConfig struct {
	Utility string `mapstructure:"utility" yaml:"utility"`
	Sink    string `mapstructure:"sink" yaml:"sink"`
}

// ObserveConfig controls the optional observability HTTP server.
type ObserveConfig struct {
	// ListenAddr is the address for /metrics, /healthz, /readyz and /levels.
	// Empty disables the server.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// FeedInterval is how often /levels subscribers receive the latest level.
	FeedInterval time.Duration `mapstructure:"feed_interval" yaml:"feed_interval"`
}

// StreamSpec returns the capture sample specification.
func (c *AudioConfig) StreamSpec() audio.StreamSpec {
	return audio.StreamSpec{
		Format:     audio.FormatS32LE,
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
	}
}

// BufferPolicy returns the capture buffer request.
func (c *AudioConfig) BufferPolicy() audio.BufferPolicy {
	return audio.BufferPolicy{
		MaxLength:    c.Buffer.MaxLength,
		TargetLength: c.Buffer.TargetLength,
		PreBuffer:    c.Buffer.PreBuffer,
		MinRequest:   c.Buffer.MinRequest,
		FragmentSize: c.Buffer.FragmentSize,
	}
}

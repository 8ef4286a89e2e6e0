package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/autovolume/internal/capture"
	"github.com/MrWong99/autovolume/internal/meter"
	"github.com/MrWong99/autovolume/internal/session"
	"github.com/MrWong99/autovolume/internal/volume"
	"github.com/MrWong99/autovolume/pkg/audio"
)

// EnvPrefix is prepended to every environment variable, e.g.
// AUTOVOLUME_METER_CLAMP for meter.clamp.
const EnvPrefix = "AUTOVOLUME"

// maxFrameSamples bounds a single read to one second of the largest valid
// sample spec.
const maxFrameSamples = audio.MaxSampleRate * audio.MaxChannels

// defaults lists every key with its built-in value. Keys without a default
// are invisible to environment lookups during Unmarshal.
func defaults() map[string]any {
	spec := audio.DefaultStreamSpec()
	policy := audio.DefaultBufferPolicy()
	return map[string]any{
		"log.level": string(LogInfo),

		"audio.client_name":          session.DefaultClientName,
		"audio.server":               "",
		"audio.stream_name":          capture.DefaultStreamName,
		"audio.sample_rate":          spec.SampleRate,
		"audio.channels":             spec.Channels,
		"audio.frame_samples":        audio.DefaultFrameSamples,
		"audio.buffer.max_length":    policy.MaxLength,
		"audio.buffer.target_length": policy.TargetLength,
		"audio.buffer.pre_buffer":    policy.PreBuffer,
		"audio.buffer.min_request":   policy.MinRequest,
		"audio.buffer.fragment_size": policy.FragmentSize,
		"audio.open_retry":           1,

		"meter.width":    meter.DefaultWidth,
		"meter.clamp":    false,
		"meter.interval": time.Millisecond,

		"volume.utility": volume.DefaultUtility,
		"volume.sink":    volume.DefaultSink,

		"observe.listen_addr":   "",
		"observe.feed_interval": meter.DefaultFeedInterval,
	}
}

// New returns a viper instance with all defaults set and environment lookup
// enabled.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":     "log.level",
	"server":        "audio.server",
	"frame-samples": "audio.frame_samples",
	"open-retry":    "audio.open_retry",
	"width":         "meter.width",
	"clamp":         "meter.clamp",
	"interval":      "meter.interval",
	"utility":       "volume.utility",
	"sink":          "volume.sink",
	"listen":        "observe.listen_addr",
}

// RegisterFlags defines the persistent command-line flags on fs. Their
// defaults are informational; the effective defaults come from [New].
func RegisterFlags(fs *pflag.FlagSet) {
	d := defaults()
	fs.String("log-level", d["log.level"].(string), "log level (debug, info, warn, error)")
	fs.String("server", "", "audio server to connect to (default: the session's default server)")
	fs.Int("frame-samples", d["audio.frame_samples"].(int), "interleaved samples per frame")
	fs.Int("open-retry", d["audio.open_retry"].(int), "extra attempts to open the record stream")
	fs.Int("width", d["meter.width"].(int), "meter bar width in cells")
	fs.Bool("clamp", false, "limit the meter to 100%")
	fs.Duration("interval", d["meter.interval"].(time.Duration), "pause between frames (0 disables)")
	fs.String("utility", d["volume.utility"].(string), "volume control utility")
	fs.String("sink", d["volume.sink"].(string), "sink passed to the volume utility")
	fs.String("listen", "", "address for the metrics, health and level feed server (empty disables)")
}

// BindFlags binds the flags defined by [RegisterFlags] to their keys in v.
// Flags that were not set on the command line do not override environment
// values.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("config: bind flag %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Load decodes the effective configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	if cfg.Audio.ClientName == "" {
		errs = append(errs, errors.New("audio.client_name is required"))
	}
	spec := cfg.Audio.StreamSpec()
	if err := spec.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if err := cfg.Audio.BufferPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio.buffer: %w", err))
	}
	switch n := cfg.Audio.FrameSamples; {
	case n <= 0 || n > maxFrameSamples:
		errs = append(errs, fmt.Errorf("audio.frame_samples %d is out of range [1, %d]", n, maxFrameSamples))
	case spec.Channels > 0 && n%spec.Channels != 0:
		errs = append(errs, fmt.Errorf("audio.frame_samples %d is not a multiple of audio.channels %d", n, spec.Channels))
	}
	if cfg.Audio.OpenRetry < 0 {
		errs = append(errs, fmt.Errorf("audio.open_retry %d must not be negative", cfg.Audio.OpenRetry))
	}

	if cfg.Meter.Width <= 0 {
		errs = append(errs, fmt.Errorf("meter.width %d must be positive", cfg.Meter.Width))
	}
	if cfg.Meter.Interval < 0 {
		errs = append(errs, fmt.Errorf("meter.interval %s must not be negative", cfg.Meter.Interval))
	}

	if cfg.Volume.Utility == "" {
		errs = append(errs, errors.New("volume.utility is required"))
	}
	if cfg.Volume.Sink == "" {
		errs = append(errs, errors.New("volume.sink is required"))
	}

	if cfg.Observe.FeedInterval <= 0 {
		errs = append(errs, fmt.Errorf("observe.feed_interval %s must be positive", cfg.Observe.FeedInterval))
	}

	return errors.Join(errs...)
}

// Dump writes cfg to w as YAML.
func Dump(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode yaml: %w", err)
	}
	return enc.Close()
}

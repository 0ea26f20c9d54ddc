package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio framing
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be positive", cfg.Audio.Channels))
	}
	switch cfg.Audio.BitDepth {
	case 8, 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("audio.bit_depth %d is invalid; valid values: 8, 16, 24, 32", cfg.Audio.BitDepth))
	}
	if cfg.Audio.PacketMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.packet_ms %d must be positive", cfg.Audio.PacketMs))
	}
	if cfg.Audio.OverlapMs != nil {
		if o := *cfg.Audio.OverlapMs; o < 0 || o >= cfg.Audio.PacketMs {
			errs = append(errs, fmt.Errorf("audio.overlap_ms %d must be in [0, packet_ms)", o))
		}
	}

	// Yield thresholds
	if cfg.Yield.ThresholdMs <= 0 {
		errs = append(errs, fmt.Errorf("yield.threshold_ms %d must be positive", cfg.Yield.ThresholdMs))
	}
	if cfg.Yield.FreezeTriggerMs <= 0 {
		errs = append(errs, fmt.Errorf("yield.freeze_trigger_ms %d must be positive", cfg.Yield.FreezeTriggerMs))
	}
	if cfg.Yield.FreezeDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("yield.freeze_duration_ms %d must be positive", cfg.Yield.FreezeDurationMs))
	}

	// Heartbeat
	if cfg.Heartbeat.IntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat.interval_ms %d must be positive", cfg.Heartbeat.IntervalMs))
	}
	if cfg.Heartbeat.MissingThresholdMs <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat.missing_threshold_ms %d must be positive", cfg.Heartbeat.MissingThresholdMs))
	}
	if cfg.Heartbeat.MissingThresholdMs < cfg.Heartbeat.IntervalMs {
		slog.Warn("heartbeat.missing_threshold_ms is below the emitter interval; the monitor may flap",
			"missing_threshold_ms", cfg.Heartbeat.MissingThresholdMs,
			"interval_ms", cfg.Heartbeat.IntervalMs,
		)
	}

	// Cancel budget
	if cfg.Cancel.BudgetMs <= 0 {
		errs = append(errs, fmt.Errorf("cancel.budget_ms %d must be positive", cfg.Cancel.BudgetMs))
	}

	return errors.Join(errs...)
}

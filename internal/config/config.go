// Package config provides the configuration schema and loader for the
// Cadence timing core. Every timing constant has a default; a config file
// only needs to name what it overrides.
package config

// LogLevel controls log verbosity for the Cadence server.
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

// Config is the root configuration structure for Cadence.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Yield     YieldConfig     `yaml:"yield"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Cancel    CancelConfig    `yaml:"cancel"`
}

// ServerConfig holds network and logging settings for the Cadence server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig fixes the packetizer's audio format and framing.
type AudioConfig struct {
	// SampleRate is the PCM sample rate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count. Default 1 (mono).
	Channels int `yaml:"channels"`

	// BitDepth is bits per sample. Default 16.
	BitDepth int `yaml:"bit_depth"`

	// PacketMs is the nominal packet duration in milliseconds. Default 20.
	PacketMs int `yaml:"packet_ms"`

	// OverlapMs is the cross-fade overlap duration in milliseconds.
	// Defaults to 5 when omitted; an explicit 0 disables overlap.
	OverlapMs *int `yaml:"overlap_ms"`

	// Codec is the codec tag carried in packet metadata. Default "pcm_s16".
	Codec string `yaml:"codec"`
}

// YieldConfig holds the backpressure degradation thresholds.
type YieldConfig struct {
	// ThresholdMs is the lag above which a producer yields. Default 120.
	ThresholdMs int64 `yaml:"threshold_ms"`

	// FreezeTriggerMs is how long a yield must persist before the freeze
	// phase begins. Default 100.
	FreezeTriggerMs int64 `yaml:"freeze_trigger_ms"`

	// FreezeDurationMs is how long the ease toward neutral takes. Default 150.
	FreezeDurationMs int64 `yaml:"freeze_duration_ms"`
}

// HeartbeatConfig holds the silence-filler and missing-frame settings.
type HeartbeatConfig struct {
	// IntervalMs is the emitter check period and silence span. Default 100.
	IntervalMs int64 `yaml:"interval_ms"`

	// MissingThresholdMs is the monitor's missing-frame threshold. Default 300.
	MissingThresholdMs int64 `yaml:"missing_threshold_ms"`

	// FPS is the nominal frame rate stamped on filler frames. Default 30.
	FPS float64 `yaml:"fps"`
}

// CancelConfig holds the cancellation fan-out budget.
type CancelConfig struct {
	// BudgetMs is the hard deadline for the cancel fan-out. Default 150.
	BudgetMs int64 `yaml:"budget_ms"`
}

// Default returns a Config with every timing constant at its documented
// default and no server address configured.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
			PacketMs:   20,
			OverlapMs:  intPtr(5),
			Codec:      "pcm_s16",
		},
		Yield: YieldConfig{
			ThresholdMs:      120,
			FreezeTriggerMs:  100,
			FreezeDurationMs: 150,
		},
		Heartbeat: HeartbeatConfig{
			IntervalMs:         100,
			MissingThresholdMs: 300,
			FPS:                30,
		},
		Cancel: CancelConfig{
			BudgetMs: 150,
		},
	}
}

// applyDefaults fills zero-valued fields of cfg from [Default].
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = def.Audio.SampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = def.Audio.Channels
	}
	if cfg.Audio.BitDepth == 0 {
		cfg.Audio.BitDepth = def.Audio.BitDepth
	}
	if cfg.Audio.PacketMs == 0 {
		cfg.Audio.PacketMs = def.Audio.PacketMs
	}
	if cfg.Audio.Codec == "" {
		cfg.Audio.Codec = def.Audio.Codec
	}
	if cfg.Audio.OverlapMs == nil {
		cfg.Audio.OverlapMs = def.Audio.OverlapMs
	}
	if cfg.Yield.ThresholdMs == 0 {
		cfg.Yield.ThresholdMs = def.Yield.ThresholdMs
	}
	if cfg.Yield.FreezeTriggerMs == 0 {
		cfg.Yield.FreezeTriggerMs = def.Yield.FreezeTriggerMs
	}
	if cfg.Yield.FreezeDurationMs == 0 {
		cfg.Yield.FreezeDurationMs = def.Yield.FreezeDurationMs
	}
	if cfg.Heartbeat.IntervalMs == 0 {
		cfg.Heartbeat.IntervalMs = def.Heartbeat.IntervalMs
	}
	if cfg.Heartbeat.MissingThresholdMs == 0 {
		cfg.Heartbeat.MissingThresholdMs = def.Heartbeat.MissingThresholdMs
	}
	if cfg.Heartbeat.FPS == 0 {
		cfg.Heartbeat.FPS = def.Heartbeat.FPS
	}
	if cfg.Cancel.BudgetMs == 0 {
		cfg.Cancel.BudgetMs = def.Cancel.BudgetMs
	}
}

func intPtr(v int) *int { return &v }

// Package config loads avatarmotion configuration from a YAML file and
// AVATARMOTION_* environment variables, and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/normanking/avatarmotion/internal/audio"
	"github.com/normanking/avatarmotion/internal/engine"
	"github.com/normanking/avatarmotion/internal/lipsync"
	"github.com/normanking/avatarmotion/internal/logging"
	"github.com/normanking/avatarmotion/internal/scheduler"
	"github.com/normanking/avatarmotion/internal/session"
)

// EnvPrefix prefixes every environment override, e.g.
// AVATARMOTION_ANIMATION_MAX_CONCURRENT.
const EnvPrefix = "AVATARMOTION"

// Config holds all application configuration
type Config struct {
	Animation AnimationConfig `mapstructure:"animation"`
	LipSync   LipSyncConfig   `mapstructure:"lipsync"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Emotion   EmotionConfig   `mapstructure:"emotion"`
	Session   session.Config  `mapstructure:"session"`
	Logging   logging.Config  `mapstructure:"logging"`
	Avatar    AvatarConfig    `mapstructure:"avatar"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AnimationConfig configures the scheduler
type AnimationConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	scheduler.Settings `mapstructure:",squash"`
}

// LipSyncConfig configures phoneme blending
type LipSyncConfig struct {
	lipsync.Config `mapstructure:",squash"`
	MinConfidence  float64 `mapstructure:"min_confidence"` // Phonemes below this are treated as silence
}

// AudioConfig configures capture analysis
type AudioConfig struct {
	SampleRate       int           `mapstructure:"sample_rate"`
	FFTSize          int           `mapstructure:"fft_size"`
	AnalysisInterval time.Duration `mapstructure:"analysis_interval"`
	MagnitudeFloor   float64       `mapstructure:"magnitude_floor"`
	VolumeGain       float64       `mapstructure:"volume_gain"`
	SilenceThreshold float64       `mapstructure:"silence_threshold"`
	VADThreshold     float64       `mapstructure:"vad_threshold"`
	VADMaxSilence    time.Duration `mapstructure:"vad_max_silence"`
	InputBuffer      int           `mapstructure:"input_buffer"`
}

// EmotionConfig configures response emotion detection
type EmotionConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// AvatarConfig selects the rig
type AvatarConfig struct {
	Rig string `mapstructure:"rig"` // glTF/VRM file; empty uses the built-in channel set
}

// StreamConfig configures the websocket pose stream
type StreamConfig struct {
	ListenAddr string `mapstructure:"listen_addr"` // Empty disables the stream
	Path       string `mapstructure:"path"`
	FrameRate  int    `mapstructure:"frame_rate"`
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	ec := engine.DefaultConfig()
	return &Config{
		Animation: AnimationConfig{Enabled: ec.Enabled, Settings: ec.Scheduler},
		LipSync:   LipSyncConfig{Config: ec.LipSync, MinConfidence: ec.Pipeline.MinConfidence},
		Audio: AudioConfig{
			SampleRate:       ec.Pipeline.Analyzer.SampleRate,
			FFTSize:          ec.Pipeline.Analyzer.FFTSize,
			AnalysisInterval: ec.Pipeline.AnalysisInterval,
			MagnitudeFloor:   ec.Pipeline.Analyzer.MagnitudeFloor,
			VolumeGain:       ec.Pipeline.Analyzer.VolumeGain,
			SilenceThreshold: ec.Pipeline.SilenceThreshold,
			VADThreshold:     ec.Pipeline.VAD.Threshold,
			VADMaxSilence:    ec.Pipeline.VAD.MaxSilence,
			InputBuffer:      ec.Pipeline.InputBuffer,
		},
		Emotion: EmotionConfig{MinConfidence: ec.EmotionMinConfidence},
		Session: ec.Session,
		Logging: logging.DefaultConfig(),
		Stream: StreamConfig{
			Path:      "/pose",
			FrameRate: 60,
		},
		Metrics: MetricsConfig{
			Namespace: "avatarmotion",
			Path:      "/metrics",
		},
	}
}

// Engine maps the file configuration onto the engine's.
func (c *Config) Engine() engine.Config {
	ec := engine.DefaultConfig()
	ec.Enabled = c.Animation.Enabled
	ec.Scheduler = c.Animation.Settings
	ec.LipSync = c.LipSync.Config
	ec.Pipeline.MinConfidence = c.LipSync.MinConfidence
	ec.Pipeline.Analyzer = audio.AnalyzerConfig{
		SampleRate:     c.Audio.SampleRate,
		FFTSize:        c.Audio.FFTSize,
		MagnitudeFloor: c.Audio.MagnitudeFloor,
		VolumeGain:     c.Audio.VolumeGain,
	}
	ec.Pipeline.AnalysisInterval = c.Audio.AnalysisInterval
	ec.Pipeline.SilenceThreshold = c.Audio.SilenceThreshold
	ec.Pipeline.VAD.Threshold = c.Audio.VADThreshold
	ec.Pipeline.VAD.MaxSilence = c.Audio.VADMaxSilence
	ec.Pipeline.InputBuffer = c.Audio.InputBuffer
	ec.Session = c.Session
	ec.EmotionMinConfidence = c.Emotion.MinConfidence
	return ec
}

// Settings expresses the runtime-tunable part of c as an engine update.
// Audio and session settings need a restart.
func (c *Config) Settings() engine.Settings {
	return engine.FullSettings(c.Engine())
}

// Load reads configuration from path, or from config.yaml in the working
// directory or ~/.avatarmotion when path is empty. A missing file is not
// an error. The returned viper instance can be passed to Watch.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".avatarmotion"))
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Watch calls fn with the re-read configuration whenever the loaded file
// changes. It does nothing when no file was found.
func Watch(v *viper.Viper, logger zerolog.Logger, fn func(*Config)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	log := logger.With().Str("component", "config").Logger()

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
			return
		}
		log.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("Config reloaded")
		fn(cfg)
	})
	v.WatchConfig()
}

func setDefaults(v *viper.Viper, cfg *Config) {
	defaults := map[string]any{
		"animation.enabled":        cfg.Animation.Enabled,
		"animation.max_concurrent": cfg.Animation.MaxConcurrent,
		"animation.frame_budget":   cfg.Animation.FrameBudget,
		"animation.auto_blink":     cfg.Animation.AutoBlink,
		"animation.blink_min":      cfg.Animation.BlinkMin,
		"animation.blink_max":      cfg.Animation.BlinkMax,
		"animation.breathing":      cfg.Animation.Breathing,

		"lipsync.sensitivity":    cfg.LipSync.Sensitivity,
		"lipsync.responsiveness": cfg.LipSync.Responsiveness,
		"lipsync.epsilon":        cfg.LipSync.Epsilon,
		"lipsync.min_confidence": cfg.LipSync.MinConfidence,

		"audio.sample_rate":       cfg.Audio.SampleRate,
		"audio.fft_size":          cfg.Audio.FFTSize,
		"audio.analysis_interval": cfg.Audio.AnalysisInterval,
		"audio.magnitude_floor":   cfg.Audio.MagnitudeFloor,
		"audio.volume_gain":       cfg.Audio.VolumeGain,
		"audio.silence_threshold": cfg.Audio.SilenceThreshold,
		"audio.vad_threshold":     cfg.Audio.VADThreshold,
		"audio.vad_max_silence":   cfg.Audio.VADMaxSilence,
		"audio.input_buffer":      cfg.Audio.InputBuffer,

		"emotion.min_confidence": cfg.Emotion.MinConfidence,

		"session.timeout":        cfg.Session.Timeout,
		"session.check_interval": cfg.Session.CheckInterval,

		"logging.dir":         cfg.Logging.Dir,
		"logging.level":       string(cfg.Logging.Level),
		"logging.max_history": cfg.Logging.MaxHistory,
		"logging.console":     cfg.Logging.Console,

		"avatar.rig": cfg.Avatar.Rig,

		"stream.listen_addr": cfg.Stream.ListenAddr,
		"stream.path":        cfg.Stream.Path,
		"stream.frame_rate":  cfg.Stream.FrameRate,

		"metrics.namespace": cfg.Metrics.Namespace,
		"metrics.path":      cfg.Metrics.Path,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

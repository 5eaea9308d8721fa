package engine

import "time"

// Settings is a partial update for UpdateSettings. Nil fields keep their
// current value.
type Settings struct {
	Enabled       *bool
	MaxConcurrent *int
	FrameBudget   *time.Duration
	AutoBlink     *bool
	BlinkMin      *time.Duration
	BlinkMax      *time.Duration
	Breathing     *bool

	LipSyncSensitivity    *float64
	LipSyncResponsiveness *float64
	LipSyncEpsilon        *float64
	LipSyncMinConfidence  *float64
	EmotionMinConfidence  *float64
}

// FullSettings expresses cfg as a Settings with every field set.
func FullSettings(cfg Config) Settings {
	return Settings{
		Enabled:               &cfg.Enabled,
		MaxConcurrent:         &cfg.Scheduler.MaxConcurrent,
		FrameBudget:           &cfg.Scheduler.FrameBudget,
		AutoBlink:             &cfg.Scheduler.AutoBlink,
		BlinkMin:              &cfg.Scheduler.BlinkMin,
		BlinkMax:              &cfg.Scheduler.BlinkMax,
		Breathing:             &cfg.Scheduler.Breathing,
		LipSyncSensitivity:    &cfg.LipSync.Sensitivity,
		LipSyncResponsiveness: &cfg.LipSync.Responsiveness,
		LipSyncEpsilon:        &cfg.LipSync.Epsilon,
		LipSyncMinConfidence:  &cfg.Pipeline.MinConfidence,
		EmotionMinConfidence:  &cfg.EmotionMinConfidence,
	}
}

// UpdateSettings applies a partial settings change at runtime.
func (e *Engine) UpdateSettings(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.config
	set(&cfg.Scheduler.MaxConcurrent, s.MaxConcurrent)
	set(&cfg.Scheduler.FrameBudget, s.FrameBudget)
	set(&cfg.Scheduler.AutoBlink, s.AutoBlink)
	set(&cfg.Scheduler.BlinkMin, s.BlinkMin)
	set(&cfg.Scheduler.BlinkMax, s.BlinkMax)
	set(&cfg.Scheduler.Breathing, s.Breathing)
	set(&cfg.LipSync.Sensitivity, s.LipSyncSensitivity)
	set(&cfg.LipSync.Responsiveness, s.LipSyncResponsiveness)
	set(&cfg.LipSync.Epsilon, s.LipSyncEpsilon)
	set(&cfg.Pipeline.MinConfidence, s.LipSyncMinConfidence)
	set(&cfg.EmotionMinConfidence, s.EmotionMinConfidence)

	if cfg.Scheduler != e.config.Scheduler {
		e.sched.UpdateSettings(cfg.Scheduler)
		cfg.Scheduler = e.sched.Settings()
	}
	if cfg.LipSync != e.config.LipSync {
		e.blender.UpdateConfig(cfg.LipSync)
	}
	if cfg.Pipeline.MinConfidence != e.config.Pipeline.MinConfidence {
		e.pipeline.SetMinConfidence(cfg.Pipeline.MinConfidence)
	}
	e.config = cfg

	if s.Enabled != nil {
		e.setEnabled(*s.Enabled)
	}
	e.logger.Info().Msg("Settings updated")
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarmotion/internal/config"
	"github.com/normanking/avatarmotion/internal/engine"
	"github.com/normanking/avatarmotion/internal/logging"
)

func TestApplyReload(t *testing.T) {
	logger, err := logging.New(logging.Config{Level: logging.LevelInfo})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })

	eng := engine.New(engine.Options{Config: engine.DefaultConfig(), Logger: logger.Zerolog()})
	mainLog := logger.Component("main")

	cfg := config.DefaultConfig()
	cfg.Logging.Level = logging.LevelDebug
	cfg.Animation.MaxConcurrent = 2
	applyReload(eng, logger, cfg)

	assert.Equal(t, zerolog.DebugLevel, logger.Level())
	assert.Equal(t, 2, eng.Config().Scheduler.MaxConcurrent)

	mainLog.Debug().Msg("visible after reload")
	hist := logger.History(1)
	require.Len(t, hist, 1)
	assert.Equal(t, "visible after reload", hist[0].Message)
}

// Package main provides the CLI entry point for avatarmotion.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	av "github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/bus"
	"github.com/normanking/avatarmotion/internal/catalog"
	"github.com/normanking/avatarmotion/internal/config"
	"github.com/normanking/avatarmotion/internal/emotion"
	"github.com/normanking/avatarmotion/internal/engine"
	"github.com/normanking/avatarmotion/internal/logging"
	"github.com/normanking/avatarmotion/internal/metrics"
	"github.com/normanking/avatarmotion/internal/phoneme"
	"github.com/normanking/avatarmotion/internal/posestream"
)

// Version information (set at build time)
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "avatarmotion",
		Short:         "Real-time avatar expression, gesture and lip-sync engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml or ~/.avatarmotion/config.yaml)")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newAnalyzeCmd(),
		newPhonemeCmd(),
		newCatalogCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	var (
		rigPath   string
		listen    string
		synthetic bool
		duration  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive an avatar and stream its pose over websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, v, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if rigPath != "" {
				cfg.Avatar.Rig = rigPath
			}
			if listen != "" {
				cfg.Stream.ListenAddr = listen
			}

			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			return run(ctx, cfg, v, logger, synthetic)
		},
	}

	cmd.Flags().StringVar(&rigPath, "rig", "", "glTF/VRM rig to drive")
	cmd.Flags().StringVar(&listen, "listen", "", "address for the pose stream and metrics")
	cmd.Flags().BoolVar(&synthetic, "synthetic", false, "feed a synthetic vowel sequence as audio")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [text]",
		Short: "Print the emotion detected in a response text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := emotion.NewAnalyzer(zerolog.Nop()).Analyze(strings.Join(args, " "))
			return printJSON(cmd, res)
		},
	}
}

func newPhonemeCmd() *cobra.Command {
	var (
		f1, f2, volume float64
		threshold      float64
	)
	cmd := &cobra.Command{
		Use:   "phoneme",
		Short: "Classify a formant pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, confidence := phoneme.NewClassifier(threshold).Classify(phoneme.Formants{F1: f1, F2: f2}, volume)
			return printJSON(cmd, map[string]any{"phoneme": name, "confidence": confidence})
		},
	}
	cmd.Flags().Float64Var(&f1, "f1", 0, "first formant in Hz")
	cmd.Flags().Float64Var(&f2, "f2", 0, "second formant in Hz")
	cmd.Flags().Float64Var(&volume, "volume", 0.5, "normalised volume")
	cmd.Flags().Float64Var(&threshold, "silence", phoneme.DefaultSilenceThreshold, "silence threshold")
	return cmd
}

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List built-in emotions, gestures and phonemes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, map[string]any{
				"emotions": emotion.All(),
				"gestures": catalog.Gestures(),
				"phonemes": phoneme.Names(),
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func run(ctx context.Context, cfg *config.Config, v *viper.Viper, logger *logging.Logger, synthetic bool) error {
	log := logger.Component("main")

	avatar := av.NewAvatar(nil, nil)
	if cfg.Avatar.Rig != "" {
		rig, err := av.LoadRig(cfg.Avatar.Rig)
		if err != nil {
			return err
		}
		avatar = rig
		log.Info().Str("rig", cfg.Avatar.Rig).
			Int("blend_shapes", len(rig.BlendShapeNames())).
			Int("bones", len(rig.BoneNames())).
			Msg("Rig loaded")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	coll := metrics.NewCollector(cfg.Metrics.Namespace, reg)

	eventBus := bus.NewEventBus()
	eventBus.SubscribeMultiple([]bus.EventType{
		bus.EventTypeEmotionChanged,
		bus.EventTypeSessionTimeout,
		bus.EventTypeBudgetExceeded,
		bus.EventTypeEnabledChanged,
	}, func(e bus.Event) {
		log.Debug().Str("event", string(e.Type)).Interface("data", e.Data).Msg("Avatar event")
	})

	hub := posestream.NewHub(avatar, logger.Zerolog())
	defer hub.Close()

	eng := engine.New(engine.Options{
		Config:  cfg.Engine(),
		Logger:  logger.Zerolog(),
		Bus:     eventBus,
		Metrics: coll,
	})
	eng.BindPoseTarget(hub)
	hub.OnCommand(func(c posestream.Command) { dispatch(eng, c, log) })

	config.Watch(v, logger.Zerolog(), func(c *config.Config) { applyReload(eng, logger, c) })

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return renderLoop(ctx, eng, hub, cfg.Stream.FrameRate) })

	if synthetic {
		g.Go(func() error { return feedSynthetic(ctx, eng, cfg.Audio.SampleRate, log) })
	}

	if cfg.Stream.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Stream.Path, hub)
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Stream.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Str("stream", cfg.Stream.Path).Msg("Pose stream listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("pose stream server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	log.Info().Interface("state", eng.State()).Msg("Stopped")
	return err
}

// applyReload pushes the runtime-tunable part of a reloaded config into
// the running engine and logger.
func applyReload(eng *engine.Engine, logger *logging.Logger, c *config.Config) {
	eng.UpdateSettings(c.Settings())
	logger.SetLevel(c.Logging.Level)
}

// renderLoop stands in for the host's render loop.
func renderLoop(ctx context.Context, eng *engine.Engine, hub *posestream.Hub, fps int) error {
	if fps <= 0 {
		fps = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			ts := now.Sub(start)
			eng.Tick(ts)
			if _, err := hub.Flush(ts); err != nil {
				return err
			}
		}
	}
}

func dispatch(eng *engine.Engine, c posestream.Command, log zerolog.Logger) {
	intensity := c.Intensity
	if intensity == 0 {
		intensity = 1
	}
	var err error
	switch c.Type {
	case "emotion":
		_, err = eng.PlayEmotion(emotion.Emotion(c.Emotion), intensity)
	case "gesture":
		_, err = eng.PlayGesture(catalog.GestureType(c.Gesture), intensity)
	case "response":
		_, _, err = eng.HandleResponse(c.Text)
	case "enable":
		eng.SetEnabled(true)
	case "disable":
		eng.SetEnabled(false)
	default:
		log.Warn().Str("type", c.Type).Msg("Unknown command")
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("type", c.Type).Msg("Command failed")
	}
}

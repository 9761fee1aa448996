package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"brake-to-pause/internal/config"
	"brake-to-pause/internal/control"
	"brake-to-pause/internal/history"
	"brake-to-pause/internal/motion"
	"brake-to-pause/internal/realtime"
	"brake-to-pause/internal/session"
	"brake-to-pause/internal/track"
	"brake-to-pause/internal/watcher"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "braketopause",
		Short:         "Pause media playback when you stop moving",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "braketopause.yaml", "preferences file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newReplayCmd(&configPath))
	root.AddCommand(newHistoryCmd(&configPath))
	return root
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// prefsHolder hands the latest preferences to sessions as they start.
type prefsHolder struct {
	mu  sync.RWMutex
	cfg motion.Config
}

func (p *prefsHolder) get() motion.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Clone()
}

func (p *prefsHolder) set(cfg motion.Config) {
	p.mu.Lock()
	p.cfg = cfg.Clone()
	p.mu.Unlock()
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon that platform clients connect to",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(*configPath, cfg)
		},
	}
}

func serve(configPath string, cfg config.Config) error {
	prefs := &prefsHolder{cfg: cfg.Motion}

	// A history store that fails to open only costs the history.
	var recorder session.Recorder
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.HistoryPath).Msg("history disabled")
	} else {
		defer store.Close()
		recorder = store
	}

	hub := realtime.NewHub()
	ctrl, err := control.New(context.Background(), hub.Host(), nil)
	if err != nil {
		return err
	}
	sessMgr := session.NewManager(ctrl, recorder, cfg.EventBuffer)
	rtServer := realtime.New(sessMgr, hub, prefs.get, cfg.StaticDir)

	// Preference changes apply to the next session.
	prefWatch := watcher.New(configPath, func(c config.Config) {
		prefs.set(c.Motion)
	})
	if err := prefWatch.Start(); err != nil {
		log.Warn().Err(err).Str("path", configPath).Msg("preferences will not reload")
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: rtServer.Handler(),
	}

	// Graceful shutdown on signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		prefWatch.Shutdown()
		if err := sessMgr.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("session shutdown")
		}
		httpServer.Close()
	}()

	log.Info().Int("port", cfg.Port).Int("thresholdKph", cfg.Motion.SpeedThresholdKph).Msg("brake-to-pause listening")
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func newReplayCmd(configPath *string) *cobra.Command {
	var threshold int
	var noActivity bool

	cmd := &cobra.Command{
		Use:   "replay <file.gpx>",
		Short: "Replay a recorded ride through the controller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			motionCfg := cfg.Motion
			if cmd.Flags().Changed("threshold") {
				motionCfg.SpeedThresholdKph = threshold
			}
			if noActivity {
				motionCfg.UsesActivityRecognition = false
			}

			tr, err := track.ParseFile(args[0])
			if err != nil {
				return err
			}
			report, err := track.Replay(cmd.Context(), tr, motionCfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "track:      %s\n", report.Name)
			_, _ = fmt.Fprintf(out, "samples:    %d over %s\n", report.Samples, report.Duration)
			_, _ = fmt.Fprintf(out, "speed:      max %.1f, mean %.1f, median %.1f km/h\n", report.MaxKph, report.MeanKph, report.MedianKph)
			_, _ = fmt.Fprintf(out, "pauses:     %d (resumed %d), paused for %s\n", report.Pauses, report.Resumes, report.PausedFor)
			if report.AutoStopped {
				_, _ = fmt.Fprintf(out, "auto-stop:  at %s\n", report.AutoStoppedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", motion.DefaultSpeedThresholdKph, "speed threshold in km/h")
	cmd.Flags().BoolVar(&noActivity, "no-activity", false, "ignore activity types in the track")
	return cmd
}

func newHistoryCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.RecentSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "STARTED\tLABEL\tLENGTH\tPAUSES\tPAUSED\tSTOP")
			for _, r := range records {
				length := "-"
				if r.StoppedAt != nil {
					length = r.StoppedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04"), r.Label, length,
					r.Pauses, r.PausedFor.Round(time.Second), r.StopReason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to list")
	return cmd
}

package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/loom/internal/database"
	"github.com/watzon/loom/internal/generator"
	"github.com/watzon/loom/internal/metrics"
	"github.com/watzon/loom/internal/scheduler"
	"github.com/watzon/loom/internal/state"
	"github.com/watzon/loom/internal/templates"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduling daemon",
	Long: `Starts the engine: opens the database, recovers schedules and
orphaned executions, and runs the scheduler poll loop until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	loader, err := templates.NewDirLoader(cfg.Templates.Path, cfg.Templates.Watch)
	if err != nil {
		return err
	}
	defer loader.Close()

	gen, err := generator.NewHTTP(&cfg.Generator)
	if err != nil {
		return err
	}

	states := state.NewManager(state.NewStore(db, cfg.Engine.MaxCheckpoints))
	sched := scheduler.New(
		scheduler.NewStore(db),
		states,
		loader,
		generator.Func(gen),
		cfg.Scheduler,
		cfg.Engine,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Recover(ctx); err != nil {
		return err
	}

	sched.Start(ctx)
	defer sched.Stop()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics endpoint listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	// Expire terminal runs once a day.
	expireTicker := time.NewTicker(24 * time.Hour)
	defer expireTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-expireTicker.C:
				if err := states.Expire(ctx, cfg.Engine.StateRetention); err != nil {
					log.Warn().Err(err).Msg("Expiring old executions failed")
				}
			}
		}
	}()

	log.Info().Msg("Loom is running, press Ctrl+C to stop")
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	return nil
}

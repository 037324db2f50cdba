package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"challenge-service/internal/app"
	"challenge-service/internal/config"
	"challenge-service/internal/logger"
	transport "challenge-service/internal/transport/http"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the challenge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(serviceName, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		db := openBunDB(cfg.Postgres.URL)
		err := runMigrations(ctx, db, log)
		_ = db.Close()
		if err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	deps, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	if deps.listen != nil {
		go func() {
			if err := deps.listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("event listener stopped")
			}
		}()
	}

	if cfg.Sweeper.Enabled {
		sched, err := startSweeper(deps.service, config.TTLDuration(cfg.Sweeper.Interval, 10*time.Second), log)
		if err != nil {
			return err
		}
		defer func() { _ = sched.Shutdown() }()
	}

	mux := http.NewServeMux()
	transport.NewHandler(deps.service, deps.generator, log).Register(mux, deps.metrics.Middleware)
	mux.Handle("GET /ws", deps.metrics.Middleware("ws", http.HandlerFunc(transport.NewWSHandler(deps.service, log).ServeWS)))
	mux.Handle("GET /metrics", deps.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", finalPort).Info("starting challenge service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err := <-errCh:
		log.WithError(err).Error("server failed")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	deps.wait()
	return err
}

// startSweeper expires stale pending challenges on a fixed interval. Runs never overlap.
func startSweeper(service *app.ChallengeService, every time.Duration, log logrus.FieldLogger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), every)
			defer cancel()
			if _, err := service.ExpireStale(ctx); err != nil {
				log.WithError(err).Warn("sweep stale challenges")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	sched.Start()
	log.WithField("interval", every.String()).Info("stale challenge sweeper started")
	return sched, nil
}

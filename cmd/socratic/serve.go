package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/socratic-dev/socratic/internal/api"
	"github.com/socratic-dev/socratic/internal/observability"
	metrics "github.com/socratic-dev/socratic/pkg/observability"
	"github.com/socratic-dev/socratic/pkg/security"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log.Printf("Starting Socratic v%s", Version)
		log.Printf("Provider: %s, Storage: %s, Addr: %s", cfg.Provider, cfg.Storage.Backend, cfg.Server.Addr)

		if err := observability.InitFromEnv(); err != nil {
			log.Printf("[serve] tracing init failed, continuing without: %v", err)
		}
		metrics.InitMetrics()
		checker := metrics.InitHealthChecker()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, store, stack, err := buildTutor(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				log.Printf("[serve] store close: %v", closeErr)
			}
		}()

		metrics.SetSchedulerDepthFunc(stack.sched.Depth)
		checker.RegisterCheck(metrics.StorageCheck(func(ctx context.Context) error {
			_, err := store.GetStats(ctx)
			return err
		}))
		if ping := stack.ping(); ping != nil {
			checker.RegisterCheck(metrics.ProviderCheck(cfg.Provider, ping))
		}

		limiter := security.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		router := api.NewRouter(api.NewHandler(svc), limiter)

		httpSrv := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		obsSrv := metrics.NewServer(cfg.Server.MetricsAddr)

		// A streak only survives days with at least one session. The daily
		// job zeroes it after a missed day so stale streaks never show up.
		cronJobs := cron.New()
		if _, err := cronJobs.AddFunc("@daily", func() {
			if err := store.DecayStreak(context.Background(), time.Now()); err != nil {
				log.Printf("[serve] streak decay: %v", err)
			}
		}); err != nil {
			return err
		}
		cronJobs.Start()
		defer cronJobs.Stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Printf("Listening on %s", cfg.Server.Addr)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			log.Printf("Metrics and health on %s", cfg.Server.MetricsAddr)
			if err := obsSrv.Start(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Println("Shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := obsSrv.Shutdown(shutdownCtx); err != nil {
				log.Printf("[serve] metrics server shutdown: %v", err)
			}
			if err := observability.Shutdown(shutdownCtx); err != nil {
				log.Printf("[serve] tracing shutdown: %v", err)
			}
			return httpSrv.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil {
			return err
		}
		log.Println("Server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/robfig/cron/v3"

	"github.com/tyler180/quiz-results/internal/config"
	"github.com/tyler180/quiz-results/pkg/logger"
)

func main() {
	ctx := context.Background()

	if err := logger.Init(); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Fatalf("log level: %v", err)
	}
	lg := logger.Named("quiz-results")

	a, err := newApp(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("build app: %v", err)
	}
	defer a.Close()

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		lambda.Start(a.handle)
		return
	}

	if err := runLocal(ctx, a); err != nil {
		lg.Error(ctx, "local run failed", logger.Error(err))
		os.Exit(1)
	}
}

// runLocal runs one pass immediately, then on the configured schedule, and
// serves /metrics until interrupted.
func runLocal(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := a.handle(ctx, Event{Mode: modeResults}); err != nil {
		a.log.Error(ctx, "initial pass failed", logger.Error(err))
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(a.cfg.Schedule, func() {
		if _, err := a.handle(ctx, Event{Mode: modeResults}); err != nil {
			a.log.Error(ctx, "scheduled pass failed", logger.Error(err))
		}
	}); err != nil {
		return err
	}
	c.Start()
	a.log.Info(ctx, "scheduler started", logger.String("schedule", a.cfg.Schedule))

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	<-c.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	a.log.Info(context.Background(), "stopped")
	return runErr
}

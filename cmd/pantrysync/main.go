package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dukerupert/pantrysync/internal/config"
	"github.com/dukerupert/pantrysync/internal/database"
	"github.com/dukerupert/pantrysync/internal/logging"
	"github.com/dukerupert/pantrysync/internal/server"
)

const cleanupInterval = time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, port, logLevel string

	flagSet := pflag.NewFlagSet("pantrysync", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	flagSet.StringVar(&port, "port", "", "listen port (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Port = port
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	srv, err := server.New(cfg, db, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sched := srv.PushScheduler(); sched != nil {
		sched.Start(ctx)
		defer sched.Stop()
	} else {
		logger.Info("push notifications disabled, VAPID keys not set")
	}
	if !cfg.EmailEnabled() {
		logger.Info("email invites disabled, Postmark token or sender not set")
	}
	if !cfg.Images.Enabled() {
		logger.Info("pantry photos disabled, image storage not configured")
	}

	go cleanup(ctx, srv, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("pantrysync starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// cleanup drops expired sessions and idle rate-limit buckets until ctx ends.
func cleanup(ctx context.Context, srv *server.Server, logger *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := srv.SessionStore().DeleteExpired(ctx); err != nil {
				logger.Error("cleanup expired sessions", "error", err)
			} else if n > 0 {
				logger.Info("cleaned up expired sessions", "count", n)
			}
			if err := srv.PushStore().CleanupSent(ctx, time.Now().AddDate(0, 0, -7)); err != nil {
				logger.Error("cleanup sent notifications", "error", err)
			}
			srv.RateLimiter().Cleanup(cleanupInterval)
			if n := srv.Identity().CleanupAttempts(cleanupInterval); n > 0 {
				logger.Debug("dropped idle sign-in counters", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

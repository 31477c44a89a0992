// CLAUDE:SUMMARY CLI entry point for guet — multi-target page monitoring daemon with a config validation mode.
// Command guet is the page monitoring daemon.
//
// Usage:
//
//	guet -config guet.yaml              # run the monitor
//	guet -config guet.yaml -validate    # check the config and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/guet"
)

func main() {
	configPath := flag.String("config", "guet.yaml", "path to the YAML configuration")
	validateOnly := flag.Bool("validate", false, "validate the configuration and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *validateOnly {
		os.Exit(validateConfig(*configPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("guet: fatal", "error", err)
		os.Exit(1)
	}
}

// validateConfig prints every problem in the file. Exit 0 means at
// least one target is usable.
func validateConfig(path string) int {
	cfg, err := guet.LoadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	skipped, err := cfg.Validate()
	for _, sk := range skipped {
		fmt.Fprintf(os.Stderr, "skipped: %s\n", sk.Error())
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	targets, _ := cfg.BuildTargets()
	fmt.Printf("ok: %d targets, db %s, listen %s\n", len(targets), cfg.DB, cfg.Listen)
	return 0
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	eng, err := guet.New(configPath, logger)
	if err != nil {
		return err
	}

	eng.Start(ctx)

	srv := &http.Server{
		Addr:              eng.ListenAddr(),
		Handler:           eng.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("status server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
		return eng.Close()
	})
	return g.Wait()
}

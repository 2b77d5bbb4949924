// Package main runs the tabledger event store as a standalone process:
// hydrate from the first reachable storage tier, serve Prometheus metrics,
// and keep the durable-write machinery running until a shutdown signal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/tabledger/config"
	"github.com/c360/tabledger/event"
	"github.com/c360/tabledger/hydrate"
	"github.com/c360/tabledger/metric"
)

const (
	Version = "0.1.0"
	appName = "tabledger"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *validateOnly {
		fmt.Println("configuration is valid")
		return nil
	}

	logger := cfg.Log.NewLogger()
	logger.Info("starting", "app", appName, "version", Version)

	registry, err := event.NewDefaultRegistry()
	if err != nil {
		return fmt.Errorf("register built-in schemas: %w", err)
	}

	metricsRegistry := metric.NewMetricsRegistry()

	coordinator, err := hydrate.NewCoordinator(hydrate.Options{
		Store:        cfg.StoreConfig(),
		Persist:      cfg.PersistConfig(),
		Remote:       cfg.RemoteConfig(),
		LocalPath:    cfg.Backend.LocalPath,
		SyncInterval: cfg.Backend.SyncInterval.Std(),
		Registry:     registry,
		Logger:       logger,
		Metrics:      metricsRegistry,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handle, err := coordinator.Open(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("store ready",
		"tier", handle.Backend.Name(),
		"events", handle.Store.Len(),
		"last_seq", handle.Store.LastSeq())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return handle.Run(ctx)
	})

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsRegistry.Handler())
		server := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := coordinator.Shutdown(shutdownCtx); serr != nil {
		logger.Error("shutdown error", "error", serr)
	}
	logger.Info("stopped", "app", appName)
	return err
}

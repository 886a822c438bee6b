package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"espressomap/internal/catalog"
	"espressomap/internal/client"
	"espressomap/internal/config"
	"espressomap/internal/feed"
	appLog "espressomap/internal/log"
	"espressomap/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	apiURL     string
	once       bool
	ics        bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	switch {
	case errors.Is(err, config.ErrNotSaved):
		appLog.Warn("could not write default config; continuing with defaults", "config_path", flags.configPath, "reason", err)
	case err != nil:
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.apiURL != "" {
		conf.APIURL = flags.apiURL
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("espressomap starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"api_configured", conf.APIURL != "",
		"request_timeout", conf.Timeout(),
		"refresh", conf.RefreshCron,
		"proximity_km", conf.ProximityKm,
		"fallback_subscription", feed.IsRemote(conf.FallbackPath),
		"cache_dir", conf.CacheDir,
		"horizon_days", conf.Series.HorizonDays,
		"metrics", conf.MetricsEnabled(),
		"once", flags.once,
	)

	remote := client.New(client.Config{
		BaseURL: conf.APIURL,
		Timeout: conf.Timeout(),
	})
	cat := catalog.New(remote, catalog.Options{
		FallbackPath:   conf.FallbackPath,
		Subscriptions:  feed.NewFetcher(conf.CacheDir, 0),
		HorizonDays:    conf.Series.HorizonDays,
		MaxOccurrences: conf.Series.MaxOccurrences,
	})

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap := cat.Refresh(ctx)

	if flags.once {
		if err := dump(snap, flags.ics); err != nil {
			appLog.Error("failed to write output", err)
			os.Exit(1)
		}
		return
	}

	sched := cron.New()
	if _, err := sched.AddFunc(conf.RefreshCron, func() {
		cat.Refresh(ctx)
	}); err != nil {
		appLog.Error("failed to schedule refresh", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()

	api := web.NewServer(web.Options{
		Catalog:     cat,
		Remote:      remote,
		ProximityKm: conf.ProximityKm,
		Metrics:     conf.MetricsEnabled(),
		BasicAuth:   conf.BasicAuth,
	})
	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		}
	}

	<-sched.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server forced to shutdown", err)
	}
	api.Wait()
	appLog.Info("espressomap exiting")
}

// dump writes the loaded catalog to stdout as JSON, or as an iCalendar
// feed when asICS is set.
func dump(snap *catalog.Snapshot, asICS bool) error {
	if asICS {
		return feed.WriteICS(os.Stdout, snap.Events, time.Now())
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"source":  snap.Source,
		"outcome": snap.Outcome,
		"total":   len(snap.Events),
		"events":  snap.Events,
	})
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/espressomap/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.apiURL, "api-url", "", "Event API base URL (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load the catalog once, print it and exit")
	flag.BoolVar(&cfg.ics, "ics", false, "With -once, print an iCalendar feed instead of JSON")

	flag.Parse()

	return cfg
}

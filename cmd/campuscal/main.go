package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"campuscal/internal/categorise"
	"campuscal/internal/config"
	"campuscal/internal/crawl"
	"campuscal/internal/ics"
	"campuscal/internal/ingest"
	appLog "campuscal/internal/log"
	"campuscal/internal/metrics"
	"campuscal/internal/query"
	"campuscal/internal/storage/sqlite"
	"campuscal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(); err != nil {
		appLog.Error("failed to apply environment", err)
		os.Exit(1)
	}
	// CLI --listen overrides both file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	loc, err := conf.Location()
	if err != nil {
		appLog.Warn("unknown timezone; natural-key dates use UTC", "timezone", conf.Timezone, "err", err)
	}

	appLog.Info("campuscal starting",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"db", conf.Database.Path,
		"site", conf.Site.BaseURL+conf.Site.ListingPath,
		"workers", conf.Ingest.Workers,
		"categorise", conf.Ingest.Categorise,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(conf.Database.Path)
	if err != nil {
		appLog.Error("failed to open event store", err, "path", conf.Database.Path)
		os.Exit(1)
	}
	defer store.Close()

	stats := metrics.New()
	runner := &ingestRunner{conf: conf, loc: loc, store: store, stats: stats}

	if flags.once {
		if _, err := runner.run(ctx); err != nil {
			appLog.Error("ingestion failed", err)
			os.Exit(1)
		}
		return
	}

	scheduler := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := scheduler.AddFunc(conf.RefreshCron, func() {
		if _, err := runner.run(ctx); err != nil {
			appLog.Error("scheduled ingestion failed", err)
		}
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	if conf.Ingest.RunOnStart {
		go func() {
			if _, err := runner.run(ctx); err != nil {
				appLog.Error("startup ingestion failed", err)
			}
		}()
	}

	feeds := ics.NewFeedParser(ics.NewFetcher(conf.Feed.Timeout), conf.HorizonDays)
	events := query.New(store, feeds, query.WithWindow(conf.DefaultWindow()))
	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, events, web.WithMetrics(stats)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
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
			appLog.Error("HTTP server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	appLog.Info("campuscal exiting")
}

// ingestRunner builds a fresh browser per run so the HTTP surface stays up
// on hosts where Chromium is missing or crashes.
type ingestRunner struct {
	conf  *config.Config
	loc   *time.Location
	store *sqlite.Store
	stats *metrics.Metrics
}

func (r *ingestRunner) run(ctx context.Context) (ingest.Report, error) {
	report, err := r.runOnce(ctx)
	r.stats.ObserveRun(report, err)
	return report, err
}

func (r *ingestRunner) runOnce(ctx context.Context) (ingest.Report, error) {
	browser, err := crawl.NewChromeBrowser(ctx, crawl.ChromeOptions{
		PageTimeout: r.conf.Site.PageTimeout,
	})
	if err != nil {
		return ingest.Report{}, fmt.Errorf("start browser: %w", err)
	}
	defer browser.Close()

	crawler, err := crawl.New(browser, crawl.Site{
		BaseURL:     r.conf.Site.BaseURL,
		ListingPath: r.conf.Site.ListingPath,
		PageQuery:   r.conf.Site.PageQuery,
		LinkPrefix:  r.conf.Site.LinkPrefix,
	})
	if err != nil {
		return ingest.Report{}, err
	}

	return ingest.New(crawler, r.classifier(), r.store, ingest.Options{
		Workers:  r.conf.Ingest.Workers,
		Location: r.loc,
	}).Run(ctx)
}

// classifier returns nil when categorisation is off or has no API key, which
// stores events with no categories.
func (r *ingestRunner) classifier() ingest.Classifier {
	c := r.conf.Classifier
	if !r.conf.Ingest.Categorise {
		return nil
	}
	if c.APIKey == "" {
		appLog.Warn("categorise enabled without an API key; skipping classification")
		return nil
	}
	return categorise.New(categorise.NewGeminiModel(categorise.GeminiConfig{
		APIKey:   c.APIKey,
		Model:    c.Model,
		Endpoint: c.Endpoint,
	}), c.Timeout)
}

// cronLogger routes scheduler messages through appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/campuscal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one ingestion and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable DEBUG logging")

	flag.Parse()

	return cfg
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/flag-nest/sdk"
)

// flagnest-demo exercises the SDK against a real (or locally stubbed)
// flag-nest endpoint: it keeps flags in sync, reads a few of them on a
// loop, tracks events and reports delivery metrics on shutdown.
//
// Configuration comes from the environment:
//
//	FLAGNEST_CLIENT_KEY    client key (required)
//	FLAGNEST_BASE_URL      endpoint base URL (default production)
//	FLAGNEST_DB_PATH       bolt database path (default ./flagnest-demo.db)
//	FLAGNEST_POLL_INTERVAL settings poll interval (default 30s)
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetLevel(logrus.InfoLevel)
	if lvl, err := logrus.ParseLevel(os.Getenv("FLAGNEST_LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	clientKey := os.Getenv("FLAGNEST_CLIENT_KEY")
	if clientKey == "" {
		logger.Fatal("FLAGNEST_CLIENT_KEY is required")
	}

	dbPath := os.Getenv("FLAGNEST_DB_PATH")
	if dbPath == "" {
		dbPath = "flagnest-demo.db"
	}

	store, err := sdk.NewBoltStore(dbPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to open store")
	}
	defer store.Close()

	metrics := sdk.NewMetricsCollector()

	config := sdk.DefaultConfig().
		WithClientKey(clientKey).
		WithStore(store).
		WithLogger(logger).
		WithObserver(metrics)

	if baseURL := os.Getenv("FLAGNEST_BASE_URL"); baseURL != "" {
		config = config.WithBaseURL(baseURL)
	}
	if raw := os.Getenv("FLAGNEST_POLL_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			logger.WithError(err).Fatal("invalid FLAGNEST_POLL_INTERVAL")
		}
		config = config.WithPollInterval(interval)
	}

	client, err := sdk.NewClient(config)
	if err != nil {
		logger.WithError(err).Fatal("failed to create client")
	}
	defer client.Close()

	logger.WithField("session", client.CurrentSessionID()).Info("client started")

	sub := client.AddFlagListener("hero_text", func(key string, entry sdk.ConfigEntry) {
		value, _ := entry.Variation.String()
		logger.WithFields(logrus.Fields{
			"key":   key,
			"value": value,
		}).Info("flag changed")
	})
	defer sub.Close()

	statusSub := client.AddConnectionStatusListener(func(status sdk.ConnectionStatus) {
		logger.WithField("status", status.String()).Info("delivery status changed")
	})
	defer statusSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go readLoop(ctx, client, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("shutting down")
	cancel()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := client.Flush(flushCtx); err != nil {
		logger.WithError(err).Warn("final flush incomplete")
	}

	snapshot := metrics.Snapshot()
	logger.WithFields(logrus.Fields{
		"requests":        snapshot.Requests,
		"request_errors":  snapshot.RequestErrors,
		"retries":         snapshot.Retries,
		"settings_checks": snapshot.SettingsChecks,
		"items_flushed":   snapshot.ItemsFlushed,
		"items_dropped":   snapshot.ItemsDropped,
	}).Info("final metrics")
}

// readLoop reads a handful of flags every few seconds and tracks an event
// for each pass, exercising both delivery queues.
func readLoop(ctx context.Context, client sdk.Client, logger *logrus.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if text, ok := client.GetString("hero_text"); ok {
				logger.WithField("hero_text", text).Debug("flag read")
			}
			if enabled, ok := client.GetBool("dark_mode"); ok {
				logger.WithField("dark_mode", enabled).Debug("flag read")
			}

			if err := client.TrackEvent("demo_tick", map[string]any{
				"flags": len(client.AllFlags()),
			}); err != nil {
				logger.WithError(err).Warn("failed to track event")
			}
		}
	}
}

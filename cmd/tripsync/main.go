// Command tripsync serves the trip dataset API and runs scheduled syncs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/tripsync/dbopen"
	"github.com/hazyhaar/tripsync/ingest"
	"github.com/hazyhaar/tripsync/observability"
	"github.com/hazyhaar/tripsync/shield"
)

func main() {
	logger := observability.NewLogger(os.Stdout, env("LOG_LEVEL", "info"), env("LOG_FORMAT", "json"))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(env("DB_PATH", "db/tripsync.db"), dbopen.WithMkdirAll(), dbopen.WithSchema(ingest.Schema))
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	metrics := observability.NewMetrics()
	svc, err := ingest.New(cfg,
		ingest.WithDB(db),
		ingest.WithMetrics(metrics),
		ingest.WithLogger(logger),
	)
	if err != nil {
		slog.Error("ingest service", "error", err)
		os.Exit(1)
	}
	svc.Start(ctx)

	trustProxy := envBool("TRUST_PROXY_HEADERS")
	srv := &http.Server{
		Addr:              ":" + env("PORT", "8085"),
		Handler:           newRouter(svc, metrics, shield.NewLimiter(), trustProxy),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("tripsync listening", "addr", srv.Addr, "data_dir", cfg.DataDir, "scheduled", cfg.Scheduler.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	svc.Close(shutdownCtx)
}

// loadConfig reads CONFIG_FILE when set, then layers the environment on
// top. Secrets only come from the environment.
func loadConfig() (ingest.Config, error) {
	var cfg ingest.Config
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if cfg, err = ingest.LoadConfigFile(path); err != nil {
			return cfg, err
		}
	}

	cfg.DataDir = env("DATA_DIR", cfg.DataDir)
	if v := envList("CALENDAR_URLS"); len(v) > 0 {
		cfg.CalendarURLs = v
	}
	if v := envList("SPOT_SOURCE_URLS"); len(v) > 0 {
		cfg.SpotSourceURLs = v
	}
	cfg.MissedSyncThreshold = envInt("MISSED_SYNC_THRESHOLD", cfg.MissedSyncThreshold)
	cfg.RSS.InitialItems = envInt("RSS_INITIAL_ITEMS", cfg.RSS.InitialItems)
	cfg.RSS.MaxItemsPerSync = envInt("RSS_MAX_ITEMS_PER_SYNC", cfg.RSS.MaxItemsPerSync)
	cfg.Scheduler.Spec = env("SYNC_CRON", cfg.Scheduler.Spec)

	cfg.Extract.APIKey = os.Getenv("FIRECRAWL_API_KEY")
	cfg.Extract.BaseURL = env("FIRECRAWL_BASE_URL", cfg.Extract.BaseURL)
	cfg.Geo.APIKey = firstEnv("GOOGLE_MAPS_GEOCODING_KEY", "GOOGLE_MAPS_SERVER_KEY", "GOOGLE_MAPS_BROWSER_KEY")
	return cfg, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(env(key, ""))
	if err != nil {
		return def
	}
	return v
}

func envBool(key string) bool {
	switch strings.ToLower(env(key, "")) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// envList splits a comma-separated variable.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

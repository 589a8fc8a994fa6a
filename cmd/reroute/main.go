// cmd/reroute/main.go
//
// reroute – HTTP entry point.
//
// Request life-cycle
// ------------------
//
//  1. Load env vars (server-wide file → .env fallback).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Load config (YAML + env overlay, Vault-resolved DB password).
//
//  4. Open the redirect store and build the resolver table.
//
//  5. Wire checker, flood guard, and dispatcher.
//
//  6. Serve: dispatcher middleware in front of the ops endpoints, with
//     Prometheus on /metrics and a graceful shutdown on SIGINT/SIGTERM.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yanizio/reroute/internal/config"
	"github.com/yanizio/reroute/internal/database"
	"github.com/yanizio/reroute/internal/dispatch"
	"github.com/yanizio/reroute/internal/guard"
	"github.com/yanizio/reroute/internal/logger"
	"github.com/yanizio/reroute/internal/redirect"
	"github.com/yanizio/reroute/internal/routes"
	"github.com/yanizio/reroute/internal/server"
)

const serverEnvPath = "/usr/local/etc/reroute/global.env"

// loadEnv prefers the server-wide env file; on dev it falls back to .env.
func loadEnv() {
	if _, err := os.Stat(serverEnvPath); err == nil {
		_ = godotenv.Load(serverEnvPath)
		return
	}
	_ = godotenv.Load()
}

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func init() { loadEnv() }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootDir, _ := os.Getwd()
	logOut, err := logger.New(rootDir, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}

	//
	// ── 1.  Configuration ───────────────────────────────────────────────
	//
	cfg, err := config.Load(ctx)
	if err != nil {
		logOut.Fatalf("load config: %v", err)
	}

	//
	// ── 2.  Redirect store ──────────────────────────────────────────────
	//
	logOut.Infow("connecting to redirect store")
	db, err := database.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logOut.Fatalf("connect redirect store: %v", err)
	}
	defer db.Close()

	// Log the rule count as an early sanity check.
	var rules int
	_ = db.Get(&rules, `SELECT COUNT(*) FROM redirect`)
	logOut.Infow("redirect store online", "rules", rules)

	//
	// ── 3.  Pipeline wiring ─────────────────────────────────────────────
	//
	table := routes.New(routeDefs(cfg))
	store := redirect.NewStore(db, table)
	repo := redirect.NewRepository(store)

	checker := guard.NewChecker(table, cfg.Redirect.GlobalAdminPaths,
		maintenanceFlag(cfg.Paths.Root))
	flood := guard.NewFlood(cfg.Flood.Threshold, cfg.Flood.Window, cfg.Flood.Cooldown)
	defer flood.Close()

	dispatcher := dispatch.New(repo, checker, flood, table, dispatch.Settings{
		PassthroughQuerystring: cfg.Redirect.PassthroughQuerystring,
		DefaultStatusCode:      cfg.Redirect.DefaultStatusCode,
	})

	//
	// ── 4.  Router: redirects first, then ops endpoints ─────────────────
	//
	r := chi.NewRouter()
	r.Use(dispatcher.Middleware)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Operator lookup: every rule registered for a source path.
	r.Get("/-/redirects", func(w http.ResponseWriter, req *http.Request) {
		source := req.URL.Query().Get("source")
		if source == "" {
			http.Error(w, "missing source parameter", http.StatusBadRequest)
			return
		}
		recs, err := repo.FindBySourcePath(req.Context(), source)
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summarize(recs))
	})

	//
	// ── 5.  Serve until signalled ───────────────────────────────────────
	//
	srv := server.New(cfg.HTTP.ListenAddr, r)
	go func() {
		logOut.Infow("listening", "addr", cfg.HTTP.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logOut.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	logOut.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// routeDefs converts config route declarations into resolver entries.
func routeDefs(cfg *config.Config) []routes.Route {
	defs := make([]routes.Route, 0, len(cfg.Routes))
	for _, d := range cfg.Routes {
		defs = append(defs, routes.Route{Name: d.Name, Pattern: d.Pattern, Admin: d.Admin})
	}
	return defs
}

// maintenanceFlag reports offline mode via a flag file, so operators can
// flip it without a restart or reload.
func maintenanceFlag(root string) func() bool {
	marker := filepath.Join(root, "maintenance")
	return func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}
}

// ruleSummary is the ops-endpoint view of a rule.
type ruleSummary struct {
	ID       int64  `json:"id"`
	Source   string `json:"source"`
	Language string `json:"language"`
	Status   int    `json:"status"`
	Hits     int64  `json:"hits"`
}

func summarize(recs []*redirect.Record) []ruleSummary {
	out := make([]ruleSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ruleSummary{
			ID:       rec.ID,
			Source:   rec.SourcePath,
			Language: rec.Language,
			Status:   rec.StatusCode,
			Hits:     rec.HitCount,
		})
	}
	return out
}

// Command tutord serves the form-tutor engine over HTTP, and optionally as
// MCP tools over stdio.
//
// Configuration is environment-based:
//
//	PORT            HTTP listen port (default 8086)
//	VALIDATE_URL    remote validation endpoint (required)
//	KNOWLEDGE_FILE  YAML rule table; empty uses the embedded table
//	TELEMETRY_DB    SQLite path for action telemetry (default db/telemetry.db)
//	DEBOUNCE_MS     snapshot quiet period in milliseconds (default 300)
//	MCP_TRANSPORT   "stdio" additionally serves the MCP tools on stdin/stdout
//	LOG_LEVEL       debug, info, warn, error (default info)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/vistoamigo/tutor/dbopen"
	"github.com/vistoamigo/tutor/formstate"
	"github.com/vistoamigo/tutor/knowledge"
	"github.com/vistoamigo/tutor/shield"
	"github.com/vistoamigo/tutor/telemetry"
	"github.com/vistoamigo/tutor/tutor"
	"github.com/vistoamigo/tutor/validate"
)

func main() {
	port := env("PORT", "8086")
	validateURL := os.Getenv("VALIDATE_URL")
	knowledgeFile := env("KNOWLEDGE_FILE", "")
	telemetryPath := env("TELEMETRY_DB", "db/telemetry.db")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	if validateURL == "" {
		slog.Error("VALIDATE_URL is required")
		os.Exit(1)
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Telemetry DB.
	telemetryDB, err := dbopen.Open(telemetryPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("telemetry db", "error", err)
		os.Exit(1)
	}
	defer telemetryDB.Close()
	actions := telemetry.NewLogger(telemetryDB, telemetry.WithLogger(logger))
	if err := actions.EnsureTable(ctx); err != nil {
		slog.Error("telemetry init", "error", err)
		os.Exit(1)
	}

	// Knowledge table.
	table := knowledge.Builtin()
	if knowledgeFile != "" {
		table, err = knowledge.Load(knowledgeFile)
		if err != nil {
			slog.Error("knowledge table", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("knowledge table loaded", "version", table.Version(), "rules", table.Len())

	// Session hub.
	sessionOpts := []tutor.Option{tutor.WithTelemetry(actions)}
	if ms, err := strconv.Atoi(env("DEBOUNCE_MS", "")); err == nil && ms > 0 {
		sessionOpts = append(sessionOpts, tutor.WithDebounce(time.Duration(ms)*time.Millisecond))
	}
	hub := tutor.NewHub(table, validate.NewClient(validateURL, nil), logger,
		tutor.WithSessionOptions(sessionOpts...))
	defer hub.Shutdown()

	// Optional MCP over stdio.
	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "tutord",
			Version: "1.0.0",
		}, nil)
		hub.RegisterMCP(mcpSrv)
		go func() {
			slog.Info("MCP stdio starting")
			transport := &mcp.IOTransport{
				Reader: os.Stdin,
				Writer: os.Stdout,
			}
			if err := mcpSrv.Run(ctx, transport); err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
		}()
	}

	// Router.
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{
			"status":            "ok",
			"knowledge_version": table.Version(),
			"sessions":          hub.Len(),
		})
	})

	r.Post("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			VisaType string `json:"visa_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VisaType == "" {
			writeError(w, 400, errors.New("visa_type is required"))
			return
		}
		s, err := hub.Create(req.VisaType)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 201, map[string]string{"session_id": s.ID()})
	})

	r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/snapshots", func(w http.ResponseWriter, r *http.Request) {
			s, err := hub.Get(chi.URLParam(r, "sessionID"))
			if err != nil {
				writeError(w, 404, err)
				return
			}
			var snap formstate.Snapshot
			if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
				writeError(w, 400, err)
				return
			}
			if snap.StepID == "" || snap.Timestamp == 0 {
				writeError(w, 400, errors.New("snapshot needs step_id and timestamp"))
				return
			}
			s.OnSnapshot(&snap)
			writeJSON(w, 202, map[string]string{"status": "accepted", "key": snap.Key()})
		})

		r.Get("/messages", func(w http.ResponseWriter, r *http.Request) {
			s, err := hub.Get(chi.URLParam(r, "sessionID"))
			if err != nil {
				writeError(w, 404, err)
				return
			}
			writeJSON(w, 200, map[string]any{
				"state":    s.State(),
				"cycles":   s.Cycles(),
				"messages": s.Messages(),
			})
		})

		r.Post("/actions", func(w http.ResponseWriter, r *http.Request) {
			s, err := hub.Get(chi.URLParam(r, "sessionID"))
			if err != nil {
				writeError(w, 404, err)
				return
			}
			var req struct {
				Event   string `json:"event"`
				Label   string `json:"label"`
				Payload string `json:"payload"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" {
				writeError(w, 400, errors.New("event is required"))
				return
			}
			s.Act(r.Context(), req.Event, req.Label, req.Payload)
			writeJSON(w, 200, map[string]string{"status": "forwarded"})
		})

		r.Post("/reset", func(w http.ResponseWriter, r *http.Request) {
			s, err := hub.Get(chi.URLParam(r, "sessionID"))
			if err != nil {
				writeError(w, 404, err)
				return
			}
			s.Reset()
			writeJSON(w, 200, map[string]string{"status": "reset"})
		})

		r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
			if err := hub.Remove(chi.URLParam(r, "sessionID")); err != nil {
				writeError(w, 404, err)
				return
			}
			w.WriteHeader(204)
		})
	})

	r.Get("/api/actions", func(w http.ResponseWriter, r *http.Request) {
		recent, err := actions.Recent(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, recent)
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port, "validate_url", validateURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

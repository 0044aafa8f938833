// formfill fills job application forms from a profile document.
//
// Modes:
//
//	formfill                        HTTP control server (default)
//	formfill -config formfill.yaml  same, with a YAML configuration file
//	formfill -url URL               one-shot autofill, JSON result on stdout
//	formfill -url URL -scan         one-shot scan and map, no writes
//	MCP_TRANSPORT=stdio formfill    MCP server on stdin/stdout
//
// Environment: PORT, LOG_LEVEL, MCP_TRANSPORT, AUTH_USER, AUTH_PASSWORD_HASH.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/formfill/connectivity"
	"github.com/hazyhaar/formfill/dbopen"
	"github.com/hazyhaar/formfill/engine"
	"github.com/hazyhaar/formfill/guard"
	"github.com/hazyhaar/formfill/observability"
	"github.com/hazyhaar/formfill/profile"
	"github.com/hazyhaar/formfill/rulestore"
	"github.com/hazyhaar/formfill/shield"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	oneURL := flag.String("url", "", "autofill a single page, print the result, exit")
	scanOnly := flag.Bool("scan", false, "with -url: scan and map only, do not write")
	flag.Parse()

	mcpTransport := env("MCP_TRANSPORT", "")

	// Logging. Stdout carries the result in one-shot mode and the MCP
	// protocol in stdio mode, so logs move to stderr there.
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logOut := os.Stdout
	if *oneURL != "" || mcpTransport == "stdio" {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := defaultConfig()
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Rule store: user rules, snippets, recent values.
	store, err := rulestore.Open(cfg.RulesDB, rulestore.WithLogger(logger))
	if err != nil {
		slog.Error("rule store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Profile source.
	var profiles profile.Source = profile.Static{}
	if cfg.Profile != "" {
		profiles = profile.NewFileSource(cfg.Profile)
	}

	// Observability is optional; without a database the engine just
	// skips metric and audit writes.
	var metrics *observability.MetricsManager
	var audit *observability.AuditLogger
	if cfg.ObservabilityDB != "" {
		obsDB, err := dbopen.Open(cfg.ObservabilityDB, dbopen.WithMkdirAll())
		if err != nil {
			slog.Error("observability db", "error", err)
			os.Exit(1)
		}
		defer obsDB.Close()
		if err := observability.Init(obsDB); err != nil {
			slog.Error("observability schema", "error", err)
			os.Exit(1)
		}
		metrics = observability.NewMetricsManager(obsDB, 256, 10*time.Second)
		defer metrics.Close()
		audit = observability.NewAuditLogger(obsDB, 256)
		defer audit.Close()
	}

	sinks, err := buildSinks(cfg.Sinks)
	if err != nil {
		slog.Error("sinks", "error", err)
		os.Exit(1)
	}

	ecfg := cfg.engineConfig()
	ecfg.Profiles = profiles
	ecfg.RuleStore = store
	ecfg.SuggestStore = store
	ecfg.Metrics = metrics
	ecfg.Audit = audit

	eng := engine.New(ecfg, logger, sinks...)
	if err := eng.Start(ctx); err != nil {
		slog.Error("engine start", "error", err)
		os.Exit(1)
	}
	defer eng.Stop()

	// One-shot mode.
	if *oneURL != "" {
		if err := runOnce(ctx, eng, *oneURL, *scanOnly); err != nil {
			slog.Error("run", "error", err)
			os.Exit(1)
		}
		return
	}

	// Service router. Operations dispatch through it so any of them can
	// be re-pointed at a remote worker by updating the routes table.
	router := connectivity.New(connectivity.WithLogger(logger))
	router.RegisterTransport("http", connectivity.HTTPFactory())
	router.RegisterTransport("webhook", connectivity.HTTPFactory())
	eng.RegisterConnectivity(router)

	var admin *connectivity.Admin
	var routesDB *sql.DB
	if cfg.RoutesDB != "" {
		routesDB, err = connectivity.OpenDB(cfg.RoutesDB)
		if err != nil {
			slog.Error("routes db", "error", err)
			os.Exit(1)
		}
		defer routesDB.Close()
		if err := connectivity.Init(routesDB); err != nil {
			slog.Error("routes schema", "error", err)
			os.Exit(1)
		}
		if err := router.Reload(ctx, routesDB); err != nil {
			slog.Error("routes reload", "error", err)
			os.Exit(1)
		}
		go router.Watch(ctx, routesDB, 2*time.Second)
		admin = connectivity.NewAdmin(routesDB)
	}

	// MCP server on stdin/stdout.
	if mcpTransport == "stdio" {
		srv := mcp.NewServer(&mcp.Implementation{Name: "formfill", Version: "1.0.0"}, nil)
		eng.RegisterMCP(srv)
		slog.Info("mcp server starting", "transport", "stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("mcp server", "error", err)
			os.Exit(1)
		}
		return
	}

	// HTTP control surface.
	port := env("PORT", "8086")
	r := chi.NewRouter()

	r.Use(shield.HeadToGet)
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxBody(1 << 20))
	r.Use(shield.TraceID)
	if routesDB != nil {
		if err := shield.Init(routesDB); err != nil {
			slog.Error("rate limit schema", "error", err)
			os.Exit(1)
		}
		rl := shield.NewRateLimiter(routesDB, "/healthz")
		rl.StartReloader(ctx.Done())
		r.Use(rl.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if user := os.Getenv("AUTH_USER"); user != "" {
			hash := os.Getenv("AUTH_PASSWORD_HASH")
			if hash == "" {
				slog.Error("AUTH_USER is set but AUTH_PASSWORD_HASH is not")
				os.Exit(1)
			}
			r.Use(basicAuth(user, hash))
		}

		r.Post("/api/scan", func(w http.ResponseWriter, req *http.Request) {
			var in struct {
				URL    string `json:"url"`
				HTML   string `json:"html"`
				Origin string `json:"origin"`
			}
			if err := decodeBody(req, &in); err != nil {
				writeError(w, 400, err)
				return
			}
			var res engine.ScanResult
			var err error
			if in.HTML != "" {
				res, err = eng.ScanHTML(req.Context(), []byte(in.HTML), in.Origin)
			} else {
				res, err = eng.Scan(req.Context(), in.URL)
			}
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, res)
		})

		r.Post("/api/autofill", func(w http.ResponseWriter, req *http.Request) {
			callService(w, req, router, "autofill_trigger")
		})

		r.Post("/api/suggest", func(w http.ResponseWriter, req *http.Request) {
			callService(w, req, router, "suggest_field")
		})

		r.Get("/api/rules", func(w http.ResponseWriter, req *http.Request) {
			if domain := req.URL.Query().Get("domain"); domain != "" {
				writeJSON(w, 200, eng.Rules().RulesForDomain(domain))
				return
			}
			writeJSON(w, 200, eng.Rules().UserRules())
		})

		r.Post("/api/rules", func(w http.ResponseWriter, req *http.Request) {
			var in struct {
				Domain     string  `json:"domain"`
				Field      string  `json:"field"`
				Selector   string  `json:"selector"`
				Confidence float64 `json:"confidence"`
			}
			if err := decodeBody(req, &in); err != nil {
				writeError(w, 400, err)
				return
			}
			rule, err := eng.Rules().AddUserRule(req.Context(), in.Domain, in.Field, in.Selector, in.Confidence)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 201, rule)
		})

		r.Delete("/api/rules/{id}", func(w http.ResponseWriter, req *http.Request) {
			removed, err := eng.Rules().RemoveUserRule(req.Context(),
				chi.URLParam(req, "id"), req.URL.Query().Get("domain"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]bool{"removed": removed})
		})

		r.Get("/api/snippets", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, eng.Suggestions().Snippets())
		})

		r.Post("/api/snippets", func(w http.ResponseWriter, req *http.Request) {
			var in struct {
				Name        string   `json:"name"`
				Category    string   `json:"category"`
				Template    string   `json:"template"`
				Variables   []string `json:"variables"`
				Description string   `json:"description"`
			}
			if err := decodeBody(req, &in); err != nil {
				writeError(w, 400, err)
				return
			}
			sn, err := eng.Suggestions().AddSnippet(req.Context(),
				in.Name, in.Category, in.Template, in.Variables, in.Description)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 201, sn)
		})

		r.Delete("/api/snippets/{id}", func(w http.ResponseWriter, req *http.Request) {
			removed, err := eng.Suggestions().DeleteSnippet(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]bool{"removed": removed})
		})

		r.Get("/api/history", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, eng.Filler().History())
		})

		r.Post("/api/undo", func(w http.ResponseWriter, _ *http.Request) {
			undone, err := eng.Filler().UndoLast()
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]bool{"undone": undone})
		})

		r.Get("/api/profile", func(w http.ResponseWriter, req *http.Request) {
			p, err := profiles.Active(req.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, profile.Sanitize(p))
		})

		if admin != nil {
			r.Get("/api/routes", func(w http.ResponseWriter, req *http.Request) {
				rows, err := admin.ListRoutes(req.Context())
				if err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, rows)
			})

			r.Put("/api/routes/{service}", func(w http.ResponseWriter, req *http.Request) {
				var in struct {
					Strategy string          `json:"strategy"`
					Endpoint string          `json:"endpoint"`
					Config   json.RawMessage `json:"config"`
				}
				if err := decodeBody(req, &in); err != nil {
					writeError(w, 400, err)
					return
				}
				service := chi.URLParam(req, "service")
				if err := admin.UpsertRoute(req.Context(), service, in.Strategy, in.Endpoint, in.Config); err != nil {
					writeError(w, 400, err)
					return
				}
				writeJSON(w, 200, map[string]string{"service": service, "strategy": in.Strategy})
			})

			r.Delete("/api/routes/{service}", func(w http.ResponseWriter, req *http.Request) {
				if err := admin.DeleteRoute(req.Context(), chi.URLParam(req, "service")); err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, map[string]string{"status": "deleted"})
			})
		}
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
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

// runOnce drives a single page and prints the result on stdout.
func runOnce(ctx context.Context, eng *engine.Engine, pageURL string, scanOnly bool) error {
	var out any
	var err error
	if scanOnly {
		out, err = eng.Scan(ctx, pageURL)
	} else {
		out, err = eng.Autofill(ctx, pageURL)
	}
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// callService forwards the request body to a routed service and relays
// the raw JSON response. The body passes through untouched so remote
// workers see exactly what the client sent.
func callService(w http.ResponseWriter, req *http.Request, router *connectivity.Router, service string) {
	payload, err := guard.LimitedReadAll(req.Body, guard.MaxResponseBody)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	resp, err := router.Call(req.Context(), service, payload)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	w.Write(resp)
}

// --- Auth middleware ---

// basicAuth guards API routes with HTTP Basic credentials checked
// against a bcrypt hash. The hash never leaves the environment.
func basicAuth(user, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || u != user ||
				bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="formfill"`)
				writeJSON(w, 401, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func decodeBody(r *http.Request, v any) error {
	data, err := guard.LimitedReadAll(r.Body, guard.MaxResponseBody)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

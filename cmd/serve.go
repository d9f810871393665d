package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/admin"
	"github.com/sells-group/sdm-cli/internal/blob"
	"github.com/sells-group/sdm-cli/internal/catalog"
	"github.com/sells-group/sdm-cli/internal/pipeline"
	"github.com/sells-group/sdm-cli/internal/runlog"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve published results over a read-only HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cat, err := catalog.Load(cfg.Paths.Catalog)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Mirror, cat, env.Runs, cfg.Server.AllowedOrigins, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		logger.Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// api serves published results. cat and runs may be nil.
type api struct {
	store blob.Store
	cat   *catalog.Catalog
	runs  *runlog.Log
	log   *zap.Logger
}

// buildRouter wires the read-only endpoints.
func buildRouter(store blob.Store, cat *catalog.Catalog, runs *runlog.Log, origins []string, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	a := &api{store: store, cat: cat, runs: runs, log: log.With(zap.String("component", "api"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/datasets", a.listDatasets)
	r.Get("/results/{key}", a.getResult)
	r.Get("/summary", a.getBlob(pipeline.SummaryKey))
	r.Get("/admin", a.getBlob(admin.InfoKey))
	r.Get("/runs", a.listRuns)
	return r
}

func (a *api) listDatasets(w http.ResponseWriter, _ *http.Request) {
	out := []map[string]any{}
	if a.cat != nil {
		for _, ds := range a.cat.Active() {
			m := ds.Metadata()
			m["key"] = ds.Key
			out = append(out, m)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) getResult(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if a.cat != nil {
		if _, ok := a.cat.Get(key); !ok {
			writeError(w, http.StatusNotFound, "unknown dataset")
			return
		}
	}
	a.serveBlob(w, r, pipeline.ResultKey(key))
}

func (a *api) getBlob(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.serveBlob(w, r, key)
	}
}

func (a *api) serveBlob(w http.ResponseWriter, r *http.Request, key string) {
	data, err := a.store.Get(r.Context(), key)
	if errors.Is(err, blob.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		a.log.Error("read blob", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	if a.runs == nil {
		writeJSON(w, http.StatusOK, []runlog.Entry{})
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := a.runs.List(r.Context(), limit)
	if err != nil {
		a.log.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []runlog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

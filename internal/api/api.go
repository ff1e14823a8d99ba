// Package api serves stored funds and crawl controls over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/sells-group/fund-crawler/internal/config"
	"github.com/sells-group/fund-crawler/internal/crawl"
	"github.com/sells-group/fund-crawler/internal/model"
	"github.com/sells-group/fund-crawler/internal/monitoring"
)

// Reader is the read side of the store used by the API.
type Reader interface {
	ListFunds(ctx context.Context) ([]model.Fund, error)
	SearchFunds(ctx context.Context, keyword string) ([]model.Fund, error)
	ListCharts(ctx context.Context, fundCode string) ([]model.ChartPoint, error)
	ListCrawlRuns(ctx context.Context, limit int) ([]model.CrawlRun, error)
}

// Crawler starts background crawl runs.
type Crawler interface {
	Start(ctx context.Context, trigger model.CrawlTrigger, done func(*model.CrawlRun, error)) error
}

// MetricsCollector summarizes recent crawl runs.
type MetricsCollector interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

const (
	defaultCacheTTL      = time.Minute
	defaultLookbackHours = 24
)

// Server holds the API dependencies.
type Server struct {
	store   Reader
	crawler Crawler
	metrics MetricsCollector
	cache   *cache.Cache
	origins []string
	// runCtx outlives requests so on-demand runs are not cut short when
	// the POST returns.
	runCtx context.Context
}

// New creates a Server. runCtx is the parent context of on-demand runs.
func New(runCtx context.Context, st Reader, cr Crawler, cfg config.ServerConfig) *Server {
	ttl := time.Duration(cfg.CacheTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Server{
		store:   st,
		crawler: cr,
		cache:   cache.New(ttl, 2*ttl),
		origins: cfg.CORSOrigins,
		runCtx:  runCtx,
	}
}

// WithMetrics enables GET /api/crawl/metrics.
func (s *Server) WithMetrics(m MetricsCollector) *Server {
	s.metrics = m
	return s
}

// FlushCache drops every cached read. Called after each crawl run.
func (s *Server) FlushCache() {
	s.cache.Flush()
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/funds", s.listFunds)
		r.Get("/funds/search", s.searchFunds)
		r.Get("/funds/{code}/charts", s.listCharts)
		r.Post("/crawl", s.startCrawl)
		r.Get("/crawl/runs", s.listRuns)
		if s.metrics != nil {
			r.Get("/crawl/metrics", s.crawlMetrics)
		}
	})
	return r
}

func (s *Server) listFunds(w http.ResponseWriter, r *http.Request) {
	s.cached(w, "funds", func() (any, error) {
		return s.store.ListFunds(r.Context())
	})
}

func (s *Server) searchFunds(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("keyword")
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "keyword is required")
		return
	}
	s.cached(w, "search:"+keyword, func() (any, error) {
		return s.store.SearchFunds(r.Context(), keyword)
	})
}

func (s *Server) listCharts(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	s.cached(w, "charts:"+code, func() (any, error) {
		return s.store.ListCharts(r.Context(), code)
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := s.store.ListCrawlRuns(r.Context(), limit)
	if err != nil {
		zap.L().Error("api: list crawl runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

func (s *Server) crawlMetrics(w http.ResponseWriter, r *http.Request) {
	hours := defaultLookbackHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	snap, err := s.metrics.Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("api: collect metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) startCrawl(w http.ResponseWriter, _ *http.Request) {
	err := s.crawler.Start(s.runCtx, model.CrawlTriggerManual, func(run *model.CrawlRun, err error) {
		if err != nil {
			zap.L().Error("api: on-demand crawl failed", zap.Error(err))
			return
		}
		zap.L().Info("api: " + crawl.Summary(run))
	})
	switch {
	case errors.Is(err, crawl.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "crawl already running")
	case err != nil:
		zap.L().Error("api: start crawl", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "accepted",
			"trigger": string(model.CrawlTriggerManual),
		})
	}
}

// cached serves key from the cache, loading and storing it on a miss.
// Failed loads are not cached.
func (s *Server) cached(w http.ResponseWriter, key string, load func() (any, error)) {
	if v, ok := s.cache.Get(key); ok {
		writeJSON(w, http.StatusOK, v)
		return
	}
	v, err := load()
	if err != nil {
		zap.L().Error("api: load", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	v = nonNil(v)
	s.cache.SetDefault(key, v)
	writeJSON(w, http.StatusOK, v)
}

// nonNil turns nil slices into empty ones so they encode as [].
func nonNil(v any) any {
	switch t := v.(type) {
	case []model.Fund:
		if t == nil {
			return []model.Fund{}
		}
	case []model.ChartPoint:
		if t == nil {
			return []model.ChartPoint{}
		}
	case []model.CrawlRun:
		if t == nil {
			return []model.CrawlRun{}
		}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

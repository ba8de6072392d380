// internal/httpapi/handler.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"catalogsync/internal/logging"
	"catalogsync/internal/runlog"
	"catalogsync/internal/syncer"

	"github.com/agentstation/utc"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// Runner is the part of the scheduler the API drives.
type Runner interface {
	RunOnce(ctx context.Context, trigger syncer.Trigger) (syncer.Result, error)
	Status() syncer.Status
}

// RunLister serves run history.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]runlog.Run, error)
}

// Config holds the trigger endpoint settings.
type Config struct {
	Addr string `mapstructure:"addr" validate:"required"`
	// TokenHash and TokenSalt are produced by `catalogsync hash-token`. When
	// empty the endpoints are open.
	TokenHash string `mapstructure:"token_hash" validate:"required_with=TokenSalt"`
	TokenSalt string `mapstructure:"token_salt" validate:"required_with=TokenHash"`
	// RatePerMinute limits POST /sync. Zero disables the limit.
	RatePerMinute int           `mapstructure:"rate_per_minute" validate:"gte=0"`
	Burst         int           `mapstructure:"burst" validate:"gte=0"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
}

// Handler serves the sync trigger API.
type Handler struct {
	runner  Runner
	runs    RunLister
	cfg     Config
	limiter *rate.Limiter
}

// NewHandler returns a Handler. runs may be nil when history is disabled.
func NewHandler(runner Runner, runs RunLister, cfg Config) *Handler {
	h := &Handler{runner: runner, runs: runs, cfg: cfg}
	if cfg.RatePerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), burst)
	}
	if h.cfg.WaitTimeout <= 0 {
		h.cfg.WaitTimeout = 2 * time.Minute
	}
	return h
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.MethodNotAllowed(methodNotAllowed)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Route("/sync", func(r chi.Router) {
		r.MethodNotAllowed(methodNotAllowed)
		r.Use(h.authenticate)
		r.With(h.throttle).Post("/", h.handleTrigger)
		r.Get("/status", h.handleStatus)
		r.Get("/runs", h.handleRuns)
	})
	return r
}

// TriggerResponse is the body of POST /sync.
type TriggerResponse struct {
	Success   bool          `json:"success"`
	Stats     *syncer.Stats `json:"stats,omitempty"`
	RunID     string        `json:"run_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp utc.Time      `json:"timestamp"`
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.WaitTimeout)
	defer cancel()

	res, err := h.runner.RunOnce(ctx, syncer.TriggerHTTP)
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("sync trigger failed")
		writeJSON(w, http.StatusInternalServerError, TriggerResponse{
			Error:     err.Error(),
			Timestamp: utc.Now(),
		})
		return
	}
	writeJSON(w, http.StatusOK, TriggerResponse{
		Success:   res.Success(),
		Stats:     &res.Stats,
		RunID:     res.ID.String(),
		Timestamp: utc.Now(),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.Status())
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Run history disabled"})
		return
	}
	limit := runlog.DefaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	runs, err := h.runs.Recent(r.Context(), limit)
	if err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Msg("load run history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	if h.cfg.TokenHash == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if ok {
			ok, _ = VerifyToken(strings.TrimSpace(token), h.cfg.TokenSalt, h.cfg.TokenHash)
		}
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="catalogsync"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) throttle(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := h.limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context()).With().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), &log)))
		log.Info().Int("status", ww.Status()).Dur("duration", time.Since(start)).Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		logging.Default().Warn().Err(err).Msg("write response")
	}
}

// NewServer wraps the handler in an http.Server with conservative timeouts.
// The write timeout leaves room for an on-demand cycle bounded by
// cycleTimeout.
func NewServer(cfg Config, h *Handler, cycleTimeout time.Duration) *http.Server {
	if cycleTimeout <= 0 {
		cycleTimeout = syncer.DefaultCycleTimeout
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      h.cfg.WaitTimeout + cycleTimeout,
		IdleTimeout:       time.Minute,
	}
}

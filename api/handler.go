// Package api provides the fanout HTTP surface: the ingestion endpoint and a
// small operator API for the delivery log and the dead letter queue.
//
// Routes are handler-relative; the daemon mounts them under a configurable
// prefix (default: /api).
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/xraph/fanout/admission"
	"github.com/xraph/fanout/dlq"
	"github.com/xraph/fanout/store"
)

// Admitter runs admission for one ingestion request.
type Admitter interface {
	Admit(ctx context.Context, req admission.Request) admission.Decision
}

// PendingCounter reports how many jobs are waiting in the queue.
type PendingCounter interface {
	Pending(ctx context.Context) (int64, error)
}

// DefaultMaxBodyBytes caps ingestion payloads.
const DefaultMaxBodyBytes = 1 << 20

// Handler is the root HTTP handler for fanout.
type Handler struct {
	gate         Admitter
	store        store.Store
	dlqSvc       *dlq.Service
	pending      PendingCounter
	maxBodyBytes int64
	logger       *slog.Logger
	mux          *http.ServeMux
}

// NewHandler creates a new API handler. pending may be nil.
func NewHandler(
	gate Admitter,
	s store.Store,
	dlqSvc *dlq.Service,
	pending PendingCounter,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		gate:         gate,
		store:        s,
		dlqSvc:       dlqSvc,
		pending:      pending,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       logger,
		mux:          http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

// SetMaxBodyBytes overrides the ingestion payload cap.
func (h *Handler) SetMaxBodyBytes(n int64) {
	if n > 0 {
		h.maxBodyBytes = n
	}
}

func (h *Handler) registerRoutes() {
	// Ingestion
	h.mux.HandleFunc("POST /server/incoming_data", h.incomingData)

	// Delivery log
	h.mux.HandleFunc("GET /events/{id}/attempts", h.listEventAttempts)
	h.mux.HandleFunc("GET /attempts", h.listAttempts)

	// DLQ
	h.mux.HandleFunc("GET /dlq", h.listDLQ)
	h.mux.HandleFunc("GET /dlq/{id}", h.getDLQ)
	h.mux.HandleFunc("POST /dlq/{id}/replay", h.replayDLQ)
	h.mux.HandleFunc("POST /dlq/replay", h.replayBulkDLQ)
	h.mux.HandleFunc("DELETE /dlq", h.purgeDLQ)

	// Stats
	h.mux.HandleFunc("GET /stats", h.getStats)
	h.mux.HandleFunc("GET /healthz", h.healthz)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

// envelope is the body shape of ingestion responses and of every error.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a query parameter as a non-negative int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

// queryTime parses an optional RFC3339 query parameter.
func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

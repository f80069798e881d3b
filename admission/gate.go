// Package admission decides, synchronously and per request, whether an
// inbound event is accepted for fan-out.
//
// Checks short-circuit in a fixed order: required headers, credential,
// content type and body, then the account's rate limit. Only an accepted
// event is enqueued; a rejection has no side effects beyond, for the rate
// check, recording the call in the limiter window.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/fanout/account"
	"github.com/xraph/fanout/event"
	"github.com/xraph/fanout/observability"
	"github.com/xraph/fanout/queue"
	"github.com/xraph/fanout/ratelimit"
)

// Reason names why a request was accepted or rejected.
type Reason string

const (
	ReasonAccepted               Reason = "accepted"
	ReasonMissingHeaders         Reason = "missing_headers"
	ReasonAccountNotFound        Reason = "account_not_found"
	ReasonUnsupportedContentType Reason = "unsupported_content_type"
	ReasonInvalidBody            Reason = "invalid_body"
	ReasonRateLimited            Reason = "rate_limited"
	ReasonInternal               Reason = "internal"
)

// Message returns the client-facing text for a reason.
func (r Reason) Message() string {
	switch r {
	case ReasonAccepted:
		return "Data Received"
	case ReasonMissingHeaders:
		return "Missing headers"
	case ReasonAccountNotFound:
		return "Account not found"
	case ReasonUnsupportedContentType:
		return "Only application/json allowed"
	case ReasonInvalidBody:
		return "Invalid JSON body"
	case ReasonRateLimited:
		return "Rate limit exceeded"
	default:
		return "Internal server error"
	}
}

// Request is one inbound ingestion call.
type Request struct {
	Token       string
	EventID     string
	ContentType string
	Body        []byte
	ReceivedAt  time.Time
}

// Decision is the outcome of Admit.
type Decision struct {
	Accepted bool
	Reason   Reason
	Status   int

	// Rate is set whenever the limiter was consulted successfully.
	Rate *ratelimit.Result

	// Job is the enqueued job on acceptance.
	Job *queue.Job

	// Err carries the underlying failure for ReasonInternal.
	Err error
}

// Enqueuer accepts admitted events.
type Enqueuer interface {
	Enqueue(ctx context.Context, evt *event.Event) (*queue.Job, error)
}

// Config holds gate configuration.
type Config struct {
	// Limit is the maximum number of calls per Window per account.
	Limit int

	// Window is the sliding window length.
	Window time.Duration

	// FailOpen admits requests when the limiter store fails.
	FailOpen bool

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// DefaultConfig returns 5 calls per second, failing open.
func DefaultConfig() Config {
	return Config{
		Limit:    5,
		Window:   time.Second,
		FailOpen: true,
	}
}

// Gate is the admission gate.
type Gate struct {
	resolver account.Resolver
	limiter  ratelimit.Limiter
	queue    Enqueuer
	config   Config
	logger   *slog.Logger
}

// NewGate creates an admission gate.
func NewGate(resolver account.Resolver, limiter ratelimit.Limiter, q Enqueuer, cfg Config, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Gate{
		resolver: resolver,
		limiter:  limiter,
		queue:    q,
		config:   cfg,
		logger:   logger,
	}
}

// LimiterKey returns the limiter key for an account.
func LimiterKey(accountID string) string {
	return "account:" + accountID
}

// Admit runs the admission checks and, on success, enqueues the event.
func (g *Gate) Admit(ctx context.Context, req Request) Decision {
	ctx, span := g.config.Tracer.StartIngestSpan(ctx, req.EventID)
	d := g.admit(ctx, req)
	observability.EndSpan(span, d.Err)
	g.config.Metrics.RecordIngest(string(d.Reason))
	return d
}

func (g *Gate) admit(ctx context.Context, req Request) Decision {
	if strings.TrimSpace(req.Token) == "" || strings.TrimSpace(req.EventID) == "" {
		return reject(ReasonMissingHeaders, http.StatusBadRequest)
	}

	acc, err := g.resolver.ResolveByToken(ctx, req.Token)
	switch {
	case errors.Is(err, account.ErrNotFound):
		return reject(ReasonAccountNotFound, http.StatusNotFound)
	case err != nil:
		g.logger.ErrorContext(ctx, "resolve account failed", "event_id", req.EventID, "error", err)
		return internal(http.StatusInternalServerError, fmt.Errorf("admission: resolve account: %w", err))
	case acc == nil:
		return reject(ReasonAccountNotFound, http.StatusNotFound)
	}

	if !IsJSONContentType(req.ContentType) {
		return reject(ReasonUnsupportedContentType, http.StatusBadRequest)
	}
	if !json.Valid(req.Body) {
		return reject(ReasonInvalidBody, http.StatusBadRequest)
	}

	var rate *ratelimit.Result
	res, err := g.limiter.Allow(ctx, LimiterKey(acc.ID), g.config.Limit, g.config.Window)
	switch {
	case err != nil:
		g.config.Metrics.RecordLimiterError()
		if !g.config.FailOpen {
			g.logger.ErrorContext(ctx, "rate limiter failed, rejecting",
				"account_id", acc.ID, "event_id", req.EventID, "error", err)
			return internal(http.StatusServiceUnavailable, fmt.Errorf("admission: rate limiter: %w", err))
		}
		g.logger.WarnContext(ctx, "rate limiter failed, admitting",
			"account_id", acc.ID, "event_id", req.EventID, "error", err)
	case !res.Allowed:
		d := reject(ReasonRateLimited, http.StatusBadRequest)
		d.Rate = &res
		g.logger.DebugContext(ctx, "rate limited",
			"account_id", acc.ID, "event_id", req.EventID, "reset_at", res.ResetAt)
		return d
	default:
		rate = &res
	}

	evt := event.New(req.EventID, acc.ID, req.Body)
	if !req.ReceivedAt.IsZero() {
		evt.ReceivedAt = req.ReceivedAt.UTC()
	}

	job, err := g.queue.Enqueue(ctx, evt)
	if err != nil {
		g.logger.ErrorContext(ctx, "enqueue failed",
			"account_id", acc.ID, "event_id", req.EventID, "error", err)
		d := internal(http.StatusServiceUnavailable, fmt.Errorf("admission: enqueue: %w", err))
		d.Rate = rate
		return d
	}

	g.logger.DebugContext(ctx, "event admitted",
		"account_id", acc.ID, "event_id", req.EventID, "job_id", job.ID)

	return Decision{
		Accepted: true,
		Reason:   ReasonAccepted,
		Status:   http.StatusOK,
		Rate:     rate,
		Job:      job,
	}
}

// IsJSONContentType reports whether ct is application/json or a +json type.
// Parameters such as charset are ignored.
func IsJSONContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func reject(r Reason, status int) Decision {
	return Decision{Reason: r, Status: status}
}

func internal(status int, err error) Decision {
	return Decision{Reason: ReasonInternal, Status: status, Err: err}
}

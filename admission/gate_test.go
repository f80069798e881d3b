package admission_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/xraph/fanout/account"
	"github.com/xraph/fanout/admission"
	"github.com/xraph/fanout/event"
	"github.com/xraph/fanout/queue"
	queuememory "github.com/xraph/fanout/queue/memory"
	"github.com/xraph/fanout/ratelimit"
)

const testToken = "tok-123"

func resolver() account.Resolver {
	return account.ResolverFunc(func(_ context.Context, token string) (*account.Account, error) {
		if token == testToken {
			return &account.Account{ID: "acc-1", Name: "Acme", Token: testToken}, nil
		}
		return nil, account.ErrNotFound
	})
}

// countingLimiter records every call and delegates to a memory limiter.
type countingLimiter struct {
	mu    sync.Mutex
	calls int
	next  ratelimit.Limiter
	err   error
}

func (l *countingLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Result, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	if l.err != nil {
		return ratelimit.Result{}, l.err
	}
	return l.next.Allow(ctx, key, limit, window)
}

func (l *countingLimiter) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, *event.Event) (*queue.Job, error) {
	return nil, errors.New("queue down")
}

func newGate(t *testing.T, cfg admission.Config) (*admission.Gate, *countingLimiter, *queuememory.Queue) {
	t.Helper()
	lim := &countingLimiter{next: ratelimit.NewMemory()}
	q := queuememory.New()
	return admission.NewGate(resolver(), lim, q, cfg, nil), lim, q
}

func validRequest(eventID string) admission.Request {
	return admission.Request{
		Token:       testToken,
		EventID:     eventID,
		ContentType: "application/json",
		Body:        []byte(`{"order":42}`),
	}
}

func TestAdmit_Accepts(t *testing.T) {
	g, lim, q := newGate(t, admission.DefaultConfig())

	d := g.Admit(context.Background(), validRequest("evt-1"))
	if !d.Accepted {
		t.Fatalf("expected accepted, got %s", d.Reason)
	}
	if d.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", d.Status)
	}
	if d.Job == nil || d.Job.Event.ID != "evt-1" || d.Job.Event.AccountID != "acc-1" {
		t.Fatalf("unexpected job: %+v", d.Job)
	}
	if d.Rate == nil || d.Rate.Remaining != 4 {
		t.Errorf("rate = %+v, want remaining 4", d.Rate)
	}
	if lim.Calls() != 1 {
		t.Errorf("limiter calls = %d, want 1", lim.Calls())
	}
	if q.Len() != 1 {
		t.Errorf("queue len = %d, want 1", q.Len())
	}
}

func TestAdmit_MissingHeaders(t *testing.T) {
	g, lim, q := newGate(t, admission.DefaultConfig())

	for _, req := range []admission.Request{
		{EventID: "evt-1", ContentType: "application/json", Body: []byte(`{}`)},
		{Token: testToken, ContentType: "application/json", Body: []byte(`{}`)},
		{Token: "  ", EventID: "evt-1", ContentType: "application/json", Body: []byte(`{}`)},
	} {
		d := g.Admit(context.Background(), req)
		if d.Accepted || d.Reason != admission.ReasonMissingHeaders || d.Status != http.StatusBadRequest {
			t.Errorf("got %+v, want missing headers 400", d)
		}
	}
	if lim.Calls() != 0 {
		t.Errorf("limiter touched %d times", lim.Calls())
	}
	if q.Len() != 0 {
		t.Errorf("queue len = %d, want 0", q.Len())
	}
}

func TestAdmit_UnknownAccount(t *testing.T) {
	g, lim, _ := newGate(t, admission.DefaultConfig())

	req := validRequest("evt-1")
	req.Token = "nope"
	d := g.Admit(context.Background(), req)
	if d.Reason != admission.ReasonAccountNotFound || d.Status != http.StatusNotFound {
		t.Fatalf("got %s/%d, want account_not_found/404", d.Reason, d.Status)
	}
	if lim.Calls() != 0 {
		t.Error("limiter should not be consulted for an unknown account")
	}
}

func TestAdmit_ResolverError(t *testing.T) {
	lim := &countingLimiter{next: ratelimit.NewMemory()}
	res := account.ResolverFunc(func(context.Context, string) (*account.Account, error) {
		return nil, errors.New("db down")
	})
	g := admission.NewGate(res, lim, queuememory.New(), admission.DefaultConfig(), nil)

	d := g.Admit(context.Background(), validRequest("evt-1"))
	if d.Reason != admission.ReasonInternal || d.Status != http.StatusInternalServerError {
		t.Fatalf("got %s/%d, want internal/500", d.Reason, d.Status)
	}
	if d.Err == nil {
		t.Error("expected Err to be set")
	}
}

func TestAdmit_ContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"APPLICATION/JSON", true},
		{"application/vnd.api+json", true},
		{"text/plain", false},
		{"application/x-www-form-urlencoded", false},
		{"", false},
		{";;;", false},
	}
	for _, tt := range tests {
		if got := admission.IsJSONContentType(tt.ct); got != tt.want {
			t.Errorf("IsJSONContentType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}

	g, lim, _ := newGate(t, admission.DefaultConfig())
	req := validRequest("evt-1")
	req.ContentType = "text/plain"
	d := g.Admit(context.Background(), req)
	if d.Reason != admission.ReasonUnsupportedContentType || d.Status != http.StatusBadRequest {
		t.Fatalf("got %s/%d", d.Reason, d.Status)
	}
	if lim.Calls() != 0 {
		t.Error("limiter should not be consulted for a bad content type")
	}
}

func TestAdmit_InvalidBody(t *testing.T) {
	g, lim, _ := newGate(t, admission.DefaultConfig())

	for _, body := range []string{"", "{", "not json"} {
		req := validRequest("evt-1")
		req.Body = []byte(body)
		d := g.Admit(context.Background(), req)
		if d.Reason != admission.ReasonInvalidBody || d.Status != http.StatusBadRequest {
			t.Errorf("body %q: got %s/%d", body, d.Reason, d.Status)
		}
	}
	if lim.Calls() != 0 {
		t.Error("limiter should not be consulted for an invalid body")
	}
}

func TestAdmit_RateLimited(t *testing.T) {
	g, _, q := newGate(t, admission.DefaultConfig())
	ctx := context.Background()

	for i := range 5 {
		if d := g.Admit(ctx, validRequest("evt")); !d.Accepted {
			t.Fatalf("request %d rejected: %s", i+1, d.Reason)
		}
	}
	d := g.Admit(ctx, validRequest("evt-6"))
	if d.Accepted || d.Reason != admission.ReasonRateLimited || d.Status != http.StatusBadRequest {
		t.Fatalf("got %+v, want rate_limited 400", d)
	}
	if d.Rate == nil || d.Rate.Allowed || d.Rate.Remaining != 0 || d.Rate.Limit != 5 {
		t.Errorf("rate = %+v", d.Rate)
	}
	if q.Len() != 5 {
		t.Errorf("queue len = %d, want 5", q.Len())
	}
}

func TestAdmit_LimiterFailOpen(t *testing.T) {
	lim := &countingLimiter{err: errors.New("redis down")}
	q := queuememory.New()
	g := admission.NewGate(resolver(), lim, q, admission.DefaultConfig(), nil)

	d := g.Admit(context.Background(), validRequest("evt-1"))
	if !d.Accepted {
		t.Fatalf("fail-open should admit, got %s", d.Reason)
	}
	if d.Rate != nil {
		t.Error("rate should be nil when the limiter failed")
	}
	if q.Len() != 1 {
		t.Errorf("queue len = %d, want 1", q.Len())
	}
}

func TestAdmit_LimiterFailClosed(t *testing.T) {
	lim := &countingLimiter{err: errors.New("redis down")}
	q := queuememory.New()
	cfg := admission.DefaultConfig()
	cfg.FailOpen = false
	g := admission.NewGate(resolver(), lim, q, cfg, nil)

	d := g.Admit(context.Background(), validRequest("evt-1"))
	if d.Accepted || d.Status != http.StatusServiceUnavailable {
		t.Fatalf("got %+v, want 503 rejection", d)
	}
	if q.Len() != 0 {
		t.Errorf("queue len = %d, want 0", q.Len())
	}
}

func TestAdmit_EnqueueFailure(t *testing.T) {
	lim := &countingLimiter{next: ratelimit.NewMemory()}
	g := admission.NewGate(resolver(), lim, failingQueue{}, admission.DefaultConfig(), nil)

	d := g.Admit(context.Background(), validRequest("evt-1"))
	if d.Accepted || d.Reason != admission.ReasonInternal || d.Status != http.StatusServiceUnavailable {
		t.Fatalf("got %+v, want internal 503", d)
	}
	if d.Err == nil {
		t.Error("expected Err to be set")
	}
}

func TestAdmit_ReceivedAt(t *testing.T) {
	g, _, _ := newGate(t, admission.DefaultConfig())

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	req := validRequest("evt-1")
	req.ReceivedAt = at
	d := g.Admit(context.Background(), req)
	if !d.Accepted {
		t.Fatal(d.Reason)
	}
	if !d.Job.Event.ReceivedAt.Equal(at) {
		t.Errorf("ReceivedAt = %v, want %v", d.Job.Event.ReceivedAt, at)
	}
}

func TestReasonMessage(t *testing.T) {
	if got := admission.ReasonAccepted.Message(); got != "Data Received" {
		t.Errorf("accepted message = %q", got)
	}
	if got := admission.ReasonRateLimited.Message(); got == "" {
		t.Error("rate limited message empty")
	}
}

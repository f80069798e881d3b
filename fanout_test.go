package fanout_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/fanout"
	"github.com/xraph/fanout/account"
	"github.com/xraph/fanout/admission"
	"github.com/xraph/fanout/api"
	"github.com/xraph/fanout/deliverylog"
	"github.com/xraph/fanout/destination"
	"github.com/xraph/fanout/dlq"
	"github.com/xraph/fanout/queue"
	queuememory "github.com/xraph/fanout/queue/memory"
	"github.com/xraph/fanout/ratelimit"
	"github.com/xraph/fanout/store/memory"
)

const token = "tok-acme"

func ctx() context.Context { return context.Background() }

func memoryQueue(opts ...queue.Option) (queue.Queue, error) {
	return queuememory.New(opts...), nil
}

func setup(t *testing.T, opts ...fanout.Option) (*fanout.Fanout, *memory.Store) {
	t.Helper()
	s := memory.New()
	s.PutAccount(&account.Account{ID: "acc-1", Name: "Acme", Token: token})

	base := []fanout.Option{
		fanout.WithStore(s),
		fanout.WithQueue(memoryQueue),
		fanout.WithPollInterval(10 * time.Millisecond),
		fanout.WithRetryPolicy(queue.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}),
	}
	f, err := fanout.New(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	f.Start(ctx())
	t.Cleanup(func() { f.Stop(ctx()) }) //nolint:errcheck // test cleanup
	return f, s
}

func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func okServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-EVENT-ID") == "" {
			t.Error("missing X-EVENT-ID header")
		}
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func statusCounts(t *testing.T, s *memory.Store, eventID string) map[deliverylog.Status]int {
	t.Helper()
	rows, err := s.ListByEvent(ctx(), eventID)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[deliverylog.Status]int)
	for _, r := range rows {
		out[r.Status]++
	}
	return out
}

func post(t *testing.T, url, eventID string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx(), http.MethodPost, url+"/server/incoming_data", bytes.NewBufferString(`{"n":1}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(api.HeaderToken, token)
	req.Header.Set(api.HeaderEventID, eventID)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func TestNewRequiresStoreAndQueue(t *testing.T) {
	if _, err := fanout.New(fanout.WithQueue(memoryQueue)); !errors.Is(err, fanout.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
	if _, err := fanout.New(fanout.WithStore(memory.New())); !errors.Is(err, fanout.ErrNoQueue) {
		t.Fatalf("expected ErrNoQueue, got %v", err)
	}
	boom := errors.New("boom")
	_, err := fanout.New(fanout.WithStore(memory.New()), fanout.WithQueue(func(...queue.Option) (queue.Queue, error) {
		return nil, boom
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
}

func TestEndToEnd_RateLimitAndFanout(t *testing.T) {
	var hits atomic.Int32
	d1 := okServer(t, &hits)

	f, s := setup(t)
	s.PutDestination(&destination.Destination{AccountID: "acc-1", URL: d1.URL})
	s.PutDestination(&destination.Destination{AccountID: "acc-1", URL: deadURL(t)})

	srv := httptest.NewServer(api.NewHandler(f.Gate(), f.Store(), f.DLQ(), f.Queue(), nil))
	defer srv.Close()

	var accepted, limited int
	for i := range 6 {
		resp := post(t, srv.URL, "evt-"+strconv.Itoa(i))
		switch resp.StatusCode {
		case http.StatusOK:
			accepted++
		case http.StatusBadRequest:
			limited++
			if resp.Header.Get(api.HeaderRateRemaining) != "0" {
				t.Errorf("rate limited response remaining = %q", resp.Header.Get(api.HeaderRateRemaining))
			}
		default:
			t.Fatalf("request %d: unexpected status %d", i, resp.StatusCode)
		}
	}
	if accepted != 5 || limited != 1 {
		t.Fatalf("accepted=%d limited=%d, want 5/1", accepted, limited)
	}

	for i := range 5 {
		eventID := "evt-" + strconv.Itoa(i)
		waitFor(t, eventID+" terminal rows", func() bool {
			c := statusCounts(t, s, eventID)
			return c[deliverylog.StatusSuccess] == 1 && c[deliverylog.StatusFailed] == 1
		})
		c := statusCounts(t, s, eventID)
		if c[deliverylog.StatusProcessing] != 1 {
			t.Errorf("%s: processing rows = %d, want 1", eventID, c[deliverylog.StatusProcessing])
		}
	}
	if c := statusCounts(t, s, "evt-5"); len(c) != 0 {
		t.Errorf("rate limited event has rows: %v", c)
	}
	if hits.Load() != 5 {
		t.Errorf("destination hits = %d, want 5", hits.Load())
	}
}

func TestEndToEnd_ZeroDestinations(t *testing.T) {
	f, s := setup(t)

	d := f.Ingest(ctx(), admission.Request{
		Token: token, EventID: "evt-lonely", ContentType: "application/json", Body: []byte(`{}`),
	})
	if !d.Accepted {
		t.Fatalf("rejected: %s", d.Reason)
	}

	waitFor(t, "processing row", func() bool {
		return statusCounts(t, s, "evt-lonely")[deliverylog.StatusProcessing] == 1
	})
	waitFor(t, "job acked", func() bool {
		n, _ := f.Queue().Pending(ctx())
		return n == 0 && f.Queue().(*queuememory.Queue).Len() == 0
	})
	if c := statusCounts(t, s, "evt-lonely"); len(c) != 1 {
		t.Errorf("expected only a processing row, got %v", c)
	}
}

type countingLimiter struct {
	calls atomic.Int32
	next  ratelimit.Limiter
}

func (l *countingLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Result, error) {
	l.calls.Add(1)
	return l.next.Allow(ctx, key, limit, window)
}

func TestEndToEnd_MissingCredential(t *testing.T) {
	lim := &countingLimiter{next: ratelimit.NewMemory()}
	f, s := setup(t, fanout.WithLimiter(lim))

	d := f.Ingest(ctx(), admission.Request{
		EventID: "evt-anon", ContentType: "application/json", Body: []byte(`{}`),
	})
	if d.Accepted || d.Status != http.StatusBadRequest {
		t.Fatalf("got %+v, want 400", d)
	}
	if lim.calls.Load() != 0 {
		t.Errorf("limiter called %d times", lim.calls.Load())
	}

	time.Sleep(50 * time.Millisecond)
	rows, err := s.ListAttempts(ctx(), deliverylog.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

// onceFailingLister fails the first n lookups.
type onceFailingLister struct {
	mu    sync.Mutex
	fails int
	next  destination.Lister
}

func (l *onceFailingLister) ListDestinations(ctx context.Context, accountID string) ([]*destination.Destination, error) {
	l.mu.Lock()
	if l.fails > 0 {
		l.fails--
		l.mu.Unlock()
		return nil, errors.New("directory unavailable")
	}
	l.mu.Unlock()
	return l.next.ListDestinations(ctx, accountID)
}

func TestEndToEnd_RetryDuplicatesProcessingRows(t *testing.T) {
	var hits atomic.Int32
	d1 := okServer(t, &hits)

	s := memory.New()
	s.PutAccount(&account.Account{ID: "acc-1", Token: token})
	s.PutDestination(&destination.Destination{AccountID: "acc-1", URL: d1.URL})

	lister := &onceFailingLister{fails: 1, next: s}
	f, err := fanout.New(
		fanout.WithStore(s),
		fanout.WithQueue(memoryQueue),
		fanout.WithLister(lister),
		fanout.WithCacheTTL(0),
		fanout.WithPollInterval(10*time.Millisecond),
		fanout.WithRetryPolicy(queue.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}),
	)
	if err != nil {
		t.Fatal(err)
	}
	f.Start(ctx())
	defer f.Stop(ctx()) //nolint:errcheck // test cleanup

	d := f.Ingest(ctx(), admission.Request{
		Token: token, EventID: "evt-retry", ContentType: "application/json", Body: []byte(`{}`),
	})
	if !d.Accepted {
		t.Fatal(d.Reason)
	}

	waitFor(t, "success row", func() bool {
		return statusCounts(t, s, "evt-retry")[deliverylog.StatusSuccess] == 1
	})
	c := statusCounts(t, s, "evt-retry")
	if c[deliverylog.StatusProcessing] != 2 {
		t.Errorf("processing rows = %d, want 2", c[deliverylog.StatusProcessing])
	}
}

func TestEndToEnd_ExhaustedJobIsDeadLetteredAndReplayed(t *testing.T) {
	var hits atomic.Int32
	d1 := okServer(t, &hits)

	s := memory.New()
	s.PutAccount(&account.Account{ID: "acc-1", Token: token})
	s.PutDestination(&destination.Destination{AccountID: "acc-1", URL: d1.URL})

	lister := &onceFailingLister{fails: 2, next: s}
	f, err := fanout.New(
		fanout.WithStore(s),
		fanout.WithQueue(memoryQueue),
		fanout.WithLister(lister),
		fanout.WithCacheTTL(0),
		fanout.WithPollInterval(10*time.Millisecond),
		fanout.WithRetryPolicy(queue.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}),
	)
	if err != nil {
		t.Fatal(err)
	}
	f.Start(ctx())
	defer f.Stop(ctx()) //nolint:errcheck // test cleanup

	f.Ingest(ctx(), admission.Request{
		Token: token, EventID: "evt-dead", ContentType: "application/json", Body: []byte(`{}`),
	})

	var entries []*dlq.Entry
	waitFor(t, "dlq entry", func() bool {
		entries, _ = f.DLQ().List(ctx(), dlq.ListOpts{})
		return len(entries) == 1
	})
	if entries[0].EventID != "evt-dead" || entries[0].AttemptCount != 2 {
		t.Errorf("unexpected entry: %+v", entries[0])
	}

	if _, err := f.DLQ().Replay(ctx(), entries[0].ID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "replayed delivery", func() bool {
		return statusCounts(t, s, "evt-dead")[deliverylog.StatusSuccess] == 1
	})
	if _, err := f.DLQ().Replay(ctx(), entries[0].ID); !errors.Is(err, fanout.ErrAlreadyReplayed) {
		t.Errorf("second replay: expected ErrAlreadyReplayed, got %v", err)
	}
}

func TestStopIsIdempotentWithQueueClosed(t *testing.T) {
	f, _ := setup(t)
	if err := f.Stop(ctx()); err != nil {
		t.Fatal(err)
	}
	d := f.Ingest(ctx(), admission.Request{
		Token: token, EventID: "evt-late", ContentType: "application/json", Body: []byte(`{}`),
	})
	if d.Accepted || d.Status != http.StatusServiceUnavailable {
		t.Fatalf("got %+v, want 503 after stop", d)
	}
}

func TestEndToEnd_RemovedDestinationStopsImmediately(t *testing.T) {
	var keptHits, removedHits atomic.Int32
	kept := okServer(t, &keptHits)
	removed := okServer(t, &removedHits)

	f, s := setup(t)
	s.PutDestination(&destination.Destination{AccountID: "acc-1", URL: kept.URL})
	s.PutDestination(&destination.Destination{AccountID: "acc-1", URL: removed.URL})

	ingest := func(eventID string) {
		d := f.Ingest(ctx(), admission.Request{
			Token: token, EventID: eventID, ContentType: "application/json", Body: []byte(`{}`),
		})
		if !d.Accepted {
			t.Fatalf("%s rejected: %s", eventID, d.Reason)
		}
	}

	ingest("evt-before")
	waitFor(t, "both destinations called", func() bool {
		return statusCounts(t, s, "evt-before")[deliverylog.StatusSuccess] == 2
	})

	dests, err := s.ListDestinations(ctx(), "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	var removedID int64
	for _, d := range dests {
		if d.URL == removed.URL {
			removedID = d.ID
		}
	}
	s.RemoveDestination("acc-1", removedID)

	ingest("evt-after")
	waitFor(t, "remaining destination called", func() bool {
		return statusCounts(t, s, "evt-after")[deliverylog.StatusSuccess] == 1
	})
	waitFor(t, "job acked", func() bool {
		return f.Queue().(*queuememory.Queue).Len() == 0
	})

	rows, err := s.ListByEvent(ctx(), "evt-after")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.DestinationID != nil && *r.DestinationID == removedID {
			t.Errorf("removed destination got a %s row", r.Status)
		}
	}
	if removedHits.Load() != 1 {
		t.Errorf("removed destination hits = %d, want 1", removedHits.Load())
	}
	if keptHits.Load() != 2 {
		t.Errorf("kept destination hits = %d, want 2", keptHits.Load())
	}
}

func TestEndToEnd_DestinationCacheInvalidation(t *testing.T) {
	var hits atomic.Int32
	d1 := okServer(t, &hits)

	f, s := setup(t, fanout.WithDestinationCacheTTL(time.Minute))
	s.PutDestination(&destination.Destination{AccountID: "acc-1", URL: d1.URL})

	f.Ingest(ctx(), admission.Request{
		Token: token, EventID: "evt-warm", ContentType: "application/json", Body: []byte(`{}`),
	})
	waitFor(t, "first delivery", func() bool {
		return statusCounts(t, s, "evt-warm")[deliverylog.StatusSuccess] == 1
	})

	dests, _ := s.ListDestinations(ctx(), "acc-1")
	s.RemoveDestination("acc-1", dests[0].ID)
	f.InvalidateDestinations("acc-1")

	f.Ingest(ctx(), admission.Request{
		Token: token, EventID: "evt-cold", ContentType: "application/json", Body: []byte(`{}`),
	})
	waitFor(t, "processing row", func() bool {
		return statusCounts(t, s, "evt-cold")[deliverylog.StatusProcessing] == 1
	})
	waitFor(t, "job acked", func() bool {
		return f.Queue().(*queuememory.Queue).Len() == 0
	})
	if c := statusCounts(t, s, "evt-cold"); c[deliverylog.StatusSuccess] != 0 {
		t.Errorf("invalidated destination still called: %v", c)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

package dispatch_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/fanout/destination"
	"github.com/xraph/fanout/dispatch"
	"github.com/xraph/fanout/event"
)

func newTestEvent() *event.Event {
	return event.New("evt-1", "acc-1", []byte(`{"hello":"world"}`))
}

func TestSenderHappyPath(t *testing.T) {
	var (
		receivedHeaders http.Header
		receivedBody    string
		receivedMethod  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		receivedMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		receivedBody = string(b)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sender := dispatch.NewSender(5 * time.Second)
	dest := &destination.Destination{
		ID:      1,
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer abc", "X-EVENT-ID": "spoofed"},
	}

	res := sender.Send(context.Background(), dest, newTestEvent())

	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if !res.Delivered() {
		t.Fatalf("expected delivered, error %q", res.Error)
	}
	if res.Response != `{"ok":true}` {
		t.Fatalf("response = %q", res.Response)
	}
	if receivedMethod != http.MethodPost {
		t.Fatalf("method = %s, want POST", receivedMethod)
	}
	if receivedBody != `{"hello":"world"}` {
		t.Fatalf("body = %q", receivedBody)
	}
	if got := receivedHeaders.Get("X-EVENT-ID"); got != "evt-1" {
		t.Fatalf("X-EVENT-ID = %q, want evt-1", got)
	}
	if got := receivedHeaders.Get("Authorization"); got != "Bearer abc" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestSenderCustomMethod(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	defer srv.Close()

	dest := &destination.Destination{ID: 1, URL: srv.URL, Method: "put"}
	dispatch.NewSender(time.Second).Send(context.Background(), dest, newTestEvent())

	if method != http.MethodPut {
		t.Fatalf("method = %s, want PUT", method)
	}
}

func TestSenderErrorStatusIsDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := dispatch.NewSender(time.Second).Send(context.Background(), &destination.Destination{URL: srv.URL}, newTestEvent())
	if !res.Delivered() {
		t.Fatal("any HTTP status should count as delivered")
	}
	if res.StatusCode != 500 {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestSenderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := dispatch.NewSender(time.Second).Send(context.Background(), &destination.Destination{URL: url}, newTestEvent())
	if res.Delivered() {
		t.Fatal("closed server should not count as delivered")
	}
	if res.Error == "" {
		t.Fatal("expected transport error text")
	}
}

func TestSenderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := dispatch.NewSender(50*time.Millisecond).Send(context.Background(), &destination.Destination{URL: srv.URL}, newTestEvent())
	if res.Delivered() {
		t.Fatal("timed out call should not count as delivered")
	}
}

func TestSenderTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nshort")
		buf.Flush()
	}))
	defer srv.Close()

	res := dispatch.NewSender(time.Second).Send(context.Background(), &destination.Destination{URL: srv.URL}, newTestEvent())
	if !res.Delivered() {
		t.Fatalf("a received status counts as delivered, error %q", res.Error)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if res.BodyError == "" {
		t.Fatal("expected the body read error to be recorded")
	}
}

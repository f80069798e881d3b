package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xraph/fanout/destination"
	"github.com/xraph/fanout/event"
)

// EventIDHeader carries the event id on every outbound call.
const EventIDHeader = "X-EVENT-ID"

const maxResponseBody = 1024 // 1KB cap on response body storage

// Result holds the outcome of a single destination call.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int

	// BodyError is set when the response body could not be read in full.
	// The call still counts as delivered.
	BodyError string
}

// Delivered reports whether the call completed at the transport level.
// Any HTTP status counts.
func (r Result) Delivered() bool {
	return r.Error == "" && r.StatusCode != 0
}

// Sender performs HTTP calls to destinations.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// NewSenderWithClient creates a sender using a caller-supplied client.
func NewSenderWithClient(client *http.Client) *Sender {
	return &Sender{client: client}
}

// Send delivers evt's payload to dest and returns the result. Transport
// failures and timeouts are reported in Result.Error, never as a Go error.
func (s *Sender) Send(ctx context.Context, dest *destination.Destination, evt *event.Event) Result {
	req, err := http.NewRequestWithContext(ctx, dest.EffectiveMethod(), dest.URL, bytes.NewReader(evt.Payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fanout/1.0")

	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}

	// Set last so a destination header cannot override it.
	req.Header.Set(EventIDHeader, evt.ID)

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G107: destination URLs are tenant-configured.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	res := Result{
		StatusCode: resp.StatusCode,
		LatencyMs:  int(latency),
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		res.BodyError = fmt.Sprintf("read response body: %v", err)
	}
	res.Response = string(respBody)
	return res
}

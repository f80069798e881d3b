// Package destination defines the registered HTTP endpoints an account's
// events are fanned out to.
package destination

import (
	"context"
	"net/http"
	"strings"
)

// DefaultMethod is used when a destination has no method configured.
const DefaultMethod = http.MethodPost

// Destination is a registered HTTP endpoint receiving copies of an account's events.
type Destination struct {
	// ID is the numeric destination identifier.
	ID int64 `json:"id"`

	// AccountID identifies the owning account.
	AccountID string `json:"account_id"`

	// URL is the delivery URL.
	URL string `json:"url"`

	// Method is the HTTP method used for delivery. Empty means POST.
	Method string `json:"method"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`
}

// EffectiveMethod returns the upper-cased method, defaulting to POST.
func (d *Destination) EffectiveMethod() string {
	m := strings.TrimSpace(d.Method)
	if m == "" {
		return DefaultMethod
	}
	return strings.ToUpper(m)
}

// Lister returns the destination snapshot for an account.
// An empty, non-nil-error result is valid.
type Lister interface {
	ListDestinations(ctx context.Context, accountID string) ([]*Destination, error)
}

// ListerFunc adapts a plain function to the Lister interface.
type ListerFunc func(ctx context.Context, accountID string) ([]*Destination, error)

// ListDestinations calls f(ctx, accountID).
func (f ListerFunc) ListDestinations(ctx context.Context, accountID string) ([]*Destination, error) {
	return f(ctx, accountID)
}

// Package account defines the tenant view consumed by the admission gate.
//
// Accounts are owned by an external CRUD layer; fanout only resolves them by
// their secret credential.
package account

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Resolver when no account matches a credential.
var ErrNotFound = errors.New("fanout: account not found")

// Account is a tenant identified by a stable ID and a secret ingestion token.
type Account struct {
	// ID is the stable account identifier.
	ID string `json:"account_id"`

	// Name is the human-readable account name.
	Name string `json:"account_name"`

	// Token is the secret credential presented on ingestion. Never serialized.
	Token string `json:"-"`

	// Website is an optional informational URL.
	Website string `json:"website,omitempty"`
}

// Resolver resolves an account by its secret credential.
//
// Implementations return ErrNotFound when no account matches.
type Resolver interface {
	ResolveByToken(ctx context.Context, token string) (*Account, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(ctx context.Context, token string) (*Account, error)

// ResolveByToken calls f(ctx, token).
func (f ResolverFunc) ResolveByToken(ctx context.Context, token string) (*Account, error) {
	return f(ctx, token)
}

// Package memory provides an in-memory Store implementation for unit testing
// and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/fanout"
	"github.com/xraph/fanout/account"
	"github.com/xraph/fanout/deliverylog"
	"github.com/xraph/fanout/destination"
	"github.com/xraph/fanout/dlq"
	"github.com/xraph/fanout/id"
	fanoutstore "github.com/xraph/fanout/store"
)

// compile-time interface check.
var _ fanoutstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	accountsByToken map[string]*account.Account
	destinations    map[string][]*destination.Destination // keyed by account ID
	nextDestID      int64
	attempts        []*deliverylog.Attempt
	attemptsByEvent map[string][]*deliverylog.Attempt
	dlqEntries      map[string]*dlq.Entry // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		accountsByToken: make(map[string]*account.Account),
		destinations:    make(map[string][]*destination.Destination),
		attemptsByEvent: make(map[string][]*deliverylog.Attempt),
		dlqEntries:      make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fanout.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Directory seeding
// ──────────────────────────────────────────────────

// PutAccount registers or replaces an account, indexed by its token.
func (s *Store) PutAccount(acc *account.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, existing := range s.accountsByToken {
		if existing.ID == acc.ID && token != acc.Token {
			delete(s.accountsByToken, token)
		}
	}
	s.accountsByToken[acc.Token] = acc
}

// PutDestination registers a destination, assigning an ID when zero.
func (s *Store) PutDestination(d *destination.Destination) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == 0 {
		s.nextDestID++
		d.ID = s.nextDestID
	} else if d.ID > s.nextDestID {
		s.nextDestID = d.ID
	}

	list := s.destinations[d.AccountID]
	for i, existing := range list {
		if existing.ID == d.ID {
			list[i] = d
			return
		}
	}
	s.destinations[d.AccountID] = append(list, d)
}

// RemoveDestination deletes a destination by ID.
func (s *Store) RemoveDestination(accountID string, destID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.destinations[accountID]
	for i, d := range list {
		if d.ID == destID {
			s.destinations[accountID] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// ──────────────────────────────────────────────────
// account.Resolver / destination.Lister
// ──────────────────────────────────────────────────

// ResolveByToken returns the account holding token.
func (s *Store) ResolveByToken(_ context.Context, token string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accountsByToken[token]
	if !ok {
		return nil, fanout.ErrAccountNotFound
	}
	return acc, nil
}

// ListDestinations returns a snapshot of an account's destinations.
func (s *Store) ListDestinations(_ context.Context, accountID string) ([]*destination.Destination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.destinations[accountID]
	out := make([]*destination.Destination, len(list))
	copy(out, list)
	return out, nil
}

// ──────────────────────────────────────────────────
// deliverylog.Store
// ──────────────────────────────────────────────────

// AppendAttempt appends a delivery log row.
func (s *Store) AppendAttempt(_ context.Context, a *deliverylog.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fanout.ErrStoreClosed
	}
	s.attempts = append(s.attempts, a)
	s.attemptsByEvent[a.EventID] = append(s.attemptsByEvent[a.EventID], a)
	return nil
}

// ListByEvent returns every row for an event in append order.
func (s *Store) ListByEvent(_ context.Context, eventID string) ([]*deliverylog.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.attemptsByEvent[eventID]
	out := make([]*deliverylog.Attempt, len(rows))
	copy(out, rows)
	return out, nil
}

// ListAttempts returns rows matching opts, newest first.
func (s *Store) ListAttempts(_ context.Context, opts deliverylog.ListOpts) ([]*deliverylog.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*deliverylog.Attempt, 0)
	for i := len(s.attempts) - 1; i >= 0; i-- {
		if opts.Match(s.attempts[i]) {
			result = append(result, s.attempts[i])
		}
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountByStatus returns the number of rows per status.
func (s *Store) CountByStatus(_ context.Context) (map[deliverylog.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[deliverylog.Status]int64)
	for _, a := range s.attempts {
		counts[a.Status]++
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// Push records an exhausted job.
func (s *Store) Push(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlqEntries[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries, newest first.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, e := range s.dlqEntries {
		if opts.Match(e) {
			result = append(result, e)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.After(result[j].FailedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, fanout.ErrDLQNotFound
	}
	return e, nil
}

// MarkReplayed stamps ReplayedAt on an entry.
func (s *Store) MarkReplayed(_ context.Context, dlqID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return fanout.ErrDLQNotFound
	}
	e.ReplayedAt = &at
	e.Touch()
	return nil
}

// Purge deletes DLQ entries that failed before a threshold.
func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.dlqEntries {
		if e.FailedAt.Before(before) {
			delete(s.dlqEntries, k)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.dlqEntries)), nil
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset > 0 {
		return items[:0]
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}

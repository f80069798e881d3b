package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/xraph/fanout"
	"github.com/xraph/fanout/account"
	"github.com/xraph/fanout/destination"
)

// PutAccount registers or replaces an account. A previous token held by the
// same account stops resolving.
func (s *Store) PutAccount(ctx context.Context, acc *account.Account) error {
	idKey := entityKey(prefixAccountID, acc.ID)

	old, err := s.rdb.Get(ctx, idKey).Result()
	if err != nil && !isRedisNil(err) {
		return fmt.Errorf("fanout/redis: put account: %w", err)
	}

	raw, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("fanout/redis: marshal account: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	if old != "" && old != acc.Token {
		pipe.Del(ctx, entityKey(prefixAccountToken, old))
	}
	pipe.Set(ctx, entityKey(prefixAccountToken, acc.Token), raw, 0)
	pipe.Set(ctx, idKey, acc.Token, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fanout/redis: put account: %w", err)
	}
	return nil
}

// PutDestination registers a destination, assigning an ID when zero.
func (s *Store) PutDestination(ctx context.Context, d *destination.Destination) error {
	if d.ID == 0 {
		next, err := s.rdb.Incr(ctx, seqDestination).Result()
		if err != nil {
			return fmt.Errorf("fanout/redis: next destination id: %w", err)
		}
		d.ID = next
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("fanout/redis: marshal destination: %w", err)
	}

	field := strconv.FormatInt(d.ID, 10)
	if err := s.rdb.HSet(ctx, entityKey(prefixDestinations, d.AccountID), field, raw).Err(); err != nil {
		return fmt.Errorf("fanout/redis: put destination: %w", err)
	}
	return nil
}

// RemoveDestination deletes a destination by ID.
func (s *Store) RemoveDestination(ctx context.Context, accountID string, destID int64) error {
	field := strconv.FormatInt(destID, 10)
	if err := s.rdb.HDel(ctx, entityKey(prefixDestinations, accountID), field).Err(); err != nil {
		return fmt.Errorf("fanout/redis: remove destination: %w", err)
	}
	return nil
}

// ResolveByToken returns the account holding token.
func (s *Store) ResolveByToken(ctx context.Context, token string) (*account.Account, error) {
	var acc account.Account
	if err := s.getEntity(ctx, entityKey(prefixAccountToken, token), &acc); err != nil {
		if isRedisNil(err) {
			return nil, fanout.ErrAccountNotFound
		}
		return nil, fmt.Errorf("fanout/redis: resolve account: %w", err)
	}
	acc.Token = token
	return &acc, nil
}

// ListDestinations returns an account's destinations ordered by ID.
func (s *Store) ListDestinations(ctx context.Context, accountID string) ([]*destination.Destination, error) {
	fields, err := s.rdb.HGetAll(ctx, entityKey(prefixDestinations, accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("fanout/redis: list destinations: %w", err)
	}

	result := make([]*destination.Destination, 0, len(fields))
	for _, raw := range fields {
		var d destination.Destination
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("fanout/redis: decode destination: %w", err)
		}
		result = append(result, &d)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

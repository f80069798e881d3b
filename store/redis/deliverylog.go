package redis

import (
	"context"
	"fmt"
	"math"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/fanout/deliverylog"
)

// AppendAttempt stores a delivery log row and updates its indexes.
func (s *Store) AppendAttempt(ctx context.Context, a *deliverylog.Attempt) error {
	attID := a.ID.String()
	if err := s.setEntity(ctx, entityKey(prefixAttempt, attID), a); err != nil {
		return fmt.Errorf("fanout/redis: append attempt: %w", err)
	}

	score := scoreFromTime(a.CreatedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zAttemptAll, goredis.Z{Score: score, Member: attID})
	pipe.ZAdd(ctx, zAttemptEvent+a.EventID, goredis.Z{Score: score, Member: attID})
	pipe.HIncrBy(ctx, hAttemptStatus, string(a.Status), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fanout/redis: append attempt indexes: %w", err)
	}
	return nil
}

// ListByEvent returns every row for an event in append order.
func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]*deliverylog.Attempt, error) {
	ids, err := s.rdb.ZRange(ctx, zAttemptEvent+eventID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("fanout/redis: list by event: %w", err)
	}

	result := make([]*deliverylog.Attempt, 0, len(ids))
	for _, attID := range ids {
		a, err := s.getAttempt(ctx, attID)
		if err != nil {
			return nil, err
		}
		if a != nil {
			result = append(result, a)
		}
	}
	return result, nil
}

// ListAttempts returns rows matching opts, newest first.
func (s *Store) ListAttempts(ctx context.Context, opts deliverylog.ListOpts) ([]*deliverylog.Attempt, error) {
	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if opts.From != nil {
		minScore = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		maxScore = scoreFromTime(*opts.To)
	}

	ids, err := s.zRangeByScoreIDs(ctx, zAttemptAll, minScore, maxScore)
	if err != nil {
		return nil, fmt.Errorf("fanout/redis: list attempts: %w", err)
	}

	result := make([]*deliverylog.Attempt, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		a, err := s.getAttempt(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		if a != nil && opts.Match(a) {
			result = append(result, a)
		}
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountByStatus returns the number of rows per status.
func (s *Store) CountByStatus(ctx context.Context) (map[deliverylog.Status]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, hAttemptStatus).Result()
	if err != nil {
		return nil, fmt.Errorf("fanout/redis: count by status: %w", err)
	}

	counts := make(map[deliverylog.Status]int64, len(raw))
	for status, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("fanout/redis: count by status: %w", err)
		}
		counts[deliverylog.Status(status)] = n
	}
	return counts, nil
}

// getAttempt loads one row. A missing key yields nil, nil.
func (s *Store) getAttempt(ctx context.Context, attID string) (*deliverylog.Attempt, error) {
	var a deliverylog.Attempt
	if err := s.getEntity(ctx, entityKey(prefixAttempt, attID), &a); err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fanout/redis: get attempt: %w", err)
	}
	return &a, nil
}

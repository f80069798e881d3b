package redis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/fanout"
	"github.com/xraph/fanout/dlq"
	"github.com/xraph/fanout/id"
)

// Push records an exhausted job.
func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	entryID := entry.ID.String()
	if err := s.setEntity(ctx, entityKey(prefixDLQ, entryID), entry); err != nil {
		return fmt.Errorf("fanout/redis: push dlq: %w", err)
	}

	err := s.rdb.ZAdd(ctx, zDLQAll, goredis.Z{Score: scoreFromTime(entry.FailedAt), Member: entryID}).Err()
	if err != nil {
		return fmt.Errorf("fanout/redis: push dlq indexes: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if opts.From != nil {
		minScore = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		maxScore = scoreFromTime(*opts.To)
	}

	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, minScore, maxScore)
	if err != nil {
		return nil, fmt.Errorf("fanout/redis: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var e dlq.Entry
		if err := s.getEntity(ctx, entityKey(prefixDLQ, ids[i]), &e); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("fanout/redis: list dlq: %w", err)
		}
		if opts.Match(&e) {
			result = append(result, &e)
		}
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var e dlq.Entry
	if err := s.getEntity(ctx, entityKey(prefixDLQ, dlqID.String()), &e); err != nil {
		if isRedisNil(err) {
			return nil, fanout.ErrDLQNotFound
		}
		return nil, fmt.Errorf("fanout/redis: get dlq: %w", err)
	}
	return &e, nil
}

// MarkReplayed stamps ReplayedAt on an entry.
func (s *Store) MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error {
	e, err := s.GetDLQ(ctx, dlqID)
	if err != nil {
		return err
	}

	e.ReplayedAt = &at
	e.UpdatedAt = now()
	if err := s.setEntity(ctx, entityKey(prefixDLQ, dlqID.String()), e); err != nil {
		return fmt.Errorf("fanout/redis: mark replayed: %w", err)
	}
	return nil
}

// Purge deletes DLQ entries that failed before a threshold.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, zDLQAll, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatFloat(scoreFromTime(before), 'f', -1, 64),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("fanout/redis: purge: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	members := make([]any, 0, len(ids))
	for _, entryID := range ids {
		keys = append(keys, entityKey(prefixDLQ, entryID))
		members = append(members, entryID)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, zDLQAll, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("fanout/redis: purge: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, zDLQAll).Result()
	if err != nil {
		return 0, fmt.Errorf("fanout/redis: count dlq: %w", err)
	}
	return n, nil
}

package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/fanout/deliverylog"
)

// AppendAttempt inserts a delivery log row.
func (s *Store) AppendAttempt(ctx context.Context, a *deliverylog.Attempt) error {
	if _, err := s.mdb.NewInsert(toAttemptModel(a)).Exec(ctx); err != nil {
		return fmt.Errorf("fanout/mongo: append attempt: %w", err)
	}

	return nil
}

// ListByEvent returns every row for an event in append order.
func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]*deliverylog.Attempt, error) {
	var models []attemptModel

	err := s.mdb.NewFind(&models).
		Filter(bson.M{"event_id": eventID}).
		Sort(bson.D{{Key: "received_timestamp", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("fanout/mongo: list by event: %w", err)
	}

	return fromAttemptModels(models)
}

// ListAttempts returns rows matching opts, newest first.
func (s *Store) ListAttempts(ctx context.Context, opts deliverylog.ListOpts) ([]*deliverylog.Attempt, error) {
	var models []attemptModel

	filter := bson.M{}
	if opts.AccountID != "" {
		filter["account_id"] = opts.AccountID
	}

	if opts.DestinationID != nil {
		filter["destination_id"] = *opts.DestinationID
	}

	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	if opts.From != nil || opts.To != nil {
		dateFilter := bson.M{}
		if opts.From != nil {
			dateFilter["$gte"] = *opts.From
		}

		if opts.To != nil {
			dateFilter["$lte"] = *opts.To
		}

		filter["received_timestamp"] = dateFilter
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "received_timestamp", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("fanout/mongo: list attempts: %w", err)
	}

	return fromAttemptModels(models)
}

// CountByStatus groups the log by status.
func (s *Store) CountByStatus(ctx context.Context) (map[deliverylog.Status]int64, error) {
	pipeline := bson.A{
		bson.M{"$group": bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}},
	}

	cur, err := s.mdb.Collection(colDeliveryLogs).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("fanout/mongo: count by status: %w", err)
	}

	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("fanout/mongo: count by status: %w", err)
	}

	counts := make(map[deliverylog.Status]int64, len(rows))
	for _, r := range rows {
		counts[deliverylog.Status(r.Status)] = r.Count
	}

	return counts, nil
}

func fromAttemptModels(models []attemptModel) ([]*deliverylog.Attempt, error) {
	result := make([]*deliverylog.Attempt, 0, len(models))

	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, a)
	}

	return result, nil
}

package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/fanout"
	"github.com/xraph/fanout/account"
	"github.com/xraph/fanout/destination"
)

// ResolveByToken returns the account owning a secret token.
func (s *Store) ResolveByToken(ctx context.Context, token string) (*account.Account, error) {
	var m accountModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"app_secret_token": token}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fanout.ErrAccountNotFound
		}

		return nil, fmt.Errorf("fanout/mongo: resolve account: %w", err)
	}

	return fromAccountModel(&m), nil
}

// ListDestinations returns an account's destinations ordered by ID.
func (s *Store) ListDestinations(ctx context.Context, accountID string) ([]*destination.Destination, error) {
	var models []destinationModel

	err := s.mdb.NewFind(&models).
		Filter(bson.M{"account_id": accountID}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("fanout/mongo: list destinations: %w", err)
	}

	result := make([]*destination.Destination, 0, len(models))
	for i := range models {
		result = append(result, fromDestinationModel(&models[i]))
	}

	return result, nil
}

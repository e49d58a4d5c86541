package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"cdi-alert-engine/internal/domain"
	apperrors "cdi-alert-engine/pkg/errors"
)

// AccountRepository implements repository.Accounts over the accounts and
// discreteValues collections.
type AccountRepository struct {
	accounts       *mongo.Collection
	discreteValues *mongo.Collection
}

// FindByID fetches the account, appends externally stored discrete values
// newer than the retention cutoff, and builds the derived caches. A missing
// account reports a not-found error so callers can tell a deleted account
// from an unreachable store.
//
// The supplementary query filters ResultDate server-side; the cache builder
// re-applies the same cutoff, so an out-of-window stray only ever reaches the
// raw list.
func (r *AccountRepository) FindByID(ctx context.Context, id string, now time.Time, dvRetentionDays, medRetentionDays int) (*domain.Account, error) {
	var account domain.Account
	err := r.accounts.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NewNotFound("account " + id + " does not exist")
		}
		return nil, apperrors.NewTransient("failed to load account", err)
	}

	cutoff := now.AddDate(0, 0, -dvRetentionDays)
	cursor, err := r.discreteValues.Find(ctx, bson.D{
		{Key: "AccountNumber", Value: id},
		{Key: "ResultDate", Value: bson.D{{Key: "$gte", Value: cutoff}}},
	})
	if err != nil {
		return nil, apperrors.NewTransient("failed to query external discrete values", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var dv domain.DiscreteValue
		if err := cursor.Decode(&dv); err != nil {
			return nil, apperrors.NewTransient("failed to decode external discrete value", err)
		}
		account.DiscreteValues = append(account.DiscreteValues, &dv)
	}
	if err := cursor.Err(); err != nil {
		return nil, apperrors.NewTransient("failed to iterate external discrete values", err)
	}

	account.BuildCaches(now, dvRetentionDays, medRetentionDays)
	return &account, nil
}

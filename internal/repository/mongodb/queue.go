package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"cdi-alert-engine/internal/domain"
	apperrors "cdi-alert-engine/pkg/errors"
)

// QueueRepository implements repository.Queue over the EvaluationQueue
// collection.
type QueueRepository struct {
	collection *mongo.Collection
}

// Dequeue removes and returns the oldest pending entry. The find-and-delete
// is a single atomic operation, so concurrent callers never receive the same
// entry. Returns nil when the queue is empty.
func (r *QueueRepository) Dequeue(ctx context.Context) (*domain.QueueEntry, error) {
	var entry domain.QueueEntry
	err := r.collection.FindOneAndDelete(
		ctx,
		bson.D{},
		options.FindOneAndDelete().SetSort(bson.D{{Key: "TimeQueued", Value: 1}}),
	).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperrors.NewTransient("failed to dequeue pending account", err)
	}
	return &entry, nil
}

// Enqueue inserts a new entry for the account, timestamped now.
func (r *QueueRepository) Enqueue(ctx context.Context, accountID, source string) error {
	_, err := r.collection.InsertOne(ctx, domain.QueueEntry{
		ID:         accountID,
		TimeQueued: time.Now().UTC(),
		Source:     source,
	})
	if err != nil {
		return apperrors.NewTransient("failed to enqueue account", err)
	}
	return nil
}

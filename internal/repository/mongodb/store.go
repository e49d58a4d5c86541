// Package mongodb implements the repository interfaces against the CAC
// document store. This is the only layer that should have knowledge of
// MongoDB specifics.
package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperrors "cdi-alert-engine/pkg/errors"
)

// Collection names in the CAC database.
const (
	queueCollection         = "EvaluationQueue"
	accountCollection       = "accounts"
	discreteValueCollection = "discreteValues"
	resultCollection        = "EvaluationResults"
)

// Store wraps a connected database handle and hands out repositories.
type Store struct {
	client   *mongo.Client
	database *mongo.Database
}

// Connect establishes a client against the given connection string and
// verifies connectivity with a ping.
func Connect(ctx context.Context, url, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, apperrors.NewTransient("failed to connect to document store", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, apperrors.NewTransient("document store is unreachable", err)
	}

	return &Store{client: client, database: client.Database(database)}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Queue returns the evaluation queue repository.
func (s *Store) Queue() *QueueRepository {
	return &QueueRepository{collection: s.database.Collection(queueCollection)}
}

// Accounts returns the account repository.
func (s *Store) Accounts() *AccountRepository {
	return &AccountRepository{
		accounts:       s.database.Collection(accountCollection),
		discreteValues: s.database.Collection(discreteValueCollection),
	}
}

// Results returns the evaluation result repository.
func (s *Store) Results() *ResultRepository {
	return &ResultRepository{collection: s.database.Collection(resultCollection)}
}

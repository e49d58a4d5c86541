package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"cdi-alert-engine/internal/domain"
	"cdi-alert-engine/internal/repository"
	apperrors "cdi-alert-engine/pkg/errors"
)

// ResultRepository implements repository.Results over the EvaluationResults
// collection. Each record stores alerts as fields dynamically keyed by script
// name, e.g. { "_id": "00123", "anemia": {...}, "sepsis": {...} }.
type ResultRepository struct {
	collection *mongo.Collection
}

// Fetch returns the account's result record, or nil when none exists.
func (r *ResultRepository) Fetch(ctx context.Context, accountID string) (repository.ResultRecord, error) {
	var raw bson.Raw
	err := r.collection.FindOne(ctx, bson.D{{Key: "_id", Value: accountID}}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperrors.NewTransient("failed to fetch existing results", err)
	}
	return rawResultRecord(raw), nil
}

// Upsert replaces the account's record with one field per alert, keyed by
// script name. Every alert that ran is written, passed and failed alike.
func (r *ResultRepository) Upsert(ctx context.Context, accountID string, alerts []*domain.Alert) error {
	doc := bson.D{{Key: "_id", Value: accountID}}
	for _, alert := range alerts {
		doc = append(doc, bson.E{Key: alert.ScriptName, Value: alert})
	}

	_, err := r.collection.ReplaceOne(
		ctx,
		bson.D{{Key: "_id", Value: accountID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return apperrors.NewTransient("failed to upsert evaluation results", err)
	}
	return nil
}

// rawResultRecord reads alerts out of a raw result document.
type rawResultRecord bson.Raw

// Alert looks up the script's field and parses it into an Alert. A missing
// field reports present=false; a field that will not parse reports the parse
// error with present=true.
func (r rawResultRecord) Alert(scriptName string) (*domain.Alert, bool, error) {
	value, err := bson.Raw(r).LookupErr(scriptName)
	if err != nil {
		return nil, false, nil
	}

	var alert domain.Alert
	if err := value.Unmarshal(&alert); err != nil {
		return nil, true, apperrors.Wrap(err, "stored alert failed to parse")
	}
	return &alert, true, nil
}

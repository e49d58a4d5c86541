package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"cdi-alert-engine/internal/domain"
	apperrors "cdi-alert-engine/pkg/errors"
)

// testAccountPrefix marks seeded accounts so they can be purged by regex.
const testAccountPrefix = "TEST_CDI_"

// SeedTestAccounts inserts n synthetic accounts (TEST_CDI_0 .. TEST_CDI_n-1)
// and queues each with source "test".
func (s *Store) SeedTestAccounts(ctx context.Context, n int) error {
	accounts := s.database.Collection(accountCollection)
	queue := s.database.Collection(queueCollection)
	now := time.Now().UTC()

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s%d", testAccountPrefix, i)
		_, err := accounts.InsertOne(ctx, testAccount(id, now))
		if err != nil {
			return apperrors.NewTransient("failed to insert test account", err)
		}
		_, err = queue.InsertOne(ctx, domain.QueueEntry{
			ID:         id,
			TimeQueued: now,
			Source:     domain.QueueSourceTest,
		})
		if err != nil {
			return apperrors.NewTransient("failed to queue test account", err)
		}
	}
	return nil
}

// PurgeTestData removes every seeded account along with its queue entries and
// evaluation results.
func (s *Store) PurgeTestData(ctx context.Context) error {
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$regex", Value: "^" + testAccountPrefix}}}}

	for _, name := range []string{accountCollection, queueCollection, resultCollection} {
		if _, err := s.database.Collection(name).DeleteMany(ctx, filter); err != nil {
			return apperrors.NewTransient("failed to purge test data from "+name, err)
		}
	}
	return nil
}

func testAccount(id string, now time.Time) *domain.Account {
	return &domain.Account{
		ID:            id,
		AdmitDateTime: time.Date(2024, 4, 17, 12, 0, 0, 0, time.UTC),
		Patient: &domain.Patient{
			MRN:        "123456",
			FirstName:  "John",
			MiddleName: "Q",
			LastName:   "Public",
			Gender:     "M",
			BirthDate:  now.AddDate(-54, 0, 0),
		},
		PatientType:     "Inpatient",
		AdmitSource:     "Emergency Room",
		AdmitType:       "Emergency",
		HospitalService: "Medicine",
		Building:        "Main",
		Documents: []*domain.Document{
			{
				DocumentID:   "DOC_001",
				DocumentType: "Discharge Summary",
				DocumentDate: now,
				ContentType:  "text/plain",
				CodeReferences: []*domain.CodeReference{
					{Code: "I10", Description: "Essential (primary) hypertension", Length: 4},
					{Code: "E11", Description: "Type 2 Diabetes", Length: 4},
				},
			},
			{
				DocumentID:   "DOC_002",
				DocumentType: "Physician Note",
				DocumentDate: now,
				ContentType:  "text/plain",
				CodeReferences: []*domain.CodeReference{
					{Code: "R99", Length: 4},
					{Code: "A10", Length: 4},
				},
			},
		},
	}
}

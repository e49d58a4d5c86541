//go:build integration

package mongodb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdi-alert-engine/internal/domain"
)

// Run with: go test -tags integration ./internal/repository/mongodb \
// with CDI_ALERT_ENGINE_TEST_MONGO_URL pointing at a disposable instance.
func integrationStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("CDI_ALERT_ENGINE_TEST_MONGO_URL")
	if url == "" {
		t.Skip("CDI_ALERT_ENGINE_TEST_MONGO_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := Connect(ctx, url, fmt.Sprintf("cdi_alert_engine_test_%d", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		_ = store.database.Drop(cleanupCtx)
		_ = store.Close(cleanupCtx)
	})
	return store
}

func seedQueue(t *testing.T, store *Store, entries []domain.QueueEntry) {
	t.Helper()
	ctx := context.Background()
	collection := store.database.Collection(queueCollection)
	for _, entry := range entries {
		_, err := collection.InsertOne(ctx, entry)
		require.NoError(t, err)
	}
}

func TestQueueDequeueAscendingOrder(t *testing.T) {
	store := integrationStore(t)
	base := time.Now().UTC().Truncate(time.Millisecond)

	// Inserted deliberately out of order.
	seedQueue(t, store, []domain.QueueEntry{
		{ID: "A3", TimeQueued: base.Add(3 * time.Second), Source: domain.QueueSourcePoll},
		{ID: "A1", TimeQueued: base.Add(1 * time.Second), Source: domain.QueueSourcePoll},
		{ID: "A4", TimeQueued: base.Add(4 * time.Second), Source: domain.QueueSourceRequeue},
		{ID: "A2", TimeQueued: base.Add(2 * time.Second), Source: domain.QueueSourcePoll},
	})

	queue := store.Queue()
	var drained []string
	for {
		entry, err := queue.Dequeue(context.Background())
		require.NoError(t, err)
		if entry == nil {
			break
		}
		drained = append(drained, entry.ID)
	}

	assert.Equal(t, []string{"A1", "A2", "A3", "A4"}, drained)
}

func TestQueueDequeueConcurrentAtMostOnce(t *testing.T) {
	store := integrationStore(t)
	base := time.Now().UTC().Truncate(time.Millisecond)

	const total = 200
	entries := make([]domain.QueueEntry, 0, total)
	for i := 0; i < total; i++ {
		entries = append(entries, domain.QueueEntry{
			ID:         fmt.Sprintf("A%03d", i),
			TimeQueued: base.Add(time.Duration(i) * time.Millisecond),
			Source:     domain.QueueSourcePoll,
		})
	}
	seedQueue(t, store, entries)

	queue := store.Queue()
	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				entry, err := queue.Dequeue(context.Background())
				if err != nil || entry == nil {
					return
				}
				mu.Lock()
				seen[entry.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total, "every entry dequeued exactly once")
	for id, count := range seen {
		assert.Equal(t, 1, count, "entry %s dequeued more than once", id)
	}
}

func TestQueueEnqueueThenDequeueRoundTrip(t *testing.T) {
	store := integrationStore(t)
	queue := store.Queue()
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, "B1", domain.QueueSourceRequeue))

	entry, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "B1", entry.ID)
	assert.Equal(t, domain.QueueSourceRequeue, entry.Source)
	assert.False(t, entry.TimeQueued.IsZero())

	entry, err = queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, entry, "queue is empty after the single entry is consumed")
}

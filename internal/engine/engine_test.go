package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cdi-alert-engine/internal/config"
	"cdi-alert-engine/internal/domain"
	"cdi-alert-engine/internal/repository"
	"cdi-alert-engine/internal/sandbox"
	apperrors "cdi-alert-engine/pkg/errors"
)

type fakeQueue struct {
	mu       sync.Mutex
	entries  []*domain.QueueEntry
	enqueued []*domain.QueueEntry
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*domain.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil, nil
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, nil
}

func (q *fakeQueue) Enqueue(ctx context.Context, accountID, source string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := &domain.QueueEntry{ID: accountID, TimeQueued: time.Now().UTC(), Source: source}
	q.entries = append(q.entries, entry)
	q.enqueued = append(q.enqueued, entry)
	return nil
}

type fakeAccounts struct {
	accounts map[string]*domain.Account
}

func (a *fakeAccounts) FindByID(ctx context.Context, id string, now time.Time, dvDays, medDays int) (*domain.Account, error) {
	account, ok := a.accounts[id]
	if !ok {
		return nil, apperrors.NewNotFound("account " + id + " does not exist")
	}
	return account, nil
}

type fakeRecord map[string]*domain.Alert

func (r fakeRecord) Alert(scriptName string) (*domain.Alert, bool, error) {
	alert, ok := r[scriptName]
	return alert, ok, nil
}

type fakeResults struct {
	mu       sync.Mutex
	records  map[string]fakeRecord
	upserts  int
	fetchErr error
}

func (r *fakeResults) Fetch(ctx context.Context, accountID string) (repository.ResultRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	record, ok := r.records[accountID]
	if !ok {
		return nil, nil
	}
	return record, nil
}

func (r *fakeResults) Upsert(ctx context.Context, accountID string, alerts []*domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record := make(fakeRecord, len(alerts))
	for _, alert := range alerts {
		record[alert.ScriptName] = alert
	}
	if r.records == nil {
		r.records = make(map[string]fakeRecord)
	}
	r.records[accountID] = record
	r.upserts++
	return nil
}

// fakeEvaluator dispatches on script name; unknown scripts pass trivially.
type fakeEvaluator struct {
	mu     sync.Mutex
	runs   int
	byName map[string]func(account *domain.Account) (*domain.Alert, error)
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, script sandbox.Script, account *domain.Account) (*domain.Alert, error) {
	e.mu.Lock()
	e.runs++
	e.mu.Unlock()
	if fn, ok := e.byName[script.Name]; ok {
		return fn(account)
	}
	return domain.NewAlert(script.Name), nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *fakeNotifier) Notify(ctx context.Context, accountID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, accountID)
	return n.err
}

func testConfig(scripts ...string) *config.Config {
	cfg := &config.Config{
		PollingSeconds:  60,
		WorkflowRestURL: "http://workflow.local",
		DVDaysBack:      7,
		MedDaysBack:     7,
		Workers:         4,
	}
	for _, s := range scripts {
		cfg.Scripts = append(cfg.Scripts, config.Script{Path: s + ".lua"})
	}
	return cfg
}

func newTestService(cfg *config.Config, queue *fakeQueue, accounts *fakeAccounts, results *fakeResults, evaluator Evaluator, notifier Notifier) *Service {
	return New(cfg, queue, accounts, results, evaluator, notifier, nil, zap.NewNop())
}

func passedAlert(scriptName string) *domain.Alert {
	alert := domain.NewAlert(scriptName)
	alert.Passed = true
	alert.Links = []*domain.Link{
		{LinkText: "outer", Links: []*domain.Link{{LinkText: "inner", Code: "I10"}}},
	}
	return alert
}

func TestRunPassPersistsAndNotifiesNewAccount(t *testing.T) {
	queue := &fakeQueue{entries: []*domain.QueueEntry{{ID: "A1"}}}
	accounts := &fakeAccounts{accounts: map[string]*domain.Account{"A1": {ID: "A1"}}}
	results := &fakeResults{}
	notifier := &fakeNotifier{}
	evaluator := &fakeEvaluator{byName: map[string]func(*domain.Account) (*domain.Alert, error){
		"anemia": func(*domain.Account) (*domain.Alert, error) { return passedAlert("anemia"), nil },
	}}

	svc := newTestService(testConfig("anemia", "sepsis"), queue, accounts, results, evaluator, notifier)
	svc.runPass(context.Background())

	assert.Equal(t, 1, results.upserts)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "A1", notifier.calls[0])

	// Every configured script contributes a field, passed or not.
	record := results.records["A1"]
	require.Len(t, record, 2)
	assert.True(t, record["anemia"].Passed)
	assert.False(t, record["sepsis"].Passed)
}

func TestRunPassUnchangedSkipsWrites(t *testing.T) {
	previous := passedAlert("anemia")
	queue := &fakeQueue{entries: []*domain.QueueEntry{{ID: "A1"}}}
	accounts := &fakeAccounts{accounts: map[string]*domain.Account{"A1": {ID: "A1"}}}
	results := &fakeResults{records: map[string]fakeRecord{"A1": {"anemia": previous}}}
	notifier := &fakeNotifier{}
	evaluator := &fakeEvaluator{byName: map[string]func(*domain.Account) (*domain.Alert, error){
		"anemia": func(*domain.Account) (*domain.Alert, error) { return passedAlert("anemia"), nil },
	}}

	svc := newTestService(testConfig("anemia"), queue, accounts, results, evaluator, notifier)
	svc.runPass(context.Background())

	assert.Zero(t, results.upserts)
	assert.Empty(t, notifier.calls)
	assert.Empty(t, queue.enqueued)
}

func TestRunPassNestedLinkChangeTriggersWrite(t *testing.T) {
	previous := passedAlert("anemia")
	queue := &fakeQueue{entries: []*domain.QueueEntry{{ID: "A1"}}}
	accounts := &fakeAccounts{accounts: map[string]*domain.Account{"A1": {ID: "A1"}}}
	results := &fakeResults{records: map[string]fakeRecord{"A1": {"anemia": previous}}}
	notifier := &fakeNotifier{}
	evaluator := &fakeEvaluator{byName: map[string]func(*domain.Account) (*domain.Alert, error){
		"anemia": func(*domain.Account) (*domain.Alert, error) {
			alert := passedAlert("anemia")
			alert.Links[0].Links[0].Code = "E11.9"
			return alert, nil
		},
	}}

	svc := newTestService(testConfig("anemia"), queue, accounts, results, evaluator, notifier)
	svc.runPass(context.Background())

	assert.Equal(t, 1, results.upserts)
	assert.Len(t, notifier.calls, 1)
}

func TestRunPassNotifyFailureRequeuesOnce(t *testing.T) {
	queue := &fakeQueue{entries: []*domain.QueueEntry{{ID: "A1"}}}
	accounts := &fakeAccounts{accounts: map[string]*domain.Account{"A1": {ID: "A1"}}}
	results := &fakeResults{}
	notifier := &fakeNotifier{err: errors.New("workflow down")}
	evaluator := &fakeEvaluator{}

	svc := newTestService(testConfig("anemia"), queue, accounts, results, evaluator, notifier)
	svc.runPass(context.Background())

	// The record is still persisted; only the notification failed.
	assert.Equal(t, 1, results.upserts)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, "A1", queue.enqueued[0].ID)
	assert.Equal(t, domain.QueueSourceRequeue, queue.enqueued[0].Source)
}

func TestRunPassScriptFailureKeepsOtherScripts(t *testing.T) {
	queue := &fakeQueue{entries: []*domain.QueueEntry{{ID: "A1"}}}
	accounts := &fakeAccounts{accounts: map[string]*domain.Account{"A1": {ID: "A1"}}}
	results := &fakeResults{}
	notifier := &fakeNotifier{}
	evaluator := &fakeEvaluator{byName: map[string]func(*domain.Account) (*domain.Alert, error){
		"broken": func(*domain.Account) (*domain.Alert, error) {
			return nil, apperrors.NewScript("boom", nil)
		},
	}}

	svc := newTestService(testConfig("anemia", "broken"), queue, accounts, results, evaluator, notifier)
	svc.runPass(context.Background())

	require.Equal(t, 1, results.upserts)
	record := results.records["A1"]
	assert.Len(t, record, 1)
	_, ok := record["anemia"]
	assert.True(t, ok)
	_, ok = record["broken"]
	assert.False(t, ok)
}

func TestRunPassSkipsMissingAccounts(t *testing.T) {
	queue := &fakeQueue{entries: []*domain.QueueEntry{{ID: "GONE"}, {ID: "A1"}}}
	accounts := &fakeAccounts{accounts: map[string]*domain.Account{"A1": {ID: "A1"}}}
	results := &fakeResults{}
	notifier := &fakeNotifier{}
	evaluator := &fakeEvaluator{}

	svc := newTestService(testConfig("anemia"), queue, accounts, results, evaluator, notifier)
	svc.runPass(context.Background())

	assert.Equal(t, 1, results.upserts)
	_, ok := results.records["A1"]
	assert.True(t, ok)
	_, ok = results.records["GONE"]
	assert.False(t, ok)
}

func TestRunPassDrainsWholeQueue(t *testing.T) {
	queue := &fakeQueue{entries: []*domain.QueueEntry{{ID: "A1"}, {ID: "A2"}, {ID: "A3"}}}
	accounts := &fakeAccounts{accounts: map[string]*domain.Account{
		"A1": {ID: "A1"}, "A2": {ID: "A2"}, "A3": {ID: "A3"},
	}}
	results := &fakeResults{}
	evaluator := &fakeEvaluator{}

	svc := newTestService(testConfig("anemia", "sepsis"), queue, accounts, results, evaluator, &fakeNotifier{})
	svc.runPass(context.Background())

	assert.Empty(t, queue.entries)
	assert.Equal(t, 6, evaluator.runs, "one run per script per account")
	assert.Len(t, results.records, 3)
}

func TestRunPassFetchErrorLeavesRecordAlone(t *testing.T) {
	queue := &fakeQueue{entries: []*domain.QueueEntry{{ID: "A1"}}}
	accounts := &fakeAccounts{accounts: map[string]*domain.Account{"A1": {ID: "A1"}}}
	results := &fakeResults{fetchErr: apperrors.NewTransient("mongo down", nil)}
	notifier := &fakeNotifier{}
	evaluator := &fakeEvaluator{}

	svc := newTestService(testConfig("anemia"), queue, accounts, results, evaluator, notifier)
	svc.runPass(context.Background())

	assert.Zero(t, results.upserts)
	assert.Empty(t, notifier.calls)
}

func TestRunPassNoNotifierSkipsPersistence(t *testing.T) {
	queue := &fakeQueue{entries: []*domain.QueueEntry{{ID: "A1"}}}
	accounts := &fakeAccounts{accounts: map[string]*domain.Account{"A1": {ID: "A1"}}}
	results := &fakeResults{}
	evaluator := &fakeEvaluator{}

	svc := newTestService(testConfig("anemia"), queue, accounts, results, evaluator, nil)
	svc.runPass(context.Background())

	// Without a workflow endpoint there are no store writes at all.
	assert.Zero(t, results.upserts)
	assert.Empty(t, queue.enqueued)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	queue := &fakeQueue{}
	svc := newTestService(testConfig("anemia"), queue, &fakeAccounts{}, &fakeResults{}, &fakeEvaluator{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

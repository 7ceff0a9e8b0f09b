package logqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dban0001/llmgateway/billing"
	"github.com/dban0001/llmgateway/llm/idempotency"
)

// memQueue is an in-memory Queue fake for testing the worker loop without
// a real Redis instance, mirroring the main/processing list semantics.
type memQueue struct {
	mu         sync.Mutex
	main       [][]byte
	processing [][]byte
}

func newMemQueue() *memQueue { return &memQueue{} }

func (q *memQueue) Enqueue(_ context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.main = append(q.main, data)
	return nil
}

func (q *memQueue) ClaimBatch(_ context.Context, n int) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.main) {
		n = len(q.main)
	}
	claimed := q.main[:n]
	q.main = q.main[n:]
	q.processing = append(q.processing, claimed...)
	out := make([][]byte, len(claimed))
	copy(out, claimed)
	return out, nil
}

func (q *memQueue) Acknowledge(_ context.Context, raw [][]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range raw {
		q.processing = removeOne(q.processing, r)
	}
	return nil
}

func (q *memQueue) Recover(_ context.Context, raw [][]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range raw {
		q.processing = removeOne(q.processing, r)
		q.main = append(q.main, r)
	}
	return nil
}

func (q *memQueue) RecoverProcessing(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.processing)
	q.main = append(q.main, q.processing...)
	q.processing = nil
	return n, nil
}

func (q *memQueue) Depths(_ context.Context) (int64, int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.main)), int64(len(q.processing)), nil
}

func removeOne(list [][]byte, target []byte) [][]byte {
	for i, v := range list {
		if string(v) == string(target) {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// memStore is an in-memory Store fake recording inserted entries and
// credit debits.
type memStore struct {
	mu        sync.Mutex
	retention map[string]string
	inserted  []Entry
	debits    map[string]float64
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{retention: make(map[string]string), debits: make(map[string]float64)}
}

func (s *memStore) RetentionLevel(_ context.Context, orgID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retention[orgID], nil
}

func (s *memStore) InsertLogs(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, entries...)
	return nil
}

func (s *memStore) DebitCredits(_ context.Context, orgID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debits[orgID] += amount
	return nil
}

func TestWorker_PersistsBatchAndDebitsCredits(t *testing.T) {
	q := newMemQueue()
	store := newMemStore()
	idem := idempotency.NewMemoryManager(zap.NewNop())
	t.Cleanup(func() { idem.(interface{ Close() }).Close() })

	require.NoError(t, q.Enqueue(context.Background(), Entry{
		RequestID:      "req-1",
		OrganizationID: "org-1",
		Mode:           billing.ModeCredits,
		TotalCost:      0.05,
		Cached:         false,
	}))
	require.NoError(t, q.Enqueue(context.Background(), Entry{
		RequestID:      "req-2",
		OrganizationID: "org-1",
		Mode:           billing.ModeAPIKeys,
		TotalCost:      0.10, // not billable: api-keys mode pays out of pocket
		Cached:         false,
	}))

	w := NewWorker(q, store, idem, nil, false, zap.NewNop())
	w.tick(context.Background())

	assert.Len(t, store.inserted, 2)
	assert.Equal(t, 0.05, store.debits["org-1"])

	main, processing, _ := q.Depths(context.Background())
	assert.Zero(t, main)
	assert.Zero(t, processing)
}

func TestWorker_StripsContentUnderNoneRetention(t *testing.T) {
	q := newMemQueue()
	store := newMemStore()
	store.retention["org-strict"] = "none"

	require.NoError(t, q.Enqueue(context.Background(), Entry{
		RequestID:      "req-strict",
		OrganizationID: "org-strict",
		Mode:           billing.ModeCredits,
		Content:        "sensitive completion text",
	}))

	w := NewWorker(q, store, nil, nil, false, zap.NewNop())
	w.tick(context.Background())

	require.Len(t, store.inserted, 1)
	assert.Empty(t, store.inserted[0].Content)
	assert.Nil(t, store.inserted[0].Messages)
}

func TestWorker_DiscardsInvalidMessageWithoutPoisoningBatch(t *testing.T) {
	q := newMemQueue()
	store := newMemStore()

	q.main = append(q.main, []byte("{not valid json"))
	require.NoError(t, q.Enqueue(context.Background(), Entry{RequestID: "req-valid", OrganizationID: "org-1"}))

	w := NewWorker(q, store, nil, nil, false, zap.NewNop())
	w.tick(context.Background())

	require.Len(t, store.inserted, 1)
	assert.Equal(t, "req-valid", store.inserted[0].RequestID)
}

func TestWorker_RecoversBatchToMainOnPersistFailure(t *testing.T) {
	q := newMemQueue()
	store := newMemStore()
	store.insertErr = assertError{"disk full"}

	require.NoError(t, q.Enqueue(context.Background(), Entry{RequestID: "req-1", OrganizationID: "org-1"}))

	w := NewWorker(q, store, nil, nil, false, zap.NewNop())
	w.tick(context.Background())

	main, processing, _ := q.Depths(context.Background())
	assert.Equal(t, int64(1), main)
	assert.Zero(t, processing)
}

func TestWorker_DeduplicatesAlreadyPersistedRequestID(t *testing.T) {
	q := newMemQueue()
	store := newMemStore()
	idem := idempotency.NewMemoryManager(zap.NewNop())
	t.Cleanup(func() { idem.(interface{ Close() }).Close() })
	require.NoError(t, idem.Set(context.Background(), "req-dup", struct{ Persisted bool }{true}, time.Hour))

	require.NoError(t, q.Enqueue(context.Background(), Entry{RequestID: "req-dup", OrganizationID: "org-1", TotalCost: 1}))

	w := NewWorker(q, store, idem, nil, false, zap.NewNop())
	w.tick(context.Background())

	assert.Empty(t, store.inserted)
	assert.Empty(t, store.debits)
}

func TestWorker_RunRecoversProcessingAtStartup(t *testing.T) {
	q := newMemQueue()
	store := newMemStore()
	data, _ := json.Marshal(Entry{RequestID: "stuck"})
	q.processing = append(q.processing, data)

	w := NewWorker(q, store, nil, nil, false, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	main, processing, _ := q.Depths(context.Background())
	assert.Equal(t, int64(1), main)
	assert.Zero(t, processing)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

package apilog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmgate/backend/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	entries []*models.APILog
	err     error
}

func (m *memStore) Create(_ context.Context, l *models.APILog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *l
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memStore) ListByUserID(_ context.Context, userID uuid.UUID, limit int) ([]*models.APILog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.APILog{}
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// inlineInsert runs the worker synchronously in place of River.
func inlineInsert(w *RecordWorker) InsertFunc {
	return func(ctx context.Context, args RecordArgs) error {
		return w.Work(ctx, &river.Job[RecordArgs]{Args: args})
	}
}

func TestRecordAndList(t *testing.T) {
	store := &memStore{}
	svc := NewService(inlineInsert(NewRecordWorker(store)), store, nil)
	user := uuid.New()

	svc.Record(context.Background(), user, CategorySwarmCompletion, map[string]string{"swarm_name": "a"})
	svc.Record(context.Background(), user, CategorySchedule, map[string]string{"job_id": "x"})
	svc.Record(context.Background(), uuid.New(), CategorySwarmCompletion, map[string]string{"swarm_name": "other"})

	logs, err := svc.List(context.Background(), user, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, CategorySchedule, logs[0].Category)

	var data map[string]string
	require.NoError(t, json.Unmarshal(logs[1].Data, &data))
	assert.Equal(t, "a", data["swarm_name"])
}

func TestRecordSwallowsFailures(t *testing.T) {
	svc := NewService(func(context.Context, RecordArgs) error { return errors.New("queue down") }, &memStore{}, nil)
	assert.NotPanics(t, func() {
		svc.Record(context.Background(), uuid.New(), CategorySwarmCompletion, map[string]int{"n": 1})
		svc.Record(context.Background(), uuid.New(), CategorySwarmCompletion, func() {})
	})
}

func TestWorkerPropagatesStoreError(t *testing.T) {
	w := NewRecordWorker(&memStore{err: errors.New("db down")})
	err := w.Work(context.Background(), &river.Job[RecordArgs]{Args: RecordArgs{LogID: uuid.New()}})
	assert.Error(t, err)
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enroll-api/internal/models"
	"github.com/noah-isme/sma-enroll-api/pkg/jobs"
)

type fakeAuditStore struct {
	mu       sync.Mutex
	appended []models.EnrollmentAuditLog
	done     chan struct{}
}

func (f *fakeAuditStore) Append(_ context.Context, log *models.EnrollmentAuditLog) error {
	f.mu.Lock()
	f.appended = append(f.appended, *log)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}

func (f *fakeAuditStore) ListByEnrollment(_ context.Context, studentID, classID string) ([]models.EnrollmentAuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EnrollmentAuditLog
	for _, log := range f.appended {
		if log.StudentID == studentID && log.ClassID == classID {
			out = append(out, log)
		}
	}
	return out, nil
}

func TestAuditRecorderPersistsRecords(t *testing.T) {
	store := &fakeAuditStore{done: make(chan struct{}, 1)}
	recorder := NewAuditRecorder(store, jobs.QueueConfig{Workers: 1, BufferSize: 4}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recorder.Start(ctx)
	defer recorder.Stop()

	recorder.Record(models.AuditActionOverride, "s1", "c1", "registrar-1",
		"", "", "restriction overridden", models.AuditMetadata{
			AppliedOverrides: []models.AppliedOverride{{SourceID: "rs-1", ActorID: "registrar-1"}},
		})

	select {
	case <-store.done:
	case <-time.After(2 * time.Second):
		t.Fatal("audit record was not persisted")
	}

	logs, err := recorder.History(context.Background(), "s1", "c1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionOverride, logs[0].Action)
	assert.NotEmpty(t, logs[0].IdempotencyKey)
	assert.NotEmpty(t, logs[0].Metadata)
}

func TestAuditIdempotencyKeyShape(t *testing.T) {
	at := time.Unix(1700000000, 42)
	key := models.AuditIdempotencyKey("s1", "c1", at, models.AuditActionPromote)
	assert.Equal(t, "s1:c1:1700000000000000042:PROMOTE", key)

	// Same inputs, same key: retried writes dedupe on it.
	assert.Equal(t, key, models.AuditIdempotencyKey("s1", "c1", at, models.AuditActionPromote))
}

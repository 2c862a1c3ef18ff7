package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// fakeWaitlistStore keeps entries in memory and renumbers positions the way
// the SQL layer does, so ordering semantics can be exercised without a DB.
type fakeWaitlistStore struct {
	entries []models.WaitlistEntry
	nextSeq int64
}

func (f *fakeWaitlistStore) Insert(_ context.Context, entry *models.WaitlistEntry) (int, error) {
	f.nextSeq++
	entry.Seq = f.nextSeq
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("wl-%d", f.nextSeq)
	}
	f.entries = append(f.entries, *entry)
	f.renumber()
	for _, e := range f.entries {
		if e.StudentID == entry.StudentID {
			entry.Position = e.Position
		}
	}
	return entry.Position, nil
}

func (f *fakeWaitlistStore) Remove(_ context.Context, classID, studentID string) (bool, error) {
	for i, e := range f.entries {
		if e.ClassID == classID && e.StudentID == studentID {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			f.renumber()
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeWaitlistStore) Top(_ context.Context, classID string) (*models.WaitlistEntry, error) {
	for _, e := range f.entries {
		if e.ClassID == classID && e.Position == 1 {
			entry := e
			return &entry, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeWaitlistStore) Find(_ context.Context, classID, studentID string) (*models.WaitlistEntry, error) {
	for _, e := range f.entries {
		if e.ClassID == classID && e.StudentID == studentID {
			entry := e
			return &entry, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeWaitlistStore) ListByClass(_ context.Context, classID string) ([]models.WaitlistEntry, error) {
	var out []models.WaitlistEntry
	for _, e := range f.entries {
		if e.ClassID == classID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeWaitlistStore) Count(_ context.Context, classID string) (int, error) {
	n := 0
	for _, e := range f.entries {
		if e.ClassID == classID {
			n++
		}
	}
	return n, nil
}

func (f *fakeWaitlistStore) UpdateProbability(_ context.Context, id string, probability float64) error {
	for i := range f.entries {
		if f.entries[i].ID == id {
			f.entries[i].EstimatedProbability = probability
		}
	}
	return nil
}

func (f *fakeWaitlistStore) MarkNotified(_ context.Context, id string, notifiedAt, expiresAt time.Time) error {
	for i := range f.entries {
		if f.entries[i].ID == id {
			n, e := notifiedAt, expiresAt
			f.entries[i].NotifiedAt = &n
			f.entries[i].NotificationExpiresAt = &e
		}
	}
	return nil
}

func (f *fakeWaitlistStore) ExpiredOffers(_ context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	var out []models.WaitlistEntry
	for _, e := range f.entries {
		if e.NotificationExpiresAt != nil && e.NotificationExpiresAt.Before(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeWaitlistStore) renumber() {
	sort.Slice(f.entries, func(i, j int) bool { return f.entries[i].OrderedBefore(f.entries[j]) })
	for i := range f.entries {
		f.entries[i].Position = i + 1
	}
}

type stubPromotionStats struct {
	joined   int
	promoted int
	err      error
}

func (s *stubPromotionStats) PromotionStats(_ context.Context, _ string) (int, int, error) {
	return s.joined, s.promoted, s.err
}

func TestWaitlistInsertOrdersByPriorityThenArrival(t *testing.T) {
	store := &fakeWaitlistStore{}
	svc := NewWaitlistService(store, nil, nil, zap.NewNop())
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	pos, err := svc.Insert(ctx, &models.WaitlistEntry{ClassID: "c1", StudentID: "s1", Priority: 0, AddedAt: base})
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	pos, err = svc.Insert(ctx, &models.WaitlistEntry{ClassID: "c1", StudentID: "s2", Priority: 0, AddedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	// Higher priority jumps the earlier arrivals.
	pos, err = svc.Insert(ctx, &models.WaitlistEntry{ClassID: "c1", StudentID: "s3", Priority: 5, AddedAt: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	entries, err := svc.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"s3", "s1", "s2"}, []string{entries[0].StudentID, entries[1].StudentID, entries[2].StudentID})
}

func TestWaitlistRemoveKeepsPositionsDense(t *testing.T) {
	store := &fakeWaitlistStore{}
	svc := NewWaitlistService(store, nil, nil, zap.NewNop())
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"s1", "s2", "s3", "s4"} {
		_, err := svc.Insert(ctx, &models.WaitlistEntry{ClassID: "c1", StudentID: id, AddedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	removed, err := svc.Remove(ctx, "c1", "s2")
	require.NoError(t, err)
	assert.True(t, removed)

	entries, err := svc.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Position)
	}
	assert.Equal(t, "s1", entries[0].StudentID)
	assert.Equal(t, "s3", entries[1].StudentID)
}

func TestWaitlistRemoveAbsentIsNoOp(t *testing.T) {
	store := &fakeWaitlistStore{}
	svc := NewWaitlistService(store, nil, nil, zap.NewNop())

	removed, err := svc.Remove(context.Background(), "c1", "ghost")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestWaitlistRemoveTopOnEmptyQueue(t *testing.T) {
	store := &fakeWaitlistStore{}
	svc := NewWaitlistService(store, nil, nil, zap.NewNop())

	entry, err := svc.RemoveTop(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestWaitlistPositionOfAbsentStudentIsZero(t *testing.T) {
	store := &fakeWaitlistStore{}
	svc := NewWaitlistService(store, nil, nil, zap.NewNop())

	pos, err := svc.PositionOf(context.Background(), "c1", "ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
}

func TestEstimateProbabilityMonotoneInPosition(t *testing.T) {
	svc := NewWaitlistService(&fakeWaitlistStore{}, &stubPromotionStats{joined: 10, promoted: 4}, nil, zap.NewNop())
	cfg := models.ClassEnrollmentConfig{Capacity: 30}
	now := time.Now()

	prev := 2.0
	for position := 1; position <= 20; position++ {
		p, err := svc.EstimateProbability(context.Background(), "c1", position, cfg, now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		assert.LessOrEqual(t, p, prev, "position %d", position)
		prev = p
	}
}

func TestEstimateProbabilityShrinksAsWindowCloses(t *testing.T) {
	svc := NewWaitlistService(&fakeWaitlistStore{}, nil, nil, zap.NewNop())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * 24 * time.Hour)
	cfg := models.ClassEnrollmentConfig{Capacity: 4, EnrollmentStart: &start, EnrollmentEnd: &end}

	early, err := svc.EstimateProbability(context.Background(), "c1", 8, cfg, start.Add(24*time.Hour))
	require.NoError(t, err)
	late, err := svc.EstimateProbability(context.Background(), "c1", 8, cfg, end.Add(-time.Hour))
	require.NoError(t, err)

	assert.Greater(t, early, late)

	closed, err := svc.EstimateProbability(context.Background(), "c1", 8, cfg, end.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, closed)
}

func TestRefreshEstimatesPersistsStoredProbabilities(t *testing.T) {
	store := &fakeWaitlistStore{}
	svc := NewWaitlistService(store, &stubPromotionStats{joined: 10, promoted: 4}, nil, zap.NewNop())
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"s1", "s2", "s3"} {
		_, err := svc.Insert(ctx, &models.WaitlistEntry{ClassID: "c1", StudentID: id, AddedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	err := svc.RefreshEstimates(ctx, "c1", models.ClassEnrollmentConfig{Capacity: 30}, base)
	require.NoError(t, err)

	entries, err := svc.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	prev := 2.0
	for _, e := range entries {
		assert.Greater(t, e.EstimatedProbability, 0.0)
		assert.LessOrEqual(t, e.EstimatedProbability, prev)
		prev = e.EstimatedProbability
	}
}

func TestEstimateProbabilityFallsBackWithoutHistory(t *testing.T) {
	svc := NewWaitlistService(&fakeWaitlistStore{}, &stubPromotionStats{joined: 0}, nil, zap.NewNop())
	cfg := models.ClassEnrollmentConfig{Capacity: 10}

	p, err := svc.EstimateProbability(context.Background(), "c1", 100, cfg, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, defaultPromotionRate*10/100, p, 1e-9)
}

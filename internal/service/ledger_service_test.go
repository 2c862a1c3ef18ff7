package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enroll-api/internal/models"
	appErrors "github.com/noah-isme/sma-enroll-api/pkg/errors"
)

type fakeSeatCounter struct {
	mu     sync.Mutex
	counts map[string]models.ClassSeatCounts
	err    error
}

func (f *fakeSeatCounter) SeatCounts(_ context.Context, classID string) (models.ClassSeatCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.ClassSeatCounts{}, f.err
	}
	return f.counts[classID], nil
}

func TestTryReserveSeat(t *testing.T) {
	counter := &fakeSeatCounter{counts: map[string]models.ClassSeatCounts{
		"c1": {Enrolled: 29},
		"c2": {Enrolled: 30},
	}}
	svc := NewLedgerService(counter, nil, nil, zap.NewNop())

	ok, err := svc.TryReserveSeat(context.Background(), "c1", 30)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.TryReserveSeat(context.Background(), "c2", 30)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReserveWaitlistSlotFull(t *testing.T) {
	counter := &fakeSeatCounter{counts: map[string]models.ClassSeatCounts{
		"c1": {Enrolled: 30, Waitlisted: 10},
	}}
	svc := NewLedgerService(counter, nil, nil, zap.NewNop())

	err := svc.ReserveWaitlistSlot(context.Background(), "c1", 10)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrWaitlistFull))

	err = svc.ReserveWaitlistSlot(context.Background(), "c1", 11)
	assert.NoError(t, err)
}

func TestReleaseSeatReturnsFreshCounts(t *testing.T) {
	counter := &fakeSeatCounter{counts: map[string]models.ClassSeatCounts{
		"c1": {Enrolled: 12, Waitlisted: 3},
	}}
	svc := NewLedgerService(counter, nil, nil, zap.NewNop())

	counts, err := svc.ReleaseSeat(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 12, counts.Enrolled)
	assert.Equal(t, 3, counts.Waitlisted)
}

func TestCountsWrapsStorageFailures(t *testing.T) {
	counter := &fakeSeatCounter{err: assert.AnError}
	svc := NewLedgerService(counter, nil, nil, zap.NewNop())

	_, err := svc.Counts(context.Background(), "c1")
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrTransientStorage))
	assert.True(t, appErrors.IsRetryable(err))
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enroll-api/internal/models"
	appErrors "github.com/noah-isme/sma-enroll-api/pkg/errors"
)

type seatCounter interface {
	SeatCounts(ctx context.Context, classID string) (models.ClassSeatCounts, error)
}

// LedgerService is the authoritative seat counter for admission decisions.
// Counts are always derived from active enrollment rows; the Redis snapshot
// is a read-side cache for probability estimates and capacity endpoints, and
// Reconcile detects drift between the two. Callers must hold the per-class
// scope when reserving or releasing.
type LedgerService struct {
	counts  seatCounter
	cache   *redis.Client
	metrics *MetricsService
	logger  *zap.Logger
}

// NewLedgerService constructs the ledger.
func NewLedgerService(counts seatCounter, cache *redis.Client, metrics *MetricsService, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{counts: counts, cache: cache, metrics: metrics, logger: logger}
}

// TryReserveSeat atomically checks the seat count against capacity. The
// caller holds the per-class lock, so between this check and the row insert
// no concurrent reservation can slip in: two racing requests for the last
// seat yield exactly one success.
func (s *LedgerService) TryReserveSeat(ctx context.Context, classID string, capacity int) (bool, error) {
	counts, err := s.counts.SeatCounts(ctx, classID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to read seat counts")
	}
	return counts.Enrolled < capacity, nil
}

// ReserveWaitlistSlot checks waitlist headroom; a full waitlist is surfaced
// as WaitlistFull, never silently dropped.
func (s *LedgerService) ReserveWaitlistSlot(ctx context.Context, classID string, waitlistCapacity int) error {
	counts, err := s.counts.SeatCounts(ctx, classID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to read seat counts")
	}
	if counts.Waitlisted >= waitlistCapacity {
		return appErrors.ErrWaitlistFull
	}
	return nil
}

// ReleaseSeat refreshes the ledger after a seat-freeing transition has
// committed. Counts derive from rows, so the release itself is the row
// update; this re-reads truth and republishes the snapshot.
func (s *LedgerService) ReleaseSeat(ctx context.Context, classID string) (models.ClassSeatCounts, error) {
	counts, err := s.Counts(ctx, classID)
	if err != nil {
		return models.ClassSeatCounts{}, err
	}
	s.PublishSnapshot(ctx, classID, counts)
	return counts, nil
}

// ReleaseWaitlistSlot mirrors ReleaseSeat for waitlist departures.
func (s *LedgerService) ReleaseWaitlistSlot(ctx context.Context, classID string) (models.ClassSeatCounts, error) {
	return s.ReleaseSeat(ctx, classID)
}

// Counts returns the row-derived snapshot.
func (s *LedgerService) Counts(ctx context.Context, classID string) (models.ClassSeatCounts, error) {
	counts, err := s.counts.SeatCounts(ctx, classID)
	if err != nil {
		return models.ClassSeatCounts{}, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to read seat counts")
	}
	return counts, nil
}

// PublishSnapshot refreshes the cached counts after a committed change.
// Failures are logged, never surfaced: the cache is not authoritative.
func (s *LedgerService) PublishSnapshot(ctx context.Context, classID string, counts models.ClassSeatCounts) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(counts)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, snapshotKey(classID), payload, time.Hour).Err(); err != nil {
		s.logger.Warn("capacity snapshot publish failed", zap.String("class_id", classID), zap.Error(err))
	}
}

// CachedSnapshot reads the cached counts, falling back to the database.
func (s *LedgerService) CachedSnapshot(ctx context.Context, classID string) (models.ClassSeatCounts, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, snapshotKey(classID)).Bytes()
		if err == nil {
			var counts models.ClassSeatCounts
			if err := json.Unmarshal(raw, &counts); err == nil {
				if s.metrics != nil {
					s.metrics.RecordSnapshotLookup(true)
				}
				return counts, nil
			}
		}
		if s.metrics != nil {
			s.metrics.RecordSnapshotLookup(false)
		}
	}
	return s.Counts(ctx, classID)
}

// Reconcile compares the cached snapshot with row-derived truth, repairs the
// cache and reports drift. Run periodically; drift indicates a bug, not an
// expected state.
func (s *LedgerService) Reconcile(ctx context.Context, classID string) (models.ClassSeatCounts, error) {
	truth, err := s.Counts(ctx, classID)
	if err != nil {
		return models.ClassSeatCounts{}, err
	}
	if s.cache == nil {
		return truth, nil
	}
	raw, err := s.cache.Get(ctx, snapshotKey(classID)).Bytes()
	if err == nil {
		var cached models.ClassSeatCounts
		if err := json.Unmarshal(raw, &cached); err == nil && cached != truth {
			s.logger.Error("capacity ledger drift detected",
				zap.String("class_id", classID),
				zap.Int("cached_enrolled", cached.Enrolled),
				zap.Int("actual_enrolled", truth.Enrolled),
				zap.Int("cached_waitlisted", cached.Waitlisted),
				zap.Int("actual_waitlisted", truth.Waitlisted))
			if s.metrics != nil {
				s.metrics.RecordLedgerDrift()
			}
		}
	}
	s.PublishSnapshot(ctx, classID, truth)
	return truth, nil
}

func snapshotKey(classID string) string {
	return fmt.Sprintf("ledger:class:%s:counts", classID)
}

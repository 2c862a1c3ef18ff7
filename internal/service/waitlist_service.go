package service

import (
	"context"
	"database/sql"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-enroll-api/internal/models"
	appErrors "github.com/noah-isme/sma-enroll-api/pkg/errors"
)

type waitlistStore interface {
	Insert(ctx context.Context, entry *models.WaitlistEntry) (int, error)
	Remove(ctx context.Context, classID, studentID string) (bool, error)
	Top(ctx context.Context, classID string) (*models.WaitlistEntry, error)
	Find(ctx context.Context, classID, studentID string) (*models.WaitlistEntry, error)
	ListByClass(ctx context.Context, classID string) ([]models.WaitlistEntry, error)
	Count(ctx context.Context, classID string) (int, error)
	UpdateProbability(ctx context.Context, id string, probability float64) error
	MarkNotified(ctx context.Context, id string, notifiedAt, expiresAt time.Time) error
	ExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error)
}

type promotionStatsReader interface {
	PromotionStats(ctx context.Context, classID string) (joined, promoted int, err error)
}

// defaultPromotionRate seeds the estimate for classes with no history yet.
const defaultPromotionRate = 0.5

// WaitlistService maintains the ordered queue per class. Mutations must run
// under the caller-held per-class scope; reads may run unlocked.
type WaitlistService struct {
	store   waitlistStore
	stats   promotionStatsReader
	metrics *MetricsService
	logger  *zap.Logger
}

// NewWaitlistService constructs the service.
func NewWaitlistService(store waitlistStore, stats promotionStatsReader, metrics *MetricsService, logger *zap.Logger) *WaitlistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistService{store: store, stats: stats, metrics: metrics, logger: logger}
}

// Insert places the entry by (priority desc, added_at asc) order and returns
// its 1-based position.
func (s *WaitlistService) Insert(ctx context.Context, entry *models.WaitlistEntry) (int, error) {
	position, err := s.store.Insert(ctx, entry)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to insert waitlist entry")
	}
	s.publishDepth(ctx, entry.ClassID)
	return position, nil
}

// RemoveTop pops the position-1 entry for promotion. Returns nil when the
// queue is empty.
func (s *WaitlistService) RemoveTop(ctx context.Context, classID string) (*models.WaitlistEntry, error) {
	entry, err := s.store.Top(ctx, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to read waitlist top")
	}
	if _, err := s.store.Remove(ctx, classID, entry.StudentID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to pop waitlist entry")
	}
	s.publishDepth(ctx, classID)
	return entry, nil
}

// Peek returns the position-1 entry without removing it, or nil when the
// queue is empty.
func (s *WaitlistService) Peek(ctx context.Context, classID string) (*models.WaitlistEntry, error) {
	entry, err := s.store.Top(ctx, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to read waitlist top")
	}
	return entry, nil
}

// Find returns a student's entry, or nil when not queued.
func (s *WaitlistService) Find(ctx context.Context, classID, studentID string) (*models.WaitlistEntry, error) {
	entry, err := s.store.Find(ctx, classID, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to read waitlist entry")
	}
	return entry, nil
}

// MarkOffered stamps a seat offer on the entry. The entry keeps its position;
// the offer stands until accepted or swept after expiry.
func (s *WaitlistService) MarkOffered(ctx context.Context, entry *models.WaitlistEntry, notifiedAt, expiresAt time.Time) error {
	if err := s.store.MarkNotified(ctx, entry.ID, notifiedAt, expiresAt); err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to record seat offer")
	}
	entry.NotifiedAt = &notifiedAt
	entry.NotificationExpiresAt = &expiresAt
	return nil
}

// Remove deletes a student's entry and renumbers. Idempotent: absent entries
// are a no-op, not an error.
func (s *WaitlistService) Remove(ctx context.Context, classID, studentID string) (bool, error) {
	removed, err := s.store.Remove(ctx, classID, studentID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to remove waitlist entry")
	}
	if removed {
		s.publishDepth(ctx, classID)
	}
	return removed, nil
}

// PositionOf returns a student's current position, or 0 when not queued.
func (s *WaitlistService) PositionOf(ctx context.Context, classID, studentID string) (int, error) {
	entry, err := s.store.Find(ctx, classID, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to read waitlist position")
	}
	return entry.Position, nil
}

// List returns the queue in position order.
func (s *WaitlistService) List(ctx context.Context, classID string) ([]models.WaitlistEntry, error) {
	entries, err := s.store.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to list waitlist")
	}
	return entries, nil
}

// Depth returns the current queue length.
func (s *WaitlistService) Depth(ctx context.Context, classID string) (int, error) {
	count, err := s.store.Count(ctx, classID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to count waitlist")
	}
	return count, nil
}

// ExpiredOffers lists entries whose seat offers lapsed.
func (s *WaitlistService) ExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	entries, err := s.store.ExpiredOffers(ctx, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to list expired offers")
	}
	return entries, nil
}

// RefreshEstimates recomputes and persists the stored promotion estimate for
// every entry in a class's queue. Per-entry persistence failures are logged
// and skipped; queue order is never affected.
func (s *WaitlistService) RefreshEstimates(ctx context.Context, classID string, cfg models.ClassEnrollmentConfig, now time.Time) error {
	entries, err := s.store.ListByClass(ctx, classID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to list waitlist")
	}
	for i := range entries {
		probability, err := s.EstimateProbability(ctx, classID, entries[i].Position, cfg, now)
		if err != nil {
			continue
		}
		if err := s.store.UpdateProbability(ctx, entries[i].ID, probability); err != nil {
			s.logger.Warn("probability refresh failed",
				zap.String("class_id", classID),
				zap.String("entry_id", entries[i].ID),
				zap.Error(err))
		}
	}
	return nil
}

// EstimateProbability is the promotion chance heuristic for a position under
// the current snapshot: expected seat frees over the remaining window divided
// by queue position. Exact formula is a heuristic choice; the guaranteed
// property is monotonicity — position k's estimate is never below k+1's.
func (s *WaitlistService) EstimateProbability(ctx context.Context, classID string, position int, cfg models.ClassEnrollmentConfig, now time.Time) (float64, error) {
	if position < 1 {
		return 0, nil
	}

	rate := defaultPromotionRate
	if s.stats != nil {
		joined, promoted, err := s.stats.PromotionStats(ctx, classID)
		if err != nil {
			s.logger.Warn("promotion stats unavailable", zap.String("class_id", classID), zap.Error(err))
		} else if joined > 0 {
			rate = float64(promoted) / float64(joined)
		}
	}

	window := remainingWindowFraction(cfg, now)
	expectedFrees := rate * float64(cfg.Capacity) * window
	probability := expectedFrees / float64(position)
	return clamp01(probability), nil
}

func remainingWindowFraction(cfg models.ClassEnrollmentConfig, now time.Time) float64 {
	if cfg.EnrollmentStart == nil || cfg.EnrollmentEnd == nil {
		return 1
	}
	total := cfg.EnrollmentEnd.Sub(*cfg.EnrollmentStart)
	if total <= 0 {
		return 1
	}
	remaining := cfg.EnrollmentEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return math.Min(1, remaining.Seconds()/total.Seconds())
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *WaitlistService) publishDepth(ctx context.Context, classID string) {
	if s.metrics == nil {
		return
	}
	depth, err := s.store.Count(ctx, classID)
	if err != nil {
		return
	}
	s.metrics.SetWaitlistDepth(classID, depth)
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enroll-api/internal/dto"
	"github.com/noah-isme/sma-enroll-api/internal/models"
	"github.com/noah-isme/sma-enroll-api/internal/repository"
	"github.com/noah-isme/sma-enroll-api/pkg/config"
	appErrors "github.com/noah-isme/sma-enroll-api/pkg/errors"
)

type enrollmentStore interface {
	FindActive(ctx context.Context, studentID, classID string) (*models.Enrollment, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	CreateWithAudit(ctx context.Context, enrollment *models.Enrollment, log *models.EnrollmentAuditLog) error
	TransitionWithAudit(ctx context.Context, id string, expected, next models.EnrollmentStatus, updates repository.TransitionUpdates, log *models.EnrollmentAuditLog) error
}

type studentReader interface {
	Profile(ctx context.Context, studentID string) (*models.StudentProfile, error)
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	ListPrerequisites(ctx context.Context, classID string) ([]models.ClassPrerequisite, error)
	ListRestrictions(ctx context.Context, classID string) ([]models.EnrollmentRestriction, error)
}

type capacityLedger interface {
	Counts(ctx context.Context, classID string) (models.ClassSeatCounts, error)
	TryReserveSeat(ctx context.Context, classID string, capacity int) (bool, error)
	ReleaseSeat(ctx context.Context, classID string) (models.ClassSeatCounts, error)
	ReserveWaitlistSlot(ctx context.Context, classID string, waitlistCapacity int) error
	ReleaseWaitlistSlot(ctx context.Context, classID string) (models.ClassSeatCounts, error)
	PublishSnapshot(ctx context.Context, classID string, counts models.ClassSeatCounts)
	CachedSnapshot(ctx context.Context, classID string) (models.ClassSeatCounts, error)
	Reconcile(ctx context.Context, classID string) (models.ClassSeatCounts, error)
}

type waitlistQueue interface {
	Insert(ctx context.Context, entry *models.WaitlistEntry) (int, error)
	RemoveTop(ctx context.Context, classID string) (*models.WaitlistEntry, error)
	Remove(ctx context.Context, classID, studentID string) (bool, error)
	Peek(ctx context.Context, classID string) (*models.WaitlistEntry, error)
	Find(ctx context.Context, classID, studentID string) (*models.WaitlistEntry, error)
	PositionOf(ctx context.Context, classID, studentID string) (int, error)
	MarkOffered(ctx context.Context, entry *models.WaitlistEntry, notifiedAt, expiresAt time.Time) error
	EstimateProbability(ctx context.Context, classID string, position int, cfg models.ClassEnrollmentConfig, now time.Time) (float64, error)
	RefreshEstimates(ctx context.Context, classID string, cfg models.ClassEnrollmentConfig, now time.Time) error
	ExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error)
}

type auditTrail interface {
	Record(action, studentID, classID, actorID string, previous, next models.EnrollmentStatus, reason string, metadata models.AuditMetadata)
}

type eventEmitter interface {
	PublishEnrollment(event models.RealtimeEnrollmentEvent)
	PublishWaitlist(event models.RealtimeWaitlistEvent)
	EmitNotification(payload models.NotificationPayload)
}

// EnrollmentService is the orchestrator: it sequences evaluator, ledger,
// queue, state machine and audit for every admission decision, and is the
// only component that mutates ledger or queue state. All mutations for one
// class run under that class's lock.
type EnrollmentService struct {
	repo      enrollmentStore
	students  studentReader
	classes   classReader
	ledger    capacityLedger
	waitlist  waitlistQueue
	evaluator *EligibilityService
	audit     auditTrail
	events    eventEmitter
	locks     *ClassLocks
	metrics   *MetricsService
	cfg       config.EnrollmentConfig
	offers    config.WaitlistConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs the orchestrator.
func NewEnrollmentService(
	repo enrollmentStore,
	students studentReader,
	classes classReader,
	ledger capacityLedger,
	waitlist waitlistQueue,
	evaluator *EligibilityService,
	audit auditTrail,
	events eventEmitter,
	locks *ClassLocks,
	metrics *MetricsService,
	cfg config.EnrollmentConfig,
	offers config.WaitlistConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = NewClassLocks(cfg.LockShards)
	}
	if evaluator == nil {
		evaluator = NewEligibilityService()
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = 5 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	if cfg.PromotionLoopLimit <= 0 {
		cfg.PromotionLoopLimit = 50
	}
	if offers.OfferTTL <= 0 {
		offers.OfferTTL = 24 * time.Hour
	}
	return &EnrollmentService{
		repo: repo, students: students, classes: classes, ledger: ledger,
		waitlist: waitlist, evaluator: evaluator, audit: audit, events: events,
		locks: locks, metrics: metrics, cfg: cfg, offers: offers, validator: validate, logger: logger,
	}
}

// Enroll decides enrolled, waitlisted or denied for one (student, class)
// pair. StaleState and transient storage failures are retried with backoff;
// eligibility denials and validation failures are terminal.
func (s *EnrollmentService) Enroll(ctx context.Context, actor *models.JWTClaims, req dto.EnrollRequest) (*dto.EnrollmentDecision, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	student, class, prerequisites, restrictions, err := s.loadDecisionInputs(ctx, req.StudentID, req.ClassID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DecisionTimeout)
	defer cancel()

	started := time.Now()
	decision, err := s.withRetries(ctx, func() (*dto.EnrollmentDecision, error) {
		return s.admit(ctx, actor, req, student, class, prerequisites, restrictions)
	})
	if err != nil {
		s.observeDecision("error", started)
		return nil, err
	}
	s.observeDecision(string(decision.Status), started)
	return decision, nil
}

// BulkEnroll processes a list of students against one class. Partial success
// is expected; the result reports every student, none are silently dropped,
// and enrolled outcomes never exceed seats available across the batch.
func (s *EnrollmentService) BulkEnroll(ctx context.Context, actor *models.JWTClaims, req dto.BulkEnrollRequest) (*dto.BulkEnrollmentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk enrollment payload")
	}

	result := &dto.BulkEnrollmentResult{
		BatchID: uuid.NewString(),
		ClassID: req.ClassID,
		Total:   len(req.StudentIDs),
		Items:   make([]dto.EnrollmentDecision, 0, len(req.StudentIDs)),
	}

	for _, studentID := range req.StudentIDs {
		item := dto.EnrollRequest{
			StudentID:     studentID,
			ClassID:       req.ClassID,
			AllowWaitlist: req.AllowWaitlist,
			Overrides:     req.Overrides,
		}
		decision, err := s.Enroll(ctx, actor, item)
		if err != nil {
			result.Rejected++
			result.Items = append(result.Items, failureDecision(studentID, req.ClassID, err))
			continue
		}
		switch decision.Status {
		case models.EnrollmentStatusEnrolled:
			result.Enrolled++
		case models.EnrollmentStatusWaitlisted:
			result.Waitlisted++
		default:
			result.Rejected++
		}
		result.Items = append(result.Items, *decision)
	}

	if s.audit != nil {
		s.audit.Record(models.AuditActionBulkEnroll, "", req.ClassID, actorID(actor), "", "",
			"bulk enrollment processed", models.AuditMetadata{
				BatchID: result.BatchID,
				Extra: map[string]string{
					"total":      strconv.Itoa(result.Total),
					"enrolled":   strconv.Itoa(result.Enrolled),
					"waitlisted": strconv.Itoa(result.Waitlisted),
					"rejected":   strconv.Itoa(result.Rejected),
				},
			})
	}
	return result, nil
}

// Drop releases a seat (or waitlist place) before the drop deadline and
// promotes the next eligible candidate.
func (s *EnrollmentService) Drop(ctx context.Context, actor *models.JWTClaims, studentID, classID, reason string) (*dto.EnrollmentDecision, error) {
	class, err := s.loadClass(ctx, classID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DecisionTimeout)
	defer cancel()

	return s.withRetries(ctx, func() (*dto.EnrollmentDecision, error) {
		unlock := s.locks.Lock(classID)
		defer unlock()

		enrollment, err := s.mustFindActive(ctx, studentID, classID)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()

		switch enrollment.Status {
		case models.EnrollmentStatusEnrolled:
			deadline := enrollment.DropDeadline
			if deadline == nil {
				deadline = class.Config.DropDeadline
			}
			if deadline != nil && now.After(*deadline) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "drop deadline has passed, use withdraw instead")
			}
			if err := s.transition(ctx, enrollment, models.EnrollmentStatusDropped, models.AuditActionDrop, actor, reason, models.AuditMetadata{}); err != nil {
				return nil, err
			}
			s.afterSeatFreed(ctx, class)
			return &dto.EnrollmentDecision{
				Success: true, StudentID: studentID, ClassID: classID,
				Status:  models.EnrollmentStatusDropped,
				Message: "enrollment dropped, the seat was released",
			}, nil

		case models.EnrollmentStatusWaitlisted:
			return s.leaveWaitlistLocked(ctx, actor, enrollment, class, reason)

		default:
			return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is not active")
		}
	})
}

// Withdraw frees a seat after the drop deadline but before the withdraw
// deadline. Recorded with distinct audit semantics from a drop.
func (s *EnrollmentService) Withdraw(ctx context.Context, actor *models.JWTClaims, studentID, classID, reason string) (*dto.EnrollmentDecision, error) {
	class, err := s.loadClass(ctx, classID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DecisionTimeout)
	defer cancel()

	return s.withRetries(ctx, func() (*dto.EnrollmentDecision, error) {
		unlock := s.locks.Lock(classID)
		defer unlock()

		enrollment, err := s.mustFindActive(ctx, studentID, classID)
		if err != nil {
			return nil, err
		}
		if enrollment.Status != models.EnrollmentStatusEnrolled {
			return nil, appErrors.Clone(appErrors.ErrConflict, "only enrolled students may withdraw")
		}
		now := time.Now().UTC()
		dropDeadline := enrollment.DropDeadline
		if dropDeadline == nil {
			dropDeadline = class.Config.DropDeadline
		}
		if dropDeadline != nil && !now.After(*dropDeadline) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "drop deadline has not passed, use drop instead")
		}
		withdrawDeadline := enrollment.WithdrawDeadline
		if withdrawDeadline == nil {
			withdrawDeadline = class.Config.WithdrawDeadline
		}
		if withdrawDeadline != nil && now.After(*withdrawDeadline) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "withdraw deadline has passed")
		}

		if err := s.transition(ctx, enrollment, models.EnrollmentStatusWithdrawn, models.AuditActionWithdraw, actor, reason, models.AuditMetadata{}); err != nil {
			return nil, err
		}
		s.afterSeatFreed(ctx, class)
		return &dto.EnrollmentDecision{
			Success: true, StudentID: studentID, ClassID: classID,
			Status:  models.EnrollmentStatusWithdrawn,
			Message: "enrollment withdrawn, the seat was released",
			NextSteps: []string{
				"contact the registrar about transcript implications",
			},
		}, nil
	})
}

// Complete marks an enrolled student as having finished the class.
func (s *EnrollmentService) Complete(ctx context.Context, actor *models.JWTClaims, studentID, classID string) (*dto.EnrollmentDecision, error) {
	unlock := s.locks.Lock(classID)
	defer unlock()

	enrollment, err := s.mustFindActive(ctx, studentID, classID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusEnrolled {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only enrolled students may complete a class")
	}
	if err := s.transition(ctx, enrollment, models.EnrollmentStatusCompleted, models.AuditActionComplete, actor, "class completed", models.AuditMetadata{}); err != nil {
		return nil, err
	}
	return &dto.EnrollmentDecision{
		Success: true, StudentID: studentID, ClassID: classID,
		Status:  models.EnrollmentStatusCompleted,
		Message: "class completed",
	}, nil
}

// LeaveWaitlist removes a waitlisted student at their own request.
func (s *EnrollmentService) LeaveWaitlist(ctx context.Context, actor *models.JWTClaims, studentID, classID string) (*dto.EnrollmentDecision, error) {
	class, err := s.loadClass(ctx, classID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(classID)
	defer unlock()

	enrollment, err := s.mustFindActive(ctx, studentID, classID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusWaitlisted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student is not on the waitlist")
	}
	return s.leaveWaitlistLocked(ctx, actor, enrollment, class, "left waitlist")
}

// ExpireLapsedOffers sweeps waitlist entries whose seat offers lapsed,
// transitions them to expired and promotes the next candidates.
func (s *EnrollmentService) ExpireLapsedOffers(ctx context.Context) error {
	entries, err := s.waitlist.ExpiredOffers(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, entry := range entries {
		class, err := s.loadClass(ctx, entry.ClassID)
		if err != nil {
			s.logger.Warn("offer expiry skipped", zap.String("class_id", entry.ClassID), zap.Error(err))
			continue
		}
		unlock := s.locks.Lock(entry.ClassID)

		enrollment, err := s.repo.FindActive(ctx, entry.StudentID, entry.ClassID)
		if err == nil && enrollment.Status == models.EnrollmentStatusWaitlisted {
			if err := s.transition(ctx, enrollment, models.EnrollmentStatusExpired, models.AuditActionExpire, nil, "seat offer expired without response", models.AuditMetadata{Position: &entry.Position}); err != nil {
				s.logger.Warn("offer expiry transition failed", zap.String("student_id", entry.StudentID), zap.Error(err))
				unlock()
				continue
			}
			if _, err := s.waitlist.Remove(ctx, entry.ClassID, entry.StudentID); err != nil {
				s.logger.Warn("offer expiry removal failed", zap.String("student_id", entry.StudentID), zap.Error(err))
			}
			s.events.EmitNotification(models.NotificationPayload{
				Type: models.NotificationOfferExpired, StudentID: entry.StudentID, ClassID: entry.ClassID,
			})
			s.afterSeatFreed(ctx, class)
		}
		unlock()
	}
	return nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetCapacity returns the current seat usage for a class. The read path
// prefers the cached snapshot; admission decisions never go through here.
func (s *EnrollmentService) GetCapacity(ctx context.Context, classID string) (*dto.CapacityStatus, error) {
	class, err := s.loadClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	counts, err := s.ledger.CachedSnapshot(ctx, classID)
	if err != nil {
		return nil, err
	}
	available := class.Config.Capacity - counts.Enrolled
	if available < 0 {
		available = 0
	}
	return &dto.CapacityStatus{
		ClassID:          classID,
		Capacity:         class.Config.Capacity,
		Enrolled:         counts.Enrolled,
		SeatsAvailable:   available,
		WaitlistCapacity: class.Config.WaitlistCapacity,
		Waitlisted:       counts.Waitlisted,
	}, nil
}

// GetWaitlistPosition returns a student's position and promotion estimate.
func (s *EnrollmentService) GetWaitlistPosition(ctx context.Context, classID, studentID string) (*dto.WaitlistPosition, error) {
	class, err := s.loadClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	position, err := s.waitlist.PositionOf(ctx, classID, studentID)
	if err != nil {
		return nil, err
	}
	if position == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not on the waitlist")
	}
	probability, err := s.waitlist.EstimateProbability(ctx, classID, position, class.Config, time.Now().UTC())
	if err != nil {
		probability = 0
	}
	return &dto.WaitlistPosition{
		ClassID:     classID,
		StudentID:   studentID,
		Position:    position,
		Probability: probability,
	}, nil
}

// ReconcileClass rebuilds the class's cached seat counts from enrollment
// rows and records the sweep in the audit trail.
func (s *EnrollmentService) ReconcileClass(ctx context.Context, actor *models.JWTClaims, classID string) (*dto.CapacityStatus, error) {
	class, err := s.loadClass(ctx, classID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(classID)
	counts, err := s.ledger.Reconcile(ctx, classID)
	unlock()
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		s.audit.Record(models.AuditActionReconcile, "", classID, actorID(actor), "", "",
			"seat counts reconciled from enrollment rows", models.AuditMetadata{
				Extra: map[string]string{
					"enrolled":   strconv.Itoa(counts.Enrolled),
					"waitlisted": strconv.Itoa(counts.Waitlisted),
				},
			})
	}

	available := class.Config.Capacity - counts.Enrolled
	if available < 0 {
		available = 0
	}
	return &dto.CapacityStatus{
		ClassID:          classID,
		Capacity:         class.Config.Capacity,
		Enrolled:         counts.Enrolled,
		SeatsAvailable:   available,
		WaitlistCapacity: class.Config.WaitlistCapacity,
		Waitlisted:       counts.Waitlisted,
	}, nil
}

// admit is the locked decision core: existing-record check, eligibility,
// seat reservation and fallthrough to waitlist, all while holding the class
// scope so check-then-act stays atomic.
func (s *EnrollmentService) admit(
	ctx context.Context,
	actor *models.JWTClaims,
	req dto.EnrollRequest,
	student *models.StudentProfile,
	class *models.Class,
	prerequisites []models.ClassPrerequisite,
	restrictions []models.EnrollmentRestriction,
) (*dto.EnrollmentDecision, error) {
	unlock := s.locks.Lock(class.ID)
	defer unlock()

	if existing, err := s.repo.FindActive(ctx, req.StudentID, class.ID); err == nil {
		if existing.Status == models.EnrollmentStatusWaitlisted {
			decision, accepted, err := s.acceptOfferLocked(ctx, actor, existing, class)
			if accepted || err != nil {
				return decision, err
			}
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already has an active enrollment for this class")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to check existing enrollment")
	}

	counts, err := s.ledger.Counts(ctx, class.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	verdict := s.evaluator.Evaluate(EligibilityInput{
		Student:          *student,
		Class:            *class,
		Prerequisites:    prerequisites,
		Restrictions:     restrictions,
		Overrides:        req.Overrides,
		ActorID:          actorID(actor),
		ActorCanOverride: actor.CanOverride(),
		AtCapacity:       counts.Enrolled >= class.Config.Capacity,
		Now:              now,
	})

	if !verdict.Eligible {
		if err := s.recordDenial(ctx, actor, req, class, verdict, now); err != nil {
			return nil, err
		}
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrEligibility, "enrollment denied"), verdict)
	}

	if len(verdict.AppliedOverrides) > 0 && s.audit != nil {
		s.audit.Record(models.AuditActionOverride, req.StudentID, class.ID, actorID(actor), "", "",
			"eligibility overrides applied", models.AuditMetadata{AppliedOverrides: verdict.AppliedOverrides})
	}

	reserved, err := s.ledger.TryReserveSeat(ctx, class.ID, class.Config.Capacity)
	if err != nil {
		return nil, err
	}
	if reserved {
		return s.enrollLocked(ctx, actor, req, class, verdict, now)
	}
	if !req.WaitlistAllowed() {
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "class is full and waitlisting was disabled")
	}
	return s.waitlistLocked(ctx, actor, req, class, verdict, now)
}

// acceptOfferLocked converts a standing seat offer into an enrollment when a
// waitlisted student re-requests the class. Reports accepted=false when no
// open offer exists so the caller falls through to the duplicate check.
func (s *EnrollmentService) acceptOfferLocked(ctx context.Context, actor *models.JWTClaims, enrollment *models.Enrollment, class *models.Class) (*dto.EnrollmentDecision, bool, error) {
	entry, err := s.waitlist.Find(ctx, class.ID, enrollment.StudentID)
	if err != nil || entry == nil {
		return nil, false, err
	}
	now := time.Now().UTC()
	if !entry.OfferOpen(now) {
		return nil, false, nil
	}

	reserved, err := s.ledger.TryReserveSeat(ctx, class.ID, class.Config.Capacity)
	if err != nil {
		return nil, true, err
	}
	if !reserved {
		return nil, true, appErrors.Clone(appErrors.ErrCapacityExceeded, "the offered seat is no longer available")
	}

	updates := repository.TransitionUpdates{EnrolledAt: &now}
	log := s.transitionLog(enrollment, models.EnrollmentStatusWaitlisted, models.EnrollmentStatusEnrolled,
		models.AuditActionPromote, actor, "seat offer accepted", models.AuditMetadata{Position: &entry.Position})
	if err := s.repo.TransitionWithAudit(ctx, enrollment.ID, models.EnrollmentStatusWaitlisted, models.EnrollmentStatusEnrolled, updates, log); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, true, appErrors.Clone(appErrors.ErrStaleState, "")
		}
		return nil, true, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to persist promotion")
	}
	if _, err := s.waitlist.Remove(ctx, class.ID, enrollment.StudentID); err != nil {
		s.logger.Warn("waitlist removal failed", zap.String("student_id", enrollment.StudentID), zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordPromotion()
	}
	enrollment.Status = models.EnrollmentStatusEnrolled
	s.publishTransition(ctx, class, enrollment, models.EnrollmentStatusWaitlisted, models.NotificationPromoted)
	return &dto.EnrollmentDecision{
		Success: true, StudentID: enrollment.StudentID, ClassID: class.ID,
		Status:  models.EnrollmentStatusEnrolled,
		Message: "seat offer accepted, enrollment confirmed",
	}, true, nil
}

func (s *EnrollmentService) enrollLocked(ctx context.Context, actor *models.JWTClaims, req dto.EnrollRequest, class *models.Class, verdict models.EligibilityResult, now time.Time) (*dto.EnrollmentDecision, error) {
	enrollment := s.newEnrollment(req, class, models.EnrollmentStatusEnrolled, actor)
	enrollment.EnrolledAt = &now

	log := s.transitionLog(enrollment, models.EnrollmentStatusPending, models.EnrollmentStatusEnrolled,
		models.AuditActionEnroll, actor, "seat reserved", models.AuditMetadata{AppliedOverrides: verdict.AppliedOverrides})
	if err := s.repo.CreateWithAudit(ctx, enrollment, log); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to persist enrollment")
	}

	s.publishTransition(ctx, class, enrollment, models.EnrollmentStatusPending, models.NotificationEnrolled)
	return &dto.EnrollmentDecision{
		Success: true, StudentID: req.StudentID, ClassID: class.ID,
		Status:      models.EnrollmentStatusEnrolled,
		Message:     "enrollment confirmed",
		Eligibility: &verdict,
	}, nil
}

func (s *EnrollmentService) waitlistLocked(ctx context.Context, actor *models.JWTClaims, req dto.EnrollRequest, class *models.Class, verdict models.EligibilityResult, now time.Time) (*dto.EnrollmentDecision, error) {
	if err := s.ledger.ReserveWaitlistSlot(ctx, class.ID, class.Config.WaitlistCapacity); err != nil {
		return nil, err
	}

	enrollment := s.newEnrollment(req, class, models.EnrollmentStatusWaitlisted, actor)
	log := s.transitionLog(enrollment, models.EnrollmentStatusPending, models.EnrollmentStatusWaitlisted,
		models.AuditActionWaitlist, actor, "class at capacity", models.AuditMetadata{AppliedOverrides: verdict.AppliedOverrides})
	if err := s.repo.CreateWithAudit(ctx, enrollment, log); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to persist enrollment")
	}

	entry := &models.WaitlistEntry{
		StudentID: req.StudentID,
		ClassID:   class.ID,
		Priority:  req.Priority,
		AddedAt:   now,
	}
	position, err := s.waitlist.Insert(ctx, entry)
	if err != nil {
		return nil, err
	}
	if err := s.waitlist.RefreshEstimates(ctx, class.ID, class.Config, now); err != nil {
		s.logger.Warn("waitlist estimate refresh failed", zap.String("class_id", class.ID), zap.Error(err))
	}
	probability, err := s.waitlist.EstimateProbability(ctx, class.ID, position, class.Config, now)
	if err != nil {
		probability = 0
	}

	s.publishTransition(ctx, class, enrollment, models.EnrollmentStatusPending, models.NotificationWaitlisted)
	s.events.PublishWaitlist(models.RealtimeWaitlistEvent{
		Type: models.EventPositionChanged, ClassID: class.ID,
		StudentID: req.StudentID, Position: position,
	})

	return &dto.EnrollmentDecision{
		Success: true, StudentID: req.StudentID, ClassID: class.ID,
		Status:      models.EnrollmentStatusWaitlisted,
		Message:     "class is full, added to the waitlist",
		Position:    &position,
		Probability: &probability,
		Eligibility: &verdict,
		NextSteps: []string{
			"you will be promoted automatically when a seat frees",
			"leave the waitlist at any time to stop waiting",
		},
	}, nil
}

func (s *EnrollmentService) recordDenial(ctx context.Context, actor *models.JWTClaims, req dto.EnrollRequest, class *models.Class, verdict models.EligibilityResult, now time.Time) error {
	reasons, _ := json.Marshal(verdict.Reasons)
	enrollment := s.newEnrollment(req, class, models.EnrollmentStatusDenied, actor)
	log := s.transitionLog(enrollment, models.EnrollmentStatusPending, models.EnrollmentStatusDenied,
		models.AuditActionDeny, actor, string(reasons), models.AuditMetadata{AppliedOverrides: verdict.AppliedOverrides})
	if err := s.repo.CreateWithAudit(ctx, enrollment, log); err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to persist denial")
	}
	s.events.EmitNotification(models.NotificationPayload{
		Type: models.NotificationDenied, StudentID: req.StudentID, ClassID: class.ID,
	})
	return nil
}

// afterSeatFreed runs promotion while the class lock is held, then refreshes
// the capacity snapshot and the stored promotion estimates.
func (s *EnrollmentService) afterSeatFreed(ctx context.Context, class *models.Class) {
	s.promoteLocked(ctx, class)
	if counts, err := s.ledger.ReleaseSeat(ctx, class.ID); err == nil {
		s.events.PublishWaitlist(models.RealtimeWaitlistEvent{
			Type: models.EventCapacityChanged, ClassID: class.ID, Depth: counts.Waitlisted,
		})
	}
	if err := s.waitlist.RefreshEstimates(ctx, class.ID, class.Config, time.Now().UTC()); err != nil {
		s.logger.Warn("waitlist estimate refresh failed", zap.String("class_id", class.ID), zap.Error(err))
	}
}

// promoteLocked fills free seats from the waitlist top. Auto-approve classes
// promote the head directly; others extend a time-limited seat offer and hold
// the seat until the offer is accepted or swept after expiry. Each candidate
// is re-evaluated against the current config; ineligible candidates are
// expired and the next one is tried. The loop is bounded so a queue full of
// ineligible students cannot stall the seat-free event.
func (s *EnrollmentService) promoteLocked(ctx context.Context, class *models.Class) {
	direct := class.Config.AutoApprove
	for attempt := 0; ; attempt++ {
		if attempt >= s.cfg.PromotionLoopLimit {
			s.logger.Error("promotion loop hit iteration cap", zap.String("class_id", class.ID))
			if s.metrics != nil {
				s.metrics.RecordPromotionOverflow()
			}
			return
		}

		counts, err := s.ledger.Counts(ctx, class.ID)
		if err != nil || counts.Enrolled >= class.Config.Capacity {
			return
		}

		var entry *models.WaitlistEntry
		if direct {
			entry, err = s.waitlist.RemoveTop(ctx, class.ID)
		} else {
			entry, err = s.waitlist.Peek(ctx, class.ID)
		}
		if err != nil || entry == nil {
			return
		}
		if !direct && entry.NotifiedAt != nil {
			// An offer already stands, or lapsed and awaits the expiry
			// sweep. The seat stays held until it resolves.
			return
		}

		enrollment, err := s.repo.FindActive(ctx, entry.StudentID, class.ID)
		if err != nil || enrollment.Status != models.EnrollmentStatusWaitlisted {
			if !direct {
				if _, err := s.waitlist.Remove(ctx, class.ID, entry.StudentID); err != nil {
					return
				}
			}
			continue
		}

		student, err := s.students.Profile(ctx, entry.StudentID)
		if err != nil {
			s.logger.Warn("promotion candidate profile unavailable", zap.String("student_id", entry.StudentID), zap.Error(err))
			if !direct {
				// The head stays queued; the next seat-free event retries.
				return
			}
			continue
		}
		prerequisites, err := s.classes.ListPrerequisites(ctx, class.ID)
		if err != nil {
			return
		}
		restrictions, err := s.classes.ListRestrictions(ctx, class.ID)
		if err != nil {
			return
		}

		now := time.Now().UTC()
		verdict := s.evaluator.Evaluate(EligibilityInput{
			Student:       *student,
			Class:         *class,
			Prerequisites: prerequisites,
			Restrictions:  restrictions,
			Now:           now,
		})

		if !verdict.Eligible {
			// Discarded, not re-inserted.
			if !direct {
				if _, err := s.waitlist.Remove(ctx, class.ID, entry.StudentID); err != nil {
					return
				}
			}
			if err := s.transition(ctx, enrollment, models.EnrollmentStatusExpired, models.AuditActionExpire, nil, "ineligible at promotion", models.AuditMetadata{Position: &entry.Position}); err != nil {
				s.logger.Warn("promotion discard failed", zap.String("student_id", entry.StudentID), zap.Error(err))
			}
			continue
		}

		if !direct {
			expires := now.Add(s.offers.OfferTTL)
			if err := s.waitlist.MarkOffered(ctx, entry, now, expires); err != nil {
				s.logger.Warn("seat offer failed", zap.String("student_id", entry.StudentID), zap.Error(err))
				return
			}
			s.events.EmitNotification(models.NotificationPayload{
				Type: models.NotificationSeatOffered, StudentID: entry.StudentID, ClassID: class.ID,
				Data: map[string]string{
					"class_code": class.Code,
					"expires_at": expires.Format(time.RFC3339),
				},
			})
			// The seat stays held while the offer stands.
			return
		}

		updates := repository.TransitionUpdates{EnrolledAt: &now}
		log := s.transitionLog(enrollment, models.EnrollmentStatusWaitlisted, models.EnrollmentStatusEnrolled,
			models.AuditActionPromote, nil, "promoted from waitlist", models.AuditMetadata{Position: &entry.Position})
		if err := s.repo.TransitionWithAudit(ctx, enrollment.ID, models.EnrollmentStatusWaitlisted, models.EnrollmentStatusEnrolled, updates, log); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				continue
			}
			s.logger.Error("promotion transition failed", zap.String("student_id", entry.StudentID), zap.Error(err))
			return
		}

		if s.metrics != nil {
			s.metrics.RecordPromotion()
		}
		enrollment.Status = models.EnrollmentStatusEnrolled
		s.publishTransition(ctx, class, enrollment, models.EnrollmentStatusWaitlisted, models.NotificationPromoted)
	}
}

func (s *EnrollmentService) leaveWaitlistLocked(ctx context.Context, actor *models.JWTClaims, enrollment *models.Enrollment, class *models.Class, reason string) (*dto.EnrollmentDecision, error) {
	entry, err := s.waitlist.Find(ctx, enrollment.ClassID, enrollment.StudentID)
	offerHeld := err == nil && entry != nil && entry.NotifiedAt != nil

	if err := s.transition(ctx, enrollment, models.EnrollmentStatusDropped, models.AuditActionWaitlistLeave, actor, reason, models.AuditMetadata{}); err != nil {
		return nil, err
	}
	if _, err := s.waitlist.Remove(ctx, enrollment.ClassID, enrollment.StudentID); err != nil {
		s.logger.Warn("waitlist removal failed", zap.String("student_id", enrollment.StudentID), zap.Error(err))
	}
	if _, err := s.ledger.ReleaseWaitlistSlot(ctx, enrollment.ClassID); err != nil {
		s.logger.Warn("waitlist slot release failed", zap.String("class_id", enrollment.ClassID), zap.Error(err))
	}
	if offerHeld {
		// The held seat goes back into play for the next candidate.
		s.afterSeatFreed(ctx, class)
	} else if err := s.waitlist.RefreshEstimates(ctx, class.ID, class.Config, time.Now().UTC()); err != nil {
		s.logger.Warn("waitlist estimate refresh failed", zap.String("class_id", class.ID), zap.Error(err))
	}
	s.events.PublishWaitlist(models.RealtimeWaitlistEvent{
		Type: models.EventPositionChanged, ClassID: enrollment.ClassID, StudentID: enrollment.StudentID,
	})
	return &dto.EnrollmentDecision{
		Success: true, StudentID: enrollment.StudentID, ClassID: enrollment.ClassID,
		Status:  models.EnrollmentStatusDropped,
		Message: "removed from the waitlist",
	}, nil
}

// transition applies one validated state-machine step with its audit anchor.
func (s *EnrollmentService) transition(ctx context.Context, enrollment *models.Enrollment, next models.EnrollmentStatus, action string, actor *models.JWTClaims, reason string, metadata models.AuditMetadata) error {
	if !models.CanTransition(enrollment.Status, next) {
		return appErrors.Clone(appErrors.ErrConflict, "illegal status transition")
	}
	log := s.transitionLog(enrollment, enrollment.Status, next, action, actor, reason, metadata)
	err := s.repo.TransitionWithAudit(ctx, enrollment.ID, enrollment.Status, next, repository.TransitionUpdates{}, log)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return appErrors.Clone(appErrors.ErrStaleState, "")
		}
		return appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to persist transition")
	}
	previous := enrollment.Status
	enrollment.Status = next
	s.events.PublishEnrollment(models.RealtimeEnrollmentEvent{
		Type: models.EventStatusChanged, ClassID: enrollment.ClassID, StudentID: enrollment.StudentID,
		PreviousStatus: previous, NewStatus: next,
	})
	return nil
}

func (s *EnrollmentService) withRetries(ctx context.Context, op func() (*dto.EnrollmentDecision, error)) (*dto.EnrollmentDecision, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(s.cfg.RetryBackoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, appErrors.Clone(appErrors.ErrDecisionTimeout, "")
			case <-timer.C:
			}
		}
		decision, err := op()
		if err == nil {
			return decision, nil
		}
		if !appErrors.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("retrying enrollment operation", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, lastErr
}

func (s *EnrollmentService) loadDecisionInputs(ctx context.Context, studentID, classID string) (*models.StudentProfile, *models.Class, []models.ClassPrerequisite, []models.EnrollmentRestriction, error) {
	student, err := s.students.Profile(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	class, err := s.loadClass(ctx, classID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	prerequisites, err := s.classes.ListPrerequisites(ctx, classID)
	if err != nil {
		return nil, nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	restrictions, err := s.classes.ListRestrictions(ctx, classID)
	if err != nil {
		return nil, nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load restrictions")
	}
	return student, class, prerequisites, restrictions, nil
}

func (s *EnrollmentService) loadClass(ctx context.Context, classID string) (*models.Class, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return class, nil
}

func (s *EnrollmentService) mustFindActive(ctx context.Context, studentID, classID string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindActive(ctx, studentID, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active enrollment for this class")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *EnrollmentService) newEnrollment(req dto.EnrollRequest, class *models.Class, status models.EnrollmentStatus, actor *models.JWTClaims) *models.Enrollment {
	enrollment := &models.Enrollment{
		StudentID:        req.StudentID,
		ClassID:          class.ID,
		Status:           status,
		Priority:         req.Priority,
		Credits:          class.Credits,
		DropDeadline:     class.Config.DropDeadline,
		WithdrawDeadline: class.Config.WithdrawDeadline,
	}
	if actor != nil && actor.UserID != req.StudentID {
		enrolledBy := actor.UserID
		enrollment.EnrolledBy = &enrolledBy
	}
	return enrollment
}

func (s *EnrollmentService) transitionLog(enrollment *models.Enrollment, previous, next models.EnrollmentStatus, action string, actor *models.JWTClaims, reason string, metadata models.AuditMetadata) *models.EnrollmentAuditLog {
	payload, err := json.Marshal(metadata)
	if err != nil {
		payload = nil
	}
	return &models.EnrollmentAuditLog{
		StudentID:      enrollment.StudentID,
		ClassID:        enrollment.ClassID,
		ActorID:        actorID(actor),
		Action:         action,
		PreviousStatus: previous,
		NewStatus:      next,
		Reason:         reason,
		Metadata:       payload,
	}
}

func (s *EnrollmentService) publishTransition(ctx context.Context, class *models.Class, enrollment *models.Enrollment, previous models.EnrollmentStatus, notification models.NotificationType) {
	s.events.PublishEnrollment(models.RealtimeEnrollmentEvent{
		Type: models.EventStatusChanged, ClassID: class.ID, StudentID: enrollment.StudentID,
		PreviousStatus: previous, NewStatus: enrollment.Status,
	})
	s.events.EmitNotification(models.NotificationPayload{
		Type: notification, StudentID: enrollment.StudentID, ClassID: class.ID,
		Data: map[string]string{"class_code": class.Code, "class_name": class.Name},
	})
	if counts, err := s.ledger.Counts(ctx, class.ID); err == nil {
		s.ledger.PublishSnapshot(ctx, class.ID, counts)
	}
}

func (s *EnrollmentService) observeDecision(outcome string, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDecision(outcome, time.Since(started))
}

func failureDecision(studentID, classID string, err error) dto.EnrollmentDecision {
	appErr := appErrors.FromError(err)
	decision := dto.EnrollmentDecision{
		Success:   false,
		StudentID: studentID,
		ClassID:   classID,
		Message:   appErr.Message,
		Error:     appErr.Code,
	}
	if verdict, ok := appErr.Details.(models.EligibilityResult); ok {
		decision.Eligibility = &verdict
		decision.Status = models.EnrollmentStatusDenied
	}
	return decision
}

func actorID(actor *models.JWTClaims) string {
	if actor == nil {
		return "system"
	}
	return actor.UserID
}


package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// WaitlistRepository owns the ordered waitlist rows for every class.
// Positions among a class's entries always form the dense sequence 1..N;
// every mutation renumbers inside its own transaction.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

const waitlistColumns = `id, student_id, class_id, position, priority, seq,
        estimated_probability, added_at, notified_at, notification_expires_at`

// Insert places the entry at its (priority desc, added_at asc, seq asc)
// position, shifting every entry at or after it by +1. Returns the 1-based
// position. A freshly inserted entry always sorts after existing entries of
// equal priority because its sequence number is the largest.
func (r *WaitlistRepository) Insert(ctx context.Context, entry *models.WaitlistEntry) (int, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin waitlist insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var position int
	const rank = `SELECT COUNT(*) + 1 FROM waitlist_entries WHERE class_id = $1 AND priority >= $2`
	if err := tx.GetContext(ctx, &position, rank, entry.ClassID, entry.Priority); err != nil {
		return 0, fmt.Errorf("rank waitlist entry: %w", err)
	}

	const shift = `UPDATE waitlist_entries SET position = position + 1 WHERE class_id = $1 AND position >= $2`
	if _, err := tx.ExecContext(ctx, shift, entry.ClassID, position); err != nil {
		return 0, fmt.Errorf("shift waitlist positions: %w", err)
	}

	const insert = `INSERT INTO waitlist_entries
        (id, student_id, class_id, position, priority, estimated_probability, added_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING seq`
	err = tx.QueryRowxContext(ctx, insert,
		entry.ID, entry.StudentID, entry.ClassID, position, entry.Priority,
		entry.EstimatedProbability, entry.AddedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return 0, fmt.Errorf("insert waitlist entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit waitlist insert: %w", err)
	}
	entry.Position = position
	return position, nil
}

// Remove deletes a student's entry and closes the gap. Idempotent: removing
// an absent entry reports removed=false with no renumbering side effect.
func (r *WaitlistRepository) Remove(ctx context.Context, classID, studentID string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin waitlist remove: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var position int
	const del = `DELETE FROM waitlist_entries WHERE class_id = $1 AND student_id = $2 RETURNING position`
	if err := tx.GetContext(ctx, &position, del, classID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("remove waitlist entry: %w", err)
	}

	const closeGap = `UPDATE waitlist_entries SET position = position - 1 WHERE class_id = $1 AND position > $2`
	if _, err := tx.ExecContext(ctx, closeGap, classID, position); err != nil {
		return false, fmt.Errorf("renumber waitlist: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit waitlist remove: %w", err)
	}
	return true, nil
}

// Top returns the position-1 entry, or sql.ErrNoRows when the queue is empty.
func (r *WaitlistRepository) Top(ctx context.Context, classID string) (*models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries WHERE class_id = $1 ORDER BY position ASC LIMIT 1`, waitlistColumns)
	var entry models.WaitlistEntry
	if err := r.db.GetContext(ctx, &entry, query, classID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Find returns a student's entry for a class.
func (r *WaitlistRepository) Find(ctx context.Context, classID, studentID string) (*models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries WHERE class_id = $1 AND student_id = $2`, waitlistColumns)
	var entry models.WaitlistEntry
	if err := r.db.GetContext(ctx, &entry, query, classID, studentID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByClass returns the queue in position order.
func (r *WaitlistRepository) ListByClass(ctx context.Context, classID string) ([]models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries WHERE class_id = $1 ORDER BY position ASC`, waitlistColumns)
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, classID); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}

// Count returns the queue depth for a class.
func (r *WaitlistRepository) Count(ctx context.Context, classID string) (int, error) {
	const query = `SELECT COUNT(*) FROM waitlist_entries WHERE class_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, classID); err != nil {
		return 0, fmt.Errorf("count waitlist: %w", err)
	}
	return count, nil
}

// UpdateProbability persists a refreshed estimate for an entry.
func (r *WaitlistRepository) UpdateProbability(ctx context.Context, id string, probability float64) error {
	const query = `UPDATE waitlist_entries SET estimated_probability = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, probability); err != nil {
		return fmt.Errorf("update waitlist probability: %w", err)
	}
	return nil
}

// MarkNotified stamps a seat offer on an entry.
func (r *WaitlistRepository) MarkNotified(ctx context.Context, id string, notifiedAt, expiresAt time.Time) error {
	const query = `UPDATE waitlist_entries SET notified_at = $2, notification_expires_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, notifiedAt, expiresAt); err != nil {
		return fmt.Errorf("mark waitlist notified: %w", err)
	}
	return nil
}

// ExpiredOffers returns entries whose seat offer lapsed without a response.
func (r *WaitlistRepository) ExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries
        WHERE notification_expires_at IS NOT NULL AND notification_expires_at < $1
        ORDER BY class_id, position ASC`, waitlistColumns)
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, now); err != nil {
		return nil, fmt.Errorf("list expired offers: %w", err)
	}
	return entries, nil
}

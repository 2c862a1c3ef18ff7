package models

import "time"

// WaitlistEntry is one student's place in a class waitlist. Positions are
// 1-based and dense: active entries for a class always form 1..N.
type WaitlistEntry struct {
	ID                    string     `db:"id" json:"id"`
	StudentID             string     `db:"student_id" json:"student_id"`
	ClassID               string     `db:"class_id" json:"class_id"`
	Position              int        `db:"position" json:"position"`
	Priority              int        `db:"priority" json:"priority"`
	Seq                   int64      `db:"seq" json:"-"`
	EstimatedProbability  float64    `db:"estimated_probability" json:"estimated_probability"`
	AddedAt               time.Time  `db:"added_at" json:"added_at"`
	NotifiedAt            *time.Time `db:"notified_at" json:"notified_at,omitempty"`
	NotificationExpiresAt *time.Time `db:"notification_expires_at" json:"notification_expires_at,omitempty"`
}

// OfferOpen reports whether the entry holds a seat offer that has not lapsed.
func (e WaitlistEntry) OfferOpen(now time.Time) bool {
	return e.NotifiedAt != nil && e.NotificationExpiresAt != nil && now.Before(*e.NotificationExpiresAt)
}

// OrderedBefore reports whether e precedes other in the queue's total order:
// priority desc, then added_at asc, then insertion sequence asc. The sequence
// column breaks ties when clock coarseness yields equal timestamps, so two
// entries can never share a position.
func (e WaitlistEntry) OrderedBefore(other WaitlistEntry) bool {
	if e.Priority != other.Priority {
		return e.Priority > other.Priority
	}
	if !e.AddedAt.Equal(other.AddedAt) {
		return e.AddedAt.Before(other.AddedAt)
	}
	return e.Seq < other.Seq
}

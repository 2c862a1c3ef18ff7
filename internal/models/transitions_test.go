package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    EnrollmentStatus
		to      EnrollmentStatus
		allowed bool
	}{
		{EnrollmentStatusPending, EnrollmentStatusEnrolled, true},
		{EnrollmentStatusPending, EnrollmentStatusWaitlisted, true},
		{EnrollmentStatusPending, EnrollmentStatusDenied, true},
		{EnrollmentStatusPending, EnrollmentStatusDropped, false},
		{EnrollmentStatusEnrolled, EnrollmentStatusDropped, true},
		{EnrollmentStatusEnrolled, EnrollmentStatusWithdrawn, true},
		{EnrollmentStatusEnrolled, EnrollmentStatusCompleted, true},
		{EnrollmentStatusEnrolled, EnrollmentStatusWaitlisted, false},
		{EnrollmentStatusWaitlisted, EnrollmentStatusEnrolled, true},
		{EnrollmentStatusWaitlisted, EnrollmentStatusDropped, true},
		{EnrollmentStatusWaitlisted, EnrollmentStatusExpired, true},
		{EnrollmentStatusWaitlisted, EnrollmentStatusDenied, false},
		{EnrollmentStatusDenied, EnrollmentStatusEnrolled, false},
		{EnrollmentStatusCompleted, EnrollmentStatusEnrolled, false},
		{EnrollmentStatusExpired, EnrollmentStatusWaitlisted, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.allowed, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatusesHaveNoSuccessors(t *testing.T) {
	for _, status := range []EnrollmentStatus{
		EnrollmentStatusDenied,
		EnrollmentStatusDropped,
		EnrollmentStatusWithdrawn,
		EnrollmentStatusCompleted,
		EnrollmentStatusExpired,
	} {
		assert.True(t, status.IsTerminal())
		assert.Empty(t, NextStatuses(status))
	}
}

func TestActiveStatuses(t *testing.T) {
	assert.True(t, EnrollmentStatusPending.IsActive())
	assert.True(t, EnrollmentStatusEnrolled.IsActive())
	assert.True(t, EnrollmentStatusWaitlisted.IsActive())
	assert.False(t, EnrollmentStatusDropped.IsActive())
	assert.False(t, EnrollmentStatusDenied.IsActive())
}

func TestWaitlistOrderedBefore(t *testing.T) {
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	higher := WaitlistEntry{Priority: 5, AddedAt: base.Add(time.Hour), Seq: 9}
	lower := WaitlistEntry{Priority: 1, AddedAt: base, Seq: 1}
	assert.True(t, higher.OrderedBefore(lower))

	earlier := WaitlistEntry{Priority: 1, AddedAt: base, Seq: 2}
	later := WaitlistEntry{Priority: 1, AddedAt: base.Add(time.Minute), Seq: 3}
	assert.True(t, earlier.OrderedBefore(later))

	// Equal priority and timestamp: insertion sequence breaks the tie.
	first := WaitlistEntry{Priority: 1, AddedAt: base, Seq: 4}
	second := WaitlistEntry{Priority: 1, AddedAt: base, Seq: 5}
	assert.True(t, first.OrderedBefore(second))
	assert.False(t, second.OrderedBefore(first))
}

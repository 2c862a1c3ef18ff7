package models

// allowedTransitions encodes the enrollment state machine. Every status
// change is validated here before the conditional write is attempted.
var allowedTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentStatusPending: {
		EnrollmentStatusEnrolled,
		EnrollmentStatusWaitlisted,
		EnrollmentStatusDenied,
	},
	EnrollmentStatusEnrolled: {
		EnrollmentStatusDropped,
		EnrollmentStatusWithdrawn,
		EnrollmentStatusCompleted,
	},
	EnrollmentStatusWaitlisted: {
		EnrollmentStatusEnrolled,
		EnrollmentStatusDropped,
		EnrollmentStatusExpired,
	},
}

// CanTransition reports whether from → to is a legal single step.
func CanTransition(from, to EnrollmentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal successors of a status.
func NextStatuses(from EnrollmentStatus) []EnrollmentStatus {
	next := allowedTransitions[from]
	out := make([]EnrollmentStatus, len(next))
	copy(out, next)
	return out
}

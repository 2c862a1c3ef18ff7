package models

import "time"

// EnrollmentEventType classifies realtime enrollment events.
type EnrollmentEventType string

const (
	EventStatusChanged   EnrollmentEventType = "STATUS_CHANGED"
	EventPositionChanged EnrollmentEventType = "POSITION_CHANGED"
	EventCapacityChanged EnrollmentEventType = "CAPACITY_CHANGED"
)

// RealtimeEnrollmentEvent is emitted after each committed transition.
// Delivery and ordering to subscribers is the bus's responsibility.
type RealtimeEnrollmentEvent struct {
	Type           EnrollmentEventType `json:"type"`
	ClassID        string              `json:"class_id"`
	StudentID      string              `json:"student_id"`
	PreviousStatus EnrollmentStatus    `json:"previous_status,omitempty"`
	NewStatus      EnrollmentStatus    `json:"new_status,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
}

// RealtimeWaitlistEvent notifies position and depth changes for a class.
type RealtimeWaitlistEvent struct {
	Type      EnrollmentEventType `json:"type"`
	ClassID   string              `json:"class_id"`
	StudentID string              `json:"student_id,omitempty"`
	Position  int                 `json:"position,omitempty"`
	Depth     int                 `json:"depth"`
	Timestamp time.Time           `json:"timestamp"`
}

// NotificationType enumerates out-of-band notifications the engine produces.
// Delivery transport lives outside this service.
type NotificationType string

const (
	NotificationEnrolled     NotificationType = "ENROLLMENT_CONFIRMED"
	NotificationWaitlisted   NotificationType = "WAITLIST_JOINED"
	NotificationPromoted     NotificationType = "WAITLIST_PROMOTED"
	NotificationDenied       NotificationType = "ENROLLMENT_DENIED"
	NotificationDropped      NotificationType = "ENROLLMENT_DROPPED"
	NotificationOfferExpired NotificationType = "WAITLIST_OFFER_EXPIRED"
	NotificationSeatOffered  NotificationType = "WAITLIST_SEAT_OFFERED"
)

// NotificationPayload is the event payload handed to the dispatch
// collaborator. The engine does not wait for delivery confirmation.
type NotificationPayload struct {
	Type      NotificationType  `json:"type"`
	StudentID string            `json:"student_id"`
	ClassID   string            `json:"class_id"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

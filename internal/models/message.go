package models

import "time"

// MessageKind classifies outbox entries.
type MessageKind string

const (
	MessageWelcome      MessageKind = "WELCOME"
	MessageExpiryNotice MessageKind = "EXPIRY_NOTICE"
)

// Message is a queued notification awaiting delivery by the host.
type Message struct {
	ID          string      `db:"id" json:"id"`
	Kind        MessageKind `db:"kind" json:"kind"`
	CourseID    string      `db:"course_id" json:"course_id"`
	RecipientID string      `db:"recipient_id" json:"recipient_id"`
	SenderID    string      `db:"sender_id" json:"sender_id,omitempty"`
	SenderName  string      `db:"sender_name" json:"sender_name"`
	SenderEmail string      `db:"sender_email" json:"sender_email"`
	Subject     string      `db:"subject" json:"subject"`
	BodyText    string      `db:"body_text" json:"body_text"`
	BodyHTML    string      `db:"body_html" json:"body_html"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	SentAt      *time.Time  `db:"sent_at" json:"sent_at,omitempty"`
}

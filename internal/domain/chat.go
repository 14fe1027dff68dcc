package domain

import "time"

// ChatStatus is the state of a live chat session
type ChatStatus string

const (
	ChatWaiting ChatStatus = "waiting"
	ChatActive  ChatStatus = "active"
	ChatClosed  ChatStatus = "closed"
)

// Valid reports whether s is a known chat status
func (s ChatStatus) Valid() bool {
	return s == ChatWaiting || s == ChatActive || s == ChatClosed
}

// Chat message sender types
const (
	SenderVisitor = "visitor"
	SenderStaff   = "staff"
	SenderSystem  = "system"
)

// ChatSession is a support conversation started from the public site
type ChatSession struct {
	ID           string     `json:"id"`
	VisitorName  string     `json:"visitor_name"`
	VisitorEmail string     `json:"visitor_email,omitempty"`
	Subject      string     `json:"subject,omitempty"`
	Status       ChatStatus `json:"status"`
	AssignedTo   *int64     `json:"assigned_to,omitempty"`
	AssignedName string     `json:"assigned_name,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// ChatMessage is a single line in a chat session
type ChatMessage struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	SenderType string    `json:"sender_type"`
	SenderName string    `json:"sender_name"`
	UserID     *int64    `json:"user_id,omitempty"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// MissedChat records a session nobody on staff answered in time
type MissedChat struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	VisitorName  string    `json:"visitor_name"`
	VisitorEmail string    `json:"visitor_email,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	WaitingSince time.Time `json:"waiting_since"`
	DetectedAt   time.Time `json:"detected_at"`
	Notified     int       `json:"notified"`
}

package domain

import "time"

// Event types for the event bus and WebSocket notifications
const (
	EventServerUpdate        = "server_update"
	EventPlayerJoin          = "player_join"
	EventPlayerLeave         = "player_leave"
	EventApplicationSubmit   = "application_submitted"
	EventApplicationReviewed = "application_reviewed"
	EventApplicationWithdraw = "application_withdrawn"
	EventChatStarted         = "chat_started"
	EventChatMessage         = "chat_message"
	EventChatClosed          = "chat_closed"
	EventMissedChat          = "missed_chat"
	EventKillSwitch          = "kill_switch"
	EventPaymentReceived     = "payment_received"
	EventRoleSync            = "role_sync"
)

// Event represents a real-time event for the bus and WebSocket broadcast.
// ChatSessionID is set on chat events so visitor sockets can be filtered.
type Event struct {
	Type          string    `json:"event"`
	ServerID      int64     `json:"server_id,omitempty"`
	ChatSessionID string    `json:"chat_session_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Data          any       `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time
func NewEvent(eventType string, data any) Event {
	return Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}
}

// IsChatEvent reports whether the event belongs to a chat conversation
func (e Event) IsChatEvent() bool {
	switch e.Type {
	case EventChatStarted, EventChatMessage, EventChatClosed:
		return true
	}
	return false
}

// PlayerJoinEvent is sent when a player connects
type PlayerJoinEvent struct {
	Player PlayerStatus `json:"player"`
}

// PlayerLeaveEvent is sent when a player disconnects
type PlayerLeaveEvent struct {
	PlayerName string `json:"player_name"`
	DiscordID  string `json:"discord_id,omitempty"`
}

// ApplicationEvent is sent on submission, review and withdrawal
type ApplicationEvent struct {
	ApplicationID int64             `json:"application_id"`
	TypeName      string            `json:"type_name"`
	ApplicantName string            `json:"applicant_name"`
	Status        ApplicationStatus `json:"status"`
	ReviewedBy    string            `json:"reviewed_by,omitempty"`
}

// KillSwitchEvent is sent when the kill switch is toggled
type KillSwitchEvent struct {
	Active    bool   `json:"active"`
	Reason    string `json:"reason,omitempty"`
	UpdatedBy string `json:"updated_by"`
}

// PaymentEvent is sent when a checkout completes
type PaymentEvent struct {
	PackageName   string `json:"package_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
}

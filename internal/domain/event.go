package domain

import "time"

// EventType enumerates the closed set of security audit events.
type EventType string

const (
	EventMagicLinkRequested   EventType = "magic_link_requested"
	EventMagicLinkSent        EventType = "magic_link_sent"
	EventMagicLinkVerified    EventType = "magic_link_verified"
	EventMagicLinkFailed      EventType = "magic_link_failed"
	EventMagicLinkExpired     EventType = "magic_link_expired"
	EventMagicLinkAlreadyUsed EventType = "magic_link_already_used"
	EventSessionCreated       EventType = "session_created"
	EventSessionExtended      EventType = "session_extended"
	EventSessionExpired       EventType = "session_expired"
	EventSessionRevoked       EventType = "session_revoked"
	EventRateLimited          EventType = "rate_limited"
	EventUserCreated          EventType = "user_created"
	EventUserDeactivated      EventType = "user_deactivated"
	EventUserActivated        EventType = "user_activated"
)

// SecurityEvent is an append-only audit record. Rows are only ever inserted,
// and only bulk-deleted by the rotation job after archival.
type SecurityEvent struct {
	ID        string
	Type      EventType
	Email     string
	UserID    string
	IPAddress string
	UserAgent string
	Details   map[string]any
	CreatedAt time.Time
}

package audit

import (
	"context"
	"time"
)

type EventType string

const (
	EventOTPRequested      EventType = "otp_requested"
	EventOTPRateLimited    EventType = "otp_rate_limited"
	EventOTPVerified       EventType = "otp_verified"
	EventOTPRejected       EventType = "otp_rejected"
	EventMagicLinkIssued   EventType = "magic_link_issued"
	EventMagicLinkVerified EventType = "magic_link_verified"
	EventMagicLinkRejected EventType = "magic_link_rejected"
	EventSessionRevoked    EventType = "session_revoked"
)

// Event is one authentication outcome. It never carries a secret.
type Event struct {
	ID         string    `json:"event_id"`
	Type       EventType `json:"event_type"`
	SubjectKey string    `json:"subject_key,omitempty"`
	IdentityID string    `json:"identity_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Recorder accepts events without blocking the caller.
type Recorder interface {
	Record(event Event)
}

// Sink persists a batch of events.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(Event) {}

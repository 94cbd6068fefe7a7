package models

import (
	"encoding/json"
	"time"
)

// EventType categorizes desk events.
type EventType string

const (
	// Ticket list events
	EventTypeTicketsRefreshed  EventType = "tickets.refreshed"
	EventTypeTicketRepublished EventType = "ticket.republished"
	EventTypeTicketDeepLinked  EventType = "ticket.deeplinked"
	EventTypeTicketStatus      EventType = "ticket.status_changed"
	EventTypeSyncFailed        EventType = "sync.failed"

	// Conversation events
	EventTypeMessageSent    EventType = "message.sent"
	EventTypeMessageDeleted EventType = "message.deleted"
	EventTypeReactionToggle EventType = "reaction.toggled"

	// Presence events
	EventTypeTypingChanged EventType = "typing.changed"
)

// Event is a notification emitted by the desk controllers.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// TicketID is the ticket the event concerns, empty for list-wide events.
	TicketID string `json:"ticket_id,omitempty"`

	// MessageID is set for message and reaction events.
	MessageID string `json:"message_id,omitempty"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RefreshedPayload is the payload for tickets.refreshed events.
type RefreshedPayload struct {
	Count    int `json:"count"`
	Sequence int `json:"sequence"`
}

// SyncFailedPayload is the payload for sync.failed events.
type SyncFailedPayload struct {
	Kind    string `json:"kind"`
	Error   string `json:"error"`
	Visible bool   `json:"visible"`
}

// TypingPayload is the payload for typing.changed events.
type TypingPayload struct {
	Visible  bool   `json:"visible"`
	Username string `json:"username,omitempty"`
}

// StatusPayload is the payload for ticket.status_changed events.
type StatusPayload struct {
	Status TicketStatus `json:"status"`
}

// ReactionPayload is the payload for reaction.toggled events.
type ReactionPayload struct {
	Removed bool   `json:"removed"`
	Emoji   string `json:"emoji,omitempty"`
}

// DecodePayload unmarshals the event payload into out.
func (e Event) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}

// WithMessage sets MessageID and returns e for chaining.
func (e *Event) WithMessage(messageID string) *Event {
	e.MessageID = messageID
	return e
}

// Package desk is the agent-side conversation engine of the support desk.
//
// A Synchronizer polls the ticket list and republishes the open ticket after
// every successful poll. A Conversation overlays optimistic edits on that
// ticket until the next republish replaces them wholesale. ReactionToggler,
// TypingBridge and Uploader work against the open ticket directly.
//
// Every controller guards its state with its own mutex, never holds it across
// a Transport call, and hands out deep copies.
package desk

import (
	"context"
	"errors"
	"io"

	"github.com/labelhub/supportdesk/internal/models"
	"github.com/labelhub/supportdesk/internal/state"
)

// Transport is the backend the controllers talk to. api.Client implements it.
type Transport interface {
	ListTickets(ctx context.Context) ([]models.Ticket, error)
	MarkRead(ctx context.Context, ticketID string) error
	UpdateTicket(ctx context.Context, ticketID string, update models.TicketUpdate) error
	SendMessage(ctx context.Context, ticketID string, msg models.NewMessage) (models.Message, error)
	DeleteMessage(ctx context.Context, ticketID, messageID string) error
	ToggleReaction(ctx context.Context, ticketID, messageID string) (models.ToggleOutcome, error)
	Typing(ctx context.Context, ticketID string) (models.TypingState, error)
	SetTyping(ctx context.Context, ticketID string, state models.TypingState) error
	Upload(ctx context.Context, name, contentType string, content io.Reader) (string, error)
}

// DraftStore persists unsent replies per ticket. *state.Store implements it;
// a nil *state.Store is a valid no-op store.
type DraftStore interface {
	Draft(ticketID string) (state.Draft, bool)
	SetDraft(d state.Draft)
	DeleteDraft(ticketID string)
}

// PreferenceStore persists desk preferences.
type PreferenceStore interface {
	Preferences() state.Preferences
	SetPreferences(p state.Preferences)
}

var (
	// ErrNoTicket is returned by conversation operations when no ticket is open.
	ErrNoTicket = errors.New("no ticket is open")

	// ErrTicketNotFound is returned when a ticket id is not in the loaded list.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrMessageNotFound is returned when a message id is not in the open thread.
	ErrMessageNotFound = errors.New("message not found")

	// ErrTogglePending is returned when a reaction toggle for the same message
	// is still in flight. No request is made.
	ErrTogglePending = errors.New("reaction toggle already in progress")

	// ErrSendInProgress is returned when a reply is already being sent.
	ErrSendInProgress = errors.New("a reply is already being sent")
)

// Package models defines the support desk data types shared by the transport
// and the conversation engine.
package models

import (
	"strings"
	"time"
)

// TicketStatus is the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusPending    TicketStatus = "pending"
	TicketStatusClosed     TicketStatus = "closed"
)

// Valid reports whether s is one of the known statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusPending, TicketStatusClosed:
		return true
	default:
		return false
	}
}

// ParseTicketStatus normalizes user input into a TicketStatus.
func ParseTicketStatus(raw string) (TicketStatus, error) {
	status := TicketStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// ReleaseSummary is the denormalized release linked to a ticket.
type ReleaseSummary struct {
	ID          string    `json:"id"`
	Artist      string    `json:"artist"`
	Title       string    `json:"title"`
	ArtworkURL  string    `json:"artwork_url,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	ReleaseCode string    `json:"release_code,omitempty"`
}

// TransactionSummary is the denormalized payout/finance record linked to a ticket.
type TransactionSummary struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      float64   `json:"amount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Ticket is a support conversation between a platform user and an agent.
type Ticket struct {
	ID       string       `json:"id"`
	UserID   string       `json:"user_id"`
	Subject  string       `json:"subject"`
	Status   TicketStatus `json:"status"`
	Priority string       `json:"priority,omitempty"`
	Category string       `json:"category,omitempty"`

	UserEmail    string `json:"user_email,omitempty"`
	UserNickname string `json:"user_nickname,omitempty"`
	UserTelegram string `json:"user_telegram,omitempty"`
	UserAvatar   string `json:"user_avatar,omitempty"`
	UserRole     string `json:"user_role,omitempty"`

	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastMessageAt      time.Time  `json:"last_message_at"`
	LastAdminMessageAt *time.Time `json:"last_admin_message_at"`
	AdminReadAt        *time.Time `json:"admin_read_at"`
	ArchivedAt         *time.Time `json:"archived_at"`

	ReleaseID   string              `json:"release_id,omitempty"`
	Release     *ReleaseSummary     `json:"release,omitempty"`
	Transaction *TransactionSummary `json:"transaction,omitempty"`

	Messages []Message `json:"ticket_messages"`
}

// Archived reports whether the ticket has been soft-closed.
func (t Ticket) Archived() bool {
	return t.ArchivedAt != nil && !t.ArchivedAt.IsZero()
}

// NeedsResponse reports whether the ticket is waiting on the agent: it was
// never read, or the owner wrote after the last agent message.
func (t Ticket) NeedsResponse() bool {
	if t.AdminReadAt == nil {
		return true
	}
	if t.LastMessageAt.IsZero() {
		return false
	}
	if t.LastAdminMessageAt == nil {
		return true
	}
	return t.LastMessageAt.After(*t.LastAdminMessageAt)
}

// MessageIndex returns the position of the message with id, or -1.
func (t Ticket) MessageIndex(id string) int {
	for i := range t.Messages {
		if t.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the ticket.
func (t Ticket) Clone() Ticket {
	out := t
	out.LastAdminMessageAt = cloneTime(t.LastAdminMessageAt)
	out.AdminReadAt = cloneTime(t.AdminReadAt)
	out.ArchivedAt = cloneTime(t.ArchivedAt)
	if t.Release != nil {
		release := *t.Release
		out.Release = &release
	}
	if t.Transaction != nil {
		tx := *t.Transaction
		out.Transaction = &tx
	}
	if t.Messages != nil {
		out.Messages = make([]Message, len(t.Messages))
		for i := range t.Messages {
			out.Messages[i] = t.Messages[i].Clone()
		}
	}
	return out
}

// CloneTickets deep-copies a ticket list.
func CloneTickets(tickets []Ticket) []Ticket {
	if tickets == nil {
		return nil
	}
	out := make([]Ticket, len(tickets))
	for i := range tickets {
		out[i] = tickets[i].Clone()
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TicketUpdate is the PATCH payload for ticket-level fields. Closing a ticket
// also archives it.
type TicketUpdate struct {
	Status     TicketStatus `json:"status"`
	ArchivedAt *time.Time   `json:"archived_at,omitempty"`
}


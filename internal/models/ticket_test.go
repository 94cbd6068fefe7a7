package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeThreadSortsAndDedupes(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	input := []Message{
		{ID: "m3", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "m1", CreatedAt: base},
		{ID: "m2", CreatedAt: base.Add(time.Minute)},
		{ID: "m1", CreatedAt: base, Body: "duplicate"},
	}

	out := NormalizeThread(input)
	require.Len(t, out, 3)
	require.Equal(t, []string{"m1", "m2", "m3"}, []string{out[0].ID, out[1].ID, out[2].ID})
	require.Empty(t, out[0].Body)
	require.Equal(t, "m3", input[0].ID, "input must not be reordered")
}

func TestTicketCloneIsDeep(t *testing.T) {
	archived := time.Now().UTC()
	ticket := Ticket{
		ID:         "t1",
		ArchivedAt: &archived,
		Release:    &ReleaseSummary{ID: "r1"},
		Messages: []Message{{
			ID:        "m1",
			Images:    []string{"a"},
			Reactions: []Reaction{{UserID: "u1", User: &ReactionActor{Nickname: "n"}}},
		}},
	}

	clone := ticket.Clone()
	clone.Messages[0].Images[0] = "b"
	clone.Messages[0].Reactions[0].User.Nickname = "changed"
	clone.Release.ID = "r2"
	*clone.ArchivedAt = archived.Add(time.Hour)

	require.Equal(t, "a", ticket.Messages[0].Images[0])
	require.Equal(t, "n", ticket.Messages[0].Reactions[0].User.Nickname)
	require.Equal(t, "r1", ticket.Release.ID)
	require.True(t, ticket.ArchivedAt.Equal(archived))
}

func TestTicketNeedsResponse(t *testing.T) {
	now := time.Now().UTC()
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name   string
		ticket Ticket
		want   bool
	}{
		{name: "never read", ticket: Ticket{LastMessageAt: now}, want: true},
		{name: "no admin reply", ticket: Ticket{AdminReadAt: &now, LastMessageAt: now}, want: true},
		{name: "owner wrote after admin", ticket: Ticket{AdminReadAt: &now, LastMessageAt: now, LastAdminMessageAt: &earlier}, want: true},
		{name: "admin answered last", ticket: Ticket{AdminReadAt: &now, LastMessageAt: earlier, LastAdminMessageAt: &now}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.ticket.NeedsResponse())
		})
	}
}

func TestResolveReply(t *testing.T) {
	thread := []Message{{ID: "m1"}, {ID: "m2", ReplyToID: "m1"}, {ID: "m3", ReplyToID: "m9"}, {ID: "m4", ReplyToID: "m5"}, {ID: "m5"}}

	target, ok := ResolveReply(thread, thread[1])
	require.True(t, ok)
	require.Equal(t, "m1", target.ID)

	_, ok = ResolveReply(thread, thread[2])
	require.False(t, ok, "missing target is unresolved")

	_, ok = ResolveReply(thread, thread[3])
	require.False(t, ok, "later target is unresolved")
}

func TestParseTicketStatus(t *testing.T) {
	status, err := ParseTicketStatus(" In_Progress ")
	require.NoError(t, err)
	require.Equal(t, TicketStatusInProgress, status)

	_, err = ParseTicketStatus("archived")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

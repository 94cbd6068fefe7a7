package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, path string, debounce time.Duration) *Store {
	t.Helper()
	s, err := Open(context.Background(), path, debounce)
	require.NoError(t, err)
	return s
}

func TestDraftSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s := openTestStore(t, path, time.Hour)
	s.SetDraft(Draft{TicketID: "t-1", Body: "Hello", Images: []string{"https://cdn/a.png"}, ReplyToID: "m-1"})
	s.SetPreferences(Preferences{ShowArchived: true, StatusFilter: "pending"})
	require.NoError(t, s.Close())

	reopened := openTestStore(t, path, time.Hour)
	defer reopened.Close()

	d, ok := reopened.Draft("t-1")
	require.True(t, ok)
	require.Equal(t, "Hello", d.Body)
	require.Equal(t, []string{"https://cdn/a.png"}, d.Images)
	require.Equal(t, "m-1", d.ReplyToID)
	require.False(t, d.UpdatedAt.IsZero())
	require.Equal(t, Preferences{ShowArchived: true, StatusFilter: "pending"}, reopened.Preferences())
}

func TestEmptyDraftDeletes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s := openTestStore(t, path, time.Hour)
	s.SetDraft(Draft{TicketID: "t-1", Body: "keep me"})
	require.NoError(t, s.SaveNow(context.Background()))

	s.SetDraft(Draft{TicketID: "t-1", Body: "   "})
	_, ok := s.Draft("t-1")
	require.False(t, ok)
	require.NoError(t, s.Close())

	reopened := openTestStore(t, path, time.Hour)
	defer reopened.Close()
	_, ok = reopened.Draft("t-1")
	require.False(t, ok)
}

func TestDebouncedSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s := openTestStore(t, path, 20*time.Millisecond)
	defer s.Close()
	s.SetDraft(Draft{TicketID: "t-2", Body: "typing"})

	require.Eventually(t, func() bool {
		var body string
		err := s.db.QueryRow(`SELECT body FROM drafts WHERE ticket_id = ?`, "t-2").Scan(&body)
		return err == nil && body == "typing"
	}, time.Second, 10*time.Millisecond)
}

func TestDraftReturnsCopy(t *testing.T) {
	s := openTestStore(t, ":memory:", time.Hour)
	defer s.Close()

	s.SetDraft(Draft{TicketID: "t-1", Body: "x", Images: []string{"a"}})
	d, _ := s.Draft("t-1")
	d.Images[0] = "b"

	again, _ := s.Draft("t-1")
	require.Equal(t, "a", again.Images[0])
}

func TestNilStoreIsInert(t *testing.T) {
	var s *Store
	s.SetDraft(Draft{TicketID: "t-1", Body: "x"})
	_, ok := s.Draft("t-1")
	require.False(t, ok)
	require.Equal(t, Preferences{}, s.Preferences())
	require.NoError(t, s.Close())
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ", 0)
	require.Error(t, err)
}

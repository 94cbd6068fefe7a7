package desk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelhub/supportdesk/internal/errs"
	"github.com/labelhub/supportdesk/internal/events"
	"github.com/labelhub/supportdesk/internal/models"
)

func newTestSync(t *testing.T, transport Transport) *Synchronizer {
	t.Helper()
	return NewSynchronizer(transport, testSession(), SynchronizerOptions{Interval: 10 * time.Millisecond})
}

func TestRefreshSortsTicketsAndNormalizesThreads(t *testing.T) {
	older := ticketFixture("t-old", testBase,
		msgFixture("m-3", 3*time.Minute),
		msgFixture("m-1", time.Minute),
		msgFixture("m-3", 3*time.Minute),
		msgFixture("m-2", 2*time.Minute),
	)
	newer := ticketFixture("t-new", testBase.Add(time.Hour))
	transport := newFakeTransport(older, newer)
	s := newTestSync(t, transport)

	require.NoError(t, s.Refresh(context.Background(), true))

	tickets := s.Tickets()
	require.Len(t, tickets, 2)
	require.Equal(t, "t-new", tickets[0].ID)
	require.Equal(t, "t-old", tickets[1].ID)
	require.NotNil(t, tickets[0].Messages)

	var ids []string
	for _, m := range tickets[1].Messages {
		ids = append(ids, m.ID)
	}
	require.Equal(t, []string{"m-1", "m-2", "m-3"}, ids)

	st := s.Status()
	require.False(t, st.Loading)
	require.NoError(t, st.Err)
	require.False(t, st.LastRefresh.IsZero())
}

func TestRefreshFailurePreservesList(t *testing.T) {
	transport := newFakeTransport(ticketFixture("t-1", testBase))
	s := newTestSync(t, transport)
	require.NoError(t, s.Refresh(context.Background(), false))

	transport.failList(&errs.TransientError{Op: "list tickets", Status: 502})
	err := s.Refresh(context.Background(), false)
	require.True(t, errs.IsTransient(err))

	require.Len(t, s.Tickets(), 1)
	st := s.Status()
	require.Error(t, st.Err)
	require.False(t, st.Visible, "failure with data on screen stays silent")
	require.False(t, st.Blocked)

	require.NoError(t, s.Refresh(context.Background(), false))
	require.NoError(t, s.Status().Err)
}

func TestRefreshFailureOnEmptyListIsVisible(t *testing.T) {
	transport := newFakeTransport()
	transport.failList(&errs.TransientError{Op: "list tickets", Message: "malformed response"})
	s := newTestSync(t, transport)

	require.Error(t, s.Refresh(context.Background(), false))
	require.True(t, s.Status().Visible)
}

func TestAuthFailureBlocksPolling(t *testing.T) {
	transport := newFakeTransport(ticketFixture("t-1", testBase))
	transport.failList(&errs.AuthError{Status: 401})
	s := newTestSync(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	require.Eventually(t, func() bool { return s.Status().Blocked }, time.Second, 5*time.Millisecond)
	st := s.Status()
	require.True(t, st.Visible)
	require.True(t, errs.IsAuth(st.Err))

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 1, transport.count("list"), "no polling while blocked")

	require.NoError(t, s.Refresh(ctx, true))
	require.False(t, s.Status().Blocked)
	require.Eventually(t, func() bool { return transport.count("list") > 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	oldList := []models.Ticket{func() models.Ticket {
		tk := ticketFixture("t-1", testBase)
		tk.Subject = "old"
		return tk
	}()}
	newList := []models.Ticket{func() models.Ticket {
		tk := ticketFixture("t-1", testBase)
		tk.Subject = "new"
		return tk
	}()}

	transport := newFakeTransport(newList...)
	s := newTestSync(t, transport)
	require.NoError(t, s.Refresh(context.Background(), false))
	_, err := s.Select(context.Background(), "t-1")
	require.NoError(t, err)

	var (
		mu        sync.Mutex
		delivered []string
	)
	s.OnOpenTicket(func(tk models.Ticket) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, tk.Subject)
	})

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	transport.mu.Lock()
	transport.listFn = func(ctx context.Context) ([]models.Ticket, error) {
		transport.mu.Lock()
		calls++
		first := calls == 1
		transport.mu.Unlock()
		if first {
			close(started)
			<-release
			return models.CloneTickets(oldList), nil
		}
		return models.CloneTickets(newList), nil
	}
	transport.mu.Unlock()

	slow := make(chan error, 1)
	go func() { slow <- s.Refresh(context.Background(), false) }()
	<-started

	require.NoError(t, s.Refresh(context.Background(), false))
	close(release)
	require.NoError(t, <-slow)

	tk, ok := s.Ticket("t-1")
	require.True(t, ok)
	require.Equal(t, "new", tk.Subject)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"new"}, delivered)
}

func TestRepublishOpenTicket(t *testing.T) {
	transport := newFakeTransport(ticketFixture("t-1", testBase, msgFixture("m-1", 0)))
	s := newTestSync(t, transport)
	require.NoError(t, s.Refresh(context.Background(), false))

	var got []models.Ticket
	s.OnOpenTicket(func(tk models.Ticket) { got = append(got, tk) })

	require.NoError(t, s.Refresh(context.Background(), false))
	require.Empty(t, got, "nothing open, nothing republished")

	_, err := s.Select(context.Background(), "t-1")
	require.NoError(t, err)
	transport.setTickets(ticketFixture("t-1", testBase, msgFixture("m-1", 0), msgFixture("m-2", time.Minute)))
	require.NoError(t, s.Refresh(context.Background(), false))

	require.Len(t, got, 1)
	require.Len(t, got[0].Messages, 2)

	s.CloseTicket()
	require.NoError(t, s.Refresh(context.Background(), false))
	require.Len(t, got, 1)
}

func TestVisibleFiltersAndSearch(t *testing.T) {
	archivedAt := testBase.Add(time.Hour)
	open := ticketFixture("t-open", testBase)
	open.UserTelegram = "@BeatMaker"
	progress := ticketFixture("t-progress", testBase.Add(time.Minute))
	progress.Status = models.TicketStatusInProgress
	pending := ticketFixture("t-pending", testBase.Add(2*time.Minute))
	pending.Status = models.TicketStatusPending
	pending.Subject = "Payout delayed"
	closed := ticketFixture("t-closed", testBase.Add(3*time.Minute))
	closed.Status = models.TicketStatusClosed
	closed.ArchivedAt = &archivedAt

	transport := newFakeTransport(open, progress, pending, closed)
	s := newTestSync(t, transport)
	require.NoError(t, s.Refresh(context.Background(), false))

	ids := func() []string {
		var out []string
		for _, tk := range s.Visible() {
			out = append(out, tk.ID)
		}
		return out
	}

	require.Equal(t, []string{"t-pending", "t-progress", "t-open"}, ids())

	s.session.SetShowArchived(true)
	require.Equal(t, []string{"t-closed", "t-pending", "t-progress", "t-open"}, ids())
	s.session.SetShowArchived(false)

	s.SetFilter(FilterInProgress)
	require.Equal(t, []string{"t-progress", "t-open"}, ids())

	s.SetFilter(FilterClosed)
	require.Equal(t, []string{"t-closed"}, ids())

	s.SetFilter(FilterAll)
	s.SetSearch("beatmaker")
	require.Equal(t, []string{"t-open"}, ids())

	s.SetSearch("PAYOUT")
	require.Equal(t, []string{"t-pending"}, ids())

	s.SetSearch("t-progress@example")
	require.Equal(t, []string{"t-progress"}, ids())

	require.Len(t, s.Tickets(), 4, "filters never touch the canonical list")
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	require.Equal(t, FilterAll, f)

	f, err = ParseFilter(" Pending ")
	require.NoError(t, err)
	require.Equal(t, FilterPending, f)

	_, err = ParseFilter("resolved")
	require.Error(t, err)
}

func TestDeepLinkFiresOnce(t *testing.T) {
	archivedAt := testBase
	target := ticketFixture("t-link", testBase)
	target.Status = models.TicketStatusClosed
	target.ArchivedAt = &archivedAt

	transport := newFakeTransport(ticketFixture("t-1", testBase))
	pub := events.NewInMemoryPublisher()
	s := NewSynchronizer(transport, testSession(), SynchronizerOptions{Publisher: pub})
	s.SetFilter(FilterPending)

	linked, err := pub.Channel(context.Background(), events.Filter{EventTypes: []models.EventType{models.EventTypeTicketDeepLinked}}, 4)
	require.NoError(t, err)

	var opened []string
	s.SetDeepLink("t-link", func(tk models.Ticket) { opened = append(opened, tk.ID) })

	require.NoError(t, s.Refresh(context.Background(), false))
	require.Empty(t, opened)

	transport.setTickets(ticketFixture("t-1", testBase), target)
	require.NoError(t, s.Refresh(context.Background(), false))
	require.NoError(t, s.Refresh(context.Background(), false))
	require.NoError(t, s.Refresh(context.Background(), false))

	require.Equal(t, []string{"t-link"}, opened)
	require.Equal(t, "t-link", s.SelectedID())
	require.Equal(t, FilterAll, s.Filter())
	require.True(t, s.session.ShowArchived())

	ev := <-linked
	require.Equal(t, "t-link", ev.TicketID)
	require.Eventually(t, func() bool { return transport.count("mark_read") == 1 }, time.Second, 5*time.Millisecond)
}

func TestSelectMarksRead(t *testing.T) {
	transport := newFakeTransport(ticketFixture("t-1", testBase))
	s := newTestSync(t, transport)
	require.NoError(t, s.Refresh(context.Background(), false))

	_, err := s.Select(context.Background(), "missing")
	require.ErrorIs(t, err, ErrTicketNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	tk, err := s.Select(ctx, "t-1")
	cancel()
	require.NoError(t, err)
	require.NotNil(t, tk.AdminReadAt)
	require.Equal(t, "t-1", s.SelectedID())

	require.Eventually(t, func() bool { return transport.count("mark_read") == 1 }, time.Second, 5*time.Millisecond)
}

func TestUpdateStatusClosingArchives(t *testing.T) {
	transport := newFakeTransport(ticketFixture("t-1", testBase))
	s := newTestSync(t, transport)
	require.NoError(t, s.Refresh(context.Background(), false))

	require.Error(t, s.UpdateStatus(context.Background(), "t-1", "resolved"))
	require.Zero(t, transport.count("update"))

	require.NoError(t, s.UpdateStatus(context.Background(), "t-1", models.TicketStatusPending))
	require.Nil(t, transport.updates[0].ArchivedAt)

	require.NoError(t, s.UpdateStatus(context.Background(), "t-1", models.TicketStatusClosed))
	require.NotNil(t, transport.updates[1].ArchivedAt)

	tk, ok := s.Ticket("t-1")
	require.True(t, ok)
	assert.Equal(t, models.TicketStatusClosed, tk.Status)
	assert.True(t, tk.Archived())
	assert.Equal(t, 3, transport.count("list"), "one refresh after each accepted update")
}

func TestCounts(t *testing.T) {
	readAt := testBase.Add(time.Hour)
	answered := ticketFixture("t-answered", testBase)
	answered.Status = models.TicketStatusPending
	answered.AdminReadAt = &readAt
	answered.LastMessageAt = testBase
	answered.LastAdminMessageAt = &readAt
	unread := ticketFixture("t-unread", testBase)
	closed := ticketFixture("t-closed", testBase)
	closed.Status = models.TicketStatusClosed

	transport := newFakeTransport(answered, unread, closed)
	s := newTestSync(t, transport)
	require.NoError(t, s.Refresh(context.Background(), false))

	require.Equal(t, Counts{All: 3, InProgress: 1, Pending: 1, Closed: 1, NeedsResponse: 1}, s.Counts())
}

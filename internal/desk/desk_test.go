package desk_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labelhub/supportdesk/internal/api"
	"github.com/labelhub/supportdesk/internal/api/apitest"
	"github.com/labelhub/supportdesk/internal/desk"
	"github.com/labelhub/supportdesk/internal/events"
	"github.com/labelhub/supportdesk/internal/models"
	"github.com/labelhub/supportdesk/internal/state"
	"github.com/labelhub/supportdesk/internal/testutil"
)

func newDesk(t *testing.T) (*desk.Desk, *apitest.Server, *events.InMemoryPublisher) {
	t.Helper()
	fake := apitest.NewServer(apitest.Config{Token: "secret"})
	srv := testutil.NewServer(t, fake.Handler())

	client, err := api.NewClient(api.Config{BaseURL: srv.URL, Token: "secret", Timeout: 2 * time.Second})
	require.NoError(t, err)

	store, err := state.Open(context.Background(), ":memory:", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pub := events.NewInMemoryPublisher()
	d, err := desk.New(desk.Options{
		Transport:       client,
		Identity:        desk.Identity{ActorID: "agent-1", Nickname: "support", IsAdmin: true},
		Drafts:          store,
		Preferences:     store,
		Publisher:       pub,
		TicketInterval:  20 * time.Millisecond,
		TypingInterval:  10 * time.Millisecond,
		TypingHideAfter: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, fake, pub
}

func seed(fake *apitest.Server) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fake.AddTicket(models.Ticket{
		ID:           "A",
		UserID:       "owner-1",
		Subject:      "Where is my payout?",
		Status:       models.TicketStatusOpen,
		UserEmail:    "owner@example.com",
		UserNickname: "owner",
		CreatedAt:    base,
		Messages: []models.Message{
			{ID: "m-1", SenderID: "owner-1", Body: "Hi", CreatedAt: base},
		},
	})
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := desk.New(desk.Options{})
	require.Error(t, err)
}

func TestHelloOverHTTP(t *testing.T) {
	d, fake, _ := newDesk(t)
	seed(fake)
	ctx := context.Background()

	require.NoError(t, d.Sync.Refresh(ctx, true))
	_, err := d.Open(ctx, "A")
	require.NoError(t, err)

	require.NoError(t, d.Conversation.StageAttachments("https://x/img1.png"))
	require.NoError(t, d.Conversation.SetDraft(ctx, "Hello"))
	msg, err := d.Conversation.SendReply(ctx)
	require.NoError(t, err)
	require.Equal(t, "Hello", msg.Body)
	require.Equal(t, []string{"https://x/img1.png"}, msg.Images)

	c := d.Conversation.Composer()
	require.Empty(t, c.Draft)
	require.Empty(t, c.Attachments)

	tk, ok := d.Sync.Ticket("A")
	require.True(t, ok)
	require.Equal(t, models.TicketStatusOpen, tk.Status)

	thread := d.Conversation.Thread()
	require.Len(t, thread, 2)
	require.Equal(t, msg.ID, thread[1].ID)
}

func TestOwnerMessageArrivesThroughPoll(t *testing.T) {
	d, fake, pub := newDesk(t)
	seed(fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened := make(chan models.Ticket, 1)
	d.OpenDeepLink(ctx, "A", func(tk models.Ticket) { opened <- tk })

	republished, err := pub.Channel(ctx, events.Filter{
		EventTypes: []models.EventType{models.EventTypeTicketRepublished},
		TicketID:   "A",
	}, 16)
	require.NoError(t, err)

	go d.Run(ctx)

	select {
	case tk := <-opened:
		require.Equal(t, "A", tk.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("deep link never opened")
	}
	require.Equal(t, "A", d.Conversation.OpenTicketID())

	posted, ok := fake.PostAsOwner("A", "are you there?")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := d.Conversation.Message(posted.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	require.NotEmpty(t, republished)

	fake.SetTypingState("A", models.TypingState{IsTyping: true, Username: "owner"})
	require.Eventually(t, func() bool { return d.Typing.Indicator().Visible }, 2*time.Second, 10*time.Millisecond)

	d.CloseTicket()
	require.False(t, d.Typing.Indicator().Visible)
	require.Empty(t, d.Conversation.OpenTicketID())
}

func TestReactionAndDeleteOverHTTP(t *testing.T) {
	d, fake, _ := newDesk(t)
	seed(fake)
	ctx := context.Background()

	require.NoError(t, d.Sync.Refresh(ctx, false))
	_, err := d.Open(ctx, "A")
	require.NoError(t, err)

	out, err := d.Reactions.Toggle(ctx, "m-1")
	require.NoError(t, err)
	require.False(t, out.Removed)
	require.True(t, d.Reactions.HasUserReaction("m-1"))

	out, err = d.Reactions.Toggle(ctx, "m-1")
	require.NoError(t, err)
	require.True(t, out.Removed)
	require.False(t, d.Reactions.HasUserReaction("m-1"))

	require.NoError(t, d.Conversation.DeleteMessage(ctx, "m-1"))
	require.Empty(t, d.Conversation.Thread())
	stored, _ := fake.Ticket("A")
	require.Empty(t, stored.Messages)
}

func TestUploadOverHTTP(t *testing.T) {
	d, fake, _ := newDesk(t)
	seed(fake)
	ctx := context.Background()

	require.NoError(t, d.Sync.Refresh(ctx, false))
	_, err := d.Open(ctx, "A")
	require.NoError(t, err)

	res, err := d.Conversation.Upload(ctx, []desk.File{
		{Name: "shot.png", ContentType: "image/png", Size: 4, Content: strings.NewReader("\x89PNG")},
		{Name: "doc.pdf", ContentType: "application/pdf", Size: 4, Content: strings.NewReader("%PDF")},
	})
	require.NoError(t, err)
	require.Len(t, res.URLs, 1)
	require.Len(t, res.Rejections, 1)
	require.Equal(t, res.URLs, d.Conversation.Composer().Attachments)
	require.Equal(t, 1, fake.Uploads())
}

var _ desk.Transport = (*api.Client)(nil)

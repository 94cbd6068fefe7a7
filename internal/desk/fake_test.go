package desk

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/labelhub/supportdesk/internal/errs"
	"github.com/labelhub/supportdesk/internal/models"
)

const testActor = "agent-1"

var testBase = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// fakeTransport is an in-memory ticket backend for controller tests.
type fakeTransport struct {
	mu sync.Mutex

	tickets   []models.Ticket
	listErrs  []error
	listFn    func(ctx context.Context) ([]models.Ticket, error)
	calls     map[string]int
	sent      []models.NewMessage
	updates   []models.TicketUpdate
	nextID    int
	sendErr   error
	deleteErr error

	toggleGate chan struct{}

	typing    map[string]models.TypingState
	typingErr error
	setTyping []models.TypingState

	uploadErr map[string]error
}

func newFakeTransport(tickets ...models.Ticket) *fakeTransport {
	return &fakeTransport{
		tickets:   models.CloneTickets(tickets),
		calls:     make(map[string]int),
		typing:    make(map[string]models.TypingState),
		uploadErr: make(map[string]error),
	}
}

func (f *fakeTransport) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeTransport) setTickets(tickets ...models.Ticket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = models.CloneTickets(tickets)
}

func (f *fakeTransport) failList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErrs = append(f.listErrs, err)
}

func (f *fakeTransport) setTypingState(ticketID string, st models.TypingState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing[ticketID] = st
}

func (f *fakeTransport) failTyping(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingErr = err
}

func (f *fakeTransport) ticketIndex(id string) int {
	for i := range f.tickets {
		if f.tickets[i].ID == id {
			return i
		}
	}
	return -1
}

func (f *fakeTransport) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	f.mu.Lock()
	f.calls["list"]++
	fn := f.listFn
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		f.mu.Unlock()
		return nil, err
	}
	tickets := models.CloneTickets(f.tickets)
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return tickets, nil
}

func (f *fakeTransport) MarkRead(_ context.Context, ticketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["mark_read"]++
	return nil
}

func (f *fakeTransport) UpdateTicket(_ context.Context, ticketID string, update models.TicketUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["update"]++
	f.updates = append(f.updates, update)
	i := f.ticketIndex(ticketID)
	if i < 0 {
		return &errs.ConflictError{Status: 404, Message: "Ticket not found"}
	}
	f.tickets[i].Status = update.Status
	f.tickets[i].ArchivedAt = update.ArchivedAt
	return nil
}

func (f *fakeTransport) SendMessage(_ context.Context, ticketID string, msg models.NewMessage) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["send"]++
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	i := f.ticketIndex(ticketID)
	if i < 0 {
		return models.Message{}, &errs.ConflictError{Status: 404}
	}
	f.sent = append(f.sent, msg)
	f.nextID++
	created := models.Message{
		ID:             fmt.Sprintf("srv-%d", f.nextID),
		TicketID:       ticketID,
		SenderID:       testActor,
		IsAdmin:        true,
		Body:           msg.Body,
		Images:         append([]string{}, msg.Images...),
		CreatedAt:      testBase.Add(time.Duration(f.nextID) * time.Hour),
		SenderNickname: "support",
	}
	if msg.ReplyToID != nil {
		created.ReplyToID = *msg.ReplyToID
	}
	f.tickets[i].Messages = append(f.tickets[i].Messages, created)
	return created.Clone(), nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, ticketID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	i := f.ticketIndex(ticketID)
	if i < 0 {
		return &errs.ConflictError{Status: 404}
	}
	j := f.tickets[i].MessageIndex(messageID)
	if j < 0 {
		return &errs.ConflictError{Status: 404, Message: "Message not found"}
	}
	msgs := f.tickets[i].Messages
	f.tickets[i].Messages = append(msgs[:j:j], msgs[j+1:]...)
	return nil
}

func (f *fakeTransport) ToggleReaction(ctx context.Context, ticketID, messageID string) (models.ToggleOutcome, error) {
	f.mu.Lock()
	f.calls["toggle"]++
	gate := f.toggleGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.ToggleOutcome{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.ticketIndex(ticketID)
	if i < 0 {
		return models.ToggleOutcome{}, &errs.ConflictError{Status: 404}
	}
	j := f.tickets[i].MessageIndex(messageID)
	if j < 0 {
		return models.ToggleOutcome{}, &errs.ConflictError{Status: 404}
	}
	msg := &f.tickets[i].Messages[j]
	if msg.HasReactionFrom(testActor) {
		kept := msg.Reactions[:0:0]
		for _, r := range msg.Reactions {
			if r.UserID != testActor {
				kept = append(kept, r)
			}
		}
		msg.Reactions = kept
		return models.ToggleOutcome{Removed: true}, nil
	}
	r := models.Reaction{
		ID:        fmt.Sprintf("r-%s", messageID),
		MessageID: messageID,
		UserID:    testActor,
		Emoji:     models.DefaultReaction,
		User:      &models.ReactionActor{Nickname: "support"},
	}
	msg.Reactions = append(msg.Reactions, r)
	return models.ToggleOutcome{Reaction: &r}, nil
}

func (f *fakeTransport) Typing(_ context.Context, ticketID string) (models.TypingState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["typing:"+ticketID]++
	if f.typingErr != nil {
		return models.TypingState{}, f.typingErr
	}
	return f.typing[ticketID], nil
}

func (f *fakeTransport) SetTyping(_ context.Context, ticketID string, st models.TypingState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["set_typing"]++
	f.setTyping = append(f.setTyping, st)
	return nil
}

func (f *fakeTransport) Upload(_ context.Context, name, contentType string, content io.Reader) (string, error) {
	f.mu.Lock()
	err := f.uploadErr[name]
	f.calls["upload"]++
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(io.Discard, content); err != nil {
		return "", err
	}
	return "https://cdn.test/" + name, nil
}

func testSession() *Session {
	return NewSession(Identity{ActorID: testActor, Nickname: "support", IsAdmin: true}, nil)
}

func ticketFixture(id string, created time.Time, msgs ...models.Message) models.Ticket {
	return models.Ticket{
		ID:        id,
		UserID:    "owner-" + id,
		Subject:   "Subject " + id,
		Status:    models.TicketStatusOpen,
		UserEmail: "owner-" + id + "@example.com",
		CreatedAt: created,
		Messages:  msgs,
	}
}

func msgFixture(id string, offset time.Duration) models.Message {
	return models.Message{
		ID:        id,
		SenderID:  "owner",
		Body:      "body " + id,
		CreatedAt: testBase.Add(offset),
	}
}

package desk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/labelhub/supportdesk/internal/errs"
	"github.com/labelhub/supportdesk/internal/events"
	"github.com/labelhub/supportdesk/internal/logging"
	"github.com/labelhub/supportdesk/internal/models"
	"github.com/labelhub/supportdesk/internal/state"
)

// Refresher triggers a ticket list refresh. *Synchronizer implements it.
type Refresher interface {
	Refresh(ctx context.Context, forceLoading bool) error
}

// Composer is a snapshot of the reply being written.
type Composer struct {
	TicketID    string
	Draft       string
	Attachments []string
	ReplyTo     *models.Message
	Err         error
	Sending     bool
	Uploading   bool
}

// Empty reports whether there is nothing to send.
func (c Composer) Empty() bool {
	return strings.TrimSpace(c.Draft) == "" && len(c.Attachments) == 0
}

// ConversationOptions configures a Conversation.
type ConversationOptions struct {
	Drafts    DraftStore
	Uploader  *Uploader
	Typing    *TypingBridge
	Refresher Refresher
	Publisher events.Publisher
	Now       func() time.Time
}

// Conversation owns the open ticket's thread and the reply composer.
// Optimistic edits live here until the next Merge replaces the thread.
type Conversation struct {
	transport Transport
	session   *Session
	drafts    DraftStore
	uploader  *Uploader
	typing    *TypingBridge
	refresher Refresher
	publisher events.Publisher
	follow    *FollowTracker
	logger    zerolog.Logger
	now       func() time.Time

	mu          sync.Mutex
	ticket      *models.Ticket
	draft       string
	attachments []string
	replyTo     *models.Message
	lastErr     error
	sending     bool
	uploading   int
}

// NewConversation creates a conversation with no ticket open.
func NewConversation(transport Transport, session *Session, opts ConversationOptions) *Conversation {
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Uploader == nil {
		opts.Uploader = NewUploader(transport, 0)
	}
	if opts.Drafts == nil {
		opts.Drafts = (*state.Store)(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Conversation{
		transport: transport,
		session:   session,
		drafts:    opts.Drafts,
		uploader:  opts.Uploader,
		typing:    opts.Typing,
		refresher: opts.Refresher,
		publisher: opts.Publisher,
		follow:    NewFollowTracker(),
		logger:    logging.Component("conversation"),
		now:       opts.Now,
	}
}

// Open makes ticket the open conversation and restores its saved draft.
func (c *Conversation) Open(ticket models.Ticket) {
	t := ticket.Clone()
	t.Messages = models.NormalizeThread(t.Messages)

	draft, hasDraft := c.drafts.Draft(t.ID)

	c.mu.Lock()
	c.ticket = &t
	c.draft = ""
	c.attachments = nil
	c.replyTo = nil
	c.lastErr = nil
	if hasDraft {
		c.draft = draft.Body
		c.attachments = append([]string(nil), draft.Images...)
		if i := t.MessageIndex(draft.ReplyToID); i >= 0 {
			target := t.Messages[i].Clone()
			c.replyTo = &target
		}
	}
	c.mu.Unlock()

	c.follow.Reset()
}

// Close forgets the open ticket. The saved draft is kept.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticket = nil
	c.draft = ""
	c.attachments = nil
	c.replyTo = nil
	c.lastErr = nil
}

// OpenTicketID returns the open ticket id, or "".
func (c *Conversation) OpenTicketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticket == nil {
		return ""
	}
	return c.ticket.ID
}

// Ticket returns a copy of the open ticket.
func (c *Conversation) Ticket() (models.Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticket == nil {
		return models.Ticket{}, false
	}
	return c.ticket.Clone(), true
}

// Thread returns a copy of the open ticket's messages.
func (c *Conversation) Thread() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticket == nil {
		return nil
	}
	return c.ticket.Clone().Messages
}

// Message returns a copy of one message in the open thread.
func (c *Conversation) Message(id string) (models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticket == nil {
		return models.Message{}, false
	}
	i := c.ticket.MessageIndex(id)
	if i < 0 {
		return models.Message{}, false
	}
	return c.ticket.Messages[i].Clone(), true
}

// Merge replaces the open thread with the canonical ticket. Tickets other
// than the open one are ignored. The server copy always wins.
func (c *Conversation) Merge(ticket models.Ticket) {
	t := ticket.Clone()
	t.Messages = models.NormalizeThread(t.Messages)

	c.mu.Lock()
	if c.ticket == nil || c.ticket.ID != t.ID {
		c.mu.Unlock()
		return
	}
	grew := hasNewMessages(c.ticket.Messages, t.Messages)
	c.ticket = &t
	if c.replyTo != nil {
		if i := t.MessageIndex(c.replyTo.ID); i >= 0 {
			target := t.Messages[i].Clone()
			c.replyTo = &target
		}
	}
	c.mu.Unlock()

	if grew {
		c.follow.ContentArrived()
	}
}

func hasNewMessages(before, after []models.Message) bool {
	known := make(map[string]struct{}, len(before))
	for _, m := range before {
		known[m.ID] = struct{}{}
	}
	for _, m := range after {
		if _, ok := known[m.ID]; !ok {
			return true
		}
	}
	return false
}

// Composer returns a snapshot of the reply state.
func (c *Conversation) Composer() Composer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Composer{
		Draft:       c.draft,
		Attachments: append([]string(nil), c.attachments...),
		Err:         c.lastErr,
		Sending:     c.sending,
		Uploading:   c.uploading > 0,
	}
	if c.ticket != nil {
		out.TicketID = c.ticket.ID
	}
	if c.replyTo != nil {
		target := c.replyTo.Clone()
		out.ReplyTo = &target
	}
	return out
}

// SetDraft replaces the draft text, saves it and, when it is non-empty,
// tells the counterpart the agent is typing.
func (c *Conversation) SetDraft(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.ticket == nil {
		c.mu.Unlock()
		return ErrNoTicket
	}
	c.draft = text
	saved := c.snapshotDraftLocked()
	c.mu.Unlock()

	c.drafts.SetDraft(saved)

	if c.typing != nil && strings.TrimSpace(text) != "" {
		ctx = context.WithoutCancel(ctx)
		go func() {
			_ = c.typing.Broadcast(ctx, text)
		}()
	}
	return nil
}

// SetReplyTarget sets or, with nil, clears the message being replied to.
func (c *Conversation) SetReplyTarget(msg *models.Message) {
	c.mu.Lock()
	if msg == nil {
		c.replyTo = nil
	} else {
		target := msg.Clone()
		c.replyTo = &target
	}
	saved := c.snapshotDraftLocked()
	open := c.ticket != nil
	c.mu.Unlock()

	if open {
		c.drafts.SetDraft(saved)
	}
}

// StageAttachments adds already uploaded image URLs to the reply.
func (c *Conversation) StageAttachments(urls ...string) error {
	c.mu.Lock()
	if c.ticket == nil {
		c.mu.Unlock()
		return ErrNoTicket
	}
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			c.attachments = append(c.attachments, u)
		}
	}
	saved := c.snapshotDraftLocked()
	c.mu.Unlock()

	c.drafts.SetDraft(saved)
	return nil
}

// RemoveAttachment unstages url.
func (c *Conversation) RemoveAttachment(url string) {
	c.mu.Lock()
	kept := c.attachments[:0:0]
	for _, u := range c.attachments {
		if u != url {
			kept = append(kept, u)
		}
	}
	c.attachments = kept
	saved := c.snapshotDraftLocked()
	open := c.ticket != nil
	c.mu.Unlock()

	if open {
		c.drafts.SetDraft(saved)
	}
}

// Upload uploads files and stages the accepted ones. Rejections are returned
// in the result; the first one is also kept as the composer error.
func (c *Conversation) Upload(ctx context.Context, files []File) (UploadResult, error) {
	c.mu.Lock()
	if c.ticket == nil {
		c.mu.Unlock()
		return UploadResult{}, ErrNoTicket
	}
	ticketID := c.ticket.ID
	c.uploading++
	c.mu.Unlock()

	result := c.uploader.Upload(ctx, files)

	c.mu.Lock()
	c.uploading--
	if c.ticket == nil || c.ticket.ID != ticketID {
		c.mu.Unlock()
		return result, nil
	}
	c.attachments = append(c.attachments, result.URLs...)
	c.lastErr = nil
	if len(result.Rejections) > 0 {
		c.lastErr = result.Rejections[0].Err
	}
	saved := c.snapshotDraftLocked()
	c.mu.Unlock()

	c.drafts.SetDraft(saved)
	return result, nil
}

// SendReply posts the draft with its attachments and reply target. It is a
// no-op returning (nil, nil) when there is nothing to send. On success the
// server's message is appended, the composer is cleared and the list is
// refreshed. On failure the draft stays and the error is returned.
func (c *Conversation) SendReply(ctx context.Context) (*models.Message, error) {
	c.mu.Lock()
	if c.ticket == nil {
		c.mu.Unlock()
		return nil, ErrNoTicket
	}
	if c.sending {
		c.mu.Unlock()
		return nil, ErrSendInProgress
	}
	body := c.draft
	if strings.TrimSpace(body) == "" {
		if len(c.attachments) == 0 {
			c.mu.Unlock()
			return nil, nil
		}
		body = ""
	}
	ticketID := c.ticket.ID
	req := models.NewMessage{
		Body:   body,
		Images: append([]string{}, c.attachments...),
	}
	if c.replyTo != nil {
		id := c.replyTo.ID
		req.ReplyToID = &id
	}
	c.sending = true
	c.lastErr = nil
	c.mu.Unlock()

	logger := logging.WithTicket(c.logger, ticketID)

	msg, err := c.transport.SendMessage(ctx, ticketID, req)
	if err != nil {
		c.mu.Lock()
		c.sending = false
		c.lastErr = err
		c.mu.Unlock()
		logger.Warn().Err(err).Msg("send failed")
		return nil, err
	}

	c.mu.Lock()
	c.sending = false
	if c.ticket != nil && c.ticket.ID == ticketID {
		if c.ticket.MessageIndex(msg.ID) < 0 {
			c.ticket.Messages = models.NormalizeThread(append(c.ticket.Messages, msg.Clone()))
		}
		c.draft = ""
		c.attachments = nil
		c.replyTo = nil
	}
	c.mu.Unlock()

	c.follow.ContentArrived()
	c.drafts.DeleteDraft(ticketID)
	logger.Debug().Str("message_id", msg.ID).Int("images", len(msg.Images)).Msg("reply sent")
	c.publisher.Publish(ctx, events.NewEvent(models.EventTypeMessageSent, ticketID, nil).WithMessage(msg.ID))

	if c.refresher != nil {
		_ = c.refresher.Refresh(ctx, false)
	}
	out := msg.Clone()
	return &out, nil
}

// DeleteMessage removes a message optimistically. A server failure puts it
// back at its old position and is returned; a conflict means it is already
// gone and counts as success. The list is refreshed either way.
func (c *Conversation) DeleteMessage(ctx context.Context, messageID string) error {
	c.mu.Lock()
	if c.ticket == nil {
		c.mu.Unlock()
		return ErrNoTicket
	}
	ticketID := c.ticket.ID
	i := c.ticket.MessageIndex(messageID)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	removed := c.ticket.Messages[i].Clone()
	thread := make([]models.Message, 0, len(c.ticket.Messages)-1)
	thread = append(thread, c.ticket.Messages[:i]...)
	thread = append(thread, c.ticket.Messages[i+1:]...)
	c.ticket.Messages = thread
	if c.replyTo != nil && c.replyTo.ID == messageID {
		c.replyTo = nil
	}
	c.mu.Unlock()

	err := c.transport.DeleteMessage(ctx, ticketID, messageID)
	if err != nil && !errs.IsConflict(err) {
		c.mu.Lock()
		if c.ticket != nil && c.ticket.ID == ticketID && c.ticket.MessageIndex(messageID) < 0 {
			c.ticket.Messages = models.NormalizeThread(append(c.ticket.Messages, removed))
		}
		c.lastErr = err
		c.mu.Unlock()
		logger := logging.WithTicket(c.logger, ticketID)
		logger.Warn().Err(err).Str("message_id", messageID).Msg("delete failed, restored message")
	} else {
		err = nil
		c.publisher.Publish(ctx, events.NewEvent(models.EventTypeMessageDeleted, ticketID, nil).WithMessage(messageID))
	}

	if c.refresher != nil {
		_ = c.refresher.Refresh(ctx, false)
	}
	return err
}

// ApplyReaction records a toggle outcome on a message in the open thread.
func (c *Conversation) ApplyReaction(messageID string, outcome models.ToggleOutcome) bool {
	actor := c.session.ActorID()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticket == nil {
		return false
	}
	i := c.ticket.MessageIndex(messageID)
	if i < 0 {
		return false
	}
	msg := c.ticket.Messages[i].Clone()
	if outcome.Removed {
		kept := make([]models.Reaction, 0, len(msg.Reactions))
		for _, r := range msg.Reactions {
			if r.UserID != actor {
				kept = append(kept, r)
			}
		}
		msg.Reactions = kept
	} else if outcome.Reaction != nil {
		// A poll may already have merged the committed reaction.
		kept := make([]models.Reaction, 0, len(msg.Reactions)+1)
		for _, r := range msg.Reactions {
			if r.UserID != actor && r.ID != outcome.Reaction.ID {
				kept = append(kept, r)
			}
		}
		msg.Reactions = append(kept, outcome.Reaction.Clone())
	}
	c.ticket.Messages[i] = msg
	return true
}

// ObserveViewport records the reader's scroll position.
func (c *Conversation) ObserveViewport(scrollHeight, scrollTop, clientHeight float64) {
	c.follow.Observe(scrollHeight, scrollTop, clientHeight)
}

// NoteTypingShown counts a newly shown typing indicator as new content.
func (c *Conversation) NoteTypingShown(ind TypingIndicator) {
	if ind.Visible && ind.TicketID == c.OpenTicketID() {
		c.follow.ContentArrived()
	}
}

// TakeFollow reports whether the view should scroll to the newest content.
func (c *Conversation) TakeFollow() bool {
	return c.follow.Take()
}

func (c *Conversation) snapshotDraftLocked() state.Draft {
	d := state.Draft{
		Body:      c.draft,
		Images:    append([]string(nil), c.attachments...),
		UpdatedAt: c.now().UTC(),
	}
	if c.ticket != nil {
		d.TicketID = c.ticket.ID
	}
	if c.replyTo != nil {
		d.ReplyToID = c.replyTo.ID
	}
	return d
}

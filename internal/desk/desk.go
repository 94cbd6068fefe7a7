package desk

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/labelhub/supportdesk/internal/events"
	"github.com/labelhub/supportdesk/internal/logging"
	"github.com/labelhub/supportdesk/internal/models"
)

// Options wires a Desk.
type Options struct {
	Transport Transport
	Identity  Identity

	// Drafts and Preferences are usually the same *state.Store. Both may be nil.
	Drafts      DraftStore
	Preferences PreferenceStore

	Publisher events.Publisher

	TicketInterval  time.Duration
	TypingInterval  time.Duration
	TypingHideAfter time.Duration
	MaxUploadBytes  int64
}

// Desk is one agent session: the ticket list, the open conversation and the
// presence and reaction controllers working against it.
type Desk struct {
	Session      *Session
	Sync         *Synchronizer
	Conversation *Conversation
	Reactions    *ReactionToggler
	Typing       *TypingBridge
	Uploader     *Uploader

	logger zerolog.Logger
}

// New wires the controllers for one session.
func New(opts Options) (*Desk, error) {
	if opts.Transport == nil {
		return nil, errors.New("desk: transport is required")
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}

	session := NewSession(opts.Identity, opts.Preferences)
	logger := logging.WithActor(logging.Component("desk"), opts.Identity.ActorID)

	syncer := NewSynchronizer(opts.Transport, session, SynchronizerOptions{
		Interval:  opts.TicketInterval,
		Publisher: opts.Publisher,
	})
	typing := NewTypingBridge(opts.Transport, session, TypingOptions{
		Interval:  opts.TypingInterval,
		HideAfter: opts.TypingHideAfter,
		Publisher: opts.Publisher,
	})
	uploader := NewUploader(opts.Transport, opts.MaxUploadBytes)
	conversation := NewConversation(opts.Transport, session, ConversationOptions{
		Drafts:    opts.Drafts,
		Uploader:  uploader,
		Typing:    typing,
		Refresher: syncer,
		Publisher: opts.Publisher,
	})
	reactions := NewReactionToggler(opts.Transport, session, conversation, opts.Publisher)

	syncer.OnOpenTicket(conversation.Merge)
	typing.OnChange(conversation.NoteTypingShown)

	return &Desk{
		Session:      session,
		Sync:         syncer,
		Conversation: conversation,
		Reactions:    reactions,
		Typing:       typing,
		Uploader:     uploader,
		logger:       logger,
	}, nil
}

// Run polls the ticket list until ctx is done, then stops the typing watch.
func (d *Desk) Run(ctx context.Context) {
	defer d.Typing.Stop()
	d.logger.Debug().Msg("desk started")
	d.Sync.Run(ctx)
	d.logger.Debug().Msg("desk stopped")
}

// Open selects a loaded ticket, opens its conversation and starts watching
// the counterpart's typing. The watch lives until ctx is done or another
// ticket is opened.
func (d *Desk) Open(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, err := d.Sync.Select(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	d.openConversation(ctx, ticket)
	return ticket, nil
}

// OpenDeepLink opens ticketID as soon as a refresh loads it. onOpened, if
// set, runs once after the conversation is open.
func (d *Desk) OpenDeepLink(ctx context.Context, ticketID string, onOpened func(models.Ticket)) {
	d.Sync.SetDeepLink(ticketID, func(ticket models.Ticket) {
		d.openConversation(ctx, ticket)
		if onOpened != nil {
			onOpened(ticket)
		}
	})
}

func (d *Desk) openConversation(ctx context.Context, ticket models.Ticket) {
	d.Conversation.Open(ticket)
	// A refresh applied after the snapshot was taken was not delivered to the
	// conversation, which was not open yet.
	if latest, ok := d.Sync.Ticket(ticket.ID); ok {
		d.Conversation.Merge(latest)
	}
	d.Typing.Watch(ctx, ticket.ID)
	logger := logging.WithTicket(d.logger, ticket.ID)
	logger.Debug().Int("messages", len(ticket.Messages)).Msg("ticket opened")
}

// CloseTicket closes the open conversation and tears down its typing watch.
func (d *Desk) CloseTicket() {
	d.Typing.Stop()
	d.Conversation.Close()
	d.Sync.CloseTicket()
}

// Close releases timers and goroutines owned by the desk.
func (d *Desk) Close() {
	d.Typing.Stop()
}

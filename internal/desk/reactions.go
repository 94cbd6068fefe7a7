package desk

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/labelhub/supportdesk/internal/events"
	"github.com/labelhub/supportdesk/internal/logging"
	"github.com/labelhub/supportdesk/internal/models"
)

// ReactionToggler toggles the agent's like on messages of the open ticket.
// Local state only changes after the server decides; there is no optimistic
// pre-update.
type ReactionToggler struct {
	transport    Transport
	session      *Session
	conversation *Conversation
	publisher    events.Publisher
	logger       zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewReactionToggler creates a toggler bound to a conversation.
func NewReactionToggler(transport Transport, session *Session, conversation *Conversation, publisher events.Publisher) *ReactionToggler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &ReactionToggler{
		transport:    transport,
		session:      session,
		conversation: conversation,
		publisher:    publisher,
		logger:       logging.Component("reactions"),
		inFlight:     make(map[string]struct{}),
	}
}

// HasUserReaction reports whether the agent has liked the message.
func (r *ReactionToggler) HasUserReaction(messageID string) bool {
	msg, ok := r.conversation.Message(messageID)
	if !ok {
		return false
	}
	return msg.HasReactionFrom(r.session.ActorID())
}

// Pending reports whether a toggle for messageID is in flight.
func (r *ReactionToggler) Pending(messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inFlight[messageID]
	return ok
}

// Toggle flips the agent's reaction on a message. While a toggle for the same
// message is in flight, further calls return ErrTogglePending without a
// request.
func (r *ReactionToggler) Toggle(ctx context.Context, messageID string) (models.ToggleOutcome, error) {
	ticketID := r.conversation.OpenTicketID()
	if ticketID == "" {
		return models.ToggleOutcome{}, ErrNoTicket
	}
	if _, ok := r.conversation.Message(messageID); !ok {
		return models.ToggleOutcome{}, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}

	r.mu.Lock()
	if _, busy := r.inFlight[messageID]; busy {
		r.mu.Unlock()
		return models.ToggleOutcome{}, ErrTogglePending
	}
	r.inFlight[messageID] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inFlight, messageID)
		r.mu.Unlock()
	}()

	outcome, err := r.transport.ToggleReaction(ctx, ticketID, messageID)
	if err != nil {
		logger := logging.WithTicket(r.logger, ticketID)
		logger.Warn().Err(err).Str("message_id", messageID).Msg("reaction toggle failed")
		return models.ToggleOutcome{}, err
	}

	if r.conversation.OpenTicketID() == ticketID {
		r.conversation.ApplyReaction(messageID, outcome)
	}

	payload := models.ReactionPayload{Removed: outcome.Removed}
	if outcome.Reaction != nil {
		payload.Emoji = outcome.Reaction.Emoji
	}
	r.publisher.Publish(ctx, events.NewEvent(models.EventTypeReactionToggle, ticketID, payload).WithMessage(messageID))
	return outcome, nil
}

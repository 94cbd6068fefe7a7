package desk

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/labelhub/supportdesk/internal/errs"
	"github.com/labelhub/supportdesk/internal/events"
	"github.com/labelhub/supportdesk/internal/logging"
	"github.com/labelhub/supportdesk/internal/models"
)

const (
	// DefaultTypingInterval is the counterpart presence poll period.
	DefaultTypingInterval = time.Second

	// DefaultTypingHideAfter clears the indicator when no poll refreshes it.
	DefaultTypingHideAfter = 3 * time.Second

	// DefaultBroadcastEvery is the minimum spacing of outgoing typing signals.
	DefaultBroadcastEvery = time.Second
)

// TypingIndicator is what the thread view shows about the counterpart.
type TypingIndicator struct {
	TicketID string
	Visible  bool
	Username string
}

// TypingOptions configures a TypingBridge.
type TypingOptions struct {
	Interval       time.Duration
	HideAfter      time.Duration
	BroadcastEvery time.Duration
	Publisher      events.Publisher
}

// TypingBridge broadcasts the agent's typing signal and watches the
// counterpart's. Each Watch starts a new generation; responses and timers
// belonging to an older generation are dropped.
type TypingBridge struct {
	transport Transport
	session   *Session
	publisher events.Publisher
	logger    zerolog.Logger
	interval  time.Duration
	hideAfter time.Duration
	every     time.Duration

	mu         sync.Mutex
	generation uint64
	ticketID   string
	cancel     context.CancelFunc
	done       chan struct{}
	hideTimer  *time.Timer
	hideArm    uint64
	indicator  TypingIndicator
	limiter    *rate.Limiter
	listeners  []func(TypingIndicator)
}

// NewTypingBridge creates an idle bridge.
func NewTypingBridge(transport Transport, session *Session, opts TypingOptions) *TypingBridge {
	if opts.Interval <= 0 {
		opts.Interval = DefaultTypingInterval
	}
	if opts.HideAfter <= 0 {
		opts.HideAfter = DefaultTypingHideAfter
	}
	if opts.BroadcastEvery <= 0 {
		opts.BroadcastEvery = DefaultBroadcastEvery
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	return &TypingBridge{
		transport: transport,
		session:   session,
		publisher: opts.Publisher,
		logger:    logging.Component("typing"),
		interval:  opts.Interval,
		hideAfter: opts.HideAfter,
		every:     opts.BroadcastEvery,
		limiter:   rate.NewLimiter(rate.Every(opts.BroadcastEvery), 1),
	}
}

// OnChange registers a listener for indicator changes. Listeners run outside
// the bridge lock but on the poll goroutine, so they must not call Stop or
// Watch.
func (b *TypingBridge) OnChange(fn func(TypingIndicator)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Broadcast tells the counterpart the agent is typing in the watched ticket.
// Empty drafts send nothing, since cessation is left to the server TTL.
// Calls closer together than BroadcastEvery are coalesced; the first always
// goes out.
func (b *TypingBridge) Broadcast(ctx context.Context, draft string) error {
	if strings.TrimSpace(draft) == "" {
		return nil
	}
	b.mu.Lock()
	ticketID := b.ticketID
	allowed := ticketID != "" && b.limiter.Allow()
	b.mu.Unlock()
	if ticketID == "" {
		return ErrNoTicket
	}
	if !allowed {
		return nil
	}

	state := models.TypingState{
		IsTyping: true,
		IsAdmin:  b.session.IsAdmin(),
		Username: b.session.DisplayName(),
	}
	if err := b.transport.SetTyping(ctx, ticketID, state); err != nil {
		logger := logging.WithTicket(b.logger, ticketID)
		logger.Debug().Err(err).Msg("typing broadcast failed")
		return err
	}
	return nil
}

// Watch polls the counterpart's typing flag for ticketID until ctx is done,
// Stop is called, or Watch is called again. The previous watch, its hide
// timer and any in-flight response are cancelled first.
func (b *TypingBridge) Watch(ctx context.Context, ticketID string) {
	b.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	b.mu.Lock()
	b.generation++
	gen := b.generation
	b.ticketID = ticketID
	b.cancel = cancel
	b.done = done
	b.limiter = rate.NewLimiter(rate.Every(b.every), 1)
	b.mu.Unlock()

	go func() {
		defer close(done)
		b.pollLoop(ctx, gen, ticketID)
	}()
}

// Stop cancels the poll loop and hide timer and clears the indicator.
func (b *TypingBridge) Stop() {
	b.mu.Lock()
	b.generation++
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.ticketID = ""
	b.stopTimerLocked()
	changed := b.setIndicatorLocked(TypingIndicator{})
	listeners := b.listeners
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if changed {
		b.notify(context.Background(), TypingIndicator{}, listeners)
	}
}

// Indicator returns the current counterpart indicator.
func (b *TypingBridge) Indicator() TypingIndicator {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indicator
}

// TicketID returns the watched ticket, or "".
func (b *TypingBridge) TicketID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ticketID
}

func (b *TypingBridge) pollLoop(ctx context.Context, gen uint64, ticketID string) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		b.poll(ctx, gen, ticketID)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *TypingBridge) poll(ctx context.Context, gen uint64, ticketID string) {
	state, err := b.transport.Typing(ctx, ticketID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger := logging.WithTicket(b.logger, ticketID)
		logger.Debug().Err(err).Msg("typing poll failed")
		// A server answer without a usable flag hides the indicator; a
		// request that never reached the server leaves it for the hide timer.
		if errs.StatusOf(err) == 0 {
			return
		}
		state = models.TypingState{}
	}

	username := strings.TrimSpace(state.Username)
	counterpart := state.IsTyping && state.IsAdmin != b.session.IsAdmin() && username != ""

	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return
	}
	var next TypingIndicator
	if counterpart {
		next = TypingIndicator{TicketID: ticketID, Visible: true, Username: username}
		b.armTimerLocked(gen)
	} else {
		b.stopTimerLocked()
	}
	changed := b.setIndicatorLocked(next)
	listeners := b.listeners
	b.mu.Unlock()

	if changed {
		b.notify(ctx, next, listeners)
	}
}

func (b *TypingBridge) armTimerLocked(gen uint64) {
	b.stopTimerLocked()
	arm := b.hideArm
	b.hideTimer = time.AfterFunc(b.hideAfter, func() { b.expire(gen, arm) })
}

// stopTimerLocked also retires the current arm, so a callback that already
// fired and is waiting on mu does nothing.
func (b *TypingBridge) stopTimerLocked() {
	b.hideArm++
	if b.hideTimer != nil {
		b.hideTimer.Stop()
		b.hideTimer = nil
	}
}

func (b *TypingBridge) expire(gen, arm uint64) {
	b.mu.Lock()
	if gen != b.generation || arm != b.hideArm {
		b.mu.Unlock()
		return
	}
	b.hideTimer = nil
	changed := b.setIndicatorLocked(TypingIndicator{})
	listeners := b.listeners
	b.mu.Unlock()

	if changed {
		b.notify(context.Background(), TypingIndicator{}, listeners)
	}
}

func (b *TypingBridge) setIndicatorLocked(next TypingIndicator) bool {
	if b.indicator == next {
		return false
	}
	prev := b.indicator
	b.indicator = next
	return prev.Visible != next.Visible || prev.Username != next.Username
}

func (b *TypingBridge) notify(ctx context.Context, ind TypingIndicator, listeners []func(TypingIndicator)) {
	for _, fn := range listeners {
		fn(ind)
	}
	b.publisher.Publish(context.WithoutCancel(ctx), events.NewEvent(models.EventTypeTypingChanged, ind.TicketID, models.TypingPayload{
		Visible:  ind.Visible,
		Username: ind.Username,
	}))
}

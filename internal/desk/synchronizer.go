package desk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/labelhub/supportdesk/internal/errs"
	"github.com/labelhub/supportdesk/internal/events"
	"github.com/labelhub/supportdesk/internal/logging"
	"github.com/labelhub/supportdesk/internal/models"
)

// DefaultTicketInterval is the ticket list poll period.
const DefaultTicketInterval = 5 * time.Second

// Filter is a status bucket of the ticket list.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterInProgress Filter = "in_progress"
	FilterPending    Filter = "pending"
	FilterClosed     Filter = "closed"
)

// ParseFilter normalizes a bucket name. Empty input means FilterAll.
func ParseFilter(raw string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterInProgress, FilterPending, FilterClosed:
		return f, nil
	default:
		return "", fmt.Errorf("unknown status filter %q", raw)
	}
}

// Matches reports whether t belongs in the bucket. Archived tickets only show
// in FilterAll when showArchived is set; FilterClosed always shows them.
func (f Filter) Matches(t models.Ticket, showArchived bool) bool {
	switch f {
	case FilterInProgress:
		return t.Status == models.TicketStatusOpen || t.Status == models.TicketStatusInProgress
	case FilterPending:
		return t.Status == models.TicketStatusPending
	case FilterClosed:
		return t.Status == models.TicketStatusClosed
	default:
		return showArchived || !t.Archived()
	}
}

// SyncStatus is a snapshot of the synchronizer's load state.
type SyncStatus struct {
	// Loading is true while a forced refresh is running.
	Loading bool

	// Err is the last refresh failure, cleared by the next success.
	Err error

	// Visible is true when Err should be shown: there is no list to fall
	// back on, or authorization failed.
	Visible bool

	// Blocked is true after an auth failure; polling is paused until the
	// next explicit Refresh.
	Blocked bool

	// LastRefresh is when the last successful refresh was applied.
	LastRefresh time.Time
}

// Counts summarises the list per bucket.
type Counts struct {
	All           int
	InProgress    int
	Pending       int
	Closed        int
	NeedsResponse int
}

// OpenTicketFunc receives a fresh copy of the open ticket after every refresh.
type OpenTicketFunc func(ticket models.Ticket)

// SynchronizerOptions configures a Synchronizer.
type SynchronizerOptions struct {
	Interval  time.Duration
	Publisher events.Publisher
	Logger    *zerolog.Logger
	Now       func() time.Time
}

type deepLink struct {
	id       string
	onOpened func(models.Ticket)
	fired    bool
}

// Synchronizer is the sole writer of the canonical ticket list.
type Synchronizer struct {
	transport Transport
	session   *Session
	publisher events.Publisher
	logger    zerolog.Logger
	interval  time.Duration
	now       func() time.Time

	mu          sync.Mutex
	tickets     []models.Ticket
	selectedID  string
	filter      Filter
	search      string
	loading     int
	lastErr     error
	errVisible  bool
	blocked     bool
	lastRefresh time.Time
	issued      uint64
	applied     uint64
	link        *deepLink
	subscribers []OpenTicketFunc

	// deliverMu orders republish so an older snapshot never lands after a newer one.
	deliverMu sync.Mutex
	delivered uint64
}

// NewSynchronizer creates a synchronizer for the session.
func NewSynchronizer(transport Transport, session *Session, opts SynchronizerOptions) *Synchronizer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultTicketInterval
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := logging.Component("sync")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Synchronizer{
		transport: transport,
		session:   session,
		publisher: opts.Publisher,
		logger:    logger,
		interval:  opts.Interval,
		now:       opts.Now,
		filter:    FilterAll,
	}
}

// OnOpenTicket registers a receiver for republished open tickets.
func (s *Synchronizer) OnOpenTicket(fn OpenTicketFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Run refreshes immediately and then on every interval until ctx is done.
// Failures are recorded in Status and never stop the loop; after an auth
// failure no requests are made until Refresh is called explicitly.
func (s *Synchronizer) Run(ctx context.Context) {
	s.poll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Synchronizer) poll(ctx context.Context) {
	s.mu.Lock()
	blocked := s.blocked
	s.mu.Unlock()
	if blocked {
		return
	}
	_ = s.Refresh(ctx, false)
}

// Refresh fetches the ticket list and replaces local state. A response older
// than one already applied is discarded. On failure the previous list is kept.
func (s *Synchronizer) Refresh(ctx context.Context, forceLoading bool) error {
	s.mu.Lock()
	s.issued++
	seq := s.issued
	if forceLoading {
		s.loading++
	}
	s.mu.Unlock()

	tickets, err := s.transport.ListTickets(ctx)

	s.mu.Lock()
	if forceLoading {
		s.loading--
	}
	stale := seq < s.applied
	if err != nil {
		if stale || ctx.Err() != nil {
			s.mu.Unlock()
			return err
		}
		s.lastErr = err
		s.errVisible = errs.IsAuth(err) || len(s.tickets) == 0
		if errs.IsAuth(err) {
			s.blocked = true
		}
		visible := s.errVisible
		s.mu.Unlock()

		s.logger.Warn().Err(err).Str("kind", string(errs.KindOf(err))).Msg("ticket refresh failed")
		s.publisher.Publish(ctx, events.NewEvent(models.EventTypeSyncFailed, "", models.SyncFailedPayload{
			Kind:    string(errs.KindOf(err)),
			Error:   errs.UserMessage(err),
			Visible: visible,
		}))
		return err
	}
	if stale {
		s.mu.Unlock()
		s.logger.Debug().Uint64("seq", seq).Msg("discarding stale ticket list")
		return nil
	}

	s.applied = seq
	s.tickets = normalizeTickets(tickets)
	s.lastErr = nil
	s.errVisible = false
	s.blocked = false
	s.lastRefresh = s.now()

	opened, linkFn := s.resolveDeepLinkLocked()
	var republish *models.Ticket
	if i := s.indexLocked(s.selectedID); i >= 0 {
		t := s.tickets[i].Clone()
		republish = &t
	}
	subscribers := append([]OpenTicketFunc(nil), s.subscribers...)
	count := len(s.tickets)
	s.mu.Unlock()

	s.publisher.Publish(ctx, events.NewEvent(models.EventTypeTicketsRefreshed, "", models.RefreshedPayload{Count: count, Sequence: int(seq)}))

	if republish != nil {
		s.deliver(ctx, seq, *republish, subscribers)
	}
	if linkFn != nil {
		s.publisher.Publish(ctx, events.NewEvent(models.EventTypeTicketDeepLinked, opened.ID, nil))
		s.markRead(ctx, opened.ID)
		linkFn(opened.Clone())
	}
	return nil
}

func (s *Synchronizer) deliver(ctx context.Context, seq uint64, ticket models.Ticket, subscribers []OpenTicketFunc) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if seq < s.delivered {
		return
	}
	s.delivered = seq
	for _, fn := range subscribers {
		fn(ticket.Clone())
	}
	s.publisher.Publish(ctx, events.NewEvent(models.EventTypeTicketRepublished, ticket.ID, nil))
}

// resolveDeepLinkLocked opens the pending deep-link target if the fresh list
// contains it. The callback is returned so it runs outside the lock.
func (s *Synchronizer) resolveDeepLinkLocked() (models.Ticket, func(models.Ticket)) {
	if s.link == nil || s.link.fired {
		return models.Ticket{}, nil
	}
	i := s.indexLocked(s.link.id)
	if i < 0 {
		return models.Ticket{}, nil
	}
	s.link.fired = true
	ticket := s.tickets[i].Clone()
	s.selectedID = ticket.ID
	s.filter = FilterAll
	if ticket.Archived() && s.session != nil {
		s.session.SetShowArchived(true)
	}
	fn := s.link.onOpened
	if fn == nil {
		fn = func(models.Ticket) {}
	}
	return ticket, fn
}

// SetDeepLink arranges for ticket id to be opened the first time it appears
// in a freshly loaded list. onOpened runs exactly once.
func (s *Synchronizer) SetDeepLink(id string, onOpened func(models.Ticket)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = strings.TrimSpace(id)
	if id == "" {
		s.link = nil
		return
	}
	s.link = &deepLink{id: id, onOpened: onOpened}
}

// Select opens a loaded ticket and marks it read. The mark-read request is
// fire-and-forget; failures are only logged.
func (s *Synchronizer) Select(ctx context.Context, id string) (models.Ticket, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return models.Ticket{}, fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	s.selectedID = id
	now := s.now().UTC()
	s.tickets[i].AdminReadAt = &now
	ticket := s.tickets[i].Clone()
	s.mu.Unlock()

	s.markRead(ctx, id)
	return ticket, nil
}

func (s *Synchronizer) markRead(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.transport.MarkRead(ctx, id); err != nil {
			logger := logging.WithTicket(s.logger, id)
			logger.Debug().Err(err).Msg("mark read failed")
		}
	}()
}

// CloseTicket clears the selection.
func (s *Synchronizer) CloseTicket() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedID = ""
}

// SelectedID returns the open ticket id, or "".
func (s *Synchronizer) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// UpdateStatus changes a ticket's status. Closing a ticket also archives it.
// The list is refreshed after a successful update.
func (s *Synchronizer) UpdateStatus(ctx context.Context, id string, status models.TicketStatus) error {
	if err := models.ValidateStatusChange(id, status); err != nil {
		return err
	}
	update := models.TicketUpdate{Status: status}
	if status == models.TicketStatusClosed {
		now := s.now().UTC()
		update.ArchivedAt = &now
	}

	if err := s.transport.UpdateTicket(ctx, id, update); err != nil {
		return err
	}

	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		s.tickets[i].Status = status
		s.tickets[i].ArchivedAt = update.ArchivedAt
	}
	s.mu.Unlock()

	s.publisher.Publish(ctx, events.NewEvent(models.EventTypeTicketStatus, id, models.StatusPayload{Status: status}))
	_ = s.Refresh(ctx, false)
	return nil
}

// SetFilter changes the status bucket.
func (s *Synchronizer) SetFilter(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

// Filter returns the current status bucket.
func (s *Synchronizer) Filter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// SetSearch changes the free-text query.
func (s *Synchronizer) SetSearch(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = strings.TrimSpace(q)
}

// Tickets returns a copy of the canonical list, newest first.
func (s *Synchronizer) Tickets() []models.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneTickets(s.tickets)
}

// Ticket returns a copy of one loaded ticket.
func (s *Synchronizer) Ticket(id string) (models.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return models.Ticket{}, false
	}
	return s.tickets[i].Clone(), true
}

// Visible returns the tickets in the current bucket that match the search.
func (s *Synchronizer) Visible() []models.Ticket {
	showArchived := s.session != nil && s.session.ShowArchived()

	s.mu.Lock()
	defer s.mu.Unlock()
	query := strings.ToLower(s.search)
	out := make([]models.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if !s.filter.Matches(t, showArchived) || !matchesSearch(t, query) {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

// Counts reports bucket sizes, ignoring the search query.
func (s *Synchronizer) Counts() Counts {
	showArchived := s.session != nil && s.session.ShowArchived()

	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, t := range s.tickets {
		if FilterAll.Matches(t, showArchived) {
			c.All++
		}
		if FilterInProgress.Matches(t, showArchived) {
			c.InProgress++
		}
		if FilterPending.Matches(t, showArchived) {
			c.Pending++
		}
		if FilterClosed.Matches(t, showArchived) {
			c.Closed++
		}
		if t.Status != models.TicketStatusClosed && t.NeedsResponse() {
			c.NeedsResponse++
		}
	}
	return c
}

// Status returns the load state.
func (s *Synchronizer) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncStatus{
		Loading:     s.loading > 0,
		Err:         s.lastErr,
		Visible:     s.errVisible,
		Blocked:     s.blocked,
		LastRefresh: s.lastRefresh,
	}
}

func (s *Synchronizer) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.tickets {
		if s.tickets[i].ID == id {
			return i
		}
	}
	return -1
}

func matchesSearch(t models.Ticket, query string) bool {
	if query == "" {
		return true
	}
	for _, field := range []string{t.ID, t.Subject, t.UserEmail, t.UserNickname, t.UserTelegram} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

// normalizeTickets deep-copies the list, sorts it newest-created first and
// normalizes every thread.
func normalizeTickets(in []models.Ticket) []models.Ticket {
	out := make([]models.Ticket, 0, len(in))
	for _, t := range in {
		c := t.Clone()
		c.Messages = models.NormalizeThread(c.Messages)
		if c.Messages == nil {
			c.Messages = []models.Message{}
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

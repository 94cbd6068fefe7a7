package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/labelhub/supportdesk/internal/desk"
	"github.com/labelhub/supportdesk/internal/events"
	"github.com/labelhub/supportdesk/internal/logging"
	"github.com/labelhub/supportdesk/internal/models"
)

const watchBuffer = 256

func (a *app) newWatchCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch [ticket-id]",
		Short: "Follow the ticket list or one conversation live",
		Long: `Poll the ticket list and print changes until interrupted.

With a ticket id the conversation is opened as soon as the list loads it;
new messages and the artist's typing indicator are printed as they arrive.
With --json every desk event is written as one JSON object per line.`,
		Example: `  supportdesk watch
  supportdesk watch 42
  supportdesk watch --json --metrics-addr :9090`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			rt, err := a.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Addr
			}
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", rt.recorder.Handler())
				go func() {
					if err := serveHTTP(ctx, metricsAddr, mux); err != nil {
						logger := logging.Component("metrics")
						logger.Error().Err(err).Str("addr", metricsAddr).Msg("metrics listener stopped")
					}
				}()
			}

			stream, err := rt.pub.Channel(ctx, events.Filter{}, watchBuffer)
			if err != nil {
				return err
			}

			streamer := newEventStreamer(rt, cmd.OutOrStdout(), a.opts.jsonOutput)
			if len(args) == 1 {
				streamer.ticketID = args[0]
				rt.desk.OpenDeepLink(ctx, args[0], func(models.Ticket) {
					select {
					case streamer.opened <- struct{}{}:
					default:
					}
				})
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				rt.desk.Run(ctx)
			}()

			err = streamer.Stream(ctx, stream)
			cancel()
			<-done
			return err
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default: metrics.addr)")

	return cmd
}

// EventStreamer prints desk events as they are published.
type EventStreamer struct {
	rt       *runtime
	out      io.Writer
	jsonl    bool
	ticketID string

	// opened is signalled once the watched conversation is open.
	opened      chan struct{}
	threadShown bool
	listDigest  string
	seen        map[string]bool
}

func newEventStreamer(rt *runtime, out io.Writer, jsonl bool) *EventStreamer {
	return &EventStreamer{
		rt:     rt,
		out:    out,
		jsonl:  jsonl,
		opened: make(chan struct{}, 1),
		seen:   make(map[string]bool),
	}
}

// Stream writes events until the channel closes or ctx is done. It returns
// nil on shutdown.
func (s *EventStreamer) Stream(ctx context.Context, stream <-chan models.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.opened:
			if s.jsonl {
				continue
			}
			if err := s.renderThread(); err != nil {
				return fmt.Errorf("failed to write thread: %w", err)
			}
		case event, ok := <-stream:
			if !ok {
				return nil
			}
			var err error
			if s.jsonl {
				err = s.writeEvent(&event)
			} else {
				err = s.render(event)
			}
			if err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
	}
}

// writeEvent writes a single event as JSONL.
func (s *EventStreamer) writeEvent(event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(s.out, string(data))
	return err
}

func (s *EventStreamer) render(event models.Event) error {
	r := s.rt.renderer
	d := s.rt.desk

	switch event.Type {
	case models.EventTypeTicketsRefreshed:
		if s.ticketID != "" {
			return nil
		}
		visible := d.Sync.Visible()
		digest := listDigest(visible)
		if digest == s.listDigest {
			return nil
		}
		s.listDigest = digest
		_, _ = fmt.Fprintf(s.out, "\n%s\n", time.Now().Format("15:04:05"))
		return r.Tickets(visible, d.Sync.Counts())

	case models.EventTypeTicketRepublished:
		ticket, ok := d.Conversation.Ticket()
		if !s.threadShown || !ok || ticket.ID != event.TicketID {
			return nil
		}
		for _, m := range ticket.Messages {
			if s.seen[m.ID] {
				continue
			}
			s.seen[m.ID] = true
			if err := r.Message(ticket.Messages, m); err != nil {
				return err
			}
		}
		return nil

	case models.EventTypeTypingChanged:
		var payload models.TypingPayload
		if err := event.DecodePayload(&payload); err != nil {
			return nil
		}
		return r.Typing(desk.TypingIndicator{TicketID: event.TicketID, Visible: payload.Visible, Username: payload.Username})

	case models.EventTypeSyncFailed:
		return r.SyncStatus(d.Sync.Status())
	}
	return nil
}

// renderThread prints the open conversation in full. Later refreshes only
// print messages not shown here.
func (s *EventStreamer) renderThread() error {
	ticket, ok := s.rt.desk.Conversation.Ticket()
	if !ok {
		return nil
	}
	for _, m := range ticket.Messages {
		s.seen[m.ID] = true
	}
	s.threadShown = true
	return s.rt.renderer.Thread(ticket)
}

// listDigest changes whenever a row of the ticket table would.
func listDigest(tickets []models.Ticket) string {
	rows := make([]string, 0, len(tickets))
	for _, t := range tickets {
		rows = append(rows, fmt.Sprintf("%s|%s|%d|%d|%t",
			t.ID, t.Status, t.LastMessageAt.UnixNano(), len(t.Messages), t.NeedsResponse()))
	}
	sort.Strings(rows)
	return strings.Join(rows, "\n")
}

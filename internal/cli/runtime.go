package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/labelhub/supportdesk/internal/api"
	"github.com/labelhub/supportdesk/internal/desk"
	"github.com/labelhub/supportdesk/internal/events"
	"github.com/labelhub/supportdesk/internal/logging"
	"github.com/labelhub/supportdesk/internal/metrics"
	"github.com/labelhub/supportdesk/internal/render"
	"github.com/labelhub/supportdesk/internal/state"
)

const fallbackWidth = 80

// runtime is a connected desk session for one command.
type runtime struct {
	desk     *desk.Desk
	store    *state.Store
	pub      *events.InMemoryPublisher
	recorder *metrics.Recorder
	renderer *render.Renderer
}

// connect builds the API client, local store and desk from the loaded config.
func (a *app) connect(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfg := a.cfg
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, Exitf(ExitCodeFailure, "%v", err)
	}

	recorder := metrics.New()
	logger := logging.Component("api")
	client, err := api.NewClient(api.Config{
		BaseURL:          cfg.API.BaseURL,
		Token:            cfg.API.Token,
		Timeout:          cfg.API.Timeout,
		MaxResponseBytes: cfg.API.MaxResponseBytes,
		Logger:           &logger,
		Observer:         recorder,
	})
	if err != nil {
		return nil, &ExitError{Code: ExitCodeUsage, Err: err}
	}

	store, err := state.Open(ctx, cfg.State.Path, cfg.State.SaveDebounce)
	if err != nil {
		return nil, Exitf(ExitCodeFailure, "%v", err)
	}

	pub := events.NewInMemoryPublisher()
	if _, err := recorder.Attach(pub); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to attach metrics: %w", err)
	}

	d, err := desk.New(desk.Options{
		Transport: client,
		Identity: desk.Identity{
			ActorID:  cfg.Session.ActorID,
			Nickname: cfg.Session.Nickname,
			Avatar:   cfg.Session.Avatar,
			IsAdmin:  cfg.Session.IsAdmin,
		},
		Drafts:          store,
		Preferences:     store,
		Publisher:       pub,
		TicketInterval:  cfg.Poll.TicketInterval,
		TypingInterval:  cfg.Poll.TypingInterval,
		TypingHideAfter: cfg.Poll.TypingHideAfter,
		MaxUploadBytes:  cfg.Upload.MaxBytes,
	})
	if err != nil {
		pub.Close()
		_ = store.Close()
		return nil, err
	}

	return &runtime{
		desk:     d,
		store:    store,
		pub:      pub,
		recorder: recorder,
		renderer: a.renderer(cmd),
	}, nil
}

func (a *app) renderer(cmd *cobra.Command) *render.Renderer {
	out := cmd.OutOrStdout()
	styles := render.PlainStyles()
	width := fallbackWidth
	if f, ok := out.(*os.File); ok {
		styles = render.StylesFor(f, a.opts.noColor)
		width = render.TerminalWidth(f, fallbackWidth)
	}
	return &render.Renderer{
		Out:    out,
		Styles: styles,
		Width:  width,
		Actor:  a.cfg.Session.ActorID,
	}
}

// Close stops the desk and flushes drafts.
func (r *runtime) Close() error {
	r.desk.Close()
	r.pub.Close()
	return r.store.Close()
}

// load refreshes the ticket list once. Any failure is returned, even when the
// desk would keep it quiet in the UI.
func (r *runtime) load(ctx context.Context) error {
	if err := r.desk.Sync.Refresh(ctx, true); err != nil {
		return exitFor("load tickets", err)
	}
	return nil
}

// open loads the list and opens ticketID's conversation.
func (r *runtime) open(ctx context.Context, ticketID string) error {
	if err := r.load(ctx); err != nil {
		return err
	}
	if _, err := r.desk.Open(ctx, ticketID); err != nil {
		if errors.Is(err, desk.ErrTicketNotFound) {
			return Exitf(ExitCodeFailure, "ticket %s not found", ticketID)
		}
		return exitFor("open ticket", err)
	}
	return nil
}

package cli

import (
	"github.com/spf13/cobra"

	"github.com/labelhub/supportdesk/internal/desk"
	"github.com/labelhub/supportdesk/internal/models"
)

type ticketsOutput struct {
	Counts  desk.Counts     `json:"counts"`
	Tickets []models.Ticket `json:"tickets"`
}

func (a *app) newTicketsCmd() *cobra.Command {
	var (
		status   string
		search   string
		archived bool
	)

	cmd := &cobra.Command{
		Use:     "tickets",
		Aliases: []string{"ls"},
		Short:   "List support tickets",
		Long: `List support tickets, newest first.

The status bucket and archive toggle are remembered between runs.`,
		Example: `  supportdesk tickets
  supportdesk tickets --status pending
  supportdesk tickets --search payout --archived`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			prefs := rt.store.Preferences()
			if cmd.Flags().Changed("status") {
				prefs.StatusFilter = status
			}
			filter, err := desk.ParseFilter(prefs.StatusFilter)
			if err != nil {
				return &ExitError{Code: ExitCodeUsage, Err: err}
			}
			if cmd.Flags().Changed("status") {
				rt.store.SetPreferences(prefs)
			}
			if cmd.Flags().Changed("archived") {
				rt.desk.Session.SetShowArchived(archived)
			}

			if err := rt.load(ctx); err != nil {
				return err
			}
			rt.desk.Sync.SetFilter(filter)
			rt.desk.Sync.SetSearch(search)

			visible := rt.desk.Sync.Visible()
			counts := rt.desk.Sync.Counts()
			if a.opts.jsonOutput {
				if visible == nil {
					visible = []models.Ticket{}
				}
				return writeJSON(cmd.OutOrStdout(), ticketsOutput{Counts: counts, Tickets: visible})
			}
			return rt.renderer.Tickets(visible, counts)
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "status bucket: all, in_progress, pending, closed")
	cmd.Flags().StringVarP(&search, "search", "q", "", "match id, subject, email, nickname or telegram")
	cmd.Flags().BoolVar(&archived, "archived", false, "include archived tickets in the all bucket")

	return cmd
}

func (a *app) newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <ticket-id>",
		Short: "Show a ticket conversation",
		Long:  "Show a ticket's messages and marks it read. A saved draft is shown below the thread.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.open(ctx, args[0]); err != nil {
				return err
			}
			ticket, _ := rt.desk.Conversation.Ticket()
			if a.opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), ticket)
			}
			if err := rt.renderer.Thread(ticket); err != nil {
				return err
			}
			if c := rt.desk.Conversation.Composer(); !c.Empty() {
				return rt.renderer.Composer(c)
			}
			return nil
		},
	}
}

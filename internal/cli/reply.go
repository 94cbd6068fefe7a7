package cli

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/labelhub/supportdesk/internal/desk"
	"github.com/labelhub/supportdesk/internal/models"
)

func (a *app) newReplyCmd() *cobra.Command {
	var (
		images  []string
		attach  []string
		replyTo string
	)

	cmd := &cobra.Command{
		Use:   "reply <ticket-id> [text...]",
		Short: "Reply to a ticket",
		Long: `Reply to a ticket with text, images or both.

Without text the saved draft for the ticket is sent. Files given with --attach
are uploaded first; if any is rejected nothing is sent and the accepted ones
stay staged in the draft.`,
		Example: `  supportdesk reply 42 "Your payout was sent this morning"
  supportdesk reply 42 --attach screenshot.png "See the attached screenshot"
  supportdesk reply 42 --reply-to m-17 "Yes, that one"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ticketID := args[0]
			if err := rt.open(ctx, ticketID); err != nil {
				return err
			}
			conv := rt.desk.Conversation

			if replyTo != "" {
				target, ok := conv.Message(replyTo)
				if !ok {
					return Exitf(ExitCodeValidation, "message %s not found in ticket %s", replyTo, ticketID)
				}
				conv.SetReplyTarget(&target)
			}
			if err := conv.StageAttachments(images...); err != nil {
				return exitFor("stage images", err)
			}

			if len(attach) > 0 {
				files, closeFiles, err := openAttachments(attach)
				if err != nil {
					return err
				}
				res, err := conv.Upload(ctx, files)
				closeFiles()
				if err != nil {
					return exitFor("upload", err)
				}
				if len(res.Rejections) > 0 {
					rt.renderer.Out = cmd.ErrOrStderr()
					_ = rt.renderer.Uploads(res)
					return &ExitError{Code: ExitCodeValidation, Err: errors.New("some attachments were rejected"), Printed: true}
				}
			}

			if text := strings.TrimSpace(strings.Join(args[1:], " ")); text != "" {
				if err := conv.SetDraft(ctx, text); err != nil {
					return exitFor("save draft", err)
				}
			}

			msg, err := conv.SendReply(ctx)
			if err != nil {
				return exitFor("send reply", err)
			}
			if msg == nil {
				return Exitf(ExitCodeUsage, "nothing to send: give reply text, --image or --attach")
			}
			if a.opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), msg)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "sent %s to ticket %s\n", msg.ID, ticketID)
			return err
		},
	}

	cmd.Flags().StringArrayVar(&images, "image", nil, "already uploaded image URL (repeatable)")
	cmd.Flags().StringArrayVarP(&attach, "attach", "a", nil, "image file to upload and attach (repeatable)")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "message id to quote")

	return cmd
}

// openAttachments opens paths for upload. The returned func closes them.
func openAttachments(paths []string) ([]desk.File, func(), error) {
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	files := make([]desk.File, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, nil, Exitf(ExitCodeUsage, "open attachment: %v", err)
		}
		opened = append(opened, f)

		info, err := f.Stat()
		if err != nil {
			closeAll()
			return nil, nil, Exitf(ExitCodeUsage, "stat attachment: %v", err)
		}
		contentType, err := detectContentType(f)
		if err != nil {
			closeAll()
			return nil, nil, Exitf(ExitCodeUsage, "read attachment %s: %v", path, err)
		}
		files = append(files, desk.File{
			Name:        filepath.Base(path),
			ContentType: contentType,
			Size:        info.Size(),
			Content:     f,
		})
	}
	return files, closeAll, nil
}

// detectContentType trusts the extension and falls back to sniffing. f is
// rewound afterwards.
func detectContentType(f *os.File) (string, error) {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(f.Name()))); ct != "" {
		return ct, nil
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}

func (a *app) newReactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "react <ticket-id> <message-id>",
		Short: "Toggle your reaction on a message",
		Args:  cobra.ExactArgs(2),
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
			outcome, err := rt.desk.Reactions.Toggle(ctx, args[1])
			if err != nil {
				return exitFor("toggle reaction", err)
			}
			if a.opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), outcome)
			}
			verb := "added"
			if outcome.Removed {
				verb = "removed"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s on %s\n", verb, models.DefaultReaction, args[1])
			return err
		},
	}
}

func (a *app) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <ticket-id> <message-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a message from a ticket",
		Args:    cobra.ExactArgs(2),
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
			if err := rt.desk.Conversation.DeleteMessage(ctx, args[1]); err != nil {
				return exitFor("delete message", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[1])
			return err
		},
	}
}

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <ticket-id> <status>",
		Short: "Change a ticket's status",
		Long: `Change a ticket's status to open, in_progress, pending or closed.

Closing a ticket also archives it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			status := models.TicketStatus(strings.ToLower(strings.TrimSpace(args[1])))
			if err := rt.desk.Sync.UpdateStatus(ctx, args[0], status); err != nil {
				return exitFor("update status", err)
			}
			if a.opts.jsonOutput {
				if ticket, ok := rt.desk.Sync.Ticket(args[0]); ok {
					return writeJSON(cmd.OutOrStdout(), ticket)
				}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ticket %s is now %s\n", args[0], rt.renderer.Styles.Status(status))
			return err
		},
	}
}

package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/muesli/reflow/wordwrap"

	"github.com/labelhub/supportdesk/internal/desk"
	"github.com/labelhub/supportdesk/internal/errs"
	"github.com/labelhub/supportdesk/internal/models"
)

const (
	replyPrefix     = "│ "
	subjectWidth    = 48
	snippetWidth    = 60
	defaultWidth    = 80
	timestampLayout = "2006-01-02 15:04"
)

// Renderer writes desk state to an output stream.
type Renderer struct {
	Out    io.Writer
	Styles Styles
	Width  int

	// Actor marks the agent's own messages and reactions.
	Actor string

	// Now is used for relative times. Defaults to time.Now.
	Now func() time.Time
}

func (r *Renderer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Renderer) width() int {
	if r.Width > 0 {
		return r.Width
	}
	return defaultWidth
}

// Tickets prints the ticket list with a bucket summary.
func (r *Renderer) Tickets(tickets []models.Ticket, counts desk.Counts) error {
	s := r.Styles
	summary := fmt.Sprintf("all %d · in progress %d · pending %d · closed %d · needs response %d",
		counts.All, counts.InProgress, counts.Pending, counts.Closed, counts.NeedsResponse)
	if _, err := fmt.Fprintln(r.Out, s.paint(s.Muted, summary)); err != nil {
		return err
	}
	if len(tickets) == 0 {
		_, err := fmt.Fprintln(r.Out, s.paint(s.Muted, "no tickets"))
		return err
	}

	headers := []string{"", "ID", "STATUS", "SUBJECT", "OWNER", "LAST MESSAGE"}
	for i := range headers {
		headers[i] = s.paint(s.Header, headers[i])
	}
	rows := make([][]string, 0, len(tickets))
	for _, t := range tickets {
		marker := ""
		if t.Status != models.TicketStatusClosed && t.NeedsResponse() {
			marker = s.paint(s.Unread, "●")
		}
		status := s.Status(t.Status)
		if t.Archived() {
			status += s.paint(s.Muted, " (archived)")
		}
		rows = append(rows, []string{
			marker,
			t.ID,
			status,
			truncate(t.Subject, subjectWidth),
			ownerLabel(t),
			r.relative(lastActivity(t)),
		})
	}
	return writeTable(r.Out, headers, rows)
}

// Thread prints a ticket header and its messages in order.
func (r *Renderer) Thread(t models.Ticket) error {
	s := r.Styles
	var b strings.Builder

	b.WriteString(s.paint(s.Title, t.Subject))
	b.WriteString("  ")
	b.WriteString(s.Status(t.Status))
	b.WriteString("\n")
	meta := []string{t.ID, ownerLabel(t)}
	if t.Category != "" {
		meta = append(meta, t.Category)
	}
	if t.Release != nil {
		meta = append(meta, fmt.Sprintf("release: %s - %s", t.Release.Artist, t.Release.Title))
	}
	if t.Transaction != nil {
		meta = append(meta, fmt.Sprintf("transaction: %s %.2f (%s)", t.Transaction.Type, t.Transaction.Amount, t.Transaction.Status))
	}
	b.WriteString(s.paint(s.Muted, strings.Join(meta, " · ")))
	b.WriteString("\n")

	if len(t.Messages) == 0 {
		b.WriteString("\n")
		b.WriteString(s.paint(s.Muted, "no messages yet"))
		b.WriteString("\n")
	}
	for _, m := range t.Messages {
		b.WriteString("\n")
		b.WriteString(r.message(t.Messages, m))
	}

	_, err := io.WriteString(r.Out, b.String())
	return err
}

// Message prints one message of thread, preceded by a blank line.
func (r *Renderer) Message(thread []models.Message, m models.Message) error {
	_, err := io.WriteString(r.Out, "\n"+r.message(thread, m))
	return err
}

func (r *Renderer) message(thread []models.Message, m models.Message) string {
	s := r.Styles
	var b strings.Builder

	name := m.DisplayName()
	if m.IsAdmin {
		name = s.paint(s.Agent, name)
	} else {
		name = s.paint(s.Owner, name)
	}
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(s.paint(s.Muted, m.CreatedAt.Local().Format(timestampLayout)))
	b.WriteString(s.paint(s.Muted, "  #"+m.ID))
	b.WriteString("\n")

	if m.ReplyToID != "" {
		b.WriteString(r.replySnippet(thread, m))
		b.WriteString("\n")
	}
	if body := strings.TrimSpace(m.Body); body != "" {
		b.WriteString(s.paint(s.Body, wrap(body, r.width())))
		b.WriteString("\n")
	}
	for _, img := range m.Images {
		b.WriteString(s.paint(s.Muted, "[image] "+img))
		b.WriteString("\n")
	}
	if line := r.reactions(m); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// replySnippet prefers the embedded preview, then the thread, and degrades
// to a placeholder when the target cannot be found.
func (r *Renderer) replySnippet(thread []models.Message, m models.Message) string {
	s := r.Styles
	var who, body string
	switch target, ok := models.ResolveReply(thread, m); {
	case m.ReplyTo != nil:
		preview := m.ReplyTo
		who = models.Message{SenderNickname: preview.SenderNickname, SenderUsername: preview.SenderUsername, SenderEmail: preview.SenderEmail, IsAdmin: preview.IsAdmin}.DisplayName()
		body = preview.Body
	case ok:
		who, body = target.DisplayName(), target.Body
	default:
		return s.paint(s.Reply, replyPrefix+"reply to a message that is no longer available")
	}
	return s.paint(s.Reply, replyPrefix+who+": "+truncate(body, snippetWidth))
}

func (r *Renderer) reactions(m models.Message) string {
	if len(m.Reactions) == 0 {
		return ""
	}
	counts := make(map[string]int)
	var order []string
	mine := false
	for _, re := range m.Reactions {
		emoji := re.Emoji
		if emoji == "" {
			emoji = models.DefaultReaction
		}
		if _, seen := counts[emoji]; !seen {
			order = append(order, emoji)
		}
		counts[emoji]++
		if r.Actor != "" && re.UserID == r.Actor {
			mine = true
		}
	}
	parts := make([]string, 0, len(order))
	for _, emoji := range order {
		parts = append(parts, fmt.Sprintf("%s %d", emoji, counts[emoji]))
	}
	line := strings.Join(parts, "  ")
	if mine {
		line += " (you)"
	}
	return r.Styles.paint(r.Styles.Muted, line)
}

// Typing prints the counterpart's typing indicator, or nothing when hidden.
func (r *Renderer) Typing(ind desk.TypingIndicator) error {
	if !ind.Visible {
		return nil
	}
	_, err := fmt.Fprintln(r.Out, r.Styles.paint(r.Styles.Typing, ind.Username+" is typing…"))
	return err
}

// Composer prints the pending reply state.
func (r *Renderer) Composer(c desk.Composer) error {
	s := r.Styles
	var b strings.Builder
	if c.ReplyTo != nil {
		b.WriteString(s.paint(s.Reply, replyPrefix+"replying to "+c.ReplyTo.DisplayName()+": "+truncate(c.ReplyTo.Body, snippetWidth)))
		b.WriteString("\n")
	}
	if c.Draft != "" {
		b.WriteString(s.paint(s.Muted, "draft: ") + truncate(c.Draft, snippetWidth))
		b.WriteString("\n")
	}
	for _, a := range c.Attachments {
		b.WriteString(s.paint(s.Muted, "[staged] "+a))
		b.WriteString("\n")
	}
	switch {
	case c.Sending:
		b.WriteString(s.paint(s.Muted, "sending…\n"))
	case c.Uploading:
		b.WriteString(s.paint(s.Muted, "uploading…\n"))
	}
	if c.Err != nil {
		b.WriteString(s.paint(s.Error, errs.UserMessage(c.Err)))
		b.WriteString("\n")
	}
	_, err := io.WriteString(r.Out, b.String())
	return err
}

// SyncStatus prints a visible sync failure, if any.
func (r *Renderer) SyncStatus(st desk.SyncStatus) error {
	if st.Err == nil || !st.Visible {
		return nil
	}
	msg := errs.UserMessage(st.Err)
	if st.Blocked {
		msg += " (polling paused)"
	}
	_, err := fmt.Fprintln(r.Out, r.Styles.paint(r.Styles.Error, msg))
	return err
}

// Uploads prints per-file rejections of a batch.
func (r *Renderer) Uploads(res desk.UploadResult) error {
	for _, u := range res.URLs {
		if _, err := fmt.Fprintln(r.Out, r.Styles.paint(r.Styles.Muted, "uploaded "+u)); err != nil {
			return err
		}
	}
	for _, msg := range res.Messages() {
		if _, err := fmt.Fprintln(r.Out, r.Styles.paint(r.Styles.Error, msg)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) relative(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	d := r.now().Sub(ts)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return ts.Local().Format("2006-01-02")
	}
}

func lastActivity(t models.Ticket) time.Time {
	if !t.LastMessageAt.IsZero() {
		return t.LastMessageAt
	}
	return t.CreatedAt
}

func ownerLabel(t models.Ticket) string {
	for _, v := range []string{t.UserNickname, t.UserTelegram, t.UserEmail, t.UserID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return "unknown"
}

func wrap(body string, width int) string {
	if width <= 0 {
		return body
	}
	lines := strings.Split(body, "\n")
	for i := range lines {
		lines[i] = wordwrap.String(lines[i], width)
	}
	return strings.Join(lines, "\n")
}

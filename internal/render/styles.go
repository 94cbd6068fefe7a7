// Package render formats tickets, threads and presence for the terminal.
package render

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/labelhub/supportdesk/internal/models"
)

// Palette holds ANSI-256 color codes.
type Palette struct {
	Foreground string
	Muted      string
	Accent     string
	Agent      string
	Owner      string
	Open       string
	InProgress string
	Pending    string
	Closed     string
	Error      string
}

// DefaultPalette is tuned for dark terminals.
var DefaultPalette = Palette{
	Foreground: "252",
	Muted:      "244",
	Accent:     "212",
	Agent:      "75",
	Owner:      "183",
	Open:       "39",
	InProgress: "214",
	Pending:    "141",
	Closed:     "242",
	Error:      "203",
}

// Styles are the pre-built styles used by the renderers. The zero value
// renders plain text.
type Styles struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Body      lipgloss.Style
	Agent     lipgloss.Style
	Owner     lipgloss.Style
	Reply     lipgloss.Style
	Unread    lipgloss.Style
	Error     lipgloss.Style
	Typing    lipgloss.Style
	Header    lipgloss.Style
	statusMap map[models.TicketStatus]lipgloss.Style
	colored   bool
}

// NewStyles builds colored styles from p.
func NewStyles(p Palette) Styles {
	color := func(c string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(c))
	}
	return Styles{
		Title:  color(p.Foreground).Bold(true),
		Muted:  color(p.Muted),
		Body:   color(p.Foreground),
		Agent:  color(p.Agent).Bold(true),
		Owner:  color(p.Owner).Bold(true),
		Reply:  color(p.Muted).Italic(true),
		Unread: color(p.Accent).Bold(true),
		Error:  color(p.Error).Bold(true),
		Typing: color(p.Muted).Faint(true),
		Header: color(p.Muted).Bold(true).Underline(true),
		statusMap: map[models.TicketStatus]lipgloss.Style{
			models.TicketStatusOpen:       color(p.Open).Bold(true),
			models.TicketStatusInProgress: color(p.InProgress).Bold(true),
			models.TicketStatusPending:    color(p.Pending).Bold(true),
			models.TicketStatusClosed:     color(p.Closed),
		},
		colored: true,
	}
}

// PlainStyles renders without any escape codes.
func PlainStyles() Styles {
	return Styles{}
}

// StylesFor picks colored styles when f is a terminal and color is allowed.
func StylesFor(f *os.File, noColor bool) Styles {
	if noColor || f == nil || os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(f.Fd())) {
		return PlainStyles()
	}
	return NewStyles(DefaultPalette)
}

// Status renders a status badge.
func (s Styles) Status(status models.TicketStatus) string {
	label := statusLabel(status)
	if st, ok := s.statusMap[status]; ok {
		return s.paint(st, label)
	}
	return label
}

// paint applies st unless the styles are plain.
func (s Styles) paint(st lipgloss.Style, text string) string {
	if !s.colored || text == "" {
		return text
	}
	return st.Render(text)
}

// TerminalWidth returns the width of f, or fallback when it is not a terminal.
func TerminalWidth(f *os.File, fallback int) int {
	if f == nil {
		return fallback
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}

func statusLabel(status models.TicketStatus) string {
	switch status {
	case models.TicketStatusOpen:
		return "open"
	case models.TicketStatusInProgress:
		return "in progress"
	case models.TicketStatusPending:
		return "pending"
	case models.TicketStatusClosed:
		return "closed"
	default:
		return string(status)
	}
}

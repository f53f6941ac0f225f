package repl

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/AlienChat/internal/models"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// PlainStyle renders Markdown without colors, for pipes and tests.
const PlainStyle = "notty"

const wordWrap = 80

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	botStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// renderer turns bot replies into terminal Markdown.
type renderer struct {
	style string
	term  *glamour.TermRenderer
}

// styleForTheme picks the glamour standard style matching the theme preference.
func styleForTheme(t models.Theme) string {
	if t == models.ThemeLight {
		return "light"
	}
	return "dark"
}

func newRenderer(style string) (*renderer, error) {
	term, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &renderer{style: style, term: term}, nil
}

// markdown renders text, falling back to the raw text when rendering fails.
func (r *renderer) markdown(text string) string {
	out, err := r.term.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

// message formats one chat message for the transcript.
func (r *renderer) message(m models.Message) string {
	if m.Sender == models.SenderBot {
		return botStyle.Render("Bot") + "\n" + r.markdown(m.Text)
	}
	return promptStyle.Render("You") + " " + m.Text + "\n"
}

// transcript formats a whole conversation under its title.
func (r *renderer) transcript(c models.Conversation) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(c.Title))
	b.WriteString("\n\n")
	for _, m := range c.Messages {
		b.WriteString(r.message(m))
	}
	return b.String()
}

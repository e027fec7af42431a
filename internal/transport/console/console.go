// Package console prints alerts to a terminal.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"eventra/internal/alert"

	"github.com/charmbracelet/lipgloss"
)

const SinkName = "console"

type Sink struct {
	mu  sync.Mutex
	w   io.Writer
	seq int

	box     lipgloss.Style
	title   lipgloss.Style
	muted   lipgloss.Style
	updated lipgloss.Style
}

// New styles output for w. A writer that is not a terminal gets plain text.
func New(w io.Writer) *Sink {
	r := lipgloss.NewRenderer(w)
	return &Sink{
		w:       w,
		box:     r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("33")).Padding(0, 1),
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("230")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("244")),
		updated: r.NewStyle().Foreground(lipgloss.Color("3")),
	}
}

func (s *Sink) Name() string { return SinkName }

// Show prints a. A terminal cannot replace earlier output, so a redelivery
// is printed again and marked as an update.
func (s *Sink) Show(ctx context.Context, a alert.Alert, prevRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var lines []string
	head := s.title.Render(a.Title)
	if prevRef != "" {
		head += " " + s.updated.Render("(updated)")
	}
	lines = append(lines, head)
	if a.Text != "" {
		lines = append(lines, a.Text)
	}
	if a.Body != "" {
		lines = append(lines, "", s.muted.Render(a.Body))
	}
	if _, err := fmt.Fprintln(s.w, s.box.Render(strings.Join(lines, "\n"))); err != nil {
		return "", err
	}
	if prevRef != "" {
		return prevRef, nil
	}
	s.seq++
	return fmt.Sprintf("%s:%s:%d", SinkName, a.ID, s.seq), nil
}

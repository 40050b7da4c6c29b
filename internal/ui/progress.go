package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// Transfer renders a single-line byte progress bar for firmware pushes.
type Transfer struct {
	Label string
	Width int

	out  io.Writer
	bar  progress.Model
	last string
}

// NewTransfer creates a transfer display writing to out.
func NewTransfer(out io.Writer, label string) *Transfer {
	t := &Transfer{Label: label, out: out}
	return t.SetWidth(GetTerminalWidth())
}

// SetWidth sets the terminal width for responsive rendering
func (t *Transfer) SetWidth(width int) *Transfer {
	t.Width = width
	barWidth := min(max(width-40, 20), 50) // Leave room for byte counts
	t.bar = progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
	)
	return t
}

// Line returns the rendered progress line for sent of total bytes.
func (t *Transfer) Line(sent, total int64) string {
	var percent float64
	if total > 0 {
		percent = float64(sent) / float64(total)
	}
	counts := fmt.Sprintf("%3.0f%%  %s / %s", percent*100, FormatBytes(sent), FormatBytes(total))
	return lipgloss.NewStyle().
		PaddingLeft(2).
		Render(t.bar.ViewAs(percent) + "  " + counts)
}

// Update redraws the progress line in place. It matches ota.Client.Progress.
func (t *Transfer) Update(sent, total int64) {
	line := t.Line(sent, total)
	if line == t.last {
		return
	}
	if t.last == "" && t.Label != "" {
		_, _ = fmt.Fprintln(t.out, LabelStyle.Render(t.Label))
	}
	t.last = line
	_, _ = fmt.Fprint(t.out, "\r"+line)
}

// Done ends the progress line.
func (t *Transfer) Done() {
	if t.last != "" {
		_, _ = fmt.Fprintln(t.out)
	}
}

// FormatBytes formats n as a human readable size.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

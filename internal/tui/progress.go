package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/vitaminmoo/vsp-ota/internal/ota"
)

// ProgressState tracks the bytes of a transfer accepted by the module.
type ProgressState struct {
	progress progress.Model
	sent     int
	total    int
	isActive bool
}

// NewProgressState creates a new progress tracking state.
func NewProgressState() ProgressState {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)
	return ProgressState{
		progress: p,
	}
}

// Update records a progress report.
func (p *ProgressState) Update(pr ota.Progress) {
	p.isActive = true
	p.sent = pr.Sent
	p.total = pr.Total
}

// SetWidth resizes the bar, keeping it within the terminal.
func (p *ProgressState) SetWidth(termWidth int) {
	w := termWidth - 30
	if w > 60 {
		w = 60
	}
	if w < 10 {
		w = 10
	}
	p.progress.Width = w
}

// Percent returns the completed share (0.0 to 1.0).
func (p ProgressState) Percent() float64 {
	if p.total <= 0 {
		return 0
	}
	return float64(p.sent) / float64(p.total)
}

// IsActive returns whether a transfer has reported progress.
func (p ProgressState) IsActive() bool {
	return p.isActive
}

// View renders the progress bar.
func (p ProgressState) View() string {
	if !p.isActive {
		return ""
	}
	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	desc := fmt.Sprintf("%s / %s", humanize.Bytes(uint64(p.sent)), humanize.Bytes(uint64(p.total)))
	return p.progress.ViewAs(p.Percent()) + " " + descStyle.Render(desc)
}

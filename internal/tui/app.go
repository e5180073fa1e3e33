package tui

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vitaminmoo/vsp-ota/internal/ota"
)

// Run shows the operation screen until the operation finishes or the
// operator quits. start is called once the notifier is ready and must
// return without waiting for the operation.
func Run(title, link string, cancel func(), start func(ota.Notifier)) (*ota.Outcome, error) {
	m := NewModel(title, link, cancel)
	p := tea.NewProgram(m)

	done := make(chan struct{})
	start(NewNotifier(p, done))

	final, err := p.Run()
	close(done)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		return nil, err
	}

	return final.(Model).Outcome(), nil
}

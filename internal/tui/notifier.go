package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/vitaminmoo/vsp-ota/internal/ota"
)

// sender is the part of tea.Program the notifier uses.
type sender interface {
	Send(msg tea.Msg)
}

// Notifier forwards machine notifications to a running program.
type Notifier struct {
	p    sender
	done <-chan struct{}
}

// NewNotifier creates a notifier for p. done is closed when the program has
// exited, which releases a pending Confirm.
func NewNotifier(p sender, done <-chan struct{}) *Notifier {
	return &Notifier{p: p, done: done}
}

func (n *Notifier) Notify(note ota.Notification) {
	n.p.Send(notifyMsg(note))
}

// Confirm blocks until the operator answers. Leaving the program counts as
// a no.
func (n *Notifier) Confirm(c ota.Confirmation) bool {
	reply := make(chan bool, 1)
	n.p.Send(confirmMsg{req: c, reply: reply})
	select {
	case ok := <-reply:
		return ok
	case <-n.done:
		return false
	}
}

func (n *Notifier) Progress(p ota.Progress) {
	n.p.Send(progressMsg(p))
}

func (n *Notifier) PhaseChanged(p ota.Phase) {
	n.p.Send(phaseMsg(p))
}

func (n *Notifier) Finished(o ota.Outcome) {
	n.p.Send(finishedMsg(o))
}

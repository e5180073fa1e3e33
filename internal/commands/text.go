package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/vitaminmoo/vsp-ota/internal/config"
	"github.com/vitaminmoo/vsp-ota/internal/ota"
)

// TextNotifier reports an operation as plain lines with a progress bar, for
// non-interactive output.
type TextNotifier struct {
	out       io.Writer
	in        *bufio.Reader
	assumeYes bool

	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	done chan ota.Outcome
}

// NewTextNotifier writes to out and reads confirmations from in. With
// assumeYes every confirmation is accepted without asking.
func NewTextNotifier(out io.Writer, in io.Reader, assumeYes bool) *TextNotifier {
	return &TextNotifier{
		out:       out,
		in:        bufio.NewReader(in),
		assumeYes: assumeYes,
		done:      make(chan ota.Outcome, 1),
	}
}

// Done delivers the outcome once the operation has finished.
func (n *TextNotifier) Done() <-chan ota.Outcome {
	return n.done
}

func (n *TextNotifier) Notify(note ota.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endBar()
	fmt.Fprintln(n.out, note.Text)
}

// Confirm prints the question and reads a y/N answer.
func (n *TextNotifier) Confirm(c ota.Confirmation) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endBar()

	fmt.Fprintf(n.out, "%s\n%s\n", c.Title, c.Text)
	if n.assumeYes {
		fmt.Fprintln(n.out, "Continue? [y/N]: y")
		return true
	}
	fmt.Fprint(n.out, "Continue? [y/N]: ")

	answer, err := n.in.ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(n.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func (n *TextNotifier) Progress(p ota.Progress) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.bar == nil {
		n.bar = progressbar.NewOptions(p.Total,
			progressbar.OptionSetWriter(n.out),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Writing"),
			progressbar.OptionShowBytes(true),
		)
	}
	n.bar.Set(p.Sent)
}

func (n *TextNotifier) PhaseChanged(p ota.Phase) {
	config.Debugf("Phase: %s", p)
}

func (n *TextNotifier) Finished(o ota.Outcome) {
	n.mu.Lock()
	n.endBar()
	fmt.Fprintln(n.out, o.Message)
	n.mu.Unlock()

	select {
	case n.done <- o:
	default:
	}
}

// endBar moves past the progress bar line. Callers hold mu.
func (n *TextNotifier) endBar() {
	if n.bar == nil {
		return
	}
	fmt.Fprintln(n.out)
	n.bar = nil
}

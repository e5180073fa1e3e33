package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/vitaminmoo/vsp-ota/internal/ble"
	"github.com/vitaminmoo/vsp-ota/internal/config"
	"github.com/vitaminmoo/vsp-ota/internal/link"
	"github.com/vitaminmoo/vsp-ota/internal/ota"
	"github.com/vitaminmoo/vsp-ota/internal/settings"
	"github.com/vitaminmoo/vsp-ota/internal/store"
	"github.com/vitaminmoo/vsp-ota/internal/tui"
)

// cancelGrace is how long an interrupted operation gets to wind down.
const cancelGrace = 5 * time.Second

// LinkOptions selects the transport to the module. BLE is used unless a
// serial port or bridge URL is given.
type LinkOptions struct {
	Name        string
	Address     string
	ScanTimeout time.Duration

	Port string
	Baud int

	Bridge        string
	BridgeUser    string
	SkipSSLVerify bool
}

// Describe names the link for display.
func (o LinkOptions) Describe() string {
	switch {
	case o.Port != "":
		return "Serial: " + o.Port
	case o.Bridge != "":
		return "WebSocket: " + o.Bridge
	case o.Address != "":
		return "BLE: " + o.Address
	case o.Name != "":
		return "BLE: " + o.Name
	}
	return "BLE"
}

// UIOptions control how the operation is shown.
type UIOptions struct {
	Plain     bool // never use the TUI
	AssumeYes bool
	Client2M  bool // this client's radio does 2M PHY
}

// session runs one module operation from connect to outcome.
type session struct {
	env  *Env
	link LinkOptions
	ui   UIOptions

	mu        sync.Mutex
	transport ota.Transport
}

func (s *session) setTransport(t ota.Transport) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
}

func (s *session) disconnect() {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.mu.Unlock()
	if t != nil {
		if err := t.Disconnect(); err != nil {
			config.Debugf("Disconnect: %v", err)
		}
	}
}

func (s *session) newMachine(n ota.Notifier) *ota.Machine {
	opts := []ota.Option{
		ota.WithNotifier(n),
		ota.WithSettings(s.env.Settings),
		ota.WithCompiler(s.env.Compiler()),
		ota.WithErrorLookup(s.env.ErrorTable()),
		ota.WithLogger(config.Log),
		ota.WithClient2MPhy(s.ui.Client2M),
		ota.WithImageHook(saveImage),
	}
	return ota.New(opts...)
}

// connect opens the configured transport. Every transport posts Connected
// to the machine once it is usable.
func (s *session) connect(ctx context.Context, post func(ota.Event)) error {
	switch {
	case s.link.Port != "":
		baud := s.link.Baud
		if baud == 0 {
			baud = s.env.Settings.GetInt(settings.KeyBaudRate)
		}
		st, err := link.OpenSerial(s.link.Port, baud, post)
		if err != nil {
			return err
		}
		s.setTransport(st)
		return nil

	case s.link.Bridge != "":
		opts := link.BridgeOptions{Username: s.link.BridgeUser, SkipSSLVerify: s.link.SkipSSLVerify}
		if opts.Username != "" {
			pw, err := link.Password()
			if err != nil {
				return err
			}
			opts.Password = pw
		}
		st, err := link.OpenWebSocket(ctx, s.link.Bridge, opts, post)
		if err != nil {
			return err
		}
		s.setTransport(st)
		return nil
	}

	profile := ble.ProfileFromSettings(s.env.Settings)
	filter := ble.Filter{Name: s.link.Name, Address: s.link.Address, Timeout: s.link.ScanTimeout}
	if s.env.Settings.GetBool(settings.KeyRestrictUUID) {
		filter.Service = profile.Service
	}
	device, err := ble.Connect(ctx, filter, post)
	if err != nil {
		return err
	}
	l, err := ble.Open(device, profile, post)
	if err != nil {
		device.Disconnect()
		return err
	}
	config.Log.WithField("address", l.Address()).WithField("modem", l.HasModem()).Info("VSP link open")
	s.setTransport(l)
	return nil
}

// execute connects, posts start and waits for the outcome.
func (s *session) execute(ctx context.Context, title string, start ota.Event) (*ota.Outcome, error) {
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	sigCtx, stopSig := signal.NotifyContext(ctx, os.Interrupt)
	defer stopSig()
	defer s.disconnect()

	var m *ota.Machine
	begin := func(n ota.Notifier) {
		m = s.newMachine(n)
		go m.Run(runCtx)
		go func() {
			if err := s.connect(sigCtx, m.Post); err != nil {
				n.Finished(ota.Outcome{
					Err:      err,
					Message:  fmt.Sprintf("Connection failed: %v", err),
					Severity: ota.SeverityError,
				})
				return
			}
			m.Post(start)
		}()
	}
	cancel := func() {
		go m.Post(ota.Cancel{})
	}

	if !s.ui.Plain && term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd())) {
		// Log lines would tear the screen; keep them only when asked for.
		if !config.Verbose {
			config.Log.SetOutput(io.Discard)
			defer config.Log.SetOutput(os.Stderr)
		}
		return tui.Run(title, s.link.Describe(), cancel, begin)
	}

	n := NewTextNotifier(s.env.Out, s.env.In, s.ui.AssumeYes)
	begin(n)
	select {
	case out := <-n.Done():
		return &out, nil
	case <-sigCtx.Done():
	}

	// Interrupted: ask the machine to stop and give it a moment to report.
	cancel()
	select {
	case out := <-n.Done():
		return &out, nil
	case <-time.After(cancelGrace):
		return nil, ota.ErrCancelled
	}
}

// result turns an outcome into the command's error.
func result(out *ota.Outcome, err error) error {
	if err != nil {
		return err
	}
	if out == nil {
		return ota.ErrCancelled
	}
	return out.Err
}

// saveImage keeps remotely obtained images in the store so they can be sent
// again without the online services.
func saveImage(img ota.Image) {
	st, err := store.OpenDefault()
	if err != nil {
		config.Log.WithError(err).Warn("Image store unavailable")
		return
	}
	hash, isNew, err := st.Import(store.Image{
		Data:     img.Data,
		Target:   img.Target,
		Origin:   img.Origin,
		Device:   img.Device,
		Hashes:   img.Hashes,
		Compiled: img.Compiled,
	})
	if err != nil {
		config.Log.WithError(err).Warn("Failed to save image")
		return
	}
	config.Log.WithField("hash", store.ShortHash(hash)).WithField("new", isNew).Debug("Saved image to store")
}

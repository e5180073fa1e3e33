package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/vitaminmoo/vsp-ota/internal/errcodes"
	"github.com/vitaminmoo/vsp-ota/internal/protocol"
	"github.com/vitaminmoo/vsp-ota/internal/settings"
	"github.com/vitaminmoo/vsp-ota/internal/xcompile"
)

type fakeLink struct {
	mu          sync.Mutex
	writes      []string
	unacked     []int
	disconnects int
	writeErr    error
}

func (l *fakeLink) Write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.writes = append(l.writes, string(p))
	l.unacked = append(l.unacked, len(p))
	return nil
}

func (l *fakeLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects++
	return nil
}

func (l *fakeLink) written() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.writes...)
}

func (l *fakeLink) popUnacked() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.unacked) == 0 {
		return 0, false
	}
	n := l.unacked[0]
	l.unacked = l.unacked[1:]
	return n, true
}

type fakeNotifier struct {
	mu       sync.Mutex
	answer   bool
	notes    []Notification
	confirms []Confirmation
	progress []Progress
	phases   []Phase
	outcomes []Outcome
}

func (n *fakeNotifier) Notify(x Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, x)
}

func (n *fakeNotifier) Confirm(c Confirmation) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirms = append(n.confirms, c)
	return n.answer
}

func (n *fakeNotifier) Progress(p Progress) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, p)
}

func (n *fakeNotifier) PhaseChanged(p Phase) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.phases = append(n.phases, p)
}

func (n *fakeNotifier) Finished(o Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, o)
}

func (n *fakeNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, x := range n.notes {
		out = append(out, x.Text)
	}
	return out
}

func (n *fakeNotifier) finished() []Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Outcome(nil), n.outcomes...)
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) active() *fakeTimer {
	var live *fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			if live != nil {
				panic("more than one timer running")
			}
			live = t
		}
	}
	return live
}

type fakeCompiler struct {
	mu sync.Mutex

	supportID   string
	supportErr  error
	compiled    []byte
	compileErr  error
	status      xcompile.FirmwareStatus
	statusErr   error
	download    []byte
	downloadErr error
	block       bool

	device  string
	hashA   string
	hashB   string
	source  []byte
	aborted chan struct{}
}

func (c *fakeCompiler) wait(ctx context.Context) error {
	if !c.block {
		return nil
	}
	<-ctx.Done()
	close(c.aborted)
	return ctx.Err()
}

func (c *fakeCompiler) CheckSupport(ctx context.Context, device, hashA, hashB string) (string, error) {
	c.mu.Lock()
	c.device, c.hashA, c.hashB = device, hashA, hashB
	c.mu.Unlock()
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	return c.supportID, c.supportErr
}

func (c *fakeCompiler) Compile(ctx context.Context, id string, source []byte) ([]byte, error) {
	c.mu.Lock()
	c.source = append([]byte(nil), source...)
	c.mu.Unlock()
	return c.compiled, c.compileErr
}

func (c *fakeCompiler) CheckLatestFirmware(ctx context.Context, device, version string) (xcompile.FirmwareStatus, error) {
	if err := c.wait(ctx); err != nil {
		return xcompile.FirmwareStatus{}, err
	}
	return c.status, c.statusErr
}

func (c *fakeCompiler) Download(ctx context.Context, url string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.download, c.downloadErr
}

type harness struct {
	t     *testing.T
	m     *Machine
	link  *fakeLink
	ui    *fakeNotifier
	clock *fakeClock
	cfg   *settings.Store
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		link:  &fakeLink{},
		ui:    &fakeNotifier{answer: true},
		clock: &fakeClock{},
		cfg:   settings.NewMemory(),
	}
	base := []Option{
		WithNotifier(h.ui),
		WithSettings(h.cfg),
		WithClock(h.clock),
		WithLogger(quietLogger()),
	}
	h.m = New(append(base, opts...)...)
	h.m.Dispatch(Connected{Link: h.link})
	return h
}

func (h *harness) set(key, value string) {
	h.t.Helper()
	if err := h.cfg.Set(key, value); err != nil {
		h.t.Fatal(err)
	}
}

// ack completes every outstanding write, including writes it triggers.
func (h *harness) ack() {
	for {
		n, ok := h.link.popUnacked()
		if !ok {
			return
		}
		h.m.Dispatch(WriteComplete{N: n})
	}
}

// ackOne completes the oldest outstanding write.
func (h *harness) ackOne() {
	h.t.Helper()
	n, ok := h.link.popUnacked()
	if !ok {
		h.t.Fatal("no write outstanding")
	}
	h.m.Dispatch(WriteComplete{N: n})
}

func (h *harness) reply(s string) {
	h.m.Dispatch(DataReceived{Data: []byte(s)})
}

// answer completes the pending query write and delivers the module reply.
func (h *harness) answer(s string) {
	h.ack()
	h.reply(s)
}

// drain dispatches queued events without waiting.
func (h *harness) drain() {
	for {
		select {
		case ev := <-h.m.events:
			h.m.Dispatch(ev)
		default:
			return
		}
	}
}

// await dispatches queued events until cond holds.
func (h *harness) await(cond func() bool) {
	h.t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case ev := <-h.m.events:
			h.m.Dispatch(ev)
		case <-deadline:
			h.t.Fatalf("timed out in phase %s", h.m.Phase())
		}
	}
}

func (h *harness) inPhase(p Phase) func() bool {
	return func() bool { return h.m.Phase() == p }
}

func (h *harness) outcome() Outcome {
	h.t.Helper()
	out := h.ui.finished()
	if len(out) != 1 {
		h.t.Fatalf("got %d outcomes, want 1: %+v", len(out), out)
	}
	return out[0]
}

func (h *harness) transfer(name string, data []byte) {
	h.t.Helper()
	if err := h.m.Dispatch(StartTransfer{Request: TransferRequest{Name: name, Data: data}}); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) sent() string {
	return strings.Join(h.link.written(), "")
}

func directTransfer(t *testing.T, opts ...Option) *harness {
	h := newHarness(t, opts...)
	h.set(settings.KeyCheckFreeSpace, "false")
	h.set(settings.KeyDelFile, "false")
	return h
}

func TestTransfer_VerifiedThenDisconnects(t *testing.T) {
	g := NewWithT(t)
	h := directTransfer(t)

	h.transfer("test.bin", []byte{0x41, 0x42})
	g.Expect(h.m.Phase()).To(Equal(Transferring))
	g.Expect(h.link.written()).To(Equal([]string{"AT+fow \"test\"\rAT+fwr"}))

	h.ack()
	g.Expect(h.m.Phase()).To(Equal(Verifying))
	g.Expect(h.sent()).To(Equal("AT+fow \"test\"\rAT+fwrh \"4142\"\r" + "at+fcl\r" + "at i 0xc12c\r" + "at+dir\r"))

	crc := protocol.ChecksumHex([]byte{0x41, 0x42})
	h.reply("\n00\r\n00\r")
	h.reply(fmt.Sprintf("\n10\t49452\t%s\r\n00\r\n06\tother\r\n06\ttest\r", crc))
	g.Expect(h.ui.finished()).To(BeEmpty())
	h.reply("\n00\r")

	out := h.outcome()
	g.Expect(out.OK()).To(BeTrue())
	g.Expect(out.Message).To(Equal("OTA download complete - file & CRC verified! Disconnecting..."))
	g.Expect(out.Severity).To(Equal(SeveritySuccess))
	g.Expect(h.link.disconnects).To(Equal(1))
	g.Expect(h.m.Phase()).To(Equal(Idle))
	g.Expect(h.m.CanCancel()).To(BeFalse())

	last := h.ui.progress[len(h.ui.progress)-1]
	g.Expect(last.Sent).To(Equal(last.Total))
	g.Expect(last.Percent()).To(BeNumerically("==", 100))
}

func TestTransfer_Verification(t *testing.T) {
	data := []byte("hello")
	crc := protocol.ChecksumHex(data)
	wrong := "0000"
	if crc == wrong {
		wrong = "FFFF"
	}

	tests := []struct {
		name    string
		reply   string
		ok      bool
		message string
	}{
		{
			name:    "crc matches lowercase",
			reply:   "\n10\t49452\t" + strings.ToLower(crc) + "\r\n00\r\n06\tapp\r\n00\r",
			ok:      true,
			message: "OTA download complete - file & CRC verified! Disconnecting...",
		},
		{
			name:    "crc unsupported",
			reply:   "\n06\tapp\r\n00\r",
			ok:      true,
			message: "OTA download complete - file verified (CRC unsupported)! Disconnecting...",
		},
		{
			name:    "checksum mismatch",
			reply:   "\n10\t49452\t" + wrong + "\r\n00\r\n06\tapp\r\n00\r",
			message: "OTA download failed - checksum failure, expected 0x" + crc + " got 0x" + wrong + ".",
		},
		{
			name:    "file missing",
			reply:   "\n06\tapplication\r\n00\r",
			message: "OTA download failed - file is missing.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			h := directTransfer(t)
			h.transfer("app.uwc", data)
			h.ack()
			h.reply(tt.reply)

			out := h.outcome()
			g.Expect(out.Message).To(Equal(tt.message))
			g.Expect(out.OK()).To(Equal(tt.ok))
			if !tt.ok {
				var ve *VerificationError
				g.Expect(errors.As(out.Err, &ve)).To(BeTrue())
				g.Expect(h.link.disconnects).To(BeZero())
			}
		})
	}
}

func TestTransfer_UnverifiedRestarts(t *testing.T) {
	g := NewWithT(t)
	h := directTransfer(t)
	h.set(settings.KeyVerifyFile, "false")
	h.set(settings.KeyDownloadAction, "restart")

	h.transfer("app.uwc", []byte{1, 2, 3})
	h.ack()
	g.Expect(h.sent()).To(HaveSuffix("\"\r" + "at+fcl\r" + "at i 1\r"))

	h.reply("\n00\r")
	g.Expect(h.ui.finished()).To(BeEmpty())
	h.reply("\n10\t1\t0\r\n00\r")

	out := h.outcome()
	g.Expect(out.Message).To(Equal("OTA download complete! Restarting..."))
	writes := h.link.written()
	g.Expect(writes[len(writes)-1]).To(Equal("atz\r"))
	g.Expect(h.link.disconnects).To(BeZero())

	// The restart write completes after the transfer has ended.
	h.ack()
	g.Expect(h.link.written()).To(HaveLen(len(writes)))
}

func TestTransfer_NoPostAction(t *testing.T) {
	g := NewWithT(t)
	h := directTransfer(t)
	h.set(settings.KeyDownloadAction, "none")

	h.transfer("app.uwc", []byte{9})
	h.ack()
	h.reply("\n06\tapp\r\n00\r")

	g.Expect(h.outcome().Message).To(Equal("OTA download complete - file verified (CRC unsupported)!"))
	g.Expect(h.link.disconnects).To(BeZero())
}

func TestDeviceError(t *testing.T) {
	table, err := errcodes.Parse(strings.NewReader("11=File not open\n"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		setup  func(h *harness)
		prefix string
	}{
		{
			name: "checking space",
			setup: func(h *harness) {
				h.transfer("app.uwc", []byte{1})
				h.ack()
			},
			prefix: "Error retrieving storage space (",
		},
		{
			name: "querying version",
			setup: func(h *harness) {
				h.transfer("app.sb", []byte("print 1"))
				h.ack()
			},
			prefix: "Error retrieving module information (",
		},
		{
			name: "querying info",
			setup: func(h *harness) {
				h.m.Dispatch(StartQuery{})
				h.ack()
			},
			prefix: "Error during module query (",
		},
		{
			name: "transferring",
			setup: func(h *harness) {
				h.set(settings.KeyCheckFreeSpace, "false")
				h.transfer("app.uwc", make([]byte, 100))
			},
			prefix: "Error during download (",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			h := newHarness(t, WithErrorLookup(table), WithCompiler(&fakeCompiler{}))
			tt.setup(h)
			g.Expect(h.m.CanCancel()).To(BeTrue())

			h.reply("\n01\t0B\r")

			out := h.outcome()
			g.Expect(out.Message).To(Equal(tt.prefix + "0B) File not open"))
			var de *DeviceError
			g.Expect(errors.As(out.Err, &de)).To(BeTrue())
			g.Expect(de.Code.Value).To(Equal(uint32(0x0B)))
			g.Expect(h.m.Phase()).To(Equal(Idle))
			g.Expect(h.m.CanCancel()).To(BeFalse())
		})
	}
}

func TestDeviceError_Undefined(t *testing.T) {
	g := NewWithT(t)
	h := directTransfer(t)
	h.transfer("app.uwc", make([]byte, 64))
	h.reply("\n01\t")
	h.reply("E0F\r")

	g.Expect(h.outcome().Message).To(Equal("Error during download (E0F) " + errcodes.Undefined))
}

func TestSpaceCheck(t *testing.T) {
	for _, accept := range []bool{false, true} {
		t.Run(fmt.Sprintf("accept=%v", accept), func(t *testing.T) {
			g := NewWithT(t)
			h := newHarness(t)
			h.ui.answer = accept

			h.transfer("app.uwc", make([]byte, 150))
			g.Expect(h.m.Phase()).To(Equal(CheckingSpace))
			g.Expect(h.link.written()).To(Equal([]string{"at i 6\r\n"}))

			h.answer("\n10\t6\t1000,100,0\r\n00\r")

			g.Expect(h.ui.confirms).To(HaveLen(1))
			g.Expect(h.ui.confirms[0].Title).To(Equal("Insufficient module space"))
			g.Expect(h.ui.confirms[0].Text).To(ContainSubstring("150 bytes are required but only 100 bytes are free"))

			if !accept {
				out := h.outcome()
				g.Expect(errors.Is(out.Err, ErrDeclined)).To(BeTrue())
				g.Expect(out.Message).To(ContainSubstring("OTA cancelled"))
				g.Expect(h.link.written()).To(HaveLen(1))
				g.Expect(h.m.Phase()).To(Equal(Idle))
				return
			}
			g.Expect(h.m.Phase()).To(Equal(Transferring))
			g.Expect(h.link.written()[1]).To(HavePrefix("AT+del \"app\"\r"))
		})
	}
}

func TestSpaceCheck_Sufficient(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t)

	h.transfer("app.uwc", make([]byte, 10))
	h.answer("\n10\t6\t1000,900,0\r\n00\r")

	g.Expect(h.ui.confirms).To(BeEmpty())
	g.Expect(h.m.Phase()).To(Equal(Transferring))
}

func TestPhyWarning(t *testing.T) {
	for _, accept := range []bool{false, true} {
		t.Run(fmt.Sprintf("accept=%v", accept), func(t *testing.T) {
			g := NewWithT(t)
			h := newHarness(t, WithClient2MPhy(true))
			h.set(settings.KeyCheckFreeSpace, "false")
			h.ui.answer = accept

			h.transfer("app.uwc", []byte{1, 2})
			g.Expect(h.link.written()).To(Equal([]string{"at i 0\r\n"}))
			h.answer("\n10\t0\tBL652\r\n00\r")
			g.Expect(h.link.written()).To(Equal([]string{"at i 0\r\n", "at i 3\r\n"}))
			h.answer("\n10\t3\t28.7.3.0\r\n00\r")

			g.Expect(h.ui.confirms).To(HaveLen(1))
			g.Expect(h.ui.confirms[0].Title).To(Equal("Continue VSP OTA operation"))
			if !accept {
				g.Expect(h.outcome().Message).To(Equal("VSP OTA operation cancelled."))
				g.Expect(h.link.written()).To(HaveLen(2))
				return
			}
			g.Expect(h.m.Phase()).To(Equal(Transferring))
		})
	}
}

func TestPhyWarning_OtherFirmware(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, WithClient2MPhy(true))
	h.set(settings.KeyCheckFreeSpace, "false")

	h.transfer("app.uwc", []byte{1, 2})
	h.answer("\n10\t0\tBL652\r\n00\r")
	h.answer("\n10\t3\t28.6.2.0\r\n00\r")

	g.Expect(h.ui.confirms).To(BeEmpty())
	g.Expect(h.m.Phase()).To(Equal(Transferring))
}

func TestChunking(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i * 7)
	}

	for _, size := range []int{1, 7, 20, 64, 500} {
		t.Run(fmt.Sprintf("packet=%d", size), func(t *testing.T) {
			g := NewWithT(t)
			h := directTransfer(t)
			h.set(settings.KeyPacketSize, fmt.Sprint(size))

			h.transfer("chunk.bin", data)
			h.ack()

			payload := protocol.Encode(data, "chunk", protocol.EncodeOptions{Verify: true})
			primary := string(payload.Primary())
			chunks := (len(primary) + size - 1) / size

			writes := h.link.written()
			g.Expect(strings.Join(writes[:chunks], "")).To(Equal(primary))
			for _, w := range writes {
				g.Expect(len(w)).To(BeNumerically("<=", size))
			}
			lastLen := len(primary) % size
			if lastLen == 0 {
				lastLen = size
			}
			g.Expect(writes[chunks-1]).To(HaveLen(lastLen))
			g.Expect(strings.Join(writes[chunks:], "")).To(Equal(strings.Join(payload.Deferred, "")))
		})
	}
}

func TestDeferredFramesWaitForPrimary(t *testing.T) {
	g := NewWithT(t)
	h := directTransfer(t)

	data := make([]byte, 60)
	h.transfer("fifo.bin", data)
	payload := protocol.Encode(data, "fifo", protocol.EncodeOptions{Verify: true})
	primary := string(payload.Primary())

	for h.sent() != primary {
		g.Expect(h.sent()).NotTo(ContainSubstring("at+fcl"))
		h.ackOne()
	}
	g.Expect(h.m.Phase()).To(Equal(Transferring))

	h.ackOne()
	g.Expect(h.m.Phase()).To(Equal(Verifying))
	g.Expect(h.sent()).To(Equal(primary + "at+fcl\r"))

	h.ackOne()
	h.ackOne()
	g.Expect(h.sent()).To(Equal(primary + "at+fcl\r" + "at i 0xc12c\r" + "at+dir\r"))
}

func TestFlowSignalPrecedence(t *testing.T) {
	g := NewWithT(t)
	h := directTransfer(t)

	h.transfer("flow.bin", make([]byte, 40))
	g.Expect(h.link.written()).To(HaveLen(1))

	h.m.Dispatch(FlowSignal{Go: false})
	h.ackOne()
	g.Expect(h.link.written()).To(HaveLen(1))
	h.reply("\n00\r")
	g.Expect(h.link.written()).To(HaveLen(1))

	h.m.Dispatch(FlowSignal{Go: true})
	g.Expect(h.link.written()).To(HaveLen(2))

	// A second go with a chunk in flight must not send it again.
	h.m.Dispatch(FlowSignal{Go: true})
	g.Expect(h.link.written()).To(HaveLen(2))
}

func TestFlowSignalBeforeStart(t *testing.T) {
	g := NewWithT(t)
	h := directTransfer(t)

	h.m.Dispatch(FlowSignal{Go: false})
	h.transfer("flow.bin", make([]byte, 8))
	g.Expect(h.m.Phase()).To(Equal(Transferring))
	g.Expect(h.link.written()).To(BeEmpty())

	h.m.Dispatch(FlowSignal{Go: true})
	g.Expect(h.link.written()).To(HaveLen(1))
}

func TestTimeoutReset(t *testing.T) {
	g := NewWithT(t)
	h := directTransfer(t)

	h.transfer("slow.bin", make([]byte, 200))
	for i := 0; i < 10; i++ {
		stale := h.clock.active()
		g.Expect(stale).NotTo(BeNil())
		g.Expect(stale.d).To(Equal(DefaultTimeout))

		h.reply("\n00\r")
		g.Expect(stale.stopped).To(BeTrue())

		// A timer that fired just before the data arrived is stale.
		stale.f()
		h.drain()
		g.Expect(h.m.Phase()).To(Equal(Transferring))
	}

	live := h.clock.active()
	live.stopped = true
	live.f()
	h.drain()

	out := h.outcome()
	var te *TimeoutError
	g.Expect(errors.As(out.Err, &te)).To(BeTrue())
	g.Expect(te.Phase).To(Equal(Transferring))
	g.Expect(out.Message).To(Equal("Response timeout whilst downloading application to module - please try again."))
	g.Expect(h.clock.active()).To(BeNil())
}

func TestTimeoutMessages(t *testing.T) {
	tests := []struct {
		name  string
		start func(h *harness)
		want  string
	}{
		{"checking space", func(h *harness) { h.transfer("a.bin", []byte{1}) }, "Response timeout awaiting module storage space"},
		{"querying info", func(h *harness) { h.m.Dispatch(StartQuery{}) }, "Response timeout awaiting module query details"},
		{"verifying", func(h *harness) {
			h.set(settings.KeyCheckFreeSpace, "false")
			h.transfer("a.bin", []byte{1})
			h.ack()
		}, "Response timeout whilst attempting to verify application"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			h := newHarness(t)
			tt.start(h)
			live := h.clock.active()
			live.f()
			h.drain()
			g.Expect(h.outcome().Message).To(HavePrefix(tt.want))
		})
	}
}

func TestCancel(t *testing.T) {
	g := NewWithT(t)
	h := directTransfer(t)

	h.transfer("cancel.bin", make([]byte, 100))
	g.Expect(h.m.CanCancel()).To(BeTrue())
	h.m.Dispatch(Cancel{})

	out := h.outcome()
	g.Expect(errors.Is(out.Err, ErrCancelled)).To(BeTrue())
	g.Expect(out.Message).To(Equal("Operation cancelled."))
	g.Expect(h.m.Phase()).To(Equal(Idle))
	g.Expect(h.clock.active()).To(BeNil())

	// Late events for the abandoned transfer are dropped.
	h.ack()
	h.reply("\n00\r\n01\t0B\r")
	g.Expect(h.link.written()).To(HaveLen(1))
	g.Expect(h.ui.finished()).To(HaveLen(1))

	// Cancelling with nothing running does nothing.
	h.m.Dispatch(Cancel{})
	g.Expect(h.ui.finished()).To(HaveLen(1))
}

func TestDisconnect(t *testing.T) {
	g := NewWithT(t)
	h := directTransfer(t)

	h.transfer("gone.bin", make([]byte, 100))
	h.m.Dispatch(Disconnected{Err: errors.New("link lost")})

	out := h.outcome()
	g.Expect(errors.Is(out.Err, ErrDisconnected)).To(BeTrue())
	g.Expect(out.Message).To(Equal("Device disconnected."))

	h.ack()
	g.Expect(h.link.written()).To(HaveLen(1))

	err := h.m.Dispatch(StartTransfer{Request: TransferRequest{Name: "a.bin", Data: []byte{1}}})
	g.Expect(err).To(MatchError(ErrNotConnected))
}

func TestStartRejected(t *testing.T) {
	g := NewWithT(t)

	m := New(WithLogger(quietLogger()))
	g.Expect(m.Dispatch(StartQuery{})).To(MatchError(ErrNotConnected))

	h := newHarness(t)
	g.Expect(h.m.Dispatch(StartTransfer{Request: TransferRequest{Name: "empty.bin"}})).To(MatchError(ErrNoData))
	g.Expect(h.m.Dispatch(StartTransfer{Request: TransferRequest{URL: "http://example.com/a.bin"}})).To(MatchError(ErrOffline))
	g.Expect(h.m.Dispatch(StartTransfer{Request: TransferRequest{Data: []byte{1, 2}}})).To(MatchError(ErrNoTarget))
	g.Expect(h.m.Dispatch(StartTransfer{Request: TransferRequest{Name: "build/.bin", Data: []byte{1, 2}}})).To(MatchError(ErrNoTarget))
	g.Expect(h.ui.finished()[2].Message).To(Equal("Cannot derive a module filename, set one with --name."))
	g.Expect(h.link.written()).To(BeEmpty())
	g.Expect(h.m.Phase()).To(Equal(Idle))

	g.Expect(h.m.Dispatch(StartQuery{})).To(Succeed())
	g.Expect(h.m.Dispatch(StartTransfer{Request: TransferRequest{Name: "a.bin", Data: []byte{1}}})).To(MatchError(ErrBusy))
	g.Expect(h.ui.texts()).To(ContainElement("Currently busy, please wait for the current operation to finish or cancel it."))
	g.Expect(h.m.Phase()).To(Equal(QueryingInfo))
	g.Expect(h.ui.finished()).To(HaveLen(4))
}

func TestWriteError(t *testing.T) {
	g := NewWithT(t)
	h := directTransfer(t)
	h.link.writeErr = errors.New("characteristic write failed")

	h.transfer("a.bin", []byte{1})

	out := h.outcome()
	var we *WriteError
	g.Expect(errors.As(out.Err, &we)).To(BeTrue())
	g.Expect(out.Message).To(HavePrefix("Characteristic write failed"))
	g.Expect(h.link.disconnects).To(Equal(1))
	g.Expect(h.m.Phase()).To(Equal(Idle))
}

func TestUnexpectedWriteCompletion(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t)

	h.m.Dispatch(StartQuery{})
	h.ack()
	h.m.Dispatch(WriteComplete{N: 8})

	var pe *ProtocolError
	g.Expect(errors.As(h.outcome().Err, &pe)).To(BeTrue())
	g.Expect(pe.Phase).To(Equal(QueryingInfo))
}

func moduleQuery(h *harness) {
	h.m.Dispatch(StartQuery{})
	// The reply may land before the write is acknowledged.
	h.reply("\n10\t0\tBL652\r\n00\r")
	h.answer("\n10\t3\t28.7.3.0\r\n00\r")
	h.answer("\n10\t6\t100000,40000,0\r\n00\r")
	h.ack()
}

func TestModuleQuery(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t)

	moduleQuery(h)

	g.Expect(h.link.written()).To(Equal([]string{"at i 0\r\n", "at i 3\r\n", "at i 6\r\n"}))
	out := h.outcome()
	g.Expect(out.OK()).To(BeTrue())
	g.Expect(out.Op).To(Equal(OpQuery))
	g.Expect(out.Info).NotTo(BeNil())
	g.Expect(out.Info.Device).To(Equal("BL652"))
	g.Expect(out.Info.Firmware).To(Equal("28.7.3.0"))
	g.Expect(out.Info.Space).To(Equal(protocol.FreeSpace{Total: 100000, Free: 40000}))
	g.Expect(out.Info.PhyWarning).To(BeFalse())
	g.Expect(out.Message).To(Equal("The connected device is a BL652 module on firmware version 28.7.3.0.\n" +
		"Flash space available: 40000/100000 bytes (40%)."))
}

func TestModuleQuery_PhyAdvisory(t *testing.T) {
	g := NewWithT(t)
	h := newHarness(t, WithClient2MPhy(true))

	moduleQuery(h)

	out := h.outcome()
	g.Expect(out.Info.PhyWarning).To(BeTrue())
	g.Expect(out.Message).To(ContainSubstring("Please note: VSP/OTA to this device is likely to fail"))
	g.Expect(h.ui.confirms).To(BeEmpty())
}

func TestModuleQuery_FirmwareCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  xcompile.FirmwareStatus
		err     error
		message string
		note    string
	}{
		{
			name:    "outdated",
			status:  xcompile.FirmwareStatus{State: xcompile.FirmwareOutdated, Latest: "28.8.4.0"},
			message: "which is outdated, the latest firmware is: 28.8.4.0.",
		},
		{
			name:    "current",
			status:  xcompile.FirmwareStatus{State: xcompile.FirmwareCurrent},
			message: "28.7.3.0, which is up-to-date.",
		},
		{
			name:    "unsupported",
			status:  xcompile.FirmwareStatus{State: xcompile.FirmwareUnsupported},
			message: "firmware version 28.7.3.0.",
			note:    "Firmware/device unsupported, latest firmware not known.",
		},
		{
			name:    "check failed",
			err:     &xcompile.Error{Kind: xcompile.KindSSLCert},
			message: "firmware version 28.7.3.0.",
			note:    "Firmware version check failed: SSL certificate invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			fc := &fakeCompiler{status: tt.status, statusErr: tt.err}
			h := newHarness(t, WithCompiler(fc))

			moduleQuery(h)
			g.Expect(h.m.Phase()).To(Equal(CheckingFirmwareVersion))
			g.Expect(h.clock.active()).To(BeNil())
			h.await(h.inPhase(Idle))

			out := h.outcome()
			g.Expect(out.OK()).To(BeTrue())
			g.Expect(out.Message).To(ContainSubstring(tt.message))
			g.Expect(h.ui.texts()).To(ContainElement("Received module information, checking for latest firmware..."))
			if tt.note != "" {
				g.Expect(h.ui.texts()).To(ContainElement(tt.note))
			}
		})
	}
}

func TestRemoteCompile(t *testing.T) {
	g := NewWithT(t)
	fc := &fakeCompiler{supportID: "52", compiled: []byte{0xDE, 0xAD}}
	var images []Image
	h := newHarness(t, WithCompiler(fc), WithImageHook(func(img Image) { images = append(images, img) }))

	h.transfer("app.sb", []byte("print 1"))
	g.Expect(h.m.Phase()).To(Equal(QueryingVersion))
	h.answer("\n10\t0\tBL652\r\n00\r")
	h.answer("\n10\t6\t100000,40000,0\r\n00\r")
	h.answer("\n10\t13\tAB12 CD34\r\n00\r")
	g.Expect(h.link.written()).To(Equal([]string{"at i 0\r\n", "at i 6\r\n", "at i 13\r\n"}))
	g.Expect(h.m.Phase()).To(Equal(XCompiling))

	h.await(h.inPhase(Transferring))

	fc.mu.Lock()
	g.Expect(fc.device).To(Equal("BL652"))
	g.Expect(fc.hashA).To(Equal("AB12"))
	g.Expect(fc.hashB).To(Equal("CD34"))
	g.Expect(string(fc.source)).To(Equal("print 1"))
	fc.mu.Unlock()

	g.Expect(h.ui.texts()).To(ContainElements("Checking for online XCompiler support...", "XCompiling application..."))
	g.Expect(images).To(HaveLen(1))
	g.Expect(images[0].Compiled).To(BeTrue())
	g.Expect(images[0].Target).To(Equal("app"))
	g.Expect(images[0].Hashes).To(Equal(protocol.XCompilerHashes{A: "AB12", B: "CD34"}))

	h.ack()
	g.Expect(h.sent()).To(ContainSubstring("AT+del \"app\"\rAT+fow \"app\"\rAT+fwrh \"DEAD\"\r"))
}

func TestRemoteCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fc      *fakeCompiler
		message string
		long    bool
	}{
		{
			name:    "xcompile",
			fc:      &fakeCompiler{compileErr: &xcompile.Error{Kind: xcompile.KindXCompile, Detail: "Failed to compile -9; ERROR"}},
			message: "Error with XCompilation: Failed to compile -9; ERROR",
			long:    true,
		},
		{
			name:    "unsupported",
			fc:      &fakeCompiler{supportErr: &xcompile.Error{Kind: xcompile.KindUnsupported, Detail: "Your device and/or firmware are not supported."}},
			message: "XCompile error: Your device and/or firmware are not supported.",
			long:    true,
		},
		{
			name:    "status",
			fc:      &fakeCompiler{compileErr: &xcompile.Error{Kind: xcompile.KindHTTPStatus, Status: 500}},
			message: "HTTP error code: 500",
		},
		{
			name:    "empty image",
			fc:      &fakeCompiler{},
			message: "Remote service returned an empty application.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			h := newHarness(t, WithCompiler(tt.fc))
			h.set(settings.KeyCheckFreeSpace, "false")

			h.transfer("app.txt", []byte("x"))
			h.answer("\n10\t0\tBL652\r\n00\r")
			h.answer("\n10\t13\tAB12 CD34\r\n00\r")
			h.await(h.inPhase(Idle))

			out := h.outcome()
			g.Expect(out.Message).To(Equal(tt.message))
			g.Expect(out.Long).To(Equal(tt.long))
			g.Expect(h.link.written()).To(HaveLen(2))
		})
	}
}

func TestRemoteCompile_Cancel(t *testing.T) {
	g := NewWithT(t)
	fc := &fakeCompiler{block: true, aborted: make(chan struct{})}
	h := newHarness(t, WithCompiler(fc))
	h.set(settings.KeyCheckFreeSpace, "false")

	h.transfer("app.sb", []byte("x"))
	h.answer("\n10\t0\tBL652\r\n00\r")
	h.answer("\n10\t13\tAB12 CD34\r\n00\r")
	g.Expect(h.m.Phase()).To(Equal(XCompiling))
	g.Expect(h.clock.active()).To(BeNil())

	h.m.Dispatch(Cancel{})
	g.Expect(h.outcome().Message).To(Equal("Operation cancelled."))
	g.Eventually(fc.aborted).Should(BeClosed())

	// The aborted request still reports back; its result is dropped.
	g.Eventually(func() bool {
		h.drain()
		return len(h.m.events) == 0
	}).Should(BeTrue())
	g.Expect(h.ui.finished()).To(HaveLen(1))
	g.Expect(h.m.Phase()).To(Equal(Idle))
}

func TestRemoteDownload(t *testing.T) {
	g := NewWithT(t)
	fc := &fakeCompiler{download: []byte{0x01, 0x02}}
	var images []Image
	h := newHarness(t, WithCompiler(fc), WithImageHook(func(img Image) { images = append(images, img) }))
	h.set(settings.KeyCheckFreeSpace, "false")

	err := h.m.Dispatch(StartTransfer{Request: TransferRequest{URL: "https://example.com/files/app.bin?rev=2"}})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(h.m.Phase()).To(Equal(DownloadingRemote))
	g.Expect(h.ui.texts()).To(ContainElement("Downloading remote file..."))

	h.await(h.inPhase(Transferring))
	g.Expect(images).To(HaveLen(1))
	g.Expect(images[0].Origin).To(Equal("https://example.com/files/app.bin"))
	g.Expect(images[0].Compiled).To(BeFalse())
	g.Expect(h.link.written()[0]).To(HavePrefix("AT+del \"app\"\r"))
}

func TestRemoteDownload_Errors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{&xcompile.Error{Kind: xcompile.KindHTTPStatus, Status: 404}, "Failed to download file, HTTP response code: 404"},
		{&xcompile.Error{Kind: xcompile.KindFileSize}, "Error: filesize is either too big or small to be used."},
		{&xcompile.Error{Kind: xcompile.KindSSLCert}, "Error: specified URL's SSL certificate is not valid."},
		{&xcompile.Error{Kind: xcompile.KindGeneral, Detail: "connection refused"}, "HTTP Download error: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			g := NewWithT(t)
			h := newHarness(t, WithCompiler(&fakeCompiler{downloadErr: tt.err}))

			g.Expect(h.m.Dispatch(StartTransfer{Request: TransferRequest{URL: "http://example.com/a.bin"}})).To(Succeed())
			h.await(h.inPhase(Idle))

			g.Expect(h.outcome().Message).To(Equal(tt.message))
			g.Expect(h.link.written()).To(BeEmpty())
		})
	}
}

func TestRun(t *testing.T) {
	g := NewWithT(t)
	link := &fakeLink{}
	ui := &fakeNotifier{}
	m := New(WithNotifier(ui), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	m.Post(Connected{Link: link})
	m.Post(StartQuery{})
	g.Eventually(link.written).Should(Equal([]string{"at i 0\r\n"}))
	g.Eventually(m.Phase).Should(Equal(QueryingInfo))

	m.Post(Cancel{})
	g.Eventually(ui.finished).Should(HaveLen(1))

	cancel()
	g.Eventually(errc).Should(Receive(MatchError(context.Canceled)))

	done := make(chan struct{})
	go func() {
		m.Post(StartQuery{})
		close(done)
	}()
	g.Eventually(done).Should(BeClosed())
}

package ota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vitaminmoo/vsp-ota/internal/errcodes"
	"github.com/vitaminmoo/vsp-ota/internal/protocol"
	"github.com/vitaminmoo/vsp-ota/internal/settings"
	"github.com/vitaminmoo/vsp-ota/internal/xcompile"
)

// stripThreshold is how close to the end of the primary buffer success
// markers stop being discarded during a transfer.
const stripThreshold = 25

// The BL652 on this firmware drops VSP links to clients using 2M PHY.
const (
	phyRiskDevice   = "BL652"
	phyRiskFirmware = "28.7.3.0"
)

// Machine drives one module through transfers and queries.
//
// All state changes happen in Dispatch. Run feeds it from the event queue so
// that transports, timers and the remote service never touch the state
// concurrently. Tests may call Dispatch directly.
type Machine struct {
	notifier Notifier
	settings Settings
	compiler Compiler
	lookup   ErrorLookup
	clock    Clock
	timeout  time.Duration
	log      logrus.FieldLogger
	phy2M    bool
	onImage  func(Image)

	events   chan Event
	done     chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	phase Phase

	link     Transport
	blocked  bool
	sess     *session
	coord    *coordinator
	timer    Timer
	timerGen uint64
}

// runConfig is the settings snapshot an operation runs with.
type runConfig struct {
	packetSize    int
	xcompile      bool
	deleteFile    bool
	verify        bool
	action        settings.Action
	checkSpace    bool
	checkFirmware bool
}

// session is the state of the operation in progress.
type session struct {
	op     Op
	cfg    runConfig
	target string
	origin string
	data   []byte

	acc     protocol.Accumulator
	ids     []int
	pending []string
	flow    *flow

	payload  *protocol.Payload
	deferred []string
	sent     int
	total    int

	device   string
	firmware string
	hashes   protocol.XCompilerHashes
	space    protocol.FreeSpace
	free     int64
	compiled bool
	info     *ModuleInfo
}

// New creates an idle machine with no module connected.
func New(opts ...Option) *Machine {
	m := &Machine{
		notifier: nopNotifier{},
		settings: settings.NewMemory(),
		lookup:   errcodes.Empty(),
		clock:    realClock{},
		timeout:  DefaultTimeout,
		log:      logrus.StandardLogger(),
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.coord = &coordinator{client: m.compiler, post: m.Post}
	return m
}

// Post queues an event for Run. It is safe to call from any goroutine and
// never blocks once Run has returned.
func (m *Machine) Post(ev Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// Run processes events until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	defer m.stopOnce.Do(func() { close(m.done) })
	for {
		select {
		case <-ctx.Done():
			m.stopTimer()
			m.coord.abort()
			return ctx.Err()
		case ev := <-m.events:
			if err := m.Dispatch(ev); err != nil {
				m.log.WithError(err).Debug("event rejected")
			}
		}
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// CanCancel reports whether there is an operation to cancel.
func (m *Machine) CanCancel() bool {
	return m.Phase().Operating()
}

// Dispatch applies one event. Only StartTransfer and StartQuery return
// errors, when the operation cannot begin.
func (m *Machine) Dispatch(ev Event) error {
	switch ev := ev.(type) {
	case StartTransfer:
		return m.startTransfer(ev.Request)
	case StartQuery:
		return m.startQuery()
	case Cancel:
		m.cancel()
	case LinkProgress:
		if m.sess == nil && (ev.Phase == Connecting || ev.Phase == Discovering) {
			m.setPhase(ev.Phase)
		}
	case Connected:
		m.link = ev.Link
		m.blocked = false
		if m.sess == nil {
			m.setPhase(Idle)
		}
	case Disconnected:
		m.disconnected(ev.Err)
	case DataReceived:
		m.dataReceived(ev.Data)
	case WriteComplete:
		m.writeComplete(ev.N)
	case FlowSignal:
		m.flowSignal(ev.Go)
	case timeoutFired:
		m.timedOut(ev.gen)
	case remoteStatus:
		if m.coord.current(ev.seq) && m.sess != nil {
			m.notifier.Notify(Notification{Text: ev.text})
		}
	case compileResult:
		if m.coord.current(ev.seq) && m.Phase() == XCompiling {
			m.coord.finish()
			m.compiled(ev.data, ev.err)
		}
	case downloadResult:
		if m.coord.current(ev.seq) && m.Phase() == DownloadingRemote {
			m.coord.finish()
			m.downloaded(ev.data, ev.err)
		}
	case firmwareResult:
		if m.coord.current(ev.seq) && m.Phase() == CheckingFirmwareVersion {
			m.coord.finish()
			m.firmwareChecked(ev.status, ev.err)
		}
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
	return nil
}

func (m *Machine) loadConfig() runConfig {
	cfg := runConfig{
		packetSize:    m.settings.GetInt(settings.KeyPacketSize),
		xcompile:      m.settings.GetBool(settings.KeyOnlineXComp),
		deleteFile:    m.settings.GetBool(settings.KeyDelFile),
		verify:        m.settings.GetBool(settings.KeyVerifyFile),
		checkSpace:    m.settings.GetBool(settings.KeyCheckFreeSpace),
		checkFirmware: m.settings.GetBool(settings.KeyCheckFirmwareVersion),
	}
	if cfg.packetSize <= 0 {
		cfg.packetSize = settings.DefaultPacketSize
	}
	action, err := settings.ParseAction(m.settings.GetString(settings.KeyDownloadAction))
	if err != nil {
		m.log.WithError(err).Warn("falling back to disconnect after transfer")
		action = settings.ActionDisconnect
	}
	cfg.action = action
	return cfg
}

// reject refuses to start an operation.
func (m *Machine) reject(op Op, err error, msg string) error {
	if errors.Is(err, ErrBusy) {
		m.notifier.Notify(Notification{Text: msg, Severity: SeverityWarning})
		return err
	}
	m.notifier.Finished(Outcome{Op: op, Err: err, Message: msg, Severity: SeverityError})
	return err
}

func (m *Machine) newSession(op Op) *session {
	cfg := m.loadConfig()
	return &session{
		op:   op,
		cfg:  cfg,
		flow: newFlow(cfg.packetSize, m.blocked),
		free: -1,
	}
}

func (m *Machine) startTransfer(req TransferRequest) error {
	if m.sess != nil {
		return m.reject(OpTransfer, ErrBusy, msgBusy)
	}
	if m.link == nil {
		return m.reject(OpTransfer, ErrNotConnected, msgNotConnected)
	}
	if req.URL == "" && len(req.Data) == 0 {
		return m.reject(OpTransfer, ErrNoData, "No file data to transfer.")
	}
	if req.URL != "" && m.compiler == nil {
		return m.reject(OpTransfer, ErrOffline, "Online services are not available, remote files cannot be downloaded.")
	}

	origin := req.Name
	if origin == "" {
		origin, _, _ = strings.Cut(req.URL, "?")
	}
	target := req.Target
	if target == "" {
		target = protocol.TargetName(origin)
	}
	if target == "" {
		return m.reject(OpTransfer, ErrNoTarget, "Cannot derive a module filename, set one with --name.")
	}

	s := m.newSession(OpTransfer)
	s.origin = origin
	s.target = target
	m.sess = s
	m.log.WithFields(logrus.Fields{"target": s.target, "origin": s.origin}).Info("starting transfer")

	if req.URL != "" {
		m.setPhase(DownloadingRemote)
		m.notifier.Notify(Notification{Text: msgDownloading})
		m.coord.download(req.URL)
		return nil
	}
	s.data = req.Data
	m.route()
	return nil
}

// route picks the first device phase for the file in the session: source
// files are compiled remotely when enabled, anything else is sent as is.
func (m *Machine) route() {
	s := m.sess
	if s.cfg.xcompile && m.compiler != nil && protocol.IsSourceFile(s.origin) {
		ids := []int{protocol.InfoDeviceName}
		if m.phy2M {
			ids = append(ids, protocol.InfoFirmware)
		}
		if s.cfg.checkSpace {
			ids = append(ids, protocol.InfoFreeSpace)
		}
		ids = append(ids, protocol.InfoXCompiler)
		m.beginQuery(QueryingVersion, ids)
		return
	}

	var ids []int
	if m.phy2M {
		ids = append(ids, protocol.InfoDeviceName, protocol.InfoFirmware)
	}
	if s.cfg.checkSpace {
		ids = append(ids, protocol.InfoFreeSpace)
	}
	if len(ids) == 0 {
		m.beginTransfer(s.data)
		return
	}
	m.notifier.Notify(Notification{Text: "Checking module storage space..."})
	m.beginQuery(CheckingSpace, ids)
}

func (m *Machine) startQuery() error {
	if m.sess != nil {
		return m.reject(OpQuery, ErrBusy, msgBusy)
	}
	if m.link == nil {
		return m.reject(OpQuery, ErrNotConnected, msgNotConnected)
	}
	m.sess = m.newSession(OpQuery)
	m.beginQuery(QueryingInfo, []int{protocol.InfoDeviceName, protocol.InfoFirmware, protocol.InfoFreeSpace})
	return nil
}

// beginQuery sends the info queries for ids one at a time, each after the
// previous one was acknowledged.
func (m *Machine) beginQuery(p Phase, ids []int) {
	s := m.sess
	s.acc = protocol.Accumulator{}
	s.ids = ids
	s.pending = s.pending[:0]
	for _, id := range ids {
		s.pending = append(s.pending, protocol.QueryInfo(id))
	}
	m.setPhase(p)
	m.armTimer()
	m.loadNext()
}

// loadNext makes the next pending frame active and starts sending it.
func (m *Machine) loadNext() {
	s := m.sess
	frame := s.pending[0]
	s.pending = s.pending[1:]
	s.flow.load([]byte(frame))
	m.pump()
}

// pump writes the next chunk if flow control allows.
func (m *Machine) pump() {
	s := m.sess
	chunk := s.flow.next()
	if chunk == nil {
		return
	}
	if m.link == nil {
		m.fail(ErrDisconnected, msgDisconnected, false)
		return
	}
	m.log.WithField("phase", m.Phase()).Debugf("write %q", chunk)
	if err := m.link.Write(chunk); err != nil {
		m.writeFailed(err)
		return
	}
	m.armTimer()
}

func (m *Machine) writeFailed(err error) {
	link := m.link
	m.fail(&WriteError{Err: err}, writeFailure(m.sess.cfg.packetSize), true)
	if link != nil {
		if derr := link.Disconnect(); derr != nil {
			m.log.WithError(derr).Warn("disconnect after write failure")
		}
	}
}

func (m *Machine) writeComplete(n int) {
	s := m.sess
	p := m.Phase()
	if s == nil || !p.awaitsDevice() {
		m.log.WithField("phase", p).Debugf("ignoring write completion of %d bytes", n)
		return
	}
	if err := s.flow.ack(n); err != nil {
		m.fail(&ProtocolError{Phase: p, Reason: err.Error()}, "Unexpected write acknowledgement from module, operation aborted.", false)
		return
	}
	m.armTimer()

	if p == Transferring || p == Verifying {
		s.sent += n
		m.notifier.Progress(Progress{Sent: s.sent, Total: s.total})
	}
	if !s.flow.idle() {
		m.pump()
		return
	}

	switch p {
	case Transferring:
		m.setPhase(Verifying)
		s.acc.Reset()
		m.sendDeferred()
	case Verifying:
		m.sendDeferred()
	default:
		m.advanceQuery()
	}
}

// sendDeferred sends the next held back frame once the previous one has
// been written.
func (m *Machine) sendDeferred() {
	s := m.sess
	if len(s.deferred) == 0 {
		return
	}
	frame := s.deferred[0]
	s.deferred = s.deferred[1:]
	s.flow.load([]byte(frame))
	m.pump()
}

func (m *Machine) flowSignal(goAhead bool) {
	m.blocked = !goAhead
	s := m.sess
	if s == nil {
		return
	}
	s.flow.setBlocked(m.blocked)
	if goAhead && m.Phase().awaitsDevice() {
		m.pump()
	}
}

func (m *Machine) dataReceived(data []byte) {
	s := m.sess
	p := m.Phase()
	if s == nil || !p.awaitsDevice() {
		m.log.WithField("phase", p).Debugf("ignoring %d received bytes", len(data))
		return
	}
	m.log.WithField("phase", p).Debugf("read %q", data)
	s.acc.Append(data)
	m.armTimer()

	if code, ok := protocol.MatchError(s.acc.Bytes()); ok {
		m.deviceError(p, code)
		return
	}

	switch p {
	case Transferring:
		if s.flow.remaining() > stripThreshold {
			s.acc.StripSuccess()
		}
	case Verifying:
		m.checkVerified()
	default:
		m.advanceQuery()
	}
}

func (m *Machine) deviceError(p Phase, code protocol.ErrorCode) {
	msg := m.lookup.Lookup(code.Value)
	long := p == Transferring || p == Verifying || p == QueryingInfo
	m.fail(&DeviceError{Phase: p, Code: code, Message: msg}, errorPrefix(p)+code.Raw+") "+msg, long)
}

// advanceQuery sends the next info query once the previous one succeeded, and
// finishes the phase when every query has been answered.
func (m *Machine) advanceQuery() {
	s := m.sess
	if !s.flow.idle() {
		return
	}
	if len(s.pending) > 0 {
		if s.acc.ConsumeSuccess() {
			m.loadNext()
		}
		return
	}
	for _, id := range s.ids {
		if !protocol.HasInfoReply(s.acc.Bytes(), id) {
			return
		}
	}
	m.queryAnswered()
}

func (m *Machine) queryAnswered() {
	s := m.sess
	p := m.Phase()
	buf := s.acc.Bytes()

	var missing []string
	for _, id := range s.ids {
		var ok bool
		switch id {
		case protocol.InfoDeviceName:
			s.device, ok = protocol.MatchDeviceName(buf)
		case protocol.InfoFirmware:
			s.firmware, ok = protocol.MatchFirmware(buf)
		case protocol.InfoFreeSpace:
			s.space, ok = protocol.MatchFreeSpace(buf)
			if ok {
				s.free = s.space.Free
			}
		case protocol.InfoXCompiler:
			s.hashes, ok = protocol.MatchXCompilerHashes(buf)
		}
		if !ok {
			missing = append(missing, fmt.Sprintf("at i %d", id))
		}
	}
	if len(missing) > 0 {
		m.fail(&ProtocolError{Phase: p, Reason: "unrecognised reply to " + strings.Join(missing, ", ")},
			"Unrecognised response from module, please ensure module is in hardware command mode VSP and retry.", true)
		return
	}
	m.log.WithFields(logrus.Fields{"device": s.device, "firmware": s.firmware, "free": s.free}).Debug("module details received")

	switch p {
	case QueryingVersion:
		if !m.confirmPhy() {
			return
		}
		m.stopTimer()
		m.setPhase(XCompiling)
		m.coord.compile(s.device, s.hashes, s.data)
	case CheckingSpace:
		if !m.confirmPhy() {
			return
		}
		m.beginTransfer(s.data)
	case QueryingInfo:
		s.info = &ModuleInfo{
			Device:     s.device,
			Firmware:   s.firmware,
			Space:      s.space,
			PhyWarning: m.knownBadPhy(),
		}
		if s.cfg.checkFirmware && m.compiler != nil {
			m.stopTimer()
			m.setPhase(CheckingFirmwareVersion)
			m.notifier.Notify(Notification{Text: msgCheckFirmware})
			m.coord.checkFirmware(s.device, s.firmware)
			return
		}
		m.reportInfo()
	}
}

func (m *Machine) knownBadPhy() bool {
	return m.phy2M && m.sess.device == phyRiskDevice && m.sess.firmware == phyRiskFirmware
}

// confirmPhy asks whether to continue on the module and radio combination
// known to drop the link, and ends the operation if the answer is no.
func (m *Machine) confirmPhy() bool {
	if !m.knownBadPhy() {
		return true
	}
	m.stopTimer()
	if m.notifier.Confirm(Confirmation{Title: "Continue VSP OTA operation", Text: phyWarning}) {
		m.armTimer()
		return true
	}
	m.fail(ErrDeclined, msgPhyDeclined, false)
	return false
}

// beginTransfer encodes data and starts sending it.
func (m *Machine) beginTransfer(data []byte) {
	s := m.sess
	if s.cfg.checkSpace && s.free >= 0 && int64(len(data)) > s.free {
		m.stopTimer()
		ok := m.notifier.Confirm(Confirmation{
			Title: "Insufficient module space",
			Text:  spaceQuestion(len(data), s.free),
		})
		if !ok {
			m.fail(ErrDeclined, msgSpaceDeclined, false)
			return
		}
	}

	s.payload = protocol.Encode(data, s.target, protocol.EncodeOptions{
		DeleteExisting: s.cfg.deleteFile,
		Verify:         s.cfg.verify,
	})
	s.deferred = append([]string(nil), s.payload.Deferred...)
	s.pending = nil
	s.sent = 0
	s.total = s.payload.WireSize()
	s.acc = protocol.Accumulator{}

	m.setPhase(Transferring)
	m.notifier.Notify(Notification{Text: msgTransferring})
	m.notifier.Progress(Progress{Sent: 0, Total: s.total})
	m.armTimer()
	s.flow.load(s.payload.Primary())
	m.pump()
}

func (m *Machine) checkVerified() {
	s := m.sess
	buf := s.acc.Bytes()
	if !s.cfg.verify {
		if protocol.HasWriteConfirmation(buf) {
			m.succeed(msgComplete)
		}
		return
	}
	if !protocol.HasDirectoryListing(buf) {
		return
	}

	crc, hasCRC := protocol.MatchFileCRC(buf)
	switch {
	case hasCRC && !strings.EqualFold(crc, s.payload.Checksum):
		m.fail(&VerificationError{Expected: s.payload.Checksum, Actual: crc},
			checksumMessage(s.payload.Checksum, crc), false)
	case !protocol.ListsFile(buf, s.target):
		m.fail(&VerificationError{Missing: true}, msgFileMissing, false)
	case hasCRC:
		m.succeed(msgVerified)
	default:
		m.succeed(msgVerifiedNoCRC)
	}
}

// succeed ends a transfer and runs the configured post-download action.
func (m *Machine) succeed(msg string) {
	action := m.sess.cfg.action
	switch action {
	case settings.ActionDisconnect:
		msg += msgSuffixDisconn
	case settings.ActionRestart:
		msg += msgSuffixRestart
	}
	link := m.link
	m.finish(Outcome{Op: OpTransfer, Message: msg, Severity: SeveritySuccess})

	if link == nil {
		return
	}
	switch action {
	case settings.ActionDisconnect:
		if err := link.Disconnect(); err != nil {
			m.log.WithError(err).Warn("disconnect after transfer")
		}
	case settings.ActionRestart:
		if err := link.Write([]byte(protocol.CmdRestart)); err != nil {
			m.log.WithError(err).Warn("restart after transfer")
		}
	}
}

func (m *Machine) compiled(data []byte, err error) {
	if err != nil {
		msg, long := compileMessage(err)
		m.fail(err, msg, long)
		return
	}
	if len(data) == 0 {
		m.fail(ErrNoData, msgEmptyImage, false)
		return
	}
	s := m.sess
	s.compiled = true
	m.imageReady(data)
	m.beginTransfer(data)
}

func (m *Machine) downloaded(data []byte, err error) {
	if err != nil {
		m.fail(err, downloadMessage(err), false)
		return
	}
	m.sess.data = data
	m.imageReady(data)
	m.route()
}

func (m *Machine) imageReady(data []byte) {
	if m.onImage == nil {
		return
	}
	s := m.sess
	m.onImage(Image{
		Target:   s.target,
		Origin:   s.origin,
		Device:   s.device,
		Hashes:   s.hashes,
		Compiled: s.compiled,
		Data:     data,
	})
}

func (m *Machine) firmwareChecked(status xcompile.FirmwareStatus, err error) {
	info := m.sess.info
	switch {
	case err != nil:
		m.notifier.Notify(Notification{Text: firmwareMessage(err), Severity: SeverityWarning})
	default:
		if status.State == xcompile.FirmwareUnsupported {
			m.notifier.Notify(Notification{Text: msgFwUnsupported, Severity: SeverityWarning})
		}
		info.Latest = &status
	}
	m.reportInfo()
}

func (m *Machine) reportInfo() {
	info := m.sess.info
	m.finish(Outcome{Op: OpQuery, Message: info.Report(), Long: true, Severity: SeveritySuccess, Info: info})
}

func (m *Machine) timedOut(gen uint64) {
	if gen != m.timerGen || m.sess == nil {
		return
	}
	p := m.Phase()
	if !p.awaitsDevice() {
		return
	}
	m.fail(&TimeoutError{Phase: p, After: m.timeout}, timeoutMessage(p), true)
}

func (m *Machine) cancel() {
	if m.sess == nil {
		return
	}
	m.coord.abort()
	m.fail(ErrCancelled, msgCancelled, false)
}

func (m *Machine) disconnected(err error) {
	m.link = nil
	m.blocked = false
	if err != nil {
		m.log.WithError(err).Info("module disconnected")
	}
	if m.sess == nil {
		m.setPhase(Idle)
		return
	}
	m.coord.abort()
	m.fail(ErrDisconnected, msgDisconnected, false)
}

// fail ends the operation with err.
func (m *Machine) fail(err error, msg string, long bool) {
	sev := SeverityError
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrDeclined) {
		sev = SeverityWarning
	}
	m.log.WithError(err).WithField("phase", m.Phase()).Warn(msg)
	m.finish(Outcome{Op: m.sess.op, Err: err, Message: msg, Long: long, Severity: sev})
}

// finish drops the session, returns to Idle and reports the outcome.
func (m *Machine) finish(out Outcome) {
	m.stopTimer()
	m.coord.abort()
	m.sess = nil
	m.setPhase(Idle)
	m.notifier.Finished(out)
}

func (m *Machine) setPhase(p Phase) {
	m.mu.Lock()
	old := m.phase
	m.phase = p
	m.mu.Unlock()
	if old != p {
		m.log.WithField("phase", p).Debugf("phase %s -> %s", old, p)
		m.notifier.PhaseChanged(p)
	}
}

// armTimer restarts the response timeout.
func (m *Machine) armTimer() {
	m.stopTimer()
	gen := m.timerGen
	m.timer = m.clock.AfterFunc(m.timeout, func() {
		m.Post(timeoutFired{gen: gen})
	})
}

// stopTimer cancels the response timeout. A timeout already queued carries
// an old generation and is ignored.
func (m *Machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

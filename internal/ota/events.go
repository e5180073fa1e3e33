package ota

import (
	"github.com/vitaminmoo/vsp-ota/internal/protocol"
	"github.com/vitaminmoo/vsp-ota/internal/xcompile"
)

// Event is an input to the machine. Transports, timers, the remote compiler
// and the UI all deliver events through Machine.Post.
type Event interface {
	event()
}

// TransferRequest describes an application to put on the module.
type TransferRequest struct {
	// Target is the module filename. Derived from Name when empty.
	Target string

	// Name is the local filename or URL, used to tell source from binary.
	Name string

	// Data holds the file contents. Ignored when URL is set.
	Data []byte

	// URL, when set, is downloaded first.
	URL string
}

// StartTransfer begins a transfer.
type StartTransfer struct {
	Request TransferRequest
}

// StartQuery begins a module information query.
type StartQuery struct{}

// Cancel aborts the current operation.
type Cancel struct{}

// LinkProgress reports connection setup by the transport owner.
type LinkProgress struct {
	Phase Phase // Connecting or Discovering
}

// Connected hands the machine a ready transport.
type Connected struct {
	Link Transport
}

// Disconnected reports the transport went away.
type Disconnected struct {
	Err error
}

// DataReceived carries bytes the module sent.
type DataReceived struct {
	Data []byte
}

// WriteComplete reports that n bytes of the last write were accepted.
type WriteComplete struct {
	N int
}

// FlowSignal reports the module's modem line: go or stop.
type FlowSignal struct {
	Go bool
}

type timeoutFired struct {
	gen uint64
}

type remoteStatus struct {
	seq  uint64
	text string
}

type compileResult struct {
	seq  uint64
	data []byte
	err  error
}

type downloadResult struct {
	seq  uint64
	data []byte
	err  error
}

type firmwareResult struct {
	seq    uint64
	status xcompile.FirmwareStatus
	err    error
}

func (StartTransfer) event()  {}
func (StartQuery) event()     {}
func (Cancel) event()         {}
func (LinkProgress) event()   {}
func (Connected) event()      {}
func (Disconnected) event()   {}
func (DataReceived) event()   {}
func (WriteComplete) event()  {}
func (FlowSignal) event()     {}
func (timeoutFired) event()   {}
func (remoteStatus) event()   {}
func (compileResult) event()  {}
func (downloadResult) event() {}
func (firmwareResult) event() {}

// Image is an application obtained from a remote service just before it is
// sent to the module.
type Image struct {
	Target   string
	Origin   string // local filename or URL the image came from
	Device   string
	Hashes   protocol.XCompilerHashes
	Compiled bool
	Data     []byte
}

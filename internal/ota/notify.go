package ota

import (
	"fmt"
	"strings"

	"github.com/vitaminmoo/vsp-ota/internal/protocol"
	"github.com/vitaminmoo/vsp-ota/internal/xcompile"
)

// Severity hints how a message should be presented.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Notification is a transient status message.
type Notification struct {
	Text     string
	Long     bool
	Severity Severity
}

// Confirmation asks the operator to continue or abort.
type Confirmation struct {
	Title string
	Text  string
}

// Progress reports bytes written during a transfer.
type Progress struct {
	Sent  int
	Total int
}

// Percent returns Sent as a share of Total.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Sent) * 100 / float64(p.Total)
}

// Outcome is the terminal result of an operation.
type Outcome struct {
	Op       Op
	Err      error // nil on success
	Message  string
	Long     bool
	Severity Severity
	Info     *ModuleInfo // set by successful queries
}

// OK reports whether the operation succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Notifier is the UI side of the machine. Confirm may block; the machine
// waits for the answer before handling further events.
type Notifier interface {
	Notify(Notification)
	Confirm(Confirmation) bool
	Progress(Progress)
	PhaseChanged(Phase)
	Finished(Outcome)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification)       {}
func (nopNotifier) Confirm(Confirmation) bool { return true }
func (nopNotifier) Progress(Progress)         {}
func (nopNotifier) PhaseChanged(Phase)        {}
func (nopNotifier) Finished(Outcome)          {}

// ModuleInfo is what a module query found out.
type ModuleInfo struct {
	Device   string
	Firmware string
	Space    protocol.FreeSpace

	// Latest is the firmware check verdict, nil when no check was made or
	// the check failed.
	Latest *xcompile.FirmwareStatus

	// PhyWarning is set for the BL652 firmware known to fail over 2M PHY.
	PhyWarning bool
}

// Report renders the information as a message.
func (i *ModuleInfo) Report() string {
	var extra string
	if i.Latest != nil {
		switch i.Latest.State {
		case xcompile.FirmwareOutdated:
			extra = ", which is outdated, the latest firmware is: " + i.Latest.Latest
		case xcompile.FirmwareCurrent:
			extra = ", which is up-to-date"
		case xcompile.FirmwareTest:
			extra = ", which is an engineering/test firmware"
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The connected device is a %s module on firmware version %s%s.\n", i.Device, i.Firmware, extra)
	fmt.Fprintf(&b, "Flash space available: %d/%d bytes (%d%%).", i.Space.Free, i.Space.Total, i.Space.Percent())
	if i.PhyWarning {
		b.WriteString("\n\nPlease note: VSP/OTA to this device is likely to fail due to this client having a Bluetooth v5 radio with support for 2M PHY.")
	}
	return b.String()
}

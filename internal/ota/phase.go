package ota

// Phase is the step the machine is currently waiting on.
type Phase int

const (
	Idle Phase = iota
	Connecting
	Discovering
	QueryingVersion
	CheckingSpace
	XCompiling
	DownloadingRemote
	Transferring
	Verifying
	QueryingInfo
	CheckingFirmwareVersion
)

var phaseNames = [...]string{
	Idle:                    "idle",
	Connecting:              "connecting",
	Discovering:             "discovering",
	QueryingVersion:         "querying version",
	CheckingSpace:           "checking space",
	XCompiling:              "xcompiling",
	DownloadingRemote:       "downloading remote file",
	Transferring:            "transferring",
	Verifying:               "verifying",
	QueryingInfo:            "querying module",
	CheckingFirmwareVersion: "checking firmware version",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Operating reports whether an operation owns the module in this phase.
func (p Phase) Operating() bool {
	return p != Idle && p != Connecting && p != Discovering
}

// awaitsDevice reports whether the phase is driven by module output, and so
// runs the response timer.
func (p Phase) awaitsDevice() bool {
	switch p {
	case QueryingVersion, CheckingSpace, Transferring, Verifying, QueryingInfo:
		return true
	}
	return false
}

// Op identifies the kind of operation an outcome belongs to.
type Op int

const (
	OpTransfer Op = iota
	OpQuery
)

func (o Op) String() string {
	if o == OpQuery {
		return "query"
	}
	return "transfer"
}

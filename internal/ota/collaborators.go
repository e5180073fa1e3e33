package ota

import (
	"context"
	"time"

	"github.com/vitaminmoo/vsp-ota/internal/xcompile"
)

// Transport is a link to the module's command interpreter.
//
// Write must not block on the module: it queues p and returns, and the
// transport later posts WriteComplete. Received bytes, modem line changes and
// link loss are posted as DataReceived, FlowSignal and Disconnected.
type Transport interface {
	Write(p []byte) error
	Disconnect() error
}

// Compiler is the online XCompiler service. Every call honours ctx.
type Compiler interface {
	CheckSupport(ctx context.Context, device, hashA, hashB string) (string, error)
	Compile(ctx context.Context, id string, source []byte) ([]byte, error)
	CheckLatestFirmware(ctx context.Context, device, version string) (xcompile.FirmwareStatus, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// Settings supplies operator configuration, read at the start of each
// operation.
type Settings interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
}

// ErrorLookup resolves module error codes.
type ErrorLookup interface {
	Lookup(code uint32) string
}

// Clock schedules the response timeout.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

package xcompile

import "fmt"

// Kind classifies a failed request to the compiler service.
type Kind int

const (
	KindGeneral Kind = iota
	KindFileSize
	KindJSON
	KindServer
	KindXCompile
	KindSSLCert
	KindUnsupported
	KindUnknown
	KindHTTPStatus
)

func (k Kind) String() string {
	switch k {
	case KindFileSize:
		return "file size"
	case KindJSON:
		return "json"
	case KindServer:
		return "server"
	case KindXCompile:
		return "xcompile"
	case KindSSLCert:
		return "ssl certificate"
	case KindUnsupported:
		return "unsupported"
	case KindUnknown:
		return "unknown"
	case KindHTTPStatus:
		return "http status"
	default:
		return "general"
	}
}

// Error is returned by every Client call that fails.
type Error struct {
	Kind   Kind
	Status int    // HTTP status, when one was received
	Detail string // server or transport supplied text
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTPStatus:
		return fmt.Sprintf("xcompile: http status %d", e.Status)
	case e.Detail != "":
		return fmt.Sprintf("xcompile: %s error: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("xcompile: %s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("xcompile: %s error", e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

package protocol

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
)

// Module replies are tab separated fields terminated by CR, one reply per
// LF-separated line. A successfully executed command is acknowledged with
// "\n00\r" and a failed one with "\n01\t<hex code>\r".
var (
	SuccessMarker = []byte("\n00\r")

	rxDeviceName = regexp.MustCompile(`\t0\t([a-zA-Z0-9\-_]{3,20})\r`)
	rxXCompiler  = regexp.MustCompile(`\t13\t([a-zA-Z0-9]{4}) ([a-zA-Z0-9]{4})`)
	rxFreeSpace  = regexp.MustCompile(`\t6\t([0-9]+),([0-9]+),([0-9]+)\r`)
	rxFirmware   = regexp.MustCompile(`\t3\t([0-9a-zA-Z\-_.]+)\r`)
	rxError      = regexp.MustCompile(`\n01\t([a-fA-F0-9]+)\r`)
	rxFileCRC    = regexp.MustCompile(`\n10\t49452\t([0-9A-Fa-f]{4})\r\n`)

	writeConfirm = []byte("\n10\t1\t")
	dirEntry     = []byte("06\t")
)

// FreeSpace is the "at i 6" reply: the module data segment in bytes.
type FreeSpace struct {
	Total   int64
	Free    int64
	Deleted int64
}

// Percent returns the free share of the segment, 0 when the total is unknown.
func (f FreeSpace) Percent() int64 {
	if f.Total <= 0 {
		return 0
	}
	return f.Free * 100 / f.Total
}

// XCompilerHashes identifies the compiler build a module's firmware needs.
type XCompilerHashes struct {
	A string
	B string
}

// ErrorCode is a failure code reported by the module.
type ErrorCode struct {
	Raw   string
	Value uint32
}

func (e ErrorCode) String() string {
	return e.Raw
}

// MatchDeviceName extracts the module name from an "at i 0" reply.
func MatchDeviceName(buf []byte) (string, bool) {
	m := rxDeviceName.FindSubmatch(buf)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

// MatchXCompilerHashes extracts the hash pair from an "at i 13" reply.
func MatchXCompilerHashes(buf []byte) (XCompilerHashes, bool) {
	m := rxXCompiler.FindSubmatch(buf)
	if m == nil {
		return XCompilerHashes{}, false
	}
	return XCompilerHashes{A: string(m[1]), B: string(m[2])}, true
}

// MatchFreeSpace extracts the storage figures from an "at i 6" reply.
func MatchFreeSpace(buf []byte) (FreeSpace, bool) {
	m := rxFreeSpace.FindSubmatch(buf)
	if m == nil {
		return FreeSpace{}, false
	}
	var vals [3]int64
	for i := range vals {
		v, err := strconv.ParseInt(string(m[i+1]), 10, 64)
		if err != nil {
			return FreeSpace{}, false
		}
		vals[i] = v
	}
	return FreeSpace{Total: vals[0], Free: vals[1], Deleted: vals[2]}, true
}

// MatchFirmware extracts the firmware version from an "at i 3" reply.
func MatchFirmware(buf []byte) (string, bool) {
	m := rxFirmware.FindSubmatch(buf)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

// MatchError extracts the first error code reported in buf.
func MatchError(buf []byte) (ErrorCode, bool) {
	m := rxError.FindSubmatch(buf)
	if m == nil {
		return ErrorCode{}, false
	}
	raw := string(m[1])
	v, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return ErrorCode{Raw: raw}, true
	}
	return ErrorCode{Raw: raw, Value: uint32(v)}, true
}

// MatchFileCRC extracts the CRC from an "at i 0xc12c" reply.
func MatchFileCRC(buf []byte) (string, bool) {
	m := rxFileCRC.FindSubmatch(buf)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

// HasInfoReply reports whether the reply to "at i id" has been terminated by
// a success marker.
func HasInfoReply(buf []byte, id int) bool {
	tag := []byte(fmt.Sprintf("\t%d\t", id))
	i := bytes.Index(buf, tag)
	if i < 0 {
		return false
	}
	return bytes.Contains(buf[i+len(tag):], SuccessMarker)
}

// HasDirectoryListing reports whether an "at+dir" listing has been received
// in full.
func HasDirectoryListing(buf []byte) bool {
	i := bytes.Index(buf, dirEntry)
	if i < 0 {
		return false
	}
	return bytes.Contains(buf[i:], SuccessMarker)
}

// ListsFile reports whether a directory listing in buf names file.
func ListsFile(buf []byte, name string) bool {
	entry := append(append([]byte{}, dirEntry...), name...)
	return bytes.Contains(buf, append(entry, '\r'))
}

// HasWriteConfirmation reports whether the filler query sent after an
// unverified transfer has been answered.
func HasWriteConfirmation(buf []byte) bool {
	return bytes.Contains(buf, writeConfirm)
}

package protocol

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Info query identifiers understood by "at i".
const (
	InfoDeviceName = 0
	InfoFirmware   = 3
	InfoFreeSpace  = 6
	InfoXCompiler  = 13
	InfoFileCRC    = 0xC12C
)

// Fixed command lines. Info queries carry CRLF, file commands CR only.
const (
	CmdCloseFile = "at+fcl\r"
	CmdFileCRC   = "at i 0xc12c\r"
	CmdDirectory = "at+dir\r"
	CmdFiller    = "at i 1\r"
	CmdRestart   = "atz\r"
)

// HexChunkSize is the number of hex characters carried by one write frame.
const HexChunkSize = 56

// QueryInfo builds an "at i N" info query.
func QueryInfo(id int) string {
	return fmt.Sprintf("at i %d\r\n", id)
}

// DeleteFile builds the command removing name from the module filesystem.
func DeleteFile(name string) string {
	return fmt.Sprintf("AT+del \"%s\"\r", name)
}

// OpenFile builds the command opening name for writing.
func OpenFile(name string) string {
	return fmt.Sprintf("AT+fow \"%s\"\r", name)
}

// WriteHex builds a write frame for up to HexChunkSize hex characters.
func WriteHex(hexChunk string) string {
	return fmt.Sprintf("AT+fwrh \"%s\"\r", hexChunk)
}

// IsSourceFile reports whether name looks like a smartBASIC source file that
// must be cross-compiled before it can be sent.
func IsSourceFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".sb" || ext == ".txt"
}

// TargetName derives the module filename from a local path or URL: the base
// name up to its first dot.
func TargetName(path string) string {
	base := path
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	return base
}

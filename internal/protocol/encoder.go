package protocol

import (
	"encoding/hex"
	"strings"
)

// EncodeOptions controls which framing commands surround the payload.
type EncodeOptions struct {
	DeleteExisting bool
	Verify         bool
}

// Payload is an application image turned into module commands.
//
// Frames (optional delete, open, write-hex chunks) are sent back to back as
// one primary buffer. Deferred frames (close, then CRC query and directory
// listing, or the filler query) are only sent once the primary buffer has
// fully drained.
type Payload struct {
	Filename string
	Frames   []string
	Deferred []string

	// Checksum is the module CRC of the image; empty unless Verify was set.
	Checksum string
	Size     int
}

// Encode frames data for writing to filename on the module.
func Encode(data []byte, filename string, opts EncodeOptions) *Payload {
	p := &Payload{
		Filename: filename,
		Size:     len(data),
	}

	if opts.DeleteExisting {
		p.Frames = append(p.Frames, DeleteFile(filename))
	}
	p.Frames = append(p.Frames, OpenFile(filename))

	var crc *Checksum
	if opts.Verify {
		crc = NewChecksum()
	}

	bytesPerFrame := HexChunkSize / 2
	for off := 0; off < len(data); off += bytesPerFrame {
		end := min(off+bytesPerFrame, len(data))
		chunk := data[off:end]
		if crc != nil {
			crc.Write(chunk)
		}
		p.Frames = append(p.Frames, WriteHex(strings.ToUpper(hex.EncodeToString(chunk))))
	}

	p.Deferred = append(p.Deferred, CmdCloseFile)
	if opts.Verify {
		p.Checksum = crc.HexString()
		p.Deferred = append(p.Deferred, CmdFileCRC, CmdDirectory)
	} else {
		p.Deferred = append(p.Deferred, CmdFiller)
	}

	return p
}

// Primary returns the primary frames joined into the buffer that is chunked
// out to the module.
func (p *Payload) Primary() []byte {
	return []byte(strings.Join(p.Frames, ""))
}

// WireSize is the total number of bytes that will be written, deferred
// frames included.
func (p *Payload) WireSize() int {
	n := 0
	for _, f := range p.Frames {
		n += len(f)
	}
	for _, f := range p.Deferred {
		n += len(f)
	}
	return n
}

package protocol

import (
	"fmt"

	"github.com/howeyc/crc16"
)

const checksumSeed = 0xFFFF

// checksumTable is the reflected 0x8408 table.
var checksumTable = crc16.MakeTable(crc16.CCITT)

// Checksum is the CRC-16 the module reports for a file (at i 0xc12c).
//
// The register is finalized after every byte: the running value is inverted
// and byte-swapped, and the next byte continues from that finalized value.
// Value therefore always returns the CRC of everything added so far.
type Checksum struct {
	crc uint16
}

// NewChecksum returns a Checksum in its reset state.
func NewChecksum() *Checksum {
	c := &Checksum{}
	c.Reset()
	return c
}

// Reset discards all bytes added so far.
func (c *Checksum) Reset() {
	c.crc = checksumSeed
}

// AddByte feeds a single byte through the CRC.
func (c *Checksum) AddByte(b byte) {
	// Update inverts on the way in and out, so pre-inverting leaves the
	// register as is and only the final inversion remains.
	c.crc = crc16.Update(^c.crc, checksumTable, []byte{b})
	c.crc = c.crc<<8 | c.crc>>8
}

// Write adds every byte of p. It never fails.
func (c *Checksum) Write(p []byte) (int, error) {
	for _, b := range p {
		c.AddByte(b)
	}
	return len(p), nil
}

// Value returns the current CRC.
func (c *Checksum) Value() uint16 {
	return c.crc
}

// HexString returns the CRC as 4 uppercase hex digits.
func (c *Checksum) HexString() string {
	return fmt.Sprintf("%04X", c.crc)
}

// ChecksumHex computes the module CRC of data in one call.
func ChecksumHex(data []byte) string {
	c := NewChecksum()
	c.Write(data)
	return c.HexString()
}

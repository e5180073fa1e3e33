package ota

import "fmt"

// flow paces one frame out to the module in packet sized chunks.
//
// Only one chunk is ever in flight: the next is released by the write
// completion of the previous one. A stop from the modem line holds every
// chunk back until go is signalled, whatever completions arrive meanwhile.
type flow struct {
	packetSize int
	active     []byte
	inFlight   int
	blocked    bool
}

func newFlow(packetSize int, blocked bool) *flow {
	return &flow{packetSize: packetSize, blocked: blocked}
}

// load makes frame the active frame. Any unsent remainder is dropped.
func (f *flow) load(frame []byte) {
	f.active = append([]byte(nil), frame...)
	f.inFlight = 0
}

// next returns the chunk to write now, or nil when nothing may be sent.
func (f *flow) next() []byte {
	if f.blocked || f.inFlight > 0 || len(f.active) == 0 {
		return nil
	}
	n := min(f.packetSize, len(f.active))
	f.inFlight = n
	return f.active[:n]
}

// ack retires n written bytes of the chunk in flight.
func (f *flow) ack(n int) error {
	if f.inFlight == 0 {
		return fmt.Errorf("write completion of %d bytes with nothing in flight", n)
	}
	if n <= 0 || n > f.inFlight {
		return fmt.Errorf("write completion of %d bytes for a %d byte chunk", n, f.inFlight)
	}
	f.active = f.active[n:]
	f.inFlight = 0
	return nil
}

func (f *flow) setBlocked(blocked bool) {
	f.blocked = blocked
}

// idle reports whether the active frame has been written in full.
func (f *flow) idle() bool {
	return f.inFlight == 0 && len(f.active) == 0
}

func (f *flow) remaining() int {
	return len(f.active)
}

package protocol

import "bytes"

// Accumulator collects module output for the phase that is waiting on it.
// Replies are matched against the whole accumulated text because a single
// reply may be split over several notifications.
type Accumulator struct {
	buf []byte
}

// Append adds received bytes.
func (a *Accumulator) Append(p []byte) {
	a.buf = append(a.buf, p...)
}

// Bytes returns the accumulated output. The slice is only valid until the
// next mutation.
func (a *Accumulator) Bytes() []byte {
	return a.buf
}

// Len returns the number of accumulated bytes.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Reset discards everything.
func (a *Accumulator) Reset() {
	a.buf = a.buf[:0]
}

// ConsumeSuccess removes the first success marker, reporting whether one was
// present.
func (a *Accumulator) ConsumeSuccess() bool {
	i := bytes.Index(a.buf, SuccessMarker)
	if i < 0 {
		return false
	}
	a.buf = append(a.buf[:i], a.buf[i+len(SuccessMarker):]...)
	return true
}

// StripSuccess removes every success marker.
func (a *Accumulator) StripSuccess() {
	a.buf = bytes.ReplaceAll(a.buf, SuccessMarker, nil)
}

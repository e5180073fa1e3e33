// Package link carries the module's AT command stream over byte oriented
// transports: a UART and a WebSocket bridge. Both look like a VSP link to
// the machine, without the modem line.
package link

import (
	"errors"
	"io"
	"sync"

	"github.com/vitaminmoo/vsp-ota/internal/config"
	"github.com/vitaminmoo/vsp-ota/internal/ota"
	"github.com/vitaminmoo/vsp-ota/internal/util"
)

// ErrClosed is returned by writes after Disconnect.
var ErrClosed = errors.New("link closed")

// Stream adapts a byte stream to ota.Transport. Received bytes and write
// completions are posted to the machine from background goroutines.
type Stream struct {
	conn io.ReadWriteCloser
	desc string
	post func(ota.Event)

	mu     sync.Mutex
	closed bool
	acks   chan int
	done   chan struct{}
}

// NewStream starts reading conn and posts Connected for the new link.
func NewStream(conn io.ReadWriteCloser, desc string, post func(ota.Event)) *Stream {
	s := &Stream{
		conn: conn,
		desc: desc,
		post: post,
		acks: make(chan int, 8),
		done: make(chan struct{}),
	}
	go s.readLoop()
	go s.deliver()
	post(ota.Connected{Link: s})
	return s
}

// String describes the link, e.g. "Serial: /dev/ttyUSB0 @ 115200 baud".
func (s *Stream) String() string {
	return s.desc
}

func (s *Stream) readLoop() {
	buf := make([]byte, 512)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			config.Debugf("<- %s", util.Traffic(data))
			s.post(ota.DataReceived{Data: data})
		}
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				err = nil
			}
			s.post(ota.Disconnected{Err: err})
			return
		}
	}
}

func (s *Stream) deliver() {
	for {
		select {
		case n := <-s.acks:
			s.post(ota.WriteComplete{N: n})
		case <-s.done:
			return
		}
	}
}

// Write sends p and queues its completion.
func (s *Stream) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	config.Debugf("-> %s", util.Traffic(p))
	n, err := s.conn.Write(p)
	if err != nil {
		return err
	}
	s.acks <- n
	return nil
}

// Disconnect closes the stream. The read loop reports the loss.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	return s.conn.Close()
}

package ota

import (
	"context"

	"github.com/vitaminmoo/vsp-ota/internal/protocol"
)

// coordinator runs remote service requests off the event loop and posts
// their results back as events. At most one request is outstanding; starting
// another or calling abort cancels it, and results carry the sequence number
// of the request that produced them so late ones can be dropped.
type coordinator struct {
	client Compiler
	post   func(Event)
	seq    uint64
	cancel context.CancelFunc
}

func (c *coordinator) begin() (context.Context, uint64) {
	c.abort()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.seq++
	return ctx, c.seq
}

func (c *coordinator) abort() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.seq++
}

// current reports whether seq belongs to the outstanding request.
func (c *coordinator) current(seq uint64) bool {
	return c.cancel != nil && seq == c.seq
}

// finish releases the context of a completed request.
func (c *coordinator) finish() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// compile checks the module is supported and then submits source.
func (c *coordinator) compile(device string, hashes protocol.XCompilerHashes, source []byte) {
	ctx, seq := c.begin()
	go func() {
		c.post(remoteStatus{seq: seq, text: msgCheckingRemote})
		id, err := c.client.CheckSupport(ctx, device, hashes.A, hashes.B)
		if err != nil {
			c.post(compileResult{seq: seq, err: err})
			return
		}
		c.post(remoteStatus{seq: seq, text: msgXCompiling})
		data, err := c.client.Compile(ctx, id, source)
		c.post(compileResult{seq: seq, data: data, err: err})
	}()
}

func (c *coordinator) download(url string) {
	ctx, seq := c.begin()
	go func() {
		data, err := c.client.Download(ctx, url)
		c.post(downloadResult{seq: seq, data: data, err: err})
	}()
}

func (c *coordinator) checkFirmware(device, version string) {
	ctx, seq := c.begin()
	go func() {
		status, err := c.client.CheckLatestFirmware(ctx, device, version)
		c.post(firmwareResult{seq: seq, status: status, err: err})
	}()
}

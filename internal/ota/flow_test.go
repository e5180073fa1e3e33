package ota

import (
	"bytes"
	"testing"
)

func TestFlow_ChunksInOrder(t *testing.T) {
	for _, size := range []int{1, 3, 20, 64} {
		f := newFlow(size, false)
		frame := []byte("AT+fwrh \"00112233445566778899AABBCCDDEEFF\"\r")
		f.load(frame)

		var out []byte
		chunks := 0
		for !f.idle() {
			c := f.next()
			if c == nil {
				t.Fatalf("size %d: nothing to send with %d bytes left", size, f.remaining())
			}
			if len(c) > size {
				t.Fatalf("size %d: chunk of %d bytes", size, len(c))
			}
			if f.next() != nil {
				t.Fatalf("size %d: second chunk released before completion", size)
			}
			out = append(out, c...)
			chunks++
			if err := f.ack(len(c)); err != nil {
				t.Fatal(err)
			}
		}
		if !bytes.Equal(out, frame) {
			t.Errorf("size %d: sent %q", size, out)
		}
		if want := (len(frame) + size - 1) / size; chunks != want {
			t.Errorf("size %d: %d chunks, want %d", size, chunks, want)
		}
	}
}

func TestFlow_Blocked(t *testing.T) {
	f := newFlow(4, true)
	f.load([]byte("at i 0\r\n"))
	if c := f.next(); c != nil {
		t.Fatalf("sent %q while blocked", c)
	}
	f.setBlocked(false)
	c := f.next()
	if string(c) != "at i" {
		t.Fatalf("first chunk %q", c)
	}
	f.setBlocked(true)
	if err := f.ack(len(c)); err != nil {
		t.Fatal(err)
	}
	if c := f.next(); c != nil {
		t.Fatalf("sent %q after stop", c)
	}
	f.setBlocked(false)
	if c := f.next(); string(c) != " 0\r\n" {
		t.Fatalf("second chunk %q", c)
	}
}

func TestFlow_AckErrors(t *testing.T) {
	f := newFlow(8, false)
	if err := f.ack(1); err == nil {
		t.Error("ack with nothing in flight should fail")
	}
	f.load([]byte("atz\r"))
	f.next()
	if err := f.ack(5); err == nil {
		t.Error("ack larger than the chunk should fail")
	}
	if err := f.ack(4); err != nil {
		t.Errorf("ack: %v", err)
	}
	if !f.idle() {
		t.Error("flow should be idle")
	}
}

func TestFlow_PartialAck(t *testing.T) {
	f := newFlow(8, false)
	f.load([]byte("abcdefgh"))
	f.next()
	if err := f.ack(3); err != nil {
		t.Fatal(err)
	}
	if c := f.next(); string(c) != "defgh" {
		t.Errorf("resend %q, want the unwritten tail", c)
	}
}

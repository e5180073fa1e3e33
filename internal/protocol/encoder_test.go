package protocol

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

func TestEncode_TwoBytes(t *testing.T) {
	p := Encode([]byte{0x41, 0x42}, "test", EncodeOptions{Verify: true})

	want := []string{"AT+fow \"test\"\r", "AT+fwrh \"4142\"\r"}
	if len(p.Frames) != len(want) {
		t.Fatalf("got %d frames, want %d: %q", len(p.Frames), len(want), p.Frames)
	}
	for i := range want {
		if p.Frames[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, p.Frames[i], want[i])
		}
	}

	if len(p.Checksum) != 4 {
		t.Errorf("checksum %q should be 4 characters", p.Checksum)
	}
	if p.Checksum != ChecksumHex([]byte{0x41, 0x42}) {
		t.Errorf("checksum %s does not cover the image bytes", p.Checksum)
	}

	wantDeferred := []string{CmdCloseFile, CmdFileCRC, CmdDirectory}
	if strings.Join(p.Deferred, "|") != strings.Join(wantDeferred, "|") {
		t.Errorf("deferred = %q, want %q", p.Deferred, wantDeferred)
	}
}

func TestEncode_DeleteAndNoVerify(t *testing.T) {
	p := Encode([]byte{0x00}, "app", EncodeOptions{DeleteExisting: true})

	if p.Frames[0] != "AT+del \"app\"\r" {
		t.Errorf("first frame = %q, want delete", p.Frames[0])
	}
	if p.Frames[1] != "AT+fow \"app\"\r" {
		t.Errorf("second frame = %q, want open", p.Frames[1])
	}
	if p.Checksum != "" {
		t.Errorf("checksum should be empty without verify, got %q", p.Checksum)
	}
	if len(p.Deferred) != 2 || p.Deferred[0] != CmdCloseFile || p.Deferred[1] != CmdFiller {
		t.Errorf("deferred = %q, want close + filler", p.Deferred)
	}
}

func TestEncode_HexRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 27, 28, 29, 56, 57, 1000}

	for _, n := range sizes {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(255 - i%256)
		}

		p := Encode(data, "f", EncodeOptions{})

		var hexText strings.Builder
		writes := 0
		for _, f := range p.Frames {
			if !strings.HasPrefix(f, "AT+fwrh \"") {
				continue
			}
			writes++
			payload := strings.TrimSuffix(strings.TrimPrefix(f, "AT+fwrh \""), "\"\r")
			if len(payload) > HexChunkSize {
				t.Errorf("size %d: frame carries %d hex chars", n, len(payload))
			}
			if payload != strings.ToUpper(payload) {
				t.Errorf("size %d: frame %q is not uppercase", n, payload)
			}
			hexText.WriteString(payload)
		}

		wantWrites := (n + HexChunkSize/2 - 1) / (HexChunkSize / 2)
		if writes != wantWrites {
			t.Errorf("size %d: %d write frames, want %d", n, writes, wantWrites)
		}

		decoded, err := hex.DecodeString(strings.ToLower(hexText.String()))
		if err != nil {
			t.Fatalf("size %d: decode: %v", n, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Errorf("size %d: round trip mismatch", n)
		}
	}
}

func TestPayload_PrimaryAndWireSize(t *testing.T) {
	p := Encode([]byte{1, 2, 3}, "x", EncodeOptions{Verify: true})

	primary := string(p.Primary())
	if primary != "AT+fow \"x\"\rAT+fwrh \"010203\"\r" {
		t.Errorf("Primary() = %q", primary)
	}

	want := len(primary) + len(CmdCloseFile) + len(CmdFileCRC) + len(CmdDirectory)
	if p.WireSize() != want {
		t.Errorf("WireSize() = %d, want %d", p.WireSize(), want)
	}
}

func TestTargetName(t *testing.T) {
	tests := map[string]string{
		"app.sb":                     "app",
		"/home/me/foo.bar.uwc":       "foo",
		`C:\apps\upass.sb`:           "upass",
		"http://example.com/x/y.txt": "y",
		"noext":                      "noext",
	}
	for in, want := range tests {
		if got := TargetName(in); got != want {
			t.Errorf("TargetName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsSourceFile(t *testing.T) {
	if !IsSourceFile("a.sb") || !IsSourceFile("B.TXT") {
		t.Error("expected .sb and .txt to be source files")
	}
	if IsSourceFile("a.uwc") || IsSourceFile("sb") {
		t.Error("unexpected source file match")
	}
}

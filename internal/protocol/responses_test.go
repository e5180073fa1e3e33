package protocol

import "testing"

func TestMatchers(t *testing.T) {
	buf := []byte("\n10\t0\tBL652\r\n00\r" +
		"\n10\t3\t28.10.4.0\r\n00\r" +
		"\n10\t6\t98304,61440,512\r\n00\r" +
		"\n10\t13\tAB12 CD34\r\n00\r")

	if name, ok := MatchDeviceName(buf); !ok || name != "BL652" {
		t.Errorf("MatchDeviceName = %q, %v", name, ok)
	}
	if fw, ok := MatchFirmware(buf); !ok || fw != "28.10.4.0" {
		t.Errorf("MatchFirmware = %q, %v", fw, ok)
	}
	fs, ok := MatchFreeSpace(buf)
	if !ok {
		t.Fatal("MatchFreeSpace did not match")
	}
	if fs.Total != 98304 || fs.Free != 61440 || fs.Deleted != 512 {
		t.Errorf("MatchFreeSpace = %+v", fs)
	}
	if fs.Percent() != 62 {
		t.Errorf("Percent() = %d, want 62", fs.Percent())
	}
	h, ok := MatchXCompilerHashes(buf)
	if !ok || h.A != "AB12" || h.B != "CD34" {
		t.Errorf("MatchXCompilerHashes = %+v, %v", h, ok)
	}
	if _, ok := MatchError(buf); ok {
		t.Error("MatchError matched a clean buffer")
	}
}

func TestMatchers_SplitAcrossNotifications(t *testing.T) {
	var acc Accumulator
	acc.Append([]byte("\n10\t0\tBL6"))
	if _, ok := MatchDeviceName(acc.Bytes()); ok {
		t.Fatal("matched a partial reply")
	}
	acc.Append([]byte("52\r\n00\r"))
	if name, ok := MatchDeviceName(acc.Bytes()); !ok || name != "BL652" {
		t.Errorf("MatchDeviceName = %q, %v", name, ok)
	}
}

func TestMatchError(t *testing.T) {
	tests := []struct {
		in    string
		ok    bool
		raw   string
		value uint32
	}{
		{"\n01\t0B\r", true, "0B", 0x0B},
		{"junk\n01\te032\r\n", true, "e032", 0xE032},
		{"\n01\t\r", false, "", 0},
		{"01\t0B\r", false, "", 0},
	}
	for _, tt := range tests {
		code, ok := MatchError([]byte(tt.in))
		if ok != tt.ok || code.Raw != tt.raw || code.Value != tt.value {
			t.Errorf("MatchError(%q) = %+v, %v", tt.in, code, ok)
		}
	}
}

func TestMatchFileCRC(t *testing.T) {
	crc, ok := MatchFileCRC([]byte("\n10\t49452\t8D09\r\n00\r"))
	if !ok || crc != "8D09" {
		t.Errorf("MatchFileCRC = %q, %v", crc, ok)
	}
	if _, ok := MatchFileCRC([]byte("\n10\t49452\t8D0\r\n")); ok {
		t.Error("matched a 3 digit CRC")
	}
}

func TestHasInfoReply(t *testing.T) {
	if HasInfoReply([]byte("\n10\t13\tAB12 CD34\r"), InfoXCompiler) {
		t.Error("reply without success marker reported complete")
	}
	if !HasInfoReply([]byte("\n10\t13\tAB12 CD34\r\n00\r"), InfoXCompiler) {
		t.Error("terminated reply not detected")
	}
	if HasInfoReply([]byte("\n10\t13\tAB12 CD34\r\n00\r"), InfoFirmware) {
		t.Error("\\t13\\t must not satisfy \\t3\\t")
	}
}

func TestDirectoryListing(t *testing.T) {
	listing := []byte("\n06\tapp\r\n06\t$autorun$\r\n00\r")
	if !HasDirectoryListing(listing) {
		t.Error("listing not detected")
	}
	if !ListsFile(listing, "app") {
		t.Error("app not found in listing")
	}
	if ListsFile(listing, "ap") {
		t.Error("prefix matched as a file")
	}
	if HasDirectoryListing([]byte("\n06\tapp\r")) {
		t.Error("unterminated listing reported complete")
	}
}

func TestHasWriteConfirmation(t *testing.T) {
	if !HasWriteConfirmation([]byte("\n00\r\n10\t1\t0\r\n00\r")) {
		t.Error("filler reply not detected")
	}
}

func TestAccumulator_ConsumeSuccess(t *testing.T) {
	var acc Accumulator
	acc.Append([]byte("a\n00\rb\n00\rc"))

	if !acc.ConsumeSuccess() {
		t.Fatal("ConsumeSuccess() = false")
	}
	if string(acc.Bytes()) != "ab\n00\rc" {
		t.Errorf("after first consume: %q", acc.Bytes())
	}
	acc.ConsumeSuccess()
	if acc.ConsumeSuccess() {
		t.Error("consumed a marker that is not there")
	}
	if string(acc.Bytes()) != "abc" {
		t.Errorf("after second consume: %q", acc.Bytes())
	}
}

func TestAccumulator_StripSuccess(t *testing.T) {
	var acc Accumulator
	acc.Append([]byte("\n00\r\n00\rx\n00\r"))
	acc.StripSuccess()
	if string(acc.Bytes()) != "x" {
		t.Errorf("StripSuccess left %q", acc.Bytes())
	}
	acc.Reset()
	if acc.Len() != 0 {
		t.Error("Reset() kept data")
	}
}

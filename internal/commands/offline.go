package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/vitaminmoo/vsp-ota/internal/protocol"
	"github.com/vitaminmoo/vsp-ota/internal/xcompile"
)

// Checksum prints the CRC the module would report for a file once written.
func Checksum(env *Env, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	fmt.Fprintf(env.Out, "%s  %s (%s, target %q)\n",
		protocol.ChecksumHex(data), path, humanize.Bytes(uint64(len(data))), protocol.TargetName(path))
	return nil
}

// ErrCode looks up a module error code, given in hex (with or without 0x)
// as the module prints it, or in decimal with a "d" suffix.
func ErrCode(env *Env, code string) error {
	value, err := parseErrCode(code)
	if err != nil {
		return err
	}
	t := env.ErrorTable()
	fmt.Fprintf(env.Out, "0x%04X: %s\n", value, t.Lookup(value))
	return nil
}

func parseErrCode(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	var n uint64
	var err error
	if dec, ok := strings.CutSuffix(s, "d"); ok {
		n, err = strconv.ParseUint(dec, 10, 32)
	} else {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
		n, err = strconv.ParseUint(s, 16, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid error code %q", s)
	}
	return uint32(n), nil
}

// Firmware asks the online service whether a firmware version is current.
func Firmware(ctx context.Context, env *Env, device, version string) error {
	status, err := env.Compiler().CheckLatestFirmware(ctx, device, version)
	if err != nil {
		return fmt.Errorf("firmware version check failed: %w", err)
	}
	fmt.Fprintln(env.Out, describeFirmware(device, version, status))
	return nil
}

func describeFirmware(device, version string, status xcompile.FirmwareStatus) string {
	switch status.State {
	case xcompile.FirmwareOutdated:
		return fmt.Sprintf("%s firmware %s is outdated, the latest firmware is: %s", device, version, status.Latest)
	case xcompile.FirmwareCurrent:
		return fmt.Sprintf("%s firmware %s is up-to-date", device, version)
	case xcompile.FirmwareTest:
		return fmt.Sprintf("%s firmware %s is an engineering/test firmware", device, version)
	}
	return "Firmware/device unsupported, latest firmware not known."
}

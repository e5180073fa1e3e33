package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vitaminmoo/vsp-ota/internal/config"
	"github.com/vitaminmoo/vsp-ota/internal/ota"

	"tinygo.org/x/bluetooth"
)

// ErrNotFound is returned when no advertising module matched the filter.
var ErrNotFound = errors.New("module not found")

// Filter selects the module to connect to. Empty fields match anything.
type Filter struct {
	Name    string // case-insensitive substring of the advertised name
	Address string // exact address, case-insensitive

	// Service, when set, requires the module to advertise this UUID.
	Service string

	Timeout time.Duration
}

func (f Filter) matches(name, address string, advertises func(bluetooth.UUID) bool) bool {
	if f.Address != "" && !strings.EqualFold(f.Address, address) {
		return false
	}
	if f.Name != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(f.Name)) {
		return false
	}
	if f.Service != "" {
		uuid, err := bluetooth.ParseUUID(f.Service)
		if err != nil || !advertises(uuid) {
			return false
		}
	}
	return f.Name != "" || f.Address != "" || f.Service != "" || name != ""
}

// Enable powers up the default adapter.
func Enable() (*bluetooth.Adapter, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable Bluetooth: %w", err)
	}
	return adapter, nil
}

// Scan returns the first advertisement matching f.
func Scan(ctx context.Context, adapter *bluetooth.Adapter, f Filter) (bluetooth.ScanResult, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	var found bluetooth.ScanResult
	var ok bool

	stop := context.AfterFunc(ctx, func() { adapter.StopScan() })
	defer stop()
	timer := time.AfterFunc(timeout, func() { adapter.StopScan() })
	defer timer.Stop()

	err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		address := result.Address.String()
		if name != "" {
			config.Debugf("  Found: '%s' (%s) rssi %d", name, address, result.RSSI)
		}
		if ok || !f.matches(name, address, result.AdvertisementPayload.HasServiceUUID) {
			return
		}
		found = result
		ok = true
		adapter.StopScan()
	})
	if err != nil {
		return bluetooth.ScanResult{}, fmt.Errorf("scan error: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return bluetooth.ScanResult{}, err
	}
	if !ok {
		return bluetooth.ScanResult{}, ErrNotFound
	}
	return found, nil
}

// Connect scans for a module matching f and connects to it. Connection
// progress and loss are posted to the machine; the returned device is not
// yet set up for VSP, see Open.
func Connect(ctx context.Context, f Filter, post func(ota.Event)) (bluetooth.Device, error) {
	adapter, err := Enable()
	if err != nil {
		return bluetooth.Device{}, err
	}

	post(ota.LinkProgress{Phase: ota.Connecting})
	config.Log.Info("Scanning for module...")
	result, err := Scan(ctx, adapter, f)
	if err != nil {
		post(ota.Disconnected{Err: err})
		return bluetooth.Device{}, err
	}

	address := result.Address.String()
	adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if !connected {
			config.Debugf("Link to %s lost", device.Address.String())
			post(ota.Disconnected{})
		}
	})

	config.Log.WithField("address", address).Infof("Connecting to %s...", result.LocalName())
	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		post(ota.Disconnected{Err: err})
		return bluetooth.Device{}, fmt.Errorf("failed to connect: %w", err)
	}
	return device, nil
}

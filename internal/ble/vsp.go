package ble

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vitaminmoo/vsp-ota/internal/config"
	"github.com/vitaminmoo/vsp-ota/internal/ota"
	"github.com/vitaminmoo/vsp-ota/internal/settings"
	"github.com/vitaminmoo/vsp-ota/internal/util"

	"tinygo.org/x/bluetooth"
)

// ErrClosed is returned by writes after Disconnect.
var ErrClosed = errors.New("vsp link closed")

// Profile names the VSP service and its characteristics.
type Profile struct {
	Service  string
	Tx       string // module to client, notify
	Rx       string // client to module, write
	ModemOut string // module flow control, notify
	ModemIn  string
}

// ProfileFromSettings derives the characteristic UUIDs from the service UUID
// and the configured offsets.
func ProfileFromSettings(s *settings.Store) Profile {
	return Profile{
		Service:  strings.ToLower(s.GetString(settings.KeyUUID)),
		Tx:       s.CharacteristicUUID(settings.KeyTxChar),
		Rx:       s.CharacteristicUUID(settings.KeyRxChar),
		ModemOut: s.CharacteristicUUID(settings.KeyMoChar),
		ModemIn:  s.CharacteristicUUID(settings.KeyMiChar),
	}
}

// Link is a VSP connection to a module. It implements ota.Transport.
type Link struct {
	device bluetooth.Device
	tx     *bluetooth.DeviceCharacteristic
	rx     *bluetooth.DeviceCharacteristic
	mo     *bluetooth.DeviceCharacteristic
	mi     *bluetooth.DeviceCharacteristic
	post   func(ota.Event)

	mu     sync.Mutex
	closed bool
	acks   chan int
	done   chan struct{}
}

// Open discovers the VSP service on device, subscribes to module output and
// hands the link to the machine with a Connected event.
func Open(device bluetooth.Device, p Profile, post func(ota.Event)) (*Link, error) {
	post(ota.LinkProgress{Phase: ota.Discovering})
	config.Debugf("Discovering services...")

	services, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	var vsp *bluetooth.DeviceService
	for i := range services {
		uuidStr := services[i].UUID().String()
		if strings.EqualFold(uuidStr, p.Service) {
			vsp = &services[i]
			config.Debugf("Found VSP service: %s", uuidStr)
			break
		}
	}
	if vsp == nil {
		return nil, fmt.Errorf("VSP service %s not found, check the UUID setting", p.Service)
	}

	chars, err := vsp.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", err)
	}

	l := &Link{
		device: device,
		post:   post,
		acks:   make(chan int, writeBacklog),
		done:   make(chan struct{}),
	}
	for i := range chars {
		uuidStr := chars[i].UUID().String()
		config.Debugf("Found characteristic: %s", uuidStr)
		switch {
		case strings.EqualFold(uuidStr, p.Tx):
			l.tx = &chars[i]
		case strings.EqualFold(uuidStr, p.Rx):
			l.rx = &chars[i]
		case strings.EqualFold(uuidStr, p.ModemOut):
			l.mo = &chars[i]
		case strings.EqualFold(uuidStr, p.ModemIn):
			l.mi = &chars[i]
		}
	}
	if l.tx == nil {
		return nil, fmt.Errorf("TX characteristic %s not found", p.Tx)
	}
	if l.rx == nil {
		return nil, fmt.Errorf("RX characteristic %s not found", p.Rx)
	}

	err = l.tx.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		config.Debugf("<- %s", util.Traffic(data))
		post(ota.DataReceived{Data: data})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enable TX notifications: %w", err)
	}

	if l.mo != nil {
		err = l.mo.EnableNotifications(func(buf []byte) {
			goAhead, ok := modemSignal(buf)
			if !ok {
				return
			}
			config.Debugf("Modem out: %02x", buf[0])
			post(ota.FlowSignal{Go: goAhead})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable modem notifications: %w", err)
		}
	}

	go l.deliver()
	post(ota.Connected{Link: l})
	return l, nil
}

// modemSignal decodes a modem out notification. Values other than go and
// stop are ignored.
func modemSignal(buf []byte) (goAhead, ok bool) {
	if len(buf) == 0 {
		return false, false
	}
	switch buf[0] {
	case ModemGo:
		return true, true
	case ModemStop:
		return false, true
	}
	return false, false
}

// HasModem reports whether the module offers hardware flow control.
func (l *Link) HasModem() bool {
	return l.mo != nil
}

// Address returns the module address.
func (l *Link) Address() string {
	return l.device.Address.String()
}

// Write sends p to the module. Completion is posted as a WriteComplete event.
func (l *Link) Write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	config.Debugf("-> %s", util.Traffic(p))
	n, err := l.rx.WriteWithoutResponse(p)
	if err != nil {
		return err
	}
	l.acks <- n
	return nil
}

// deliver posts write completions in order, off the caller's goroutine so
// the event loop never waits on itself.
func (l *Link) deliver() {
	for {
		select {
		case n := <-l.acks:
			l.post(ota.WriteComplete{N: n})
		case <-l.done:
			return
		}
	}
}

// Disconnect drops the connection. The adapter's connect handler reports the
// loss to the machine.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()
	return l.device.Disconnect()
}

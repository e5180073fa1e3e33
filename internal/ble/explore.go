package ble

import (
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"
)

// Characteristic describes one discovered characteristic.
type Characteristic struct {
	UUID  string
	Role  string // VSP role, empty for others
	Value []byte // read value, nil when unreadable
}

// Service describes one discovered service.
type Service struct {
	UUID            string
	VSP             bool
	Characteristics []Characteristic
}

// Explore lists all services and characteristics, labelling the VSP ones.
// This is safe and doesn't write anything.
func Explore(device bluetooth.Device, p Profile) ([]Service, error) {
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	roles := map[string]string{
		strings.ToLower(p.Tx):       "TX (notify)",
		strings.ToLower(p.Rx):       "RX (write)",
		strings.ToLower(p.ModemOut): "modem out",
		strings.ToLower(p.ModemIn):  "modem in",
	}

	out := make([]Service, 0, len(services))
	for _, svc := range services {
		s := Service{
			UUID: svc.UUID().String(),
			VSP:  strings.EqualFold(svc.UUID().String(), p.Service),
		}

		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", s.UUID, err)
		}
		for _, char := range chars {
			c := Characteristic{UUID: char.UUID().String()}
			if s.VSP {
				c.Role = roles[strings.ToLower(c.UUID)]
			}

			// Try to read (safe operation)
			buf := make([]byte, 256)
			if n, err := char.Read(buf); err == nil && n > 0 {
				c.Value = buf[:n]
			}
			s.Characteristics = append(s.Characteristics, c)
		}
		out = append(out, s)
	}
	return out, nil
}

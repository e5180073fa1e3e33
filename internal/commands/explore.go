package commands

import (
	"context"
	"fmt"

	"github.com/vitaminmoo/vsp-ota/internal/ble"
	"github.com/vitaminmoo/vsp-ota/internal/ota"
	"github.com/vitaminmoo/vsp-ota/internal/settings"
	"github.com/vitaminmoo/vsp-ota/internal/util"
)

// Explore lists all BLE services and characteristics of a module, marking
// the VSP ones. This is safe and doesn't write anything.
func Explore(ctx context.Context, env *Env, lo LinkOptions) error {
	profile := ble.ProfileFromSettings(env.Settings)
	filter := ble.Filter{Name: lo.Name, Address: lo.Address, Timeout: lo.ScanTimeout}
	if env.Settings.GetBool(settings.KeyRestrictUUID) {
		filter.Service = profile.Service
	}

	device, err := ble.Connect(ctx, filter, func(ota.Event) {})
	if err != nil {
		return err
	}
	defer device.Disconnect()

	services, err := ble.Explore(device, profile)
	if err != nil {
		return err
	}

	out := env.Out
	fmt.Fprintf(out, "Found %d services:\n", len(services))
	for _, svc := range services {
		label := ""
		if svc.VSP {
			label = " (VSP)"
		}
		fmt.Fprintf(out, "\nService: %s%s\n", svc.UUID, label)
		for _, c := range svc.Characteristics {
			role := ""
			if c.Role != "" {
				role = " [" + c.Role + "]"
			}
			fmt.Fprintf(out, "  Characteristic: %s%s\n", c.UUID, role)
			if c.Value != nil {
				fmt.Fprintf(out, "    Value (%d bytes): %s\n", len(c.Value), util.Printable(c.Value))
			}
		}
	}
	return nil
}

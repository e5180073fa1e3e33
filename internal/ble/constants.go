package ble

import "time"

const (
	// DefaultScanTimeout bounds how long Connect looks for a module.
	DefaultScanTimeout = 10 * time.Second

	// Modem out values. ModemStop holds writes until ModemGo arrives.
	ModemGo   byte = 0x01
	ModemStop byte = 0x00

	// writeBacklog is the number of write completions that may wait for the
	// event loop. The machine keeps one chunk in flight so this never fills.
	writeBacklog = 8
)

package link

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/vitaminmoo/vsp-ota/internal/ota"
)

// DefaultBaudRate is the module UART default.
const DefaultBaudRate = 115200

// OpenSerial opens a module UART, 8N1.
func OpenSerial(portName string, baudRate int, post func(ota.Event)) (*Stream, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	post(ota.LinkProgress{Phase: ota.Connecting})
	port, err := serial.Open(portName, mode)
	if err != nil {
		post(ota.Disconnected{Err: err})
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return NewStream(port, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), post), nil
}

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

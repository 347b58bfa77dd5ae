package serialmux

import (
	"io"

	"go.bug.st/serial"
)

// SerialPorter is the minimal port surface SerialMux needs. go.bug.st/serial
// ports, the simulator and test doubles all satisfy it.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// NewRealSerialMux opens the bridge's serial device at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return NewSerialMux[serial.Port](port), nil
}

// ListPorts returns the serial devices present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

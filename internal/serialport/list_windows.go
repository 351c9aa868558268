//go:build windows

package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

// ListCandidatePorts returns the COM ports known to the OS. Patterns are
// not used on Windows.
func (l Lister) ListCandidatePorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// Package serialport finds and opens the serial devices boards sit behind.
package serialport

import (
	"fmt"
	"time"

	"thermoboard-agent/internal/board"

	"go.bug.st/serial"
)

// DefaultPatterns matches USB serial adapters and CDC-ACM boards.
var DefaultPatterns = []string{"/dev/tty[UA][A-Za-z]*"}

const (
	DefaultBaudRate = 9600
	// DefaultPollInterval is how long a single Read waits for data before
	// returning empty, which lets line reads notice timeouts and cancellation.
	DefaultPollInterval = 100 * time.Millisecond
)

// Lister enumerates candidate serial ports. On Windows it asks the OS; on
// other platforms it globs device files with Patterns.
type Lister struct {
	Patterns []string
}

func NewLister(patterns []string) Lister {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return Lister{Patterns: patterns}
}

// Opener opens ports at a fixed line configuration (8N1).
type Opener struct {
	mode         *serial.Mode
	pollInterval time.Duration
}

func NewOpener(baudRate int, pollInterval time.Duration) Opener {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return Opener{
		mode: &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		pollInterval: pollInterval,
	}
}

func (o Opener) Open(name string) (board.Port, error) {
	p, err := serial.Open(name, o.mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(o.pollInterval); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return p, nil
}

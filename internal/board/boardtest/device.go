// Package boardtest provides an in-memory board firmware for tests.
package boardtest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"thermoboard-agent/internal/board"
)

var ErrPortClosed = errors.New("port closed")

// readPoll mimics the serial driver's read timeout.
const readPoll = 2 * time.Millisecond

// Device emulates the firmware: it greets with the pin count, enables and
// disables pins on c<i>/d<i>, and answers m with the raw values of the
// enabled pins in pin order.
type Device struct {
	mu       sync.Mutex
	rx       []byte
	enabled  []bool
	values   []int
	commands []string
	closed   bool

	// Reply, when set, replaces the built-in answer to m. Returning false
	// sends nothing.
	Reply func(cmd string) (string, bool)
}

// NewDevice returns a device with pins inputs that has already sent its
// handshake line.
func NewDevice(pins int) *Device {
	return NewDeviceWithGreeting(pins, strconv.Itoa(pins))
}

// NewDeviceWithGreeting lets a test send an arbitrary handshake line.
func NewDeviceWithGreeting(pins int, greeting string) *Device {
	d := &Device{
		enabled: make([]bool, pins),
		values:  make([]int, pins),
	}
	d.rx = append(d.rx, greeting+"\r\n"...)
	return d
}

// SetValue sets the raw ADC value reported for pin.
func (d *Device) SetValue(pin, v int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[pin] = v
}

// Send queues raw bytes for the host to read.
func (d *Device) Send(data string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rx = append(d.rx, data...)
}

// Commands returns every command written by the host, in order.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.commands))
	copy(out, d.commands)
	return out
}

// Enabled reports whether the host has enabled sampling on pin.
func (d *Device) Enabled(pin int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled[pin]
}

func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) Read(p []byte) (int, error) {
	deadline := time.Now().Add(readPoll)
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return 0, ErrPortClosed
		}
		if len(d.rx) > 0 {
			n := copy(p, d.rx)
			d.rx = d.rx[n:]
			d.mu.Unlock()
			return n, nil
		}
		d.mu.Unlock()
		if time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(200 * time.Microsecond)
	}
}

func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrPortClosed
	}
	cmd := string(p)
	d.commands = append(d.commands, cmd)

	switch {
	case cmd == board.CmdMeasure:
		if d.Reply != nil {
			if line, ok := d.Reply(cmd); ok {
				d.rx = append(d.rx, line+"\r\n"...)
			}
			return len(p), nil
		}
		var vals []string
		for pin, on := range d.enabled {
			if on {
				vals = append(vals, strconv.Itoa(d.values[pin]))
			}
		}
		d.rx = append(d.rx, strings.Join(vals, " ")+"\r\n"...)
	case strings.HasPrefix(cmd, board.CmdConnect), strings.HasPrefix(cmd, board.CmdDisconnect):
		pin, err := strconv.Atoi(cmd[1:])
		if err != nil || pin < 0 || pin >= len(d.enabled) {
			return len(p), nil
		}
		d.enabled[pin] = strings.HasPrefix(cmd, board.CmdConnect)
	}
	return len(p), nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Ports is a fixed set of named devices. It satisfies the registry's
// lister and opener interfaces.
type Ports struct {
	mu      sync.Mutex
	names   []string
	devices map[string]*Device
	fail    map[string]error
	opened  []string
}

func NewPorts() *Ports {
	return &Ports{devices: map[string]*Device{}, fail: map[string]error{}}
}

// Add registers a device under name.
func (p *Ports) Add(name string, d *Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
	p.devices[name] = d
}

// AddBroken registers a port that fails to open with err.
func (p *Ports) AddBroken(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
	p.fail[name] = err
}

// Replace swaps the device behind name, as if it had been re-plugged.
func (p *Ports) Replace(name string, d *Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices[name] = d
}

func (p *Ports) Device(name string) *Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devices[name]
}

func (p *Ports) Opened() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.opened))
	copy(out, p.opened)
	return out
}

func (p *Ports) ListCandidatePorts() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out, nil
}

func (p *Ports) Open(name string) (board.Port, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.fail[name]; ok {
		return nil, err
	}
	d, ok := p.devices[name]
	if !ok {
		return nil, fmt.Errorf("open %s: no such device", name)
	}
	p.opened = append(p.opened, name)
	return d, nil
}

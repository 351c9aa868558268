package board

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"thermoboard-agent/internal/sensor"

	"github.com/rs/zerolog"
)

// Commands understood by the board firmware. Sent without a terminator.
const (
	CmdMeasure    = "m"
	CmdConnect    = "c"
	CmdDisconnect = "d"
)

// Port is the serial connection a board talks over.
// Read may return (0, nil) when its own poll timeout elapses without data.
type Port interface {
	io.ReadWriteCloser
}

// State is the lifecycle state of a board.
type State int

const (
	StateInitializing State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "closed"
	}
}

func (s State) MarshalJSON() ([]byte, error) { return []byte(`"` + s.String() + `"`), nil }

func (s *State) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"initializing"`:
		*s = StateInitializing
	case `"ready"`:
		*s = StateReady
	case `"closed"`:
		*s = StateClosed
	default:
		return fmt.Errorf("unknown board state %s", b)
	}
	return nil
}

// Options controls protocol timing. A zero timeout means wait until the
// context is done.
type Options struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	Logger           zerolog.Logger
}

// Board is one serial-connected device and the sensors on its input pins.
// All protocol exchanges on a board are serialised by its mutex.
type Board struct {
	mu       sync.Mutex
	name     string
	portName string
	port     Port
	state    State
	sensors  []*sensor.Sensor
	pending  []byte
	opts     Options
	log      zerolog.Logger
}

// New performs the handshake on an already opened port: it reads the pin
// count line and creates one sensor per pin. index is the board's position
// in its registry and becomes the sensors' back-reference.
// The port is not closed on failure.
func New(ctx context.Context, index int, name, portName string, port Port, opts Options) (*Board, error) {
	b := &Board{
		name:     name,
		portName: portName,
		port:     port,
		state:    StateInitializing,
		opts:     opts,
		log:      opts.Logger.With().Str("board", name).Str("port", portName).Logger(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	line, err := b.readLine(ctx, opts.HandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: handshake: %w", name, err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || count < 0 {
		return nil, &ProtocolError{Board: name, Op: "handshake", Line: line, Reason: "pin count is not a non-negative integer"}
	}

	b.sensors = make([]*sensor.Sensor, 0, count)
	for pin := 0; pin < count; pin++ {
		b.sensors = append(b.sensors, sensor.New(index, name, pin))
	}
	b.state = StateReady
	b.log.Debug().Int("pins", count).Msg("board ready")
	return b, nil
}

func (b *Board) Name() string     { return b.name }
func (b *Board) PortName() string { return b.portName }

func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Sensors returns the board's sensors in pin order.
func (b *Board) Sensors() []*sensor.Sensor {
	out := make([]*sensor.Sensor, len(b.sensors))
	copy(out, b.sensors)
	return out
}

// ConnectedSensors returns the connected sensors in pin order. This is the
// order the device reports values in.
func (b *Board) ConnectedSensors() []*sensor.Sensor {
	var out []*sensor.Sensor
	for _, s := range b.sensors {
		if s.Connected() {
			out = append(out, s)
		}
	}
	return out
}

func (b *Board) SensorCount() int { return len(b.sensors) }

// Sensor returns the sensor on pin, if the board has one.
func (b *Board) Sensor(pin int) (*sensor.Sensor, bool) {
	if pin < 0 || pin >= len(b.sensors) {
		return nil, false
	}
	return b.sensors[pin], true
}

// ConnectPin tells the device to start sampling pin and marks the sensor
// connected. It does nothing if the sensor is already connected.
func (b *Board) ConnectPin(pin int) (bool, error) {
	return b.setPin(pin, true)
}

// DisconnectPin tells the device to stop sampling pin and marks the sensor
// disconnected. It does nothing if the sensor is not connected.
func (b *Board) DisconnectPin(pin int) (bool, error) {
	return b.setPin(pin, false)
}

func (b *Board) setPin(pin int, connect bool) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateReady {
		return false, fmt.Errorf("%s: %w", b.name, ErrClosed)
	}
	s, ok := b.Sensor(pin)
	if !ok {
		return false, fmt.Errorf("%s: pin %d: %w", b.name, pin, ErrUnknownPin)
	}
	if s.Connected() == connect {
		return false, nil
	}

	cmd := CmdDisconnect
	if connect {
		cmd = CmdConnect
	}
	if err := b.write(cmd + strconv.Itoa(pin)); err != nil {
		return false, err
	}
	if connect {
		s.Connect()
	} else {
		s.Disconnect()
	}
	b.log.Debug().Int("pin", pin).Bool("connected", connect).Msg("pin state changed")
	return true, nil
}

// Measure requests one reading for every connected sensor and stores the
// converted temperatures. A reply whose token count differs from the number
// of connected sensors is a *ProtocolError and nothing is stored.
func (b *Board) Measure(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateReady {
		return fmt.Errorf("%s: %w", b.name, ErrClosed)
	}

	connected := b.ConnectedSensors()
	if err := b.discardInput(); err != nil {
		return fmt.Errorf("%s: measure: %w", b.name, err)
	}
	if err := b.write(CmdMeasure); err != nil {
		return err
	}
	line, err := b.readLine(ctx, b.opts.ReadTimeout)
	if err != nil {
		if len(connected) == 0 && errors.Is(err, ErrTimeout) {
			return nil
		}
		return fmt.Errorf("%s: measure: %w", b.name, err)
	}

	tokens := splitTokens(line)
	if len(tokens) != len(connected) {
		return &ProtocolError{
			Board:  b.name,
			Op:     "measure",
			Line:   line,
			Reason: fmt.Sprintf("got %d values for %d connected sensors", len(tokens), len(connected)),
		}
	}

	values := make([]int, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.Atoi(tok)
		if err != nil {
			return &ProtocolError{Board: b.name, Op: "measure", Line: line, Reason: fmt.Sprintf("value %d is not an integer", i)}
		}
		values[i] = v
	}
	for i, s := range connected {
		s.SetValue(PinValueToTemperature(values[i]))
	}
	return nil
}

// Close closes the serial connection. Closing twice is a no-op.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return nil
	}
	b.state = StateClosed
	if err := b.port.Close(); err != nil {
		return fmt.Errorf("%s: close: %w", b.name, err)
	}
	return nil
}

func (b *Board) write(data string) error {
	if _, err := b.port.Write([]byte(data)); err != nil {
		return fmt.Errorf("%s: write %q: %w", b.name, data, err)
	}
	return nil
}

// maxDiscardReads bounds discardInput against a device that never stops
// talking.
const maxDiscardReads = 64

// discardInput drops buffered bytes and whatever the port already holds,
// so a reply that arrived after an earlier timeout is not taken as the
// answer to the next command.
func (b *Board) discardInput() error {
	if len(b.pending) > 0 {
		b.log.Debug().Int("bytes", len(b.pending)).Msg("discarding stale input")
		b.pending = nil
	}
	buf := make([]byte, 64)
	for i := 0; i < maxDiscardReads; i++ {
		n, err := b.port.Read(buf)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return nil
		}
		b.log.Debug().Int("bytes", n).Msg("discarding stale input")
	}
	return nil
}

// readLine blocks until a newline-terminated line is buffered and returns it
// without trailing CR/LF. Bytes after the newline stay buffered for the next
// call.
func (b *Board) readLine(ctx context.Context, timeout time.Duration) (string, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(b.pending, '\n'); i >= 0 {
			line := string(b.pending[:i])
			b.pending = b.pending[i+1:]
			return strings.TrimRight(line, "\r\n"), nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return "", ErrTimeout
		}

		n, err := b.port.Read(buf)
		if n > 0 {
			b.pending = append(b.pending, buf[:n]...)
		}
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
	}
}

// splitTokens splits a measure reply on single spaces. An empty reply has
// no tokens.
func splitTokens(line string) []string {
	if line == "" {
		return nil
	}
	return strings.Split(line, " ")
}

package sensor

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Sensor is one analog input pin on a board.
// It holds local state only; protocol commands are issued by the owning board.
type Sensor struct {
	board int
	pin   int

	mu        sync.RWMutex
	name      string
	connected bool

	value    float64
	hasValue bool
	readAt   time.Time
}

// New creates a disconnected sensor for pin on the board at index boardIndex.
// The default name is derived from the board name and the pin.
func New(boardIndex int, boardName string, pin int) *Sensor {
	return &Sensor{
		board: boardIndex,
		pin:   pin,
		name:  DefaultName(boardName, pin),
	}
}

// DefaultName returns the name a sensor gets before any rename.
func DefaultName(boardName string, pin int) string {
	return fmt.Sprintf("%s-A%d", boardName, pin)
}

// Board returns the index of the owning board in its registry.
func (s *Sensor) Board() int { return s.board }

// Pin returns the 0-based input pin index.
func (s *Sensor) Pin() int { return s.pin }

func (s *Sensor) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Sensor) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Sensor) Connect() { s.setConnected(true) }

func (s *Sensor) Disconnect() { s.setConnected(false) }

func (s *Sensor) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

// Rename sets the display name. Uniqueness is checked by the caller.
func (s *Sensor) Rename(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// SetValue stores the latest computed temperature.
func (s *Sensor) SetValue(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.hasValue = true
	s.readAt = time.Now()
}

// Value returns the last measured temperature, if any.
func (s *Sensor) Value() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.hasValue
}

// ReadAt returns when the last value was stored. Zero if never measured.
func (s *Sensor) ReadAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readAt
}

// Info is a copy of a sensor's state, safe to hand out of the registry.
type Info struct {
	Name      string    `json:"name"`
	Board     string    `json:"board"`
	Pin       int       `json:"pin"`
	Connected bool      `json:"connected"`
	Value     *float64  `json:"value,omitempty"`
	ReadAt    time.Time `json:"read_at,omitempty"`
	// OutOfRange is set when the last reading converted to a non-finite
	// temperature. Value is nil in that case since JSON cannot carry it.
	OutOfRange bool `json:"out_of_range,omitempty"`
}

// Info snapshots the sensor. boardName is supplied by the caller since the
// sensor only knows its board's index.
func (s *Sensor) Info(boardName string) Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		Name:      s.name,
		Board:     boardName,
		Pin:       s.pin,
		Connected: s.connected,
	}
	if s.hasValue {
		info.ReadAt = s.readAt
		if math.IsInf(s.value, 0) || math.IsNaN(s.value) {
			info.OutOfRange = true
		} else {
			v := s.value
			info.Value = &v
		}
	}
	return info
}

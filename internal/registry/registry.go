// Package registry keeps the boards found by the last scan and routes
// sensor operations to the board that owns each sensor.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"thermoboard-agent/internal/board"
	"thermoboard-agent/internal/logger"
	"thermoboard-agent/internal/sensor"
	"thermoboard-agent/internal/settings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrDuplicateName = errors.New("duplicate sensor name")

// Lister enumerates candidate serial ports.
type Lister interface {
	ListCandidatePorts() ([]string, error)
}

// Opener opens a candidate port.
type Opener interface {
	Open(name string) (board.Port, error)
}

// Rejection records a candidate port that did not become a board.
type Rejection struct {
	Port   string `json:"port"`
	Reason string `json:"reason"`
}

// BoardInfo is a snapshot of one board and its sensors.
type BoardInfo struct {
	Name    string        `json:"name"`
	Port    string        `json:"port"`
	State   board.State   `json:"state"`
	Sensors []sensor.Info `json:"sensors"`
}

// Registry owns the discovered boards. Its operations are serialised; each
// board additionally serialises its own I/O.
type Registry struct {
	lister Lister
	opener Opener
	opts   board.Options
	log    zerolog.Logger

	mu         sync.Mutex
	boards     []*board.Board
	rejections []Rejection
	scanID     string
	scannedAt  time.Time
}

func New(lister Lister, opener Opener, opts board.Options, log zerolog.Logger) *Registry {
	return &Registry{
		lister: lister,
		opener: opener,
		opts:   opts,
		log:    logger.Component(log, "registry"),
	}
}

// Scan closes every known board and rebuilds the list from the candidate
// ports. Ports that fail to open or to complete the handshake are skipped
// and recorded as rejections. Boards are named after their position in the
// candidate list.
func (r *Registry) Scan(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
	r.rejections = nil
	r.scanID = uuid.NewString()
	r.scannedAt = time.Now()

	ports, err := r.lister.ListCandidatePorts()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}

	for i, port := range ports {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := fmt.Sprintf("board-%d", i+1)

		p, err := r.opener.Open(port)
		if err != nil {
			r.reject(port, err)
			continue
		}
		b, err := board.New(ctx, len(r.boards), name, port, p, r.opts)
		if err != nil {
			p.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.reject(port, err)
			continue
		}
		r.boards = append(r.boards, b)
		r.log.Info().Str("board", name).Str("port", port).Int("pins", b.SensorCount()).Msg("board discovered")
	}

	r.log.Info().Str("scan_id", r.scanID).Int("boards", len(r.boards)).Int("rejected", len(r.rejections)).Msg("scan complete")
	return nil
}

func (r *Registry) reject(port string, err error) {
	r.rejections = append(r.rejections, Rejection{Port: port, Reason: err.Error()})
	r.log.Debug().Str("port", port).Err(err).Msg("port skipped")
}

// Close closes every board and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *Registry) closeLocked() {
	for _, b := range r.boards {
		if err := b.Close(); err != nil {
			r.log.Warn().Err(err).Str("board", b.Name()).Msg("close failed")
		}
	}
	r.boards = nil
}

// FindSensorByName returns the first sensor named name across all boards.
func (r *Registry) FindSensorByName(name string) (*sensor.Sensor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(name)
}

func (r *Registry) findLocked(name string) (*sensor.Sensor, bool) {
	for _, b := range r.boards {
		for _, s := range b.Sensors() {
			if s.Name() == name {
				return s, true
			}
		}
	}
	return nil, false
}

// ConnectSensor enables the named sensor on its board. Unknown names and
// already connected sensors are left alone and report false.
func (r *Registry) ConnectSensor(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.findLocked(name)
	if !ok {
		return false, nil
	}
	return r.boards[s.Board()].ConnectPin(s.Pin())
}

// DisconnectSensor disables the named sensor on its board. Unknown names and
// sensors that are not connected are left alone and report false.
func (r *Registry) DisconnectSensor(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.findLocked(name)
	if !ok {
		return false, nil
	}
	return r.boards[s.Board()].DisconnectPin(s.Pin())
}

// RenameSensor renames oldName to newName unless oldName is unknown or
// newName is already taken.
func (r *Registry) RenameSensor(oldName, newName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.findLocked(oldName)
	if !ok {
		return false
	}
	if _, taken := r.findLocked(newName); taken {
		return false
	}
	s.Rename(newName)
	return true
}

// MeasureAll measures every board in order. A failing board does not stop
// the others; all failures are returned joined.
func (r *Registry) MeasureAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, b := range r.boards {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := b.Measure(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AllSensors returns every sensor, board by board in pin order.
func (r *Registry) AllSensors() []*sensor.Sensor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*sensor.Sensor
	for _, b := range r.boards {
		out = append(out, b.Sensors()...)
	}
	return out
}

// AllConnectedSensors returns the connected sensors, board by board.
func (r *Registry) AllConnectedSensors() []*sensor.Sensor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*sensor.Sensor
	for _, b := range r.boards {
		out = append(out, b.ConnectedSensors()...)
	}
	return out
}

// Boards returns a snapshot of every board.
func (r *Registry) Boards() []BoardInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]BoardInfo, 0, len(r.boards))
	for _, b := range r.boards {
		info := BoardInfo{Name: b.Name(), Port: b.PortName(), State: b.State()}
		for _, s := range b.Sensors() {
			info.Sensors = append(info.Sensors, s.Info(b.Name()))
		}
		out = append(out, info)
	}
	return out
}

// Sensors returns a snapshot of every sensor, or only the connected ones.
func (r *Registry) Sensors(connectedOnly bool) []sensor.Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []sensor.Info
	for _, b := range r.boards {
		for _, s := range b.Sensors() {
			if connectedOnly && !s.Connected() {
				continue
			}
			out = append(out, s.Info(b.Name()))
		}
	}
	return out
}

// Rejections returns the ports skipped by the last scan.
func (r *Registry) Rejections() []Rejection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Rejection, len(r.rejections))
	copy(out, r.rejections)
	return out
}

// ScanID identifies the last scan; it changes on every Scan.
func (r *Registry) ScanID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanID
}

// ScannedAt is when the last scan started.
func (r *Registry) ScannedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scannedAt
}

// SettingsEntries returns the state to persist, in AllSensors order.
func (r *Registry) SettingsEntries() []settings.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []settings.Entry
	for _, b := range r.boards {
		for _, s := range b.Sensors() {
			out = append(out, settings.Entry{Name: s.Name(), Connected: s.Connected()})
		}
	}
	return out
}

// Restore applies saved entries positionally. Nothing is applied, and false
// is returned, when the entry count differs from the sensor count. Names are
// applied first; connection flags are then driven through the boards so the
// devices sample the restored pins.
func (r *Registry) Restore(entries []settings.Entry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*sensor.Sensor
	for _, b := range r.boards {
		all = append(all, b.Sensors()...)
	}
	if len(entries) != len(all) {
		r.log.Info().Int("saved", len(entries)).Int("discovered", len(all)).Msg("settings do not match discovered sensors, ignoring")
		return false, nil
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Name] {
			return false, fmt.Errorf("restore %q: %w", e.Name, ErrDuplicateName)
		}
		seen[e.Name] = true
	}

	for i, s := range all {
		s.Rename(entries[i].Name)
	}

	var errs []error
	for i, s := range all {
		b := r.boards[s.Board()]
		var err error
		if entries[i].Connected {
			_, err = b.ConnectPin(s.Pin())
		} else {
			_, err = b.DisconnectPin(s.Pin())
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}

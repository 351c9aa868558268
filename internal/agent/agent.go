// Package agent wires the serial registry, the measurement poller, the
// MQTT publisher and the control API into one long-running process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"thermoboard-agent/internal/api"
	"thermoboard-agent/internal/board"
	"thermoboard-agent/internal/config"
	"thermoboard-agent/internal/logger"
	"thermoboard-agent/internal/poller"
	"thermoboard-agent/internal/publish"
	"thermoboard-agent/internal/registry"
	"thermoboard-agent/internal/serialport"
	"thermoboard-agent/internal/settings"

	"github.com/rs/zerolog"
)

// Agent owns the registry and everything that drives it.
type Agent struct {
	config   *config.Config
	log      zerolog.Logger
	registry *registry.Registry
	ctrl     *Controller
	api      *api.Server
	poller   *poller.Poller
	mqtt     *publish.MQTT

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an agent that talks to real serial ports.
func New(cfg *config.Config, log zerolog.Logger) (*Agent, error) {
	return NewWithPorts(cfg,
		serialport.NewLister(cfg.Serial.Patterns),
		serialport.NewOpener(cfg.Serial.BaudRate, cfg.Serial.PollInterval.Std()),
		log)
}

// NewWithPorts creates an agent over the given port lister and opener.
func NewWithPorts(cfg *config.Config, lister registry.Lister, opener registry.Opener, log zerolog.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	reg := registry.New(lister, opener, board.Options{
		HandshakeTimeout: cfg.Serial.HandshakeTimeout.Std(),
		ReadTimeout:      cfg.Serial.ReadTimeout.Std(),
		Logger:           log,
	}, log)

	a := &Agent{
		config:   cfg,
		log:      logger.Component(log, "agent"),
		registry: reg,
	}
	a.ctrl = &Controller{Registry: reg, settingsPath: cfg.Settings.Path, restore: cfg.Settings.Restore, log: a.log}

	var sink poller.Sink
	if cfg.MQTT.Broker != "" {
		a.mqtt = publish.NewMQTT(publish.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Retained:    cfg.MQTT.Retained,
			HostID:      cfg.HostID,
		}, log)
		sink = a.mqtt
	}
	a.poller = poller.New(a.ctrl, sink, cfg.Poll.Interval.Std(), log)
	a.api = api.NewServer(a.ctrl, cfg.API.Listen, log)
	return a, nil
}

// Controller returns the settings-aware view of the registry.
func (a *Agent) Controller() *Controller { return a.ctrl }

// Start scans for boards, restores saved settings and starts polling and
// the control API.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent already running")
	}
	a.running = true
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	if err := a.ctrl.Scan(runCtx); err != nil {
		a.log.Warn().Err(err).Msg("initial scan failed, continuing with no boards")
	}

	if a.mqtt != nil {
		connectCtx, done := context.WithTimeout(runCtx, 10*time.Second)
		if err := a.mqtt.Connect(connectCtx); err != nil {
			a.log.Warn().Err(err).Msg("mqtt not connected yet, retrying in background")
		}
		done()
	}

	if err := a.api.Start(); err != nil {
		a.log.Warn().Err(err).Msg("failed to start api server")
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.poller.Run(runCtx)
	}()

	a.log.Info().Int("boards", len(a.registry.Boards())).Dur("interval", a.config.Poll.Interval.Std()).Msg("agent started")
	return nil
}

// Stop stops polling and the API, saves settings and closes every board.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.cancel()
	a.mu.Unlock()

	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.api.Stop(ctx); err != nil {
		a.log.Warn().Err(err).Msg("api shutdown")
	}

	var errs []error
	if err := a.ctrl.SaveSettings(); err != nil {
		errs = append(errs, err)
	}
	a.registry.Close()
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	return errors.Join(errs...)
}

// Controller wraps the registry so that scans restore saved sensor settings
// and successful changes are written back to the settings file.
type Controller struct {
	*registry.Registry

	settingsPath string
	restore      bool
	log          zerolog.Logger
	saveMu       sync.Mutex
}

// Scan rescans the ports and reapplies saved settings when they match.
func (c *Controller) Scan(ctx context.Context) error {
	if err := c.Registry.Scan(ctx); err != nil {
		return err
	}
	if !c.restore || c.settingsPath == "" {
		return nil
	}

	entries, err := settings.Load(c.settingsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("could not read settings")
		return nil
	}
	applied, err := c.Registry.Restore(entries)
	if err != nil {
		c.log.Warn().Err(err).Msg("settings restore incomplete")
	}
	if applied {
		c.log.Info().Int("sensors", len(entries)).Str("path", c.settingsPath).Msg("settings restored")
	}
	return nil
}

func (c *Controller) ConnectSensor(name string) (bool, error) {
	changed, err := c.Registry.ConnectSensor(name)
	c.saveIf(changed)
	return changed, err
}

func (c *Controller) DisconnectSensor(name string) (bool, error) {
	changed, err := c.Registry.DisconnectSensor(name)
	c.saveIf(changed)
	return changed, err
}

func (c *Controller) RenameSensor(oldName, newName string) bool {
	changed := c.Registry.RenameSensor(oldName, newName)
	c.saveIf(changed)
	return changed
}

func (c *Controller) saveIf(changed bool) {
	if !changed {
		return
	}
	if err := c.SaveSettings(); err != nil {
		c.log.Warn().Err(err).Msg("could not save settings")
	}
}

// SaveSettings writes the current sensor names and connection flags. It
// does nothing without a settings path or when no boards are known, so an
// empty scan never wipes a useful backup.
func (c *Controller) SaveSettings() error {
	if c.settingsPath == "" {
		return nil
	}
	entries := c.Registry.SettingsEntries()
	if len(entries) == 0 {
		return nil
	}

	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	return settings.Save(c.settingsPath, entries)
}

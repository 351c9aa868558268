// Package publish sends sensor readings to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"thermoboard-agent/internal/logger"
	"thermoboard-agent/internal/sensor"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retained    bool
	HostID      string
}

// Reading is the JSON payload of one published measurement.
type Reading struct {
	ID          string    `json:"id"`
	HostID      string    `json:"host_id"`
	Sensor      string    `json:"sensor"`
	Board       string    `json:"board"`
	Pin         int       `json:"pin"`
	Temperature float64   `json:"temperature"`
	Timestamp   time.Time `json:"timestamp"`
}

// MQTT publishes each reading to <prefix>/<host id>/<sensor name>.
type MQTT struct {
	cfg    Config
	client mqtt.Client
	log    zerolog.Logger
}

func NewMQTT(cfg Config, log zerolog.Logger) *MQTT {
	m := &MQTT{cfg: cfg, log: logger.Component(log, "mqtt")}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.log.Warn().Err(err).Msg("mqtt connection lost")
	}
	opts.OnConnect = func(mqtt.Client) {
		m.log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
	}

	m.client = mqtt.NewClient(opts)
	return m
}

func newWithClient(cfg Config, client mqtt.Client, log zerolog.Logger) *MQTT {
	return &MQTT{cfg: cfg, client: client, log: log}
}

// Connect starts the connection. With connect-retry enabled the client keeps
// trying in the background, so a timeout here is not fatal to publishing.
func (m *MQTT) Connect(ctx context.Context) error {
	tok := m.client.Connect()
	if err := wait(ctx, tok); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", m.cfg.Broker, err)
	}
	return nil
}

// Publish sends one message per reading. Readings without a value are
// skipped.
func (m *MQTT) Publish(ctx context.Context, readings []sensor.Info) error {
	var errs []error
	for _, r := range readings {
		if r.Value == nil {
			continue
		}
		payload, err := json.Marshal(Reading{
			ID:          uuid.NewString(),
			HostID:      m.cfg.HostID,
			Sensor:      r.Name,
			Board:       r.Board,
			Pin:         r.Pin,
			Temperature: *r.Value,
			Timestamp:   r.ReadAt,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal %s: %w", r.Name, err))
			continue
		}
		topic := Topic(m.cfg.TopicPrefix, m.cfg.HostID, r.Name)
		if err := wait(ctx, m.client.Publish(topic, m.cfg.QoS, m.cfg.Retained, payload)); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// Close disconnects, giving in-flight messages a short grace period.
func (m *MQTT) Close() {
	if m.client.IsConnected() {
		m.client.Disconnect(500)
	}
}

// Topic builds a publish topic. MQTT wildcard and level characters in the
// parts are replaced so each part stays one topic level.
func Topic(prefix, hostID, sensorName string) string {
	clean := strings.NewReplacer("/", "_", "+", "_", "#", "_")
	return prefix + "/" + clean.Replace(hostID) + "/" + clean.Replace(sensorName)
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"thermoboard-agent/internal/store"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const appID = "thermoboard"

// Duration marshals as a Go duration string ("1s", "250ms"). Plain numbers
// are read as nanoseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", b)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	HostID   string   `json:"host_id"`
	Serial   Serial   `json:"serial"`
	Poll     Poll     `json:"poll"`
	Settings Settings `json:"settings"`
	API      API      `json:"api"`
	MQTT     MQTT     `json:"mqtt"`
	Log      Log      `json:"log"`
}

type Serial struct {
	Patterns         []string `json:"patterns"`
	BaudRate         int      `json:"baud_rate"`
	HandshakeTimeout Duration `json:"handshake_timeout"`
	ReadTimeout      Duration `json:"read_timeout"`
	PollInterval     Duration `json:"poll_interval"`
}

type Poll struct {
	Interval Duration `json:"interval"`
}

// Settings locates the sensor settings backup. An empty path disables it.
type Settings struct {
	Path    string `json:"path"`
	Restore bool   `json:"restore"`
}

type API struct {
	Listen string `json:"listen"`
}

// MQTT configures reading publication. An empty broker disables it.
type MQTT struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
	Retained    bool   `json:"retained"`
}

type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"` // console or json
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Settings: Settings{Restore: true}}
	cfg.applyDefaults()
	return cfg
}

// LoadFromFile reads a JSON configuration from path, applies environment
// overrides and validates the result. An empty path starts from Default.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{Settings: Settings{Restore: true}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// a missing .env is normal
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("THERMOBOARD_API_LISTEN"); v != "" {
		c.API.Listen = v
	}
	if v := os.Getenv("THERMOBOARD_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("THERMOBOARD_MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("THERMOBOARD_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("THERMOBOARD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("THERMOBOARD_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("THERMOBOARD_SETTINGS_PATH"); v != "" {
		c.Settings.Path = v
	}
	if v := os.Getenv("THERMOBOARD_SERIAL_PATTERNS"); v != "" {
		c.Serial.Patterns = strings.Split(v, ",")
	}
	if v := os.Getenv("THERMOBOARD_BAUD_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("THERMOBOARD_BAUD_RATE: %w", err)
		}
		c.Serial.BaudRate = n
	}
	if v := os.Getenv("THERMOBOARD_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("THERMOBOARD_POLL_INTERVAL: %w", err)
		}
		c.Poll.Interval = Duration(d)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Serial.Patterns) == 0 {
		c.Serial.Patterns = []string{"/dev/tty[UA][A-Za-z]*"}
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 9600
	}
	if c.Serial.HandshakeTimeout == 0 {
		c.Serial.HandshakeTimeout = Duration(5 * time.Second)
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = Duration(time.Second)
	}
	if c.Serial.PollInterval == 0 {
		c.Serial.PollInterval = Duration(100 * time.Millisecond)
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = Duration(time.Second)
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:9035"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "thermoboard"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate applies defaults and checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.Serial.BaudRate < 0 {
		return fmt.Errorf("baud rate must be positive")
	}
	if c.Serial.HandshakeTimeout < 0 || c.Serial.ReadTimeout < 0 {
		return fmt.Errorf("serial timeouts must not be negative")
	}
	if c.Poll.Interval < 0 {
		return fmt.Errorf("poll interval must not be negative")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json, got %q", c.Log.Format)
	}

	c.GenerateHostID()
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = appID + "-" + shortID(c.HostID)
	}
	return nil
}

// GenerateHostID sets a stable, anonymous host identifier if none is set.
func (c *Config) GenerateHostID() {
	if c.HostID != "" {
		return
	}

	id, err := machineid.ProtectedID(appID)
	if err != nil {
		log.Warn().Err(err).Msg("could not derive a stable host id, falling back to a random one")
		c.HostID = uuid.NewString()
		return
	}

	hash := sha256.Sum256([]byte(id))
	c.HostID = hex.EncodeToString(hash[:])
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := store.AtomicWrite(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

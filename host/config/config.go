// Package config loads isrlink-host settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"isrlink/host/serial"
	"isrlink/transport"
)

// Config is the complete host configuration
type Config struct {
	Serial  serial.Config
	Channel transport.Config
	Timeout time.Duration // per blocking call; 0 waits forever
	MQTT    MQTTConfig
}

// MQTTConfig configures the optional line bridge.
// An empty Broker disables it.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
}

// Defaults
const (
	DefaultDevice  = "/dev/ttyUSB0"
	DefaultTimeout = time.Second
	DefaultTopic   = "isrlink"
)

var (
	ErrBadDelimiter = errors.New("delimiter must be a single byte")
	ErrBadMode      = errors.New("mode must be blocking or nonblocking")
)

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Serial:  *serial.DefaultConfig(DefaultDevice),
		Channel: transport.DefaultConfig(),
		Timeout: DefaultTimeout,
		MQTT:    MQTTConfig{Topic: DefaultTopic},
	}
}

type fileConfig struct {
	Device      string   `toml:"device"`
	Baud        int      `toml:"baud"`
	ReadTimeout int      `toml:"read_timeout"`
	RxCapacity  int      `toml:"rx_capacity"`
	Delimiter   string   `toml:"delimiter"`
	Mode        string   `toml:"mode"`
	TxBurst     int      `toml:"tx_burst"`
	Timeout     string   `toml:"timeout"`
	MQTT        mqttFile `toml:"mqtt"`
}

type mqttFile struct {
	Broker   string `toml:"broker"`
	Topic    string `toml:"topic"`
	ClientID string `toml:"client_id"`
}

// Load reads path and applies the keys it defines over Default()
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("device") {
		cfg.Serial.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("baud") {
		cfg.Serial.Baud = raw.Baud
	}
	if meta.IsDefined("read_timeout") {
		cfg.Serial.ReadTimeout = raw.ReadTimeout
	}
	if meta.IsDefined("rx_capacity") {
		cfg.Channel.RxCapacity = raw.RxCapacity
	}
	if meta.IsDefined("delimiter") {
		d, err := ParseDelimiter(raw.Delimiter)
		if err != nil {
			return Config{}, fmt.Errorf("parse delimiter: %w", err)
		}
		cfg.Channel.Delimiter = d
	}
	if meta.IsDefined("mode") {
		m, err := ParseMode(raw.Mode)
		if err != nil {
			return Config{}, fmt.Errorf("parse mode: %w", err)
		}
		cfg.Channel.Mode = m
	}
	if meta.IsDefined("tx_burst") {
		cfg.Channel.TxBurst = raw.TxBurst
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}

	if meta.IsDefined("mqtt", "broker") {
		cfg.MQTT.Broker = strings.TrimSpace(raw.MQTT.Broker)
	}
	if meta.IsDefined("mqtt", "topic") {
		cfg.MQTT.Topic = strings.Trim(strings.TrimSpace(raw.MQTT.Topic), "/")
	}
	if meta.IsDefined("mqtt", "client_id") {
		cfg.MQTT.ClientID = strings.TrimSpace(raw.MQTT.ClientID)
	}

	return cfg, nil
}

// ParseMode parses "blocking" or "nonblocking"
func ParseMode(s string) (transport.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blocking":
		return transport.Blocking, nil
	case "nonblocking", "non-blocking":
		return transport.NonBlocking, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadMode, s)
	}
}

// ParseDelimiter accepts a single byte or one of the escapes \n, \r, \0
// and \t written out literally
func ParseDelimiter(s string) (byte, error) {
	switch s {
	case `\n`:
		return '\n', nil
	case `\r`:
		return '\r', nil
	case `\t`:
		return '\t', nil
	case `\0`:
		return 0, nil
	}
	if len(s) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrBadDelimiter, s)
	}
	return s[0], nil
}

// Package mqtt bridges a transport channel to an MQTT broker: every line
// received on the channel is published, every payload published to the
// bridge's transmit topic is written to the channel.
package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"isrlink/host/config"
)

// ConnectTimeout bounds the initial broker connection
const ConnectTimeout = 10 * time.Second

// ErrConnectTimeout is returned when the broker does not answer in time
var ErrConnectTimeout = errors.New("mqtt connect timeout")

// appID salts the machine ID so the client ID does not leak it
const appID = "isrlink"

// DefaultClientID derives a stable client ID from the machine ID, falling
// back to the host name
func DefaultClientID() string {
	if id, err := machineid.ProtectedID(appID); err == nil {
		return appID + "-" + id[:12]
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return appID + "-" + host
}

// ClientOptions builds paho options for cfg. onConnect runs on the paho
// goroutine after every successful (re)connect and must not block.
func ClientOptions(cfg config.MQTTConfig, onConnect func(paho.Client)) (*paho.ClientOptions, error) {
	u, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("parse broker: %w", err)
	}
	scheme := u.Scheme
	if scheme == "" || scheme == "mqtt" {
		scheme = "tcp"
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse broker: missing host in %q", cfg.Broker)
	}

	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		clientID = DefaultClientID()
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	opts.SetOnConnectHandler(func(c paho.Client) {
		glog.Infof("mqtt: connected to %s as %s", u.Host, clientID)
		if onConnect != nil {
			onConnect(c)
		}
	})
	opts.SetConnectionLostHandler(func(c paho.Client, err error) {
		glog.Warningf("mqtt: connection lost: %v", err)
	})
	return opts, nil
}

// Connect creates a client for cfg and waits for the first connection
func Connect(cfg config.MQTTConfig, onConnect func(paho.Client)) (paho.Client, error) {
	opts, err := ClientOptions(cfg, onConnect)
	if err != nil {
		return nil, err
	}
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(ConnectTimeout) {
		return nil, ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return client, nil
}

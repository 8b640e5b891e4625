// Package mqtt wraps the paho client with the small surface the panel
// needs for telemetry publishing and device echo ingest.
package mqtt

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Handler receives one message.
type Handler func(topic string, payload []byte)

// ClientAPI lets telemetry and ingest run against a fake broker in tests.
type ClientAPI interface {
	Subscribe(topic string, cb Handler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
	PublishWith(topic string, payload []byte, retain bool) error
}

// Client is a connected broker client.
type Client struct {
	cli paho.Client
}

// Connect dials the broker at brokerURL (mqtt://, tcp://, ssl://, tls://,
// ws:// or wss://).
func Connect(brokerURL, clientPrefix string) (*Client, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse broker url: %w", err)
	}
	opts := paho.NewClientOptions()
	server := u.Host
	switch u.Scheme {
	case "mqtt", "tcp":
		server = "tcp://" + server
	case "ssl", "tls":
		server = "ssl://" + server
	case "ws", "wss":
		server = u.Scheme + "://" + server + u.Path
	default:
		return nil, fmt.Errorf("unsupported broker scheme: %s", u.Scheme)
	}
	opts.AddBroker(server)
	opts.SetClientID(clientPrefix + "-" + time.Now().Format("150405.000"))
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(paho.Client) { slog.Info("mqtt connected", "broker", u.Host) }
	opts.OnConnectionLost = func(_ paho.Client, err error) { slog.Error("mqtt connection lost", "error", err) }
	if u.User != nil {
		pw, _ := u.User.Password()
		opts.SetUsername(u.User.Username())
		opts.SetPassword(pw)
	}
	if u.Scheme == "ssl" || u.Scheme == "tls" || u.Scheme == "wss" {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	cli := paho.NewClient(opts)
	if t := cli.Connect(); t.WaitTimeout(10*time.Second) && t.Error() != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", t.Error())
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Subscribe(topic string, cb Handler) error {
	t := c.cli.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
		cb(msg.Topic(), msg.Payload())
	})
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	slog.Info("mqtt subscribed", "topic", topic)
	return nil
}

func (c *Client) Unsubscribe(topic string) error {
	t := c.cli.Unsubscribe(topic)
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	slog.Info("mqtt unsubscribed", "topic", topic)
	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	return c.PublishWith(topic, payload, false)
}

func (c *Client) PublishWith(topic string, payload []byte, retain bool) error {
	t := c.cli.Publish(topic, 0, retain, payload)
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	return nil
}

// Close disconnects, giving in-flight work up to 250ms.
func (c *Client) Close() {
	c.cli.Disconnect(250)
}

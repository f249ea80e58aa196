package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	TopicEvents   = "ontester/events/"
	TopicPresence = "ontester/presence/"

	EventGateDenied     = "gate_denied"
	EventLoginOutcome   = "login_outcome"
	EventSessionExpired = "session_expired"
)

// Event is the payload published on ontester/events/<station>.
type Event struct {
	Event     string         `json:"event"`
	StationID string         `json:"station_id"`
	Env       string         `json:"env"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event string, data map[string]any) error
	Close()
}

// Nop drops every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, map[string]any) error { return nil }
func (Nop) Close() {}

// tokenPublisher is the part of the paho client the publisher needs.
type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type MQTTPublisher struct {
	cli     tokenPublisher
	closer  func()
	station string
	env     string
	now     func() time.Time
}

// New connects to brokerURL (mqtt://, tcp://, ssl://, tls://, ws://, wss://,
// optionally with user info) and announces the station as online. The
// broker marks it offline through the last will when the connection drops.
func New(brokerURL, stationID, env string) (*MQTTPublisher, error) {
	if stationID == "" {
		return nil, errors.New("events: station id is required")
	}
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("events: broker url: %w", err)
	}
	opts := mqtt.NewClientOptions()
	server := u.Host
	switch u.Scheme {
	case "mqtt", "tcp":
		server = "tcp://" + server
	case "ssl", "tls":
		server = "ssl://" + server
	case "ws", "wss":
		server = u.Scheme + "://" + server + u.Path
	default:
		return nil, fmt.Errorf("events: unsupported broker scheme %q", u.Scheme)
	}
	opts.AddBroker(server)
	opts.SetClientID("cpegate-" + stationID + "-" + time.Now().Format("150405.000"))
	opts.SetAutoReconnect(true)
	presence := TopicPresence + stationID
	opts.SetWill(presence, "offline", 1, true)
	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("mqtt connected", "broker", u.Host, "station", stationID)
		c.Publish(presence, 1, true, "online")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) { slog.Error("mqtt connection lost", "error", err) }
	if u.User != nil {
		pw, _ := u.User.Password()
		opts.SetUsername(u.User.Username())
		opts.SetPassword(pw)
	}
	if u.Scheme == "ssl" || u.Scheme == "tls" || u.Scheme == "wss" {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	cli := mqtt.NewClient(opts)
	if err := awaitConnect(cli.Connect(), u.Host, connectTimeout); err != nil {
		cli.Disconnect(0)
		return nil, err
	}
	p := newPublisher(cli, stationID, env)
	p.closer = func() {
		if t := cli.Publish(presence, 1, true, "offline"); !t.WaitTimeout(2 * time.Second) {
			slog.Warn("mqtt presence offline not acknowledged", "station", stationID)
		}
		cli.Disconnect(250)
	}
	return p, nil
}

const connectTimeout = 10 * time.Second

// awaitConnect fails when the broker neither accepts nor refuses the
// connection within timeout.
func awaitConnect(t mqtt.Token, host string, timeout time.Duration) error {
	if !t.WaitTimeout(timeout) {
		return fmt.Errorf("events: connect %s: timed out after %s", host, timeout)
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("events: connect %s: %w", host, err)
	}
	return nil
}

func newPublisher(cli tokenPublisher, stationID, env string) *MQTTPublisher {
	return &MQTTPublisher{cli: cli, station: stationID, env: env, now: time.Now}
}

func (p *MQTTPublisher) Publish(ctx context.Context, event string, data map[string]any) error {
	payload, err := json.Marshal(Event{
		Event:     event,
		StationID: p.station,
		Env:       p.env,
		Timestamp: p.now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", event, err)
	}
	t := p.cli.Publish(TopicEvents+p.station, 1, false, payload)
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTPublisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}

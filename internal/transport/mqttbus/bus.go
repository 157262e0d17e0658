// v0
// internal/transport/mqttbus/bus.go
// Package mqttbus carries bus messages over one MQTT topic. Subscribers receive their
// own publishes, which matches the broadcast semantics of the Kafka bus.
package mqttbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"nrgchamp/ecsmonitor/internal/transport"
)

const (
	qos          = 1
	inboxLimit   = 4096
	tokenTimeout = 3 * time.Second
	quiesceMS    = 250
)

var ErrNotConnected = errors.New("mqttbus: not connected")

type Config struct {
	Broker        string
	Topic         string
	PresenceTopic string
	Component     string
}

// Presence is published when a participant joins or leaves. The broker publishes the
// "lost" record as the client's will if the connection drops.
type Presence struct {
	ParticipantID string    `json:"participantId"`
	Component     string    `json:"component"`
	Event         string    `json:"event"`
	At            time.Time `json:"at"`
}

type Bus struct {
	cfg       Config
	log       *slog.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu      sync.Mutex
	client  mqtt.Client
	reg     transport.Registration
	inbox   []transport.Message
	dropped int
	closed  bool
}

func New(cfg Config, log *slog.Logger) (*Bus, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, errors.New("mqttbus: broker and topic required")
	}
	if cfg.PresenceTopic == "" {
		cfg.PresenceTopic = cfg.Topic + "/participants"
	}
	if cfg.Component == "" {
		cfg.Component = "ecs"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus{cfg: cfg, log: log.With(slog.String("component", "mqtt-bus")), newClient: mqtt.NewClient}, nil
}

func (b *Bus) options(participant string) *mqtt.ClientOptions {
	will, _ := json.Marshal(Presence{ParticipantID: participant, Component: b.cfg.Component, Event: "lost"})
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.Component + "-" + participant)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetBinaryWill(b.cfg.PresenceTopic, will, qos, false)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// clean sessions drop subscriptions on reconnect
		if err := wait(c.Subscribe(b.cfg.Topic, qos, b.onMessage)); err != nil {
			b.log.Error("subscribe failed", "topic", b.cfg.Topic, "error", err)
			return
		}
		b.log.Info("subscribed", "topic", b.cfg.Topic, "client", participant)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.log.Warn("connection lost", "error", err)
	})
	return opts
}

func (b *Bus) onMessage(_ mqtt.Client, msg mqtt.Message) {
	m, err := transport.Decode(msg.Payload())
	if err != nil {
		b.log.Error("bad json", "topic", msg.Topic(), "error", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inbox) >= inboxLimit {
		b.inbox = b.inbox[1:]
		b.dropped++
	}
	b.inbox = append(b.inbox, m)
}

func wait(t mqtt.Token) error {
	if !t.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("mqtt: timed out after %s", tokenTimeout)
	}
	return t.Error()
}

func (b *Bus) connect(participant string) (mqtt.Client, error) {
	c := b.newClient(b.options(participant))
	if err := wait(c.Connect()); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Bus) Register(ctx context.Context) (transport.Registration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.Registration{}, transport.Wrap("register", transport.ErrClosed)
	}
	reg := transport.Registration{ParticipantID: uuid.NewString(), RegisteredAt: time.Now().UTC()}
	c, err := b.connect(reg.ParticipantID)
	if err != nil {
		return transport.Registration{}, transport.Wrap("register", err)
	}
	if err := b.announce(c, reg.ParticipantID, "register"); err != nil {
		c.Disconnect(quiesceMS)
		return transport.Registration{}, transport.Wrap("register", err)
	}
	b.client, b.reg = c, reg
	b.log.Info("registered", "participant", reg.ParticipantID, "broker", b.cfg.Broker, "topic", b.cfg.Topic)
	return reg, nil
}

func (b *Bus) announce(c mqtt.Client, participant, event string) error {
	v, err := json.Marshal(Presence{ParticipantID: participant, Component: b.cfg.Component, Event: event, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return wait(c.Publish(b.cfg.PresenceTopic, qos, false, v))
}

func (b *Bus) Unregister(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return transport.Wrap("unregister", transport.ErrNotRegistered)
	}
	err := b.announce(b.client, b.reg.ParticipantID, "unregister")
	if uerr := wait(b.client.Unsubscribe(b.cfg.Topic)); uerr != nil {
		err = errors.Join(err, uerr)
	}
	b.client.Disconnect(quiesceMS)
	b.log.Info("unregistered", "participant", b.reg.ParticipantID)
	b.client, b.reg, b.inbox = nil, transport.Registration{}, nil
	return transport.Wrap("unregister", err)
}

// Fetch returns everything received since the previous call.
func (b *Bus) Fetch(ctx context.Context) ([]transport.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, transport.Wrap("fetch", transport.ErrNotRegistered)
	}
	if !b.client.IsConnectionOpen() {
		return nil, transport.Wrap("fetch", ErrNotConnected)
	}
	if b.dropped > 0 {
		b.log.Warn("inbox overflow", "dropped", b.dropped)
		b.dropped = 0
	}
	out := b.inbox
	b.inbox = nil
	return out, nil
}

func (b *Bus) Send(ctx context.Context, m transport.Message) error {
	b.mu.Lock()
	c := b.client
	b.mu.Unlock()
	if c == nil {
		return transport.Wrap("send", transport.ErrNotRegistered)
	}
	v, err := transport.Encode(m)
	if err != nil {
		return transport.Wrap("send", err)
	}
	return transport.Wrap("send", wait(c.Publish(b.cfg.Topic, qos, false, v)))
}

func (b *Bus) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil || !b.client.IsConnectionOpen() {
		return transport.Wrap("ping", ErrNotConnected)
	}
	return nil
}

// Reconnect replaces the client under the same participant id.
func (b *Bus) Reconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.Wrap("reconnect", transport.ErrClosed)
	}
	if b.reg.ParticipantID == "" {
		return transport.Wrap("reconnect", transport.ErrNotRegistered)
	}
	if b.client != nil {
		b.client.Disconnect(quiesceMS)
	}
	c, err := b.connect(b.reg.ParticipantID)
	if err != nil {
		return transport.Wrap("reconnect", err)
	}
	b.client = c
	b.log.Info("reconnected", "participant", b.reg.ParticipantID)
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(quiesceMS)
	}
	b.client = nil
	return nil
}

var _ transport.Transport = (*Bus)(nil)

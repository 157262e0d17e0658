// v0
// internal/transport/mqttbus/bus_test.go
package mqttbus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"nrgchamp/ecsmonitor/internal/transport"
)

type fakeToken struct {
	mqtt.Token
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type published struct {
	topic   string
	payload []byte
}

// fakeBroker hands out clients that loop publishes on the subscribed topic back to
// every subscriber.
type fakeBroker struct {
	mu         sync.Mutex
	clients    []*fakeClient
	connectErr error
	publishErr error
	published  []published
}

func (fb *fakeBroker) newClient(opts *mqtt.ClientOptions) mqtt.Client {
	c := &fakeClient{broker: fb, opts: opts}
	fb.mu.Lock()
	fb.clients = append(fb.clients, c)
	fb.mu.Unlock()
	return c
}

type fakeClient struct {
	mqtt.Client
	broker *fakeBroker
	opts   *mqtt.ClientOptions

	mu        sync.Mutex
	connected bool
	handlers  map[string]mqtt.MessageHandler
}

func (c *fakeClient) Connect() mqtt.Token {
	if err := c.broker.connectErr; err != nil {
		return &fakeToken{err: err}
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	if c.handlers == nil {
		c.handlers = map[string]mqtt.MessageHandler{}
	}
	c.handlers[topic] = h
	c.mu.Unlock()
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	c.mu.Unlock()
	return &fakeToken{}
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	fb := c.broker
	if fb.publishErr != nil {
		return &fakeToken{err: fb.publishErr}
	}
	body := payload.([]byte)
	fb.mu.Lock()
	fb.published = append(fb.published, published{topic: topic, payload: body})
	clients := append([]*fakeClient(nil), fb.clients...)
	fb.mu.Unlock()
	for _, other := range clients {
		other.deliver(topic, body)
	}
	return &fakeToken{}
}

func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handlers[topic]
	ok := c.connected
	c.mu.Unlock()
	if h != nil && ok {
		h(c, fakeMessage{topic: topic, payload: payload})
	}
}

func newBus(t *testing.T, fb *fakeBroker) *Bus {
	t.Helper()
	b, err := New(Config{Broker: "tcp://broker:1883", Topic: "ecs/messages", Component: "monitor"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	b.newClient = fb.newClient
	return b
}

func TestRegisterConfiguresClient(t *testing.T) {
	fb := &fakeBroker{}
	b := newBus(t, fb)
	reg, err := b.Register(context.Background())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	opts := fb.clients[0].opts
	if opts.ClientID != "monitor-"+reg.ParticipantID {
		t.Fatalf("client id %q", opts.ClientID)
	}
	if opts.WillTopic != "ecs/messages/participants" || !opts.WillEnabled {
		t.Fatalf("will not configured: %q %v", opts.WillTopic, opts.WillEnabled)
	}
	if len(fb.published) != 1 || fb.published[0].topic != "ecs/messages/participants" {
		t.Fatalf("presence not published: %+v", fb.published)
	}
	var p Presence
	if err := json.Unmarshal(fb.published[0].payload, &p); err != nil || p.Event != "register" {
		t.Fatalf("presence %+v, %v", p, err)
	}
}

func TestRegisterConnectFailure(t *testing.T) {
	fb := &fakeBroker{connectErr: errors.New("connection refused")}
	b := newBus(t, fb)
	_, err := b.Register(context.Background())
	var te *transport.Error
	if !errors.As(err, &te) || te.Op != "register" {
		t.Fatalf("expected register error, got %v", err)
	}
}

func TestSendFetchRoundTrip(t *testing.T) {
	fb := &fakeBroker{}
	monitor := newBus(t, fb)
	sensor := newBus(t, fb)
	for _, b := range []*Bus{monitor, sensor} {
		if _, err := b.Register(context.Background()); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := sensor.Send(context.Background(), transport.Message{ID: 1, Payload: "71.5"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := monitor.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 1 || got[0] != (transport.Message{ID: 1, Payload: "71.5"}) {
		t.Fatalf("batch %+v", got)
	}
	if again, _ := monitor.Fetch(context.Background()); len(again) != 0 {
		t.Fatalf("inbox not drained: %+v", again)
	}
}

func TestFetchWhenDisconnected(t *testing.T) {
	fb := &fakeBroker{}
	b := newBus(t, fb)
	if _, err := b.Fetch(context.Background()); !errors.Is(err, transport.ErrNotRegistered) {
		t.Fatalf("fetch before register: %v", err)
	}
	if _, err := b.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	fb.clients[0].Disconnect(0)
	if _, err := b.Fetch(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := b.Ping(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("ping: %v", err)
	}
	if err := b.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if len(fb.clients) != 2 || fb.clients[1].opts.ClientID != fb.clients[0].opts.ClientID {
		t.Fatalf("reconnect must reuse the participant id")
	}
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("ping after reconnect: %v", err)
	}
}

func TestSendFailure(t *testing.T) {
	fb := &fakeBroker{}
	b := newBus(t, fb)
	if _, err := b.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	fb.publishErr = errors.New("not authorized")
	err := b.Send(context.Background(), transport.Message{ID: 5, Payload: "C1"})
	if !errors.Is(err, fb.publishErr) {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestUnregister(t *testing.T) {
	fb := &fakeBroker{}
	b := newBus(t, fb)
	if _, err := b.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := b.Unregister(context.Background()); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if fb.clients[0].IsConnected() {
		t.Fatalf("client still connected")
	}
	last := fb.published[len(fb.published)-1]
	var p Presence
	if err := json.Unmarshal(last.payload, &p); err != nil || p.Event != "unregister" {
		t.Fatalf("presence %+v, %v", p, err)
	}
}

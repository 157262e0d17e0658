// v0
// internal/transport/membus/membus.go
// Package membus is an in-process broadcast bus. Every message sent by one endpoint is
// queued for every other registered endpoint, like a shared message manager.
package membus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"nrgchamp/ecsmonitor/internal/transport"
)

var ErrBrokerDown = errors.New("membus: broker down")

type Bus struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	down      bool
	history   []transport.Message
}

func NewBus() *Bus { return &Bus{} }

// Endpoint creates a new, unregistered participant.
func (b *Bus) Endpoint() *Endpoint {
	ep := &Endpoint{bus: b}
	b.mu.Lock()
	b.endpoints = append(b.endpoints, ep)
	b.mu.Unlock()
	return ep
}

// SetDown makes every bus operation fail until cleared.
func (b *Bus) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// Inject delivers messages to every registered endpoint as if an outside node sent them.
func (b *Bus) Inject(msgs ...transport.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliverLocked(nil, msgs...)
}

// History returns every message that passed through the bus.
func (b *Bus) History() []transport.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]transport.Message(nil), b.history...)
}

func (b *Bus) deliverLocked(from *Endpoint, msgs ...transport.Message) {
	b.history = append(b.history, msgs...)
	for _, ep := range b.endpoints {
		if ep == from || !ep.registered {
			continue
		}
		ep.queue = append(ep.queue, msgs...)
	}
}

func (b *Bus) isDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.down
}

// Endpoint implements transport.Transport on top of a Bus.
type Endpoint struct {
	bus *Bus

	// guarded by bus.mu
	registered bool
	queue      []transport.Message

	mu            sync.Mutex
	reg           transport.Registration
	sent          []transport.Message
	registerErr   error
	unregisterErr error
	sendErr       error
	reconnects    int
}

// FailRegister makes the next Register calls fail with err.
func (e *Endpoint) FailRegister(err error) { e.mu.Lock(); e.registerErr = err; e.mu.Unlock() }

func (e *Endpoint) FailUnregister(err error) { e.mu.Lock(); e.unregisterErr = err; e.mu.Unlock() }

func (e *Endpoint) FailSend(err error) { e.mu.Lock(); e.sendErr = err; e.mu.Unlock() }

// Sent returns the messages this endpoint published.
func (e *Endpoint) Sent() []transport.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]transport.Message(nil), e.sent...)
}

func (e *Endpoint) Reconnects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconnects
}

func (e *Endpoint) Registered() bool {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	return e.registered
}

func (e *Endpoint) Register(ctx context.Context) (transport.Registration, error) {
	e.mu.Lock()
	err := e.registerErr
	e.mu.Unlock()
	if err != nil {
		return transport.Registration{}, transport.Wrap("register", err)
	}
	if e.bus.isDown() {
		return transport.Registration{}, transport.Wrap("register", ErrBrokerDown)
	}
	e.bus.mu.Lock()
	e.registered = true
	e.bus.mu.Unlock()
	reg := transport.Registration{ParticipantID: uuid.NewString(), RegisteredAt: time.Now()}
	e.mu.Lock()
	e.reg = reg
	e.mu.Unlock()
	return reg, nil
}

func (e *Endpoint) Unregister(ctx context.Context) error {
	e.bus.mu.Lock()
	e.registered = false
	e.queue = nil
	e.bus.mu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	return transport.Wrap("unregister", e.unregisterErr)
}

func (e *Endpoint) Fetch(ctx context.Context) ([]transport.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	if e.bus.down {
		return nil, transport.Wrap("fetch", ErrBrokerDown)
	}
	if !e.registered {
		return nil, transport.Wrap("fetch", transport.ErrNotRegistered)
	}
	out := e.queue
	e.queue = nil
	return out, nil
}

func (e *Endpoint) Send(ctx context.Context, m transport.Message) error {
	e.mu.Lock()
	err := e.sendErr
	e.mu.Unlock()
	if err != nil {
		return transport.Wrap("send", err)
	}
	e.bus.mu.Lock()
	if e.bus.down {
		e.bus.mu.Unlock()
		return transport.Wrap("send", ErrBrokerDown)
	}
	e.bus.deliverLocked(e, m)
	e.bus.mu.Unlock()
	e.mu.Lock()
	e.sent = append(e.sent, m)
	e.mu.Unlock()
	return nil
}

func (e *Endpoint) Ping(ctx context.Context) error {
	if e.bus.isDown() {
		return transport.Wrap("ping", ErrBrokerDown)
	}
	return nil
}

func (e *Endpoint) Reconnect(ctx context.Context) error {
	e.mu.Lock()
	e.reconnects++
	e.mu.Unlock()
	if e.bus.isDown() {
		return transport.Wrap("reconnect", ErrBrokerDown)
	}
	return nil
}

func (e *Endpoint) Close() error { return nil }

var _ transport.Transport = (*Endpoint)(nil)

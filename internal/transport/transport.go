// v0
// internal/transport/transport.go
// Package transport defines the message bus boundary the monitor and the simulator
// talk through. Concrete buses live in the kafkabus, mqttbus and membus packages.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message is the unit exchanged on the bus. Sensor readings and commands carry a
// positive node id; controller confirmations carry the negated controller id.
type Message struct {
	ID      int    `json:"id"`
	Payload string `json:"payload"`
}

// HaltPayload accompanies the terminate id when an operator halts the system.
const HaltPayload = "XXX"

func Encode(m Message) ([]byte, error) { return json.Marshal(m) }

func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

// Registration identifies this participant on the bus.
type Registration struct {
	ParticipantID string    `json:"participantId"`
	RegisteredAt  time.Time `json:"registeredAt"`
}

type Transport interface {
	// Register joins the bus. Nothing else may be called before it succeeds.
	Register(ctx context.Context) (Registration, error)
	// Unregister leaves the bus; best-effort.
	Unregister(ctx context.Context) error
	// Fetch returns every message pending for this participant, oldest first. It may
	// block briefly while waiting for the broker.
	Fetch(ctx context.Context) ([]Message, error)
	Send(ctx context.Context, m Message) error
	// Ping checks that the broker is reachable.
	Ping(ctx context.Context) error
	// Reconnect drops and re-creates broker sessions.
	Reconnect(ctx context.Context) error
	Close() error
}

var (
	ErrNotRegistered = errors.New("transport: not registered")
	ErrClosed        = errors.New("transport: closed")
)

// Error reports a failure talking to the broker.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "transport " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Op: op, Err: err}
}

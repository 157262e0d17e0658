// v0
// internal/dispatch/dispatch.go
// Package dispatch turns a control decision into commands for the active controllers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nrgchamp/ecsmonitor/internal/control"
	"nrgchamp/ecsmonitor/internal/transport"
)

// Actuator command payloads. The digit is the requested state.
const (
	HeaterOn        = "H1"
	HeaterOff       = "H0"
	ChillerOn       = "C1"
	ChillerOff      = "C0"
	DehumidifierOn  = "D1"
	DehumidifierOff = "D0"

	// The humidity controller reads the heater letter as its humidifier.
	HumidifierOn  = HeaterOn
	HumidifierOff = HeaterOff
)

// SendError reports a command the bus did not accept. Commands are not retried: the
// next cycle sends a fresh set.
type SendError struct {
	Node    int
	Payload string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to node %d: %v", e.Payload, e.Node, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Targets names the controller nodes addressed this cycle.
type Targets struct {
	Temperature int
	Humidity    int
}

type Dispatcher struct {
	bus         transport.Transport
	terminateID int
	log         *slog.Logger
}

func New(bus transport.Transport, terminateID int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{bus: bus, terminateID: terminateID, log: logger}
}

// Commands lists the four messages for a decision, in send order.
func Commands(d control.Decision, to Targets) []transport.Message {
	return []transport.Message{
		{ID: to.Temperature, Payload: onOff(d.Heater, HeaterOn, HeaterOff)},
		{ID: to.Temperature, Payload: onOff(d.Chiller, ChillerOn, ChillerOff)},
		// the humidity controller drives its humidifier with the H command
		{ID: to.Humidity, Payload: onOff(d.Humidifier, HumidifierOn, HumidifierOff)},
		{ID: to.Humidity, Payload: onOff(d.Dehumidifier, DehumidifierOn, DehumidifierOff)},
	}
}

// Dispatch sends every command of the decision. A failed send does not stop the rest;
// the returned error joins one *SendError per failure.
func (d *Dispatcher) Dispatch(ctx context.Context, dec control.Decision, to Targets) error {
	var errs []error
	for _, m := range Commands(dec, to) {
		if err := d.bus.Send(ctx, m); err != nil {
			se := &SendError{Node: m.ID, Payload: m.Payload, Err: err}
			d.log.Warn("command_send_failed", "node", m.ID, "payload", m.Payload, "error", err.Error())
			errs = append(errs, se)
		}
	}
	return errors.Join(errs...)
}

// Halt broadcasts the terminate message to every participant.
func (d *Dispatcher) Halt(ctx context.Context) error {
	m := transport.Message{ID: d.terminateID, Payload: transport.HaltPayload}
	if err := d.bus.Send(ctx, m); err != nil {
		return &SendError{Node: m.ID, Payload: m.Payload, Err: err}
	}
	d.log.Info("halt_sent", "id", m.ID)
	return nil
}

func onOff(on bool, yes, no string) string {
	if on {
		return yes
	}
	return no
}

// v0
// internal/ingest/ingest.go
// Package ingest sorts a batch of bus messages into sensor readings, controller
// confirmations and the terminate signal, and keeps the latest value per quantity.
package ingest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"nrgchamp/ecsmonitor/internal/control"
	"nrgchamp/ecsmonitor/internal/health"
	"nrgchamp/ecsmonitor/internal/registry"
	"nrgchamp/ecsmonitor/internal/transport"
)

type Kind int

const (
	KindIgnored Kind = iota
	KindReading
	KindConfirmation
	KindTerminate
	kindCount
)

var Kinds = [...]Kind{KindIgnored, KindReading, KindConfirmation, KindTerminate}

func (k Kind) String() string {
	switch k {
	case KindReading:
		return "reading"
	case KindConfirmation:
		return "confirmation"
	case KindTerminate:
		return "terminate"
	default:
		return "ignored"
	}
}

var errNotFinite = errors.New("value is not finite")

// ParseError reports a sensor payload that is not a number.
type ParseError struct {
	Role    registry.Role
	Node    int
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s reading from node %d (%q): %v", e.Role, e.Node, e.Payload, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Result summarises one applied batch.
type Result struct {
	Counts    [kindCount]int
	Terminate bool
	Errors    []error // *ParseError values, in batch order
}

// Count returns how many messages of the kind the batch held.
func (r Result) Count(k Kind) int { return r.Counts[k] }

// Ingestor applies batches to the tracker and caches the latest readings. Like the
// tracker it belongs to the control loop.
type Ingestor struct {
	tracker     *health.Tracker
	terminateID int
	onReceipt   bool

	temperature control.Sample
	humidity    control.Sample
}

// New returns an Ingestor. With livenessOnReceipt a message from the active sensor
// refreshes liveness even when its payload does not parse.
func New(tracker *health.Tracker, terminateID int, livenessOnReceipt bool) *Ingestor {
	return &Ingestor{tracker: tracker, terminateID: terminateID, onReceipt: livenessOnReceipt}
}

// Classify reports what a message means given the currently active nodes.
func (in *Ingestor) Classify(m transport.Message, now time.Time) (Kind, registry.Role) {
	if m.ID == in.terminateID {
		return KindTerminate, 0
	}
	if m.ID > 0 {
		for _, r := range []registry.Role{registry.SensorTemperature, registry.SensorHumidity} {
			if m.ID == in.tracker.Active(r) {
				return KindReading, r
			}
		}
		return KindIgnored, 0
	}
	for _, r := range []registry.Role{registry.ControllerTemperature, registry.ControllerHumidity} {
		if in.tracker.Accepts(r, -m.ID, now) {
			return KindConfirmation, r
		}
	}
	return KindIgnored, 0
}

// Apply processes the whole batch in order. A terminate message does not cut the
// batch short. Later readings overwrite earlier ones.
func (in *Ingestor) Apply(batch []transport.Message, now time.Time) Result {
	var res Result
	for _, m := range batch {
		kind, role := in.Classify(m, now)
		res.Counts[kind]++
		switch kind {
		case KindTerminate:
			res.Terminate = true
		case KindConfirmation:
			in.tracker.Touch(role, now)
		case KindReading:
			v, err := parseValue(m.Payload)
			if err != nil {
				res.Errors = append(res.Errors, &ParseError{Role: role, Node: m.ID, Payload: m.Payload, Err: err})
				if in.onReceipt {
					in.tracker.Touch(role, now)
				}
				continue
			}
			in.tracker.Touch(role, now)
			if role == registry.SensorTemperature {
				in.temperature = control.Known(v)
			} else {
				in.humidity = control.Known(v)
			}
		}
	}
	return res
}

// Readings returns the latest temperature and humidity.
func (in *Ingestor) Readings() (temperature, humidity control.Sample) {
	return in.temperature, in.humidity
}

func parseValue(payload string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}

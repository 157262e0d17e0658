// v0
// internal/health/event.go
package health

import (
	"fmt"
	"time"

	"nrgchamp/ecsmonitor/internal/registry"
)

type EventKind int

const (
	// EventStale is a non-fatal staleness warning below the retry limit.
	EventStale EventKind = iota
	// EventSwitched reports a rotation to the next candidate node.
	EventSwitched
)

func (k EventKind) String() string {
	if k == EventSwitched {
		return "switched"
	}
	return "stale"
}

type Event struct {
	Kind     EventKind
	Role     registry.Role
	Node     int // active node after the event
	Previous int // node rotated away from, EventSwitched only
	Misses   int
	Limit    int
	At       time.Time
}

// Phase is the state the channel passed through when the event was produced.
func (e Event) Phase() Phase {
	if e.Kind == EventSwitched {
		return Rotating
	}
	return Degraded
}

// Message renders the operator-facing line written to the console and warning log.
func (e Event) Message() string {
	if e.Kind == EventSwitched {
		return fmt.Sprintf("[INFO] switched %s from node %d to node %d", e.Role, e.Previous, e.Node)
	}
	return fmt.Sprintf("[WARNING] lost the %s on node %d (miss %d of %d)", e.Role, e.Node, e.Misses, e.Limit)
}

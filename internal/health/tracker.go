// v0
// internal/health/tracker.go
// Package health implements per-role staleness detection and node failover.
//
// Every role moves through Healthy -> Degraded(n) -> Rotating -> Healthy. A valid
// update returns the channel to Healthy from any state. Each periodic evaluation that
// finds the channel stale adds one miss; reaching the retry limit rotates the active
// node to the next ring entry and clears the miss counter.
package health

import (
	"errors"
	"fmt"
	"time"

	"nrgchamp/ecsmonitor/internal/registry"
)

type Phase int

const (
	Healthy Phase = iota
	Degraded
	Rotating
)

func (p Phase) String() string {
	switch p {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Rotating:
		return "rotating"
	default:
		return "unknown"
	}
}

// Config holds the failover tunables.
type Config struct {
	RetryLimit      int           // stale evaluations before rotating
	SensorAlert     time.Duration // staleness window for sensor roles
	ControllerAlert time.Duration // staleness window for controller roles
	ConfirmGrace    time.Duration // how long a rotated-away controller id still counts for confirmations
}

func DefaultConfig() Config {
	return Config{
		RetryLimit:      3,
		SensorAlert:     5 * time.Second,
		ControllerAlert: 5 * time.Second,
		ConfirmGrace:    5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.RetryLimit < 1 {
		return errors.New("retry limit must be >= 1")
	}
	if c.SensorAlert <= 0 || c.ControllerAlert <= 0 {
		return errors.New("alert thresholds must be > 0")
	}
	if c.ConfirmGrace < 0 {
		return errors.New("confirmation grace must be >= 0")
	}
	return nil
}

func (c Config) threshold(r registry.Role) time.Duration {
	if r.IsController() {
		return c.ControllerAlert
	}
	return c.SensorAlert
}

// ChannelState is a read-only copy of one role's bookkeeping.
type ChannelState struct {
	Role       registry.Role
	Active     int
	Ring       []int
	Misses     int
	LastUpdate time.Time // zero until the role has reported once
	Rotations  int
}

func (s ChannelState) Phase() Phase {
	if s.Misses == 0 {
		return Healthy
	}
	return Degraded
}

type retiredNode struct {
	id    int
	until time.Time
}

type channel struct {
	role       registry.Role
	active     int
	ring       []int
	misses     int
	lastUpdate time.Time
	rotations  int
	retired    []retiredNode
}

// Tracker owns the four channel states. It is not safe for concurrent use: the
// control loop is its only writer and reader.
type Tracker struct {
	cfg      Config
	channels [registry.RoleCount]*channel
}

func New(reg *registry.Registry, cfg Config) (*Tracker, error) {
	if reg == nil {
		return nil, errors.New("health: nil registry")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	t := &Tracker{cfg: cfg}
	for _, r := range registry.Roles {
		t.channels[r] = &channel{role: r, active: reg.Primary(r), ring: reg.Ring(r)}
	}
	return t, nil
}

func (t *Tracker) Config() Config { return t.cfg }

// Active returns the node currently addressed for the role.
func (t *Tracker) Active(r registry.Role) int { return t.channels[r].active }

// Accepts reports whether a message from nodeID counts for the role. Besides the
// active node, controller roles accept nodes rotated away less than ConfirmGrace ago,
// so a confirmation for a command sent just before a rotation is not lost.
func (t *Tracker) Accepts(r registry.Role, nodeID int, now time.Time) bool {
	ch := t.channels[r]
	if nodeID == ch.active {
		return true
	}
	for _, rn := range ch.retired {
		if rn.id == nodeID && !now.After(rn.until) {
			return true
		}
	}
	return false
}

// Touch records a valid update for the role.
func (t *Tracker) Touch(r registry.Role, now time.Time) {
	ch := t.channels[r]
	ch.misses = 0
	ch.lastUpdate = now
}

// Evaluate runs one staleness check per role in fixed order and returns the events
// produced. Never-observed roles are skipped. A rotating role yields its final stale
// warning followed by the switch.
func (t *Tracker) Evaluate(now time.Time) []Event {
	var out []Event
	for _, r := range registry.Roles {
		out = t.evaluate(out, t.channels[r], now)
	}
	return out
}

func (t *Tracker) evaluate(out []Event, ch *channel, now time.Time) []Event {
	ch.pruneRetired(now)
	if ch.lastUpdate.IsZero() || now.Sub(ch.lastUpdate) <= t.cfg.threshold(ch.role) {
		return out
	}
	ch.misses++
	out = append(out, Event{Kind: EventStale, Role: ch.role, Node: ch.active, Misses: ch.misses, Limit: t.cfg.RetryLimit, At: now})
	if ch.misses < t.cfg.RetryLimit {
		return out
	}
	prev := ch.active
	misses := ch.misses
	ch.rotate(now, t.cfg.ConfirmGrace)
	return append(out, Event{Kind: EventSwitched, Role: ch.role, Node: ch.active, Previous: prev, Misses: misses, Limit: t.cfg.RetryLimit, At: now})
}

func (ch *channel) rotate(now time.Time, grace time.Duration) {
	prev := ch.active
	ch.active = nextInRing(ch.ring, prev)
	ch.misses = 0
	ch.rotations++
	if prev == ch.active {
		return
	}
	kept := ch.retired[:0]
	for _, rn := range ch.retired {
		if rn.id != ch.active && rn.id != prev {
			kept = append(kept, rn)
		}
	}
	ch.retired = kept
	if ch.role.IsController() && grace > 0 {
		ch.retired = append(ch.retired, retiredNode{id: prev, until: now.Add(grace)})
	}
}

func (ch *channel) pruneRetired(now time.Time) {
	kept := ch.retired[:0]
	for _, rn := range ch.retired {
		if !now.After(rn.until) {
			kept = append(kept, rn)
		}
	}
	ch.retired = kept
}

// nextInRing returns the entry after current, wrapping around. Registry validation
// guarantees current is present; the fallback keeps the active id inside the ring.
func nextInRing(ring []int, current int) int {
	for i, id := range ring {
		if id == current {
			return ring[(i+1)%len(ring)]
		}
	}
	return ring[0]
}

// State returns a copy of the role's bookkeeping.
func (t *Tracker) State(r registry.Role) ChannelState {
	ch := t.channels[r]
	return ChannelState{
		Role:       ch.role,
		Active:     ch.active,
		Ring:       append([]int(nil), ch.ring...),
		Misses:     ch.misses,
		LastUpdate: ch.lastUpdate,
		Rotations:  ch.rotations,
	}
}

func (t *Tracker) States() [registry.RoleCount]ChannelState {
	var out [registry.RoleCount]ChannelState
	for _, r := range registry.Roles {
		out[r] = t.State(r)
	}
	return out
}

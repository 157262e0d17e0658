// v0
// internal/registry/registry.go
// Package registry holds the static table of monitored roles and the candidate
// node rings each role can fail over through.
package registry

import (
	"errors"
	"fmt"
)

type Role int

const (
	SensorTemperature Role = iota
	SensorHumidity
	ControllerTemperature
	ControllerHumidity
	RoleCount
)

// Roles lists every role in the fixed evaluation order.
var Roles = [RoleCount]Role{SensorTemperature, SensorHumidity, ControllerTemperature, ControllerHumidity}

var roleNames = [RoleCount]string{
	"temperature sensor",
	"humidity sensor",
	"temperature controller",
	"humidity controller",
}

var roleKeys = [RoleCount]string{
	"sensor.temperature",
	"sensor.humidity",
	"controller.temperature",
	"controller.humidity",
}

func (r Role) Valid() bool { return r >= 0 && r < RoleCount }

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// Key is the dotted identifier used in properties files and metric labels.
func (r Role) Key() string {
	if !r.Valid() {
		return "unknown"
	}
	return roleKeys[r]
}

// IsController reports whether the role is reached through command/confirmation pairs.
func (r Role) IsController() bool {
	return r == ControllerTemperature || r == ControllerHumidity
}

// ParseRole maps a Key back to its role.
func ParseRole(key string) (Role, bool) {
	for _, r := range Roles {
		if roleKeys[r] == key {
			return r, true
		}
	}
	return 0, false
}

// DefaultTerminateID is the reserved id that tells every participant to stop.
const DefaultTerminateID = 99

var (
	ErrEmptyRing     = errors.New("candidate ring is empty")
	ErrInvalidNodeID = errors.New("invalid node id")
	ErrDuplicateNode = errors.New("node id used more than once")
	ErrIDCollision   = errors.New("node id collides with a reserved or derived id")
)

// Registry is the immutable role -> ring table. The primary of a role is the first
// entry of its ring.
type Registry struct {
	rings       [RoleCount][]int
	terminateID int
}

// DefaultRings is the deployment the monitor ships with: one backup per role.
func DefaultRings() [RoleCount][]int {
	return [RoleCount][]int{
		SensorTemperature:     {1, 11},
		SensorHumidity:        {2, 22},
		ControllerTemperature: {5, 55},
		ControllerHumidity:    {4, 44},
	}
}

// New validates the rings and builds a Registry. Validation guards the rotation
// algorithm: the active id must always be found in its ring, and no inbound id may
// be claimed by two roles (controller confirmations arrive as the negated node id).
func New(rings [RoleCount][]int, terminateID int) (*Registry, error) {
	reg := &Registry{terminateID: terminateID}
	owner := map[int]Role{}
	claim := func(id int, r Role) error {
		if id == terminateID {
			return fmt.Errorf("%w: %s id %d equals terminate id", ErrIDCollision, r, id)
		}
		if prev, ok := owner[id]; ok {
			if prev == r {
				return fmt.Errorf("%w: %s id %d", ErrDuplicateNode, r, id)
			}
			return fmt.Errorf("%w: %s id %d already used by %s", ErrIDCollision, r, id, prev)
		}
		owner[id] = r
		return nil
	}
	for _, r := range Roles {
		ring := rings[r]
		if len(ring) == 0 {
			return nil, fmt.Errorf("%s: %w", r, ErrEmptyRing)
		}
		for _, id := range ring {
			if id <= 0 {
				return nil, fmt.Errorf("%w: %s uses %d, node ids must be positive", ErrInvalidNodeID, r, id)
			}
			if err := claim(id, r); err != nil {
				return nil, err
			}
			if r.IsController() {
				if err := claim(ConfirmationID(id), r); err != nil {
					return nil, err
				}
			}
		}
		reg.rings[r] = append([]int(nil), ring...)
	}
	return reg, nil
}

// Default returns the registry built from DefaultRings.
func Default() *Registry {
	reg, err := New(DefaultRings(), DefaultTerminateID)
	if err != nil {
		panic(err)
	}
	return reg
}

// Ring returns a copy of the candidate ring for the role.
func (r *Registry) Ring(role Role) []int {
	return append([]int(nil), r.rings[role]...)
}

func (r *Registry) Primary(role Role) int { return r.rings[role][0] }

func (r *Registry) TerminateID() int { return r.terminateID }

// ConfirmationID is the inbound id a controller node uses to acknowledge a command.
func ConfirmationID(nodeID int) int { return -nodeID }

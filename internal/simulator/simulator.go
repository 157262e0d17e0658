// v1
// internal/simulator/simulator.go
// Package simulator plays the room and its redundant sensor and controller nodes on the
// message bus, so the monitor can be run and its failover exercised end to end.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"nrgchamp/ecsmonitor/internal/registry"
	"nrgchamp/ecsmonitor/internal/transport"
)

var ErrUnknownNode = errors.New("simulator: unknown node")

type Simulator struct {
	log *slog.Logger
	cfg Config
	bus transport.Transport
	reg *registry.Registry

	mu     sync.Mutex
	env    Environment
	nodes  map[int]*Node
	order  []int
	last   time.Time
	halted bool
}

// Status is the observer view served on /status.
type Status struct {
	Environment Environment `json:"environment"`
	Nodes       []Node      `json:"nodes"`
	Halted      bool        `json:"halted"`
}

// New creates one node for every id in every ring of reg.
func New(cfg Config, reg *registry.Registry, bus transport.Transport, log *slog.Logger) *Simulator {
	if log == nil {
		log = slog.Default()
	}
	s := &Simulator{
		log: log, cfg: cfg, bus: bus, reg: reg,
		env: Environment{
			Temperature: cfg.InitialTemperature,
			Humidity:    cfg.InitialHumidity,
		},
		nodes: map[int]*Node{},
	}
	for _, r := range registry.Roles {
		for _, id := range reg.Ring(r) {
			s.nodes[id] = &Node{ID: id, Role: r, RoleKey: r.Key()}
			s.order = append(s.order, id)
		}
	}
	return s
}

// Run registers with the bus and steps the room every cfg.Step until the terminate
// message arrives or ctx ends.
func (s *Simulator) Run(ctx context.Context) error {
	reg, err := s.bus.Register(ctx)
	if err != nil {
		return fmt.Errorf("simulator register: %w", err)
	}
	s.log.Info("simulator registered", "participant", reg.ParticipantID, "nodes", len(s.order))

	t := time.NewTicker(s.cfg.Step)
	defer t.Stop()
	s.log.Info("physics loop started", "step", s.cfg.Step.String())
	for {
		select {
		case now := <-t.C:
			if s.step(ctx, now) {
				s.log.Warn("halt message received, simulator stopping")
				s.unregister(ctx)
				return nil
			}
		case <-ctx.Done():
			s.log.Info("physics loop stopped")
			s.unregister(ctx)
			return nil
		}
	}
}

func (s *Simulator) unregister(ctx context.Context) {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.bus.Unregister(uctx); err != nil {
		s.log.Error("error unregistering", "error", err)
	}
}

// step handles pending commands, advances the room, then publishes one reading per
// live sensor node. It reports whether the terminate message was seen.
func (s *Simulator) step(ctx context.Context, now time.Time) bool {
	msgs, err := s.bus.Fetch(ctx)
	if err != nil && ctx.Err() == nil {
		s.log.Warn("fetch failed", "error", err)
	}

	var out []transport.Message
	s.mu.Lock()
	for _, m := range msgs {
		if m.ID == s.reg.TerminateID() {
			s.halted = true
			continue
		}
		n, ok := s.nodes[m.ID]
		if !ok || n.Failed || !n.Role.IsController() {
			continue
		}
		if !s.env.apply(n.Role, m.Payload) {
			s.log.Warn("unknown command", "node", n.ID, "payload", m.Payload)
			continue
		}
		n.LastCommand = m.Payload
		out = append(out, transport.Message{ID: registry.ConfirmationID(n.ID), Payload: m.Payload})
	}
	dt := s.cfg.Step
	if !s.last.IsZero() {
		dt = now.Sub(s.last)
	}
	s.last = now
	s.env.integrate(s.cfg, dt)
	halted := s.halted
	if !halted {
		for _, id := range s.order {
			n := s.nodes[id]
			if n.Failed {
				continue
			}
			switch n.Role {
			case registry.SensorTemperature:
				out = append(out, transport.Message{ID: id, Payload: strconv.FormatFloat(s.env.Temperature, 'f', 2, 64)})
			case registry.SensorHumidity:
				out = append(out, transport.Message{ID: id, Payload: strconv.FormatFloat(s.env.Humidity, 'f', 2, 64)})
			}
		}
	}
	s.mu.Unlock()

	for _, m := range out {
		if err := s.bus.Send(ctx, m); err != nil {
			s.log.Warn("publish failed", "id", m.ID, "error", err)
		}
	}
	return halted
}

// Fail stops node id from publishing and answering commands.
func (s *Simulator) Fail(id int) error { return s.setFailed(id, true) }

func (s *Simulator) Recover(id int) error { return s.setFailed(id, false) }

func (s *Simulator) setFailed(id int, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	n.Failed = failed
	s.log.Info("node state changed", "node", id, "role", n.RoleKey, "failed", failed)
	return nil
}

func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Environment: s.env, Halted: s.halted}
	for _, id := range s.order {
		st.Nodes = append(st.Nodes, *s.nodes[id])
	}
	return st
}

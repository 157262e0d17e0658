// v1
// internal/circuitbreaker/circuitbreaker.go
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

var ErrOpen = errors.New("circuit breaker is open; fast-fail")

// Config holds the breaker tunables.
type Config struct {
	MaxFailures      int           // number of consecutive failures before opening
	ResetTimeout     time.Duration // how long to wait before probing again
	SuccessesToClose int           // number of successes required in HalfOpen before closing
}

type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	recentFails   int
	halfOpenOK    int
	openedAt      time.Time
	now           func() time.Time
	probe         func(ctx context.Context) error
	transitionsCb func(from, to State)
}

func New(name string, cfg Config, probe func(ctx context.Context) error, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	if cfg.SuccessesToClose < 1 {
		cfg.SuccessesToClose = 1
	}
	b := &Breaker{name: name, cfg: cfg, logger: logger, state: Closed, probe: probe, now: time.Now}
	b.logger.Info("breaker_created", "name", name, "state", b.state.String(), "maxFailures", cfg.MaxFailures, "resetTimeout", cfg.ResetTimeout.String())
	return b
}

// OnTransition registers a callback invoked (outside the lock) on every state change.
func (b *Breaker) OnTransition(cb func(from, to State)) {
	b.mu.Lock()
	b.transitionsCb = cb
	b.mu.Unlock()
}

func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.state
	openedAt := b.openedAt
	b.mu.Unlock()

	if state == Open {
		if b.now().Sub(openedAt) < b.cfg.ResetTimeout {
			b.logger.Warn("breaker_fast_fail", "name", b.name, "since_open", b.now().Sub(openedAt).String())
			return ErrOpen
		}
		if err := b.tryProbe(ctx); err != nil {
			return err
		}
		state = HalfOpen
	}

	err := op(ctx)
	if state == HalfOpen {
		b.onHalfOpenResult(err)
	} else if err == nil {
		b.onSuccess()
	} else {
		b.onFailure(err)
	}
	if err != nil && b.State() == Open {
		return ErrOpen
	}
	return err
}

func (b *Breaker) tryProbe(ctx context.Context) error {
	b.transition(HalfOpen)
	b.logger.Info("breaker_probe_start", "name", b.name)
	if b.probe == nil {
		return nil
	}
	if err := b.probe(ctx); err != nil {
		b.logger.Warn("breaker_probe_failed", "name", b.name, "error", err.Error())
		b.reopen()
		return ErrOpen
	}
	b.logger.Info("breaker_probe_ok", "name", b.name)
	return nil
}

func (b *Breaker) onHalfOpenResult(err error) {
	if err != nil {
		b.logger.Warn("breaker_halfopen_op_failed", "name", b.name, "error", err.Error())
		b.reopen()
		return
	}
	b.mu.Lock()
	b.halfOpenOK++
	done := b.halfOpenOK >= b.cfg.SuccessesToClose
	b.mu.Unlock()
	if done {
		b.transition(Closed)
		b.logger.Info("breaker_closed_after_probe", "name", b.name)
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	b.recentFails = 0
	b.mu.Unlock()
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	b.recentFails++
	fails := b.recentFails
	b.mu.Unlock()
	b.logger.Warn("operation_failure", "name", b.name, "failures", fails, "error", err.Error())
	if fails >= b.cfg.MaxFailures {
		b.reopen()
		b.logger.Error("breaker_opened", "name", b.name, "maxFailures", b.cfg.MaxFailures)
	}
}

func (b *Breaker) reopen() {
	b.mu.Lock()
	b.openedAt = b.now()
	b.mu.Unlock()
	b.transition(Open)
}

func (b *Breaker) transition(to State) {
	b.mu.Lock()
	from := b.state
	b.state = to
	switch to {
	case Closed:
		b.recentFails = 0
		b.halfOpenOK = 0
	case HalfOpen:
		b.halfOpenOK = 0
	}
	cb := b.transitionsCb
	b.mu.Unlock()
	if from != to {
		b.logger.Info("breaker_transition", "name", b.name, "from", from.String(), "to", to.String())
		if cb != nil {
			cb(from, to)
		}
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

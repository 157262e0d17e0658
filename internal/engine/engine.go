// v1
// internal/engine/engine.go
// Package engine runs the monitor's control loop: fetch, ingest, decide, dispatch,
// sleep, then re-evaluate channel health. The loop goroutine owns all channel state;
// other goroutines see it through published snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nrgchamp/ecsmonitor/internal/alert"
	"nrgchamp/ecsmonitor/internal/control"
	"nrgchamp/ecsmonitor/internal/dispatch"
	"nrgchamp/ecsmonitor/internal/health"
	"nrgchamp/ecsmonitor/internal/ingest"
	"nrgchamp/ecsmonitor/internal/metrics"
	"nrgchamp/ecsmonitor/internal/registry"
	"nrgchamp/ecsmonitor/internal/transport"
)

var (
	// ErrNotRegistered wraps the transport error when the monitor cannot join the bus.
	ErrNotRegistered  = errors.New("engine: registration failed")
	ErrAlreadyRunning = errors.New("engine: already running")
)

const unregisterTimeout = 5 * time.Second

type Options struct {
	Registry          *registry.Registry
	Health            health.Config
	Ranges            *control.Ranges
	Transport         transport.Transport
	Alerts            alert.Sink
	Metrics           *metrics.Metrics
	Remedy            transport.Remedy
	Logger            *slog.Logger
	LoopDelay         time.Duration
	LivenessOnReceipt bool
	Now               func() time.Time
}

type Engine struct {
	lg       *slog.Logger
	bus      transport.Transport
	ranges   *control.Ranges
	tracker  *health.Tracker
	ingest   *ingest.Ingestor
	dispatch *dispatch.Dispatcher
	alerts   alert.Sink
	metrics  *metrics.Metrics
	remedy   transport.Remedy
	delay    time.Duration
	now      func() time.Time

	running  atomic.Bool
	halted   atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	haltOnce sync.Once
	haltCh   chan struct{}
	snap     atomic.Pointer[Snapshot]

	// loop-owned
	reg      transport.Registration
	cycle    uint64
	decision control.Decision
}

func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.New("engine: nil registry")
	}
	if opts.Transport == nil {
		return nil, errors.New("engine: nil transport")
	}
	if opts.LoopDelay <= 0 {
		return nil, errors.New("engine: loop delay must be > 0")
	}
	tracker, err := health.New(opts.Registry, opts.Health)
	if err != nil {
		return nil, err
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	e := &Engine{
		lg:       lg,
		bus:      opts.Transport,
		ranges:   opts.Ranges,
		tracker:  tracker,
		ingest:   ingest.New(tracker, opts.Registry.TerminateID(), opts.LivenessOnReceipt),
		dispatch: dispatch.New(opts.Transport, opts.Registry.TerminateID(), lg),
		alerts:   opts.Alerts,
		metrics:  opts.Metrics,
		remedy:   opts.Remedy,
		delay:    opts.LoopDelay,
		now:      opts.Now,
		stop:     make(chan struct{}),
		haltCh:   make(chan struct{}),
	}
	if e.ranges == nil {
		e.ranges = control.DefaultRanges()
	}
	if e.alerts == nil {
		e.alerts = alert.LogSink{Log: lg}
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.decision = control.Decide(control.Sample{}, control.Sample{}, e.ranges.Get(control.Temperature), e.ranges.Get(control.Humidity))
	e.publish(false)
	return e, nil
}

// Run registers with the bus and loops until a terminate message, Halt, Stop or ctx
// cancellation. An orderly stop returns nil.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	reg, err := e.bus.Register(ctx)
	if err != nil {
		e.running.Store(false)
		e.lg.Error("registration failed", "error", err)
		return fmt.Errorf("%w: %w", ErrNotRegistered, err)
	}
	e.reg = reg
	e.lg.Info("registered with the message bus", "participant", reg.ParticipantID, "registered_at", reg.RegisteredAt.Format(time.RFC3339))
	e.lg.Info("engine start", "delay", e.delay.String(), "retry_limit", e.tracker.Config().RetryLimit)
	e.publish(true)

	for {
		terminate := e.runCycle(ctx)
		if terminate || e.halted.Load() {
			e.lg.Warn("halt message received, shutting down")
			e.cycle++
			e.metrics.CycleDone()
			e.shutdown(ctx)
			return nil
		}
		if !e.sleep(ctx) {
			if e.halted.Load() {
				e.lg.Warn("halt requested, shutting down")
				e.cycle++
				e.metrics.CycleDone()
			} else {
				e.lg.Info("engine stop")
			}
			e.shutdown(ctx)
			return nil
		}
		e.evaluate()
		e.cycle++
		e.metrics.CycleDone()
		e.publish(true)
	}
}

// runCycle fetches and applies one batch, then decides and dispatches. It reports
// whether the batch carried the terminate id. Once ctx is cancelled nothing is
// decided or sent.
func (e *Engine) runCycle(ctx context.Context) bool {
	now := e.now()
	batch, err := e.bus.Fetch(ctx)
	if err != nil && ctx.Err() == nil {
		e.metrics.FetchFailure()
		e.lg.Error("error getting message queue", "error", err)
		e.recoverBus(ctx)
	}
	if ctx.Err() != nil {
		return false
	}
	res := e.ingest.Apply(batch, now)
	for _, k := range ingest.Kinds {
		if n := res.Count(k); n > 0 {
			e.metrics.Message(k.String(), n)
		}
	}
	for _, perr := range res.Errors {
		var pe *ingest.ParseError
		if errors.As(perr, &pe) {
			e.metrics.ParseError(pe.Role)
		}
		e.lg.Warn("error reading sensor value", "error", perr)
	}

	temp, humi := e.ingest.Readings()
	e.metrics.Readings(temp, humi)
	e.lg.Info("readings", "temperature", formatSample(temp, control.Temperature), "humidity", formatSample(humi, control.Humidity))

	e.decision = control.Decide(temp, humi, e.ranges.Get(control.Temperature), e.ranges.Get(control.Humidity))
	e.metrics.Decision(e.decision)
	to := dispatch.Targets{
		Temperature: e.tracker.Active(registry.ControllerTemperature),
		Humidity:    e.tracker.Active(registry.ControllerHumidity),
	}
	if err := e.dispatch.Dispatch(ctx, e.decision, to); err != nil {
		e.metrics.SendFailures(countSendErrors(err))
	}
	return res.Terminate
}

// recoverBus checks whether the broker still answers and, when it does not, runs the
// remedy and rebuilds the transport session. Nothing here stops the loop.
func (e *Engine) recoverBus(ctx context.Context) {
	if err := e.bus.Ping(ctx); err == nil {
		return
	}
	e.lg.Warn("message bus unavailable, restarting it")
	if e.remedy != nil {
		if err := e.remedy.Run(ctx); err != nil {
			e.lg.Error("error restarting message bus", "error", err)
		}
	}
	if err := e.bus.Reconnect(ctx); err != nil {
		e.lg.Error("reconnect failed", "error", err)
		return
	}
	e.lg.Info("message bus reconnected")
}

func (e *Engine) evaluate() {
	for _, ev := range e.tracker.Evaluate(e.now()) {
		e.metrics.HealthEvent(ev)
		if err := e.alerts.Post(alert.FromEvent(ev)); err != nil {
			e.lg.Error("alert delivery failed", "error", err)
		}
	}
	e.metrics.Channels(e.tracker.States())
}

func (e *Engine) sleep(ctx context.Context) bool {
	t := time.NewTimer(e.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.stop:
		return false
	case <-e.haltCh:
		return false
	case <-t.C:
		return true
	}
}

func (e *Engine) shutdown(ctx context.Context) {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unregisterTimeout)
	defer cancel()
	if err := e.bus.Unregister(uctx); err != nil {
		e.lg.Error("error unregistering", "error", err)
	}
	e.publish(false)
	e.running.Store(false)
	e.lg.Info("simulation stopped", "cycles", e.cycle)
}

// Stop ends the loop at its next suspension point.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Halt broadcasts the terminate message and stops this monitor after the current
// cycle, whether or not the bus echoes the message back. A loop waiting between
// cycles stops at once.
func (e *Engine) Halt(ctx context.Context) error {
	e.lg.Warn("halt requested")
	err := e.dispatch.Halt(ctx)
	e.halted.Store(true)
	e.haltOnce.Do(func() { close(e.haltCh) })
	return err
}

// SetRange replaces an operator range; the loop applies it on its next decision.
func (e *Engine) SetRange(q control.Quantity, rg control.Range) error {
	if _, err := e.ranges.Set(q, rg); err != nil {
		return err
	}
	e.lg.Info(fmt.Sprintf("%s range changed to %.2f%s - %.2f%s", q, rg.Low, q.Unit(), rg.High, q.Unit()))
	return nil
}

func (e *Engine) Ranges() *control.Ranges { return e.ranges }

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() Snapshot { return *e.snap.Load() }

func (e *Engine) publish(running bool) {
	temp, humi := e.ingest.Readings()
	s := &Snapshot{
		Running:       running,
		Cycle:         e.cycle,
		ParticipantID: e.reg.ParticipantID,
		Temperature:   sampleValue(temp),
		Humidity:      sampleValue(humi),
		Decision:      e.decision,
		Channels:      channelStatuses(e.tracker.States()),
		Ranges:        e.ranges.All(),
		UpdatedAt:     e.now(),
	}
	if !e.reg.RegisteredAt.IsZero() {
		t := e.reg.RegisteredAt
		s.RegisteredAt = &t
	}
	e.snap.Store(s)
}

func formatSample(s control.Sample, q control.Quantity) string {
	if !s.Known {
		return "--"
	}
	return fmt.Sprintf("%.2f%s", s.Value, q.Unit())
}

func countSendErrors(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}

// Package engine schedules the two automation workflows.
//
// The active loop polls the task store for records waiting to be added and
// walks each one through the friend-request state machine. The passive loop
// scans the client's new-contacts list on a jittered schedule and reconciles
// what it finds back into the store. Both loops share one uilock.Mutex, so
// the desktop client is only ever driven by one of them at a time.
//
// Every log record and lifecycle change is published on an event.Bus, which
// is the contract towards front-ends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/friendflow/internal/config"
	"github.com/Iron-Ham/friendflow/internal/event"
	"github.com/Iron-Ham/friendflow/internal/logging"
	"github.com/Iron-Ham/friendflow/internal/uilock"
	"github.com/Iron-Ham/friendflow/internal/welcome"
)

// Bounds applied by the setters. MaxInterval also caps the jitter.
const (
	MinActiveInterval  = 3 * time.Second
	MinPassiveInterval = 5 * time.Second
	MaxInterval        = 24 * time.Hour
)

// ErrStopTimeout is returned by Stop when a loop did not exit in time. The
// loop keeps running in the background until its current step returns.
var ErrStopTimeout = errors.New("engine: loops did not stop in time")

// State is the engine lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Counters are the cumulative outcomes since the engine was created.
type Counters struct {
	Applied  int64 `json:"applied"`
	Welcomed int64 `json:"welcomed"`
	Failed   int64 `json:"failed"`
}

// welcomeState is replaced wholesale; readers never see a partial update.
type welcomeState struct {
	enabled bool
	steps   []welcome.Step
	source  welcome.Source
}

// Engine runs the active and passive loops. Create one with New.
type Engine struct {
	cfg *config.Config
	// base is the caller's logger; logger adds the engine component.
	base   *logging.Logger
	logger *logging.Logger
	bus    *event.Bus
	lock   *uilock.Mutex

	store   Store
	driver  Driver
	journal Journal
	// injected marks dependencies supplied through options; the others are
	// rebuilt on every Start and released on Stop.
	injected struct{ store, driver, journal bool }

	activeInterval  atomic.Int64
	passiveInterval atomic.Int64
	jitter          atomic.Int64
	welcome         atomic.Pointer[welcomeState]
	paused          atomic.Bool

	applied  atomic.Int64
	welcomed atomic.Int64
	failed   atomic.Int64

	// passiveFloor is the shortest wait between two passive scans and
	// pausePoll how often a paused loop rechecks.
	passiveFloor time.Duration
	pausePoll    time.Duration

	// mu serializes Start and Stop.
	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
	watcher *welcome.Watcher
	owned   []closer

	runMu  sync.RWMutex
	runID  string
	runLog *logging.Logger
}

// New creates a stopped engine.
func New(cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		cfg:          cfg,
		passiveFloor: 10 * time.Second,
		pausePoll:    time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.injected.store = e.store != nil
	e.injected.driver = e.driver != nil
	e.injected.journal = e.journal != nil
	if e.logger == nil {
		e.logger = logging.NopLogger()
	}
	if e.bus == nil {
		e.bus = event.NewBus()
	}
	if e.lock == nil {
		e.lock = uilock.New()
	}
	e.base = e.logger
	e.logger = e.base.WithComponent("engine")
	e.runLog = e.logger

	bus := e.bus
	e.logger.Observe(func(r logging.Record) {
		bus.Publish(event.NewLogEvent(r.Time, r.Level, r.Message, r.Attrs))
	})

	e.activeInterval.Store(int64(clamp(cfg.Engine.ActiveInterval(), MinActiveInterval)))
	e.passiveInterval.Store(int64(clamp(cfg.Engine.PassiveInterval(), MinPassiveInterval)))
	e.jitter.Store(int64(clamp(cfg.Engine.Jitter(), 0)))
	e.welcome.Store(&welcomeState{enabled: cfg.Welcome.Enabled})
	return e
}

// Bus returns the event bus.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Lock returns the UI mutex guarding the driver.
func (e *Engine) Lock() *uilock.Mutex { return e.lock }

// Start checks connectivity, loads the welcome steps and launches both
// loops. Calling Start on a running engine is a no-op. ctx bounds the
// startup checks only.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return nil
	}

	owned, err := e.buildDeps()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if err := e.store.Ping(ctx); err != nil {
		closeAll(owned)
		return fmt.Errorf("engine: task store unreachable: %w", err)
	}
	e.driver.SetLedger(e.journal)

	runID := uuid.NewString()
	e.runMu.Lock()
	e.runID = runID
	e.runLog = e.logger.WithRun(runID)
	e.runMu.Unlock()
	logger := e.log()

	e.loadWelcome()
	if w := e.cfg.Welcome; w.StepsFile != "" && w.WatchFile {
		watcher, err := welcome.NewWatcher(w.StepsFile, e.SetWelcomeSteps, logger)
		if err != nil {
			logger.Warn("welcome steps file will not be reloaded", "path", w.StepsFile, "error", err)
		} else {
			e.watcher = watcher
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.stopCh = make(chan struct{})
	e.owned = owned
	e.running.Store(true)
	e.paused.Store(false)

	e.wg.Add(1)
	go e.activeLoop(loopCtx)
	if e.cfg.Engine.PassiveEnabled {
		e.wg.Add(1)
		go e.passiveLoop(loopCtx)
	}

	logger.Info("engine started",
		"active_interval", e.ActiveInterval().String(),
		"passive_interval", e.PassiveInterval().String(),
		"passive_enabled", e.cfg.Engine.PassiveEnabled,
	)
	e.bus.Publish(event.NewEngineStateEvent(event.StateStarted, runID))
	return nil
}

// loadWelcome resolves the configured step list. Welcome is switched off
// when it is enabled without any steps.
func (e *Engine) loadWelcome() {
	logger := e.log()
	steps, source, err := welcome.Resolve(e.cfg.Welcome)
	if err != nil {
		logger.Warn("could not load welcome steps", "source", string(source), "error", err)
	}
	state := &welcomeState{enabled: e.welcome.Load().enabled, steps: steps, source: source}
	if state.enabled && len(steps) == 0 {
		logger.Warn("welcome is enabled but no steps are configured, disabling it")
		state.enabled = false
	}
	e.welcome.Store(state)
	logger.Info("welcome steps loaded", "source", string(source), "count", len(steps), "enabled", state.enabled)
}

// Stop signals both loops and waits up to the configured stop timeout for
// them to exit. Stopping a stopped engine is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running.Load() {
		return nil
	}
	e.running.Store(false)
	close(e.stopCh)
	e.cancel()
	watcher := e.watcher
	e.watcher = nil
	owned := e.owned
	e.owned = nil
	runID := e.RunID()
	logger := e.log()

	if watcher != nil {
		_ = watcher.Close()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timeout := e.cfg.Engine.StopTimeout()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	var err error
	select {
	case <-done:
		closeAll(owned)
	case <-time.After(timeout):
		err = ErrStopTimeout
		logger.Warn("loops still running after stop timeout", "timeout", timeout.String())
		go func() {
			<-done
			closeAll(owned)
		}()
	}

	logger.Info("engine stopped")
	e.bus.Publish(event.NewEngineStateEvent(event.StateStopped, runID))
	return err
}

// Pause suspends both loops after their current step. It returns false if
// the engine was already paused.
func (e *Engine) Pause() bool {
	if !e.paused.CompareAndSwap(false, true) {
		return false
	}
	e.log().Info("engine paused")
	e.bus.Publish(event.NewEngineStateEvent(event.StatePaused, e.RunID()))
	return true
}

// Resume continues paused loops. It returns false if the engine was not
// paused.
func (e *Engine) Resume() bool {
	if !e.paused.CompareAndSwap(true, false) {
		return false
	}
	e.log().Info("engine resumed")
	e.bus.Publish(event.NewEngineStateEvent(event.StateResumed, e.RunID()))
	return true
}

// State reports whether the engine is stopped, running or paused.
func (e *Engine) State() State {
	switch {
	case !e.running.Load():
		return StateStopped
	case e.paused.Load():
		return StatePaused
	default:
		return StateRunning
	}
}

// RunID identifies the current or last run. Empty before the first Start.
func (e *Engine) RunID() string {
	e.runMu.RLock()
	defer e.runMu.RUnlock()
	return e.runID
}

// clamp bounds d to [lo, MaxInterval].
func clamp(d, lo time.Duration) time.Duration {
	return min(max(d, lo), MaxInterval)
}

// SetActiveInterval changes the task store polling period, clamped to
// [MinActiveInterval, MaxInterval], and returns the value applied.
func (e *Engine) SetActiveInterval(d time.Duration) time.Duration {
	d = clamp(d, MinActiveInterval)
	e.activeInterval.Store(int64(d))
	e.log().Info("active interval updated", "interval", d.String())
	return d
}

// SetPassiveInterval changes the new-contacts scan period, clamped to
// [MinPassiveInterval, MaxInterval], and returns the value applied.
func (e *Engine) SetPassiveInterval(d time.Duration) time.Duration {
	d = clamp(d, MinPassiveInterval)
	e.passiveInterval.Store(int64(d))
	e.log().Info("passive interval updated", "interval", d.String())
	return d
}

// SetJitter changes the passive scan jitter, clamped to [0, MaxInterval],
// and returns the value applied.
func (e *Engine) SetJitter(d time.Duration) time.Duration {
	d = clamp(d, 0)
	e.jitter.Store(int64(d))
	e.log().Info("jitter updated", "jitter", d.String())
	return d
}

func (e *Engine) ActiveInterval() time.Duration  { return time.Duration(e.activeInterval.Load()) }
func (e *Engine) PassiveInterval() time.Duration { return time.Duration(e.passiveInterval.Load()) }
func (e *Engine) Jitter() time.Duration          { return time.Duration(e.jitter.Load()) }

// ToggleWelcome switches welcome delivery on or off.
func (e *Engine) ToggleWelcome(enabled bool) {
	for {
		cur := e.welcome.Load()
		next := &welcomeState{enabled: enabled, steps: cur.steps, source: cur.source}
		if e.welcome.CompareAndSwap(cur, next) {
			break
		}
	}
	if enabled && len(e.welcome.Load().steps) == 0 {
		e.log().Warn("welcome enabled without steps, nothing will be sent")
	}
	e.log().Info("welcome toggled", "enabled", enabled)
}

// SetWelcomeSteps replaces the step list used by subsequent deliveries.
func (e *Engine) SetWelcomeSteps(steps []welcome.Step) {
	steps = append([]welcome.Step(nil), steps...)
	for {
		cur := e.welcome.Load()
		next := &welcomeState{enabled: cur.enabled, steps: steps, source: welcome.SourceFile}
		if e.welcome.CompareAndSwap(cur, next) {
			break
		}
	}
	e.log().Info("welcome steps replaced", "count", len(steps))
	e.bus.Publish(event.NewStepsReloadedEvent(string(welcome.SourceFile), len(steps)))
}

// WelcomeEnabled reports whether welcome delivery is on.
func (e *Engine) WelcomeEnabled() bool { return e.welcome.Load().enabled }

// WelcomeSteps returns the current step list.
func (e *Engine) WelcomeSteps() []welcome.Step {
	return append([]welcome.Step(nil), e.welcome.Load().steps...)
}

// Counters returns a snapshot of the outcome counters.
func (e *Engine) Counters() Counters {
	return Counters{
		Applied:  e.applied.Load(),
		Welcomed: e.welcomed.Load(),
		Failed:   e.failed.Load(),
	}
}

func (e *Engine) publishCounters() {
	c := e.Counters()
	e.bus.Publish(event.NewCountersEvent(c.Applied, c.Welcomed, c.Failed))
}

func (e *Engine) log() *logging.Logger {
	e.runMu.RLock()
	defer e.runMu.RUnlock()
	return e.runLog
}

// wait sleeps for d or until Stop. It reports false when stopped.
func (e *Engine) wait(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

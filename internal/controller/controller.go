// Package controller implements the lifecycle controller: one cancellable
// background worker that owns a wrapped tool's install/start/monitor/stop
// lifecycle and exposes a minimal observable contract to callers.
package controller

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/storagedv/toolproctor/internal/classify"
	"github.com/storagedv/toolproctor/internal/config"
	"github.com/storagedv/toolproctor/internal/events"
	"github.com/storagedv/toolproctor/internal/fault"
	"github.com/storagedv/toolproctor/internal/lock"
	"github.com/storagedv/toolproctor/internal/model"
	"github.com/storagedv/toolproctor/internal/monitor"
	"github.com/storagedv/toolproctor/internal/procmgr"
	"github.com/storagedv/toolproctor/internal/report"
)

// ProcessHandle is the controller's view of a started process.
type ProcessHandle interface {
	PID() int
	Alive() bool
	Output() *procmgr.OutputBuffer
}

// ProcessManager is the controller's view of the process layer. The real
// implementation wraps procmgr.Manager; tests substitute fakes.
type ProcessManager interface {
	IsInstalled() bool
	Install(ctx context.Context) error
	Uninstall(ctx context.Context)
	StartProcess(ctx context.Context, args []string) (ProcessHandle, error)
	StopProcess(h ProcessHandle) error
	IsRunning(h ProcessHandle) bool
}

// MonitorFactory builds the run's monitor once the process has started.
type MonitorFactory func(h ProcessHandle) (monitor.Monitor, error)

// Options configures a Controller. Tool, Schema, Config, Process,
// NewMonitor, and OutputDir are required; the rest have working defaults.
type Options struct {
	Tool       string
	Schema     config.Schema
	Config     config.Config
	Process    ProcessManager
	NewMonitor MonitorFactory
	OutputDir  string

	// Bus receives lifecycle events. A private bus is created when nil.
	Bus      *events.Bus
	Logger   *log.Logger
	LogLevel LogLevel

	// DisableRunLock skips the artifacts-dir flock (used by tests that
	// run many controllers against one temp dir).
	DisableRunLock bool
	// DisableAudit skips the JSONL audit trail.
	DisableAudit bool
}

// Controller drives one wrapped tool through its lifecycle. Callers and
// the worker share nothing but the read-only accessors and the Stop
// signal; the state machine is mutated only from the worker goroutine.
type Controller struct {
	tool       string
	schema     config.Schema
	proc       ProcessManager
	newMonitor MonitorFactory
	outputDir  string
	bus        *events.Bus
	ownBus     bool
	logger     *log.Logger
	logLevel   LogLevel
	noRunLock  bool
	noAudit    bool

	mu      sync.Mutex
	cfg     config.Config
	state   model.ControllerState
	result  model.ExecutionResult
	started bool
	lastErr int

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc
}

// New creates a Controller in the Idle state.
func New(opts Options) (*Controller, error) {
	if opts.Tool == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if opts.Schema == nil || opts.Process == nil || opts.NewMonitor == nil {
		return nil, fmt.Errorf("schema, process manager, and monitor factory are required")
	}
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	bus := opts.Bus
	ownBus := false
	if bus == nil {
		bus = events.NewBus(0)
		ownBus = true
	}
	return &Controller{
		tool:       opts.Tool,
		schema:     opts.Schema,
		proc:       opts.Process,
		newMonitor: opts.NewMonitor,
		outputDir:  opts.OutputDir,
		bus:        bus,
		ownBus:     ownBus,
		logger:     opts.Logger,
		logLevel:   opts.LogLevel,
		noRunLock:  opts.DisableRunLock,
		noAudit:    opts.DisableAudit,
		cfg:        opts.Config.Clone(),
		state:      model.StateIdle,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// SetConfig merges overrides into the controller's configuration. It is
// rejected while the background worker is running; once the run is
// terminal the configuration may be adjusted again (e.g. for inspection).
func (c *Controller) SetConfig(overrides config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started && !model.IsTerminal(c.state) {
		return fault.New(fault.KindConfig, "configuration is immutable while a run is in progress")
	}
	merged, err := c.schema.Merge(c.cfg, overrides)
	if err != nil {
		return err
	}
	c.cfg = merged
	return nil
}

// Start validates the configuration and launches the background worker.
// A config fault is the only error surfaced here; every later failure is
// reported through Status/Wait, never thrown from the worker.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fault.New(fault.KindConfig, "controller already started")
	}
	if err := c.schema.Validate(c.cfg); err != nil {
		return err
	}
	c.started = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx, c.cfg.Clone())

	c.log(LogLevelInfo, "start accepted out=%s", c.outputDir)
	return nil
}

// Stop requests cooperative cancellation. It never blocks and is safe to
// call from any goroutine, repeatedly, and on an already-terminal
// controller. The worker observes the signal at the top of its next loop
// iteration; an in-flight Poll or Install is allowed to complete.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.log(LogLevelInfo, "stop requested")
	})
}

// Wait blocks until the run reaches a terminal state or the timeout
// elapses. It induces no transition. Returns true when terminal.
func (c *Controller) Wait(timeout time.Duration) bool {
	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done returns a channel closed when the run is terminal.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Status is nil until the run is terminal, then true only for Completed.
func (c *Controller) Status() *bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result.Status == nil {
		return nil
	}
	v := *c.result.Status
	return &v
}

// ErrorCount returns the last observed error count, 0 if never incremented.
func (c *Controller) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// State returns the current lifecycle state.
func (c *Controller) State() model.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns a copy of the execution result.
func (c *Controller) Result() model.ExecutionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.result
	r.Artifacts = append([]string(nil), c.result.Artifacts...)
	return r
}

// IsInstalled reports whether the wrapped tool is installed.
func (c *Controller) IsInstalled() bool { return c.proc.IsInstalled() }

// Install installs the wrapped tool outside of a run.
func (c *Controller) Install(ctx context.Context) error { return c.proc.Install(ctx) }

// Uninstall removes the wrapped tool, best-effort.
func (c *Controller) Uninstall(ctx context.Context) { c.proc.Uninstall(ctx) }

func (c *Controller) stopRequested() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// run is the single background worker that owns every state transition.
func (c *Controller) run(ctx context.Context, cfg config.Config) {
	started := time.Now()
	defer close(c.done)
	defer c.cancel()
	if c.ownBus {
		defer c.bus.Close()
	}

	if !c.noAudit {
		audit, err := events.NewAuditTrail(filepath.Join(c.outputDir, "audit.jsonl"))
		if err != nil {
			c.log(LogLevelWarn, "audit trail unavailable error=%v", err)
		} else {
			detach := audit.Attach(c.bus, c.runID(started), c.tool)
			defer func() {
				detach()
				_ = audit.Close()
			}()
		}
	}

	if !c.noRunLock {
		runLock := lock.ForDir(c.outputDir)
		if err := runLock.TryLock(); err != nil {
			c.finalize(started, model.StateFailed, false, fmt.Sprintf("run lock: %v", err))
			return
		}
		defer func() { _ = runLock.Unlock() }()
	}

	if c.stopRequested() {
		c.finalize(started, model.StateStopped, false, "stopped before execution")
		return
	}

	// Install stage, only when the tool is absent. Install failures are
	// terminal: they are not transient.
	if !c.proc.IsInstalled() {
		c.transition(model.StateInstalling)
		if err := c.proc.Install(ctx); err != nil {
			c.log(LogLevelError, "install failed error=%v", err)
			c.finalize(started, model.StateFailed, false, err.Error())
			return
		}
		if c.stopRequested() {
			c.finalize(started, model.StateStopped, false, "stopped after install")
			return
		}
	}

	c.transition(model.StateStarting)
	runStart := time.Now()

	handle, err := c.proc.StartProcess(ctx, cfg.Args("run_args"))
	if err != nil {
		c.log(LogLevelError, "process start failed error=%v", err)
		c.finalize(started, model.StateFailed, false, err.Error())
		return
	}
	c.log(LogLevelInfo, "process running pid=%d", handle.PID())

	mon, err := c.newMonitor(handle)
	if err != nil {
		c.log(LogLevelError, "monitor setup failed error=%v", err)
		c.stopProcess(handle)
		c.finalize(started, model.StateFailed, false, err.Error())
		return
	}
	defer func() { _ = mon.Close() }()

	c.transition(model.StateMonitoring)

	timeout := cfg.Seconds("timeout_seconds", 100*time.Minute)
	interval := cfg.Seconds("check_interval_seconds", 2*time.Second)
	failOnAnyError := cfg.Bool("fail_on_any_error", true)

	// The monitor's own retry budgets (UI connect) must not outlive the
	// overall run budget.
	pollCtx, cancelPoll := context.WithDeadline(ctx, runStart.Add(timeout))
	defer cancelPoll()

	for {
		select {
		case <-c.stopCh:
			c.stopProcess(handle)
			c.finalize(started, model.StateStopped, false, "stopped by caller")
			return
		case <-time.After(interval):
		}

		reading, err := mon.Poll(pollCtx)
		if err != nil {
			c.log(LogLevelError, "monitor fault error=%v", err)
			c.bus.Publish(events.EventMonitorFault, map[string]any{"error": err.Error()})
			c.stopProcess(handle)
			c.finalize(started, model.StateFailed, false, err.Error())
			return
		}

		c.mu.Lock()
		if reading.ErrorCount > 0 {
			c.lastErr = reading.ErrorCount
		}
		c.mu.Unlock()

		outcome := classify.Classify(reading, time.Since(runStart), timeout, failOnAnyError)
		c.log(LogLevelDebug, "poll hint=%s errors=%d decision=%d",
			reading.Hint, reading.ErrorCount, outcome.Decision)

		switch outcome.Decision {
		case classify.Pass:
			c.stopProcess(handle)
			c.finalize(started, model.StateCompleted, true, outcome.Reason)
			return
		case classify.Fail:
			c.stopProcess(handle)
			c.finalize(started, model.StateFailed, false, outcome.Reason)
			return
		}
	}
}

// stopProcess tears down the external process if it is still alive.
func (c *Controller) stopProcess(h ProcessHandle) {
	if !c.proc.IsRunning(h) {
		return
	}
	if err := c.proc.StopProcess(h); err != nil {
		c.log(LogLevelWarn, "process stop error=%v", err)
	}
}

// transition moves to a non-terminal state, worker-side only.
func (c *Controller) transition(to model.ControllerState) {
	c.mu.Lock()
	from := c.state
	if err := model.ValidateStateTransition(from, to); err != nil {
		// A transition table violation is a programming error; log loudly
		// and refuse rather than corrupt the state machine.
		c.mu.Unlock()
		c.log(LogLevelError, "refused transition %s→%s error=%v", from, to, err)
		return
	}
	c.state = to
	c.mu.Unlock()

	c.log(LogLevelInfo, "state %s→%s", from, to)
	c.bus.Publish(events.EventStateTransition, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

// finalize enters a terminal state and writes the ExecutionResult exactly
// once, immediately before the transition becomes observable.
func (c *Controller) finalize(started time.Time, to model.ControllerState, status bool, detail string) {
	c.mu.Lock()
	if model.IsTerminal(c.state) {
		c.mu.Unlock()
		return
	}
	from := c.state
	if err := model.ValidateStateTransition(from, to); err != nil {
		c.mu.Unlock()
		c.log(LogLevelError, "refused terminal transition %s→%s error=%v", from, to, err)
		return
	}

	s := status
	c.result = model.ExecutionResult{
		Status:     &s,
		ErrorCount: c.lastErr,
		Detail:     detail,
		Artifacts:  report.ListArtifacts(c.outputDir),
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	c.state = to
	result := c.result
	c.mu.Unlock()

	c.log(LogLevelInfo, "state %s→%s status=%v errors=%d detail=%q",
		from, to, status, result.ErrorCount, detail)
	c.bus.Publish(events.EventStateTransition, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
	c.bus.Publish(events.EventRunFinished, map[string]any{
		"status":      status,
		"error_count": result.ErrorCount,
		"detail":      detail,
	})

	if _, err := report.Write(c.outputDir, report.RunReport{
		RunID:      c.runID(started),
		Tool:       c.tool,
		Result:     result,
		FinalState: to,
	}); err != nil {
		c.log(LogLevelWarn, "report write failed error=%v", err)
	}
}

func (c *Controller) runID(started time.Time) string {
	return fmt.Sprintf("%s-%s", c.tool, started.UTC().Format("20060102T150405Z"))
}

package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storagedv/toolproctor/internal/config"
	"github.com/storagedv/toolproctor/internal/events"
	"github.com/storagedv/toolproctor/internal/fault"
	"github.com/storagedv/toolproctor/internal/model"
	"github.com/storagedv/toolproctor/internal/monitor"
	"github.com/storagedv/toolproctor/internal/procmgr"
	"github.com/storagedv/toolproctor/internal/report"
)

type fakeHandle struct {
	mu    sync.Mutex
	alive bool
	out   *procmgr.OutputBuffer
}

func (h *fakeHandle) PID() int { return 4242 }

func (h *fakeHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *fakeHandle) Output() *procmgr.OutputBuffer { return h.out }

func (h *fakeHandle) exit() {
	h.mu.Lock()
	h.alive = false
	h.mu.Unlock()
}

type fakeProcess struct {
	mu         sync.Mutex
	installed  bool
	installErr error
	startErr   error
	installs   int
	starts     int
	stops      int
	handle     *fakeHandle
}

func (p *fakeProcess) IsInstalled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.installed
}

func (p *fakeProcess) Install(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installs++
	if p.installErr != nil {
		return p.installErr
	}
	p.installed = true
	return nil
}

func (p *fakeProcess) Uninstall(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installed = false
}

func (p *fakeProcess) StartProcess(ctx context.Context, args []string) (ProcessHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	if p.startErr != nil {
		return nil, p.startErr
	}
	p.handle = &fakeHandle{alive: true, out: &procmgr.OutputBuffer{}}
	return p.handle, nil
}

func (p *fakeProcess) StopProcess(h ProcessHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	if p.handle != nil {
		p.handle.exit()
	}
	return nil
}

func (p *fakeProcess) IsRunning(h ProcessHandle) bool {
	return h != nil && h.Alive()
}

// scriptedMonitor replays a fixed sequence of readings, repeating the last
// one once exhausted.
type scriptedMonitor struct {
	mu       sync.Mutex
	readings []model.MonitorReading
	errs     []error
	i        int
	closed   bool
}

func (m *scriptedMonitor) Poll(ctx context.Context) (model.MonitorReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.i
	if idx >= len(m.readings) {
		idx = len(m.readings) - 1
	}
	m.i++
	if idx < len(m.errs) && m.errs[idx] != nil {
		return model.MonitorReading{}, m.errs[idx]
	}
	return m.readings[idx], nil
}

func (m *scriptedMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func testToolSchema() config.Schema {
	return config.Schema{
		"timeout_seconds":        {Type: config.TypeFloat, Required: true},
		"check_interval_seconds": {Type: config.TypeFloat},
		"fail_on_any_error":      {Type: config.TypeBool},
		"run_args":               {Type: config.TypeString},
	}
}

func testToolConfig() config.Config {
	return config.Config{
		"timeout_seconds":        60.0,
		"check_interval_seconds": 0.005,
		"fail_on_any_error":      true,
	}
}

type testRig struct {
	ctrl *Controller
	proc *fakeProcess
	mon  *scriptedMonitor
	dir  string
}

func newRig(t *testing.T, proc *fakeProcess, mon *scriptedMonitor, cfg config.Config) *testRig {
	t.Helper()
	dir := t.TempDir()
	ctrl, err := New(Options{
		Tool:    "faketool",
		Schema:  testToolSchema(),
		Config:  cfg,
		Process: proc,
		NewMonitor: func(h ProcessHandle) (monitor.Monitor, error) {
			return mon, nil
		},
		OutputDir: dir,
	})
	require.NoError(t, err)
	return &testRig{ctrl: ctrl, proc: proc, mon: mon, dir: dir}
}

func requireTerminal(t *testing.T, c *Controller) {
	t.Helper()
	require.True(t, c.Wait(5*time.Second), "run never reached a terminal state")
}

func TestController_HappyPathWithInstall(t *testing.T) {
	proc := &fakeProcess{installed: false}
	mon := &scriptedMonitor{readings: []model.MonitorReading{
		{Hint: model.HintUnknown},
		{Hint: model.HintRunning},
		{Hint: model.HintPassed, Detail: "Result: PASS"},
	}}
	rig := newRig(t, proc, mon, testToolConfig())

	assert.Equal(t, model.StateIdle, rig.ctrl.State())
	assert.Nil(t, rig.ctrl.Status())

	require.NoError(t, rig.ctrl.Start())
	requireTerminal(t, rig.ctrl)

	assert.Equal(t, model.StateCompleted, rig.ctrl.State())
	status := rig.ctrl.Status()
	require.NotNil(t, status)
	assert.True(t, *status)
	assert.Equal(t, 0, rig.ctrl.ErrorCount())

	assert.Equal(t, 1, proc.installs, "absent tool must be installed first")
	assert.Equal(t, 1, proc.starts)
	assert.GreaterOrEqual(t, proc.stops, 1, "process must be torn down at the terminal transition")
	assert.True(t, mon.closed, "monitor must be closed")

	result := rig.ctrl.Result()
	assert.True(t, result.Passed())
	assert.Equal(t, "Result: PASS", result.Detail)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))

	rep, err := report.Read(rig.dir)
	require.NoError(t, err)
	assert.Equal(t, "faketool", rep.Tool)
	assert.Equal(t, model.StateCompleted, rep.FinalState)
	ok, err := report.Verify(rep)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestController_SkipsInstallWhenPresent(t *testing.T) {
	proc := &fakeProcess{installed: true}
	mon := &scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintPassed}}}
	rig := newRig(t, proc, mon, testToolConfig())

	require.NoError(t, rig.ctrl.Start())
	requireTerminal(t, rig.ctrl)

	assert.Equal(t, 0, proc.installs)
	assert.Equal(t, model.StateCompleted, rig.ctrl.State())
}

func TestController_FailsOnErrorCount(t *testing.T) {
	proc := &fakeProcess{installed: true}
	mon := &scriptedMonitor{readings: []model.MonitorReading{
		{Hint: model.HintRunning},
		{Hint: model.HintRunning, ErrorCount: 3},
	}}
	rig := newRig(t, proc, mon, testToolConfig())

	require.NoError(t, rig.ctrl.Start())
	requireTerminal(t, rig.ctrl)

	assert.Equal(t, model.StateFailed, rig.ctrl.State())
	status := rig.ctrl.Status()
	require.NotNil(t, status)
	assert.False(t, *status)
	assert.Equal(t, 3, rig.ctrl.ErrorCount())
	assert.Contains(t, rig.ctrl.Result().Detail, "3 error(s)")
}

func TestController_ToleratesErrorsWhenConfigured(t *testing.T) {
	proc := &fakeProcess{installed: true}
	mon := &scriptedMonitor{readings: []model.MonitorReading{
		{Hint: model.HintRunning, ErrorCount: 2},
		{Hint: model.HintPassed, ErrorCount: 2},
	}}
	cfg := testToolConfig()
	cfg["fail_on_any_error"] = false
	rig := newRig(t, proc, mon, cfg)

	require.NoError(t, rig.ctrl.Start())
	requireTerminal(t, rig.ctrl)

	assert.Equal(t, model.StateCompleted, rig.ctrl.State())
	assert.Equal(t, 2, rig.ctrl.ErrorCount())
}

func TestController_Timeout(t *testing.T) {
	proc := &fakeProcess{installed: true}
	mon := &scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintRunning}}}
	cfg := testToolConfig()
	cfg["timeout_seconds"] = 0.02
	rig := newRig(t, proc, mon, cfg)

	require.NoError(t, rig.ctrl.Start())
	requireTerminal(t, rig.ctrl)

	assert.Equal(t, model.StateFailed, rig.ctrl.State())
	assert.Contains(t, rig.ctrl.Result().Detail, "timeout")
}

func TestController_StopDuringMonitoring(t *testing.T) {
	proc := &fakeProcess{installed: true}
	mon := &scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintRunning}}}
	rig := newRig(t, proc, mon, testToolConfig())

	require.NoError(t, rig.ctrl.Start())
	time.Sleep(30 * time.Millisecond)
	rig.ctrl.Stop()
	requireTerminal(t, rig.ctrl)

	assert.Equal(t, model.StateStopped, rig.ctrl.State())
	status := rig.ctrl.Status()
	require.NotNil(t, status)
	assert.False(t, *status, "a stopped run never reports success")
	assert.GreaterOrEqual(t, proc.stops, 1)

	// Stop on a terminal controller is a no-op, as is calling it again.
	rig.ctrl.Stop()
	rig.ctrl.Stop()
	assert.Equal(t, model.StateStopped, rig.ctrl.State())
}

func TestController_StopBeforeStartIsObserved(t *testing.T) {
	proc := &fakeProcess{installed: true}
	mon := &scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintRunning}}}
	rig := newRig(t, proc, mon, testToolConfig())

	rig.ctrl.Stop()
	require.NoError(t, rig.ctrl.Start())
	requireTerminal(t, rig.ctrl)

	assert.Equal(t, model.StateStopped, rig.ctrl.State())
	assert.Equal(t, 0, proc.starts, "process must not launch after an early stop")
}

func TestController_StartValidatesSynchronously(t *testing.T) {
	proc := &fakeProcess{installed: true}
	mon := &scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintPassed}}}
	rig := newRig(t, proc, mon, config.Config{"check_interval_seconds": 0.005})

	err := rig.ctrl.Start()
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindConfig), "kind = %q", fault.KindOf(err))
	assert.Equal(t, model.StateIdle, rig.ctrl.State())
	assert.Equal(t, 0, proc.starts)
}

func TestController_StartTwiceRejected(t *testing.T) {
	proc := &fakeProcess{installed: true}
	mon := &scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintPassed}}}
	rig := newRig(t, proc, mon, testToolConfig())

	require.NoError(t, rig.ctrl.Start())
	require.Error(t, rig.ctrl.Start())
	requireTerminal(t, rig.ctrl)
}

func TestController_InstallFailureIsTerminal(t *testing.T) {
	proc := &fakeProcess{installErr: fault.New(fault.KindInstall, "installer exited abnormally")}
	mon := &scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintPassed}}}
	rig := newRig(t, proc, mon, testToolConfig())

	require.NoError(t, rig.ctrl.Start())
	requireTerminal(t, rig.ctrl)

	assert.Equal(t, model.StateFailed, rig.ctrl.State())
	assert.Equal(t, 0, proc.starts)
	assert.Contains(t, rig.ctrl.Result().Detail, "installer")
}

func TestController_ProcessStartFailureIsTerminal(t *testing.T) {
	proc := &fakeProcess{installed: true, startErr: fault.New(fault.KindProcess, "launch failed")}
	mon := &scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintPassed}}}
	rig := newRig(t, proc, mon, testToolConfig())

	require.NoError(t, rig.ctrl.Start())
	requireTerminal(t, rig.ctrl)

	assert.Equal(t, model.StateFailed, rig.ctrl.State())
}

func TestController_MonitorFaultFailsTheRun(t *testing.T) {
	proc := &fakeProcess{installed: true}
	mon := &scriptedMonitor{
		readings: []model.MonitorReading{{Hint: model.HintRunning}, {}},
		errs:     []error{nil, fault.New(fault.KindUI, "window not found after 60 attempts")},
	}
	rig := newRig(t, proc, mon, testToolConfig())

	require.NoError(t, rig.ctrl.Start())
	requireTerminal(t, rig.ctrl)

	assert.Equal(t, model.StateFailed, rig.ctrl.State())
	assert.Contains(t, rig.ctrl.Result().Detail, "window not found")
	assert.GreaterOrEqual(t, proc.stops, 1)
}

func TestController_SetConfig(t *testing.T) {
	proc := &fakeProcess{installed: true}
	mon := &scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintRunning}}}
	rig := newRig(t, proc, mon, testToolConfig())

	require.NoError(t, rig.ctrl.SetConfig(config.Config{"run_args": "-d 15"}))
	require.Error(t, rig.ctrl.SetConfig(config.Config{"bogus": 1}))

	require.NoError(t, rig.ctrl.Start())
	err := rig.ctrl.SetConfig(config.Config{"run_args": "-d 30"})
	require.Error(t, err, "config must be immutable while running")
	assert.True(t, fault.IsKind(err, fault.KindConfig))

	rig.ctrl.Stop()
	requireTerminal(t, rig.ctrl)
	require.NoError(t, rig.ctrl.SetConfig(config.Config{"run_args": "-d 30"}))
}

func TestController_AuditTrailWritten(t *testing.T) {
	proc := &fakeProcess{installed: true}
	mon := &scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintPassed}}}
	rig := newRig(t, proc, mon, testToolConfig())

	require.NoError(t, rig.ctrl.Start())
	requireTerminal(t, rig.ctrl)
	// Bus delivery is asynchronous; give the trail a moment to drain.
	time.Sleep(100 * time.Millisecond)

	entries, err := events.ReadTrail(rig.dir + "/audit.jsonl")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var sawFinish bool
	for _, e := range entries {
		assert.Equal(t, "faketool", e.Tool)
		if e.EventType == string(events.EventRunFinished) {
			sawFinish = true
		}
	}
	assert.True(t, sawFinish, "run_finished must be recorded")
}

func TestController_RunLockBlocksConcurrentRuns(t *testing.T) {
	dir := t.TempDir()
	newCtrl := func(mon *scriptedMonitor) *Controller {
		ctrl, err := New(Options{
			Tool:    "faketool",
			Schema:  testToolSchema(),
			Config:  testToolConfig(),
			Process: &fakeProcess{installed: true},
			NewMonitor: func(h ProcessHandle) (monitor.Monitor, error) {
				return mon, nil
			},
			OutputDir:    dir,
			DisableAudit: true,
		})
		require.NoError(t, err)
		return ctrl
	}

	first := newCtrl(&scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintRunning}}})
	require.NoError(t, first.Start())
	time.Sleep(30 * time.Millisecond)

	second := newCtrl(&scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintPassed}}})
	require.NoError(t, second.Start())
	requireTerminal(t, second)
	assert.Equal(t, model.StateFailed, second.State())
	assert.Contains(t, second.Result().Detail, "run lock")

	first.Stop()
	requireTerminal(t, first)
}

func TestController_ErrorsAreWrappedNeverThrown(t *testing.T) {
	// Everything after Start reports through state and result; Wait and
	// Status never panic and never return errors.
	proc := &fakeProcess{installed: true, startErr: errors.New("plain failure")}
	mon := &scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintPassed}}}
	rig := newRig(t, proc, mon, testToolConfig())

	require.NoError(t, rig.ctrl.Start())
	requireTerminal(t, rig.ctrl)
	assert.Equal(t, model.StateFailed, rig.ctrl.State())
	assert.Equal(t, "plain failure", rig.ctrl.Result().Detail)
}

func TestController_InstallAndUninstallPassthrough(t *testing.T) {
	proc := &fakeProcess{}
	mon := &scriptedMonitor{readings: []model.MonitorReading{{Hint: model.HintPassed}}}
	rig := newRig(t, proc, mon, testToolConfig())

	assert.False(t, rig.ctrl.IsInstalled())
	require.NoError(t, rig.ctrl.Install(context.Background()))
	assert.True(t, rig.ctrl.IsInstalled())
	rig.ctrl.Uninstall(context.Background())
	assert.False(t, rig.ctrl.IsInstalled())
}

// Package procmgr owns an external tool executable's presence and running
// state: unattended install/uninstall and start/stop/kill of the process,
// with two-tier termination because GUI tools frequently ignore graceful
// signals.
package procmgr

import (
	"context"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/storagedv/toolproctor/internal/fault"
)

const defaultGrace = 10 * time.Second

// Manager controls one external executable.
type Manager struct {
	// Executable is the installed tool binary.
	Executable string
	// Installer runs in unattended mode to install the tool. Optional.
	Installer string
	// InstallArgs are passed to the installer (e.g. the silent-mode flag
	// and license path).
	InstallArgs []string
	// Uninstaller removes the tool. Optional; uninstall is best-effort.
	Uninstaller string
	// UninstallArgs are passed to the uninstaller.
	UninstallArgs []string
	// WorkDir is the working directory for the tool process.
	WorkDir string
	// Grace is how long StopProcess waits after the termination signal
	// before escalating to a kill.
	Grace time.Duration
	// ExtraOutput, when set, receives a copy of the process output in
	// addition to the handle's buffer (typically the artifacts log file).
	ExtraOutput io.Writer

	Logger *log.Logger
}

// Handle identifies one started process and its liveness.
type Handle struct {
	cmd  *exec.Cmd
	pid  int
	out  *OutputBuffer
	done chan struct{}
	err  error // wait result, readable once done is closed
}

// PID returns the OS process id.
func (h *Handle) PID() int { return h.pid }

// Alive reports whether the process has not yet exited.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Output returns the buffer accumulating the process's combined output.
func (h *Handle) Output() *OutputBuffer { return h.out }

// Done returns a channel closed when the process exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (m *Manager) logger() *log.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return log.New(io.Discard, "", 0)
}

func (m *Manager) grace() time.Duration {
	if m.Grace > 0 {
		return m.Grace
	}
	return defaultGrace
}

// IsInstalled reports whether the tool executable exists. No side effects.
func (m *Manager) IsInstalled() bool {
	info, err := os.Stat(m.Executable)
	return err == nil && !info.IsDir()
}

// Install runs the vendor installer in unattended mode. Calling Install
// when the tool is already installed is a no-op success.
func (m *Manager) Install(ctx context.Context) error {
	if m.IsInstalled() {
		m.logger().Printf("install skipped, already installed exe=%s", m.Executable)
		return nil
	}
	if m.Installer == "" {
		return fault.New(fault.KindInstall, "no installer configured for %s", m.Executable)
	}
	if _, err := os.Stat(m.Installer); err != nil {
		return fault.Wrap(fault.KindInstall, err, "installer not found at %s", m.Installer)
	}

	cmd := exec.CommandContext(ctx, m.Installer, m.InstallArgs...)
	cmd.Dir = m.WorkDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fault.Wrap(fault.KindInstall, err, "installer exited abnormally: %s",
			strings.TrimSpace(string(out)))
	}
	if !m.IsInstalled() {
		return fault.New(fault.KindInstall, "installer succeeded but %s is still missing", m.Executable)
	}
	m.logger().Printf("install finished exe=%s", m.Executable)
	return nil
}

// Uninstall removes the tool, best-effort: failures are logged rather than
// returned so a broken removal never blocks a later re-install.
func (m *Manager) Uninstall(ctx context.Context) {
	if m.Uninstaller == "" {
		m.logger().Printf("uninstall skipped, no uninstaller configured")
		return
	}
	cmd := exec.CommandContext(ctx, m.Uninstaller, m.UninstallArgs...)
	cmd.Dir = m.WorkDir
	if out, err := cmd.CombinedOutput(); err != nil {
		m.logger().Printf("uninstall failed (ignored) error=%v output=%s",
			err, strings.TrimSpace(string(out)))
		return
	}
	m.logger().Printf("uninstall finished exe=%s", m.Executable)
}

// StartProcess launches the executable with the given arguments. The
// process's combined output is captured into the handle's buffer (and
// ExtraOutput when configured).
func (m *Manager) StartProcess(ctx context.Context, args []string) (*Handle, error) {
	if _, err := os.Stat(m.Executable); err != nil {
		return nil, fault.Wrap(fault.KindProcess, err, "executable not found at %s", m.Executable)
	}
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.KindProcess, err, "start cancelled")
	}

	h := &Handle{
		out:  &OutputBuffer{},
		done: make(chan struct{}),
	}

	cmd := exec.Command(m.Executable, args...)
	cmd.Dir = m.WorkDir
	var sink io.Writer = h.out
	if m.ExtraOutput != nil {
		sink = io.MultiWriter(h.out, m.ExtraOutput)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Start(); err != nil {
		return nil, fault.Wrap(fault.KindProcess, err, "launch %s", m.Executable)
	}
	h.cmd = cmd
	h.pid = cmd.Process.Pid

	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()

	m.logger().Printf("process started exe=%s pid=%d", m.Executable, h.pid)
	return h, nil
}

// StopProcess requests graceful termination, then escalates to a kill once
// the grace period elapses.
func (m *Manager) StopProcess(h *Handle) error {
	if h == nil || !h.Alive() {
		return nil
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		m.logger().Printf("terminate signal failed pid=%d error=%v", h.pid, err)
	}

	select {
	case <-h.done:
		m.logger().Printf("process stopped gracefully pid=%d", h.pid)
		return nil
	case <-time.After(m.grace()):
	}

	m.logger().Printf("grace period elapsed, killing pid=%d", h.pid)
	return m.KillProcess(h)
}

// KillProcess force-terminates the process.
func (m *Manager) KillProcess(h *Handle) error {
	if h == nil || !h.Alive() {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil && h.Alive() {
		return fault.Wrap(fault.KindProcess, err, "kill pid %d", h.pid)
	}
	// Reap so Alive flips promptly.
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		return fault.New(fault.KindProcess, "pid %d did not exit after kill", h.pid)
	}
	return nil
}

// IsRunning is a liveness probe: false once the process has exited for any
// reason.
func (m *Manager) IsRunning(h *Handle) bool {
	return h != nil && h.Alive()
}

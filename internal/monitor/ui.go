package monitor

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/storagedv/toolproctor/internal/fault"
	"github.com/storagedv/toolproctor/internal/model"
)

// CommandRunner executes a tmux subcommand and returns its output. It is a
// seam for tests; the default shells out to tmux.
type CommandRunner interface {
	Output(args ...string) (string, error)
}

type tmuxRunner struct{}

func (tmuxRunner) Output(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// UIOptions configures a UI monitor.
type UIOptions struct {
	// TitlePattern matches the tool's top-level window title.
	TitlePattern *regexp.Regexp
	// StatusPattern extracts the status text; the first capture group is
	// compared against PASS/FAIL.
	StatusPattern *regexp.Regexp
	// ErrorPattern extracts the error counter; the first capture group
	// must be an integer.
	ErrorPattern *regexp.Regexp
	// RetryMax bounds window-connect attempts.
	RetryMax int
	// RetryInterval spaces the connect attempts.
	RetryInterval time.Duration

	// Runner overrides the tmux invocation, for tests.
	Runner CommandRunner
}

// UIMonitor observes a tool's console window: it connects to the window
// whose title matches the configured pattern, captures its content, and
// extracts the status text and error counter. Window creation is
// asynchronous relative to process launch, so connecting retries up to
// RetryMax times before giving up; only exhausting that budget is a UI
// fault, never a single missed lookup.
type UIMonitor struct {
	opts   UIOptions
	runner CommandRunner
	target string // "session:window" once connected
}

// NewUI creates a UI monitor.
func NewUI(opts UIOptions) *UIMonitor {
	runner := opts.Runner
	if runner == nil {
		runner = tmuxRunner{}
	}
	if opts.RetryMax < 1 {
		opts.RetryMax = 1
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 3 * time.Second
	}
	return &UIMonitor{opts: opts, runner: runner}
}

// Poll connects (or reconnects) to the tool window and reads one sample.
func (m *UIMonitor) Poll(ctx context.Context) (model.MonitorReading, error) {
	if m.target == "" {
		if err := m.connect(ctx); err != nil {
			return model.MonitorReading{}, err
		}
	}

	content, err := m.capture()
	if err != nil {
		// The window may have been recreated (title changes, dialog
		// churn); run one full reconnect cycle before declaring failure.
		m.target = ""
		if cerr := m.connect(ctx); cerr != nil {
			return model.MonitorReading{}, cerr
		}
		content, err = m.capture()
		if err != nil {
			return model.MonitorReading{}, fault.Wrap(fault.KindUI, err, "read window %s", m.target)
		}
	}

	return m.parse(content), nil
}

func (m *UIMonitor) connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= m.opts.RetryMax; attempt++ {
		target, err := m.findWindow()
		if err == nil {
			m.target = target
			return nil
		}
		lastErr = err

		if attempt == m.opts.RetryMax {
			break
		}
		select {
		case <-ctx.Done():
			return fault.Wrap(fault.KindUI, ctx.Err(), "window connect cancelled after %d attempts", attempt)
		case <-time.After(m.opts.RetryInterval):
		}
	}
	return fault.Wrap(fault.KindUI, lastErr,
		"window matching %q not found after %d attempts", m.opts.TitlePattern, m.opts.RetryMax)
}

// findWindow lists all windows and returns the target of the first one
// whose name matches the title pattern.
func (m *UIMonitor) findWindow() (string, error) {
	out, err := m.runner.Output("list-windows", "-a", "-F",
		"#{session_name}:#{window_index}\t#{window_name}")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) == 2 && m.opts.TitlePattern.MatchString(parts[1]) {
			return parts[0], nil
		}
	}
	return "", fmt.Errorf("no window matches %q", m.opts.TitlePattern)
}

// capture grabs the window content. -J joins wrapped lines so matches are
// stable regardless of terminal width.
func (m *UIMonitor) capture() (string, error) {
	return m.runner.Output("capture-pane", "-p", "-J", "-t", m.target)
}

func (m *UIMonitor) parse(content string) model.MonitorReading {
	reading := model.MonitorReading{Hint: model.HintRunning}

	if match := m.opts.ErrorPattern.FindStringSubmatch(content); len(match) > 1 {
		if n, err := strconv.Atoi(match[1]); err == nil {
			reading.ErrorCount = n
		}
	}

	match := m.opts.StatusPattern.FindStringSubmatch(content)
	if len(match) < 2 {
		reading.Hint = model.HintUnknown
		return reading
	}
	switch strings.ToUpper(match[1]) {
	case "PASS", "PASSED":
		reading.Hint = model.HintPassed
	case "FAIL", "FAILED":
		reading.Hint = model.HintFailed
		reading.Detail = strings.TrimSpace(match[0])
	default:
		reading.Hint = model.HintRunning
	}
	return reading
}

func (m *UIMonitor) Close() error { return nil }

package monitor

import (
	"context"
	"regexp"

	"github.com/storagedv/toolproctor/internal/model"
	"github.com/storagedv/toolproctor/internal/procmgr"
)

// StdoutMonitor matches the pass/fail patterns against the running
// process's captured output, reading only what accumulated since the
// previous poll.
type StdoutMonitor struct {
	out     *procmgr.OutputBuffer
	matcher lineMatcher
}

// NewStdout creates a stdout monitor over the process output buffer.
func NewStdout(out *procmgr.OutputBuffer, passRe, failRe *regexp.Regexp) *StdoutMonitor {
	return &StdoutMonitor{
		out:     out,
		matcher: lineMatcher{passRe: passRe, failRe: failRe},
	}
}

func (m *StdoutMonitor) Poll(ctx context.Context) (model.MonitorReading, error) {
	reading := m.matcher.feed(m.out.ReadNew())
	if reading.Hint == model.HintUnknown || reading.Hint == model.HintRunning {
		if tail := m.matcher.peek(); tail.Hint == model.HintPassed || tail.Hint == model.HintFailed {
			reading = tail
		}
	}
	return reading, nil
}

func (m *StdoutMonitor) Close() error { return nil }

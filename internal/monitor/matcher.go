package monitor

import (
	"regexp"
	"strings"

	"github.com/storagedv/toolproctor/internal/model"
)

// lineMatcher applies pass/fail patterns to streamed text, line by line.
// Partial trailing lines are carried over to the next feed so a signal
// split across two reads is never missed. Fail takes precedence over pass
// within the same feed: a test must never be reported as passed once an
// error line has been seen.
type lineMatcher struct {
	passRe *regexp.Regexp
	failRe *regexp.Regexp

	carry      string
	errorCount int
}

// feed scans new text and returns the resulting reading.
func (m *lineMatcher) feed(text string) model.MonitorReading {
	text = m.carry + text
	var lines []string
	if idx := strings.LastIndexByte(text, '\n'); idx >= 0 {
		lines = strings.Split(text[:idx], "\n")
		m.carry = text[idx+1:]
	} else {
		m.carry = text
	}

	reading := model.MonitorReading{Hint: model.HintUnknown}
	if len(lines) > 0 {
		reading.Hint = model.HintRunning
	}

	var passLine string
	for _, line := range lines {
		if m.failRe.MatchString(line) {
			m.errorCount++
			reading.Hint = model.HintFailed
			if reading.Detail == "" {
				reading.Detail = strings.TrimSpace(line)
			}
		} else if reading.Hint != model.HintFailed && m.passRe.MatchString(line) {
			passLine = strings.TrimSpace(line)
		}
	}

	if reading.Hint != model.HintFailed && passLine != "" {
		reading.Hint = model.HintPassed
		reading.Detail = passLine
	}
	reading.ErrorCount = m.errorCount
	return reading
}

// peek matches the carried partial line without consuming it, so a final
// unterminated "Result: PASS" is still seen while an in-progress line that
// later grows is re-examined normally. The running error count is not
// touched here; feed owns it.
func (m *lineMatcher) peek() model.MonitorReading {
	reading := model.MonitorReading{Hint: model.HintUnknown, ErrorCount: m.errorCount}
	if m.carry == "" {
		return reading
	}
	if m.failRe.MatchString(m.carry) {
		reading.Hint = model.HintFailed
		reading.Detail = strings.TrimSpace(m.carry)
		if reading.ErrorCount == 0 {
			reading.ErrorCount = 1
		}
	} else if m.passRe.MatchString(m.carry) {
		reading.Hint = model.HintPassed
		reading.Detail = strings.TrimSpace(m.carry)
	}
	return reading
}

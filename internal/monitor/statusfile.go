package monitor

import (
	"context"
	"os"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/storagedv/toolproctor/internal/model"
)

// noErrorSentinels are error-message values that mean "nothing is wrong".
// Any other non-empty value in the error key counts as a failure signal
// regardless of what the result key says.
var noErrorSentinels = map[string]bool{
	"":         true,
	"no error": true,
	"none":     true,
	"pass":     true,
}

// StatusFileOptions configures a status-file monitor.
type StatusFileOptions struct {
	// Path is the INI-style result card the tool rewrites as it runs.
	Path string
	// Section holding the result keys, typically "Test Status".
	Section string
	// ResultKey holds ONGOING/PASSED/FAILED (matched case-insensitively).
	ResultKey string
	// ErrorKey holds the tool's error message, "No Error" when clean.
	ErrorKey string
}

// StatusFileMonitor polls an INI-style result card written by the tool.
type StatusFileMonitor struct {
	opts StatusFileOptions
}

// NewStatusFile creates a status-file monitor.
func NewStatusFile(opts StatusFileOptions) *StatusFileMonitor {
	return &StatusFileMonitor{opts: opts}
}

// Poll parses the result card. A card that is missing or momentarily
// unparsable (the tool may be mid-write) reads as unknown, not an error.
func (m *StatusFileMonitor) Poll(ctx context.Context) (model.MonitorReading, error) {
	if _, err := os.Stat(m.opts.Path); err != nil {
		return model.MonitorReading{Hint: model.HintUnknown}, nil
	}

	card, err := ini.Load(m.opts.Path)
	if err != nil {
		return model.MonitorReading{Hint: model.HintUnknown, Detail: "result card unreadable"}, nil
	}

	section := card.Section(m.opts.Section)
	result := strings.ToUpper(strings.TrimSpace(section.Key(m.opts.ResultKey).String()))
	errMsg := strings.TrimSpace(section.Key(m.opts.ErrorKey).String())
	errCount := section.Key("error_count").MustInt(0)

	// A concrete error message is a failure signal no matter the verdict.
	if !noErrorSentinels[strings.ToLower(errMsg)] {
		if errCount < 1 {
			errCount = 1
		}
		return model.MonitorReading{
			Hint:       model.HintFailed,
			ErrorCount: errCount,
			Detail:     errMsg,
		}, nil
	}

	reading := model.MonitorReading{ErrorCount: errCount}
	switch result {
	case "PASSED", "PASS":
		reading.Hint = model.HintPassed
	case "FAILED", "FAIL":
		reading.Hint = model.HintFailed
		if reading.ErrorCount < 1 {
			reading.ErrorCount = 1
		}
		reading.Detail = "result card reports " + result
	case "ONGOING":
		reading.Hint = model.HintRunning
	default:
		reading.Hint = model.HintUnknown
	}
	return reading, nil
}

func (m *StatusFileMonitor) Close() error { return nil }

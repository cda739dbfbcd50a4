package monitor

import (
	"context"
	"regexp"
	"testing"

	"github.com/storagedv/toolproctor/internal/model"
	"github.com/storagedv/toolproctor/internal/procmgr"
)

func TestStdoutMonitor(t *testing.T) {
	out := &procmgr.OutputBuffer{}
	m := NewStdout(out,
		regexp.MustCompile(`(?i)status:\s*OK`),
		regexp.MustCompile(`(?i)status:\s*(FAIL|CAUTION)`))
	ctx := context.Background()

	r, err := m.Poll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if r.Hint != model.HintUnknown {
		t.Errorf("empty buffer: Hint = %q, want unknown", r.Hint)
	}

	out.Write([]byte("Model: WDC WD40EZRZ\nFirmware: 80.00A80\n"))
	r, _ = m.Poll(ctx)
	if r.Hint != model.HintRunning {
		t.Errorf("progress output: Hint = %q, want running", r.Hint)
	}

	out.Write([]byte("Health Status: OK\n"))
	r, _ = m.Poll(ctx)
	if r.Hint != model.HintPassed {
		t.Errorf("Hint = %q, want passed", r.Hint)
	}
}

func TestStdoutMonitor_FailWithoutTrailingNewline(t *testing.T) {
	out := &procmgr.OutputBuffer{}
	m := NewStdout(out,
		regexp.MustCompile(`(?i)status:\s*OK`),
		regexp.MustCompile(`(?i)status:\s*(FAIL|CAUTION)`))

	out.Write([]byte("Health Status: CAUTION"))
	r, err := m.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.Hint != model.HintFailed {
		t.Errorf("Hint = %q, want failed", r.Hint)
	}
	if r.ErrorCount < 1 {
		t.Errorf("ErrorCount = %d, want >= 1", r.ErrorCount)
	}
}

func TestStdoutMonitor_ReadsOnlyNewOutput(t *testing.T) {
	out := &procmgr.OutputBuffer{}
	m := NewStdout(out,
		regexp.MustCompile(`OK`),
		regexp.MustCompile(`FAIL`))
	ctx := context.Background()

	out.Write([]byte("FAIL: unit 2\n"))
	r, _ := m.Poll(ctx)
	if r.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d, want 1", r.ErrorCount)
	}

	// Nothing new arrived; the old failure line must not be re-counted.
	r, _ = m.Poll(ctx)
	if r.ErrorCount != 1 {
		t.Errorf("ErrorCount after idle poll = %d, want 1", r.ErrorCount)
	}
}

// Package suite runs several tool controllers concurrently, one artifacts
// subdirectory per tool, and collects their reports.
package suite

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storagedv/toolproctor/internal/config"
	"github.com/storagedv/toolproctor/internal/controller"
	"github.com/storagedv/toolproctor/internal/model"
	"github.com/storagedv/toolproctor/internal/report"
)

// Entry names one tool to run and its configuration overrides.
type Entry struct {
	Tool      string
	Overrides config.Config
}

// RunResult is the outcome of one entry. Err is set only when the
// controller could not be assembled or started; a tool that ran and
// failed reports through Result and State.
type RunResult struct {
	Tool      string
	OutputDir string
	State     model.ControllerState
	Result    model.ExecutionResult
	Err       error
}

// Suite executes entries against a shared base artifacts directory.
type Suite struct {
	Registry *config.Registry
	BaseDir  string
	Logger   *log.Logger
	LogLevel controller.LogLevel

	// Parallel bounds concurrent runs. Zero means unbounded, which is the
	// usual hardware-validation setup (tools stress different subsystems).
	Parallel int
}

// Run starts every entry and blocks until all controllers are terminal or
// ctx is cancelled. Cancellation stops the in-flight runs cooperatively;
// Run still waits for them to finish tearing down. The returned slice is
// ordered like entries. The error is non-nil only when ctx was cancelled.
func (s *Suite) Run(ctx context.Context, entries []Entry) ([]RunResult, error) {
	results := make([]RunResult, len(entries))

	g, runCtx := errgroup.WithContext(ctx)
	if s.Parallel > 0 {
		g.SetLimit(s.Parallel)
	}

	var mu sync.Mutex
	for i, entry := range entries {
		g.Go(func() error {
			res := s.runOne(runCtx, entry)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results, ctx.Err()
}

func (s *Suite) runOne(ctx context.Context, entry Entry) RunResult {
	outputDir := filepath.Join(s.BaseDir, entry.Tool)
	res := RunResult{Tool: entry.Tool, OutputDir: outputDir}

	ctrl, err := controller.NewFromConfig(s.Registry, entry.Tool, outputDir,
		entry.Overrides, s.Logger, s.LogLevel)
	if err != nil {
		res.Err = err
		return res
	}
	if err := ctrl.Start(); err != nil {
		res.Err = err
		return res
	}

	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		ctrl.Stop()
		<-ctrl.Done()
	}

	res.State = ctrl.State()
	res.Result = ctrl.Result()
	return res
}

// Passed reports whether every entry ran to Completed.
func Passed(results []RunResult) bool {
	for _, r := range results {
		if r.Err != nil || r.State != model.StateCompleted {
			return false
		}
	}
	return len(results) > 0
}

// Summary condenses suite results for logging.
func Summary(results []RunResult) map[string]string {
	out := make(map[string]string, len(results))
	for _, r := range results {
		switch {
		case r.Err != nil:
			out[r.Tool] = "error: " + r.Err.Error()
		default:
			out[r.Tool] = string(r.State)
		}
	}
	return out
}

// Reports loads the sealed report of every run that produced one.
func Reports(results []RunResult) []report.RunReport {
	var reports []report.RunReport
	for _, r := range results {
		rr, err := report.Read(r.OutputDir)
		if err != nil {
			continue
		}
		reports = append(reports, rr)
	}
	return reports
}

// WaitAll blocks until every controller is terminal or the timeout
// elapses, returning false on timeout.
func WaitAll(ctrls []*controller.Controller, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for _, c := range ctrls {
		remaining := time.Until(deadline)
		if remaining <= 0 || !c.Wait(remaining) {
			return false
		}
	}
	return true
}

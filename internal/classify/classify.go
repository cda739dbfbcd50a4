// Package classify maps monitor readings to run verdicts. The rules are
// ordered fail-fast: a timeout always wins over an ambiguous reading, and
// an explicit failure signal always wins over a pass arriving in the same
// poll. A hardware test must never be reported as passed once any error
// has been recorded.
package classify

import (
	"fmt"
	"time"

	"github.com/storagedv/toolproctor/internal/model"
)

// Decision is the classifier's instruction to the monitoring loop.
type Decision int

const (
	// Continue means keep polling.
	Continue Decision = iota
	// Pass means the run completed successfully.
	Pass
	// Fail means the run is over and did not pass; Reason says why.
	Fail
)

// Outcome is one classification of a reading.
type Outcome struct {
	Decision Decision
	Reason   string
	Timeout  bool
}

// Classify applies the verdict rules, in priority order:
//
//  1. elapsed >= timeout with no terminal reading → fail (timeout)
//  2. reading signals failed, or errors were counted under a
//     fail-on-any-error configuration → fail (detail)
//  3. reading signals passed → pass
//  4. otherwise → continue
func Classify(reading model.MonitorReading, elapsed, timeout time.Duration, failOnAnyError bool) Outcome {
	terminal := reading.Hint == model.HintPassed || reading.Hint == model.HintFailed

	if elapsed >= timeout && !terminal {
		return Outcome{
			Decision: Fail,
			Reason:   fmt.Sprintf("timeout: no terminal reading within %s", timeout),
			Timeout:  true,
		}
	}

	if reading.Hint == model.HintFailed || (failOnAnyError && reading.ErrorCount > 0) {
		reason := reading.Detail
		if reason == "" {
			reason = fmt.Sprintf("tool reported %d error(s)", reading.ErrorCount)
		}
		return Outcome{Decision: Fail, Reason: reason}
	}

	if reading.Hint == model.HintPassed {
		return Outcome{Decision: Pass, Reason: reading.Detail}
	}

	return Outcome{Decision: Continue}
}

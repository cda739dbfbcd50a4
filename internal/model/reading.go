package model

// Hint is a monitor's classification of what it observed in one sample.
type Hint string

const (
	HintRunning Hint = "running"
	HintPassed  Hint = "passed"
	HintFailed  Hint = "failed"
	HintUnknown Hint = "unknown"
)

// MonitorReading is one sample of a monitor's view of the wrapped tool.
// Readings are consumed immediately by the classifier; only the last one
// survives into the final result.
type MonitorReading struct {
	Hint       Hint
	ErrorCount int
	Detail     string
}

package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditTrail appends lifecycle events to a JSONL file in the run's
// artifacts directory. Entries are fsynced so the trail survives a crash
// of the orchestrating process mid-run.
type AuditTrail struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// AuditEntry is one line of the trail.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	EventType string         `json:"event_type"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewAuditTrail opens (or creates) the trail file, creating parent
// directories as needed.
func NewAuditTrail(path string) (*AuditTrail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	return &AuditTrail{file: file, path: path}, nil
}

// Attach subscribes the trail to every lifecycle event type on bus and
// returns a detach function.
func (t *AuditTrail) Attach(bus *Bus, runID, tool string) func() {
	record := func(event Event) {
		_ = t.Write(AuditEntry{
			Timestamp: event.Timestamp,
			RunID:     runID,
			Tool:      tool,
			EventType: string(event.Type),
			Details:   event.Data,
		})
	}
	var detaches []func()
	for _, et := range []EventType{EventStateTransition, EventMonitorFault, EventRunFinished} {
		detaches = append(detaches, bus.Subscribe(et, record))
	}
	return func() {
		for _, d := range detaches {
			d()
		}
	}
}

// Write appends one entry.
func (t *AuditTrail) Write(entry AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.file.Write(data); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return t.file.Sync()
}

// Path returns the trail file location.
func (t *AuditTrail) Path() string { return t.path }

// Close closes the underlying file.
func (t *AuditTrail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// ReadTrail parses a trail file back into entries, skipping malformed
// lines (a crash can truncate the final line).
func ReadTrail(path string) ([]AuditEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	defer file.Close()

	var entries []AuditEntry
	decoder := json.NewDecoder(file)
	for decoder.More() {
		var entry AuditEntry
		if err := decoder.Decode(&entry); err != nil {
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/storagedv/toolproctor/internal/model"
)

// LogFileMonitor resolves a glob pattern to the newest matching file and
// reads the content appended since the previous poll. The glob is
// re-resolved when the log directory changes (via fsnotify) rather than on
// every poll; if the directory cannot be watched the monitor falls back to
// re-globbing each time.
type LogFileMonitor struct {
	glob    string
	matcher lineMatcher

	current string
	offset  int64

	watcher   *fsnotify.Watcher
	dirty     atomic.Bool
	watchDone chan struct{}
	resolveEveryPoll bool
}

// NewLogFile creates a log-file monitor for the given glob pattern.
func NewLogFile(glob string, passRe, failRe *regexp.Regexp) (*LogFileMonitor, error) {
	if glob == "" {
		return nil, fmt.Errorf("log_glob must not be empty")
	}
	if _, err := filepath.Match(filepath.Base(glob), ""); err != nil {
		return nil, fmt.Errorf("bad log glob %q: %w", glob, err)
	}

	m := &LogFileMonitor{
		glob:    glob,
		matcher: lineMatcher{passRe: passRe, failRe: failRe},
	}
	m.dirty.Store(true)

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(filepath.Dir(glob))
	}
	if err != nil {
		// Directory may not exist yet; re-glob on every poll instead.
		if watcher != nil {
			_ = watcher.Close()
		}
		m.resolveEveryPoll = true
		return m, nil
	}

	m.watcher = watcher
	m.watchDone = make(chan struct{})
	go m.watch()
	return m, nil
}

func (m *LogFileMonitor) watch() {
	defer close(m.watchDone)
	for {
		select {
		case _, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.dirty.Store(true)
		case _, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.dirty.Store(true)
		}
	}
}

// Poll reads new log content and matches it against the pass/fail
// patterns. A missing log file is reported as unknown, not an error: the
// tool may simply not have written it yet.
func (m *LogFileMonitor) Poll(ctx context.Context) (model.MonitorReading, error) {
	if err := ctx.Err(); err != nil {
		return model.MonitorReading{Hint: model.HintUnknown, ErrorCount: m.matcher.errorCount}, nil
	}

	if m.resolveEveryPoll || m.dirty.Swap(false) || m.current == "" {
		if err := m.resolve(); err != nil {
			return model.MonitorReading{Hint: model.HintUnknown, ErrorCount: m.matcher.errorCount}, nil
		}
	}
	if m.current == "" {
		return model.MonitorReading{Hint: model.HintUnknown, ErrorCount: m.matcher.errorCount}, nil
	}

	f, err := os.Open(m.current)
	if err != nil {
		return model.MonitorReading{Hint: model.HintUnknown, ErrorCount: m.matcher.errorCount}, nil
	}
	defer f.Close()

	if _, err := f.Seek(m.offset, io.SeekStart); err != nil {
		return model.MonitorReading{Hint: model.HintUnknown, ErrorCount: m.matcher.errorCount}, nil
	}
	data, err := io.ReadAll(f)
	if err != nil && len(data) == 0 {
		return model.MonitorReading{Hint: model.HintUnknown, ErrorCount: m.matcher.errorCount}, nil
	}
	m.offset += int64(len(data))

	reading := m.matcher.feed(string(data))
	if reading.Hint == model.HintUnknown || reading.Hint == model.HintRunning {
		if tail := m.matcher.peek(); tail.Hint == model.HintPassed || tail.Hint == model.HintFailed {
			reading = tail
		}
	}
	return reading, nil
}

// resolve picks the newest file matching the glob. Switching to a newer
// file restarts the read offset at zero.
func (m *LogFileMonitor) resolve() error {
	matches, err := filepath.Glob(m.glob)
	if err != nil {
		return err
	}
	var newest string
	var newestMod int64
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest, newestMod = path, mod
		}
	}
	if newest != "" && newest != m.current {
		m.current = newest
		m.offset = 0
		m.matcher.carry = ""
	}
	return nil
}

// Close releases the directory watcher.
func (m *LogFileMonitor) Close() error {
	if m.watcher != nil {
		err := m.watcher.Close()
		<-m.watchDone
		return err
	}
	return nil
}

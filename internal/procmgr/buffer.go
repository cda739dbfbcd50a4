package procmgr

import (
	"bytes"
	"sync"
)

// OutputBuffer accumulates a process's combined output and hands out only
// the bytes appended since the previous read, which is what the stdout
// monitor strategy polls against.
type OutputBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	offset int
}

func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// ReadNew returns the content appended since the last ReadNew call.
func (b *OutputBuffer) ReadNew() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.buf.Bytes()
	out := string(data[b.offset:])
	b.offset = len(data)
	return out
}

// Snapshot returns the entire accumulated output without consuming it.
func (b *OutputBuffer) Snapshot() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Len returns the total number of bytes accumulated.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

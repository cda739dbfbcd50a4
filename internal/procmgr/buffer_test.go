package procmgr

import (
	"sync"
	"testing"
)

func TestOutputBuffer_ReadNew(t *testing.T) {
	buf := &OutputBuffer{}

	if got := buf.ReadNew(); got != "" {
		t.Errorf("ReadNew on empty buffer = %q", got)
	}

	buf.Write([]byte("first "))
	buf.Write([]byte("chunk\n"))
	if got := buf.ReadNew(); got != "first chunk\n" {
		t.Errorf("ReadNew = %q", got)
	}

	// Already-consumed output is not returned again.
	if got := buf.ReadNew(); got != "" {
		t.Errorf("second ReadNew = %q, want empty", got)
	}

	buf.Write([]byte("more\n"))
	if got := buf.ReadNew(); got != "more\n" {
		t.Errorf("ReadNew after append = %q", got)
	}
}

func TestOutputBuffer_Snapshot(t *testing.T) {
	buf := &OutputBuffer{}
	buf.Write([]byte("a\nb\n"))
	buf.ReadNew()

	// Snapshot always returns everything regardless of the read cursor.
	if got := buf.Snapshot(); got != "a\nb\n" {
		t.Errorf("Snapshot = %q", got)
	}
	if got := buf.Len(); got != 4 {
		t.Errorf("Len = %d", got)
	}
}

func TestOutputBuffer_ConcurrentWriters(t *testing.T) {
	buf := &OutputBuffer{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf.Write([]byte("x"))
			}
		}()
	}
	wg.Wait()
	if got := buf.Len(); got != 800 {
		t.Errorf("Len = %d, want 800", got)
	}
}

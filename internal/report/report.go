package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gowebpki/jcs"

	"github.com/storagedv/toolproctor/internal/model"
)

// FileName is the report file written into the artifacts directory.
const FileName = "report.json"

// RunReport is the on-disk execution summary. Digest is the sha256 of the
// RFC 8785 canonical form of the report without the digest field, so two
// reports with the same content always hash identically regardless of key
// order.
type RunReport struct {
	RunID      string                `json:"run_id"`
	Tool       string                `json:"tool"`
	Result     model.ExecutionResult `json:"result"`
	FinalState model.ControllerState `json:"final_state"`
	Digest     string                `json:"digest,omitempty"`
}

// Digest computes the canonical-JSON digest of the report content.
func Digest(r RunReport) (string, error) {
	r.Digest = ""
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize report: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the digest and reports whether it matches.
func Verify(r RunReport) (bool, error) {
	want := r.Digest
	got, err := Digest(r)
	if err != nil {
		return false, err
	}
	return want == got, nil
}

// Write seals the report with its digest and writes it atomically into dir.
func Write(dir string, r RunReport) (string, error) {
	digest, err := Digest(r)
	if err != nil {
		return "", err
	}
	r.Digest = digest

	path := filepath.Join(dir, FileName)
	if err := AtomicWriteJSON(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// Read loads a report back from dir.
func Read(dir string) (RunReport, error) {
	var r RunReport
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return r, fmt.Errorf("read report: %w", err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}

// ListArtifacts walks the artifacts directory and returns the files a run
// produced, relative to dir. The report itself, backups, and the lock file
// are excluded. Nothing is ever deleted: artifacts stay on disk for manual
// inspection.
func ListArtifacts(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if name == FileName || name == FileName+".bak" || name == ".toolproctor.lock" {
			return nil
		}
		if rel, rerr := filepath.Rel(dir, path); rerr == nil {
			files = append(files, rel)
		}
		return nil
	})
	return files
}

// Package transcript holds recognized text and persists it as newline-terminated lines.
package transcript

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/speechjob/pkg/errorsx"
)

// Transcript is an ordered list of recognized lines, one per alternative.
type Transcript struct {
	Lines []string
}

// String renders every line followed by a newline.
func (t Transcript) String() string {
	var b strings.Builder
	for _, line := range t.Lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Len returns the number of lines.
func (t Transcript) Len() int {
	return len(t.Lines)
}

// Write writes t to w.
func Write(w io.Writer, t Transcript) error {
	bw := bufio.NewWriter(w)
	for _, line := range t.Lines {
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Read parses newline-terminated lines. A missing final newline is tolerated.
func Read(r io.Reader) (Transcript, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Transcript{}, err
	}
	s := string(b)
	if s == "" {
		return Transcript{}, nil
	}
	s = strings.TrimSuffix(s, "\n")
	return Transcript{Lines: strings.Split(s, "\n")}, nil
}

// WriteFile atomically replaces path with the rendered transcript.
func WriteFile(path string, t Transcript) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errorsx.New(errorsx.ReasonSinkWrite, "create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errorsx.New(errorsx.ReasonSinkWrite, "create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := Write(tmp, t); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errorsx.New(errorsx.ReasonSinkWrite, "write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errorsx.New(errorsx.ReasonSinkWrite, "close transcript: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return errorsx.New(errorsx.ReasonSinkWrite, "chmod transcript: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errorsx.New(errorsx.ReasonSinkWrite, "rename transcript: %w", err)
	}
	return nil
}

// ReadFile loads a transcript written by WriteFile.
func ReadFile(path string) (Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return Read(f)
}

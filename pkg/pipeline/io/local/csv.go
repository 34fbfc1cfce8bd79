package local

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/table"
)

// ReadInput reads raw table bytes from r. When maxBytes > 0 it stops one byte past
// the limit, which is enough for the loader to reject the payload as too large.
func ReadInput(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return b, nil
}

// ReadInputFile opens path and reads it with ReadInput.
func ReadInputFile(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return ReadInput(f, maxBytes)
}

// WriteTableFile writes t as CSV to path, creating parent directories. The file is
// written next to its destination and renamed into place so a failed run never
// leaves a truncated output behind.
func WriteTableFile(path string, t *table.Table) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	w := bufio.NewWriter(tmp)
	if err := t.WriteCSV(w); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

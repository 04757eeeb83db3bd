package snapshot

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"feemarket/domain/orderbook"
)

// FileName is the snapshot file inside a Writer's Dir.
const FileName = "orderbook.json"

type Writer struct {
	Dir string
}

// Path is where Write puts the snapshot.
func (w *Writer) Path() string {
	return filepath.Join(w.Dir, FileName)
}

// Write replaces the snapshot file atomically.
func (w *Writer) Write(s *orderbook.Snapshot) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	b, err := Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	tmp, err := os.CreateTemp(w.Dir, FileName+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), w.Path())
}

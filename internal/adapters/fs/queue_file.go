package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/medtec-labs/caseship/internal/domain"
)

// QueueFile implements ports.QueueRepository using one JSON file holding the
// ordered list of pending operations.
//
// Writes are atomic: the new queue is written to a temp file in the same
// directory, fsynced, then renamed over the old one. A crash leaves either
// the previous queue or the new one, never a half-written file. A queue file
// that fails to parse is moved aside to <name>.bak and treated as empty, so
// a corrupted file never wedges the host application.
type QueueFile struct {
	path string
}

// NewQueueFile creates a QueueFile persisting to the given path.
func NewQueueFile(path string) *QueueFile {
	return &QueueFile{path: path}
}

// Path returns the queue file location.
func (q *QueueFile) Path() string {
	return q.path
}

// Load returns all pending operations in ascending sequence order.
func (q *QueueFile) Load(ctx context.Context) ([]domain.Operation, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue: %w", err)
	}

	var ops []domain.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		// Preserve the damaged file for inspection and continue empty.
		// A stale .bak from an earlier corruption would make the rename
		// fail on Windows, so it is dropped first.
		bak := q.path + ".bak"
		if err := os.Remove(bak); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("quarantine corrupt queue: %w", err)
		}
		if renameErr := os.Rename(q.path, bak); renameErr != nil {
			return nil, fmt.Errorf("quarantine corrupt queue: %w", renameErr)
		}
		return nil, nil
	}

	return ops, nil
}

// Append adds one operation to the end of the queue.
func (q *QueueFile) Append(ctx context.Context, op domain.Operation) error {
	ops, err := q.Load(ctx)
	if err != nil {
		return err
	}
	ops = append(ops, op)
	return q.save(ops)
}

// Remove deletes the operation with the given sequence number.
func (q *QueueFile) Remove(ctx context.Context, seq int64) error {
	ops, err := q.Load(ctx)
	if err != nil {
		return err
	}

	kept := ops[:0]
	for _, op := range ops {
		if op.Seq != seq {
			kept = append(kept, op)
		}
	}
	if len(kept) == len(ops) {
		return nil
	}
	return q.save(kept)
}

// save writes the queue atomically: temp file, fsync, rename.
func (q *QueueFile) save(ops []domain.Operation) error {
	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}

	if ops == nil {
		ops = []domain.Operation{}
	}
	data, err := json.MarshalIndent(ops, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "buffer_queue-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp queue: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp queue: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp queue: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp queue: %w", err)
	}

	if err := os.Rename(tmp.Name(), q.path); err != nil {
		return fmt.Errorf("replace queue: %w", err)
	}
	return nil
}

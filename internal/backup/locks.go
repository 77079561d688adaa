package backup

import (
	"errors"
	"path/filepath"
	"sync"
)

// ErrDestinationBusy is returned when another operation in this process
// already holds the destination.
var ErrDestinationBusy = errors.New("backup: destination is busy")

// lockTable serializes operations per destination directory. Paths are
// cleaned before comparison so spellings of the same directory collide.
type lockTable struct {
	mu   sync.Mutex
	held map[string]bool
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]bool)}
}

// TryLock claims dest without blocking.
func (t *lockTable) TryLock(dest string) error {
	key := filepath.Clean(dest)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held[key] {
		return ErrDestinationBusy
	}
	t.held[key] = true
	return nil
}

// Unlock releases dest. Releasing an unheld destination is a no-op.
func (t *lockTable) Unlock(dest string) {
	key := filepath.Clean(dest)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, key)
}

// destLocks is process-wide: every Manager contends on the same table.
var destLocks = newLockTable()

package backup

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"dirsafe/internal/fsutil"
)

// ListBackups returns the completed backup directory names under root
// in lexical order, which is also chronological given the timestamped
// naming. In-progress directories are skipped.
func (m *Manager) ListBackups(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "backup_") || strings.HasSuffix(name, inProgressSuffix) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// BackupSize returns the on-disk size of a backup directory.
func (m *Manager) BackupSize(backupPath string) (int64, error) {
	return fsutil.DirSize(backupPath)
}

// BackupTimestamp parses the creation time encoded in a backup
// directory name.
func BackupTimestamp(name string) (time.Time, error) {
	base := strings.TrimSuffix(name, inProgressSuffix)
	t, err := time.ParseInLocation(dirNameLayout, base, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a backup directory name: %s", name)
	}
	return t, nil
}

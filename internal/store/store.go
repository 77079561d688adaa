package store

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Persister moves the full record set between the in-memory store and
// durable storage.
type Persister interface {
	Load() ([]BackupRecord, error)
	Save(records []BackupRecord) error
	Close() error
}

// ChainStore is the backup catalog. All access goes through a mutex so
// the orchestrator and scheduler can share one instance. Mutations are
// in-memory; Save flushes through the configured Persister.
type ChainStore struct {
	mu        sync.RWMutex
	records   map[string]*BackupRecord
	persister Persister
}

// NewChainStore builds a store backed by p. A nil persister gives a
// purely in-memory store; Load and Save become no-ops.
func NewChainStore(p Persister) *ChainStore {
	return &ChainStore{
		records:   make(map[string]*BackupRecord),
		persister: p,
	}
}

// Load replaces in-memory state with the persisted record set.
func (s *ChainStore) Load() error {
	if s.persister == nil {
		return nil
	}
	recs, err := s.persister.Load()
	if err != nil {
		return fmt.Errorf("loading backup catalog: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*BackupRecord, len(recs))
	for i := range recs {
		rec := recs[i]
		s.records[rec.ID] = &rec
	}
	return nil
}

// Save flushes the current record set through the persister.
func (s *ChainStore) Save() error {
	if s.persister == nil {
		return nil
	}
	recs := s.list()
	if err := s.persister.Save(recs); err != nil {
		return fmt.Errorf("saving backup catalog: %w", err)
	}
	return nil
}

// Close releases the persister.
func (s *ChainStore) Close() error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Close()
}

// Create adds a validated record. The integrity checksum is computed
// here when the record does not already carry one.
func (s *ChainStore) Create(rec BackupRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.RecordChecksum == "" {
		rec.RecordChecksum = rec.ComputeChecksum()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	stored := rec.clone()
	s.records[rec.ID] = &stored
	return nil
}

// Update replaces an existing record and refreshes its checksum.
func (s *ChainStore) Update(rec BackupRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.RecordChecksum = rec.ComputeChecksum()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	stored := rec.clone()
	s.records[rec.ID] = &stored
	return nil
}

// Delete removes a record by id.
func (s *ChainStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.records, id)
	return nil
}

// Get returns a copy of the record with the given id.
func (s *ChainStore) Get(id string) (BackupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return BackupRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.clone(), nil
}

// AddFileEntry appends a file entry to a record and refreshes the
// record checksum and size totals.
func (s *ChainStore) AddFileEntry(id string, fe FileEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.Files = append(rec.Files, fe)
	rec.TotalSize += fe.Size
	rec.StoredSize += fe.StoredSize
	rec.RecordChecksum = rec.ComputeChecksum()
	return nil
}

// RemoveFileEntry drops the entry for a relative path from a record.
func (s *ChainStore) RemoveFileEntry(id, relativePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for i, f := range rec.Files {
		if f.RelativePath == relativePath {
			rec.TotalSize -= f.Size
			rec.StoredSize -= f.StoredSize
			rec.Files = append(rec.Files[:i], rec.Files[i+1:]...)
			rec.RecordChecksum = rec.ComputeChecksum()
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no entry %s", ErrNotFound, id, relativePath)
}

// FileEntries returns a copy of a record's file table.
func (s *ChainStore) FileEntries(id string) ([]FileEntry, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return rec.Files, nil
}

// FileEntry returns a single entry by relative path.
func (s *ChainStore) FileEntry(id, relativePath string) (FileEntry, error) {
	rec, err := s.Get(id)
	if err != nil {
		return FileEntry{}, err
	}
	for _, f := range rec.Files {
		if f.RelativePath == relativePath {
			return f, nil
		}
	}
	return FileEntry{}, fmt.Errorf("%w: %s has no entry %s", ErrNotFound, id, relativePath)
}

// Chain walks from id toward its full backup, returning records in
// walk order (requested record first). The walk halts, without error,
// when a parent is missing or a cycle repeats — callers see the chain
// as far as it resolves. Only an unknown starting id is an error.
func (s *ChainStore) Chain(id string) ([]BackupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.records[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var out []BackupRecord
	seen := make(map[string]bool)
	cur := id
	for cur != "" && !seen[cur] {
		seen[cur] = true
		rec, ok := s.records[cur]
		if !ok {
			break
		}
		out = append(out, rec.clone())
		cur = rec.ParentID
	}
	return out, nil
}

// FullBackupID resolves the full backup anchoring id's chain, or ""
// when the chain does not reach one.
func (s *ChainStore) FullBackupID(id string) (string, error) {
	chain, err := s.Chain(id)
	if err != nil {
		return "", err
	}
	last := chain[len(chain)-1]
	if last.Kind != KindFull {
		return "", nil
	}
	return last.ID, nil
}

// IncrementalsOf returns every incremental whose chain resolves to
// fullID, in ascending timestamp order. Records with broken chains are
// skipped.
func (s *ChainStore) IncrementalsOf(fullID string) []BackupRecord {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id, rec := range s.records {
		if rec.Kind == KindIncremental {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	var out []BackupRecord
	for _, id := range ids {
		root, err := s.FullBackupID(id)
		if err != nil || root == "" || root != fullID {
			continue
		}
		rec, err := s.Get(id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// VerifyIntegrity checks a record's structural health: validation
// passes, an incremental's parent resolves, and every file entry has a
// path and checksum. Tamper evidence against the checksum fingerprint
// is a separate concern (ComputeChecksum vs RecordChecksum).
func (s *ChainStore) VerifyIntegrity(id string) (bool, error) {
	rec, err := s.Get(id)
	if err != nil {
		return false, err
	}
	if rec.Validate() != nil {
		return false, nil
	}
	if rec.Kind == KindIncremental {
		s.mu.RLock()
		_, ok := s.records[rec.ParentID]
		s.mu.RUnlock()
		if !ok {
			return false, nil
		}
	}
	for _, f := range rec.Files {
		if f.RelativePath == "" || f.Checksum == "" {
			return false, nil
		}
	}
	return true, nil
}

// ListIDs returns all record ids in ascending timestamp order.
func (s *ChainStore) ListIDs() []string {
	recs := s.list()
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

// FindByFile returns records containing an entry for relativePath, in
// ascending timestamp order.
func (s *ChainStore) FindByFile(relativePath string) []BackupRecord {
	var out []BackupRecord
	for _, rec := range s.list() {
		for _, f := range rec.Files {
			if f.RelativePath == relativePath {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

// FindByDateRange returns records with start <= Timestamp < end, in
// ascending timestamp order.
func (s *ChainStore) FindByDateRange(start, end time.Time) []BackupRecord {
	var out []BackupRecord
	for _, rec := range s.list() {
		if !rec.Timestamp.Before(start) && rec.Timestamp.Before(end) {
			out = append(out, rec)
		}
	}
	return out
}

// TotalSize sums the original byte count across all records.
func (s *ChainStore) TotalSize() int64 {
	var total int64
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		total += rec.TotalSize
	}
	return total
}

// FileCount sums file entries across all records.
func (s *ChainStore) FileCount() int {
	n := 0
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		n += len(rec.Files)
	}
	return n
}

// CompressionRatio returns aggregate stored/original bytes, or 0 when
// the store is empty.
func (s *ChainStore) CompressionRatio() float64 {
	var orig, stored int64
	s.mu.RLock()
	for _, rec := range s.records {
		orig += rec.TotalSize
		stored += rec.StoredSize
	}
	s.mu.RUnlock()
	if orig == 0 {
		return 0
	}
	return float64(stored) / float64(orig)
}

// Len returns the number of records.
func (s *ChainStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// PruneOrphans removes incrementals whose chain no longer reaches a
// full backup. Removal can orphan further children, so the sweep
// repeats until stable; running it again removes nothing.
func (s *ChainStore) PruneOrphans() []string {
	var removed []string
	for {
		var batch []string
		s.mu.RLock()
		for id, rec := range s.records {
			if rec.Kind != KindIncremental {
				continue
			}
			if _, ok := s.records[rec.ParentID]; !ok {
				batch = append(batch, id)
			}
		}
		s.mu.RUnlock()

		if len(batch) == 0 {
			break
		}
		s.mu.Lock()
		for _, id := range batch {
			delete(s.records, id)
		}
		s.mu.Unlock()
		removed = append(removed, batch...)
	}
	sort.Strings(removed)
	return removed
}

// PruneOlderThan removes records whose timestamp is before cutoff.
// Descendants of removed records are left in place; a following
// PruneOrphans sweep cleans those up if wanted.
func (s *ChainStore) PruneOlderThan(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, rec := range s.records {
		if rec.Timestamp.Before(cutoff) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(s.records, id)
	}
	sort.Strings(removed)
	return removed
}

// list returns clones of all records in ascending timestamp order,
// ties broken by id.
func (s *ChainStore) list() []BackupRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BackupRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

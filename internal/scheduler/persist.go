package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"dirsafe/internal/fsutil"
)

// scheduleVersion is the format version of the schedule document.
const scheduleVersion = "1.0"

type scheduleDoc struct {
	Version   string         `json:"version"`
	Schedules []scheduleItem `json:"schedules"`
}

// scheduleItem is the persisted form of an Entry. Kind travels as its
// ordinal value; interval as whole seconds; an empty nextRun means a
// fired once-entry.
type scheduleItem struct {
	Name            string `json:"name"`
	Kind            int    `json:"type"`
	IntervalSeconds int64  `json:"interval"`
	NextRun         string `json:"nextRun,omitempty"`
	Enabled         bool   `json:"enabled"`
}

// SaveToFile persists the schedule table.
func (s *Scheduler) SaveToFile(path string) error {
	doc := scheduleDoc{Version: scheduleVersion, Schedules: []scheduleItem{}}
	for _, e := range s.Entries() {
		item := scheduleItem{
			Name:            e.Name,
			Kind:            int(e.Kind),
			IntervalSeconds: int64(e.Interval / time.Second),
			Enabled:         e.Enabled,
		}
		if !e.NextRun.IsZero() {
			item.NextRun = fsutil.FormatTimestamp(e.NextRun)
		}
		doc.Schedules = append(doc.Schedules, item)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding schedules: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing schedules %s: %w", path, err)
	}
	return nil
}

// LoadFromFile replaces the schedule table with the persisted one. A
// missing file leaves the table empty. Unreadable entries are dropped
// with a warning.
func (s *Scheduler) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading schedules %s: %w", path, err)
	}

	var doc scheduleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing schedules %s: %w", path, err)
	}

	entries := make(map[string]*Entry, len(doc.Schedules))
	for _, item := range doc.Schedules {
		kind := Kind(item.Kind)
		if item.Name == "" || !kind.Valid() {
			s.logger.Warn("dropping unreadable schedule entry", "name", item.Name)
			continue
		}
		e := &Entry{
			Name:     item.Name,
			Kind:     kind,
			Interval: time.Duration(item.IntervalSeconds) * time.Second,
			Enabled:  item.Enabled,
		}
		if item.NextRun != "" {
			next, err := fsutil.ParseTimestamp(item.NextRun)
			if err != nil {
				s.logger.Warn("dropping schedule entry with bad next-run time",
					"name", item.Name, "error", err)
				continue
			}
			e.NextRun = next
		}
		entries[e.Name] = e
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}

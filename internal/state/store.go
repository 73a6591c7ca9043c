// Package state persists daemon state as one JSON file per record under the
// data directory:
//
//	sessions/<SessionId>.json
//	panes/<PaneId>.json
//	settings/<key>.json
//
// Writes are atomic per key (temp file + rename). Every record carries a
// schema_version; unknown versions are logged and skipped at load, never
// fatal to the daemon.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"orchmux/internal/mux"
)

const (
	kindSessions = "sessions"
	kindPanes    = "panes"
	kindSettings = "settings"

	// renameRetry covers transient rename failures (file locks on some
	// platforms settle quickly).
	renameRetry      = 5
	renameRetryDelay = 10 * time.Millisecond
)

// Store is the on-disk record store. Methods are safe for concurrent use in
// the sense that distinct keys never interfere; per-key serialization is the
// Saver's job.
type Store struct {
	root string
}

// NewStore creates the data-directory layout.
func NewStore(root string) (*Store, error) {
	for _, kind := range []string{kindSessions, kindPanes, kindSettings} {
		if err := os.MkdirAll(filepath.Join(root, kind), 0o700); err != nil {
			return nil, fmt.Errorf("state: create %s dir: %w", kind, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the data directory.
func (s *Store) Root() string { return s.root }

// SettingsDir returns the settings directory, for the fsnotify watcher.
func (s *Store) SettingsDir() string { return filepath.Join(s.root, kindSettings) }

// sanitizeKey keeps record filenames inside their kind directory.
func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, string(os.PathSeparator), "_")
	key = strings.ReplaceAll(key, "..", "_")
	return key
}

func (s *Store) recordPath(kind, key string) string {
	return filepath.Join(s.root, kind, sanitizeKey(key)+".json")
}

// writeRecord marshals v and swaps it into place atomically.
func (s *Store) writeRecord(kind, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal %s/%s: %w", kind, key, err)
	}
	dst := s.recordPath(kind, key)
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+sanitizeKey(key)+".tmp-*")
	if err != nil {
		return fmt.Errorf("state: temp file for %s/%s: %w", kind, key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: write %s/%s: %w", kind, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: close %s/%s: %w", kind, key, err)
	}
	for attempt := 0; ; attempt++ {
		err = os.Rename(tmpName, dst)
		if err == nil {
			return nil
		}
		if attempt >= renameRetry {
			os.Remove(tmpName)
			return fmt.Errorf("state: rename %s/%s: %w", kind, key, err)
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryDelay)
	}
}

func (s *Store) deleteRecord(kind, key string) error {
	err := os.Remove(s.recordPath(kind, key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("state: delete %s/%s: %w", kind, key, err)
	}
	return nil
}

// loadRecords reads every .json file under kind and hands the raw bytes to
// decode. Unreadable files are logged and skipped.
func (s *Store) loadRecords(kind string, decode func(name string, raw []byte)) error {
	entries, err := os.ReadDir(filepath.Join(s.root, kind))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("state: read %s dir: %w", kind, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		raw, readErr := os.ReadFile(filepath.Join(s.root, kind, name))
		if readErr != nil {
			slog.Warn("[state] unreadable record skipped", "kind", kind, "file", name, "error", readErr)
			continue
		}
		decode(strings.TrimSuffix(name, ".json"), raw)
	}
	return nil
}

// schemaProbe pulls the version tag out of a record before full decode.
type schemaProbe struct {
	SchemaVersion int `json:"schema_version"`
}

// SaveSession writes one session record.
func (s *Store) SaveSession(rec mux.SessionRecord) error {
	return s.writeRecord(kindSessions, rec.SessionID, rec)
}

// DeleteSession removes one session record.
func (s *Store) DeleteSession(id string) error {
	return s.deleteRecord(kindSessions, id)
}

// SavePane writes one pane record.
func (s *Store) SavePane(rec mux.PaneRecord) error {
	return s.writeRecord(kindPanes, rec.PaneID, rec)
}

// DeletePane removes one pane record.
func (s *Store) DeletePane(id string) error {
	return s.deleteRecord(kindPanes, id)
}

// LoadSessions reads every session record, skipping unknown schema versions.
func (s *Store) LoadSessions() ([]mux.SessionRecord, error) {
	var out []mux.SessionRecord
	err := s.loadRecords(kindSessions, func(name string, raw []byte) {
		var probe schemaProbe
		if err := json.Unmarshal(raw, &probe); err != nil {
			slog.Warn("[state] malformed session record skipped", "file", name, "error", err)
			return
		}
		if probe.SchemaVersion != mux.SchemaVersion {
			slog.Warn("[state] session record with unknown schema skipped",
				"file", name, "schemaVersion", probe.SchemaVersion)
			return
		}
		var rec mux.SessionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			slog.Warn("[state] session record decode failed", "file", name, "error", err)
			return
		}
		out = append(out, rec)
	})
	return out, err
}

// LoadPanes reads every pane record, skipping unknown schema versions.
func (s *Store) LoadPanes() ([]mux.PaneRecord, error) {
	var out []mux.PaneRecord
	err := s.loadRecords(kindPanes, func(name string, raw []byte) {
		var probe schemaProbe
		if err := json.Unmarshal(raw, &probe); err != nil {
			slog.Warn("[state] malformed pane record skipped", "file", name, "error", err)
			return
		}
		if probe.SchemaVersion != mux.SchemaVersion {
			slog.Warn("[state] pane record with unknown schema skipped",
				"file", name, "schemaVersion", probe.SchemaVersion)
			return
		}
		var rec mux.PaneRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			slog.Warn("[state] pane record decode failed", "file", name, "error", err)
			return
		}
		out = append(out, rec)
	})
	return out, err
}

// SaveSetting writes one setting value.
func (s *Store) SaveSetting(key string, value any) error {
	return s.writeRecord(kindSettings, key, value)
}

// LoadSetting reads one setting into out. Returns false when absent.
func (s *Store) LoadSetting(key string, out any) (bool, error) {
	raw, err := os.ReadFile(s.recordPath(kindSettings, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("state: read setting %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode setting %s: %w", key, err)
	}
	return true, nil
}

// DeleteSetting removes one setting.
func (s *Store) DeleteSetting(key string) error {
	return s.deleteRecord(kindSettings, key)
}

// ClearAllState wipes every record. For tests.
func (s *Store) ClearAllState() error {
	for _, kind := range []string{kindSessions, kindPanes, kindSettings} {
		dir := filepath.Join(s.root, kind)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("state: clear %s: %w", kind, err)
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("state: recreate %s: %w", kind, err)
		}
	}
	return nil
}

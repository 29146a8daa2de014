package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// backupStore keeps rolling snapshots of the committed document in a single
// JSON file keyed by stringified Unix timestamp. Entries older than the
// retention window are pruned on every write.
type backupStore struct {
	path      string
	retention time.Duration
	now       func() time.Time
}

func newBackupStore(path string, retention time.Duration) *backupStore {
	return &backupStore{path: path, retention: retention, now: time.Now}
}

func (b *backupStore) write(doc map[string]any) error {
	entries, err := b.read()
	if err != nil {
		return err
	}

	snapshot, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	now := b.now()
	entries[strconv.FormatInt(now.Unix(), 10)] = snapshot

	cutoff := now.Add(-b.retention).Unix()
	for key := range entries {
		ts, err := strconv.ParseInt(key, 10, 64)
		if err != nil || ts < cutoff {
			delete(entries, key)
		}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal backup file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("replace backup: %w", err)
	}
	return nil
}

func (b *backupStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	entries := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt backup file should not block commits; start fresh.
		return map[string]json.RawMessage{}, nil
	}
	return entries, nil
}

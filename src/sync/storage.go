package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Fixed namespaces for the client's durable local state. They match the
// storage keys the web client used, so a state directory is recognizable at
// a glance.
const (
	AccountsCacheKey = "abt.accounts.cache.v1"
	QueueKey         = "abt.sync.queue.v1"
)

// Storage persists JSON documents under fixed namespace keys, one file per
// key. It is the client-side durability guarantee: queued operations and the
// cached account snapshot must survive a process restart.
type Storage struct {
	dir string
}

// NewStorage opens (creating if needed) a state directory.
func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return &Storage{dir: dir}, nil
}

func (s *Storage) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Read loads the document stored under key into v. It returns false when the
// key has never been written.
func (s *Storage) Read(key string, v any) (bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Write stores v under key. The document is written to a temporary file and
// renamed into place so a crash mid-write never leaves a torn document.
func (s *Storage) Write(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", key, err)
	}
	return nil
}

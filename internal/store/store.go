package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RuntimeStatus is the last observed state of the running process, kept in
// a file so operators can inspect it without the log.
type RuntimeStatus struct {
	Mode        string    `json:"mode"`
	InstanceID  string    `json:"instance_id"`
	PID         int       `json:"pid"`
	State       string    `json:"state"`
	Cycle       int64     `json:"cycle"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastOutcome string    `json:"last_outcome,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	NextCycleAt time.Time `json:"next_cycle_at,omitempty"`
}

// Store owns the state directory: the runtime status file and the journal
// database below it.
type Store struct {
	root   string
	logger *zap.Logger
	mu     sync.Mutex
}

func New(root string, logger *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{root: root, logger: logger.Named("store")}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) OpenJournal() (*Journal, error) {
	return OpenJournal(filepath.Join(s.root, "journal"))
}

func (s *Store) SaveRuntimeStatus(status RuntimeStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSONAtomic(s.runtimeStatusPath(), status)
}

func (s *Store) LoadRuntimeStatus() (RuntimeStatus, bool, error) {
	data, err := os.ReadFile(s.runtimeStatusPath())
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeStatus{}, false, nil
		}
		return RuntimeStatus{}, false, err
	}
	var status RuntimeStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return RuntimeStatus{}, false, err
	}
	return status, true, nil
}

func (s *Store) runtimeStatusPath() string {
	return filepath.Join(s.root, "runtime_status.json")
}

func (s *Store) writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	s.fsyncDir(dir, path)
	return nil
}

// fsyncDir makes the rename durable where the platform allows it. Failures
// are logged and ignored.
func (s *Store) fsyncDir(dir, path string) {
	d, err := os.Open(dir)
	if err != nil {
		s.logger.Warn("store_dir_fsync_skipped", zap.String("dir", dir), zap.String("target", path), zap.Error(err))
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		s.logger.Warn("store_dir_fsync_failed", zap.String("dir", dir), zap.String("target", path), zap.Error(err))
	}
}

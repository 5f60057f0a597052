package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// HostState tracks whether the locally held host id can be trusted.
// A restored id starts out pending: persistence never implies validity.
type HostState string

const (
	HostAbsent  HostState = "absent"
	HostPending HostState = "pending"
	HostValid   HostState = "valid"
	HostInvalid HostState = "invalid"
)

type hostFile struct {
	HostID int `json:"hostId"`
}

// HostKeeper holds the numeric host identity and persists it across runs in
// a small JSON state file. Validation is the SessionStore's job; the keeper
// only records the outcome.
type HostKeeper struct {
	logger *zap.Logger

	mu    sync.Mutex
	path  string
	id    int
	state HostState
}

func NewHostKeeper(path string, logger *zap.Logger) *HostKeeper {
	k := &HostKeeper{path: path, state: HostAbsent, logger: logger}
	k.load()
	return k
}

func (k *HostKeeper) load() {
	data, err := os.ReadFile(k.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			k.logger.Warn("read host state file", zap.String("path", k.path), zap.Error(err))
		}
		return
	}
	var f hostFile
	if err := json.Unmarshal(data, &f); err != nil || f.HostID == 0 {
		k.logger.Warn("corrupt host state file, ignoring", zap.String("path", k.path))
		return
	}
	k.id = f.HostID
	k.state = HostPending
}

// ID returns the held host id; ok is false when no identity is held.
func (k *HostKeeper) ID() (id int, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state == HostAbsent {
		return 0, false
	}
	return k.id, true
}

func (k *HostKeeper) State() HostState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Set stores a freshly created host id and persists it. A newly created
// host is valid: the server just handed us the record.
func (k *HostKeeper) Set(id int) error {
	k.mu.Lock()
	k.id = id
	k.state = HostValid
	k.mu.Unlock()
	return k.persist(id)
}

func (k *HostKeeper) persist(id int) error {
	data, err := json.Marshal(hostFile{HostID: id})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(k.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create host state dir: %w", err)
		}
	}
	if err := os.WriteFile(k.path, data, 0o600); err != nil {
		k.logger.Warn("persist host state", zap.String("path", k.path), zap.Error(err))
		return err
	}
	return nil
}

func (k *HostKeeper) markValid() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != HostAbsent {
		k.state = HostValid
	}
}

func (k *HostKeeper) markInvalid() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != HostAbsent {
		k.state = HostInvalid
	}
}

// Clear forgets the identity and removes the state file.
func (k *HostKeeper) Clear() {
	k.mu.Lock()
	k.id = 0
	k.state = HostAbsent
	path := k.path
	k.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		k.logger.Warn("remove host state file", zap.String("path", path), zap.Error(err))
	}
}

package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/claudeutils/claude-queue/internal/types"
)

const (
	// QueueStateFile is the queue state file name under the storage root.
	QueueStateFile = "queue_state.json"

	// AccountsDir holds one subdirectory per saved profile.
	AccountsDir = "accounts"

	// AccountsIndexFile is the account registry under AccountsDir.
	AccountsIndexFile = "accounts.json"

	// ActiveDir mirrors the currently selected profile.
	ActiveDir = "active"
)

// FileStore implements Store on the local filesystem.
type FileStore struct {
	// Root is the storage root directory (e.g. ~/.claude-queue).
	Root string

	mu sync.Mutex
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Root: dir}
}

// Init creates the required directory structure.
func (fs *FileStore) Init() error {
	dirs := []string{
		fs.Root,
		filepath.Join(fs.Root, AccountsDir),
		filepath.Join(fs.Root, ActiveDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// QueueStatePath returns the full path of the queue state file.
func (fs *FileStore) QueueStatePath() string {
	return filepath.Join(fs.Root, QueueStateFile)
}

// AccountsIndexPath returns the full path of the accounts index file.
func (fs *FileStore) AccountsIndexPath() string {
	return filepath.Join(fs.Root, AccountsDir, AccountsIndexFile)
}

// ActivePath returns the full path of the active-credentials directory.
func (fs *FileStore) ActivePath() string {
	return filepath.Join(fs.Root, ActiveDir)
}

// AccountPath returns the directory of a named profile.
func (fs *FileStore) AccountPath(name string) string {
	return filepath.Join(fs.Root, AccountsDir, name)
}

// LoadQueueState reads the persisted queue state.
func (fs *FileStore) LoadQueueState() (*types.QueueState, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.QueueStatePath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return types.NewQueueState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue state: %w", err)
	}

	state, err := types.DecodeQueueState(data)
	if err != nil {
		if qerr := quarantine(path); qerr != nil {
			return nil, fmt.Errorf("quarantine corrupt queue state: %w", qerr)
		}
		return types.NewQueueState(), nil
	}
	return state, nil
}

// SaveQueueState writes the queue state atomically.
func (fs *FileStore) SaveQueueState(state *types.QueueState) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return atomicWriteJSON(fs.QueueStatePath(), state)
}

// LoadAccountsIndex reads the persisted accounts index.
func (fs *FileStore) LoadAccountsIndex() (*types.AccountsIndex, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.AccountsIndexPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return types.NewAccountsIndex(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts index: %w", err)
	}

	var index types.AccountsIndex
	if err := json.Unmarshal(data, &index); err != nil {
		if qerr := quarantine(path); qerr != nil {
			return nil, fmt.Errorf("quarantine corrupt accounts index: %w", qerr)
		}
		return types.NewAccountsIndex(), nil
	}
	if index.Accounts == nil {
		index.Accounts = make(map[string]types.AccountMeta)
	}
	return &index, nil
}

// SaveAccountsIndex writes the accounts index atomically.
func (fs *FileStore) SaveAccountsIndex(index *types.AccountsIndex) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	index.LastUpdated = time.Now().UTC()
	return atomicWriteJSON(fs.AccountsIndexPath(), index)
}

// quarantine renames a corrupt file aside so a fresh state can be
// written in its place. The suffix carries a timestamp so repeated
// corruption does not overwrite earlier evidence.
func quarantine(path string) error {
	aside := fmt.Sprintf("%s.corrupt.%s", path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(path, aside); err != nil {
		return err
	}
	return nil
}

// atomicWriteJSON marshals v and writes it via temp file + fsync + rename.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')

	return atomicWrite(path, func(w io.Writer) error {
		_, werr := w.Write(data)
		return werr
	})
}

// atomicWrite writes via a temp file in the same directory and renames
// over the target so readers never observe a partial file.
func atomicWrite(path string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		}
	}()

	if err := writeFunc(tmpFile); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write content: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}

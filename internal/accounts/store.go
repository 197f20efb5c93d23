// Package accounts manages named profiles of executor credential
// files. One profile at a time is "active": its file set is mirrored
// into the active directory that the executor reads on spawn. Profile
// switches are atomic against concurrent switches (flock over the
// accounts root) and serialized with spawns (the store is the
// executor's SpawnGate).
package accounts

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/claudeutils/claude-queue/internal/storage"
	"github.com/claudeutils/claude-queue/internal/types"
)

const (
	// CredentialsFile is the primary credential file the executor reads.
	CredentialsFile = ".credentials.json"

	// BackupPrefix marks auto-generated snapshot profiles.
	BackupPrefix = "backup_"

	lockFile = ".lock"
)

// credentialFiles are the files cleared from the active directory when
// preparing for a new login.
var credentialFiles = []string{
	CredentialsFile,
	".claude.json",
	"session.json",
	".session",
}

// sessionDirs are cleared and recreated empty to preserve the layout
// the executor expects.
var sessionDirs = []string{
	"sessions",
	"shell-snapshots",
	"statsig",
}

// Store manages profiles under <root>/accounts with the mirror at
// <root>/active.
type Store struct {
	fs *storage.FileStore

	// switchMu serializes credential switches with executor spawns:
	// spawns hold it shared, Use/New hold it exclusively.
	switchMu sync.RWMutex
}

// NewStore creates an account store over the given file store.
func NewStore(fs *storage.FileStore) *Store {
	return &Store{fs: fs}
}

// BeginSpawn takes the shared side of the switch lock. Implements
// executor.SpawnGate.
func (s *Store) BeginSpawn() { s.switchMu.RLock() }

// EndSpawn releases the shared side of the switch lock.
func (s *Store) EndSpawn() { s.switchMu.RUnlock() }

// ActivePath returns the directory whose credential files the executor
// reads on spawn.
func (s *Store) ActivePath() string { return s.fs.ActivePath() }

// Info describes one profile for listings.
type Info struct {
	Name             string    `json:"name"`
	Created          time.Time `json:"created"`
	LastUsed         time.Time `json:"last_used"`
	SubscriptionType string    `json:"subscription_type,omitempty"`
	Email            string    `json:"email,omitempty"`
	HasCredentials   bool      `json:"has_credentials"`
	IsActive         bool      `json:"is_active"`
	IsBackup         bool      `json:"is_backup"`
}

// List returns all profiles sorted by name. Backup profiles are hidden
// unless includeBackups is set.
func (s *Store) List(includeBackups bool) ([]Info, error) {
	index, err := s.fs.LoadAccountsIndex()
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(index.Accounts))
	for name, meta := range index.Accounts {
		if !includeBackups && strings.HasPrefix(name, BackupPrefix) {
			continue
		}
		if _, err := os.Stat(s.fs.AccountPath(name)); err != nil {
			continue
		}
		infos = append(infos, s.buildInfo(name, meta, index.Active))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// GetInfo returns detailed information about one profile.
func (s *Store) GetInfo(name string) (*Info, error) {
	index, err := s.fs.LoadAccountsIndex()
	if err != nil {
		return nil, err
	}
	meta, ok := index.Accounts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, name)
	}
	info := s.buildInfo(name, meta, index.Active)
	return &info, nil
}

// Active returns the name of the active profile, or empty.
func (s *Store) Active() (string, error) {
	index, err := s.fs.LoadAccountsIndex()
	if err != nil {
		return "", err
	}
	return index.Active, nil
}

// Save copies every file under the active directory into the named
// profile, creating it if new, and marks the profile active. Refuses
// when the active directory has no primary credentials file.
func (s *Store) Save(name string) error {
	safe, err := sanitizeName(name)
	if err != nil {
		return err
	}

	unlock, err := s.lockRoot()
	if err != nil {
		return err
	}
	defer unlock()

	activeCreds := filepath.Join(s.fs.ActivePath(), CredentialsFile)
	if _, err := os.Stat(activeCreds); err != nil {
		return fmt.Errorf("%w: authenticate with the executor first", ErrNoCredentials)
	}

	profileDir := s.fs.AccountPath(safe)
	if err := copyTree(s.fs.ActivePath(), profileDir); err != nil {
		return fmt.Errorf("copy active credentials to %s: %w", safe, err)
	}

	index, err := s.fs.LoadAccountsIndex()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	meta := types.AccountMeta{Created: now, LastUsed: now}
	if existing, ok := index.Accounts[safe]; ok {
		meta.Created = existing.Created
	}
	if sub, email := readSubscription(activeCreds); sub != "" {
		meta.SubscriptionType = sub
		meta.Email = email
	}
	index.Accounts[safe] = meta
	index.Active = safe
	return s.fs.SaveAccountsIndex(index)
}

// Use atomically switches the active directory to the named profile:
// clear, copy, update index. Spawns are blocked for the duration; a
// concurrent Use on another process blocks on the root flock.
func (s *Store) Use(name string) error {
	name, err := sanitizeName(name)
	if err != nil {
		return err
	}

	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	unlock, err := s.lockRoot()
	if err != nil {
		return err
	}
	defer unlock()

	profileDir := s.fs.AccountPath(name)
	if _, err := os.Stat(profileDir); err != nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, name)
	}
	if _, err := os.Stat(filepath.Join(profileDir, CredentialsFile)); err != nil {
		return fmt.Errorf("%w: profile %s", ErrNoCredentials, name)
	}

	if err := clearDir(s.fs.ActivePath()); err != nil {
		return fmt.Errorf("clear active directory: %w", err)
	}
	if err := copyTree(profileDir, s.fs.ActivePath()); err != nil {
		return fmt.Errorf("copy profile %s to active: %w", name, err)
	}
	// Recreate session directories the profile may not carry so the
	// executor finds the layout it expects.
	for _, dir := range sessionDirs {
		if err := os.MkdirAll(filepath.Join(s.fs.ActivePath(), dir), 0700); err != nil {
			return fmt.Errorf("recreate %s: %w", dir, err)
		}
	}

	index, err := s.fs.LoadAccountsIndex()
	if err != nil {
		return err
	}
	index.Active = name
	if meta, ok := index.Accounts[name]; ok {
		meta.LastUsed = time.Now().UTC()
		index.Accounts[name] = meta
	}
	return s.fs.SaveAccountsIndex(index)
}

// New prepares for a fresh login: snapshot current credentials under a
// unique backup name when they exist, then clear all credential and
// session files from the active directory. Does not set a new active
// profile. Returns the backup name, or empty when nothing was saved.
func (s *Store) New() (string, error) {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	backupName := ""
	activeCreds := filepath.Join(s.fs.ActivePath(), CredentialsFile)
	if _, err := os.Stat(activeCreds); err == nil {
		backupName = s.uniqueBackupName()
		if err := s.Save(backupName); err != nil {
			return "", fmt.Errorf("snapshot current credentials: %w", err)
		}
	}

	unlock, err := s.lockRoot()
	if err != nil {
		return "", err
	}
	defer unlock()

	for _, file := range credentialFiles {
		path := filepath.Join(s.fs.ActivePath(), file)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("remove %s: %w", file, err)
		}
	}
	for _, dir := range sessionDirs {
		path := filepath.Join(s.fs.ActivePath(), dir)
		if err := os.RemoveAll(path); err != nil {
			return "", fmt.Errorf("clear %s: %w", dir, err)
		}
		if err := os.MkdirAll(path, 0700); err != nil {
			return "", fmt.Errorf("recreate %s: %w", dir, err)
		}
	}

	index, err := s.fs.LoadAccountsIndex()
	if err != nil {
		return "", err
	}
	index.Active = ""
	if err := s.fs.SaveAccountsIndex(index); err != nil {
		return "", err
	}
	return backupName, nil
}

// Delete removes a profile. If it was active, the active pointer is
// cleared; the active directory itself is left untouched.
func (s *Store) Delete(name string) error {
	name, err := sanitizeName(name)
	if err != nil {
		return err
	}

	unlock, err := s.lockRoot()
	if err != nil {
		return err
	}
	defer unlock()

	profileDir := s.fs.AccountPath(name)
	if _, err := os.Stat(profileDir); err != nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, name)
	}
	if err := os.RemoveAll(profileDir); err != nil {
		return fmt.Errorf("remove profile %s: %w", name, err)
	}

	index, err := s.fs.LoadAccountsIndex()
	if err != nil {
		return err
	}
	delete(index.Accounts, name)
	if index.Active == name {
		index.Active = ""
	}
	return s.fs.SaveAccountsIndex(index)
}

// buildInfo assembles an Info from index metadata plus the profile
// directory contents.
func (s *Store) buildInfo(name string, meta types.AccountMeta, active string) Info {
	credsPath := filepath.Join(s.fs.AccountPath(name), CredentialsFile)
	_, credsErr := os.Stat(credsPath)

	info := Info{
		Name:             name,
		Created:          meta.Created,
		LastUsed:         meta.LastUsed,
		SubscriptionType: meta.SubscriptionType,
		Email:            meta.Email,
		HasCredentials:   credsErr == nil,
		IsActive:         name == active,
		IsBackup:         strings.HasPrefix(name, BackupPrefix),
	}
	if info.SubscriptionType == "" && credsErr == nil {
		if sub, email := readSubscription(credsPath); sub != "" {
			info.SubscriptionType = sub
			if info.Email == "" {
				info.Email = email
			}
		}
	}
	return info
}

// uniqueBackupName returns an unused backup_<timestamp> name.
func (s *Store) uniqueBackupName() string {
	base := BackupPrefix + time.Now().UTC().Format("20060102_150405")
	name := base
	for i := 1; ; i++ {
		if _, err := os.Stat(s.fs.AccountPath(name)); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

// lockRoot takes the exclusive flock over the accounts root, returning
// the release function. Blocks until the lock is available so two
// processes can interleave switches safely.
func (s *Store) lockRoot() (func(), error) {
	path := filepath.Join(s.fs.Root, storage.AccountsDir, lockFile)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create accounts directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open accounts lock: %w", err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		_ = file.Close() //nolint:errcheck // cleanup in error path
		return nil, fmt.Errorf("acquire accounts lock: %w", err)
	}
	return func() {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN) //nolint:errcheck // release best-effort
		_ = file.Close()                                   //nolint:errcheck // release best-effort
	}, nil
}

// sanitizeName validates a profile name for filesystem use.
func sanitizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	for _, r := range trimmed {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '-' || r == '_' || r == ' ' {
			continue
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return trimmed, nil
}

// readSubscription extracts subscription type and email from a
// credentials file. Best effort: the blob is otherwise opaque.
func readSubscription(credsPath string) (string, string) {
	data, err := os.ReadFile(credsPath)
	if err != nil {
		return "", ""
	}
	var creds struct {
		OAuth struct {
			SubscriptionType string `json:"subscriptionType"`
			Email            string `json:"email"`
		} `json:"claudeAiOauth"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", ""
	}
	return creds.OAuth.SubscriptionType, creds.OAuth.Email
}

// clearDir removes every entry inside dir without removing dir itself.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// copyTree recursively copies src into dst, replacing what is there.
func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0700); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := os.RemoveAll(dstPath); err != nil {
				return err
			}
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

// copyFile copies one file preserving its permission bits.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close() //nolint:errcheck // read side
	}()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close() //nolint:errcheck // cleanup in error path
		return err
	}
	return out.Close()
}

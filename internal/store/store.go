package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/jcuenca6779/urbandrive/internal/api"
)

const (
	tokenFile    = "token"
	identityFile = "identity.json"
)

// FileStore persists the bearer token and the cached identity under the state
// directory. It survives restarts but not an explicit Clear. Token contents
// are never validated here; only the backend decides whether a token is
// still good.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// New creates the store, creating the state directory if needed.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// SaveToken persists the bearer token.
func (s *FileStore) SaveToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFile(tokenFile, []byte(token))
}

// CurrentToken returns the persisted token, if any.
func (s *FileStore) CurrentToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.dir, tokenFile))
	if err != nil {
		return "", false
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", false
	}
	return token, true
}

// ClearToken removes the persisted token.
func (s *FileStore) ClearToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeFile(tokenFile)
}

// SaveIdentity persists the cached identity record.
func (s *FileStore) SaveIdentity(id *api.Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFile(identityFile, data)
}

// CurrentIdentity returns the persisted identity. A missing record yields
// (nil, nil); an unreadable or unparsable one yields an error so the caller
// can purge it.
func (s *FileStore) CurrentIdentity() (*api.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.dir, identityFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	var id api.Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parse identity: %w", err)
	}
	if id.ID == 0 {
		return nil, fmt.Errorf("parse identity: missing user id")
	}
	return &id, nil
}

// ClearIdentity removes the persisted identity.
func (s *FileStore) ClearIdentity() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeFile(identityFile)
}

// Clear removes both keys. Token and identity are present or absent
// together from the session manager's point of view.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.removeFile(tokenFile); err != nil {
		return err
	}
	return s.removeFile(identityFile)
}

// writeFile writes atomically via rename so a crash never leaves a
// half-written record behind.
func (s *FileStore) writeFile(name string, data []byte) error {
	target := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp.Name(), target)
}

func (s *FileStore) removeFile(name string) error {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

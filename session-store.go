package chatIO

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SessionStore persists the one session key shared by every strategy.
// Readers must call Get on every use; the last Set wins.
type SessionStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, sessionKey string) error
}

type MemorySessionStore struct {
	mtx        sync.RWMutex
	sessionKey string
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (s *MemorySessionStore) Get(ctx context.Context) (string, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.sessionKey, nil
}

func (s *MemorySessionStore) Set(ctx context.Context, sessionKey string) error {
	s.mtx.Lock()
	s.sessionKey = sessionKey
	s.mtx.Unlock()
	return nil
}

// FileSessionStore keeps the key in a small JSON document on disk so it
// survives a process restart.
type FileSessionStore struct {
	mtx  sync.Mutex
	path string
}

func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

func (s *FileSessionStore) Get(ctx context.Context) (string, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	values, err := s.read()
	if err != nil {
		return "", err
	}
	return values[SessionKeyName], nil
}

func (s *FileSessionStore) Set(ctx context.Context, sessionKey string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	values[SessionKeyName] = sessionKey

	data, err := json.Marshal(values)
	if err != nil {
		return err
	}

	// write then rename so a crash never leaves a torn file
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("session store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("session store: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileSessionStore) read() (map[string]string, error) {
	values := map[string]string{}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	return values, nil
}

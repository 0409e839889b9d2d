package client

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TokenStore persists the session token between calls.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// MemoryTokens keeps the token for the life of the process.
type MemoryTokens struct {
	mu    sync.Mutex
	token string
}

func (m *MemoryTokens) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryTokens) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryTokens) Clear() error { return m.Save("") }

// FileTokens stores the token in a file readable only by the owner.
type FileTokens struct {
	Path string
}

func (f FileTokens) Load() (string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (f FileTokens) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.Path, []byte(token+"\n"), 0o600)
}

func (f FileTokens) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

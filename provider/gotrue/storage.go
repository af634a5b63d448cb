package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	auth "github.com/goliatone/go-knowly-auth"
)

// SessionStorage persists the client session between runs.
type SessionStorage interface {
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context) (*auth.Session, error)
	Save(ctx context.Context, s *auth.Session) error
	Clear(ctx context.Context) error
}

// MemoryStorage keeps the session in memory.
type MemoryStorage struct {
	mu      sync.Mutex
	session *auth.Session
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load(context.Context) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone(), nil
}

func (m *MemoryStorage) Save(_ context.Context, s *auth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s.Clone()
	return nil
}

func (m *MemoryStorage) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

// FileStorage keeps the session as JSON in a file readable by the owner
// only.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the session file location.
func (f *FileStorage) Path() string {
	return f.path
}

func (f *FileStorage) Load(context.Context) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	if len(raw) == 0 {
		return nil, nil
	}

	session := &auth.Session{}
	if err := json.Unmarshal(raw, session); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return session, nil
}

func (f *FileStorage) Save(_ context.Context, s *auth.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s == nil {
		return f.remove()
	}

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStorage) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remove()
}

func (f *FileStorage) remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

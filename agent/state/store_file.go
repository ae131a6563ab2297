package state

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	sessionDirMode  = 0o700
	sessionFileMode = 0o600
	tempFilePattern = ".session-*.tmp"
)

// FileStore keeps one TOML file per session under a directory. Writes go
// through a temp file and a rename so a crash never leaves a torn record.
type FileStore struct {
	dir   string
	locks sync.Map
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("session directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve session directory: %w", err)
	}
	return &FileStore{dir: filepath.Clean(abs)}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Load(ctx context.Context, sessionID string) (*SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}

	mu := s.lock(path)
	mu.RLock()
	defer mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var rec SessionRecord
	if err := toml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	rec.normalize()
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session file %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

func (s *FileStore) Save(ctx context.Context, rec *SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepareRecord(rec); err != nil {
		return err
	}
	path, err := s.path(rec.SessionID)
	if err != nil {
		return err
	}

	data, err := toml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}

	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()
	return writeFileAtomic(path, data)
}

func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}

	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// path escapes the id so it can never leave the store directory.
func (s *FileStore) path(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", ErrInvalidSession
	}
	name := url.PathEscape(sessionID)
	if name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidSession, sessionID)
	}
	return filepath.Join(s.dir, name+".toml"), nil
}

func (s *FileStore) lock(path string) *sync.RWMutex {
	mu, _ := s.locks.LoadOrStore(path, &sync.RWMutex{})
	return mu.(*sync.RWMutex)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, sessionDirMode); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tempFile.Chmod(sessionFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp session file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp session file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	cleanup = false
	return nil
}

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"association-chat/internal/models"
)

// Key is the store entry holding the signed-in session.
const Key = "association.session"

var ErrNoSession = errors.New("no session")

// Session is the authenticated identity shared by every chat component.
type Session struct {
	Token string             `json:"token"`
	User  models.Counterpart `json:"user"`
}

// Authenticated reports whether the session carries a token.
func (s Session) Authenticated() bool {
	return s.Token != ""
}

// Store is a small persistent key-value map.
type Store interface {
	Get(key string, out any) (bool, error)
	Set(key string, value any) error
	Delete(key string) error
}

// FileStore keeps every key in one JSON document on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// DefaultPath returns storage.json under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "association-chat", "storage.json"), nil
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return false, err
	}
	raw, ok := doc[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *FileStore) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	doc[key] = raw
	return s.write(doc)
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return s.write(doc)
}

func (s *FileStore) read() (map[string]json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) write(doc map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the session once. Components receive the result instead of
// reading the store themselves.
func Load(store Store) (Session, error) {
	var s Session
	ok, err := store.Get(Key, &s)
	if err != nil {
		return Session{}, err
	}
	if !ok || !s.Authenticated() {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func Save(store Store, s Session) error {
	return store.Set(Key, s)
}

func Clear(store Store) error {
	return store.Delete(Key)
}

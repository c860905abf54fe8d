package preferences

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/harunnryd/arturo/pkg/errorsx"
)

// Store is a flat key/value document persisted as indented JSON. Every Set
// reloads the file, changes one key and rewrites the whole document.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	if strings.TrimSpace(path) == "" {
		path = "preferences.json"
	}
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load returns the stored preferences. A missing file is an empty document.
func (s *Store) Load() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, errorsx.Errorf(errorsx.ReasonPreferenceStore, "read preferences: %w", err)
	}
	prefs := map[string]any{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return prefs, nil
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, errorsx.Errorf(errorsx.ReasonPreferenceStore, "decode preferences: %w", err)
	}
	return prefs, nil
}

// Set stores value under key after numeric coercion and returns the value
// that was written.
func (s *Store) Set(key string, value any) (any, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("preference key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs, err := s.load()
	if err != nil {
		return nil, err
	}
	coerced := Coerce(value)
	prefs[key] = coerced
	if err := s.save(prefs); err != nil {
		return nil, err
	}
	return coerced, nil
}

func (s *Store) save(prefs map[string]any) error {
	data, err := json.MarshalIndent(prefs, "", "    ")
	if err != nil {
		return errorsx.Errorf(errorsx.ReasonPreferenceStore, "encode preferences: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".preferences-*.json")
	if err != nil {
		return errorsx.Errorf(errorsx.ReasonPreferenceStore, "write preferences: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errorsx.Errorf(errorsx.ReasonPreferenceStore, "write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return errorsx.Errorf(errorsx.ReasonPreferenceStore, "write preferences: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errorsx.Errorf(errorsx.ReasonPreferenceStore, "write preferences: %w", err)
	}
	return nil
}

// Coerce turns numeric strings into numbers: integers first, then floats.
// Everything else is stored as given.
func Coerce(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	trimmed := strings.TrimSpace(s)
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}

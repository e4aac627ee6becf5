package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Sentinel errors callers branch on.
var (
	ErrNotFound = errors.New("template not found")
	ErrInvalid  = errors.New("template invalid")
)

// Store loads templates from a directory of <template_id>.json files and
// caches parsed templates for the lifetime of the store. Cached templates
// are shared and must be treated as immutable.
type Store struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*Template
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{
		dir:   dir,
		cache: make(map[string]*Template),
	}
}

// Load returns the template with the given id, reading it from disk on
// first use. Missing files map to ErrNotFound; unparsable or structurally
// invalid files map to ErrInvalid.
func (s *Store) Load(id string) (*Template, error) {
	s.mu.RLock()
	tpl, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	path := filepath.Join(s.dir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading template %s: %w", id, err)
	}

	tpl = &Template{}
	if err := json.Unmarshal(data, tpl); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, id, err)
	}
	tpl.applyDefaults()
	if err := tpl.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, id, err)
	}
	if tpl.TemplateID != id {
		return nil, fmt.Errorf("%w: file %s declares template_id %q", ErrInvalid, id, tpl.TemplateID)
	}

	s.mu.Lock()
	// A concurrent loader may have won the race; keep the first entry so
	// callers always see one shared instance.
	if cached, ok := s.cache[id]; ok {
		tpl = cached
	} else {
		s.cache[id] = tpl
	}
	s.mu.Unlock()
	return tpl, nil
}

// List returns the template ids available in the store directory, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Reset drops all cached templates. Subsequent loads re-read from disk.
func (s *Store) Reset() {
	s.mu.Lock()
	s.cache = make(map[string]*Template)
	s.mu.Unlock()
}

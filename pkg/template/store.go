package template

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/log"
)

// catalog is the on-disk shape of the template file
type catalog struct {
	Templates []domain.Template `yaml:"templates"`
}

// Store serves validated templates from one YAML file. The file is read
// once and on explicit Reload; the broker owns the file, so there is no
// watch.
type Store struct {
	path string

	mu        sync.RWMutex
	templates map[string]domain.Template
}

// NewStore loads the template file at path. A missing file yields an empty
// store, not an error, so a fresh install serves an empty catalog.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, templates: map[string]domain.Template{}}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the template file, replacing the catalog atomically. A
// file with any invalid template is rejected as a whole and the previous
// catalog stays in effect.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		log.WithComponent("template").Warn().
			Str("path", s.path).
			Msg("template file absent, serving empty catalog")
		s.mu.Lock()
		s.templates = map[string]domain.Template{}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading template file: %w", err)
	}

	var cat catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("parsing template file: %w", err)
	}

	next := make(map[string]domain.Template, len(cat.Templates))
	for i := range cat.Templates {
		tmpl := cat.Templates[i]
		if err := tmpl.Validate(); err != nil {
			return fmt.Errorf("template %q: %w", tmpl.TemplateID, err)
		}
		if _, dup := next[tmpl.TemplateID]; dup {
			return fmt.Errorf("template %q: duplicate id", tmpl.TemplateID)
		}
		next[tmpl.TemplateID] = tmpl
	}

	s.mu.Lock()
	s.templates = next
	s.mu.Unlock()
	log.WithComponent("template").Info().
		Int("count", len(next)).
		Msg("template catalog loaded")
	return nil
}

// Get returns the template by id
func (s *Store) Get(id string) (domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return domain.Template{}, domain.NewTemplateNotFound(id)
	}
	return tmpl, nil
}

// List returns every template sorted by id
func (s *Store) List() []domain.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Template, 0, len(s.templates))
	for _, tmpl := range s.templates {
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateID < out[j].TemplateID })
	return out
}

// Len returns the catalog size
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates)
}

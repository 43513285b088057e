package graph

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader fetches the template with the given ID. Loaders report unknown
// templates with an error wrapping fs.ErrNotExist.
type Loader func(ctx context.Context, templateID string) (*Model, error)

// Catalog caches indexed templates by ID.
//
// Concurrent Get calls for the same uncached template share one load.
// Loaded templates are normalized and validated before they are cached, so
// every Index handed out comes from a valid Model.
type Catalog struct {
	load Loader

	mu      sync.RWMutex
	entries map[string]*Index
	group   singleflight.Group
}

// NewCatalog creates a catalog backed by load. A nil loader makes the
// catalog serve only templates added with Put.
func NewCatalog(load Loader) *Catalog {
	return &Catalog{
		load:    load,
		entries: make(map[string]*Index),
	}
}

// Get returns the index of templateID, loading it on first use. Unknown
// templates yield an *EngineError with code TEMPLATE_NOT_FOUND.
func (c *Catalog) Get(ctx context.Context, templateID string) (*Index, error) {
	c.mu.RLock()
	ix, ok := c.entries[templateID]
	c.mu.RUnlock()
	if ok {
		return ix, nil
	}
	if c.load == nil {
		return nil, notFound(templateID, fs.ErrNotExist)
	}

	// Concurrent callers share one load; it must not fail because the
	// first caller gave up.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(templateID, func() (interface{}, error) {
		m, err := c.load(loadCtx, templateID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, notFound(templateID, err)
			}
			return nil, fmt.Errorf("load template %s: %w", templateID, err)
		}
		if m.ID == "" {
			m.ID = templateID
		}
		return c.add(m)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// Put validates m and caches its index under m.ID, replacing any previous
// entry.
func (c *Catalog) Put(m *Model) (*Index, error) {
	if m.ID == "" {
		return nil, fmt.Errorf("%w: template id is empty", ErrInvalidModel)
	}
	return c.add(m.Clone())
}

func (c *Catalog) add(m *Model) (*Index, error) {
	m.Normalize()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("template %s: %w", m.ID, err)
	}
	ix := NewIndex(m)

	c.mu.Lock()
	c.entries[m.ID] = ix
	c.mu.Unlock()
	return ix, nil
}

// Invalidate drops templateID from the cache so the next Get reloads it.
func (c *Catalog) Invalidate(templateID string) {
	c.mu.Lock()
	delete(c.entries, templateID)
	c.mu.Unlock()
}

// Cached returns the IDs of the cached templates in lexical order.
func (c *Catalog) Cached() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func notFound(templateID string, cause error) error {
	return &EngineError{
		Message: "template " + templateID + " not found",
		Code:    CodeTemplateNotFound,
		Cause:   cause,
	}
}

// templateExts lists the extensions DirLoader tries, in order.
var templateExts = []string{".json", ".yaml", ".yml"}

// DirLoader loads templates from dir, where template "x" lives in x.json,
// x.yaml or x.yml. A template file that declares a different ID is
// rejected.
func DirLoader(dir string) Loader {
	return func(_ context.Context, templateID string) (*Model, error) {
		if templateID == "" || strings.ContainsAny(templateID, `/\`) || strings.Contains(templateID, "..") {
			return nil, fmt.Errorf("invalid template id %q: %w", templateID, fs.ErrNotExist)
		}
		for _, ext := range templateExts {
			path := filepath.Join(dir, templateID+ext)
			if _, err := os.Stat(path); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, err
			}
			m, err := LoadModelFile(path)
			if err != nil {
				return nil, err
			}
			if m.ID != "" && m.ID != templateID {
				return nil, fmt.Errorf("%s declares id %q, expected %q", path, m.ID, templateID)
			}
			m.ID = templateID
			return m, nil
		}
		return nil, fmt.Errorf("template %s in %s: %w", templateID, dir, fs.ErrNotExist)
	}
}

// ListTemplates returns the template IDs available in dir, in lexical
// order.
func ListTemplates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		for _, known := range templateExts {
			if ext == known {
				id := strings.TrimSuffix(e.Name(), ext)
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

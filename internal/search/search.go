// Package search provides the web search backends behind the web_search
// tool. Each backend implements [Provider]; the [Manager] routes a query
// to the configured primary backend or to one named explicitly.
package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// DefaultCount is the number of results requested when Options.Count is zero.
const DefaultCount = 5

// ErrNotConfigured is returned when no provider matches the requested name.
var ErrNotConfigured = errors.New("search provider not configured")

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Options are optional parameters for a query.
type Options struct {
	// Count caps the number of results. Zero means DefaultCount.
	Count int

	// Language is an ISO 639-1 code passed through when the backend
	// supports it.
	Language string
}

func (o Options) count() int {
	if o.Count <= 0 {
		return DefaultCount
	}
	return o.Count
}

// Provider is implemented by every search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds the configured providers.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a manager whose default backend is primary. When
// primary is empty the first registered provider becomes the default.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   strings.ToLower(primary),
	}
}

// Register adds p, replacing any provider with the same name.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
	if m.primary == "" {
		m.primary = p.Name()
	}
}

// Search runs query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	return m.SearchWith(ctx, m.primary, query, opts)
}

// SearchWith runs query against the named provider and trims the result
// list to the requested count.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[strings.ToLower(provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotConfigured, provider)
	}
	results, err := p.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if n := opts.count(); len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// Primary returns the default provider name.
func (m *Manager) Primary() string { return m.primary }

// Providers returns the registered provider names, sorted.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configured reports whether the primary provider is registered.
func (m *Manager) Configured() bool {
	return slices.Contains(m.Providers(), m.primary)
}

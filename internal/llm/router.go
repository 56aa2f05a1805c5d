package llm

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"
)

// Model is a configured, addressable model.
type Model struct {
	ID       int
	Name     string
	Provider string
	Client   Client
}

// Router maps model ids to clients and picks the default.
type Router struct {
	mu        sync.RWMutex
	models    map[int]*Model
	defaultID int
}

// NewRouter creates an empty router. defaultID may name a model added
// later; when it never is, the lowest id is the default.
func NewRouter(defaultID int) *Router {
	return &Router{
		models:    make(map[int]*Model),
		defaultID: defaultID,
	}
}

// Add registers m, replacing any model with the same id.
func (r *Router) Add(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = &m
}

// Get returns the model with id.
func (r *Router) Get(id int) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// Default returns the default model, or false when none is registered.
func (r *Router) Default() (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.models[r.defaultID]; ok {
		return m, true
	}
	ids := r.sortedIDs()
	if len(ids) == 0 {
		return nil, false
	}
	return r.models[ids[0]], true
}

// Resolve returns the model for id, falling back to the default when id
// is nil or unknown.
func (r *Router) Resolve(id *int) (*Model, bool) {
	if id != nil {
		if m, ok := r.Get(*id); ok {
			return m, true
		}
	}
	return r.Default()
}

// Models returns all models ordered by id.
func (r *Router) Models() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.models))
	for _, id := range r.sortedIDs() {
		out = append(out, *r.models[id])
	}
	return out
}

// Lookup finds a model by numeric id, exact name (case-insensitive), or
// the best fuzzy match on name.
func (r *Router) Lookup(query string) (*Model, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, false
	}
	if id, err := strconv.Atoi(query); err == nil {
		return r.Get(id)
	}

	models := r.Models()
	names := make([]string, len(models))
	for i, m := range models {
		if strings.EqualFold(m.Name, query) {
			return r.Get(m.ID)
		}
		names[i] = strings.ToLower(m.Name)
	}
	matches := fuzzy.Find(strings.ToLower(query), names)
	if len(matches) == 0 {
		return nil, false
	}
	return r.Get(models[matches[0].Index].ID)
}

func (r *Router) sortedIDs() []int {
	ids := make([]int, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

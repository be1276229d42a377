package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

func decodeSchemaForDisplay(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Registry holds the set of ToolSpecs known to the runtime. Registration
// happens at startup; the registry is read-mostly afterward (§5).
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*ToolSpec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*ToolSpec)}
}

// Register adds spec, rejecting a duplicate id.
func (r *Registry) Register(spec *ToolSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.ID]; exists {
		return fmt.Errorf("tool %q already registered", spec.ID)
	}
	r.specs[spec.ID] = spec
	return nil
}

// Get looks up a tool by id.
func (r *Registry) Get(id string) (*ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[id]
	return spec, ok
}

// List enumerates registered tool ids in stable order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Definition is the surface-discovery projection of a ToolSpec.
type Definition struct {
	ID               string `json:"id"`
	Description      string `json:"description"`
	InputSchema      any    `json:"inputSchema"`
	RequiresApproval bool   `json:"requiresApproval"`
}

// Definitions enumerates tool definitions for surface discovery (tools.list).
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.specs))
	for _, spec := range r.specs {
		var schema any
		_ = decodeSchemaForDisplay(spec.InputSchema, &schema)
		defs = append(defs, Definition{
			ID:               spec.ID,
			Description:      spec.Description,
			InputSchema:      schema,
			RequiresApproval: spec.RequiresApproval,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

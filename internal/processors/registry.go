package processors

import (
	"fmt"
	"sort"

	"github.com/aurafin/underwriting-engine/internal/domain"
)

// Registry maps processor names to implementations. Registration happens at
// startup; lookups afterwards are read-only, so no locking is needed.
type Registry struct {
	byName map[string]Processor
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Processor{}}
}

// Register adds a processor. Duplicate names are a wiring bug.
func (r *Registry) Register(p Processor) error {
	def := p.Definition()
	if def.Name == "" {
		return fmt.Errorf("processor definition has no name")
	}
	if _, ok := r.byName[def.Name]; ok {
		return fmt.Errorf("processor %q already registered", def.Name)
	}
	r.byName[def.Name] = p
	return nil
}

// Get returns the processor by name.
func (r *Registry) Get(name string) (Processor, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Names returns all registered processor names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ByCategory returns registered processors of the given category, in name
// order.
func (r *Registry) ByCategory(cat domain.ProcessorCategory) []Processor {
	var out []Processor
	for _, name := range r.Names() {
		p := r.byName[name]
		if p.Definition().Category == cat {
			out = append(out, p)
		}
	}
	return out
}

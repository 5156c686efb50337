package store

import "sync"

// Relation links a referencing (child) model to the model it references (parent).
type Relation struct {
	// Parent is the referenced model name (e.g. "Post").
	Parent string

	// Child is the referencing model name (e.g. "Comment").
	Child string

	// Field is the reference field on the child (e.g. "post_pk").
	Field string

	// Cascade deletes children with their parent.
	Cascade bool

	// RequireParent enforces parent existence on child insert.
	RequireParent bool
}

// Registry holds every declared model. It is built once at startup and is
// read-only after Freeze.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]*Model
	order    []string
	byParent map[string][]Relation
	frozen   bool
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		models:   make(map[string]*Model),
		byParent: make(map[string][]Relation),
	}
}

// Register validates and adds a model declaration.
func (r *Registry) Register(m Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return invalid(m.Name, "", "registry is frozen")
	}
	m.Fields = append([]Field(nil), m.Fields...)
	if err := m.init(); err != nil {
		return err
	}
	if _, dup := r.models[m.Name]; dup {
		return invalid(m.Name, "", "model already registered")
	}
	for _, other := range r.models {
		if other.Table == m.Table {
			return invalid(m.Name, "", "table %q already used by %s", m.Table, other.Name)
		}
	}
	r.models[m.Name] = &m
	r.order = append(r.order, m.Name)
	return nil
}

// MustRegister is Register for package-level declarations; it panics on error.
func (r *Registry) MustRegister(models ...Model) *Registry {
	for _, m := range models {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
	return r
}

// Freeze resolves references and makes the registry read-only. It is idempotent.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil
	}
	byParent := make(map[string][]Relation)
	for _, name := range r.order {
		m := r.models[name]
		for _, f := range m.Fields {
			if f.Type != Reference {
				continue
			}
			if _, ok := r.models[f.Ref]; !ok {
				return invalid(m.Name, f.Name, "references unknown model %q", f.Ref)
			}
			byParent[f.Ref] = append(byParent[f.Ref], Relation{
				Parent:        f.Ref,
				Child:         m.Name,
				Field:         f.Name,
				Cascade:       f.OnDelete == Cascade,
				RequireParent: f.RequireParent,
			})
		}
	}
	r.byParent = byParent
	r.frozen = true
	return nil
}

// Lookup returns the model called name.
func (r *Registry) Lookup(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Model returns the model called name, or a validation error.
func (r *Registry) Model(name string) (*Model, error) {
	if m, ok := r.Lookup(name); ok {
		return m, nil
	}
	return nil, invalid(name, "", "unknown model")
}

// ByTable returns the model stored in the logical table name.
func (r *Registry) ByTable(table string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if m := r.models[name]; m.Table == table {
			return m, true
		}
	}
	return nil, false
}

// Models returns every model in registration order.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.models[name])
	}
	return out
}

// ChildrenOf returns all relations whose parent is the given model.
func (r *Registry) ChildrenOf(parent string) []Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byParent[parent]
}

// AllRelationships returns all resolved relations.
func (r *Registry) AllRelationships() []Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Relation
	for _, name := range r.order {
		out = append(out, r.byParent[name]...)
	}
	return out
}

// HasChildren returns true if any model references parent.
func (r *Registry) HasChildren(parent string) bool {
	return len(r.ChildrenOf(parent)) > 0
}

// RelationBetween returns the relation from child to parent, if declared.
func (r *Registry) RelationBetween(parent, child string) (Relation, bool) {
	for _, rel := range r.ChildrenOf(parent) {
		if rel.Child == child {
			return rel, true
		}
	}
	return Relation{}, false
}

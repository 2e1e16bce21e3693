package variables

import (
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
)

// Store is a typed view over a session's variable map. Writes to declared
// variables are validated against their format; undeclared variables (for
// example api_request outputs) only need to be JSON serialisable.
type Store struct {
	decls  map[string]model.VariableDeclaration
	values map[string]any
}

// NewStore wraps values; a nil map is replaced with an empty one.
func NewStore(values map[string]any, decls []model.VariableDeclaration) *Store {
	if values == nil {
		values = map[string]any{}
	}
	byID := make(map[string]model.VariableDeclaration, len(decls))
	for _, d := range decls {
		byID[d.VariableID] = d
	}
	return &Store{decls: byID, values: values}
}

// Declarations returns every declaration in unspecified order.
func (s *Store) Declarations() []model.VariableDeclaration {
	out := make([]model.VariableDeclaration, 0, len(s.decls))
	for _, d := range s.decls {
		out = append(out, d)
	}
	return out
}

// Get returns the bound value. A nil value counts as unbound.
func (s *Store) Get(id string) (any, bool) {
	v, ok := s.values[id]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Bound reports whether id has a non-nil value.
func (s *Store) Bound(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Check validates value for id without storing it.
func (s *Store) Check(id string, value any) (any, error) {
	if d, ok := s.decls[id]; ok {
		return Validate(id, value, d.Format)
	}
	return normalizeJSON(id, value)
}

// Set validates and binds value. On error the previous binding is kept.
func (s *Store) Set(id string, value any) error {
	v, err := s.Check(id, value)
	if err != nil {
		return err
	}
	s.values[id] = v
	return nil
}

// Unset removes the binding for id.
func (s *Store) Unset(id string) {
	delete(s.values, id)
}

// Values exposes the underlying map. Callers must not retain it across turns.
func (s *Store) Values() map[string]any {
	return s.values
}

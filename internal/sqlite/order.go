package sqlite

import (
	"github.com/juju/errors"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
	"github.com/mesh-intelligence/tracker/pkg/tracking"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

// insertOrder sorts added entries so that every principal is inserted
// before its dependents. Entries keep their handle order otherwise.
func insertOrder(sm *tracking.StateManager, added []*tracking.Entry) ([]*tracking.Entry, error) {
	isAdded := make(map[*tracking.Entry]bool, len(added))
	for _, e := range added {
		isAdded[e] = true
	}
	deps := make(map[*tracking.Entry][]*tracking.Entry, len(added))
	link := func(dependent, principal *tracking.Entry) {
		if principal != nil && principal != dependent && isAdded[principal] && isAdded[dependent] {
			deps[dependent] = append(deps[dependent], principal)
		}
	}
	for _, e := range added {
		for _, n := range e.EntityType().Navigations() {
			switch {
			case n.IsDependent():
				link(e, principalOf(sm, e, n, added))
			case n.IsPrincipal():
				for _, member := range n.Members(e.Entity()) {
					if d, ok := sm.EntryFor(member); ok {
						link(d, e)
					}
				}
			}
		}
	}

	const (
		visiting = 1
		done     = 2
	)
	marks := make(map[*tracking.Entry]int, len(added))
	ordered := make([]*tracking.Entry, 0, len(added))
	var visit func(e *tracking.Entry) error
	visit = func(e *tracking.Entry) error {
		switch marks[e] {
		case done:
			return nil
		case visiting:
			return errors.Annotatef(types.ErrCyclicInsert, "%s", e)
		}
		marks[e] = visiting
		for _, p := range deps[e] {
			if err := visit(p); err != nil {
				return errors.Trace(err)
			}
		}
		marks[e] = done
		ordered = append(ordered, e)
		return nil
	}
	for _, e := range added {
		if err := visit(e); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return ordered, nil
}

// principalOf returns the entry a dependent refers to through n, by
// reference when set and by foreign key values otherwise.
func principalOf(sm *tracking.StateManager, e *tracking.Entry, n *metadata.Navigation, candidates []*tracking.Entry) *tracking.Entry {
	if target := e.Value(n); target != nil {
		p, _ := sm.EntryFor(target)
		return p
	}
	fk := make([]any, len(n.ForeignKey()))
	for i, p := range n.ForeignKey() {
		if fk[i] = e.Value(p); fk[i] == nil {
			return nil
		}
	}
	for _, c := range candidates {
		if c == e || c.EntityType() != n.Target() {
			continue
		}
		if keyMatches(c, n.PrincipalKey(), fk) {
			return c
		}
	}
	return nil
}

func keyMatches(e *tracking.Entry, key []*metadata.Property, values []any) bool {
	for i, p := range key {
		v, err := p.Normalize(values[i])
		if err != nil || !metadata.ValuesEqual(e.Value(p), v) {
			return false
		}
	}
	return true
}

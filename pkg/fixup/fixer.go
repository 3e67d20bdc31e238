// Package fixup keeps the two sides of every relationship consistent. A
// NavigationFixer listens to the change detector and answers each
// relationship change with the writes that make foreign keys, references
// and inverse navigations agree again.
package fixup

import (
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
	"github.com/mesh-intelligence/tracker/pkg/tracking"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

var logger = loggo.GetLogger("tracker.fixup")

// relationship is one foreign key between a principal and a dependent type
// with the navigations exposing it. Either navigation may be missing.
type relationship struct {
	principal    *metadata.EntityType
	dependent    *metadata.EntityType
	principalNav *metadata.Navigation
	dependentNav *metadata.Navigation
	foreignKey   []*metadata.Property
	principalKey []*metadata.Property
}

type relationshipID struct {
	foreignKey, principalKey *metadata.Property
}

// NavigationFixer implements tracking.RelationshipListener. Every write it
// makes goes through the Entry API, so the detector observes it and the
// fixer hears about it again; writes that would not change anything are
// skipped, which ends the chain.
type NavigationFixer struct {
	byForeignKey   map[*metadata.Property][]*relationship
	byPrincipalKey map[*metadata.Property][]*relationship
	byNavigation   map[*metadata.Navigation]*relationship
}

var _ tracking.RelationshipListener = (*NavigationFixer)(nil)

// NewNavigationFixer indexes the relationships of model.
func NewNavigationFixer(model *metadata.Model) *NavigationFixer {
	f := &NavigationFixer{
		byForeignKey:   make(map[*metadata.Property][]*relationship),
		byPrincipalKey: make(map[*metadata.Property][]*relationship),
		byNavigation:   make(map[*metadata.Navigation]*relationship),
	}
	seen := make(map[relationshipID]bool)
	for _, et := range model.EntityTypes() {
		for _, n := range et.Navigations() {
			if n.Role() == "" {
				continue
			}
			id := relationshipID{n.ForeignKey()[0], n.PrincipalKey()[0]}
			if seen[id] {
				continue
			}
			seen[id] = true

			r := &relationship{foreignKey: n.ForeignKey(), principalKey: n.PrincipalKey()}
			r.principal = r.principalKey[0].DeclaringType()
			r.dependent = r.foreignKey[0].DeclaringType()
			if n.IsDependent() {
				r.dependentNav, r.principalNav = n, n.Inverse()
			} else {
				r.principalNav, r.dependentNav = n, n.Inverse()
			}
			for _, p := range r.foreignKey {
				f.byForeignKey[p] = append(f.byForeignKey[p], r)
			}
			for _, p := range r.principalKey {
				f.byPrincipalKey[p] = append(f.byPrincipalKey[p], r)
			}
			if r.principalNav != nil {
				f.byNavigation[r.principalNav] = r
			}
			if r.dependentNav != nil {
				f.byNavigation[r.dependentNav] = r
			}
		}
	}
	return f
}

// ForeignKeyPropertyChanged moves the dependent to the principal its foreign
// key now matches.
func (f *NavigationFixer) ForeignKeyPropertyChanged(d *tracking.Entry, p *metadata.Property, oldValue, _ any) error {
	for _, r := range f.byForeignKey[p] {
		if d.EntityType() != r.dependent {
			continue
		}
		fk := foreignKeyValues(r, d)
		principal := findPrincipal(d.Manager(), r, fk)

		var previous *tracking.Entry
		if r.dependentNav != nil {
			if current := d.Value(r.dependentNav); current != nil {
				e, err := d.Manager().GetOrCreateEntry(current)
				if err != nil {
					return errors.Trace(err)
				}
				previous = e
			}
		} else {
			previous = findPrincipal(d.Manager(), r, replaced(r.foreignKey, fk, p, oldValue))
		}

		if previous != nil && previous != principal {
			if err := detachFromPrincipal(previous, r, d); err != nil {
				return errors.Trace(err)
			}
		}
		if r.dependentNav != nil {
			switch {
			case principal != nil:
				if err := setReference(d, r.dependentNav, principal.Entity()); err != nil {
					return errors.Trace(err)
				}
			case previous != nil && !matches(r, fk, principalValues(r, previous)):
				if err := setReference(d, r.dependentNav, nil); err != nil {
					return errors.Trace(err)
				}
			}
		}
		if principal != nil {
			if err := attachToPrincipal(principal, r, d); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// PrincipalKeyPropertyChanged carries a new principal key value into the
// foreign keys of its dependents, and adopts dependents whose foreign key
// already matches the new value.
func (f *NavigationFixer) PrincipalKeyPropertyChanged(e *tracking.Entry, p *metadata.Property, oldValue, _ any) error {
	sm := e.Manager()
	for _, r := range f.byPrincipalKey[p] {
		if e.EntityType() != r.principal {
			continue
		}
		pk := principalValues(r, e)
		oldPK := replaced(r.principalKey, pk, p, oldValue)

		dependents, err := dependentsOf(e, r, oldPK)
		if err != nil {
			return errors.Trace(err)
		}
		for _, d := range dependents {
			logger.Tracef("%s: carrying %s to %s", e, p.Name(), d)
			if err := setForeignKey(d, r, pk); err != nil {
				return errors.Trace(err)
			}
		}

		for _, d := range sm.Entries() {
			if d.EntityType() != r.dependent || !matches(r, foreignKeyValues(r, d), pk) {
				continue
			}
			if r.dependentNav == nil {
				if err := attachToPrincipal(e, r, d); err != nil {
					return errors.Trace(err)
				}
				continue
			}
			if d.Value(r.dependentNav) == nil {
				if err := setReference(d, r.dependentNav, e.Entity()); err != nil {
					return errors.Trace(err)
				}
			}
		}
	}
	return nil
}

// NavigationReferenceChanged fixes the foreign key and the inverse
// navigation after a reference was pointed somewhere else.
func (f *NavigationFixer) NavigationReferenceChanged(e *tracking.Entry, n *metadata.Navigation, oldValue, newValue any) error {
	r := f.byNavigation[n]
	if r == nil {
		return nil
	}
	sm := e.Manager()
	previous, err := entryOf(sm, oldValue)
	if err != nil {
		return errors.Trace(err)
	}
	next, err := entryOf(sm, newValue)
	if err != nil {
		return errors.Trace(err)
	}

	if n == r.dependentNav {
		switch {
		case next != nil:
			if err := setForeignKey(e, r, principalValues(r, next)); err != nil {
				return errors.Trace(err)
			}
		case previous != nil && matches(r, foreignKeyValues(r, e), principalValues(r, previous)):
			if err := nullForeignKey(e, r); err != nil {
				return errors.Trace(err)
			}
		}
		if previous != nil {
			if err := detachFromPrincipal(previous, r, e); err != nil {
				return errors.Trace(err)
			}
		}
		if next != nil {
			return errors.Trace(attachToPrincipal(next, r, e))
		}
		return nil
	}

	// The principal of a one-to-one relationship.
	if previous != nil {
		if err := releaseDependent(e, r, previous); err != nil {
			return errors.Trace(err)
		}
	}
	if next != nil {
		return errors.Trace(adoptDependent(e, r, next))
	}
	return nil
}

// NavigationCollectionChanged fixes the dependents added to or removed from
// a principal's collection.
func (f *NavigationFixer) NavigationCollectionChanged(e *tracking.Entry, n *metadata.Navigation, added, removed []any) error {
	r := f.byNavigation[n]
	if r == nil || n != r.principalNav {
		return nil
	}
	sm := e.Manager()
	for _, member := range removed {
		d, err := entryOf(sm, member)
		if err != nil {
			return errors.Trace(err)
		}
		if err := releaseDependent(e, r, d); err != nil {
			return errors.Trace(err)
		}
	}
	for _, member := range added {
		d, err := entryOf(sm, member)
		if err != nil {
			return errors.Trace(err)
		}
		if err := adoptDependent(e, r, d); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// adoptDependent points d at principal, taking it from any other principal.
func adoptDependent(principal *tracking.Entry, r *relationship, d *tracking.Entry) error {
	if r.dependentNav != nil {
		if current := d.Value(r.dependentNav); current != nil && current != principal.Entity() {
			other, err := d.Manager().GetOrCreateEntry(current)
			if err != nil {
				return errors.Trace(err)
			}
			if err := detachFromPrincipal(other, r, d); err != nil {
				return errors.Trace(err)
			}
		}
	}
	if err := setForeignKey(d, r, principalValues(r, principal)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(setReference(d, r.dependentNav, principal.Entity()))
}

// releaseDependent cuts d loose from principal if it still points there.
func releaseDependent(principal *tracking.Entry, r *relationship, d *tracking.Entry) error {
	if r.dependentNav != nil && d.Value(r.dependentNav) == principal.Entity() {
		if err := setReference(d, r.dependentNav, nil); err != nil {
			return errors.Trace(err)
		}
	}
	if matches(r, foreignKeyValues(r, d), principalValues(r, principal)) {
		return errors.Trace(nullForeignKey(d, r))
	}
	return nil
}

// attachToPrincipal makes the principal side navigation include d. A
// one-to-one principal gives up the dependent it held before.
func attachToPrincipal(principal *tracking.Entry, r *relationship, d *tracking.Entry) error {
	n := r.principalNav
	if n == nil {
		return nil
	}
	if n.IsCollection() {
		return errors.Trace(principal.AddToCollection(n, d.Entity()))
	}
	if current := principal.Value(n); current != nil && current != d.Entity() {
		other, err := principal.Manager().GetOrCreateEntry(current)
		if err != nil {
			return errors.Trace(err)
		}
		if r.dependentNav != nil && other.Value(r.dependentNav) == principal.Entity() {
			if err := setReference(other, r.dependentNav, nil); err != nil {
				return errors.Trace(err)
			}
		}
		if matches(r, foreignKeyValues(r, other), principalValues(r, principal)) {
			if err := nullForeignKey(other, r); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return errors.Trace(setReference(principal, n, d.Entity()))
}

// detachFromPrincipal removes d from the principal side navigation.
func detachFromPrincipal(principal *tracking.Entry, r *relationship, d *tracking.Entry) error {
	n := r.principalNav
	if n == nil {
		return nil
	}
	if n.IsCollection() {
		return errors.Trace(principal.RemoveFromCollection(n, d.Entity()))
	}
	if principal.Value(n) == d.Entity() {
		return errors.Trace(setReference(principal, n, nil))
	}
	return nil
}

func setReference(e *tracking.Entry, n *metadata.Navigation, target any) error {
	if n == nil || e.Value(n) == target {
		return nil
	}
	logger.Tracef("%s: fixing %s", e, n.Name())
	return errors.Trace(e.SetValue(n, target))
}

func setForeignKey(d *tracking.Entry, r *relationship, pk []any) error {
	for i, p := range r.foreignKey {
		v, err := p.Normalize(pk[i])
		if err != nil {
			return errors.Trace(err)
		}
		if metadata.ValuesEqual(d.Value(p), v) {
			continue
		}
		if v == nil && !p.IsNullable() {
			continue
		}
		logger.Tracef("%s: fixing %s = %v", d, p.Name(), v)
		if err := d.SetValue(p, v); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// nullForeignKey clears the nullable parts of the foreign key of d. A
// required foreign key keeps its value.
func nullForeignKey(d *tracking.Entry, r *relationship) error {
	for _, p := range r.foreignKey {
		if !p.IsNullable() || d.Value(p) == nil {
			continue
		}
		logger.Tracef("%s: clearing %s", d, p.Name())
		if err := d.SetValue(p, nil); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func entryOf(sm *tracking.StateManager, entity any) (*tracking.Entry, error) {
	if entity == nil {
		return nil, nil
	}
	e, err := sm.GetOrCreateEntry(entity)
	return e, errors.Trace(err)
}

// dependentsOf returns the dependents of principal: those its navigation
// holds and the tracked ones whose foreign key matches pk.
func dependentsOf(principal *tracking.Entry, r *relationship, pk []any) ([]*tracking.Entry, error) {
	sm := principal.Manager()
	var found []*tracking.Entry
	seen := make(map[*tracking.Entry]bool)
	if r.principalNav != nil {
		for _, member := range r.principalNav.Members(principal.Entity()) {
			d, err := sm.GetOrCreateEntry(member)
			if err != nil {
				return nil, errors.Trace(err)
			}
			seen[d] = true
			found = append(found, d)
		}
	}
	for _, d := range sm.Entries() {
		if seen[d] || d.EntityType() != r.dependent {
			continue
		}
		if matches(r, foreignKeyValues(r, d), pk) {
			found = append(found, d)
		}
	}
	return found, nil
}

func findPrincipal(sm *tracking.StateManager, r *relationship, fk []any) *tracking.Entry {
	for _, v := range fk {
		if v == nil {
			return nil
		}
	}
	if sameProperties(r.principalKey, r.principal.Key()) {
		e, ok := sm.LookupEntry(tracking.NewEntityKey(r.principal, fk...))
		if ok && e.State() != types.StateDeleted {
			return e
		}
		return nil
	}
	for _, e := range sm.Entries() {
		if e.EntityType() != r.principal || e.State() == types.StateDeleted {
			continue
		}
		if matches(r, fk, principalValues(r, e)) {
			return e
		}
	}
	return nil
}

func principalValues(r *relationship, e *tracking.Entry) []any {
	values := make([]any, len(r.principalKey))
	for i, p := range r.principalKey {
		values[i] = e.Value(p)
	}
	return values
}

func foreignKeyValues(r *relationship, e *tracking.Entry) []any {
	values := make([]any, len(r.foreignKey))
	for i, p := range r.foreignKey {
		values[i] = e.Value(p)
	}
	return values
}

// matches reports whether a foreign key refers to a principal key. Keys
// with a missing part match nothing.
func matches(r *relationship, fk, pk []any) bool {
	for i, p := range r.foreignKey {
		if fk[i] == nil || pk[i] == nil {
			return false
		}
		v, err := p.Normalize(pk[i])
		if err != nil || !metadata.ValuesEqual(fk[i], v) {
			return false
		}
	}
	return true
}

// replaced returns a copy of values with the entry of p set to v.
func replaced(props []*metadata.Property, values []any, p *metadata.Property, v any) []any {
	out := append([]any(nil), values...)
	for i, q := range props {
		if q == p {
			out[i] = v
		}
	}
	return out
}

func sameProperties(a, b []*metadata.Property) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

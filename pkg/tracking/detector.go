package tracking

import (
	"github.com/juju/errors"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

// ChangeDetector compares tracked entities against their sidecars, updates
// entry state, keeps the identity map keyed by current key values, attaches
// newly reachable entities and reports relationship changes to the
// manager's listeners.
type ChangeDetector struct {
	manager *StateManager
}

// DetectChanges runs one detection pass over e. Untracked entries are
// ignored.
func (d *ChangeDetector) DetectChanges(e *Entry) error {
	if !e.state.IsTracked() {
		return nil
	}
	return errors.Trace(d.detectEntry(e))
}

// DetectAllChanges runs a detection pass over every entry tracked when the
// sweep starts, in handle order. Entries attached during the sweep are
// examined by the next one unless reachable discovery is configured.
func (d *ChangeDetector) DetectAllChanges() error {
	entries := d.manager.Entries()
	for _, e := range entries {
		if !e.state.IsTracked() {
			continue
		}
		if err := d.detectEntry(e); err != nil {
			return errors.Trace(err)
		}
	}
	if d.manager.config.DiscoverReachable {
		if err := d.discoverReachable(entries); err != nil {
			return errors.Trace(err)
		}
	}
	logger.Debugf("swept %d entries, %d now tracked", len(entries), d.manager.Len())
	return nil
}

// PropertyChanging is the pre-mutation hook. Entities that are not
// snapshotted eagerly get the old value of key properties and reference
// navigations recorded in the relationships snapshot, and of properties
// tracking original values in the original values sidecar.
func (d *ChangeDetector) PropertyChanging(e *Entry, m metadata.Member) error {
	if m.DeclaringType() != e.entityType {
		return errors.Annotatef(types.ErrUnknownMember, "%s is not a member of %s", m.Name(), e.entityType)
	}
	if e.state.IsTracked() {
		e.pending[m] = snapshotValue(m, e.Value(m))
	}
	if e.entityType.UsesEagerSnapshots() {
		return nil
	}
	switch m := m.(type) {
	case *metadata.Property:
		if m.TracksOriginalValue() {
			e.OriginalValues().ensureSnapshot(m)
		}
		if m.IsKeyOrForeignKey() {
			e.RelationshipsSnapshot().ensureSnapshot(m)
		}
	case *metadata.Navigation:
		if !m.IsCollection() {
			e.RelationshipsSnapshot().ensureSnapshot(m)
		}
	}
	return nil
}

// PropertyChanged is the post-mutation hook. It reacts to the change of m
// at once: the property is flagged modified, the entry is re-keyed and the
// listeners are told about relationship changes. Writing an equal value
// does nothing.
func (d *ChangeDetector) PropertyChanged(e *Entry, m metadata.Member) error {
	if m.DeclaringType() != e.entityType {
		return errors.Annotatef(types.ErrUnknownMember, "%s is not a member of %s", m.Name(), e.entityType)
	}
	old, hadPending := e.pending[m]
	delete(e.pending, m)
	if !e.state.IsTracked() {
		return nil
	}
	current := e.Value(m)
	if hadPending && sameValue(m, old, current) {
		return nil
	}

	// Without a snapshot the value captured before the mutation is the
	// baseline.
	if hadPending && isRelationshipMember(m) {
		snap := e.RelationshipsSnapshot()
		if !snap.HasValue(m) {
			snap.values[m] = old
		}
	}

	switch m := m.(type) {
	case *metadata.Property:
		d.flagChangedProperty(e, m, hadPending, current)
		if !m.IsKeyOrForeignKey() {
			return nil
		}
		return errors.Trace(d.detectKeyChange(e, m, true))
	case *metadata.Navigation:
		if m.IsCollection() {
			return errors.Trace(d.detectCollectionChange(e, m))
		}
		return errors.Trace(d.detectReferenceChange(e, m))
	}
	return nil
}

func (d *ChangeDetector) flagChangedProperty(e *Entry, p *metadata.Property, hadPending bool, current any) {
	changed := true
	if !hadPending {
		if orig, ok := e.Sidecar(types.SidecarOriginalValues); ok && orig.HasValue(p) {
			changed = !metadata.ValuesEqual(orig.values[p], current)
		}
	}
	if changed && !e.IsPropertyModified(p) {
		e.markModified(p)
		logger.Tracef("%s: %s modified", e, p.Name())
	}
}

// observeMutation runs write the way a mutation of the entity itself would
// be observed for the entity's tier.
func (d *ChangeDetector) observeMutation(e *Entry, m metadata.Member, write func() error) error {
	tier := e.entityType.Tier()
	if tier != types.TierEager {
		if err := d.PropertyChanging(e, m); err != nil {
			return errors.Trace(err)
		}
	}
	if err := write(); err != nil {
		delete(e.pending, m)
		return errors.Trace(err)
	}
	if tier == types.TierNotifying {
		return errors.Trace(d.PropertyChanged(e, m))
	}
	delete(e.pending, m)
	return nil
}

// raise dispatches a notification raised by an entity setter. Setters have
// no error path, so a failing reaction panics.
func (d *ChangeDetector) raise(e *Entry, name string, hook func(*Entry, metadata.Member) error) {
	m, err := e.entityType.Member(name)
	if err == nil {
		err = hook(e, m)
	}
	if err != nil {
		panic(errors.Annotatef(err, "%s notification for %s", e, name))
	}
}

// changingOnly is the hook of entities that raise no post-mutation
// notification; nothing consumes the captured value.
func (d *ChangeDetector) changingOnly(e *Entry, m metadata.Member) error {
	err := d.PropertyChanging(e, m)
	delete(e.pending, m)
	return err
}

func (d *ChangeDetector) detectEntry(e *Entry) error {
	et := e.entityType
	tier := et.Tier()
	switch tier {
	case types.TierEager:
		d.detectScalars(e)
	case types.TierNotifying:
		// Everything but collection membership was reported by the
		// notifications already.
		for _, n := range et.Navigations() {
			if n.IsCollection() {
				if err := d.detectCollectionChange(e, n); err != nil {
					return errors.Trace(err)
				}
			}
		}
		return nil
	}

	rekey := d.manager.config.RekeysOnScan(tier)
	for _, p := range et.Properties() {
		if !p.IsKeyOrForeignKey() {
			continue
		}
		if err := d.detectKeyChange(e, p, rekey); err != nil {
			return errors.Trace(err)
		}
	}
	for _, n := range et.Navigations() {
		var err error
		if n.IsCollection() {
			err = d.detectCollectionChange(e, n)
		} else {
			err = d.detectReferenceChange(e, n)
		}
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// detectScalars compares every property against the original values,
// snapshotting properties seen for the first time.
func (d *ChangeDetector) detectScalars(e *Entry) {
	orig := e.OriginalValues()
	for _, p := range e.entityType.Properties() {
		if !orig.CanStore(p) {
			continue
		}
		if !orig.HasValue(p) {
			orig.ensureSnapshot(p)
			continue
		}
		if e.IsPropertyModified(p) {
			continue
		}
		if !metadata.ValuesEqual(orig.values[p], e.Value(p)) {
			e.markModified(p)
			logger.Tracef("%s: %s modified", e, p.Name())
		}
	}
}

// detectKeyChange handles a key or foreign key property: re-key first, then
// the principal key callback, then the foreign key callback.
func (d *ChangeDetector) detectKeyChange(e *Entry, p *metadata.Property, rekey bool) error {
	if !e.state.IsTracked() {
		return nil
	}
	snap := e.RelationshipsSnapshot()
	if !snap.HasValue(p) {
		snap.ensureSnapshot(p)
		return nil
	}
	old, current := snap.values[p], e.Value(p)
	if metadata.ValuesEqual(old, current) {
		return nil
	}
	rekey = rekey && p.IsIdentityKey()
	if !rekey && !p.IsPrincipalKey() && !p.IsForeignKey() {
		// Left for the tier's own notifications to re-key.
		return nil
	}
	snap.values[p] = current
	logger.Tracef("%s: %s changed %v -> %v", e, p.Name(), old, current)

	if rekey {
		if err := d.manager.rekey(e); err != nil {
			snap.values[p] = old
			return errors.Trace(err)
		}
	}
	if p.IsPrincipalKey() {
		for _, l := range d.listeners() {
			if err := l.PrincipalKeyPropertyChanged(e, p, old, current); err != nil {
				return errors.Trace(err)
			}
		}
	}
	if p.IsForeignKey() {
		for _, l := range d.listeners() {
			if err := l.ForeignKeyPropertyChanged(e, p, old, current); err != nil {
				return errors.Trace(err)
			}
		}
		e.promote()
	}
	return nil
}

func (d *ChangeDetector) detectReferenceChange(e *Entry, n *metadata.Navigation) error {
	if !e.state.IsTracked() {
		return nil
	}
	snap := e.RelationshipsSnapshot()
	if !snap.HasValue(n) {
		snap.ensureSnapshot(n)
		return nil
	}
	old, current := snap.values[n], e.Value(n)
	if old == current {
		return nil
	}
	snap.values[n] = current
	logger.Tracef("%s: %s now refers to %v", e, n.Name(), current)

	if current != nil {
		if err := d.discover(n, current); err != nil {
			return errors.Trace(err)
		}
	}
	for _, l := range d.listeners() {
		if err := l.NavigationReferenceChanged(e, n, old, current); err != nil {
			return errors.Trace(err)
		}
	}
	// The foreign key of a principal side navigation lives on the target.
	if !n.IsPrincipal() {
		e.promote()
	}
	return nil
}

func (d *ChangeDetector) detectCollectionChange(e *Entry, n *metadata.Navigation) error {
	if !e.state.IsTracked() {
		return nil
	}
	snap := e.RelationshipsSnapshot()
	if !snap.HasValue(n) {
		snap.ensureSnapshot(n)
		return nil
	}
	old, _ := snap.values[n].([]any)
	current, _ := e.Value(n).([]any)
	added := missingFrom(current, old)
	removed := missingFrom(old, current)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	snap.values[n] = current
	logger.Tracef("%s: %s gained %d and lost %d members", e, n.Name(), len(added), len(removed))

	for _, member := range added {
		if err := d.discover(n, member); err != nil {
			return errors.Trace(err)
		}
	}
	for _, l := range d.listeners() {
		if err := l.NavigationCollectionChanged(e, n, added, removed); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// discover attaches target as added when it is not tracked yet and n allows
// discovery.
func (d *ChangeDetector) discover(n *metadata.Navigation, target any) error {
	if !n.Discovers() {
		return nil
	}
	te, err := d.manager.GetOrCreateEntry(target)
	if err != nil {
		return errors.Trace(err)
	}
	if te.state.IsTracked() {
		return nil
	}
	logger.Tracef("%s: discovered through %s", te, n)
	return errors.Trace(te.SetState(types.StateAdded))
}

// discoverReachable walks every discoverable navigation of entries and of
// the entries it attaches, until nothing new is found.
func (d *ChangeDetector) discoverReachable(entries []*Entry) error {
	work := append([]*Entry(nil), entries...)
	for i := 0; i < len(work); i++ {
		e := work[i]
		if !e.state.IsTracked() {
			continue
		}
		for _, n := range e.entityType.Navigations() {
			if !n.Discovers() {
				continue
			}
			for _, target := range n.Members(e.entity) {
				te, err := d.manager.GetOrCreateEntry(target)
				if err != nil {
					return errors.Trace(err)
				}
				if te.state.IsTracked() {
					continue
				}
				if err := te.SetState(types.StateAdded); err != nil {
					return errors.Trace(err)
				}
				work = append(work, te)
			}
		}
	}
	return nil
}

func (d *ChangeDetector) listeners() []RelationshipListener {
	return d.manager.listeners
}

func isRelationshipMember(m metadata.Member) bool {
	if p, ok := m.(*metadata.Property); ok {
		return p.IsKeyOrForeignKey()
	}
	return true
}

func sameValue(m metadata.Member, a, b any) bool {
	n, ok := m.(*metadata.Navigation)
	if !ok {
		return metadata.ValuesEqual(a, b)
	}
	if !n.IsCollection() {
		return a == b
	}
	as, _ := a.([]any)
	bs, _ := b.([]any)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// missingFrom returns the items not present in others, by identity, in the
// order of items.
func missingFrom(items, others []any) []any {
	seen := make(map[any]struct{}, len(others))
	for _, o := range others {
		seen[o] = struct{}{}
	}
	var missing []any
	for _, item := range items {
		if _, ok := seen[item]; !ok {
			missing = append(missing, item)
		}
	}
	return missing
}

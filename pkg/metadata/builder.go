package metadata

import (
	"reflect"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/mesh-intelligence/tracker/pkg/types"
)

var (
	changingNotifierType = reflect.TypeOf((*ChangingNotifier)(nil)).Elem()
	changedNotifierType  = reflect.TypeOf((*ChangedNotifier)(nil)).Elem()
	uuidType             = reflect.TypeOf(uuid.UUID{})
)

// Builder collects entity and relationship configuration and produces an
// immutable Model. Configuration errors are reported by Build.
type Builder struct {
	entities      []*EntityBuilder
	byGoType      map[reflect.Type]*EntityBuilder
	relationships []*RelationshipBuilder
	errs          []error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{byGoType: make(map[reflect.Type]*EntityBuilder)}
}

// Entity registers the struct type of sample, a struct value or pointer, and
// returns its configuration. Registering a type twice returns the same
// EntityBuilder.
func (b *Builder) Entity(sample any) *EntityBuilder {
	rt := structType(sample)
	if rt == nil {
		b.errs = append(b.errs, errors.Annotatef(types.ErrInvalidModel, "%T is not a struct", sample))
		return &EntityBuilder{ignored: make(map[string]bool)}
	}
	if eb, ok := b.byGoType[rt]; ok {
		return eb
	}
	eb := &EntityBuilder{goType: rt, name: rt.Name(), ignored: make(map[string]bool)}
	b.entities = append(b.entities, eb)
	b.byGoType[rt] = eb
	return eb
}

// HasMany configures a one-to-many relationship from the collection
// navigation on principal. Chain WithOne to name the inverse reference.
func (b *Builder) HasMany(principal any, navigation string) *RelationshipBuilder {
	rb := &RelationshipBuilder{declaring: structType(principal), navigation: navigation, many: true}
	b.relationships = append(b.relationships, rb)
	return rb
}

// HasOne configures a relationship from the reference navigation on entity.
// Without ForeignKeyOn the declaring type holds the foreign key.
func (b *Builder) HasOne(entity any, navigation string) *RelationshipBuilder {
	rb := &RelationshipBuilder{declaring: structType(entity), navigation: navigation}
	b.relationships = append(b.relationships, rb)
	return rb
}

func structType(sample any) reflect.Type {
	rt := reflect.TypeOf(sample)
	if rt == nil {
		return nil
	}
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		return nil
	}
	return rt
}

// EntityBuilder configures one entity type.
type EntityBuilder struct {
	goType         reflect.Type
	name           string
	key            []string
	tier           types.Tier
	originals      []string
	storeGenerated []string
	noGeneration   bool
	ignored        map[string]bool
}

// Name overrides the entity type name, which defaults to the struct name.
func (e *EntityBuilder) Name(name string) *EntityBuilder {
	e.name = name
	return e
}

// Key sets the identity key. Without it a field named ID or Id is used.
func (e *EntityBuilder) Key(names ...string) *EntityBuilder {
	e.key = names
	return e
}

// Tier fixes the tracking tier instead of inferring it from the notifier
// interfaces the type implements.
func (e *EntityBuilder) Tier(tier types.Tier) *EntityBuilder {
	e.tier = tier
	return e
}

// OriginalValues adds properties to the original values sidecar of a
// non-eager type. Eager types keep every property.
func (e *EntityBuilder) OriginalValues(names ...string) *EntityBuilder {
	e.originals = append(e.originals, names...)
	return e
}

// StoreGenerated marks properties whose final value the store assigns.
func (e *EntityBuilder) StoreGenerated(names ...string) *EntityBuilder {
	e.storeGenerated = append(e.storeGenerated, names...)
	return e
}

// NoKeyGeneration turns off temporary and store generated key values.
func (e *EntityBuilder) NoKeyGeneration() *EntityBuilder {
	e.noGeneration = true
	return e
}

// Ignore excludes fields from the model.
func (e *EntityBuilder) Ignore(names ...string) *EntityBuilder {
	for _, n := range names {
		e.ignored[n] = true
	}
	return e
}

// RelationshipBuilder configures the foreign key between two entity types
// and the navigations that expose it.
type RelationshipBuilder struct {
	declaring    reflect.Type
	navigation   string
	many         bool
	inverse      string
	inverseMany  bool
	dependent    reflect.Type
	foreignKey   []string
	principalKey []string
	noDiscovery  bool
}

// WithOne names the reference navigation on the target pointing back.
func (r *RelationshipBuilder) WithOne(inverse string) *RelationshipBuilder {
	r.inverse = inverse
	return r
}

// WithMany names the collection navigation on the target pointing back. The
// declaring type becomes the dependent.
func (r *RelationshipBuilder) WithMany(inverse string) *RelationshipBuilder {
	r.inverse = inverse
	r.inverseMany = true
	return r
}

// ForeignKey names the foreign key properties on the dependent type.
func (r *RelationshipBuilder) ForeignKey(names ...string) *RelationshipBuilder {
	r.foreignKey = names
	return r
}

// ForeignKeyOn names the dependent type of a one-to-one relationship and
// its foreign key properties.
func (r *RelationshipBuilder) ForeignKeyOn(dependent any, names ...string) *RelationshipBuilder {
	r.dependent = structType(dependent)
	r.foreignKey = names
	return r
}

// PrincipalKey names the referenced properties on the principal type. The
// identity key is used when omitted.
func (r *RelationshipBuilder) PrincipalKey(names ...string) *RelationshipBuilder {
	r.principalKey = names
	return r
}

// WithoutDiscovery stops entities found through the configured navigation
// from being attached automatically.
func (r *RelationshipBuilder) WithoutDiscovery() *RelationshipBuilder {
	r.noDiscovery = true
	return r
}

// Build validates the configuration and returns the model.
func (b *Builder) Build() (*Model, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	m := &Model{
		byGoType: make(map[reflect.Type]*EntityType),
		byName:   make(map[string]*EntityType),
	}
	for _, eb := range b.entities {
		if _, dup := m.byName[eb.name]; dup {
			return nil, errors.Annotatef(types.ErrInvalidModel, "entity type %q registered twice", eb.name)
		}
		tier, err := eb.resolveTier()
		if err != nil {
			return nil, errors.Trace(err)
		}
		et := &EntityType{
			name:             eb.name,
			goType:           eb.goType,
			tier:             tier,
			propertyByName:   make(map[string]*Property),
			navigationByName: make(map[string]*Navigation),
		}
		m.entityTypes = append(m.entityTypes, et)
		m.byGoType[eb.goType] = et
		m.byName[et.name] = et
	}
	for i, eb := range b.entities {
		et := m.entityTypes[i]
		buildMembers(m, eb, et)
		if err := buildKey(eb, et); err != nil {
			return nil, errors.Trace(err)
		}
	}
	for _, rb := range b.relationships {
		if err := rb.build(m); err != nil {
			return nil, errors.Trace(err)
		}
	}
	for i, eb := range b.entities {
		if err := finishProperties(eb, m.entityTypes[i]); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return m, nil
}

func (e *EntityBuilder) resolveTier() (types.Tier, error) {
	ptr := reflect.PointerTo(e.goType)
	changing := ptr.Implements(changingNotifierType)
	changed := ptr.Implements(changedNotifierType)

	if e.tier != "" {
		if err := e.tier.Validate(); err != nil {
			return "", errors.Annotatef(err, "entity type %q", e.name)
		}
		switch e.tier {
		case types.TierChanging:
			if !changing {
				return "", errors.Annotatef(types.ErrInvalidModel, "%s does not implement ChangingNotifier", e.name)
			}
		case types.TierNotifying:
			if !changing || !changed {
				return "", errors.Annotatef(types.ErrInvalidModel, "%s must implement ChangingNotifier and ChangedNotifier", e.name)
			}
		}
		return e.tier, nil
	}

	switch {
	case changing && changed:
		return types.TierNotifying, nil
	case changing:
		return types.TierChanging, nil
	case changed:
		return "", errors.Annotatef(types.ErrInvalidModel, "%s raises changed notifications without changing notifications", e.name)
	default:
		return types.TierEager, nil
	}
}

func buildMembers(m *Model, eb *EntityBuilder, et *EntityType) {
	for i := 0; i < eb.goType.NumField(); i++ {
		f := eb.goType.Field(i)
		if !f.IsExported() || f.Anonymous || f.Tag.Get("track") == "-" || eb.ignored[f.Name] {
			continue
		}
		ft := f.Type
		if target := navigationTarget(m, ft); target != nil {
			nav := &Navigation{
				name:          f.Name,
				index:         len(et.navigations),
				declaringType: et,
				fieldIndex:    f.Index,
				fieldType:     ft,
				kind:          ReferenceNavigation,
				target:        target,
				discovers:     true,
			}
			if ft.Kind() == reflect.Slice {
				nav.kind = CollectionNavigation
			}
			et.navigations = append(et.navigations, nav)
			et.navigationByName[nav.name] = nav
			continue
		}
		p := &Property{
			name:          f.Name,
			index:         len(et.properties),
			declaringType: et,
			fieldIndex:    f.Index,
			fieldType:     ft,
			valueType:     ft,
		}
		if ft.Kind() == reflect.Pointer {
			p.nullable = true
			p.valueType = ft.Elem()
		}
		et.properties = append(et.properties, p)
		et.propertyByName[p.name] = p
	}
}

// navigationTarget returns the entity type referenced by a field of type
// *T or []*T, or nil when the field is a plain property.
func navigationTarget(m *Model, ft reflect.Type) *EntityType {
	if ft.Kind() == reflect.Slice {
		ft = ft.Elem()
	}
	if ft.Kind() != reflect.Pointer || ft.Elem().Kind() != reflect.Struct {
		return nil
	}
	return m.byGoType[ft.Elem()]
}

func buildKey(eb *EntityBuilder, et *EntityType) error {
	names := eb.key
	if len(names) == 0 {
		for _, candidate := range []string{"ID", "Id"} {
			if _, ok := et.propertyByName[candidate]; ok {
				names = []string{candidate}
				break
			}
		}
	}
	if len(names) == 0 {
		return errors.Annotatef(types.ErrInvalidModel, "entity type %q has no key", et.name)
	}
	for _, name := range names {
		p, err := et.Property(name)
		if err != nil {
			return errors.Annotatef(types.ErrInvalidModel, "key of %q: %v", et.name, err)
		}
		if !p.valueType.Comparable() {
			return errors.Annotatef(types.ErrInvalidModel, "key property %s is not comparable", p)
		}
		p.identityKey = true
		et.key = append(et.key, p)
	}
	if len(et.key) == 1 && !eb.noGeneration {
		p := et.key[0]
		p.valueGenerated = isGeneratable(p.valueType)
		p.storeGenerated = isInteger(p.valueType.Kind())
	}
	return nil
}

func isGeneratable(t reflect.Type) bool {
	return t == uuidType || t.Kind() == reflect.String || isInteger(t.Kind())
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func (r *RelationshipBuilder) build(m *Model) error {
	if r.declaring == nil {
		return errors.Annotatef(types.ErrInvalidModel, "relationship %q declared on a non-struct", r.navigation)
	}
	decl, ok := m.byGoType[r.declaring]
	if !ok {
		return errors.Annotatef(types.ErrUnknownEntityType, "%s", r.declaring)
	}
	nav, err := decl.Navigation(r.navigation)
	if err != nil {
		return errors.Trace(err)
	}
	if nav.IsCollection() != r.many {
		return errors.Annotatef(types.ErrInvalidModel, "%s has the wrong navigation kind", nav)
	}
	target := nav.target

	var inverse *Navigation
	if r.inverse != "" {
		if inverse, err = target.Navigation(r.inverse); err != nil {
			return errors.Trace(err)
		}
		if inverse.IsCollection() != r.inverseMany || inverse.target != decl {
			return errors.Annotatef(types.ErrInvalidModel, "%s is not the inverse of %s", inverse, nav)
		}
		if r.many && r.inverseMany {
			return errors.Annotatef(types.ErrInvalidModel, "%s: many-to-many relationships are not supported", nav)
		}
	}

	principal, dependent := target, decl
	principalNav, dependentNav := inverse, nav
	switch {
	case r.many:
		principal, dependent = decl, target
		principalNav, dependentNav = nav, inverse
	case r.inverseMany:
	case r.dependent != nil && r.dependent != decl.goType:
		if r.dependent != target.goType {
			return errors.Annotatef(types.ErrInvalidModel, "%s: foreign key type %s is not part of the relationship", nav, r.dependent)
		}
		principal, dependent = decl, target
		principalNav, dependentNav = nav, inverse
	}

	pkNames := r.principalKey
	if len(pkNames) == 0 {
		for _, p := range principal.key {
			pkNames = append(pkNames, p.name)
		}
	}
	fkNames := r.foreignKey
	if len(fkNames) == 0 {
		base := principal.name
		if dependentNav != nil {
			base = dependentNav.name
		}
		fkNames = []string{base + "ID"}
	}
	if len(pkNames) != len(fkNames) {
		return errors.Annotatef(types.ErrInvalidModel, "%s: foreign key and principal key differ in length", nav)
	}
	var pk, fk []*Property
	for i := range pkNames {
		p, err := principal.Property(pkNames[i])
		if err != nil {
			return errors.Annotatef(types.ErrInvalidModel, "principal key of %s: %v", nav, err)
		}
		f, err := dependent.Property(fkNames[i])
		if err != nil {
			return errors.Annotatef(types.ErrInvalidModel, "foreign key of %s: %v", nav, err)
		}
		p.principalKey = true
		f.foreignKey = true
		pk = append(pk, p)
		fk = append(fk, f)
	}

	for _, n := range []*Navigation{principalNav, dependentNav} {
		if n != nil && n.role != "" {
			return errors.Annotatef(types.ErrInvalidModel, "%s is configured by two relationships", n)
		}
	}
	if principalNav != nil {
		principalNav.role = PrincipalRole
		principalNav.inverse = dependentNav
		principalNav.foreignKey = fk
		principalNav.principalKey = pk
	}
	if dependentNav != nil {
		dependentNav.role = DependentRole
		dependentNav.inverse = principalNav
		dependentNav.foreignKey = fk
		dependentNav.principalKey = pk
	}
	if r.noDiscovery {
		nav.discovers = false
	}
	return nil
}

func finishProperties(eb *EntityBuilder, et *EntityType) error {
	for _, p := range et.properties {
		p.originalValue = et.tier == types.TierEager || p.foreignKey
	}
	for _, name := range eb.originals {
		p, err := et.Property(name)
		if err != nil {
			return errors.Annotatef(types.ErrInvalidModel, "original values of %q: %v", et.name, err)
		}
		p.originalValue = true
	}
	for _, name := range eb.storeGenerated {
		p, err := et.Property(name)
		if err != nil {
			return errors.Annotatef(types.ErrInvalidModel, "store generated values of %q: %v", et.name, err)
		}
		p.storeGenerated = true
	}
	return nil
}

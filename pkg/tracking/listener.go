package tracking

import "github.com/mesh-intelligence/tracker/pkg/metadata"

// RelationshipListener is told about every relationship change the detector
// finds, at most once per change per detection pass. Listeners may mutate
// tracked entities through the Entry API; those writes are observed again,
// so implementations must make equal writes no-ops.
type RelationshipListener interface {
	// ForeignKeyPropertyChanged reports a new value of a foreign key
	// property on entry.
	ForeignKeyPropertyChanged(entry *Entry, property *metadata.Property, oldValue, newValue any) error

	// PrincipalKeyPropertyChanged reports a new value of a property other
	// entities refer to.
	PrincipalKeyPropertyChanged(entry *Entry, property *metadata.Property, oldValue, newValue any) error

	// NavigationReferenceChanged reports a reference navigation now pointing
	// at newValue. Either value may be nil.
	NavigationReferenceChanged(entry *Entry, navigation *metadata.Navigation, oldValue, newValue any) error

	// NavigationCollectionChanged reports the members added to and removed
	// from a collection navigation, by identity.
	NavigationCollectionChanged(entry *Entry, navigation *metadata.Navigation, added, removed []any) error
}

package types

import "github.com/juju/errors"

// EntityState is the lifecycle state of a tracked entry.
type EntityState string

// Entity states. An entry starts unknown and becomes tracked when moved to
// any other state.
const (
	StateUnknown   EntityState = "unknown"
	StateUnchanged EntityState = "unchanged"
	StateAdded     EntityState = "added"
	StateModified  EntityState = "modified"
	StateDeleted   EntityState = "deleted"
)

// validEntityStates is the set of recognized entity state values.
var validEntityStates = map[EntityState]bool{
	StateUnknown:   true,
	StateUnchanged: true,
	StateAdded:     true,
	StateModified:  true,
	StateDeleted:   true,
}

// Validate returns ErrInvalidEntityState if s is not a recognized state.
func (s EntityState) Validate() error {
	if !validEntityStates[s] {
		return errors.Annotatef(ErrInvalidEntityState, "%q", string(s))
	}
	return nil
}

// IsTracked reports whether an entry in this state belongs to the
// identity map.
func (s EntityState) IsTracked() bool {
	return s != StateUnknown && s != ""
}

// Tier is the tracking tier of an entity type. It decides how mutations of
// its instances are observed.
type Tier string

// Tracking tiers.
const (
	// TierEager types raise no notifications; all changes are found by
	// comparing against snapshots taken when tracking starts.
	TierEager Tier = "eager"

	// TierChanging types raise a notification before each mutation.
	TierChanging Tier = "changing"

	// TierNotifying types raise notifications before and after each
	// mutation.
	TierNotifying Tier = "notifying"
)

var validTiers = map[Tier]bool{
	TierEager:     true,
	TierChanging:  true,
	TierNotifying: true,
}

// Validate returns ErrInvalidTier if t is not a recognized tier.
func (t Tier) Validate() error {
	if !validTiers[t] {
		return errors.Annotatef(ErrInvalidTier, "%q", string(t))
	}
	return nil
}

// UsesEagerSnapshots reports whether snapshots are taken up front instead of
// lazily from pre-mutation notifications.
func (t Tier) UsesEagerSnapshots() bool {
	return t == TierEager
}

// SidecarName names one of the per-entry value stores.
type SidecarName string

// Standard sidecar names.
const (
	SidecarOriginalValues        SidecarName = "original_values"
	SidecarRelationshipsSnapshot SidecarName = "relationships_snapshot"
	SidecarStoreGeneratedValues  SidecarName = "store_generated_values"
)

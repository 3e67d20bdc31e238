package types

import "github.com/juju/errors"

// Model building and lookup errors.
const (
	ErrInvalidModel       = errors.ConstError("invalid model")
	ErrUnknownEntityType  = errors.ConstError("unknown entity type")
	ErrUnknownProperty    = errors.ConstError("unknown property")
	ErrUnknownNavigation  = errors.ConstError("unknown navigation")
	ErrUnknownMember      = errors.ConstError("unknown member")
	ErrInvalidTier        = errors.ConstError("invalid tracking tier")
	ErrInvalidEntityState = errors.ConstError("invalid entity state")
)

// Tracking errors.
const (
	// ErrSidecarValueMissing is returned when a sidecar is read for a member
	// that was never snapshotted.
	ErrSidecarValueMissing = errors.ConstError("sidecar has no value for member")

	// ErrSidecarMemberUntracked is returned when a sidecar is asked about a
	// member it does not store.
	ErrSidecarMemberUntracked = errors.ConstError("sidecar does not track member")

	// ErrDuplicateSidecar is returned by AddSidecar when an entry already
	// holds a sidecar with the same name.
	ErrDuplicateSidecar = errors.ConstError("sidecar already exists")

	// ErrIdentityConflict is returned when two entries would share one
	// entity key.
	ErrIdentityConflict = errors.ConstError("entity key already tracked")

	ErrNotTracked        = errors.ConstError("entry is not tracked")
	ErrInvalidTransition = errors.ConstError("invalid state transition")
)

// Storage errors.
const (
	ErrBackendEmpty    = errors.ConstError("backend must not be empty")
	ErrBackendUnknown  = errors.ConstError("unknown backend")
	ErrStoreDetached   = errors.ConstError("store is detached")
	ErrAlreadyAttached = errors.ConstError("store is already attached")
	ErrCyclicInsert    = errors.ConstError("added entries depend on each other")
)

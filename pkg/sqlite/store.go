// Package sqlite provides the public API for the SQLite store while keeping
// its implementation internal.
package sqlite

import (
	"github.com/mesh-intelligence/tracker/internal/sqlite"
	"github.com/mesh-intelligence/tracker/pkg/metadata"
)

// Store persists the entities tracked by a tracking.StateManager.
type Store = sqlite.Store

// NewStore creates a store for the entity types of model.
// The store is not attached; call Attach with a Config to open it.
//
// Example:
//
//	store := sqlite.NewStore(model)
//	err := store.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".tracker",
//	})
//	defer store.Detach()
func NewStore(model *metadata.Model) *Store {
	return sqlite.NewStore(model)
}

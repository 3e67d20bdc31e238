// Package sqlite stores the entities tracked by a StateManager in SQLite.
// Every entity type of the model gets a table; SaveChanges writes the
// pending changes of a unit of work and accepts them, and Load brings rows
// back as tracked entities.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
	"github.com/mesh-intelligence/tracker/pkg/tracking"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

var logger = loggo.GetLogger("tracker.sqlite")

// FileName is the database file name within the data directory.
const FileName = "tracker.db"

// Store persists the entity types of one model.
type Store struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	model    *metadata.Model
	db       *sql.DB
	path     string
	tables   map[*metadata.EntityType]*table
}

// NewStore returns a detached store for model. Call Attach before use.
func NewStore(model *metadata.Model) *Store {
	return &Store{model: model}
}

// Attach opens the database described by config and creates the missing
// tables. The memory backend keeps the database in memory until Detach.
func (s *Store) Attach(config types.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return errors.Trace(err)
	}

	tables := make(map[*metadata.EntityType]*table)
	for _, et := range s.model.EntityTypes() {
		t, err := newTable(et)
		if err != nil {
			return errors.Trace(err)
		}
		tables[et] = t
	}

	dsn := ":memory:"
	if config.Backend == types.BackendSQLite {
		dataDir := config.DataDir
		if dataDir == "" {
			dataDir = "."
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return errors.Annotatef(err, "creating data directory %s", dataDir)
		}
		dsn = filepath.Join(dataDir, FileName)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return errors.Annotatef(err, "opening %s", dsn)
	}
	// Every connection to :memory: is a database of its own.
	db.SetMaxOpenConns(1)

	for _, et := range s.model.EntityTypes() {
		if _, err := db.Exec(tables[et].createStatement()); err != nil {
			db.Close()
			return errors.Annotatef(err, "creating table %s", tables[et].name)
		}
	}

	s.db = db
	s.path = dsn
	s.config = config
	s.tables = tables
	s.attached = true
	logger.Debugf("attached %s with %d tables", dsn, len(tables))
	return nil
}

// Detach closes the database. Detach is idempotent.
func (s *Store) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return errors.Annotatef(err, "closing %s", s.path)
	}
	s.db = nil
	s.tables = nil
	s.attached = false
	return nil
}

// Path returns the database file, or ":memory:".
func (s *Store) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// SaveChanges detects the changes of sm and writes them in one transaction:
// added entries are inserted principals first, then modified entries are
// updated and deleted entries removed. Keys the database generates are fed
// back through the store generated values sidecar, so listeners such as
// navigation fixup carry them to dependents before those are inserted. On
// success every change is accepted. A failed save rolls back and returns
// generated keys to their temporary values. SaveChanges returns the number
// of rows written.
func (s *Store) SaveChanges(ctx context.Context, sm *tracking.StateManager) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return 0, types.ErrStoreDetached
	}
	if err := sm.DetectChanges(); err != nil {
		return 0, errors.Annotate(err, "detecting changes")
	}

	var added, modified, deleted []*tracking.Entry
	for _, e := range sm.Entries() {
		switch e.State() {
		case types.StateAdded:
			added = append(added, e)
		case types.StateModified:
			modified = append(modified, e)
		case types.StateDeleted:
			deleted = append(deleted, e)
		}
	}
	added, err := insertOrder(sm, added)
	if err != nil {
		return 0, errors.Trace(err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Annotate(err, "beginning transaction")
	}
	defer tx.Rollback()

	sv := &save{ctx: ctx, tx: tx, sm: sm}
	rows, err := s.write(sv, added, modified, deleted)
	if err == nil {
		err = errors.Annotate(tx.Commit(), "committing")
	}
	if err != nil {
		tx.Rollback()
		sv.restoreGeneratedKeys()
		return 0, errors.Trace(err)
	}
	if err := sm.AcceptAllChanges(); err != nil {
		return rows, errors.Trace(err)
	}
	logger.Infof("saved %d added, %d modified, %d deleted entries", len(added), len(modified), len(deleted))
	return rows, nil
}

// save is one SaveChanges run.
type save struct {
	ctx       context.Context
	tx        *sql.Tx
	sm        *tracking.StateManager
	generated []generatedKey
}

// generatedKey is a key the database generated during a save, with the
// temporary value it replaced.
type generatedKey struct {
	entry     *tracking.Entry
	property  *metadata.Property
	temporary any
	modified  bool
}

func (s *Store) write(sv *save, added, modified, deleted []*tracking.Entry) (int, error) {
	rows := 0
	for _, e := range added {
		if err := s.insert(sv, e); err != nil {
			return 0, errors.Annotatef(err, "inserting %s", e)
		}
		rows++
	}
	for _, e := range modified {
		n, err := s.update(sv.ctx, sv.tx, e)
		if err != nil {
			return 0, errors.Annotatef(err, "updating %s", e)
		}
		rows += n
	}
	for _, e := range deleted {
		n, err := s.delete(sv.ctx, sv.tx, e)
		if err != nil {
			return 0, errors.Annotatef(err, "deleting %s", e)
		}
		rows += n
	}
	return rows, nil
}

// restoreGeneratedKeys returns the keys generated by a failed save to their
// temporary values, newest first, and drops uncommitted store generated
// values. Fixup carries the temporary keys back to the dependents.
func (sv *save) restoreGeneratedKeys() {
	for i := len(sv.generated) - 1; i >= 0; i-- {
		g := sv.generated[i]
		g.entry.RemoveSidecar(types.SidecarStoreGeneratedValues)
		if err := sv.restoreKey(g); err != nil {
			logger.Warningf("%s: restoring temporary %s: %v", g.entry, g.property.Name(), err)
		}
	}
}

func (sv *save) restoreKey(g generatedKey) error {
	e := g.entry
	if !metadata.ValuesEqual(e.Value(g.property), g.temporary) {
		if err := e.SetValue(g.property, g.temporary); err != nil {
			return errors.Trace(err)
		}
	}
	if err := sv.sm.ChangeDetector().DetectChanges(e); err != nil {
		return errors.Trace(err)
	}
	if err := sv.sm.RefreshKey(e); err != nil {
		return errors.Trace(err)
	}
	e.SetPropertyModified(g.property, g.modified)
	return nil
}

func (s *Store) tableOf(e *tracking.Entry) (*table, error) {
	t, ok := s.tables[e.EntityType()]
	if !ok {
		return nil, errors.Annotatef(types.ErrUnknownEntityType, "%s is not stored", e.EntityType())
	}
	return t, nil
}

func (s *Store) insert(sv *save, e *tracking.Entry) error {
	t, err := s.tableOf(e)
	if err != nil {
		return errors.Trace(err)
	}
	generate := t.rowID != nil && isTemporary(e.Value(t.rowID))
	var columns []column
	var args []any
	for _, c := range t.columns {
		if generate && c.property == t.rowID {
			continue
		}
		columns = append(columns, c)
		args = append(args, e.Value(c.property))
	}
	res, err := sv.tx.ExecContext(sv.ctx, t.insertStatement(columns), args...)
	if err != nil {
		return errors.Trace(err)
	}
	if !generate {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Annotate(err, "reading generated key")
	}
	return errors.Trace(sv.storeGenerated(e, t.rowID, id))
}

// storeGenerated hands a generated key to the entry the way a store
// reports generated values: through the store generated values sidecar,
// detected, re-keyed and then committed into the entity.
func (sv *save) storeGenerated(e *tracking.Entry, p *metadata.Property, value any) error {
	sv.generated = append(sv.generated, generatedKey{
		entry:     e,
		property:  p,
		temporary: e.Value(p),
		modified:  e.IsPropertyModified(p),
	})
	sg, ok := e.Sidecar(types.SidecarStoreGeneratedValues)
	if !ok {
		var err error
		if sg, err = e.AddSidecar(tracking.NewStoreGeneratedValues(e, []*metadata.Property{p})); err != nil {
			return errors.Trace(err)
		}
	}
	if err := sg.SetValue(p, value); err != nil {
		return errors.Trace(err)
	}
	if err := sv.sm.ChangeDetector().DetectChanges(e); err != nil {
		return errors.Trace(err)
	}
	if err := sv.sm.RefreshKey(e); err != nil {
		return errors.Trace(err)
	}
	logger.Tracef("%s: store generated %s = %v", e, p.Name(), value)
	return errors.Trace(sg.Commit())
}

func (s *Store) update(ctx context.Context, tx *sql.Tx, e *tracking.Entry) (int, error) {
	t, err := s.tableOf(e)
	if err != nil {
		return 0, errors.Trace(err)
	}
	var columns []column
	var args []any
	for _, name := range e.ModifiedProperties() {
		p, err := e.EntityType().Property(name)
		if err != nil {
			return 0, errors.Trace(err)
		}
		columns = append(columns, t.columnOf(p))
		args = append(args, e.Value(p))
	}
	if len(columns) == 0 {
		return 0, nil
	}
	args = append(args, originalKey(e)...)
	res, err := tx.ExecContext(ctx, t.updateStatement(columns), args...)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return affected(res)
}

func (s *Store) delete(ctx context.Context, tx *sql.Tx, e *tracking.Entry) (int, error) {
	t, err := s.tableOf(e)
	if err != nil {
		return 0, errors.Trace(err)
	}
	res, err := tx.ExecContext(ctx, t.deleteStatement(), originalKey(e)...)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return affected(res)
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Annotate(err, "reading affected rows")
	}
	return int(n), nil
}

// originalKey returns the key values the row was stored under.
func originalKey(e *tracking.Entry) []any {
	orig, hasOriginals := e.Sidecar(types.SidecarOriginalValues)
	key := e.EntityType().Key()
	values := make([]any, len(key))
	for i, p := range key {
		values[i] = e.Value(p)
		if hasOriginals && orig.HasValue(p) {
			if v, err := orig.Value(p); err == nil {
				values[i] = v
			}
		}
	}
	return values
}

// isTemporary reports whether v is a key the database still has to assign:
// zero or a temporary key counting down from -1.
func isTemporary(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.CanInt() && rv.Int() <= 0
}

// Load reads every row of et and returns its entities. Rows whose key is
// already tracked by sm resolve to the tracked entity, which is left as
// it is; the others are attached unchanged.
func (s *Store) Load(ctx context.Context, sm *tracking.StateManager, et *metadata.EntityType) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.attached {
		return nil, types.ErrStoreDetached
	}
	t, ok := s.tables[et]
	if !ok {
		return nil, errors.Annotatef(types.ErrUnknownEntityType, "%s is not stored", et)
	}

	rows, err := s.db.QueryContext(ctx, t.selectStatement())
	if err != nil {
		return nil, errors.Annotatef(err, "querying %s", t.name)
	}
	defer rows.Close()

	var entities []any
	for rows.Next() {
		dest := make([]any, len(t.columns))
		for i, c := range t.columns {
			ft := c.property.Type()
			if c.property.IsNullable() {
				ft = reflect.PointerTo(ft)
			}
			dest[i] = reflect.New(ft).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Annotatef(err, "scanning %s", t.name)
		}
		entity := et.New()
		for i, c := range t.columns {
			if err := c.property.Set(entity, reflect.ValueOf(dest[i]).Elem().Interface()); err != nil {
				return nil, errors.Trace(err)
			}
		}

		key := tracking.NewEntityKey(et, keyValues(et, entity)...)
		if e, ok := sm.LookupEntry(key); ok {
			entities = append(entities, e.Entity())
			continue
		}
		if _, err := sm.Attach(entity, types.StateUnchanged); err != nil {
			return nil, errors.Trace(err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotatef(err, "reading %s", t.name)
	}
	logger.Debugf("loaded %d %s entities", len(entities), et)
	return entities, nil
}

func keyValues(et *metadata.EntityType, entity any) []any {
	key := et.Key()
	values := make([]any, len(key))
	for i, p := range key {
		values[i] = p.Get(entity)
	}
	return values
}

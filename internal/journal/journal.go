// Package journal records every relationship change reported by change
// detection as one JSON line, so a unit of work can be audited after the
// fact.
package journal

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
	"github.com/mesh-intelligence/tracker/pkg/tracking"
)

var logger = loggo.GetLogger("tracker.journal")

// FileName is the journal file name within the data directory.
const FileName = "journal.jsonl"

// Kind names the listener callback a record came from.
type Kind string

// Record kinds.
const (
	KindForeignKey   Kind = "foreign_key"
	KindPrincipalKey Kind = "principal_key"
	KindReference    Kind = "reference"
	KindCollection   Kind = "collection"
)

// Record is one relationship change. Entities are written as their entry
// names, Type#handle.
type Record struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Kind       Kind      `json:"kind"`
	Entry      string    `json:"entry"`
	EntityType string    `json:"entity_type"`
	Key        string    `json:"key,omitempty"`
	Member     string    `json:"member"`
	Old        any       `json:"old,omitempty"`
	New        any       `json:"new,omitempty"`
	Added      []string  `json:"added,omitempty"`
	Removed    []string  `json:"removed,omitempty"`
}

// Journal is a tracking.RelationshipListener keeping records in memory
// until Flush writes them.
type Journal struct {
	path    string
	records []Record
	dirty   bool
	now     func() time.Time
}

var _ tracking.RelationshipListener = (*Journal)(nil)

// Open returns a journal backed by path, loading the records already there.
// A missing file is an empty journal.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path, now: time.Now}
	records, err := Read(path)
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Trace(err)
	}
	j.records = records
	return j, nil
}

// Read returns the records stored at path.
func Read(path string) ([]Record, error) {
	raw, err := readJSONL(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	records := make([]Record, 0, len(raw))
	for _, line := range raw {
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			logger.Warningf("skipping unreadable record in %s: %v", path, err)
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// Path returns the file the journal is flushed to.
func (j *Journal) Path() string { return j.path }

// Records returns a copy of the records, oldest first.
func (j *Journal) Records() []Record {
	return append([]Record(nil), j.records...)
}

// Flush writes every record to the journal file atomically.
func (j *Journal) Flush() error {
	if !j.dirty {
		return nil
	}
	lines := make([]json.RawMessage, 0, len(j.records))
	for _, r := range j.records {
		b, err := json.Marshal(r)
		if err != nil {
			return errors.Annotatef(err, "encoding record %s", r.ID)
		}
		lines = append(lines, b)
	}
	if err := writeJSONL(j.path, lines); err != nil {
		return errors.Annotatef(err, "flushing journal %s", j.path)
	}
	j.dirty = false
	logger.Debugf("flushed %d records to %s", len(lines), j.path)
	return nil
}

func (j *Journal) add(kind Kind, e *tracking.Entry, member metadata.Member, fill func(r *Record)) error {
	id, err := uuid.NewV7()
	if err != nil {
		return errors.Annotate(err, "journal record id")
	}
	r := Record{
		ID:         id.String(),
		Time:       j.now().UTC(),
		Kind:       kind,
		Entry:      e.String(),
		EntityType: e.EntityType().Name(),
		Member:     member.Name(),
	}
	if !e.Key().IsNull() {
		r.Key = e.Key().String()
	}
	fill(&r)
	j.records = append(j.records, r)
	j.dirty = true
	return nil
}

// ForeignKeyPropertyChanged is part of the tracking.RelationshipListener
// interface.
func (j *Journal) ForeignKeyPropertyChanged(e *tracking.Entry, p *metadata.Property, oldValue, newValue any) error {
	return j.add(KindForeignKey, e, p, func(r *Record) {
		r.Old, r.New = oldValue, newValue
	})
}

// PrincipalKeyPropertyChanged is part of the
// tracking.RelationshipListener interface.
func (j *Journal) PrincipalKeyPropertyChanged(e *tracking.Entry, p *metadata.Property, oldValue, newValue any) error {
	return j.add(KindPrincipalKey, e, p, func(r *Record) {
		r.Old, r.New = oldValue, newValue
	})
}

// NavigationReferenceChanged is part of the tracking.RelationshipListener
// interface.
func (j *Journal) NavigationReferenceChanged(e *tracking.Entry, n *metadata.Navigation, oldValue, newValue any) error {
	sm := e.Manager()
	return j.add(KindReference, e, n, func(r *Record) {
		if oldValue != nil {
			r.Old = describe(sm, oldValue)
		}
		if newValue != nil {
			r.New = describe(sm, newValue)
		}
	})
}

// NavigationCollectionChanged is part of the
// tracking.RelationshipListener interface.
func (j *Journal) NavigationCollectionChanged(e *tracking.Entry, n *metadata.Navigation, added, removed []any) error {
	sm := e.Manager()
	return j.add(KindCollection, e, n, func(r *Record) {
		for _, m := range added {
			r.Added = append(r.Added, describe(sm, m))
		}
		for _, m := range removed {
			r.Removed = append(r.Removed, describe(sm, m))
		}
	})
}

func describe(sm *tracking.StateManager, entity any) string {
	if e, ok := sm.EntryFor(entity); ok {
		return e.String()
	}
	return "untracked"
}

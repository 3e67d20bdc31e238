package sqlite

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/stoewer/go-strcase"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
)

var (
	uuidType = reflect.TypeOf(uuid.UUID{})
	timeType = reflect.TypeOf(time.Time{})
)

// column maps one property to a column of its entity type's table.
type column struct {
	name     string
	property *metadata.Property
	sqlType  string
}

// table maps one entity type to a SQLite table. Every property is a column
// named in snake case.
type table struct {
	name       string
	entityType *metadata.EntityType
	columns    []column
	key        []column

	// rowID is set when the key is a single store generated integer. It is
	// then the table's INTEGER PRIMARY KEY, assigned by SQLite on insert.
	rowID *metadata.Property
}

func newTable(et *metadata.EntityType) (*table, error) {
	t := &table{
		name:       strcase.SnakeCase(et.Name()),
		entityType: et,
	}
	for _, p := range et.Properties() {
		sqlType, err := columnType(p.Type())
		if err != nil {
			return nil, errors.Annotatef(err, "column for %s", p)
		}
		t.columns = append(t.columns, column{
			name:     strcase.SnakeCase(p.Name()),
			property: p,
			sqlType:  sqlType,
		})
	}
	for _, p := range et.Key() {
		t.key = append(t.key, t.columnOf(p))
	}
	if key := et.Key(); len(key) == 1 && key[0].IsStoreGenerated() && t.key[0].sqlType == "INTEGER" {
		t.rowID = key[0]
	}
	return t, nil
}

func (t *table) columnOf(p *metadata.Property) column {
	for _, c := range t.columns {
		if c.property == p {
			return c
		}
	}
	panic(fmt.Sprintf("sqlite: %s is not a column of %s", p, t.name))
}

// createStatement returns the DDL creating the table when missing.
func (t *table) createStatement() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quote(t.name))
	for i, c := range t.columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "    %s %s", quote(c.name), c.sqlType)
		switch {
		case c.property == t.rowID:
			b.WriteString(" PRIMARY KEY")
		case !c.property.IsNullable():
			b.WriteString(" NOT NULL")
		}
	}
	if t.rowID == nil {
		names := make([]string, len(t.key))
		for i, c := range t.key {
			names[i] = quote(c.name)
		}
		fmt.Fprintf(&b, ",\n    PRIMARY KEY (%s)", strings.Join(names, ", "))
	}
	b.WriteString("\n)")
	return b.String()
}

func (t *table) selectStatement() string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", joinColumns(t.columns), quote(t.name), joinColumns(t.key))
}

func (t *table) insertStatement(columns []column) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(t.name), joinColumns(columns), marks)
}

func (t *table) updateStatement(columns []column) string {
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = quote(c.name) + " = ?"
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", quote(t.name), strings.Join(sets, ", "), t.keyCondition())
}

func (t *table) deleteStatement() string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", quote(t.name), t.keyCondition())
}

func (t *table) keyCondition() string {
	conds := make([]string, len(t.key))
	for i, c := range t.key {
		conds[i] = quote(c.name) + " = ?"
	}
	return strings.Join(conds, " AND ")
}

func joinColumns(columns []column) string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = quote(c.name)
	}
	return strings.Join(names, ", ")
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// columnType returns the SQLite type storing values of t.
func columnType(t reflect.Type) (string, error) {
	switch t {
	case uuidType:
		return "TEXT", nil
	case timeType:
		return "TIMESTAMP", nil
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return "INTEGER", nil
	case reflect.Float32, reflect.Float64:
		return "REAL", nil
	case reflect.String:
		return "TEXT", nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "BLOB", nil
		}
	}
	return "", errors.NotSupportedf("values of type %s", t)
}

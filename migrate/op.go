// Package migrate evolves table and index layout through numbered,
// forward-only migrations.
//
// Only table and index existence is tracked. Field additions, removals and
// type changes need no migration because items are schemaless; the Type
// Mapper tolerates old shapes at read time.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/store"
)

// Kind names a migration operation.
type Kind string

const (
	// CreateTable creates a table together with its indexes.
	CreateTable Kind = "create_table"
	// DeleteTable drops a table and its data.
	DeleteTable Kind = "delete_table"
	// AddIndex adds a secondary index on one field.
	AddIndex Kind = "add_index"
	// RemoveIndex drops the secondary index on one field.
	RemoveIndex Kind = "remove_index"
)

// Op is one migration operation on a logical table.
type Op struct {
	Kind  Kind   `yaml:"op"`
	Table string `yaml:"table"`

	// Field and KeyType describe the index for AddIndex and RemoveIndex.
	Field   string                    `yaml:"field,omitempty"`
	KeyType types.ScalarAttributeType `yaml:"key_type,omitempty"`

	// Indexes are created with the table by CreateTable.
	Indexes []store.IndexSpec `yaml:"indexes,omitempty"`
}

// String describes the operation for logs and dry runs.
func (o Op) String() string {
	switch o.Kind {
	case AddIndex, RemoveIndex:
		return fmt.Sprintf("%s %s.%s", o.Kind, o.Table, o.Field)
	case CreateTable:
		return fmt.Sprintf("%s %s (%d indexes)", o.Kind, o.Table, len(o.Indexes))
	}
	return fmt.Sprintf("%s %s", o.Kind, o.Table)
}

// Validate checks that the operation is well formed.
func (o Op) Validate() error {
	if o.Table == "" {
		return fmt.Errorf("%s: table is required", o.Kind)
	}
	switch o.Kind {
	case CreateTable, DeleteTable:
	case AddIndex, RemoveIndex:
		if o.Field == "" {
			return fmt.Errorf("%s %s: field is required", o.Kind, o.Table)
		}
	default:
		return fmt.Errorf("unknown operation %q", o.Kind)
	}
	return nil
}

// Mutate applies the operation to s. It mirrors Apply without touching the store.
func (o Op) Mutate(s State) error {
	if err := o.Validate(); err != nil {
		return err
	}
	switch o.Kind {
	case CreateTable:
		ts := s.table(o.Table)
		for _, idx := range o.Indexes {
			ts.Indexes[idx.Field] = keyTypeOf(idx.KeyType)
		}
	case DeleteTable:
		delete(s, o.Table)
		return nil
	case AddIndex:
		ts, ok := s[o.Table]
		if !ok {
			return fmt.Errorf("%s: table %s is not created by any earlier migration", o, o.Table)
		}
		ts.Indexes[o.Field] = keyTypeOf(o.KeyType)
	case RemoveIndex:
		ts, ok := s[o.Table]
		if !ok {
			return fmt.Errorf("%s: table %s is not created by any earlier migration", o, o.Table)
		}
		delete(ts.Indexes, o.Field)
	}
	s[o.Table].Version++
	return nil
}

// Apply performs the operation against the live store. Every kind re-checks
// live state first, so applying an operation twice is harmless.
func (o Op) Apply(ctx context.Context, t *store.Tables) error {
	if err := o.Validate(); err != nil {
		return err
	}
	table := t.Physical(o.Table)
	switch o.Kind {
	case CreateTable:
		if err := t.EnsureTable(ctx, table, o.Indexes); err != nil {
			return err
		}
		// The table may predate some of its indexes.
		for _, idx := range o.Indexes {
			if err := t.AddIndex(ctx, table, idx); err != nil {
				return err
			}
		}
		return nil
	case DeleteTable:
		return t.Drop(ctx, table)
	case AddIndex:
		return t.AddIndex(ctx, table, store.IndexSpec{Field: o.Field, KeyType: keyTypeOf(o.KeyType)})
	case RemoveIndex:
		err := t.RemoveIndex(ctx, table, o.Field)
		if errors.Is(err, store.ErrTableNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func keyTypeOf(kt types.ScalarAttributeType) types.ScalarAttributeType {
	if kt == "" {
		return types.ScalarAttributeTypeS
	}
	return kt
}

package migrate

import (
	"sort"

	"github.com/jacentio/lattice/internal/naming"
	"github.com/jacentio/lattice/store"
)

// GenerateOptions controls change detection.
type GenerateOptions struct {
	// AllowDestructive emits DeleteTable for tables no model uses any more.
	AllowDestructive bool
}

// Generate returns the operations that bring state in line with the models
// declared in reg:
//
//  1. new models get CreateTable with all their indexes
//  2. newly indexed fields get AddIndex
//  3. fields no longer indexed get RemoveIndex
//  4. an index whose key type changed is removed and re-added
//  5. tables without a model get DeleteTable, only if AllowDestructive
func Generate(reg *store.Registry, state State, opts GenerateOptions) []Op {
	var ops []Op
	declared := map[string]bool{}

	for _, m := range reg.Models() {
		declared[m.Table] = true
		specs := store.IndexSpecs(m)

		ts, ok := state[m.Table]
		if !ok {
			ops = append(ops, Op{Kind: CreateTable, Table: m.Table, Indexes: specs})
			continue
		}

		want := map[string]bool{}
		for _, spec := range specs {
			want[spec.Field] = true
			have, ok := ts.Indexes[spec.Field]
			switch {
			case !ok:
				ops = append(ops, Op{Kind: AddIndex, Table: m.Table, Field: spec.Field, KeyType: spec.KeyType})
			case have != keyTypeOf(spec.KeyType):
				ops = append(ops,
					Op{Kind: RemoveIndex, Table: m.Table, Field: spec.Field, KeyType: have},
					Op{Kind: AddIndex, Table: m.Table, Field: spec.Field, KeyType: spec.KeyType},
				)
			}
		}
		for _, field := range sortedFields(ts) {
			if !want[field] {
				ops = append(ops, Op{Kind: RemoveIndex, Table: m.Table, Field: field, KeyType: ts.Indexes[field]})
			}
		}
	}

	if opts.AllowDestructive {
		for _, table := range state.Tables() {
			if !declared[table] && table != naming.HistoryTable {
				ops = append(ops, Op{Kind: DeleteTable, Table: table})
			}
		}
	}
	return ops
}

// Dropped returns tables in state that no model declares.
func Dropped(reg *store.Registry, state State) []string {
	var out []string
	for _, table := range state.Tables() {
		if _, ok := reg.ByTable(table); !ok && table != naming.HistoryTable {
			out = append(out, table)
		}
	}
	return out
}

func sortedFields(ts *TableState) []string {
	fields := make([]string, 0, len(ts.Indexes))
	for f := range ts.Indexes {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

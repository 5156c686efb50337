// Package naming derives physical resource names from logical model names.
package naming

import (
	"strings"
)

// HistoryTable is the logical name of the migration history table.
const HistoryTable = "lattice_migrations"

const indexSuffix = "-index"

// Table returns the physical table name for a logical table under prefix.
func Table(prefix, table string) string {
	return prefix + table
}

// Index returns the secondary index name for field.
func Index(field string) string {
	return field + indexSuffix
}

// FieldOfIndex returns the field an index name was derived from.
func FieldOfIndex(index string) (string, bool) {
	field, ok := strings.CutSuffix(index, indexSuffix)
	if !ok || field == "" {
		return "", false
	}
	return field, true
}

// SearchIndex returns the search index name for a physical table:
// lowercased, with '.' and '-' replaced by '_'.
func SearchIndex(table string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(strings.ToLower(table))
}

package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/lattice/internal/naming"
	"github.com/jacentio/lattice/store"
)

const (
	kindMigration = "migration"
	kindTable     = "table"
)

// historyRow is one item of the history table. Applied migrations and
// per-table schema versions share the table, told apart by Kind.
type historyRow struct {
	PK        string `dynamodbav:"pk"`
	Kind      string `dynamodbav:"kind"`
	Name      string `dynamodbav:"name"`
	Version   int    `dynamodbav:"schema_version,omitempty"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

// Recorder persists applied migrations and per-table schema versions.
type Recorder struct {
	api    store.API
	tables *store.Tables
	table  string
	now    func() time.Time
}

// NewRecorder creates a recorder over the history table of tables' prefix.
func NewRecorder(api store.API, tables *store.Tables) *Recorder {
	return &Recorder{
		api:    api,
		tables: tables,
		table:  tables.Physical(naming.HistoryTable),
		now:    time.Now,
	}
}

// Table returns the physical history table name.
func (r *Recorder) Table() string {
	return r.table
}

// Ensure creates the history table if missing.
func (r *Recorder) Ensure(ctx context.Context) error {
	return r.tables.EnsureTable(ctx, r.table, nil)
}

// Applied returns the applied migration IDs with their application times.
func (r *Recorder) Applied(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.rows(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]time.Time{}
	for _, row := range rows {
		if row.Kind != kindMigration {
			continue
		}
		at, _ := time.Parse(time.RFC3339Nano, row.UpdatedAt)
		out[row.Name] = at
	}
	return out, nil
}

// Versions returns the schema version of every migrated table. Dropped
// tables are left out.
func (r *Recorder) Versions(ctx context.Context) (map[string]int, error) {
	rows, err := r.rows(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	for _, row := range rows {
		if row.Kind == kindTable && row.Version > 0 {
			out[row.Name] = row.Version
		}
	}
	return out, nil
}

// RecordApplied marks a migration as applied.
func (r *Recorder) RecordApplied(ctx context.Context, id string) error {
	return r.put(ctx, historyRow{
		PK:   kindMigration + "#" + id,
		Kind: kindMigration,
		Name: id,
	})
}

// SetVersion records the schema version of a logical table. Writing the same
// version twice is a no-op in effect; a dropped table is recorded as 0.
func (r *Recorder) SetVersion(ctx context.Context, table string, version int) error {
	return r.put(ctx, historyRow{
		PK:      kindTable + "#" + table,
		Kind:    kindTable,
		Name:    table,
		Version: version,
	})
}

func (r *Recorder) put(ctx context.Context, row historyRow) error {
	row.UpdatedAt = r.now().UTC().Format(time.RFC3339Nano)
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return fmt.Errorf("encode %s: %w", row.PK, err)
	}
	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	})
	return err
}

func (r *Recorder) rows(ctx context.Context) ([]historyRow, error) {
	var rows []historyRow
	paginator := dynamodb.NewScanPaginator(r.api, &dynamodb.ScanInput{
		TableName: aws.String(r.table),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var batch []historyRow
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		rows = append(rows, batch...)
	}
	return rows, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/lattice/internal/naming"
)

// IndexSpec describes a single-attribute global secondary index.
type IndexSpec struct {
	Field   string                     `yaml:"field"`
	KeyType types.ScalarAttributeType `yaml:"key_type"`
}

// Name returns the index name.
func (s IndexSpec) Name() string {
	return naming.Index(s.Field)
}

// IndexSpecs returns the index specs for a model's indexed fields.
func IndexSpecs(m *Model) []IndexSpec {
	var out []IndexSpec
	for _, f := range m.IndexedFields() {
		out = append(out, IndexSpec{Field: f.Name, KeyType: f.Type.KeyType()})
	}
	return out
}

// TableInfo is the live state of a table.
type TableInfo struct {
	Name      string
	Status    types.TableStatus
	// ItemCount is DynamoDB's periodically refreshed estimate. Use
	// Store.CountRows for an exact count.
	ItemCount int64
	Indexes   map[string]IndexInfo // keyed by field
}

// Active reports whether the table and all its indexes are usable.
func (i *TableInfo) Active() bool {
	if i.Status != types.TableStatusActive {
		return false
	}
	for _, idx := range i.Indexes {
		if idx.Status != types.IndexStatusActive {
			return false
		}
	}
	return true
}

// IndexInfo is the live state of a secondary index.
type IndexInfo struct {
	Field   string
	KeyType types.ScalarAttributeType
	Status  types.IndexStatus
}

// Tables manages the lifecycle of tables and their indexes. Every
// operation is idempotent: it re-checks live state before acting and treats
// "already exists" and "already gone" as success.
type Tables struct {
	api    API
	config Config
	logger *slog.Logger
}

// NewTables creates a table lifecycle manager.
func NewTables(api API, config Config, logger *slog.Logger) *Tables {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Tables{api: api, config: config, logger: logger}
}

// Name returns the physical table name for m.
func (t *Tables) Name(m *Model) string {
	return naming.Table(t.config.TablePrefix, m.Table)
}

// Physical returns the physical name for a logical table name.
func (t *Tables) Physical(table string) string {
	return naming.Table(t.config.TablePrefix, table)
}

// Describe returns the live state of a physical table, or ErrTableNotFound.
func (t *Tables) Describe(ctx context.Context, table string) (*TableInfo, error) {
	out, err := t.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		if isTableNotFound(err) {
			return nil, &Error{Kind: ErrTableNotFound, Op: "DescribeTable", Err: fmt.Errorf("table %s", table)}
		}
		return nil, err
	}
	return tableInfo(out.Table), nil
}

// Exists reports whether a physical table exists in any state.
func (t *Tables) Exists(ctx context.Context, table string) (bool, error) {
	_, err := t.Describe(ctx, table)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrTableNotFound) {
		return false, nil
	}
	return false, err
}

// Ensure creates the table for m with its indexes if missing and waits until it is active.
func (t *Tables) Ensure(ctx context.Context, m *Model) error {
	return t.EnsureTable(ctx, t.Name(m), IndexSpecs(m))
}

// EnsureAll ensures every registered model's table concurrently.
func (t *Tables) EnsureAll(ctx context.Context, reg *Registry) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range reg.Models() {
		g.Go(func() error {
			if err := t.Ensure(ctx, m); err != nil {
				return fmt.Errorf("ensure %s: %w", m.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// EnsureTable creates a physical table keyed by PKAttr if it doesn't exist.
// A concurrent creator is not an error.
func (t *Tables) EnsureTable(ctx context.Context, table string, indexes []IndexSpec) error {
	_, err := t.Describe(ctx, table)
	if err == nil {
		return t.waitActive(ctx, table)
	}
	if !errors.Is(err, ErrTableNotFound) {
		return err
	}

	_, err = t.api.CreateTable(ctx, createTableInput(table, indexes))
	switch {
	case err == nil:
		t.logger.Info("creating table", "table", table, "indexes", len(indexes))
	case isResourceInUse(err):
		t.logger.Info("table already being created", "table", table)
	default:
		return err
	}
	return t.waitActive(ctx, table)
}

// Drop deletes a physical table. A missing table is not an error.
func (t *Tables) Drop(ctx context.Context, table string) error {
	_, err := t.api.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		if isTableNotFound(err) {
			return nil
		}
		if !isResourceInUse(err) {
			return err
		}
	} else {
		t.logger.Info("deleting table", "table", table)
	}
	return t.wait(ctx, "DeleteTable", table, func(info *TableInfo, err error) (bool, error) {
		if errors.Is(err, ErrTableNotFound) {
			return true, nil
		}
		return false, err
	})
}

// AddIndex adds a secondary index to an existing table and waits until it is active.
func (t *Tables) AddIndex(ctx context.Context, table string, idx IndexSpec) error {
	info, err := t.Describe(ctx, table)
	if err != nil {
		return err
	}
	if _, ok := info.Indexes[idx.Field]; !ok {
		_, err = t.api.UpdateTable(ctx, &dynamodb.UpdateTableInput{
			TableName: aws.String(table),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(idx.Field), AttributeType: keyType(idx)},
			},
			GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
				Create: &types.CreateGlobalSecondaryIndexAction{
					IndexName:  aws.String(idx.Name()),
					KeySchema:  []types.KeySchemaElement{{AttributeName: aws.String(idx.Field), KeyType: types.KeyTypeHash}},
					Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
				},
			}},
		})
		if err != nil && !isResourceInUse(err) {
			return err
		}
		t.logger.Info("adding index", "table", table, "index", idx.Name())
	}
	return t.waitActive(ctx, table)
}

// RemoveIndex drops a secondary index. A missing index is not an error.
func (t *Tables) RemoveIndex(ctx context.Context, table, field string) error {
	info, err := t.Describe(ctx, table)
	if err != nil {
		return err
	}
	if _, ok := info.Indexes[field]; !ok {
		return nil
	}
	_, err = t.api.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName: aws.String(table),
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Delete: &types.DeleteGlobalSecondaryIndexAction{IndexName: aws.String(naming.Index(field))},
		}},
	})
	if err != nil && !isTableNotFound(err) && !isResourceInUse(err) {
		return err
	}
	t.logger.Info("removing index", "table", table, "index", naming.Index(field))
	return t.wait(ctx, "RemoveIndex", table, func(info *TableInfo, err error) (bool, error) {
		if err != nil {
			return false, err
		}
		_, still := info.Indexes[field]
		return !still, nil
	})
}

func (t *Tables) waitActive(ctx context.Context, table string) error {
	return t.wait(ctx, "WaitActive", table, func(info *TableInfo, err error) (bool, error) {
		if err != nil {
			return false, err
		}
		return info.Active(), nil
	})
}

var errNotReady = errors.New("not ready")

// wait polls the table with exponential backoff until ready reports true or
// ProvisionTimeout elapses.
func (t *Tables) wait(ctx context.Context, op, table string, ready func(*TableInfo, error) (bool, error)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = t.config.ProvisionTimeout

	err := backoff.Retry(func() error {
		done, err := ready(t.Describe(ctx, table))
		if err != nil {
			return backoff.Permanent(err)
		}
		if !done {
			return errNotReady
		}
		return nil
	}, backoff.WithContext(b, ctx))

	if errors.Is(err, errNotReady) {
		return &Error{
			Kind: ErrProvisioningTimeout,
			Op:   op,
			Err:  fmt.Errorf("table %s not ready after %s", table, t.config.ProvisionTimeout),
		}
	}
	return err
}

func createTableInput(table string, indexes []IndexSpec) *dynamodb.CreateTableInput {
	in := &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(PKAttr), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(PKAttr), AttributeType: types.ScalarAttributeTypeS},
		},
	}
	for _, idx := range indexes {
		in.AttributeDefinitions = append(in.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(idx.Field),
			AttributeType: keyType(idx),
		})
		in.GlobalSecondaryIndexes = append(in.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:  aws.String(idx.Name()),
			KeySchema:  []types.KeySchemaElement{{AttributeName: aws.String(idx.Field), KeyType: types.KeyTypeHash}},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}
	return in
}

func keyType(idx IndexSpec) types.ScalarAttributeType {
	if idx.KeyType == "" {
		return types.ScalarAttributeTypeS
	}
	return idx.KeyType
}

func tableInfo(desc *types.TableDescription) *TableInfo {
	info := &TableInfo{Indexes: map[string]IndexInfo{}}
	if desc == nil {
		return info
	}
	info.Name = aws.ToString(desc.TableName)
	info.Status = desc.TableStatus
	info.ItemCount = aws.ToInt64(desc.ItemCount)

	attrTypes := map[string]types.ScalarAttributeType{}
	for _, def := range desc.AttributeDefinitions {
		attrTypes[aws.ToString(def.AttributeName)] = def.AttributeType
	}
	for _, gsi := range desc.GlobalSecondaryIndexes {
		field, ok := naming.FieldOfIndex(aws.ToString(gsi.IndexName))
		if !ok {
			continue
		}
		info.Indexes[field] = IndexInfo{
			Field:   field,
			KeyType: attrTypes[field],
			Status:  gsi.IndexStatus,
		}
	}
	return info
}

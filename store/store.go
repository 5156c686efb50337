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
	"github.com/google/uuid"

	"github.com/jacentio/lattice/internal/metrics"
)

// batchGetLimit is the DynamoDB BatchGetItem key limit.
const batchGetLimit = 100

// SearchSink receives committed writes for propagation to a search index.
// Failures are logged and counted by the Store and never returned to callers.
type SearchSink interface {
	Upsert(ctx context.Context, m *Model, rec Record) error
	Remove(ctx context.Context, m *Model, id string) error
}

// Store provides record operations over DynamoDB for registered models.
type Store struct {
	api      API
	config   Config
	registry *Registry
	router   *Router
	tables   *Tables
	search   SearchSink
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Store.
type Option func(*Store)

// WithSearch propagates writes of search-enabled models to sink.
func WithSearch(sink SearchSink) Option {
	return func(s *Store) { s.search = sink }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRouter restricts the Store to models the router sends to BackendDynamoDB.
func WithRouter(r *Router) Option {
	return func(s *Store) { s.router = r }
}

// WithClock overrides the time source used for auto timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides primary key generation. Default: random UUIDs.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// New creates a Store. The registry is frozen.
func New(api API, registry *Registry, config Config, opts ...Option) (*Store, error) {
	config.validate()
	if err := registry.Freeze(); err != nil {
		return nil, err
	}
	s := &Store{
		api:      api,
		config:   config,
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tables = NewTables(api, config, s.logger)

	if s.router != nil {
		for _, rel := range registry.AllRelationships() {
			if !s.router.Relatable(rel.Parent, rel.Child) {
				return nil, invalid(rel.Child, rel.Field, "references %s in another backend", rel.Parent)
			}
		}
	}
	return s, nil
}

// Registry returns the model registry.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Tables returns the table lifecycle manager.
func (s *Store) Tables() *Tables {
	return s.tables
}

// Model returns the model called name if this Store serves it.
func (s *Store) Model(name string) (*Model, error) {
	return s.model(name)
}

// Bootstrap ensures all tables exist when CreateTablesOnStartup is set.
func (s *Store) Bootstrap(ctx context.Context) error {
	if !s.config.CreateTablesOnStartup {
		return nil
	}
	return s.tables.EnsureAll(ctx, s.registry)
}

func (s *Store) model(name string) (*Model, error) {
	m, err := s.registry.Model(name)
	if err != nil {
		return nil, err
	}
	if s.router != nil && !s.router.Owns(BackendDynamoDB, name) {
		return nil, &Error{Kind: ErrNotRouted, Op: "Route", Err: fmt.Errorf("model %s", name)}
	}
	return m, nil
}

// Create inserts a new record. Defaults and auto timestamps are applied, a
// primary key is generated when absent, and references marked RequireParent
// are checked atomically with the insert.
func (s *Store) Create(ctx context.Context, model string, values Record) (Record, error) {
	m, err := s.model(model)
	if err != nil {
		return nil, err
	}
	rec, err := s.prepareCreate(m, values)
	if err != nil {
		return nil, err
	}
	item, err := m.EncodeItem(rec)
	if err != nil {
		return nil, err
	}

	put := &types.Put{
		TableName: aws.String(s.tables.Name(m)),
		Item:      item,
	}
	if s.config.CheckCollision {
		put.ConditionExpression = aws.String(NotExistsCondition())
		put.ExpressionAttributeNames = PKNames()
	}

	checks, checkFields := s.parentChecks(m, rec)
	if len(checks) == 0 {
		_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                put.TableName,
			Item:                     put.Item,
			ConditionExpression:      put.ConditionExpression,
			ExpressionAttributeNames: put.ExpressionAttributeNames,
		})
		if err != nil {
			if isConditionFailed(err) {
				return nil, &Error{Kind: ErrConflict, Op: "Create", Err: fmt.Errorf("%s %s already exists", m.Name, rec.ID())}
			}
			return nil, err
		}
	} else {
		items := append(checks, types.TransactWriteItem{Put: put})
		_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err := s.mapTransactionError(err, m, rec.ID(), checkFields, ErrConflict); err != nil {
			return nil, err
		}
	}

	s.syncUpsert(ctx, m, rec)
	return rec, nil
}

// Get retrieves a record by primary key, returning ErrNotFound if missing.
func (s *Store) Get(ctx context.Context, model, id string) (Record, error) {
	m, err := s.model(model)
	if err != nil {
		return nil, err
	}
	result, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Name(m)),
		Key:            KeyOf(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return m.DecodeItem(result.Item), nil
}

// GetMany retrieves records by primary key in the order of ids. Missing ids
// are skipped.
func (s *Store) GetMany(ctx context.Context, model string, ids []string) ([]Record, error) {
	m, err := s.model(model)
	if err != nil {
		return nil, err
	}
	table := s.tables.Name(m)
	keys := keysOf(ids)
	found := make(map[string]Record, len(keys))

	for start := 0; start < len(keys); start += batchGetLimit {
		end := min(start+batchGetLimit, len(keys))
		pending := map[string]types.KeysAndAttributes{
			table: {Keys: keys[start:end], ConsistentRead: aws.Bool(true)},
		}
		if err := s.batchGet(ctx, m, pending, found); err != nil {
			return nil, err
		}
	}

	recs := make([]Record, 0, len(found))
	for _, id := range ids {
		if rec, ok := found[id]; ok {
			recs = append(recs, rec)
			delete(found, id)
		}
	}
	return recs, nil
}

// Update applies a partial change to an existing record and returns the
// updated record. A nil value removes a nullable field. Missing records yield
// ErrNotFound.
func (s *Store) Update(ctx context.Context, model, id string, changes Record) (Record, error) {
	m, err := s.model(model)
	if err != nil {
		return nil, err
	}
	if v, ok := changes[PKAttr]; ok && v != id {
		return nil, invalid(m.Name, PKAttr, "primary key can't change")
	}

	upd := newUpdateExpr()
	applied := Record{}
	for _, name := range sortedKeys(changes) {
		if name == PKAttr {
			continue
		}
		f, ok := m.Field(name)
		if !ok {
			return nil, invalid(m.Name, name, "unknown field")
		}
		av, err := f.Encode(changes[name])
		if err != nil {
			return nil, withModel(err, m.Name)
		}
		if av == nil {
			upd.Remove(name)
			applied[name] = nil
			continue
		}
		upd.Set(name, av)
		applied[name], _ = f.Coerce(changes[name])
	}
	if upd.Empty() {
		return s.Get(ctx, model, id)
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	for _, f := range m.Fields {
		if _, explicit := changes[f.Name]; f.AutoNow && !explicit {
			av, _ := f.Encode(now)
			upd.Set(f.Name, av)
		}
	}

	update := &types.Update{
		TableName:                 aws.String(s.tables.Name(m)),
		Key:                       KeyOf(id),
		UpdateExpression:          aws.String(upd.String()),
		ConditionExpression:       aws.String(ExistsCondition()),
		ExpressionAttributeNames:  mergeExprNames(PKNames(), upd.names),
		ExpressionAttributeValues: upd.values,
	}
	if len(update.ExpressionAttributeValues) == 0 {
		update.ExpressionAttributeValues = nil
	}

	checks, checkFields := s.parentChecks(m, applied)
	if len(checks) > 0 {
		items := append(checks, types.TransactWriteItem{Update: update})
		_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err := s.mapTransactionError(err, m, id, checkFields, ErrNotFound); err != nil {
			return nil, err
		}
		rec, err := s.Get(ctx, model, id)
		if err != nil {
			return nil, err
		}
		s.syncUpsert(ctx, m, rec)
		return rec, nil
	}

	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 update.TableName,
		Key:                       update.Key,
		UpdateExpression:          update.UpdateExpression,
		ConditionExpression:       update.ConditionExpression,
		ExpressionAttributeNames:  update.ExpressionAttributeNames,
		ExpressionAttributeValues: update.ExpressionAttributeValues,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, &Error{Kind: ErrNotFound, Op: "Update", Err: fmt.Errorf("%s %s", m.Name, id)}
		}
		return nil, err
	}
	rec := m.DecodeItem(out.Attributes)
	s.syncUpsert(ctx, m, rec)
	return rec, nil
}

// Delete removes a record. Children related with Cascade are deleted first,
// depth-first, so an interrupted delete can be retried without leaving
// orphans behind a missing parent.
func (s *Store) Delete(ctx context.Context, model, id string) error {
	m, err := s.model(model)
	if err != nil {
		return err
	}
	return s.delete(ctx, m, id, map[string]bool{})
}

// DeleteChildren deletes every cascading child of a parent record, whether
// or not the parent still exists.
func (s *Store) DeleteChildren(ctx context.Context, model, id string) (int, error) {
	m, err := s.model(model)
	if err != nil {
		return 0, err
	}
	return s.cascade(ctx, m, id, map[string]bool{m.Name + "#" + id: true})
}

func (s *Store) delete(ctx context.Context, m *Model, id string, seen map[string]bool) error {
	ref := m.Name + "#" + id
	if seen[ref] {
		return nil
	}
	seen[ref] = true

	if _, err := s.Get(ctx, m.Name, id); err != nil {
		return err
	}
	if _, err := s.cascade(ctx, m, id, seen); err != nil {
		return err
	}

	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.tables.Name(m)),
		Key:                      KeyOf(id),
		ConditionExpression:      aws.String(ExistsCondition()),
		ExpressionAttributeNames: PKNames(),
	})
	// Ignore condition failure - a concurrent delete won
	if err != nil && !isConditionFailed(err) {
		return err
	}
	s.syncRemove(ctx, m, id)
	return nil
}

func (s *Store) cascade(ctx context.Context, m *Model, id string, seen map[string]bool) (int, error) {
	deleted := 0
	for _, rel := range s.registry.ChildrenOf(m.Name) {
		if !rel.Cascade {
			continue
		}
		children, err := s.Find(ctx, rel.Child, Where(Eq(rel.Field, id)))
		if err != nil {
			return deleted, fmt.Errorf("find %s children: %w", rel.Child, err)
		}
		child, _ := s.registry.Lookup(rel.Child)
		for _, c := range children {
			err := s.delete(ctx, child, c.ID(), seen)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return deleted, fmt.Errorf("cascade %s %s: %w", rel.Child, c.ID(), err)
			}
			deleted++
		}
	}
	if deleted > 0 {
		s.logger.Info("cascade delete completed",
			"model", m.Name,
			"id", id,
			"childrenDeleted", deleted,
		)
	}
	return deleted, nil
}

// prepareCreate returns the canonical record to insert.
func (s *Store) prepareCreate(m *Model, values Record) (Record, error) {
	rec := Record{}
	for k, v := range values {
		if k == PKAttr {
			continue
		}
		if _, ok := m.Field(k); !ok {
			return nil, invalid(m.Name, k, "unknown field")
		}
		rec[k] = v
	}

	id := values.ID()
	if id == "" {
		if raw, ok := values[PKAttr]; ok && raw != nil {
			return nil, invalid(m.Name, PKAttr, "primary key must be a non-empty string")
		}
		id = s.newID()
	}
	rec[PKAttr] = id

	now := s.now().UTC().Truncate(time.Microsecond)
	for _, f := range m.Fields {
		v := rec[f.Name]
		if isNil(v) {
			switch {
			case f.AutoNow || f.AutoNowAdd:
				v = now
			case f.DefaultFunc != nil:
				v = f.DefaultFunc()
			case f.Default != nil:
				v = f.Default
			}
		}
		cv, err := f.Coerce(v)
		if err != nil {
			return nil, withModel(err, m.Name)
		}
		if cv == nil {
			delete(rec, f.Name)
			continue
		}
		rec[f.Name] = cv
	}
	return rec, nil
}

// parentChecks builds a condition check per non-empty RequireParent reference in rec.
func (s *Store) parentChecks(m *Model, rec Record) ([]types.TransactWriteItem, []string) {
	var items []types.TransactWriteItem
	var fields []string
	for _, f := range m.Fields {
		if f.Type != Reference || !f.RequireParent {
			continue
		}
		ref, ok := rec[f.Name].(string)
		if !ok || ref == "" {
			continue
		}
		parent, ok := s.registry.Lookup(f.Ref)
		if !ok {
			continue
		}
		items = append(items, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:                aws.String(s.tables.Name(parent)),
				Key:                      KeyOf(ref),
				ConditionExpression:      aws.String(ExistsCondition()),
				ExpressionAttributeNames: PKNames(),
			},
		})
		fields = append(fields, f.Name)
	}
	return items, fields
}

// mapTransactionError maps a cancelled write transaction. The leading items
// are parent checks for fields; the item after them is the write, whose
// condition failure is reported as writeKind.
func (s *Store) mapTransactionError(err error, m *Model, id string, fields []string, writeKind error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
				continue
			}
			if i < len(fields) {
				return &Error{
					Kind: ErrParentNotFound,
					Op:   "ParentCheck",
					Err:  invalid(m.Name, fields[i], "referenced record does not exist"),
				}
			}
			if i == len(fields) {
				return &Error{Kind: writeKind, Op: "TransactWriteItems", Err: fmt.Errorf("%s %s", m.Name, id)}
			}
		}
	}
	return err
}

func (s *Store) syncUpsert(ctx context.Context, m *Model, rec Record) {
	if s.search == nil || !m.Search.Enabled {
		return
	}
	if err := s.search.Upsert(ctx, m, rec); err != nil {
		metrics.SearchSyncFailures.WithLabelValues(m.Name, "upsert").Inc()
		s.logger.Warn("search sync failed",
			"model", m.Name,
			"id", rec.ID(),
			"op", "upsert",
			"error", err,
		)
	}
}

func (s *Store) syncRemove(ctx context.Context, m *Model, id string) {
	if s.search == nil || !m.Search.Enabled {
		return
	}
	if err := s.search.Remove(ctx, m, id); err != nil {
		metrics.SearchSyncFailures.WithLabelValues(m.Name, "remove").Inc()
		s.logger.Warn("search sync failed",
			"model", m.Name,
			"id", id,
			"op", "remove",
			"error", err,
		)
	}
}

var errUnprocessed = errors.New("unprocessed keys remain")

// batchGet reads pending into found, retrying unprocessed keys with
// exponential backoff up to MaxRetries times.
func (s *Store) batchGet(ctx context.Context, m *Model, pending map[string]types.KeysAndAttributes, found map[string]Record) error {
	table := s.tables.Name(m)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.RetryBaseDelay
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		out, err := s.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: pending})
		if err != nil {
			return backoff.Permanent(err)
		}
		for _, raw := range out.Responses[table] {
			rec := m.DecodeItem(raw)
			found[rec.ID()] = rec
		}
		pending = out.UnprocessedKeys
		if len(pending) > 0 {
			return errUnprocessed
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.config.MaxRetries)), ctx))

	if errors.Is(err, errUnprocessed) {
		return &Error{Kind: ErrUnavailable, Op: "BatchGetItem", Err: err}
	}
	return err
}

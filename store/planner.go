package store

import (
	"context"
	"errors"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/internal/metrics"
	"github.com/jacentio/lattice/internal/naming"
)

// Path is the access path chosen for a query.
type Path string

const (
	// PathGet is a direct key lookup.
	PathGet Path = "get"
	// PathIndex is a query on one secondary index.
	PathIndex Path = "index"
	// PathScan is a full table scan.
	PathScan Path = "scan"
)

// Plan is the execution plan for a query.
type Plan struct {
	Path Path

	// Key is the predicate served by the store: the primary key for PathGet,
	// the indexed equality for PathIndex, nil for PathScan.
	Key *Predicate

	// Residual predicates are evaluated client-side on every candidate.
	Residual []Predicate

	// SortInMemory is set when ordering requires materializing every match.
	SortInMemory bool

	OrderBy string
	Desc    bool
	Limit   int
}

// PlanQuery chooses an access path:
//
//   - an equality on the primary key is a direct get
//   - otherwise an equality on an indexed field queries that index; when several
//     qualify, the field declared first wins
//   - otherwise the table is scanned
//
// Predicates not served by the store are applied client-side, so every path
// returns the same records.
func PlanQuery(m *Model, q Query) (Plan, error) {
	preds, err := q.validate(m)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Path: PathScan, Residual: preds, OrderBy: q.OrderBy, Desc: q.Desc, Limit: q.Limit}

	key := -1
	for i, p := range preds {
		if p.Field == PKAttr && p.Op == OpEq {
			key = i
			plan.Path = PathGet
			break
		}
	}
	if key < 0 {
		best := math.MaxInt
		for i, p := range preds {
			if p.Op != OpEq || p.Field == PKAttr {
				continue
			}
			if f, _ := m.Field(p.Field); !f.Indexed {
				continue
			}
			if pos := m.fields[p.Field]; pos < best {
				best, key = pos, i
			}
		}
		if key >= 0 {
			plan.Path = PathIndex
		}
	}
	if key >= 0 {
		k := preds[key]
		plan.Key = &k
		plan.Residual = append(append([]Predicate{}, preds[:key]...), preds[key+1:]...)
	}

	switch {
	case plan.OrderBy == "" || plan.Path == PathGet:
	case plan.Path == PathIndex && plan.OrderBy == plan.Key.Field:
		// every match shares the key value
	default:
		plan.SortInMemory = true
	}
	return plan, nil
}

// Find returns the records of model matching q.
func (s *Store) Find(ctx context.Context, model string, q Query) ([]Record, error) {
	m, err := s.model(model)
	if err != nil {
		return nil, err
	}
	plan, err := PlanQuery(m, q)
	if err != nil {
		return nil, err
	}
	metrics.QueryPlans.WithLabelValues(m.Name, string(plan.Path)).Inc()
	if plan.SortInMemory {
		s.logger.Warn("sorting in memory; all matches are loaded before the limit applies",
			"model", m.Name,
			"orderBy", plan.OrderBy,
			"path", plan.Path,
		)
	}

	var out []Record
	visit := func(rec Record) bool {
		if Match(rec, plan.Residual) {
			out = append(out, rec)
		}
		return plan.SortInMemory || plan.Limit == 0 || len(out) < plan.Limit
	}

	switch plan.Path {
	case PathGet:
		rec, err := s.Get(ctx, m.Name, plan.Key.Value.(string))
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		visit(rec)
	case PathIndex:
		if err := s.queryIndex(ctx, m, *plan.Key, visit); err != nil {
			return nil, err
		}
	default:
		if _, err := s.scan(ctx, m, "", visit); err != nil {
			return nil, err
		}
	}

	if plan.SortInMemory {
		sortRecords(out, plan.OrderBy, plan.Desc)
	}
	if plan.Limit > 0 && len(out) > plan.Limit {
		out = out[:plan.Limit]
	}
	return out, nil
}

// First returns the first record matching q, or ErrNotFound.
func (s *Store) First(ctx context.Context, model string, q Query) (Record, error) {
	q.Limit = 1
	recs, err := s.Find(ctx, model, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// Count returns the number of records matching q. Limit and ordering are ignored.
func (s *Store) Count(ctx context.Context, model string, q Query) (int, error) {
	q.Limit, q.OrderBy = 0, ""
	recs, err := s.Find(ctx, model, q)
	return len(recs), err
}

// CountRows returns the exact number of items in model's table. It pages
// through a COUNT scan, so the cost grows with the table.
func (s *Store) CountRows(ctx context.Context, model string) (int64, error) {
	m, err := s.model(model)
	if err != nil {
		return 0, err
	}
	in := &dynamodb.ScanInput{
		TableName: aws.String(s.tables.Name(m)),
		Select:    types.SelectCount,
	}
	if s.config.PageSize > 0 {
		in.Limit = aws.Int32(s.config.PageSize)
	}

	var n int64
	paginator := dynamodb.NewScanPaginator(s.api, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return n, err
		}
		n += int64(page.Count)
	}
	return n, nil
}

// Scan visits every record of model in store order, resuming after the
// primary key after when it is non-empty. It stops early when fn returns
// false and returns the primary key of the last record visited.
func (s *Store) Scan(ctx context.Context, model, after string, fn func(Record) bool) (string, error) {
	m, err := s.model(model)
	if err != nil {
		return "", err
	}
	return s.scan(ctx, m, after, fn)
}

func (s *Store) scan(ctx context.Context, m *Model, after string, fn func(Record) bool) (string, error) {
	in := &dynamodb.ScanInput{
		TableName: aws.String(s.tables.Name(m)),
	}
	if after != "" {
		in.ExclusiveStartKey = KeyOf(after)
	}
	if s.config.PageSize > 0 {
		in.Limit = aws.Int32(s.config.PageSize)
	}

	last := after
	paginator := dynamodb.NewScanPaginator(s.api, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return last, err
		}
		for _, raw := range page.Items {
			rec := m.DecodeItem(raw)
			last = rec.ID()
			if !fn(rec) {
				return last, nil
			}
		}
	}
	return last, nil
}

func (s *Store) queryIndex(ctx context.Context, m *Model, key Predicate, fn func(Record) bool) error {
	f, _ := m.Field(key.Field)
	av, err := f.Encode(key.Value)
	if err != nil {
		return withModel(err, m.Name)
	}
	expr, names, values := KeyEquals(key.Field, av)
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tables.Name(m)),
		IndexName:                 aws.String(naming.Index(key.Field)),
		KeyConditionExpression:    aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if s.config.PageSize > 0 {
		in.Limit = aws.Int32(s.config.PageSize)
	}

	paginator := dynamodb.NewQueryPaginator(s.api, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, raw := range page.Items {
			if !fn(m.DecodeItem(raw)) {
				return nil
			}
		}
	}
	return nil
}

// keysOf returns primary key maps for ids, dropping duplicates.
func keysOf(ids []string) []map[string]types.AttributeValue {
	seen := make(map[string]bool, len(ids))
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, KeyOf(id))
	}
	return keys
}

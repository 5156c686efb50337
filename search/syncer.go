// Package search keeps an Elasticsearch-compatible index in step with the
// store and answers text queries against it.
//
// The index is never a source of truth. Sync is best effort, search hits are
// re-fetched from the table, and when the index is disabled or failing,
// queries fall back to scanning the table.
package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/lattice/internal/metrics"
	"github.com/jacentio/lattice/internal/naming"
	"github.com/jacentio/lattice/store"
)

// Syncer propagates record writes to an Index. A nil Index disables sync.
type Syncer struct {
	index       Index
	tablePrefix string
	logger      *slog.Logger
}

var _ store.SearchSink = (*Syncer)(nil)

// NewSyncer creates a Syncer. Index names are derived from physical table
// names, so tablePrefix must match the store's.
func NewSyncer(index Index, tablePrefix string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{index: index, tablePrefix: tablePrefix, logger: logger}
}

// Enabled reports whether an index backend is configured.
func (s *Syncer) Enabled() bool {
	return s.index != nil
}

// IndexName returns the search index for m.
func (s *Syncer) IndexName(m *store.Model) string {
	if m.Search.Index != "" {
		return m.Search.Index
	}
	return naming.SearchIndex(naming.Table(s.tablePrefix, m.Table))
}

// Upsert indexes rec, creating the index on first use.
func (s *Syncer) Upsert(ctx context.Context, m *store.Model, rec store.Record) error {
	if s.index == nil {
		return nil
	}
	name := s.IndexName(m)
	if err := s.index.EnsureIndex(ctx, name); err != nil {
		return &store.Error{Kind: store.ErrSearchSync, Op: "EnsureIndex", Err: err}
	}
	if err := s.index.Put(ctx, name, rec.ID(), Document(m, rec)); err != nil {
		return &store.Error{Kind: store.ErrSearchSync, Op: "Upsert", Err: err}
	}
	return nil
}

// Remove deletes the document for id.
func (s *Syncer) Remove(ctx context.Context, m *store.Model, id string) error {
	if s.index == nil {
		return nil
	}
	if err := s.index.Delete(ctx, s.IndexName(m), id); err != nil {
		return &store.Error{Kind: store.ErrSearchSync, Op: "Remove", Err: err}
	}
	return nil
}

// EnsureIndexes creates the index of every search-enabled model.
func (s *Syncer) EnsureIndexes(ctx context.Context, reg *store.Registry) error {
	if s.index == nil {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range reg.Models() {
		if !m.Search.Enabled {
			continue
		}
		g.Go(func() error {
			return s.index.EnsureIndex(ctx, s.IndexName(m))
		})
	}
	return g.Wait()
}

// Search returns records of model matching text, most relevant first.
// Hits are re-fetched from the table; hits whose record is gone are dropped.
// When the index is unavailable the table is scanned instead.
func (s *Syncer) Search(ctx context.Context, st *store.Store, model, text string, limit int) ([]store.Record, error) {
	m, err := st.Model(model)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	fields := queryFields(m)

	if s.index != nil && m.Search.Enabled {
		ids, err := s.index.Search(ctx, s.IndexName(m), text, fields, limit)
		if err == nil {
			return st.GetMany(ctx, m.Name, ids)
		}
		metrics.SearchSyncFailures.WithLabelValues(m.Name, "search").Inc()
		s.logger.Warn("search failed, scanning table",
			"model", m.Name,
			"error", err,
		)
	}
	return scanSearch(ctx, st, m, text, fields, limit)
}

// scanSearch matches text case-insensitively as a substring of any query field.
func scanSearch(ctx context.Context, st *store.Store, m *store.Model, text string, fields []string, limit int) ([]store.Record, error) {
	needle := strings.ToLower(text)
	var out []store.Record
	_, err := st.Scan(ctx, m.Name, "", func(rec store.Record) bool {
		for _, f := range fields {
			if s, ok := rec[f].(string); ok && strings.Contains(strings.ToLower(s), needle) {
				out = append(out, rec)
				break
			}
		}
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Document builds the search document for rec: its primary key plus every
// searchable and indexed field. Timestamps use store.TimeLayout.
func Document(m *store.Model, rec store.Record) map[string]any {
	doc := map[string]any{store.PKAttr: rec.ID()}
	for _, f := range m.Fields {
		if !f.Searchable && !f.Indexed {
			continue
		}
		v, ok := rec[f.Name]
		if !ok || v == nil {
			continue
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(store.TimeLayout)
		}
		doc[f.Name] = v
	}
	return doc
}

// queryFields returns the fields text queries run against: the searchable
// fields, or every string field when none are marked.
func queryFields(m *store.Model) []string {
	var fields []string
	for _, f := range m.SearchableFields() {
		fields = append(fields, f.Name)
	}
	if len(fields) > 0 {
		return fields
	}
	for _, f := range m.Fields {
		if f.Type == store.String {
			fields = append(fields, f.Name)
		}
	}
	return fields
}

package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/lattice/internal/metrics"
	"github.com/jacentio/lattice/store"
)

// ErrDisabled is returned by operations that need a search backend.
var ErrDisabled = errors.New("lattice: search is disabled")

// ReindexOptions controls a reindex run.
type ReindexOptions struct {
	// From resumes after this primary key. Empty starts at the beginning.
	From string

	// Reset drops and recreates the index first. Ignored when From is set.
	Reset bool

	// DryRun scans and counts without writing.
	DryRun bool
}

// ReindexResult reports a reindex run.
type ReindexResult struct {
	Model string

	// Emitted is the number of documents written (or counted, on a dry run).
	Emitted int

	// Last is the primary key of the last document emitted. Pass it as
	// ReindexOptions.From to resume after a failure.
	Last string

	// TableCount is the table's item count after the run, for verification.
	TableCount int64
}

// Reindex scans model's table and re-emits every record to the index.
func (s *Syncer) Reindex(ctx context.Context, st *store.Store, model string, opts ReindexOptions) (ReindexResult, error) {
	res := ReindexResult{Model: model, Last: opts.From}

	m, err := st.Model(model)
	if err != nil {
		return res, err
	}
	if s.index == nil {
		return res, ErrDisabled
	}
	name := s.IndexName(m)

	if !opts.DryRun {
		if opts.Reset && opts.From == "" {
			if err := s.index.DropIndex(ctx, name); err != nil {
				return res, fmt.Errorf("reset index %s: %w", name, err)
			}
		}
		if err := s.index.EnsureIndex(ctx, name); err != nil {
			return res, fmt.Errorf("ensure index %s: %w", name, err)
		}
	}

	var putErr error
	_, err = st.Scan(ctx, m.Name, opts.From, func(rec store.Record) bool {
		if !opts.DryRun {
			if putErr = s.index.Put(ctx, name, rec.ID(), Document(m, rec)); putErr != nil {
				return false
			}
		}
		res.Emitted++
		res.Last = rec.ID()
		return true
	})
	if !opts.DryRun {
		metrics.Reindexed.WithLabelValues(m.Name).Add(float64(res.Emitted))
	}
	if err == nil {
		err = putErr
	}
	if err != nil {
		return res, fmt.Errorf("reindex %s after %q: %w", m.Name, res.Last, err)
	}

	if res.TableCount, err = st.CountRows(ctx, m.Name); err != nil {
		return res, fmt.Errorf("count %s: %w", m.Name, err)
	}
	s.logger.Info("reindexed",
		"model", m.Name,
		"index", name,
		"emitted", res.Emitted,
		"tableCount", res.TableCount,
		"dryRun", opts.DryRun,
	)
	return res, nil
}

// ReindexAll reindexes every search-enabled model in registration order.
func (s *Syncer) ReindexAll(ctx context.Context, st *store.Store, opts ReindexOptions) ([]ReindexResult, error) {
	var out []ReindexResult
	for _, m := range st.Registry().Models() {
		if !m.Search.Enabled {
			continue
		}
		res, err := s.Reindex(ctx, st, m.Name, ReindexOptions{Reset: opts.Reset, DryRun: opts.DryRun})
		out = append(out, res)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

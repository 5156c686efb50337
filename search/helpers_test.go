package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jacentio/lattice/internal/blog"
	"github.com/jacentio/lattice/internal/ddbtest"
	"github.com/jacentio/lattice/store"
)

var errOutage = errors.New("connection refused")

// memIndex is an in-memory Index. Search matches case-insensitive substrings.
type memIndex struct {
	mu      sync.Mutex
	docs    map[string]map[string]map[string]any
	ensured []string
	dropped []string

	// fail makes every call return it.
	fail error
	// putsLeft, when positive, is the number of Puts allowed before failing.
	putsLeft int
}

func newMemIndex() *memIndex {
	return &memIndex{docs: map[string]map[string]map[string]any{}}
}

func (x *memIndex) EnsureIndex(_ context.Context, name string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fail != nil {
		return x.fail
	}
	if _, ok := x.docs[name]; !ok {
		x.docs[name] = map[string]map[string]any{}
	}
	x.ensured = append(x.ensured, name)
	return nil
}

func (x *memIndex) DropIndex(_ context.Context, name string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fail != nil {
		return x.fail
	}
	delete(x.docs, name)
	x.dropped = append(x.dropped, name)
	return nil
}

func (x *memIndex) Put(_ context.Context, index, id string, doc map[string]any) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fail != nil {
		return x.fail
	}
	if x.putsLeft > 0 {
		x.putsLeft--
		if x.putsLeft == 0 {
			x.fail = errOutage
		}
	}
	if x.docs[index] == nil {
		x.docs[index] = map[string]map[string]any{}
	}
	x.docs[index][id] = doc
	return nil
}

func (x *memIndex) Delete(_ context.Context, index, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fail != nil {
		return x.fail
	}
	delete(x.docs[index], id)
	return nil
}

func (x *memIndex) Search(_ context.Context, index, text string, fields []string, limit int) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fail != nil {
		return nil, x.fail
	}
	var ids []string
	for id, doc := range x.docs[index] {
		for _, f := range fields {
			if s, ok := doc[f].(string); ok && strings.Contains(strings.ToLower(s), strings.ToLower(text)) {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (x *memIndex) count(index string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.docs[index])
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newBlogStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	opts = append(opts, store.WithClock(func() time.Time { return testNow }))
	st, err := store.New(ddbtest.New(), blog.Registry(), cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, st.Tables().EnsureAll(context.Background(), st.Registry()))
	return st
}

func createAuthor(t *testing.T, st *store.Store) string {
	t.Helper()
	rec, err := st.Create(context.Background(), blog.Author, store.Record{"username": "ada"})
	require.NoError(t, err)
	return rec.ID()
}

func createPost(t *testing.T, st *store.Store, author, title string) store.Record {
	t.Helper()
	rec, err := st.Create(context.Background(), blog.Post, store.Record{
		"title":     title,
		"slug":      strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		"body":      "body of " + title,
		"author_pk": author,
	})
	require.NoError(t, err)
	return rec
}

package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lattice/internal/blog"
	"github.com/jacentio/lattice/store"
)

func TestDocument(t *testing.T) {
	reg := blog.Registry()
	require.NoError(t, reg.Freeze())
	post, _ := reg.Lookup(blog.Post)

	doc := Document(post, store.Record{
		store.PKAttr: "p1",
		"title":      "Hello",
		"body":       "World",
		"slug":       "hello",
		"view_count": int64(3),
		"created_at": testNow,
		"published":  true,
	})

	assert.Equal(t, map[string]any{
		"pk":        "p1",
		"title":     "Hello",
		"body":      "World",
		"slug":      "hello",
		"published": true,
	}, doc)
}

func TestIndexName(t *testing.T) {
	reg := blog.Registry()
	require.NoError(t, reg.Freeze())
	post, _ := reg.Lookup(blog.Post)

	assert.Equal(t, "dev_blog_post", NewSyncer(nil, "Dev-", nil).IndexName(post))

	custom := *post
	custom.Search.Index = "posts"
	assert.Equal(t, "posts", NewSyncer(nil, "Dev-", nil).IndexName(&custom))
}

func TestSyncerDisabledIsNoop(t *testing.T) {
	reg := blog.Registry()
	require.NoError(t, reg.Freeze())
	post, _ := reg.Lookup(blog.Post)
	s := NewSyncer(nil, "", nil)

	assert.False(t, s.Enabled())
	assert.NoError(t, s.Upsert(context.Background(), post, store.Record{"pk": "p1"}))
	assert.NoError(t, s.Remove(context.Background(), post, "p1"))
}

func TestSyncerWrapsFailures(t *testing.T) {
	reg := blog.Registry()
	require.NoError(t, reg.Freeze())
	post, _ := reg.Lookup(blog.Post)
	idx := newMemIndex()
	idx.fail = errOutage
	s := NewSyncer(idx, "", nil)

	err := s.Upsert(context.Background(), post, store.Record{"pk": "p1"})
	assert.ErrorIs(t, err, store.ErrSearchSync)
	assert.ErrorIs(t, err, errOutage)

	err = s.Remove(context.Background(), post, "p1")
	assert.ErrorIs(t, err, store.ErrSearchSync)
}

func TestWritesPropagate(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex()
	st := newBlogStore(t, store.WithSearch(NewSyncer(idx, "", nil)))

	author := createAuthor(t, st)
	p := createPost(t, st, author, "Go Generics")
	assert.Equal(t, 1, idx.count("blog_post"))
	assert.Equal(t, 0, idx.count("blog_author"), "authors are not search-enabled")

	_, err := st.Update(ctx, blog.Post, p.ID(), store.Record{"title": "Go Iterators"})
	require.NoError(t, err)
	assert.Equal(t, "Go Iterators", idx.docs["blog_post"][p.ID()]["title"])

	require.NoError(t, st.Delete(ctx, blog.Post, p.ID()))
	assert.Equal(t, 0, idx.count("blog_post"))
}

func TestWriteSurvivesSearchOutage(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex()
	st := newBlogStore(t, store.WithSearch(NewSyncer(idx, "", nil)))
	author := createAuthor(t, st)

	idx.fail = errOutage
	p := createPost(t, st, author, "Still Saved")

	got, err := st.Get(ctx, blog.Post, p.ID())
	require.NoError(t, err)
	assert.Equal(t, "Still Saved", got["title"])
	assert.Equal(t, 0, idx.count("blog_post"))
}

func TestSearchRefetchesFromTable(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex()
	s := NewSyncer(idx, "", nil)
	st := newBlogStore(t, store.WithSearch(s))
	author := createAuthor(t, st)

	p := createPost(t, st, author, "Dynamo Tips")
	gone := createPost(t, st, author, "Dynamo Tricks")

	// Stale title in the index and a hit whose record was deleted.
	idx.docs["blog_post"][p.ID()]["title"] = "Dynamo Tips (stale)"
	idx.fail = errOutage
	require.NoError(t, st.Delete(ctx, blog.Post, gone.ID()))
	idx.fail = nil

	got, err := s.Search(ctx, st, blog.Post, "dynamo", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p.ID(), got[0].ID())
	assert.Equal(t, "Dynamo Tips", got[0]["title"])
}

func TestSearchFallsBackToScan(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex()
	s := NewSyncer(idx, "", nil)
	st := newBlogStore(t)
	author := createAuthor(t, st)
	createPost(t, st, author, "Scanning Tables")
	createPost(t, st, author, "Other")

	idx.fail = errOutage
	got, err := s.Search(ctx, st, blog.Post, "SCANNING", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Scanning Tables", got[0]["title"])

	got, err = NewSyncer(nil, "", nil).Search(ctx, st, blog.Post, "body of", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1, "limit applies to the scan")
}

func TestSearchUnknownModel(t *testing.T) {
	st := newBlogStore(t)
	_, err := NewSyncer(nil, "", nil).Search(context.Background(), st, "Nope", "x", 10)
	assert.True(t, errors.Is(err, store.ErrValidation))
}

func TestEnsureIndexes(t *testing.T) {
	idx := newMemIndex()
	reg := blog.Registry()
	require.NoError(t, NewSyncer(idx, "t_", nil).EnsureIndexes(context.Background(), reg))
	assert.Equal(t, []string{"t_blog_post"}, idx.ensured)
}

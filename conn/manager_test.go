package conn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lattice/internal/blog"
	"github.com/jacentio/lattice/internal/ddbtest"
	"github.com/jacentio/lattice/store"
)

func TestManagerReusesHandles(t *testing.T) {
	m := NewManager(DefaultConfig(), WithAPI(ddbtest.New()))
	ctx := context.Background()

	a, err := m.DynamoDB(ctx)
	require.NoError(t, err)
	b, err := m.DynamoDB(ctx)
	require.NoError(t, err)
	assert.Same(t, a, b)

	m.Close()
	c, err := m.DynamoDB(ctx)
	require.NoError(t, err)
	assert.NotSame(t, a, c, "Close drops the handle")
}

func TestManagerSearchDisabled(t *testing.T) {
	m := NewManager(DefaultConfig(), WithAPI(ddbtest.New()))

	idx, err := m.SearchIndex()
	require.NoError(t, err)
	assert.Nil(t, idx)

	syncer, err := m.Syncer()
	require.NoError(t, err)
	assert.False(t, syncer.Enabled())
}

func TestManagerStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.TablePrefix = "mgr_"
	fake := ddbtest.New()
	m := NewManager(cfg, WithAPI(fake))
	ctx := context.Background()

	st, _, err := m.Store(ctx, blog.Registry())
	require.NoError(t, err)
	require.NoError(t, st.Tables().EnsureAll(ctx, st.Registry()))
	assert.Contains(t, fake.TableNames(), "mgr_blog_post")

	rec, err := st.Create(ctx, blog.Author, store.Record{"username": "grace"})
	require.NoError(t, err)
	got, err := st.Get(ctx, blog.Author, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, "grace", got["username"])
}

func TestDefaultManager(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	t.Setenv(ConfigEnv, writeConfig(t, "store:\n  table_prefix: from_file_\n"))
	m, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "from_file_", m.Config().Store.TablePrefix)

	again, err := Default()
	require.NoError(t, err)
	assert.Same(t, m, again)

	cfg := DefaultConfig()
	cfg.Store.TablePrefix = "configured_"
	installed := Configure(cfg)
	current, err := Default()
	require.NoError(t, err)
	assert.Same(t, installed, current)

	Reset()
	t.Setenv(ConfigEnv, writeConfig(t, "log:\n  level: loud\n"))
	_, err = Default()
	assert.Error(t, err)
}

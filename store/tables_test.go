package store_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/internal/blog"
	"github.com/jacentio/lattice/internal/ddbtest"
	"github.com/jacentio/lattice/store"
)

func newTables(fake *ddbtest.Fake, prefix string) *store.Tables {
	cfg := store.DefaultConfig()
	cfg.TablePrefix = prefix
	cfg.ProvisionTimeout = 2 * time.Second
	return store.NewTables(fake, cfg, nil)
}

// --- Ensure Tests ---

func TestEnsureAll_CreatesPrefixedTables(t *testing.T) {
	fake := ddbtest.New()
	tables := newTables(fake, "dev_")
	ctx := context.Background()

	if err := tables.EnsureAll(ctx, blog.Registry()); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	want := []string{"dev_blog_author", "dev_blog_comment", "dev_blog_post"}
	if got := fake.TableNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("TableNames = %v, want %v", got, want)
	}

	info, err := tables.Describe(ctx, "dev_blog_post")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	for _, field := range []string{"slug", "author_pk", "published"} {
		idx, ok := info.Indexes[field]
		if !ok {
			t.Errorf("expected index on %s", field)
			continue
		}
		if idx.KeyType != types.ScalarAttributeTypeS {
			t.Errorf("expected S key for %s, got %s", field, idx.KeyType)
		}
	}
}

func TestEnsureTable_Idempotent(t *testing.T) {
	fake := ddbtest.New()
	tables := newTables(fake, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := tables.EnsureTable(ctx, "things", []store.IndexSpec{{Field: "kind"}}); err != nil {
			t.Fatalf("EnsureTable #%d failed: %v", i+1, err)
		}
	}
	if got := fake.Calls("CreateTable"); got != 1 {
		t.Errorf("expected 1 CreateTable call, got %d", got)
	}
}

func TestEnsureTable_WaitsUntilActive(t *testing.T) {
	fake := ddbtest.New()
	fake.ActivateAfter = 3
	tables := newTables(fake, "")
	ctx := context.Background()

	if err := tables.EnsureTable(ctx, "slow", nil); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	info, err := tables.Describe(ctx, "slow")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if !info.Active() {
		t.Errorf("expected active table, got %s", info.Status)
	}
}

func TestEnsureTable_ProvisioningTimeout(t *testing.T) {
	fake := ddbtest.New()
	fake.NeverActivate = true
	cfg := store.DefaultConfig()
	cfg.ProvisionTimeout = 300 * time.Millisecond
	tables := store.NewTables(fake, cfg, nil)

	err := tables.EnsureTable(context.Background(), "stuck", nil)
	if !errors.Is(err, store.ErrProvisioningTimeout) {
		t.Errorf("expected ErrProvisioningTimeout, got %v", err)
	}
}

// --- Index Tests ---

func TestIndexes_AddRemove(t *testing.T) {
	fake := ddbtest.New()
	tables := newTables(fake, "")
	ctx := context.Background()
	if err := tables.EnsureTable(ctx, "things", nil); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	spec := store.IndexSpec{Field: "rank", KeyType: types.ScalarAttributeTypeN}
	for i := 0; i < 2; i++ {
		if err := tables.AddIndex(ctx, "things", spec); err != nil {
			t.Fatalf("AddIndex #%d failed: %v", i+1, err)
		}
	}
	if got := fake.Calls("UpdateTable"); got != 1 {
		t.Errorf("expected 1 UpdateTable call, got %d", got)
	}
	info, _ := tables.Describe(ctx, "things")
	if info.Indexes["rank"].KeyType != types.ScalarAttributeTypeN {
		t.Errorf("expected N key type, got %+v", info.Indexes["rank"])
	}

	for i := 0; i < 2; i++ {
		if err := tables.RemoveIndex(ctx, "things", "rank"); err != nil {
			t.Fatalf("RemoveIndex #%d failed: %v", i+1, err)
		}
	}
	info, _ = tables.Describe(ctx, "things")
	if _, ok := info.Indexes["rank"]; ok {
		t.Error("expected index removed")
	}
}

func TestAddIndex_MissingTable(t *testing.T) {
	tables := newTables(ddbtest.New(), "")
	err := tables.AddIndex(context.Background(), "nope", store.IndexSpec{Field: "x"})
	if !errors.Is(err, store.ErrTableNotFound) {
		t.Errorf("expected ErrTableNotFound, got %v", err)
	}
}

// --- Drop Tests ---

func TestDrop(t *testing.T) {
	fake := ddbtest.New()
	tables := newTables(fake, "")
	ctx := context.Background()

	if err := tables.Drop(ctx, "never-created"); err != nil {
		t.Errorf("expected dropping a missing table to succeed, got %v", err)
	}
	if err := tables.EnsureTable(ctx, "things", nil); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	if err := tables.Drop(ctx, "things"); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	exists, err := tables.Exists(ctx, "things")
	if err != nil || exists {
		t.Errorf("expected table gone, got %v, %v", exists, err)
	}
	if _, err := tables.Describe(ctx, "things"); !errors.Is(err, store.ErrTableNotFound) {
		t.Errorf("expected ErrTableNotFound, got %v", err)
	}
}

package store_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/internal/blog"
	"github.com/jacentio/lattice/internal/ddbtest"
	"github.com/jacentio/lattice/store"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// --- Test Helpers ---

func newStore(t *testing.T, opts ...store.Option) (*store.Store, *ddbtest.Fake) {
	t.Helper()
	fake := ddbtest.New()
	cfg := store.DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	opts = append([]store.Option{store.WithClock(func() time.Time { return testNow })}, opts...)
	st, err := store.New(fake, blog.Registry(), cfg, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := st.Tables().EnsureAll(context.Background(), st.Registry()); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	return st, fake
}

func mustCreate(t *testing.T, st *store.Store, model string, values store.Record) store.Record {
	t.Helper()
	rec, err := st.Create(context.Background(), model, values)
	if err != nil {
		t.Fatalf("Create %s failed: %v", model, err)
	}
	return rec
}

func newPost(t *testing.T, st *store.Store, author, title string, published bool) store.Record {
	t.Helper()
	return mustCreate(t, st, blog.Post, store.Record{
		"title":     title,
		"slug":      title,
		"body":      "about " + title,
		"author_pk": author,
		"published": published,
	})
}

func ids(recs []store.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID()
	}
	return out
}

type recordingSink struct {
	mu      sync.Mutex
	upserts []string
	removes []string
	err     error
}

func (s *recordingSink) Upsert(_ context.Context, m *store.Model, rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, m.Name+"#"+rec.ID())
	return s.err
}

func (s *recordingSink) Remove(_ context.Context, m *store.Model, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removes = append(s.removes, m.Name+"#"+id)
	return s.err
}

// --- Create Tests ---

func TestCreate_AppliesDefaults(t *testing.T) {
	st, _ := newStore(t)
	author := mustCreate(t, st, blog.Author, store.Record{"username": "ada"})
	post := newPost(t, st, author.ID(), "hello", false)

	got, err := st.Get(context.Background(), blog.Post, post.ID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	want := store.Record{
		"pk":         post.ID(),
		"title":      "hello",
		"slug":       "hello",
		"body":       "about hello",
		"author_pk":  author.ID(),
		"published":  false,
		"view_count": int64(0),
		"created_at": testNow,
		"updated_at": testNow,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Get = %#v\nwant %#v", got, want)
	}
	if !reflect.DeepEqual(got, post) {
		t.Errorf("Create returned %#v, stored %#v", post, got)
	}
}

func TestCreate_GeneratesIDs(t *testing.T) {
	n := 0
	st, _ := newStore(t, store.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}))
	rec := mustCreate(t, st, blog.Author, store.Record{"username": "a"})
	if rec.ID() != "id-1" {
		t.Errorf("expected generated id-1, got %s", rec.ID())
	}

	rec = mustCreate(t, st, blog.Author, store.Record{"pk": "chosen", "username": "b"})
	if rec.ID() != "chosen" {
		t.Errorf("expected explicit pk, got %s", rec.ID())
	}
}

func TestCreate_DuplicateID(t *testing.T) {
	st, _ := newStore(t)
	mustCreate(t, st, blog.Author, store.Record{"pk": "a1", "username": "a"})

	_, err := st.Create(context.Background(), blog.Author, store.Record{"pk": "a1", "username": "b"})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	st, fake := newStore(t)

	tests := []struct {
		name   string
		values store.Record
	}{
		{"missing required", store.Record{}},
		{"unknown field", store.Record{"username": "a", "age": 3}},
		{"too long", store.Record{"username": string(make([]byte, 151))}},
		{"empty pk", store.Record{"pk": "", "username": "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := st.Create(context.Background(), blog.Author, tt.values)
			if !errors.Is(err, store.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
	if got := fake.Calls("PutItem"); got != 0 {
		t.Errorf("expected no writes, got %d", got)
	}
}

func TestCreate_MissingParent(t *testing.T) {
	st, fake := newStore(t)

	_, err := st.Create(context.Background(), blog.Post, store.Record{
		"title": "orphan", "slug": "orphan", "body": "b", "author_pk": "ghost",
	})
	if !errors.Is(err, store.ErrParentNotFound) {
		t.Fatalf("expected ErrParentNotFound, got %v", err)
	}
	var ve *store.ValidationError
	if !errors.As(err, &ve) || ve.Field != "author_pk" {
		t.Errorf("expected the failing reference field, got %v", err)
	}
	if items := fake.Items("blog_post"); len(items) != 0 {
		t.Errorf("expected no post written, got %d", len(items))
	}
}

// --- Update Tests ---

func TestUpdate_Partial(t *testing.T) {
	clock := testNow
	st, _ := newStore(t, store.WithClock(func() time.Time { return clock }))
	author := mustCreate(t, st, blog.Author, store.Record{"username": "ada"})
	post := mustCreate(t, st, blog.Post, store.Record{
		"title": "t", "slug": "s", "body": "b", "author_pk": author.ID(), "tags": []string{"go"},
	})

	clock = testNow.Add(time.Hour)
	got, err := st.Update(context.Background(), blog.Post, post.ID(), store.Record{
		"view_count": 5,
		"tags":       nil,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got["view_count"] != int64(5) {
		t.Errorf("expected view_count 5, got %#v", got["view_count"])
	}
	if _, ok := got["tags"]; ok {
		t.Errorf("expected tags removed, got %#v", got["tags"])
	}
	if got["title"] != "t" {
		t.Errorf("expected untouched title, got %#v", got["title"])
	}
	if got["updated_at"] != clock || got["created_at"] != testNow {
		t.Errorf("unexpected timestamps: created %v updated %v", got["created_at"], got["updated_at"])
	}
}

func TestUpdate_Errors(t *testing.T) {
	st, _ := newStore(t)
	author := mustCreate(t, st, blog.Author, store.Record{"username": "ada"})
	ctx := context.Background()

	if _, err := st.Update(ctx, blog.Author, "missing", store.Record{"username": "x"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.Update(ctx, blog.Author, author.ID(), store.Record{"pk": "other"}); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected pk change to fail validation, got %v", err)
	}
	if _, err := st.Update(ctx, blog.Author, author.ID(), store.Record{"username": nil}); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected removing a required field to fail, got %v", err)
	}
	if _, err := st.Update(ctx, blog.Author, author.ID(), store.Record{"nope": 1}); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected unknown field to fail, got %v", err)
	}
}

func TestUpdate_ReferenceChecksParent(t *testing.T) {
	st, _ := newStore(t)
	author := mustCreate(t, st, blog.Author, store.Record{"username": "ada"})
	post := newPost(t, st, author.ID(), "t", true)
	ctx := context.Background()

	if _, err := st.Update(ctx, blog.Post, post.ID(), store.Record{"author_pk": "ghost"}); !errors.Is(err, store.ErrParentNotFound) {
		t.Errorf("expected ErrParentNotFound, got %v", err)
	}
	if _, err := st.Update(ctx, blog.Post, "missing", store.Record{"author_pk": author.ID()}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	other := mustCreate(t, st, blog.Author, store.Record{"username": "grace"})
	got, err := st.Update(ctx, blog.Post, post.ID(), store.Record{"author_pk": other.ID()})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got["author_pk"] != other.ID() {
		t.Errorf("expected new author, got %v", got["author_pk"])
	}
}

// --- Delete Tests ---

func TestDelete_CascadesChildrenFirst(t *testing.T) {
	st, fake := newStore(t)
	author := mustCreate(t, st, blog.Author, store.Record{"username": "ada"})
	keep := mustCreate(t, st, blog.Author, store.Record{"username": "grace"})
	for i := 0; i < 3; i++ {
		post := newPost(t, st, author.ID(), fmt.Sprintf("p%d", i), true)
		mustCreate(t, st, blog.Comment, store.Record{"post_pk": post.ID(), "author_name": "c", "body": "b"})
	}
	kept := newPost(t, st, keep.ID(), "kept", true)

	if err := st.Delete(context.Background(), blog.Author, author.ID()); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if got := len(fake.Items("blog_author")); got != 1 {
		t.Errorf("expected 1 author left, got %d", got)
	}
	posts := fake.Items("blog_post")
	if len(posts) != 1 {
		t.Fatalf("expected only the other author's post, got %d", len(posts))
	}
	if got := len(fake.Items("blog_comment")); got != 0 {
		t.Errorf("expected comments deleted, got %d", got)
	}
	if _, err := st.Get(context.Background(), blog.Post, kept.ID()); err != nil {
		t.Errorf("expected unrelated post kept, got %v", err)
	}
}

func TestDelete_Missing(t *testing.T) {
	st, _ := newStore(t)
	if err := st.Delete(context.Background(), blog.Author, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteChildren_ParentAlreadyGone(t *testing.T) {
	st, fake := newStore(t)
	// Comments left behind by a post that expired outside the store.
	for _, id := range []string{"c1", "c2"} {
		fake.PutRaw("blog_comment", map[string]types.AttributeValue{
			"pk":          &types.AttributeValueMemberS{Value: id},
			"post_pk":     &types.AttributeValueMemberS{Value: "gone"},
			"author_name": &types.AttributeValueMemberS{Value: "c"},
			"body":        &types.AttributeValueMemberS{Value: "b"},
		})
	}
	fake.PutRaw("blog_comment", map[string]types.AttributeValue{
		"pk":      &types.AttributeValueMemberS{Value: "c3"},
		"post_pk": &types.AttributeValueMemberS{Value: "other"},
	})

	n, err := st.DeleteChildren(context.Background(), blog.Post, "gone")
	if err != nil {
		t.Fatalf("DeleteChildren failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 children deleted, got %d", n)
	}
	if got := len(fake.Items("blog_comment")); got != 1 {
		t.Errorf("expected the unrelated comment kept, got %d", got)
	}
}

// --- Read Tests ---

func TestGet_NotFound(t *testing.T) {
	st, _ := newStore(t)
	if _, err := st.Get(context.Background(), blog.Author, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMany(t *testing.T) {
	st, fake := newStore(t)
	var all []string
	for i := 0; i < 120; i++ {
		all = append(all, mustCreate(t, st, blog.Author, store.Record{"username": fmt.Sprintf("u%03d", i)}).ID())
	}

	want := []string{all[5], all[110], all[0]}
	got, err := st.GetMany(context.Background(), blog.Author, []string{all[5], "missing", all[110], all[5], all[0]})
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if !reflect.DeepEqual(ids(got), want) {
		t.Errorf("GetMany = %v, want %v", ids(got), want)
	}

	before := fake.Calls("BatchGetItem")
	got, err = st.GetMany(context.Background(), blog.Author, all)
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if len(got) != 120 {
		t.Errorf("expected 120 records, got %d", len(got))
	}
	if calls := fake.Calls("BatchGetItem") - before; calls != 2 {
		t.Errorf("expected 2 batches, got %d", calls)
	}
}

func TestGetMany_RetriesUnprocessedKeys(t *testing.T) {
	st, fake := newStore(t)
	var all []string
	for i := 0; i < 120; i++ {
		all = append(all, mustCreate(t, st, blog.Author, store.Record{"username": fmt.Sprintf("u%03d", i)}).ID())
	}
	fake.BatchGetLimit = 30

	before := fake.Calls("BatchGetItem")
	got, err := st.GetMany(context.Background(), blog.Author, all)
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if !reflect.DeepEqual(ids(got), all) {
		t.Errorf("expected every record in request order, got %d records", len(got))
	}
	// 100 keys in four calls, then the remaining 20 in one.
	if calls := fake.Calls("BatchGetItem") - before; calls != 5 {
		t.Errorf("expected 5 BatchGetItem calls, got %d", calls)
	}
}

func TestGetMany_UnprocessedKeysExhaustRetries(t *testing.T) {
	st, fake := newStore(t)
	var all []string
	for i := 0; i < 10; i++ {
		all = append(all, mustCreate(t, st, blog.Author, store.Record{"username": fmt.Sprintf("u%d", i)}).ID())
	}
	fake.BatchGetLimit = 1

	_, err := st.GetMany(context.Background(), blog.Author, all)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

// --- Query Tests ---

func TestFind_PathsReturnSameRecords(t *testing.T) {
	st, _ := newStore(t)
	a := mustCreate(t, st, blog.Author, store.Record{"username": "a"})
	b := mustCreate(t, st, blog.Author, store.Record{"username": "b"})
	// More than one page of results.
	for i := 0; i < 40; i++ {
		author := a
		if i%4 == 0 {
			author = b
		}
		newPost(t, st, author.ID(), fmt.Sprintf("post-%02d", i), i%3 != 0)
	}
	ctx := context.Background()

	indexed, err := st.Find(ctx, blog.Post, store.Where(store.Eq("published", true), store.Eq("author_pk", a.ID())))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	var scanned []store.Record
	_, err = st.Scan(ctx, blog.Post, "", func(rec store.Record) bool {
		if rec["published"] == true && rec["author_pk"] == a.ID() {
			scanned = append(scanned, rec)
		}
		return true
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	gotIDs, wantIDs := ids(indexed), ids(scanned)
	sort.Strings(gotIDs)
	sort.Strings(wantIDs)
	if len(gotIDs) == 0 || !reflect.DeepEqual(gotIDs, wantIDs) {
		t.Errorf("index path returned %v, scan returned %v", gotIDs, wantIDs)
	}
}

func TestFind_IndexAddedAfterWrites(t *testing.T) {
	fake := ddbtest.New()
	ctx := context.Background()
	flag := func(indexed bool) *store.Registry {
		return store.NewRegistry().MustRegister(store.Model{Name: "Flag", Table: "flags", Fields: []store.Field{
			{Name: "name", Type: store.String},
			{Name: "published", Type: store.Boolean, Indexed: indexed},
		}})
	}

	before, err := store.New(fake, flag(false), store.DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := before.Tables().EnsureAll(ctx, before.Registry()); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	on := mustCreate(t, before, "Flag", store.Record{"name": "on", "published": true})
	mustCreate(t, before, "Flag", store.Record{"name": "off", "published": false})

	after, err := store.New(fake, flag(true), store.DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m, _ := after.Model("Flag")
	if err := after.Tables().AddIndex(ctx, "flags", store.IndexSpecs(m)[0]); err != nil {
		t.Fatalf("AddIndex failed: %v", err)
	}

	q := store.Where(store.Eq("published", true))
	if plan, _ := store.PlanQuery(m, q); plan.Path != store.PathIndex {
		t.Fatalf("expected index path, got %s", plan.Path)
	}
	indexed, err := after.Find(ctx, "Flag", q)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	scanned, err := after.Find(ctx, "Flag", store.Where(store.Gte("published", true), store.Lte("published", true)))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if !reflect.DeepEqual(ids(indexed), []string{on.ID()}) || !reflect.DeepEqual(ids(scanned), ids(indexed)) {
		t.Errorf("index path returned %v, scan returned %v", ids(indexed), ids(scanned))
	}
}

func TestCountRows(t *testing.T) {
	st, fake := newStore(t)
	a := mustCreate(t, st, blog.Author, store.Record{"username": "a"})
	// More than one page.
	for i := 0; i < 30; i++ {
		newPost(t, st, a.ID(), fmt.Sprintf("post-%02d", i), true)
	}

	before := fake.Calls("Scan")
	n, err := st.CountRows(context.Background(), blog.Post)
	if err != nil {
		t.Fatalf("CountRows failed: %v", err)
	}
	if n != 30 {
		t.Errorf("expected 30 rows, got %d", n)
	}
	if calls := fake.Calls("Scan") - before; calls < 2 {
		t.Errorf("expected a paginated scan, got %d calls", calls)
	}
	if _, err := st.CountRows(context.Background(), "Nope"); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown model, got %v", err)
	}
}

func TestFind_OrderAndLimit(t *testing.T) {
	st, _ := newStore(t)
	a := mustCreate(t, st, blog.Author, store.Record{"username": "a"})
	for _, title := range []string{"b", "d", "a", "c"} {
		newPost(t, st, a.ID(), title, true)
	}

	recs, err := st.Find(context.Background(), blog.Post, store.Query{OrderBy: "title", Desc: true, Limit: 3})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	var titles []string
	for _, r := range recs {
		titles = append(titles, r["title"].(string))
	}
	if !reflect.DeepEqual(titles, []string{"d", "c", "b"}) {
		t.Errorf("expected [d c b], got %v", titles)
	}
}

func TestFind_PrimaryKey(t *testing.T) {
	st, _ := newStore(t)
	a := mustCreate(t, st, blog.Author, store.Record{"username": "a"})
	ctx := context.Background()

	recs, err := st.Find(ctx, blog.Author, store.Where(store.Eq("pk", a.ID()), store.Eq("username", "a")))
	if err != nil || len(recs) != 1 {
		t.Errorf("expected 1 record, got %d, %v", len(recs), err)
	}
	recs, err = st.Find(ctx, blog.Author, store.Where(store.Eq("pk", a.ID()), store.Eq("username", "b")))
	if err != nil || len(recs) != 0 {
		t.Errorf("expected residual to filter, got %d, %v", len(recs), err)
	}
	recs, err = st.Find(ctx, blog.Author, store.Where(store.Eq("pk", "missing")))
	if err != nil || len(recs) != 0 {
		t.Errorf("expected no records, got %d, %v", len(recs), err)
	}
}

func TestFirstAndCount(t *testing.T) {
	st, _ := newStore(t)
	a := mustCreate(t, st, blog.Author, store.Record{"username": "a"})
	newPost(t, st, a.ID(), "x", true)
	newPost(t, st, a.ID(), "y", false)
	ctx := context.Background()

	n, err := st.Count(ctx, blog.Post, store.Query{Limit: 1, OrderBy: "title"})
	if err != nil || n != 2 {
		t.Errorf("expected Count 2, got %d, %v", n, err)
	}
	rec, err := st.First(ctx, blog.Post, store.Where(store.Eq("published", false)))
	if err != nil || rec["title"] != "y" {
		t.Errorf("expected post y, got %v, %v", rec, err)
	}
	if _, err := st.First(ctx, blog.Post, store.Where(store.Eq("slug", "none"))); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestScan_Resumes(t *testing.T) {
	st, _ := newStore(t)
	for i := 0; i < 5; i++ {
		mustCreate(t, st, blog.Author, store.Record{"pk": fmt.Sprintf("a%d", i), "username": "u"})
	}
	ctx := context.Background()

	var first []string
	last, err := st.Scan(ctx, blog.Author, "", func(rec store.Record) bool {
		first = append(first, rec.ID())
		return len(first) < 2
	})
	if err != nil || last != "a1" {
		t.Fatalf("expected to stop at a1, got %q, %v", last, err)
	}

	var rest []string
	last, err = st.Scan(ctx, blog.Author, last, func(rec store.Record) bool {
		rest = append(rest, rec.ID())
		return true
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !reflect.DeepEqual(rest, []string{"a2", "a3", "a4"}) || last != "a4" {
		t.Errorf("unexpected resume: %v, last %q", rest, last)
	}
}

// --- Search Sink Tests ---

func TestSearchSink(t *testing.T) {
	sink := &recordingSink{}
	st, _ := newStore(t, store.WithSearch(sink))
	ctx := context.Background()

	a := mustCreate(t, st, blog.Author, store.Record{"username": "a"})
	post := newPost(t, st, a.ID(), "p", true)
	if _, err := st.Update(ctx, blog.Post, post.ID(), store.Record{"title": "q"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := st.Delete(ctx, blog.Author, a.ID()); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	ref := blog.Post + "#" + post.ID()
	if !reflect.DeepEqual(sink.upserts, []string{ref, ref}) {
		t.Errorf("expected two post upserts only, got %v", sink.upserts)
	}
	if !reflect.DeepEqual(sink.removes, []string{ref}) {
		t.Errorf("expected post removal only, got %v", sink.removes)
	}
}

func TestSearchSink_FailureDoesNotFailWrites(t *testing.T) {
	sink := &recordingSink{err: errors.New("search down")}
	st, fake := newStore(t, store.WithSearch(sink))

	a := mustCreate(t, st, blog.Author, store.Record{"username": "a"})
	newPost(t, st, a.ID(), "p", true)
	if got := len(fake.Items("blog_post")); got != 1 {
		t.Errorf("expected the post committed, got %d", got)
	}
}

// --- Router Tests ---

func TestRouter(t *testing.T) {
	router := store.NewRouter(store.BackendDynamoDB).Route("Audit", "postgres")
	reg := store.NewRegistry().MustRegister(
		store.Model{Name: "Audit", Fields: []store.Field{{Name: "msg", Type: store.String}}},
		store.Model{Name: "Note", Fields: []store.Field{{Name: "msg", Type: store.String}}},
	)
	st, err := store.New(ddbtest.New(), reg, store.DefaultConfig(), store.WithRouter(router))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := st.Get(context.Background(), "Audit", "x"); !errors.Is(err, store.ErrNotRouted) {
		t.Errorf("expected ErrNotRouted, got %v", err)
	}
	if _, err := st.Model("Note"); err != nil {
		t.Errorf("expected Note served, got %v", err)
	}
}

func TestRouter_RejectsCrossBackendReferences(t *testing.T) {
	router := store.NewRouter(store.BackendDynamoDB).Route(blog.Comment, "postgres")
	_, err := store.New(ddbtest.New(), blog.Registry(), store.DefaultConfig(), store.WithRouter(router))
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

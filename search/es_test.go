package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCluster answers the handful of endpoints ES uses.
type fakeCluster struct {
	mu       sync.Mutex
	indexes  map[string]bool
	requests []string
	bodies   map[string]map[string]any
	hits     []string
}

func newTestES(t *testing.T) (*ES, *fakeCluster) {
	t.Helper()
	c := &fakeCluster{indexes: map[string]bool{}, bodies: map[string]map[string]any{}}
	srv := httptest.NewServer(http.HandlerFunc(c.serve))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Host = u.Hostname()
	cfg.Port = port
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return NewES(client), c
}

func (c *fakeCluster) serve(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	key := r.Method + " " + r.URL.Path
	c.requests = append(c.requests, key)
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		var body map[string]any
		if json.Unmarshal(data, &body) == nil {
			c.bodies[key] = body
		}
	}

	switch key {
	case "HEAD /posts":
		if !c.indexes["posts"] {
			w.WriteHeader(http.StatusNotFound)
		}
	case "PUT /posts":
		c.indexes["posts"] = true
		io.WriteString(w, `{"acknowledged":true}`)
	case "DELETE /posts":
		if !c.indexes["posts"] {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"type":"index_not_found_exception"}}`)
			return
		}
		delete(c.indexes, "posts")
		io.WriteString(w, `{"acknowledged":true}`)
	case "PUT /posts/_doc/p1":
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"result":"created"}`)
	case "DELETE /posts/_doc/missing":
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"result":"not_found"}`)
	case "POST /posts/_search", "GET /posts/_search":
		hits := make([]map[string]any, 0, len(c.hits))
		for _, id := range c.hits {
			hits = append(hits, map[string]any{"_id": id})
		}
		json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": hits}})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"unexpected request"}`)
	}
}

func (c *fakeCluster) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if r == key {
			n++
		}
	}
	return n
}

func TestConfigAddress(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "http://localhost:9200", cfg.Address())

	cfg.UseTLS = true
	cfg.Host = "search.internal"
	cfg.Port = 443
	assert.Equal(t, "https://search.internal:443", cfg.Address())
}

func TestESEnsureIndexCreatesOnce(t *testing.T) {
	es, cluster := newTestES(t)
	ctx := context.Background()

	require.NoError(t, es.EnsureIndex(ctx, "posts"))
	require.NoError(t, es.EnsureIndex(ctx, "posts"))

	assert.Equal(t, 1, cluster.count("HEAD /posts"), "known indexes are cached")
	assert.Equal(t, 1, cluster.count("PUT /posts"))

	settings := cluster.bodies["PUT /posts"]["settings"].(map[string]any)["index"].(map[string]any)
	assert.EqualValues(t, 1, settings["number_of_shards"])
	assert.EqualValues(t, 0, settings["number_of_replicas"])
}

func TestESDropIndexForgetsCache(t *testing.T) {
	es, cluster := newTestES(t)
	ctx := context.Background()

	require.NoError(t, es.EnsureIndex(ctx, "posts"))
	require.NoError(t, es.DropIndex(ctx, "posts"))
	require.NoError(t, es.DropIndex(ctx, "posts"), "missing index is not an error")
	require.NoError(t, es.EnsureIndex(ctx, "posts"))

	assert.Equal(t, 2, cluster.count("PUT /posts"))
}

func TestESPutAndDelete(t *testing.T) {
	es, cluster := newTestES(t)
	ctx := context.Background()

	require.NoError(t, es.Put(ctx, "posts", "p1", map[string]any{"pk": "p1", "title": "Hello"}))
	assert.Equal(t, "Hello", cluster.bodies["PUT /posts/_doc/p1"]["title"])

	assert.NoError(t, es.Delete(ctx, "posts", "missing"))
	assert.Error(t, es.Put(ctx, "posts", "p2", map[string]any{}))
}

func TestESSearch(t *testing.T) {
	es, cluster := newTestES(t)
	cluster.hits = []string{"b", "a"}

	ids, err := es.Search(context.Background(), "posts", `say "hi"`, []string{"title", "body"}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)

	body := cluster.bodies["POST /posts/_search"]
	require.NotNil(t, body)
	assert.EqualValues(t, 5, body["size"])
	assert.Equal(t, false, body["_source"])
}

func TestSearchBody(t *testing.T) {
	body := searchBody(`a\b"c`, []string{"title"}, 3)
	should := body["query"].(map[string]any)["bool"].(map[string]any)["should"].([]any)
	require.Len(t, should, 2)

	mm := should[0].(map[string]any)["multi_match"].(map[string]any)
	assert.Equal(t, `a\b"c`, mm["query"])
	assert.Equal(t, "AUTO", mm["fuzziness"])

	qs := should[1].(map[string]any)["query_string"].(map[string]any)
	assert.Equal(t, `*a\\b\"c*`, qs["query"])
}

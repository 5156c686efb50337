package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Index is the search service as seen by the syncer.
type Index interface {
	EnsureIndex(ctx context.Context, name string) error
	DropIndex(ctx context.Context, name string) error
	Put(ctx context.Context, index, id string, doc map[string]any) error
	Delete(ctx context.Context, index, id string) error
	Search(ctx context.Context, index, text string, fields []string, limit int) ([]string, error)
}

// ES implements Index over an Elasticsearch or OpenSearch cluster.
type ES struct {
	client *elasticsearch.Client
	known  sync.Map
}

var _ Index = (*ES)(nil)

// NewES wraps an Elasticsearch client.
func NewES(client *elasticsearch.Client) *ES {
	return &ES{client: client}
}

// EnsureIndex creates the index with dynamic mappings if it doesn't exist.
// Known indexes are cached for the life of the process.
func (es *ES) EnsureIndex(ctx context.Context, name string) error {
	if _, ok := es.known.Load(name); ok {
		return nil
	}

	req := esapi.IndicesExistsRequest{Index: []string{name}}
	res, err := req.Do(ctx, es.client)
	if err != nil {
		return fmt.Errorf("check index %s: %w", name, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		if err := es.createIndex(ctx, name); err != nil {
			return err
		}
	default:
		return fmt.Errorf("check index %s: unexpected status %d", name, res.StatusCode)
	}
	es.known.Store(name, struct{}{})
	return nil
}

func (es *ES) createIndex(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]any{
		"settings": map[string]any{
			"index": map[string]any{
				"number_of_shards":   1,
				"number_of_replicas": 0,
			},
		},
		"mappings": map[string]any{"dynamic": true},
	})
	if err != nil {
		return fmt.Errorf("marshal index settings: %w", err)
	}

	req := esapi.IndicesCreateRequest{Index: name, Body: bytes.NewReader(body)}
	res, err := req.Do(ctx, es.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	defer res.Body.Close()

	// A concurrent creator already made it.
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return fmt.Errorf("create index %s: %s", name, res.String())
	}
	return nil
}

// DropIndex deletes an index. A missing index is not an error.
func (es *ES) DropIndex(ctx context.Context, name string) error {
	es.known.Delete(name)

	req := esapi.IndicesDeleteRequest{Index: []string{name}}
	res, err := req.Do(ctx, es.client)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete index %s: %s", name, res.String())
	}
	return nil
}

// Put indexes (inserts or replaces) a document.
func (es *ES) Put(ctx context.Context, index, id string, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, es.client)
	if err != nil {
		return fmt.Errorf("index document %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index document %s/%s: %s", index, id, res.String())
	}
	return nil
}

// Delete removes a document. A missing document is not an error.
func (es *ES) Delete(ctx context.Context, index, id string) error {
	req := esapi.DeleteRequest{Index: index, DocumentID: id}
	res, err := req.Do(ctx, es.client)
	if err != nil {
		return fmt.Errorf("delete document %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete document %s/%s: %s", index, id, res.String())
	}
	return nil
}

// Search runs a fuzzy full-text match ORed with a wildcard substring match
// over fields and returns matching document ids in relevance order.
func (es *ES) Search(ctx context.Context, index, text string, fields []string, limit int) ([]string, error) {
	body, err := json.Marshal(searchBody(text, fields, limit))
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, es.client)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search %s: %s", index, res.String())
	}

	var out struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	ids := make([]string, 0, len(out.Hits.Hits))
	for _, hit := range out.Hits.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func searchBody(text string, fields []string, limit int) map[string]any {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(text)
	return map[string]any{
		"size":    limit,
		"_source": false,
		"query": map[string]any{
			"bool": map[string]any{
				"should": []any{
					map[string]any{
						"multi_match": map[string]any{
							"query":     text,
							"fields":    fields,
							"type":      "best_fields",
							"fuzziness": "AUTO",
							"operator":  "or",
						},
					},
					map[string]any{
						"query_string": map[string]any{
							"query":            "*" + escaped + "*",
							"fields":           fields,
							"default_operator": "OR",
							"analyze_wildcard": true,
						},
					},
				},
				"minimum_should_match": 1,
			},
		},
	}
}

// Package elasticsearch ships audit records to an Elasticsearch index and
// queries them back.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/Sentinel-Gate/accessgate/internal/domain/audit"
)

// DefaultIndex is used when Config.Index is empty.
const DefaultIndex = "access-decisions"

// Config configures the Elasticsearch store.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
}

// indexMapping keeps the filterable fields as lowercase keywords so
// queries match case-insensitively.
const indexMapping = `{
  "settings": {
    "analysis": {
      "normalizer": {
        "lowercase": {"type": "custom", "filter": ["lowercase"]}
      }
    }
  },
  "mappings": {
    "properties": {
      "timestamp":      {"type": "date"},
      "event_type":     {"type": "keyword", "normalizer": "lowercase"},
      "request_id":     {"type": "keyword"},
      "principal_id":   {"type": "keyword", "normalizer": "lowercase"},
      "object":         {"type": "keyword", "normalizer": "lowercase"},
      "action":         {"type": "keyword", "normalizer": "lowercase"},
      "policy_id":      {"type": "keyword", "normalizer": "lowercase"},
      "policy_version": {"type": "long"},
      "latency_us":     {"type": "long"}
    }
  }
}`

// Store implements audit.Store and audit.QueryStore.
type Store struct {
	client *elasticsearch.Client
	index  string
}

// New creates a client for cfg. No request is made until first use.
func New(cfg Config) (*Store, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return NewWithClient(client, cfg.Index), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *elasticsearch.Client, index string) *Store {
	if index == "" {
		index = DefaultIndex
	}
	return &Store{client: client, index: index}
}

// Index returns the index name.
func (s *Store) Index() string { return s.index }

// EnsureIndex creates the index with its mapping if it does not exist.
func (s *Store) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("check index %s: %w", s.index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = esapi.IndicesCreateRequest{
		Index: s.index,
		Body:  strings.NewReader(indexMapping),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", s.index, res.String())
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Append indexes records with one bulk request.
func (s *Store) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, rec := range records {
		meta := map[string]any{"index": map[string]any{"_index": s.index}}
		if rec.RequestID != "" && rec.EventType == audit.EventTypeDecision {
			meta["index"].(map[string]any)["_id"] = rec.RequestID
		}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("encode bulk metadata: %w", err)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode audit record: %w", err)
		}
	}

	res, err := esapi.BulkRequest{Body: &body}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index: %s", res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !br.Errors {
		return nil
	}
	failed := 0
	var first string
	for _, item := range br.Items {
		for _, op := range item {
			if op.Status > 299 {
				failed++
				if first == "" {
					first = op.Error.Type + ": " + op.Error.Reason
				}
			}
		}
	}
	return fmt.Errorf("bulk index: %d of %d records failed (%s)", failed, len(records), first)
}

// Flush refreshes the index so appended records become searchable.
func (s *Store) Flush(ctx context.Context) error {
	res, err := esapi.IndicesRefreshRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("refresh index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("refresh index: %s", res.String())
	}
	return nil
}

// Close is a no-op; the client holds no resources that need releasing.
func (s *Store) Close() error { return nil }

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source audit.Record `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// buildQuery turns filter into a search body, newest first.
func buildQuery(filter audit.Filter) map[string]any {
	var must []any

	if !filter.StartTime.IsZero() || !filter.EndTime.IsZero() {
		rng := map[string]any{}
		if !filter.StartTime.IsZero() {
			rng["gte"] = filter.StartTime.UTC().Format(time.RFC3339Nano)
		}
		if !filter.EndTime.IsZero() {
			rng["lte"] = filter.EndTime.UTC().Format(time.RFC3339Nano)
		}
		must = append(must, map[string]any{"range": map[string]any{"timestamp": rng}})
	}

	for field, value := range map[string]string{
		"event_type":   filter.EventType,
		"principal_id": filter.PrincipalID,
		"object":       filter.Object,
		"action":       filter.Action,
		"policy_id":    filter.PolicyID,
	} {
		if value != "" {
			must = append(must, map[string]any{"term": map[string]any{field: strings.ToLower(value)}})
		}
	}

	query := map[string]any{"match_all": map[string]any{}}
	if len(must) > 0 {
		query = map[string]any{"bool": map[string]any{"filter": must}}
	}
	return map[string]any{
		"query": query,
		"size":  filter.EffectiveLimit(),
		"sort":  []any{map[string]any{"timestamp": map[string]any{"order": "desc"}}},
	}
}

// Query searches the index, newest first.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildQuery(filter)); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search audit records: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search audit records: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	records := make([]audit.Record, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		records = append(records, h.Source)
	}
	return records, nil
}

var (
	_ audit.Store      = (*Store)(nil)
	_ audit.QueryStore = (*Store)(nil)
)

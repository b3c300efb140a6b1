// Package vectorstore implements the VectorStore.search abstraction
// the faq_search and rag_policy nodes call through, backed by
// OpenSearch's k-NN plugin. Grounded on the teacher's
// connectors.OpenSearchConnector wiring
// (api/assistant-api/api/knowledge/knowledge.go) — OpenSearch is a
// constructor-injected collaborator alongside Postgres/Redis — adapted
// here from a document-indexing API to a read-only k-NN query surface
// for the analysis nodes.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
)

// Hit is one matching document.
type Hit struct {
	ID      string
	Score   float64
	Content string
	Title   string
	Meta    map[string]interface{}
}

// Store searches one or more OpenSearch indices ("collections") by
// embedding similarity.
type Store struct {
	client *opensearch.Client
}

// New builds a Store against the given OpenSearch endpoint.
func New(url string) (*Store, error) {
	client, err := opensearch.NewClient(opensearch.Config{Addresses: []string{url}})
	if err != nil {
		return nil, fmt.Errorf("opensearch client: %w", err)
	}
	return &Store{client: client}, nil
}

type knnQuery struct {
	Size  int                    `json:"size"`
	Query map[string]interface{} `json:"query"`
}

// Search runs a k-NN query against the given collections (index
// names), returning the top-k closest documents across all of them.
func (s *Store) Search(ctx context.Context, collections []string, embedding []float32, topK int) ([]Hit, error) {
	body := knnQuery{
		Size: topK,
		Query: map[string]interface{}{
			"knn": map[string]interface{}{
				"embedding": map[string]interface{}{
					"vector": embedding,
					"k":      topK,
				},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal knn query: %w", err)
	}

	index := ""
	for i, c := range collections {
		if i > 0 {
			index += ","
		}
		index += c
	}

	resp, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(index),
		s.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("opensearch search: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("opensearch search error: %s", resp.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string                 `json:"_id"`
				Score  float64                `json:"_score"`
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode opensearch response: %w", err)
	}

	out := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hit := Hit{ID: h.ID, Score: h.Score, Meta: h.Source}
		if title, ok := h.Source["title"].(string); ok {
			hit.Title = title
		}
		if content, ok := h.Source["content"].(string); ok {
			hit.Content = content
		}
		out = append(out, hit)
	}
	return out, nil
}

// CollectionsForIntent implements the fixed intent_label -> collection
// routing table from spec.md §4.7.
func CollectionsForIntent(intentLabel string) []string {
	switch intentLabel {
	case "plan inquiry":
		return []string{"mobile"}
	case "cancel", "cancellation":
		return []string{"mobile", "penalty"}
	case "membership":
		return []string{"membership"}
	case "billing":
		return []string{"mobile", "penalty"}
	default:
		return []string{"mobile"}
	}
}

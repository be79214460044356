package rag

import (
	"context"
	"fmt"

	"github.com/typesense/typesense-go/v3/typesense"
	"github.com/typesense/typesense-go/v3/typesense/api"
	"github.com/typesense/typesense-go/v3/typesense/api/pointer"
)

// TypesenseStore adapts typesense-go to the VectorStore interface, keyed on
// a single collection whose documents carry "id", "title" (for filtering)
// and "content", with each chunk metadata key stored as its own top-level
// field unless it would overwrite one of those three.
type TypesenseStore struct {
	client     *typesense.Client
	collection string
}

// NewTypesenseStore builds a TypesenseStore against serverURL, creating the
// collection if it does not already exist.
func NewTypesenseStore(ctx context.Context, serverURL, apiKey, collection string) (*TypesenseStore, error) {
	client := typesense.NewClient(
		typesense.WithServer(serverURL),
		typesense.WithAPIKey(apiKey),
	)

	schema := &api.CollectionSchema{
		Name: collection,
		Fields: []api.Field{
			{Name: "id", Type: "string"},
			{Name: "title", Type: "string", Facet: pointer.True()},
			{Name: "content", Type: "string"},
		},
	}
	if _, err := client.Collections().Create(ctx, schema); err != nil {
		// Tolerate "already exists" — typesense-go surfaces this as a 409.
		if _, getErr := client.Collection(collection).Retrieve(ctx); getErr != nil {
			return nil, fmt.Errorf("create or verify collection %q: %w", collection, err)
		}
	}

	return &TypesenseStore{client: client, collection: collection}, nil
}

func (s *TypesenseStore) Upsert(ctx context.Context, chunks []Chunk) error {
	for _, c := range chunks {
		doc := map[string]interface{}{
			"id":      c.ID,
			"title":   c.Title,
			"content": c.Content,
		}
		for k, v := range c.Metadata {
			if _, reserved := doc[k]; !reserved {
				doc[k] = v
			}
		}
		if _, err := s.client.Collection(s.collection).Documents().Upsert(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *TypesenseStore) Search(ctx context.Context, query string, topK int, filter map[string]interface{}) ([]SearchHit, error) {
	q := query
	perPage := topK
	params := &api.SearchCollectionParams{
		Q:       &q,
		QueryBy: pointer.String("content,title"),
		PerPage: &perPage,
	}
	result, err := s.client.Collection(s.collection).Documents().Search(ctx, params)
	if err != nil {
		return nil, err
	}
	if result.Hits == nil {
		return nil, nil
	}

	hits := make([]SearchHit, 0, len(*result.Hits))
	for _, h := range *result.Hits {
		if h.Document == nil {
			continue
		}
		doc := *h.Document
		id, _ := doc["id"].(string)
		content, _ := doc["content"].(string)
		score := 0.0
		if h.TextMatch != nil {
			score = float64(*h.TextMatch)
		}
		hits = append(hits, SearchHit{ID: id, Content: content, Metadata: doc, RelevanceScore: score})
	}
	return hits, nil
}

func (s *TypesenseStore) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.client.Collection(s.collection).Document(id).Delete(ctx, &api.DeleteDocumentParams{}); err != nil {
			return err
		}
	}
	return nil
}

func (s *TypesenseStore) Count(ctx context.Context) (int, error) {
	retrieved, err := s.client.Collection(s.collection).Retrieve(ctx)
	if err != nil {
		return 0, err
	}
	if retrieved.NumDocuments == nil {
		return 0, nil
	}
	return int(*retrieved.NumDocuments), nil
}

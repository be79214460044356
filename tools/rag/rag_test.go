package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	upserted []Chunk
	hits     []SearchHit
}

func (f *fakeStore) Upsert(ctx context.Context, chunks []Chunk) error {
	f.upserted = append(f.upserted, chunks...)
	return nil
}
func (f *fakeStore) Search(ctx context.Context, query string, topK int, filter map[string]interface{}) ([]SearchHit, error) {
	return f.hits, nil
}
func (f *fakeStore) Delete(ctx context.Context, ids []string) error { return nil }
func (f *fakeStore) Count(ctx context.Context) (int, error)         { return len(f.upserted), nil }

func TestIndexProducesIdempotentChunkIDs(t *testing.T) {
	store := &fakeStore{}
	tool := New(store, 100, 10, "test")

	params := map[string]interface{}{
		"action": "index",
		"documents": []interface{}{
			map[string]interface{}{"content": "hello world, this is a test document.", "title": "doc1"},
		},
	}

	result1, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, result1.Success)
	firstIDs := make([]string, len(store.upserted))
	for i, c := range store.upserted {
		firstIDs[i] = c.ID
	}

	store.upserted = nil
	_, err = tool.Execute(context.Background(), params)
	require.NoError(t, err)
	secondIDs := make([]string, len(store.upserted))
	for i, c := range store.upserted {
		secondIDs[i] = c.ID
	}

	assert.Equal(t, firstIDs, secondIDs)
}

func TestChunkTextRespectsChunkSize(t *testing.T) {
	chunks := chunkText("abcdefghij", 4, 1)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 4)
	}
}

func TestQueryRequiresText(t *testing.T) {
	tool := New(&fakeStore{}, 100, 10, "test")
	result, err := tool.Execute(context.Background(), map[string]interface{}{"action": "query"})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

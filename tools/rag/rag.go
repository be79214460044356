// Package rag implements the document indexing/search tool from spec §4.2,
// grounded on original_source/core/tools/rag_tool.py's query/index/list/
// delete actions and sentence/paragraph-aware chunking, but backed by
// typesense-go (github.com/typesense/typesense-go/v3) instead of the
// original's ChromaDB, per SPEC_FULL.md §2's domain-stack wiring. Chunk IDs
// are SHA-256 of (title, chunk index, first 50 bytes of the chunk text) so
// re-ingesting the same document is idempotent rather than creating
// duplicate chunks.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/tools"
)

// Document is one input to an "index" action.
type Document struct {
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// Chunk is a single indexed unit of a Document.
type Chunk struct {
	ID       string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// SearchHit is a single ranked result from a "query" action.
type SearchHit struct {
	ID             string
	Content        string
	Metadata       map[string]interface{}
	RelevanceScore float64
}

// VectorStore is the consumed storage interface, satisfied by a
// typesense-go-backed implementation; kept as an interface so tests can
// substitute an in-memory fake.
type VectorStore interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	Search(ctx context.Context, query string, topK int, filter map[string]interface{}) ([]SearchHit, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
}

// Tool is the RAG tool: chunk + upsert on index, vector search on query.
type Tool struct {
	Store         VectorStore
	ChunkSize     int
	ChunkOverlap  int
	CollectionTag string
}

// New builds a Tool over store with the given chunking parameters (spec §6
// RAG_CHUNK_SIZE/RAG_CHUNK_OVERLAP, defaulting to original_source's 512/50).
func New(store VectorStore, chunkSize, chunkOverlap int, collectionTag string) *Tool {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	if chunkOverlap < 0 {
		chunkOverlap = 50
	}
	return &Tool{Store: store, ChunkSize: chunkSize, ChunkOverlap: chunkOverlap, CollectionTag: collectionTag}
}

func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "rag_query",
		Description: "Search indexed documents using semantic search. Can index new documents and query existing ones.",
		Category:    "rag",
		Parameters: []tools.Parameter{
			{Name: "action", Type: "string", Description: "query|index|list|delete", Required: true,
				Enum: []interface{}{"query", "index", "list", "delete"}},
			{Name: "query", Type: "string", Description: "Search query (required for 'query')", Required: false},
			{Name: "documents", Type: "array", Description: "Documents to index (required for 'index')", Required: false},
			{Name: "top_k", Type: "number", Description: "Results to return (default 5)", Required: false},
			{Name: "document_ids", Type: "array", Description: "IDs to delete (required for 'delete')", Required: false},
		},
	}
}

func (t *Tool) Execute(ctx context.Context, params map[string]interface{}) (tools.ExecutionResult, error) {
	action, _ := params["action"].(string)
	switch action {
	case "query":
		return t.query(ctx, params)
	case "index":
		return t.index(ctx, params)
	case "list":
		return t.list(ctx)
	case "delete":
		return t.delete(ctx, params)
	default:
		return tools.ExecutionResult{Success: false, Error: "unknown action: " + action}, nil
	}
}

func (t *Tool) query(ctx context.Context, params map[string]interface{}) (tools.ExecutionResult, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return tools.ExecutionResult{Success: false, Error: "query text is required for 'query' action"}, nil
	}
	topK := 5
	if v, ok := params["top_k"].(float64); ok && v > 0 {
		topK = int(v)
	}

	hits, err := t.Store.Search(ctx, query, topK, nil)
	if err != nil {
		wrapped := core.NewEngineError("rag.query", core.ErrDependencyUnavailable, err.Error())
		return tools.ExecutionResult{Success: false, Error: wrapped.Error()}, wrapped
	}
	return tools.ExecutionResult{Success: true, Output: map[string]interface{}{
		"query": query, "documents": hits, "count": len(hits),
	}}, nil
}

func (t *Tool) index(ctx context.Context, params map[string]interface{}) (tools.ExecutionResult, error) {
	raw, ok := params["documents"].([]interface{})
	if !ok || len(raw) == 0 {
		return tools.ExecutionResult{Success: false, Error: "documents list is required for 'index' action"}, nil
	}

	var chunks []Chunk
	for docIdx, item := range raw {
		doc, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		content, _ := doc["content"].(string)
		if content == "" {
			continue
		}
		title, _ := doc["title"].(string)
		if title == "" {
			title = docTitleFallback(docIdx)
		}
		metadata, _ := doc["metadata"].(map[string]interface{})
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		metadata["title"] = title
		metadata["indexed_at"] = time.Now().UTC().Format(time.RFC3339)

		for chunkIdx, text := range chunkText(content, t.ChunkSize, t.ChunkOverlap) {
			chunks = append(chunks, Chunk{
				ID:       chunkID(title, chunkIdx, text),
				Title:    title,
				Content:  text,
				Metadata: metadata,
			})
		}
	}
	if len(chunks) == 0 {
		return tools.ExecutionResult{Success: false, Error: "no valid documents to index"}, nil
	}

	if err := t.Store.Upsert(ctx, chunks); err != nil {
		wrapped := core.NewEngineError("rag.index", core.ErrDependencyUnavailable, err.Error())
		return tools.ExecutionResult{Success: false, Error: wrapped.Error()}, wrapped
	}

	return tools.ExecutionResult{Success: true, Output: map[string]interface{}{
		"documents_indexed": len(raw), "chunks_created": len(chunks),
	}}, nil
}

func (t *Tool) list(ctx context.Context) (tools.ExecutionResult, error) {
	count, err := t.Store.Count(ctx)
	if err != nil {
		wrapped := core.NewEngineError("rag.list", core.ErrDependencyUnavailable, err.Error())
		return tools.ExecutionResult{Success: false, Error: wrapped.Error()}, wrapped
	}
	return tools.ExecutionResult{Success: true, Output: map[string]interface{}{"total_chunks": count}}, nil
}

func (t *Tool) delete(ctx context.Context, params map[string]interface{}) (tools.ExecutionResult, error) {
	raw, ok := params["document_ids"].([]interface{})
	if !ok || len(raw) == 0 {
		return tools.ExecutionResult{Success: false, Error: "document IDs list is required for 'delete' action"}, nil
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	if err := t.Store.Delete(ctx, ids); err != nil {
		wrapped := core.NewEngineError("rag.delete", core.ErrDependencyUnavailable, err.Error())
		return tools.ExecutionResult{Success: false, Error: wrapped.Error()}, wrapped
	}
	return tools.ExecutionResult{Success: true, Output: map[string]interface{}{"deleted_count": len(ids)}}, nil
}

func docTitleFallback(idx int) string {
	return "Document " + itoa(idx)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// chunkText splits text into overlapping chunks, preferring to break on a
// sentence or paragraph boundary past the halfway point of the chunk window
// (original_source's _chunk_text).
func chunkText(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	start := 0
	length := len(text)

	for start < length {
		end := start + size
		if end > length {
			end = length
		}
		window := text[start:end]

		if end < length {
			lastPeriod := strings.LastIndex(window, ". ")
			lastNewline := strings.LastIndex(window, "\n")
			breakPoint := lastPeriod
			if lastNewline > breakPoint {
				breakPoint = lastNewline
			}
			if breakPoint > size/2 {
				end = start + breakPoint + 1
				window = text[start:end]
			}
		}

		chunks = append(chunks, strings.TrimSpace(window))

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
		if start >= length {
			break
		}
	}
	return chunks
}

func chunkID(title string, chunkIdx int, text string) string {
	preview := text
	if len(preview) > 50 {
		preview = preview[:50]
	}
	sum := sha256.Sum256([]byte(title + "_" + itoa(chunkIdx) + "_" + preview))
	return hex.EncodeToString(sum[:])
}

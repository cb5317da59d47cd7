package weaviate

import (
	"context"
	"fmt"

	"docchat/ingest/internal/store"
	"docchat/ingest/internal/vector"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// pageSize bounds each GraphQL page read while scanning persisted indices.
const pageSize = 500

// Store keeps embedded chunks as DocumentChunk objects. Object ids are the
// deterministic chunk ids, so a rewrite replaces the earlier object.
type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, schemaClient{client: s.client})
}

func (s *Store) UpsertChunk(ctx context.Context, chunk store.Chunk) error {
	id := chunk.ID
	if id == "" {
		id = store.ChunkID(chunk.DocumentID, chunk.SequenceIndex)
	}
	props := properties(chunk)

	exists, err := s.client.Data().Checker().
		WithClassName(vector.ClassName).
		WithID(id).
		Do(ctx)
	if err != nil {
		return store.Persistence("check chunk", err)
	}

	if exists {
		err = s.client.Data().Updater().
			WithClassName(vector.ClassName).
			WithID(id).
			WithProperties(props).
			WithVector(chunk.Embedding).
			Do(ctx)
		return store.Persistence("update chunk", err)
	}

	_, err = s.client.Data().Creator().
		WithClassName(vector.ClassName).
		WithID(id).
		WithProperties(props).
		WithVector(chunk.Embedding).
		Do(ctx)
	return store.Persistence("create chunk", err)
}

func (s *Store) HighestPersistedIndex(ctx context.Context, documentID string) (int, bool, error) {
	var indices []int
	for offset := 0; ; offset += pageSize {
		res, err := s.client.GraphQL().Get().
			WithClassName(vector.ClassName).
			WithWhere(byDocument(documentID)).
			WithSort(graphql.Sort{Path: []string{"chunkIndex"}, Order: graphql.Asc}).
			WithFields(graphql.Field{Name: "chunkIndex"}).
			WithLimit(pageSize).
			WithOffset(offset).
			Do(ctx)
		if err != nil {
			return 0, false, store.Persistence("list chunk indices", err)
		}
		if len(res.Errors) > 0 {
			return 0, false, store.Persistence("list chunk indices", fmt.Errorf("graphql error: %v", res.Errors[0].Message))
		}

		page := parseIndices(res.Data["Get"])
		indices = append(indices, page...)
		if len(page) < pageSize {
			break
		}
	}

	k := store.ContiguousPrefix(indices)
	return k, k >= 0, nil
}

func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithWhere(byDocument(documentID)).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, store.Persistence("count chunks", err)
	}
	if len(res.Errors) > 0 {
		return 0, store.Persistence("count chunks", fmt.Errorf("graphql error: %v", res.Errors[0].Message))
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[vector.ClassName].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func byDocument(documentID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.Equal).
		WithValueString(documentID)
}

func properties(c store.Chunk) map[string]interface{} {
	props := map[string]interface{}{
		"content":    c.Content,
		"documentId": c.DocumentID,
		"ownerId":    c.OwnerID,
		"chunkIndex": c.SequenceIndex,
	}
	if v, ok := c.Metadata[store.MetaFileName].(string); ok {
		props["fileName"] = v
	}
	for key, prop := range map[string]string{
		store.MetaChunkSize:    "chunkSize",
		store.MetaChunkOverlap: "chunkOverlap",
		store.MetaCharStart:    "charStart",
		store.MetaCharEnd:      "charEnd",
	} {
		if v, ok := c.Metadata[key].(int); ok {
			props[prop] = v
		}
	}
	return props
}

func parseIndices(data interface{}) []int {
	get, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	rows, ok := get[vector.ClassName].([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(rows))
	for _, r := range rows {
		props, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		if idx, ok := props["chunkIndex"].(float64); ok {
			out = append(out, int(idx))
		}
	}
	return out
}

package store

import (
	"strconv"

	"github.com/google/uuid"
)

// Metadata keys written on every chunk.
const (
	MetaFileName     = "file_name"
	MetaChunkSize    = "chunk_size"
	MetaChunkOverlap = "chunk_overlap"
	MetaCharStart    = "char_start"
	MetaCharEnd      = "char_end"
)

// chunkNamespace scopes the deterministic chunk ids.
var chunkNamespace = uuid.MustParse("6f1c2a0e-8f5b-4f43-9a53-3f0d5b7c9e21")

type Chunk struct {
	ID            string         `json:"id"`
	DocumentID    string         `json:"document_id"`
	OwnerID       string         `json:"user_id"`
	SequenceIndex int            `json:"sequence_index"`
	Content       string         `json:"content"`
	Embedding     []float32      `json:"embedding"`
	Metadata      map[string]any `json:"metadata"`
}

// ChunkID derives the stable id of the chunk at index within a document, so
// that rewriting the same position always targets the same record.
func ChunkID(documentID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+"#"+strconv.Itoa(index))).String()
}

// ContiguousPrefix returns the largest k such that every index in [0, k]
// is present, or -1 when index 0 is missing.
func ContiguousPrefix(indices []int) int {
	seen := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		seen[i] = struct{}{}
	}
	k := -1
	for {
		if _, ok := seen[k+1]; !ok {
			return k
		}
		k++
	}
}

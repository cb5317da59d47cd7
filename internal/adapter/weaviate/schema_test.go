package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"docchat/ingest/internal/vector"
)

func alreadyExists(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	_, _ = w.Write([]byte(`{"error":[{"message":"class name \"DocumentChunk\" already exists"}]}`))
}

func TestStore_EnsureSchema_Creates(t *testing.T) {
	var created models.Class
	s := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/schema/"+vector.ClassName:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/schema":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.Equal(t, vector.ClassName, created.Class)
	assert.Equal(t, "none", created.Vectorizer)
	assert.Len(t, created.Properties, len(vector.Properties()))
}

func TestStore_EnsureSchema_LostCreateRace(t *testing.T) {
	s := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		alreadyExists(w)
	})

	assert.NoError(t, s.EnsureSchema(context.Background()))
}

func TestStore_EnsureSchema_CreateRejected(t *testing.T) {
	s := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":[{"message":"invalid data type"}]}`))
	})

	assert.Error(t, s.EnsureSchema(context.Background()))
}

func TestStore_EnsureSchema_AddsMissingProperties(t *testing.T) {
	var added []string
	s := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/schema/"+vector.ClassName:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(&models.Class{
				Class:      vector.ClassName,
				Properties: vector.Properties()[:2],
			})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/schema/"+vector.ClassName+"/properties":
			var p models.Property
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			added = append(added, p.Name)
			if p.Name == "chunkIndex" {
				// Another instance added it first.
				alreadyExists(w)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.Len(t, added, len(vector.Properties())-2)
	assert.Contains(t, added, "chunkIndex")
}

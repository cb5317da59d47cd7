package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/ingest/internal/adapter/sqlite"
	"docchat/ingest/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	processCmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func localEnv(t *testing.T, embedURL string) (dbPath, uploads string) {
	t.Helper()
	dbPath = filepath.Join(t.TempDir(), "ingest.db")
	uploads = t.TempDir()
	t.Setenv("SQLITE_PATH", dbPath)
	t.Setenv("UPLOAD_DIR", uploads)
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_BASE_URL", embedURL)
	t.Setenv("EMBEDDING_DIMENSION", "3")
	t.Setenv("EMBED_BACKOFF_MS", "1")
	t.Setenv("LOG_LEVEL", "error")
	return dbPath, uploads
}

func TestProcess_Local(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-cli", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  "text-embedding-ada-002",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3}},
			},
			"usage": map[string]int{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	defer ts.Close()

	dbPath, uploads := localEnv(t, ts.URL+"/v1")
	t.Setenv("EMBEDDING_API_KEY", "sk-cli")
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "notes.md"), []byte(strings.Repeat("word ", 300)), 0o644))

	out, err := execute(t, "process", "--key", "notes.md", "--owner", "me", "--local")
	require.NoError(t, err)
	assert.Contains(t, out, "processed: 2 chunks, 2 embedded from index 0")
	assert.NotContains(t, out, "sk-cli")

	sq, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer sq.Close()
	doc, err := sq.GetDocumentByKey(t.Context(), "notes.md")
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, doc.Status)

	out, err = execute(t, "process", "--key", "notes.md", "--owner", "me", "--local")
	require.NoError(t, err)
	assert.Contains(t, out, "already processed")
}

func TestProcess_MissingCredential(t *testing.T) {
	localEnv(t, "")
	t.Setenv("EMBEDDING_API_KEY", "")

	_, err := execute(t, "process", "--key", "notes.md", "--owner", "me", "--local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMBEDDING_API_KEY")
}

func TestProcess_RequiresFlags(t *testing.T) {
	localEnv(t, "")

	_, err := execute(t, "process", "--owner", "me")
	assert.Error(t, err)
}

func TestMigrate_SQLite(t *testing.T) {
	dbPath, _ := localEnv(t, "")
	t.Setenv("STORE_BACKEND", "sqlite")

	_, err := execute(t, "migrate")
	require.NoError(t, err)
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

package app_test

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/ingest/internal/app"
	"docchat/ingest/internal/config"
	"docchat/ingest/internal/store"
	"docchat/ingest/internal/testutils"
)

func TestBootstrap_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	cfg := suite.GetAppConfig()
	cfg.StoreBackend = config.StoreWeaviate

	_, b, _, _ := runtime.Caller(0)
	cfg.MigrationPath = fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))

	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.Close()
	require.NotNil(t, deps.DB)

	for _, table := range []string{"documents", "document_chunks", "failed_jobs"} {
		var exists bool
		err = deps.DB.QueryRow("SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	_, ok := deps.Store.(store.Composite)
	assert.True(t, ok)
	assert.NotNil(t, deps.Publisher)
}

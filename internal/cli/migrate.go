package cli

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"docchat/ingest/internal/adapter/sqlite"
	"docchat/ingest/internal/app"
	"docchat/ingest/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Long: `Apply database migrations and exit.

Postgres migrations are read from MIGRATION_PATH. The sqlite backend carries
its schema in the binary and is migrated on open.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StoreBackend == config.StoreSQLite {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return err
			}
			s, err := sqlite.Open(cfg.SQLitePath)
			if err != nil {
				return err
			}
			return s.Close()
		}

		db, err := app.OpenPostgres(cfg)
		if err != nil {
			return err
		}
		return errors.Join(app.Migrate(db, cfg.MigrationPath), db.Close())
	},
}

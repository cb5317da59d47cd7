package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"docchat/ingest/internal/app"
	"docchat/ingest/internal/config"
	"docchat/ingest/internal/embedding"
	"docchat/ingest/internal/ingest"
)

var (
	processKey           string
	processOwner         string
	processCredentialEnv string
	processLocal         bool
	processRegister      bool
	processResume        bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the ingestion pipeline for one document and wait for it",
	Long: `Run the ingestion pipeline for one document and wait for it.

The provider credential is read from the environment variable named by
--credential-env so that it never appears in the process list or shell
history.

Examples:
  ingest process --key user-1/report.pdf --owner user-1
  ingest process --key notes.md --owner me --local --credential-env GEMINI_API_KEY`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processKey, "key", "", "storage key of the document (required)")
	processCmd.Flags().StringVar(&processOwner, "owner", "", "owner id of the document (required)")
	processCmd.Flags().StringVar(&processCredentialEnv, "credential-env", "EMBEDDING_API_KEY", "environment variable holding the embedding credential")
	processCmd.Flags().BoolVar(&processLocal, "local", false, "use the local sqlite store and register the document if needed")
	processCmd.Flags().BoolVar(&processRegister, "register", false, "register the document before processing")
	processCmd.Flags().BoolVar(&processResume, "resume", false, "take over a processing document even if its lease looks alive")
	_ = processCmd.MarkFlagRequired("key")
	_ = processCmd.MarkFlagRequired("owner")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cred := embedding.NewCredential(os.Getenv(processCredentialEnv))
	if cred.Empty() {
		return fmt.Errorf("environment variable %s is empty", processCredentialEnv)
	}

	if processLocal {
		cfg.StoreBackend = config.StoreSQLite
		processRegister = true
	}

	ctx, stop := signalContext()
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	if processRegister {
		if err := register(ctx, deps, processOwner, processKey); err != nil {
			return err
		}
	}

	a, err := app.New(ctx, cfg, deps, slog.Default())
	if err != nil {
		return err
	}

	res, err := a.Orchestrator.Run(ctx, ingest.Request{
		DocumentKey: processKey,
		OwnerID:     processOwner,
		Credential:  cred,
		Resume:      processResume,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.NoOp {
		fmt.Fprintf(out, "document %s already processed\n", res.DocumentID)
		return nil
	}
	fmt.Fprintf(out, "document %s processed: %d chunks, %d embedded from index %d\n",
		res.DocumentID, res.Chunks, res.Embedded, res.StartIndex)
	return nil
}

func register(ctx context.Context, deps *app.Dependencies, owner, key string) error {
	_, err := app.Registrar(deps).Register(ctx, owner, key, filepath.Base(key))
	return err
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestCategory string

var ingestCmd = &cobra.Command{
	Use:   "ingest <path...>",
	Short: "Ingest files, directories or URLs",
	Long: `Loads every path and adds it to the knowledge base. Directories are scanned
recursively and may carry a manifest.yaml; URLs are fetched and reduced to
their readable text. Documents already present are replaced.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestCategory, "category", "c", "", "category for documents without one")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := requireServices(); err != nil {
		return err
	}
	ctx := cmd.Context()

	docs, loadErr := services.LoadPaths(ctx, args)
	for i := range docs {
		if docs[i].Category == "" {
			docs[i].Category = ingestCategory
		}
	}
	if len(docs) == 0 {
		if loadErr != nil {
			return loadErr
		}
		return fmt.Errorf("no documents found in %v", args)
	}

	if err := services.Ingest(ctx, docs); err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	cmd.Printf("Ingested %d documents\n", len(docs))
	if loadErr != nil {
		return fmt.Errorf("some paths could not be loaded: %w", loadErr)
	}
	return nil
}

package cli

import (
	"github.com/OFFIS-RIT/triage/internal/corpus"
	"github.com/OFFIS-RIT/triage/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	watchInitial  bool
	watchDebounce = corpus.DefaultDebounce
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Keep the knowledge base in sync with a directory",
	Long: `Ingests the directory once, then re-ingests files as they are created or
changed and removes documents whose files are deleted. Runs until
interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchInitial, "initial", true, "ingest the directory before watching")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", corpus.DefaultDebounce, "delay before applying a burst of changes")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := requireServices(); err != nil {
		return err
	}
	ctx := cmd.Context()

	dir, err := corpus.OpenDir(args[0], services.Files)
	if err != nil {
		return err
	}
	if watchInitial {
		docs, err := corpus.LoadDir(ctx, args[0], services.Files)
		if err != nil {
			logger.Warn("Some files could not be loaded", "err", err)
		}
		if len(docs) > 0 {
			if err := services.Ingest(ctx, docs); err != nil {
				logger.Warn("Some documents could not be ingested", "err", err)
			}
		}
	}

	cmd.Printf("Watching %s\n", args[0])
	return dir.Watch(ctx, services.Engine, watchDebounce)
}

package cli

import (
	"github.com/OFFIS-RIT/triage/internal/corpus"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Ingest the built-in emergency protocols",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireServices(); err != nil {
			return err
		}
		docs, err := corpus.Seed()
		if err != nil {
			return err
		}
		if err := services.Ingest(cmd.Context(), docs); err != nil {
			return err
		}
		cmd.Printf("Seeded %d protocols\n", len(docs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

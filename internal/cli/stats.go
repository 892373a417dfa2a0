package cli

import (
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireServices(); err != nil {
			return err
		}
		stats, err := services.Engine.Stats(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("Documents:  %d\n", stats.Documents)
		cmd.Printf("Chunks:     %d\n", stats.Chunks)
		cmd.Printf("Dimensions: %d\n", stats.Dimensions)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

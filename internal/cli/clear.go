package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var clearConfirm bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every document from the knowledge base",
	Long: `Deletes all indexed chunks. Archived originals are kept, so documents
can be ingested again afterwards. Requires --yes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirm {
			return errors.New("refusing to clear the knowledge base without --yes")
		}
		if err := requireServices(); err != nil {
			return err
		}
		n, err := services.Engine.ClearIndex(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("Removed %d chunks\n", n)
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearConfirm, "yes", false, "confirm clearing the knowledge base")
	rootCmd.AddCommand(clearCmd)
}

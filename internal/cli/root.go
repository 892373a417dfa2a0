// Package cli implements triagectl, the operator command line for the
// knowledge base and for one-off classifications.
package cli

import (
	"context"
	"errors"
	"os"

	"github.com/OFFIS-RIT/triage/internal/bootstrap"
	"github.com/OFFIS-RIT/triage/internal/config"
	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/logger"
	"github.com/OFFIS-RIT/triage/pkg/logger/console"

	"github.com/spf13/cobra"
)

var (
	debug bool

	// services is opened before every subcommand and closed after it.
	services *bootstrap.Services

	// openServices builds the services; tests replace it.
	openServices = func(ctx context.Context) (*bootstrap.Services, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return bootstrap.Open(ctx, cfg)
	}
)

var rootCmd = &cobra.Command{
	Use:   "triagectl",
	Short: "Manage the emergency triage knowledge base",
	Long: `triagectl ingests protocol documents into the knowledge base, watches a
corpus directory and classifies reports from the command line. It reads the
same environment and TRIAGE_CONFIG file as the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
			Debug:  debug || util.GetEnvBool("DEBUG", false),
			Output: cmd.ErrOrStderr(),
		}))
		s, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		services = s
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if services != nil {
			services.Close()
			services = nil
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// Execute runs the command line with ctx, which should end on SIGINT.
func Execute(ctx context.Context) error {
	util.LoadEnv()
	rootCmd.SetOut(os.Stdout)
	err := rootCmd.ExecuteContext(ctx)
	if services != nil {
		services.Close()
		services = nil
	}
	return err
}

func requireServices() error {
	if services == nil {
		return errors.New("services not initialized")
	}
	return nil
}

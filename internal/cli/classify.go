package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/OFFIS-RIT/triage/internal/corpus"
	"github.com/OFFIS-RIT/triage/internal/tickets"
	"github.com/OFFIS-RIT/triage/pkg/triage"

	"github.com/spf13/cobra"
)

var (
	classifyJSON  bool
	classifySeed  bool
	classifyStore bool
	classifyFile  string
)

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Classify an emergency report",
	Long: `Runs the full pipeline on one report: retrieval of protocol context,
emergency type and urgency. Prints the reply a caller would receive, or the
full result with --json.

With --file every non-empty line of the file is classified as its own report.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if classifyFile != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "print the classification as JSON")
	classifyCmd.Flags().BoolVar(&classifySeed, "seed", false, "ingest the built-in protocols first")
	classifyCmd.Flags().BoolVar(&classifyStore, "store", false, "record the result as a ticket")
	classifyCmd.Flags().StringVarP(&classifyFile, "file", "f", "", "classify every line of this file")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	if err := requireServices(); err != nil {
		return err
	}
	ctx := cmd.Context()

	if classifySeed {
		docs, err := corpus.Seed()
		if err != nil {
			return err
		}
		if err := services.Ingest(ctx, docs); err != nil {
			return err
		}
	}

	reports := []string{strings.Join(args, " ")}
	if classifyFile != "" {
		var err error
		if reports, err = readReports(classifyFile); err != nil {
			return err
		}
	}

	results, err := services.Engine.ClassifyBatch(ctx, reports, services.Config.Queue.Concurrency)
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}
	if classifyStore {
		for i, result := range results {
			ticket, err := services.Tickets.Create(ctx, result, tickets.Reporter{Channel: "cli"})
			if err != nil {
				return fmt.Errorf("store ticket: %w", err)
			}
			results[i] = ticket.ClassificationResult
		}
	}

	if classifyJSON {
		var v any = results
		if classifyFile == "" {
			v = results[0]
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	if classifyFile == "" {
		cmd.Println(triage.Reply(results[0]))
		return nil
	}
	for i, result := range results {
		cmd.Printf("Report %d: %s\n", i+1, result.SourceReport)
		cmd.Println(triage.Reply(result))
		cmd.Println()
	}
	cmd.Printf("Classified %d reports\n", len(results))
	return nil
}

func readReports(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reports: %w", err)
	}
	defer f.Close()

	var reports []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			reports = append(reports, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read reports: %w", err)
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("%s contains no reports", path)
	}
	return reports, nil
}

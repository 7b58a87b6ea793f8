package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/book-expert/vocu-service/internal/vocu"
)

var historySize int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent generations",
	Long: `Shows recent generations, newest first. --size is rounded down to whole
pages of 20 records and capped at 5 pages.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historySize, "size", "n", vocu.HistoryPageSize, "Approximate number of records to fetch")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	stack, cleanup, err := openStack(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := stack.Client.FetchMultiPage(cmd.Context(), historySize)
	if err != nil {
		return err
	}

	for _, record := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n", record)
	}

	return nil
}

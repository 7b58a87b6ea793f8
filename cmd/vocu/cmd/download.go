package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download <url>...",
	Short: "Fetch audio URLs into the local cache",
	Long: `Downloads each URL into the audio cache and prints the local path.
URLs already cached are not fetched again.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	stack, cleanup, err := openStack(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var lastErr error

	for _, rawURL := range args {
		path, downloadErr := stack.Downloader.Download(cmd.Context(), rawURL)
		if downloadErr != nil {
			printError(cmd, downloadErr)
			lastErr = downloadErr

			continue
		}

		fmt.Fprintln(cmd.OutOrStdout(), path)
	}

	return lastErr
}

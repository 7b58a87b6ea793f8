// Package cmd implements the vocu operator CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/vocu-service/internal/config"
	"github.com/book-expert/vocu-service/internal/fsutil"
	"github.com/book-expert/vocu-service/internal/media"
	"github.com/book-expert/vocu-service/internal/speech"
)

const (
	cliLogFile      = "vocu-cli.log"
	fmtProgressLine = "%s: %s / %s\n"
	unknownSize     = "?"
)

var (
	logDir  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vocu",
	Short: "Vocu text-to-speech client",
	Long: `vocu drives the Vocu TTS service from the command line.

Configuration is read from project.toml ([vocu] section). The API key may
also come from VOCU_API_KEY and the proxy from VOCU_PROXY.

Commands:
  roles     - list, add and delete voice roles
  say       - speak text with a role and cache the audio
  history   - show recent generations
  download  - fetch an audio URL into the cache`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI until completion or an interrupt.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		printError(rootCmd, err)
	}

	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", os.TempDir(), "Directory for the CLI log file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print download progress to stderr")
}

// openStack loads the configuration and wires a speech stack. The returned
// cleanup closes the stack and the logger.
var openStack = func(cmd *cobra.Command) (*speech.Stack, func(), error) {
	log, err := logger.New(logDir, cliLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(log)
	if err != nil {
		_ = log.Close()

		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	stack, err := speech.NewStack(cfg, log, nil, downloadOptions(cmd)...)
	if err != nil {
		_ = log.Close()

		return nil, nil, err
	}

	cleanup := func() {
		_ = stack.Close()
		_ = log.Close()
	}

	return stack, cleanup, nil
}

// downloadOptions returns the downloader options implied by the global flags.
func downloadOptions(cmd *cobra.Command) []media.Option {
	if !verbose {
		return nil
	}

	out := cmd.ErrOrStderr()

	return []media.Option{media.WithProgress(func(key string, written, total int64) {
		totalText := unknownSize
		if total >= 0 {
			totalText = fsutil.FormatFileSize(total)
		}

		fmt.Fprintf(out, fmtProgressLine, key, fsutil.FormatFileSize(written), totalText)
	})}
}

func printError(cmd *cobra.Command, err error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
}

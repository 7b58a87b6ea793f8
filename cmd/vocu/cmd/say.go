package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/book-expert/vocu-service/internal/text"
)

var (
	errNothingToSay = errors.New("nothing to say")
	errTextAndFile  = errors.New("cannot combine text arguments with --file")
)

var (
	sayFile     string
	sayMaxChars int
	sayPrompt   string
)

var sayCmd = &cobra.Command{
	Use:   "say <role> [text...]",
	Short: "Speak text with a role and print the cached audio path",
	Long: `Synthesizes text with the named role and downloads the audio into the
local cache. Text comes from the arguments, from --file, or from stdin when
neither is given.

Examples:
  vocu say Alice "Hello there"
  vocu say Alice --file chapter1.txt --max-chars 300
  vocu say Alice --prompt calm "Good night"
  echo "你好" | vocu say Alice`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSay,
}

func init() {
	rootCmd.AddCommand(sayCmd)

	sayCmd.Flags().StringVarP(&sayFile, "file", "f", "", "Read the text from a file")
	sayCmd.Flags().IntVar(&sayMaxChars, "max-chars", 0, "Split long text into chunks of at most this many characters")
	sayCmd.Flags().StringVar(&sayPrompt, "prompt", "", "Prompt (speaking style) id, defaults to vocu.default_prompt_id")
}

func runSay(cmd *cobra.Command, args []string) error {
	input, err := readSayInput(cmd, args[1:])
	if err != nil {
		return err
	}

	stack, cleanup, err := openStack(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	chunks := text.Split(input, sayMaxChars)
	if len(chunks) == 0 {
		return errNothingToSay
	}

	engine := stack.Engine
	if sayPrompt != "" {
		engine = engine.WithPrompt(sayPrompt)
	}

	results, err := engine.SpeakAll(cmd.Context(), args[0], chunks)

	for i, result := range results {
		if result.FilePath == "" {
			continue
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n   %s\n", i+1, result.FilePath, result.AudioURL)
	}

	return err
}

func readSayInput(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case len(args) > 0 && sayFile != "":
		return "", errTextAndFile
	case len(args) > 0:
		return strings.Join(args, " "), nil
	case sayFile != "":
		data, err := os.ReadFile(sayFile)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", sayFile, err)
		}

		return string(data), nil
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}

		return string(data), nil
	}
}

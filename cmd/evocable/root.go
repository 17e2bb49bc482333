package main

import (
	"github.com/spf13/cobra"

	"github.com/epicrunze/evocable/internal/api"
	"github.com/epicrunze/evocable/version"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "evocable",
	Short: "Audiobook processing pipeline and streaming server",
	Long: `Evocable turns submitted documents (PDF, EPUB, plain text) into
streamable audiobooks.

The pipeline includes:
  - Text extraction from PDF, EPUB, and plain-text sources
  - Sentence-aware segmentation sized for speech synthesis
  - Speech synthesis via OpenAI TTS (or a deterministic mock)
  - Opus packaging into fixed-duration streaming chunks`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.evocable/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

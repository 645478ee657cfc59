package cmd

import (
	"log/slog"
	"os"

	"github.com/progimage/progimage/src/pkg/logging"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "progimaged",
	Short:        "Stores images, detects their real format and converts them between formats",
	SilenceUsage: true,
}

func Execute() {
	slog.SetDefault(logging.CreateLogger(logging.LevelFromEnv()))
	err := rootCmd.Execute()
	if err != nil {
		slog.Error("failed to execute command", "error", err)
		os.Exit(1)
	}
}

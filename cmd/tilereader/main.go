// Command tilereader extracts tiles from granules
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

const envLogLevel = "TILEREADER_LOG_LEVEL"

var (
	logLevel string
	logger   hclog.Logger = hclog.NewNullLogger()
)

var rootCmd = &cobra.Command{
	Use:           "tilereader",
	Short:         "Extract tiles from gridded, swath and time series granules",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logLevel
		if level == "" {
			level = os.Getenv(envLogLevel)
		}
		if level == "" {
			level = "warn"
		}
		lvl := hclog.LevelFromString(level)
		if lvl == hclog.NoLevel {
			return fmt.Errorf("unknown log level %q", level)
		}
		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "tilereader",
			Level:  lvl,
			Output: cmd.ErrOrStderr(),
		})
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", fmt.Sprintf("log level: trace, debug, info, warn or error (default $%s, then warn)", envLogLevel))
	rootCmd.AddCommand(readCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}

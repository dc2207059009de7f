// Command querycache inspects and maintains a query result cache and
// serves its admin HTTP surface.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "querycache",
		Short:         "Exact and semantic cache for natural-language query results",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if f.envFile == "" {
				return nil
			}
			// Variables already in the environment win over the file.
			if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", f.envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", os.Getenv("QUERYCACHE_CONFIG"), "path to config file (env QUERYCACHE_CONFIG)")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "dotenv file to load before reading config; empty to skip")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newStatsCmd(f),
		newLookupCmd(f),
		newPutCmd(f),
		newSimilarCmd(f),
		newInvalidateCmd(f),
		newClearCmd(f),
		newSweepCmd(f),
		newScrubCmd(f),
		newServeCmd(f),
	)
	return root
}

package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "inferperf",
	Short: "inferperf measures inference server throughput and latency under load",
	Long: `inferperf drives synthetic load against a KServe-v2-shaped inference
server and reports throughput/latency at one or many concurrency levels.

It can run a single fixed-concurrency measurement, sweep concurrency
upward until a latency ceiling is reached, or host a synthetic mock
inference server to exercise against.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (yaml/json/toml); env vars and defaults apply if omitted")
}

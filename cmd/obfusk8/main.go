// obfusk8 - build-time code protection
// Protects annotated Go functions with string encryption, MBA, control-flow
// flattening and a per-build virtual machine.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/obfusk8/obfusk8/internal/config"
)

var (
	version = "0.1.0-dev"

	// CLI flags
	configFile  string
	seed        uint64
	profile     string
	outputFile  string
	reportFile  string
	metricsFile string
	workers     int
	format      string
	enableTUI   bool
	verbose     bool
	quiet       bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "obfusk8",
		Short: "obfusk8 - build-time code protection",
		Long: `obfusk8 protects functions marked //obf:protect at build time.

Profiles:
  light   entry wrapper only
  medium  + string encryption
  heavy   + MBA arithmetic, control-flow labyrinth, bytecode VM`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(protectCmd(), runCmd(), inspectCmd(), watchCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "obfusk8 version %s\n", version)
		},
	})
	return rootCmd
}

// buildFlags registers the flags shared by protect and watch
func buildFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Obfuscation seed (default from config)")
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Profile for regions without one: light, medium, heavy")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Bundle path (default <input>.obk8)")
	cmd.Flags().StringVar(&reportFile, "report", "", "Write a build report (.json, .yaml, .html, .md)")
	cmd.Flags().StringVar(&metricsFile, "metrics", "", "Write Prometheus metrics to this file")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Regions protected in parallel (default one per CPU)")
	cmd.Flags().StringVar(&format, "format", "", "Summary format: text, json, yaml")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print nothing on success")
}

// loadConfig reads the config file and applies the flags that were set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Build.Seed = seed
	}
	if flags.Changed("profile") {
		cfg.Build.Profile = profile
	}
	if flags.Changed("output") {
		cfg.Output.OutputFile = outputFile
	}
	if flags.Changed("report") {
		cfg.Output.ReportFile = reportFile
	}
	if flags.Changed("metrics") {
		cfg.Output.MetricsFile = metricsFile
	}
	if flags.Changed("workers") {
		cfg.Worker.Workers = workers
	}
	if flags.Changed("format") {
		cfg.Output.Format = format
	}
	if flags.Changed("tui") {
		cfg.Output.EnableTUI = enableTUI
	}
	if flags.Changed("quiet") {
		cfg.Output.QuietMode = quiet
	}
	if verbose {
		cfg.Output.Verbose = true
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

// Package cmd implements the vulnlsp command line: the language server, the HTTP API and the
// one-shot manifest scan.
package cmd

import (
	"fmt"
	"os"

	"github.com/ortelius/vulnlsp/config"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

var (
	configFile  string
	backendKind string
	directOnly  bool
	logLevel    string
)

// rootCmd represents the base command; without a subcommand it serves the LSP over stdio
var rootCmd = &cobra.Command{
	Use:   "vulnlsp",
	Short: "Vulnerability diagnostics for Cargo and Maven manifests",
	Long: `A language server that reports known vulnerabilities of the dependencies
declared in Cargo.toml and pom.xml files, including those pulled in transitively.
It also runs as an HTTP API or scans a single manifest from the command line.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("VULNLSP_CONFIG"), "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&backendKind, "backend", "", "Vulnerability backend (dummy, ossindex, sonatype, osv, arango)")
	rootCmd.PersistentFlags().BoolVar(&directOnly, "direct-only", false, "Skip the build tool and check declared dependencies only")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

// loadConfig reads the config file and environment, then applies the command line flags
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend.Kind = backendKind
	}
	if flags.Changed("direct-only") {
		cfg.DirectOnly = directOnly
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}

	return cfg, cfg.Validate()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

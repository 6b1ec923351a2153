package cmd

import (
	"github.com/ortelius/vulnlsp/lsp"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the language server over stdio",
	Long: `Runs the language server on stdin/stdout. Diagnostics are published for every
Cargo.toml and pom.xml the editor opens; logs go to stderr or the configured log file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.logger.Sync() //nolint:errcheck

	return lsp.NewServer(a.engine, a.logger, Version).RunStdio()
}

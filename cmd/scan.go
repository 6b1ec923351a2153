package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ortelius/vulnlsp/engine"
	"github.com/ortelius/vulnlsp/model"
	"github.com/ortelius/vulnlsp/parser"
	"github.com/ortelius/vulnlsp/report"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	scanFormat string
	failOn     string
)

// ErrThresholdExceeded is returned by scan when a finding reaches the --fail-on severity
var ErrThresholdExceeded = errors.New("vulnerabilities at or above the failure threshold")

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [manifest]",
	Short: "Scan one Cargo.toml or pom.xml and print its findings",
	Long: `Runs the build tool for the manifest (unless --direct-only), looks up the
vulnerabilities of every resolved package and prints one finding per vulnerable
direct dependency.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", string(report.FormatTable), "Output format (table, json, cyclonedx)")
	scanCmd.Flags().StringVar(&failOn, "fail-on", "none", "Exit non-zero when a finding is at or above this severity")
}

func runScan(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(scanFormat)
	if err != nil {
		return err
	}
	threshold, err := model.ParseSeverity(failOn)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.logger.Sync() //nolint:errcheck

	return scan(cmd.Context(), a.engine, a.logger, args[0], format, threshold, cmd.OutOrStdout())
}

// scan analyses the manifest at path and writes the report to out
func scan(ctx context.Context, e *engine.Engine, logger *zap.Logger, path string, format report.Format, threshold model.Severity, out io.Writer) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	uri := "file://" + filepath.ToSlash(abs)

	if !e.CanHandle(uri) {
		return fmt.Errorf("%w: %s", parser.ErrNoParserFound, path)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	findings, err := e.Update(ctx, uri, string(content))
	parsed, ok := e.Parsed(uri)
	if !ok {
		return err
	}
	if err != nil {
		// the cached part of the lookup is still reported
		logger.Warn("Vulnerability lookup incomplete", zap.String("manifest", path), zap.Error(err))
	}

	return writeScan(out, format, threshold, report.Document{URI: uri, Parsed: parsed, Findings: findings})
}

func writeScan(out io.Writer, format report.Format, threshold model.Severity, doc report.Document) error {
	if err := report.Write(out, format, doc); err != nil {
		return err
	}
	if report.Exceeds(doc.Findings, threshold) {
		return fmt.Errorf("%w (%s)", ErrThresholdExceeded, threshold)
	}
	return nil
}

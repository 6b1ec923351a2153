package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ortelius/vulnlsp/api"
	gqlschema "github.com/ortelius/vulnlsp/graphql"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var accessLog bool

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP API",
	Long: `Serves document analysis, package lookups, the GraphQL schema and Prometheus
metrics over HTTP on the configured port.`,
	Args: cobra.NoArgs,
	RunE: runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
	apiCmd.Flags().BoolVar(&accessLog, "access-log", true, "Log every HTTP request")
}

func runAPI(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.logger.Sync() //nolint:errcheck

	gqlschema.InitEngine(a.engine)
	schema, err := gqlschema.CreateSchema()
	if err != nil {
		return fmt.Errorf("failed to create GraphQL schema: %w", err)
	}

	server := api.New(a.engine, schema, a.registry, a.logger, accessLog)

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(); err != nil {
			a.logger.Error("Failed to shut down server", zap.Error(err))
		}
	}()

	a.logger.Info("Starting server", zap.String("port", cfg.API.Port))
	a.logger.Info("GraphQL endpoint available at /api/v1/graphql")
	if err := server.Listen(":" + cfg.API.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

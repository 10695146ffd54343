package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anungis437/nzila-automation-sub010/internal/mcpbridge"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve lifecycled operations as MCP tools over stdio",
	Long: `mcp runs a Model Context Protocol server on stdin/stdout. Every tool
call is made against --server with the configured bearer token, so the
host acts with that actor's role and entity. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		cfg := zap.NewProductionConfig()
		cfg.OutputPaths = []string{"stderr"}
		logger, err := cfg.Build()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		srv := mcpbridge.NewServer(os.Stdout, mcpbridge.NewToolRegistry(c), logger)
		srv.SetVersion(version)
		logger.Info("mcp bridge ready", zap.String("server", serverURL))
		return srv.Serve(cmd.Context(), os.Stdin)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

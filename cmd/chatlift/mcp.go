package main

import (
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/hurttlocker/chatlift/internal/canonical"
	"github.com/hurttlocker/chatlift/internal/config"
	"github.com/hurttlocker/chatlift/internal/mcp"
	"github.com/hurttlocker/chatlift/internal/telemetry"
)

func newMCPCmd(a *app) *cobra.Command {
	var rawIDs bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve extraction tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.resolve(config.ResolveOptions{})
			if err != nil {
				return err
			}
			provider, err := telemetry.NewProvider()
			if err != nil {
				return err
			}
			defer provider.Shutdown(cmd.Context())

			sc := mcp.ServerConfig{
				Version:         version,
				DBPath:          cfg.DBPath.Value,
				AttachmentRoots: []string{cfg.AttachmentRoot.Value},
				BackupPassword:  cfg.BackupPassword.Value,
				Logger:          logger,
				Metrics:         provider.Metrics,
			}
			if !rawIDs {
				salt, err := config.LoadOrCreateSalt(cfg.SaltFile.Value)
				if err != nil {
					return fmt.Errorf("loading salt: %w", err)
				}
				sc.Pseudonymizer = canonical.NewPseudonymizer(salt)
			}

			logger.Info("mcp server starting", "transport", "stdio", "version", version)
			return server.ServeStdio(mcp.NewServer(sc))
		},
	}
	cmd.Flags().BoolVar(&rawIDs, "raw-ids", false, "emit lowercased handles instead of salted sender ids")
	return cmd
}

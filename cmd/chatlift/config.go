package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/chatlift/internal/canonical"
	"github.com/hurttlocker/chatlift/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration and where each value came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.resolve(config.ResolveOptions{})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a, cfg)
			}

			fmt.Fprintf(a.stdout, "Config file: %s\n\n", cfg.ConfigPath)
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
			for _, kv := range []struct {
				key string
				v   config.ResolvedValue
			}{
				{"out_dir", cfg.OutDir},
				{"db_path", cfg.DBPath},
				{"attachments_dir", cfg.AttachmentRoot},
				{"backup_dir", cfg.BackupDir},
				{"transcribe", cfg.Transcribe},
				{"whisper_models", cfg.WhisperModels},
				{"whisper_model", cfg.WhisperModel},
				{"log_level", cfg.LogLevel},
				{"salt_file", cfg.SaltFile},
			} {
				source := string(kv.v.Source)
				if kv.v.From != "" {
					source += " (" + kv.v.From + ")"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", kv.key, kv.v.Value, source)
			}
			if cfg.BackupPassword.Value != "" {
				fmt.Fprintf(tw, "backup_password\t[set]\t%s\n", cfg.BackupPassword.Source)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of a canonical message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(a.stdout, string(canonical.SchemaJSON()))
			return nil
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hurttlocker/chatlift/internal/backup"
	"github.com/hurttlocker/chatlift/internal/config"
)

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Inspect iPhone backups",
	}
	cmd.AddCommand(newBackupListCmd(a), newBackupInfoCmd(a), newBackupResolveCmd(a))
	return cmd
}

func newBackupListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list [root]",
		Short: "List backups under a MobileSync directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := backup.DefaultLocation
			if len(args) == 1 {
				root = args[0]
			}
			root = config.ExpandUserPath(root)

			entries, err := os.ReadDir(root)
			if err != nil {
				return fmt.Errorf("reading backup root: %w", err)
			}
			type row struct {
				Dir       string `json:"dir"`
				Encrypted bool   `json:"encrypted"`
				Modified  string `json:"modified"`
			}
			var rows []row
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				dir := filepath.Join(root, e.Name())
				info, err := os.Stat(filepath.Join(dir, backup.ManifestDB))
				if err != nil {
					continue
				}
				rows = append(rows, row{
					Dir:       dir,
					Encrypted: backup.IsEncrypted(dir),
					Modified:  info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
				})
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].Modified > rows[j].Modified })

			if asJSON {
				return writeJSON(a, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintf(a.stdout, "No backups found under %s\n", root)
				return nil
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BACKUP\tENCRYPTED\tMODIFIED")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%v\t%s\n", r.Dir, r.Encrypted, r.Modified)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newBackupInfoCmd(a *app) *cobra.Command {
	var (
		asJSON   bool
		limit    int
		password string
	)
	cmd := &cobra.Command{
		Use:   "info <backup-dir>",
		Short: "Show encryption state and manifest domains of a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.resolve(config.ResolveOptions{CLIBackupPassword: password})
			if err != nil {
				return err
			}
			bk, err := backup.Open(args[0], cfg.BackupPassword.Value)
			if err != nil {
				return err
			}
			defer bk.Close()

			ctx := cmd.Context()
			domains, err := bk.ListDomains(ctx, limit)
			if err != nil {
				return err
			}
			_, smsErr := bk.FileID(ctx, backup.HomeDomain, backup.SMSDBPath)

			if asJSON {
				return writeJSON(a, map[string]any{
					"dir":        bk.Dir,
					"encrypted":  bk.Encrypted,
					"has_sms_db": smsErr == nil,
					"domains":    domains,
				})
			}
			fmt.Fprintf(a.stdout, "Backup:     %s\n", bk.Dir)
			fmt.Fprintf(a.stdout, "Encrypted:  %v\n", bk.Encrypted)
			fmt.Fprintf(a.stdout, "Has sms.db: %v\n", smsErr == nil)
			fmt.Fprintln(a.stdout, "Domains:")
			for _, d := range domains {
				fmt.Fprintf(a.stdout, "  %-40s %s files\n", d.Domain, humanize.Comma(int64(d.Files)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of domains listed")
	cmd.Flags().StringVar(&password, "backup-password", "", "password for an encrypted backup")
	return cmd
}

func newBackupResolveCmd(a *app) *cobra.Command {
	var (
		asJSON   bool
		domain   string
		password string
	)
	cmd := &cobra.Command{
		Use:   "resolve <backup-dir> <relative-path>",
		Short: "Map a domain-relative path to the physical file in a backup",
		Example: `  chatlift backup resolve ~/Backups/00008030-001 Library/SMS/sms.db
  chatlift backup resolve ~/Backups/00008030-001 Library/SMS/Attachments/ab/IMG_0001.HEIC --domain MediaDomain`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.resolve(config.ResolveOptions{CLIBackupPassword: password})
			if err != nil {
				return err
			}
			bk, err := backup.Open(args[0], cfg.BackupPassword.Value)
			if err != nil {
				return err
			}
			defer bk.Close()

			ctx := cmd.Context()
			path, err := bk.ResolveFile(ctx, domain, args[1])
			if err != nil {
				return err
			}
			if asJSON {
				fileID, _ := bk.FileID(ctx, domain, args[1])
				return writeJSON(a, map[string]string{
					"domain":        domain,
					"relative_path": args[1],
					"file_id":       fileID,
					"path":          path,
				})
			}
			fmt.Fprintln(a.stdout, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().StringVar(&domain, "domain", backup.HomeDomain, "backup domain")
	cmd.Flags().StringVar(&password, "backup-password", "", "password for an encrypted backup")
	return cmd
}

func writeJSON(a *app, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, string(data))
	return nil
}

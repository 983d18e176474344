package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/chatlift/internal/canonical"
	"github.com/hurttlocker/chatlift/internal/config"
	"github.com/hurttlocker/chatlift/internal/imessage"
	"github.com/hurttlocker/chatlift/internal/observe"
	"github.com/hurttlocker/chatlift/internal/store"
	"github.com/hurttlocker/chatlift/internal/telemetry"
	"github.com/hurttlocker/chatlift/internal/transcribe"
)

type extractFlags struct {
	db             string
	backup         string
	backupPassword string
	contact        string
	out            string

	attachments    bool
	attachmentsDir string
	copy           bool
	thumbnails     bool
	maxThumbnail   int

	transcribe    bool
	engine        string
	whisperModels string

	names      string
	rawIDs     bool
	noValidate bool
}

func newExtractCmd(a *app) *cobra.Command {
	var f extractFlags

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a conversation into messages.jsonl",
		Long: `Extract reads chat.db (or sms.db from an iPhone backup) and writes the selected
conversation to <out>/messages.jsonl along with manifest.json, run_report.json,
missing_attachments.json and an appended metrics.jsonl line.`,
		Example: `  chatlift extract --contact +15551234567 --attachments --out ./case-42
  chatlift extract --backup ~/Backups/00008030-001 --contact "Book Club" --thumbnails`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExtract(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.db, "db", "", "path to chat.db (default ~/Library/Messages/chat.db)")
	cmd.Flags().StringVar(&f.backup, "backup", "", "read sms.db and attachments from this iPhone backup directory")
	cmd.Flags().StringVar(&f.backupPassword, "backup-password", "", "password for an encrypted backup (prefer CHATLIFT_BACKUP_PASSWORD)")
	cmd.Flags().StringVar(&f.contact, "contact", "", "phone number, email address or chat name (empty selects all conversations)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output directory")
	cmd.Flags().BoolVar(&f.attachments, "attachments", false, "include attachment metadata")
	cmd.Flags().StringVar(&f.attachmentsDir, "attachments-dir", "", "directory searched for attachment binaries")
	cmd.Flags().BoolVar(&f.copy, "copy", true, "copy attachment binaries into the content-addressed store")
	cmd.Flags().BoolVar(&f.thumbnails, "thumbnails", false, "generate thumbnails for images")
	cmd.Flags().IntVar(&f.maxThumbnail, "max-thumbnail", 0, "longest thumbnail edge in pixels")
	cmd.Flags().BoolVar(&f.transcribe, "transcribe", false, "transcribe audio attachments locally")
	cmd.Flags().StringVar(&f.engine, "engine", "", "transcription engine: auto, fast, classic, mock or none")
	cmd.Flags().StringVar(&f.whisperModels, "whisper-models", "", "directory holding whisper models")
	cmd.Flags().StringVar(&f.names, "names", "", "YAML file mapping handles to display names")
	cmd.Flags().BoolVar(&f.rawIDs, "raw-ids", false, "emit lowercased handles instead of salted sender ids")
	cmd.Flags().BoolVar(&f.noValidate, "no-validate", false, "skip JSON Schema validation of emitted messages")

	return cmd
}

func (a *app) runExtract(ctx context.Context, f extractFlags) error {
	cfg, logger, err := a.resolve(config.ResolveOptions{
		CLIOut:            f.out,
		CLIDBPath:         f.db,
		CLIAttachments:    f.attachmentsDir,
		CLIBackup:         f.backup,
		CLIBackupPassword: f.backupPassword,
		CLITranscribe:     f.engine,
		CLIWhisperModels:  f.whisperModels,
	})
	if err != nil {
		return err
	}

	provider, err := telemetry.NewProvider()
	if err != nil {
		return err
	}
	defer provider.Shutdown(context.Background())

	opts := imessage.Options{
		DBPath:             cfg.DBPath.Value,
		Contact:            f.contact,
		IncludeAttachments: f.attachments,
		CopyBinaries:       f.attachments && f.copy,
		Thumbnails:         f.thumbnails,
		MaxThumbnail:       f.maxThumbnail,
		OutDir:             cfg.OutDir.Value,
		BackupDir:          cfg.BackupDir.Value,
		BackupPassword:     cfg.BackupPassword.Value,
		AttachmentRoots:    []string{cfg.AttachmentRoot.Value},
		Logger:             logger,
		Metrics:            provider.Metrics,
		ValidateOutput:     !f.noValidate,
	}

	if !f.rawIDs {
		salt, err := config.LoadOrCreateSalt(cfg.SaltFile.Value)
		if err != nil {
			return fmt.Errorf("loading salt: %w", err)
		}
		opts.Pseudonymizer = canonical.NewPseudonymizer(salt)
	}

	if f.names != "" {
		names, err := loadDisplayNames(f.names)
		if err != nil {
			return err
		}
		opts.DisplayNames = names
	}

	engine := strings.ToLower(cfg.Transcribe.Value)
	if f.transcribe && (engine == "" || engine == transcribe.EngineNone) {
		engine = transcribe.EngineAuto
	}
	if engine != transcribe.EngineNone {
		t, err := transcribe.Select(engine, transcribe.Options{
			ModelDir: cfg.WhisperModels.Value,
			Model:    cfg.WhisperModel.Value,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		opts.Transcriber = t
		opts.TranscribeAudio = t != nil
	}

	logger.Info("extraction starting",
		slog.String("source", sourceLabel(cfg)),
		slog.String("contact", f.contact),
		slog.String("out", cfg.OutDir.Value),
	)

	var catalog *store.Catalog
	if opts.CopyBinaries || opts.Thumbnails {
		catalog, err = store.OpenCatalog(filepath.Join(cfg.OutDir.Value, store.CatalogFile))
		if err != nil {
			return err
		}
		defer catalog.Close()
		if opts.Index, err = catalog.LoadIndex(ctx); err != nil {
			return err
		}
	}

	e, err := imessage.ExtractMessages(ctx, opts)
	if err != nil {
		return err
	}
	defer e.Close()

	run := observe.NewRun(cfg.OutDir.Value, version)
	if catalog != nil {
		run.AddArtifact("catalog", filepath.Join(cfg.OutDir.Value, store.CatalogFile))
	}
	run.Options = map[string]any{
		"contact":     f.contact,
		"attachments": opts.IncludeAttachments,
		"copy":        opts.CopyBinaries,
		"thumbnails":  opts.Thumbnails,
		"transcribe":  opts.TranscribeAudio,
		"raw_ids":     f.rawIDs,
	}
	report, err := observe.Export(ctx, e, run, observe.ExportOptions{Snapshot: provider.Snapshot})
	if err != nil {
		return err
	}
	if catalog != nil {
		added, err := catalog.Record(ctx, run.ID, e.Index())
		if err != nil {
			return err
		}
		logger.Debug("catalog updated", slog.Int("blobs_added", added))
	}

	fmt.Fprint(a.stdout, observe.FormatRunReport(report))
	return nil
}

func sourceLabel(cfg config.ResolvedConfig) string {
	if cfg.BackupDir.Value != "" {
		return cfg.BackupDir.Value
	}
	return cfg.DBPath.Value
}

// loadDisplayNames reads a flat YAML map of handle to display name.
func loadDisplayNames(path string) (map[string]string, error) {
	data, err := os.ReadFile(config.ExpandUserPath(path))
	if err != nil {
		return nil, fmt.Errorf("reading names file: %w", err)
	}
	var names map[string]string
	if err := yaml.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parsing names file %s: %w", path, err)
	}
	return names, nil
}

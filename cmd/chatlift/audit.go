package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hurttlocker/chatlift/internal/canonical"
	"github.com/hurttlocker/chatlift/internal/observe"
	"github.com/hurttlocker/chatlift/internal/store"
)

func newAuditCmd(a *app) *cobra.Command {
	var (
		asJSON  bool
		write   bool
		catalog string
		vacuum  bool
	)
	cmd := &cobra.Command{
		Use:   "audit <messages.jsonl>",
		Short: "Summarize an extraction and list attachments missing on disk",
		Long: `Audit reads a messages.jsonl produced by extract, prints message statistics and
re-checks every attachment against the filesystem. With --write the missing
attachment report is written next to the input file.

When a content store catalog (store.db) sits next to the input, or --catalog
names one, audit also reports which run first stored each attachment.
--vacuum compacts that catalog afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			msgs, err := canonical.ReadJSONL(f)
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			now := time.Now()
			stats := observe.Summarize(msgs, now)
			missing := observe.BuildMissingReport(msgs, now)

			if catalog == "" {
				catalog = filepath.Join(filepath.Dir(args[0]), store.CatalogFile)
			} else if info, err := os.Stat(catalog); err == nil && info.IsDir() {
				catalog = filepath.Join(catalog, store.CatalogFile)
			}
			cat, err := auditCatalog(cmd.Context(), catalog, msgs, vacuum)
			if err != nil {
				return err
			}

			if write {
				path, err := observe.WriteMissingReport(filepath.Dir(args[0]), missing)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stderr, "wrote %s\n", path)
			}

			if asJSON {
				out := map[string]any{
					"stats":   stats,
					"missing": missing,
				}
				if cat != nil {
					out["catalog"] = cat
				}
				return writeJSON(a, out)
			}
			fmt.Fprint(a.stdout, observe.FormatStats(stats))
			if cat != nil {
				fmt.Fprint(a.stdout, cat.format())
			}
			if missing.TotalMissing > 0 {
				fmt.Fprintf(a.stdout, "\nMissing attachments by conversation:\n")
				for _, c := range missing.Conversations {
					fmt.Fprintf(a.stdout, "  %-48s %d\n", c.ConvID, c.Count)
				}
				fmt.Fprintf(a.stdout, "\nTo recover them:\n")
				for i, step := range missing.RemediationSteps {
					fmt.Fprintf(a.stdout, "  %d. %s\n", i+1, step)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&write, "write", false, "write missing_attachments.json next to the input")
	cmd.Flags().StringVar(&catalog, "catalog", "", "catalog file or output directory (default: store.db next to the input)")
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "compact the catalog after auditing it")
	return cmd
}

// catalogAudit is the catalog section of an audit.
type catalogAudit struct {
	Path string `json:"path"`
	*store.CatalogStats
	// Provenance maps each attachment hash in the input to the run that
	// first stored it.
	Provenance map[string]string `json:"provenance"`
	Unrecorded int               `json:"unrecorded"`
	Vacuumed   bool              `json:"vacuumed,omitempty"`
}

// auditCatalog opens the catalog at path and attributes the hashed
// attachments in msgs to runs. A missing catalog yields nil.
func auditCatalog(ctx context.Context, path string, msgs []*canonical.Message, vacuum bool) (*catalogAudit, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !vacuum {
			return nil, nil
		}
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	c, err := store.OpenCatalog(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	out := &catalogAudit{Path: path, Provenance: make(map[string]string)}
	for _, m := range msgs {
		for _, att := range m.Attachments {
			if att.SHA256 == "" {
				continue
			}
			if _, seen := out.Provenance[att.SHA256]; seen {
				continue
			}
			run, err := c.RunOf(ctx, att.SHA256)
			if err != nil {
				return nil, fmt.Errorf("looking up %s: %w", att.SHA256, err)
			}
			if run == "" {
				out.Unrecorded++
			}
			out.Provenance[att.SHA256] = run
		}
	}

	if vacuum {
		if err := c.Vacuum(ctx); err != nil {
			return nil, fmt.Errorf("vacuuming catalog: %w", err)
		}
		out.Vacuumed = true
	}
	if out.CatalogStats, err = c.Stats(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *catalogAudit) format() string {
	s := fmt.Sprintf("\nCatalog:        %s blobs, %s, %s runs\n",
		humanize.Comma(int64(c.Blobs)), humanize.Bytes(uint64(c.Bytes)), humanize.Comma(int64(c.Runs)))

	byRun := make(map[string]int)
	for _, run := range c.Provenance {
		if run != "" {
			byRun[run]++
		}
	}
	runs := make([]string, 0, len(byRun))
	for run := range byRun {
		runs = append(runs, run)
	}
	sort.Strings(runs)
	for _, run := range runs {
		s += fmt.Sprintf("  stored by %-36s %d\n", run, byRun[run])
	}
	if c.Unrecorded > 0 {
		s += fmt.Sprintf("  not in catalog %31d\n", c.Unrecorded)
	}
	if c.Vacuumed {
		s += "  vacuumed\n"
	}
	return s
}

package observe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hurttlocker/chatlift/internal/canonical"
	"github.com/hurttlocker/chatlift/internal/imessage"
)

// ExportOptions tunes Export.
type ExportOptions struct {
	// Snapshot supplies metric totals for run_report.json and metrics.jsonl.
	Snapshot func(context.Context) (map[string]float64, error)

	// OnMessage sees each message after it has been written.
	OnMessage func(*canonical.Message)
}

// Export drains e into run.Dir/messages.jsonl, audits attachments as they
// pass and then writes the remaining run artifacts.
func Export(ctx context.Context, e *imessage.Extraction, run *Run, opts ExportOptions) (*RunReport, error) {
	if err := os.MkdirAll(run.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(run.Dir, MessagesFile)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", MessagesFile, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	audit := NewMissingAudit()
	batch := make([]*canonical.Message, 1)
	for m, err := range e.Messages(ctx) {
		if err != nil {
			return nil, err
		}
		batch[0] = m
		if err := canonical.WriteJSONL(w, batch); err != nil {
			return nil, fmt.Errorf("writing %s: %w", MessagesFile, err)
		}
		audit.Add(m)
		if opts.OnMessage != nil {
			opts.OnMessage(m)
		}
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("writing %s: %w", MessagesFile, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("writing %s: %w", MessagesFile, err)
	}
	run.AddArtifact("messages", path)

	var metrics map[string]float64
	if opts.Snapshot != nil {
		metrics, err = opts.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("collecting metrics: %w", err)
		}
	}
	return run.Finish(e.Report(), audit.Report(time.Now()), metrics)
}

package observe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/hurttlocker/chatlift/internal/canonical"
	"github.com/hurttlocker/chatlift/internal/imessage"
)

// Artifact file names under the output directory.
const (
	MessagesFile  = "messages.jsonl"
	ManifestFile  = "manifest.json"
	RunReportFile = "run_report.json"
	MetricsFile   = "metrics.jsonl"
)

// ToolName identifies chatlift in manifests.
const ToolName = "chatlift"

// Manifest records the provenance of one run.
type Manifest struct {
	RunID         string             `json:"run_id"`
	Tool          string             `json:"tool"`
	ToolVersion   string             `json:"tool_version"`
	SchemaVersion string             `json:"schema_version"`
	Platform      canonical.Platform `json:"platform"`
	InputPath     string             `json:"input_path"`
	InputSHA256   string             `json:"input_sha256"`
	CreatedAt     time.Time          `json:"created_at"`
	Options       map[string]any     `json:"options,omitempty"`
	Artifacts     map[string]string  `json:"artifacts"`
}

// RunReport is the report of one run as written to run_report.json.
type RunReport struct {
	RunID       string `json:"run_id"`
	ToolVersion string `json:"tool_version"`
	*imessage.Report
	MessagesPerSecond float64            `json:"messages_per_second"`
	Artifacts         map[string]string  `json:"artifacts"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
}

// MetricsLine is one entry of metrics.jsonl.
type MetricsLine struct {
	Timestamp          time.Time          `json:"timestamp"`
	RunID              string             `json:"run_id"`
	Source             string             `json:"source"`
	Messages           int                `json:"messages"`
	Images             int                `json:"images"`
	AttachmentsTotal   int                `json:"attachments_total"`
	AttachmentsMissing int                `json:"attachments_missing"`
	DurationSeconds    float64            `json:"duration_seconds"`
	MessagesPerSecond  float64            `json:"messages_per_second"`
	Warnings           int                `json:"warnings"`
	Errors             int                `json:"errors"`
	Metrics            map[string]float64 `json:"metrics,omitempty"`
}

// Run writes the artifacts of one extraction into Dir.
type Run struct {
	ID      string
	Version string
	Dir     string
	Options map[string]any

	artifacts map[string]string
}

// NewRun starts a run with a fresh id.
func NewRun(dir, version string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Version:   version,
		Dir:       dir,
		artifacts: make(map[string]string),
	}
}

// AddArtifact records a file produced outside observe, such as messages.jsonl.
func (r *Run) AddArtifact(name, path string) {
	r.artifacts[name] = path
}

// Artifacts returns the recorded artifact paths.
func (r *Run) Artifacts() map[string]string {
	out := make(map[string]string, len(r.artifacts))
	for k, v := range r.artifacts {
		out[k] = v
	}
	return out
}

// Finish writes missing_attachments.json, manifest.json and run_report.json
// and appends to metrics.jsonl. rep must be finished.
func (r *Run) Finish(rep *imessage.Report, missing *MissingReport, metrics map[string]float64) (*RunReport, error) {
	if rep == nil {
		return nil, fmt.Errorf("run %s: no extraction report", r.ID)
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	path, err := WriteMissingReport(r.Dir, missing)
	if err != nil {
		return nil, err
	}
	r.artifacts["missing_attachments"] = path
	r.artifacts["manifest"] = filepath.Join(r.Dir, ManifestFile)
	r.artifacts["run_report"] = filepath.Join(r.Dir, RunReportFile)
	r.artifacts["metrics"] = filepath.Join(r.Dir, MetricsFile)

	manifest := &Manifest{
		RunID:         r.ID,
		Tool:          ToolName,
		ToolVersion:   r.Version,
		SchemaVersion: canonical.SchemaVersion,
		Platform:      canonical.PlatformIMessage,
		InputPath:     rep.Source,
		InputSHA256:   rep.InputSHA256,
		CreatedAt:     rep.StartedAt,
		Options:       r.Options,
		Artifacts:     r.Artifacts(),
	}
	if _, err := writeJSON(r.Dir, ManifestFile, manifest); err != nil {
		return nil, err
	}

	report := &RunReport{
		RunID:             r.ID,
		ToolVersion:       r.Version,
		Report:            rep,
		MessagesPerSecond: rep.MessagesPerSecond(),
		Artifacts:         r.Artifacts(),
		Metrics:           metrics,
	}
	if _, err := writeJSON(r.Dir, RunReportFile, report); err != nil {
		return nil, err
	}

	line := MetricsLine{
		Timestamp:          rep.FinishedAt,
		RunID:              r.ID,
		Source:             rep.Source,
		Messages:           rep.MessagesExtracted,
		Images:             rep.Images,
		AttachmentsTotal:   rep.AttachmentsTotal,
		AttachmentsMissing: rep.AttachmentsMissing,
		DurationSeconds:    rep.DurationSeconds,
		MessagesPerSecond:  rep.MessagesPerSecond(),
		Warnings:           len(rep.Warnings),
		Errors:             len(rep.Errors),
		Metrics:            metrics,
	}
	if err := AppendMetrics(filepath.Join(r.Dir, MetricsFile), line); err != nil {
		return nil, err
	}
	return report, nil
}

// AppendMetrics appends one JSON line to path, creating it if needed.
func AppendMetrics(path string, line MetricsLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening metrics log: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("writing metrics log: %w", err)
	}
	return f.Close()
}

// FormatRunReport renders a run summary for a terminal.
func FormatRunReport(r *RunReport) string {
	var b strings.Builder
	rep := r.Report
	fmt.Fprintf(&b, "Run %s\n", r.RunID)
	fmt.Fprintf(&b, "  Source:        %s\n", rep.Source)
	fmt.Fprintf(&b, "  Messages:      %s in %.1fs (%s/s)\n",
		humanize.Comma(int64(rep.MessagesExtracted)), rep.DurationSeconds, humanize.FormatFloat("#,###.#", r.MessagesPerSecond))
	fmt.Fprintf(&b, "  Reactions:     %s folded, %s duplicates, %s orphaned\n",
		humanize.Comma(int64(rep.ReactionsFolded)), humanize.Comma(int64(rep.ReactionDuplicates)), humanize.Comma(int64(rep.ReactionsOrphaned)))
	fmt.Fprintf(&b, "  Replies:       %s linked, %s unresolved\n",
		humanize.Comma(int64(rep.RepliesLinked)), humanize.Comma(int64(rep.RepliesUnresolved)))
	fmt.Fprintf(&b, "  Attachments:   %s total, %s found, %s missing\n",
		humanize.Comma(int64(rep.AttachmentsTotal)), humanize.Comma(int64(rep.AttachmentsFound)), humanize.Comma(int64(rep.AttachmentsMissing)))
	if rep.AttachmentsCopied+rep.AttachmentsDeduplicated > 0 {
		fmt.Fprintf(&b, "  Stored:        %s copied, %s deduplicated\n",
			humanize.Comma(int64(rep.AttachmentsCopied)), humanize.Comma(int64(rep.AttachmentsDeduplicated)))
	}
	if rep.Thumbnails > 0 {
		fmt.Fprintf(&b, "  Thumbnails:    %s\n", humanize.Comma(int64(rep.Thumbnails)))
	}
	if rep.Transcriptions+rep.TranscriptionsUnavailable > 0 {
		fmt.Fprintf(&b, "  Transcribed:   %s (%s unavailable)\n",
			humanize.Comma(int64(rep.Transcriptions)), humanize.Comma(int64(rep.TranscriptionsUnavailable)))
	}
	fmt.Fprintf(&b, "  Warnings:      %d\n", len(rep.Warnings))
	fmt.Fprintf(&b, "  Errors:        %d\n", len(rep.Errors))
	if p := r.Artifacts["missing_attachments"]; p != "" && rep.AttachmentsMissing > 0 {
		fmt.Fprintf(&b, "  See %s to recover missing attachments.\n", p)
	}
	return b.String()
}

// writeJSON writes v as indented JSON to dir/name through a temporary file.
func writeJSON(dir, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	dest := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return dest, nil
}

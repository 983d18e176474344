package observe

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hurttlocker/chatlift/internal/canonical"
	"github.com/hurttlocker/chatlift/internal/imessage"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func msg(id, conv string, ts time.Time, atts ...canonical.Attachment) *canonical.Message {
	return &canonical.Message{
		MsgID:       id,
		ConvID:      conv,
		Platform:    canonical.PlatformIMessage,
		Timestamp:   ts,
		Sender:      "+15550100000",
		SenderID:    "p_0000",
		Text:        canonical.StringPtr("hi " + id),
		Attachments: atts,
	}
}

func presentFile(t *testing.T) *string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "present.jpg")
	if err := os.WriteFile(p, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &p
}

// --- Missing-attachment audit ---

func TestBuildMissingReport_GroupsByConversation(t *testing.T) {
	gone := filepath.Join(t.TempDir(), "deleted.mov")
	msgs := []*canonical.Message{
		msg("m1", "conv-a", now.Add(-time.Hour),
			canonical.Attachment{Type: canonical.AttachmentImage, Filename: "~/Library/Messages/Attachments/aa/IMG_1.heic"},
			canonical.Attachment{Type: canonical.AttachmentImage, Filename: "ok.jpg", AbsPath: presentFile(t)},
		),
		msg("m2", "conv-b", now.Add(-2*time.Hour),
			canonical.Attachment{Type: canonical.AttachmentVideo, Filename: "deleted.mov", AbsPath: &gone},
		),
		msg("m3", "conv-b", now.Add(-3*time.Hour),
			canonical.Attachment{Type: canonical.AttachmentAudio, Filename: "Audio Message.caf"},
		),
		msg("m4", "conv-c", now),
	}

	r := BuildMissingReport(msgs, now)
	if r.AttachmentsSeen != 4 {
		t.Errorf("expected 4 attachments seen, got %d", r.AttachmentsSeen)
	}
	if r.TotalMissing != 3 {
		t.Fatalf("expected 3 missing, got %d", r.TotalMissing)
	}
	if len(r.Conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(r.Conversations))
	}

	b := r.Conversations[0]
	if b.ConvID != "conv-b" || b.Count != 2 {
		t.Errorf("expected conv-b with 2 first, got %s with %d", b.ConvID, b.Count)
	}
	if b.Attachments[0].MsgID != "m3" {
		t.Errorf("attachments should be ordered by timestamp, got %s first", b.Attachments[0].MsgID)
	}
	if b.Attachments[1].Reason != ReasonNotOnDisk {
		t.Errorf("deleted file reason = %q", b.Attachments[1].Reason)
	}

	a := r.Conversations[1]
	if a.ConvID != "conv-a" || a.Attachments[0].Reason != ReasonNotLocated {
		t.Errorf("unexpected conv-a entry: %+v", a)
	}
	if a.Attachments[0].Filename != "IMG_1.heic" {
		t.Errorf("filename should be the base name, got %q", a.Attachments[0].Filename)
	}
	if len(r.RemediationSteps) == 0 {
		t.Error("expected remediation steps")
	}
}

func TestWriteMissingReport_AlwaysWritten(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteMissingReport(dir, BuildMissingReport(nil, now))
	if err != nil {
		t.Fatalf("WriteMissingReport failed: %v", err)
	}
	if path != filepath.Join(dir, MissingFile) {
		t.Errorf("unexpected path %s", path)
	}

	var got MissingReport
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if got.TotalMissing != 0 || got.Conversations == nil || len(got.RemediationSteps) != len(Remediation) {
		t.Errorf("unexpected empty report: %+v", got)
	}
	if !strings.Contains(string(data), `"conversations": []`) {
		t.Errorf("empty conversations should encode as []:\n%s", data)
	}

	if _, err := WriteMissingReport(dir, nil); err != nil {
		t.Errorf("nil report should still be written: %v", err)
	}
}

// --- Stats ---

func TestSummarize(t *testing.T) {
	reply := "m1"
	m1 := msg("m1", "conv-a", now.Add(-time.Hour),
		canonical.Attachment{Type: canonical.AttachmentImage, Filename: "a.jpg", AbsPath: presentFile(t), SizeBytes: 2048},
		canonical.Attachment{Type: canonical.AttachmentAudio, Filename: "v.caf", Transcription: &canonical.Transcription{Transcript: "x", Engine: "mock", Confidence: "mock"}},
	)
	m1.Reactions = []canonical.Reaction{{From: "me", Kind: "love", Timestamp: now}}
	m2 := msg("m2", "conv-a", now.Add(-3*24*time.Hour))
	m2.IsMe = true
	m2.SenderID = "me"
	m2.ReplyToMsgID = &reply
	m3 := msg("m3", "conv-b", now.Add(-90*24*time.Hour))
	m3.Text = nil

	s := Summarize([]*canonical.Message{m1, m2, m3, nil}, now)

	if s.TotalMessages != 3 || s.TotalConversations != 2 || s.TotalSenders != 2 {
		t.Errorf("counts: %+v", s)
	}
	if s.FromMe != 1 || s.WithText != 2 || s.Reactions != 1 || s.Replies != 1 {
		t.Errorf("message flags: %+v", s)
	}
	if s.Attachments != 2 || s.MissingAttachments != 1 || s.Transcriptions != 1 || s.AttachmentBytes != 2048 {
		t.Errorf("attachments: %+v", s)
	}
	if s.AttachmentsByType["image"] != 1 || s.AttachmentsByType["audio"] != 1 {
		t.Errorf("by type: %v", s.AttachmentsByType)
	}
	want := Freshness{Today: 1, ThisWeek: 1, Older: 1}
	if s.Freshness != want {
		t.Errorf("freshness = %+v, want %+v", s.Freshness, want)
	}
	if !s.FirstMessage.Equal(m3.Timestamp) || !s.LastMessage.Equal(m1.Timestamp) {
		t.Errorf("span = %v .. %v", s.FirstMessage, s.LastMessage)
	}
	if len(s.Alerts) != 1 || !strings.HasPrefix(s.Alerts[0], "attachments_mostly_missing") {
		t.Errorf("alerts = %v", s.Alerts)
	}

	out := FormatStats(s)
	for _, want := range []string{"Messages:       3", "2.0 kB", "audio", "older 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatStats missing %q:\n%s", want, out)
		}
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, now)
	if s.TotalMessages != 0 || s.FirstMessage != nil || len(s.Alerts) != 0 {
		t.Errorf("unexpected stats for empty archive: %+v", s)
	}
}

// --- Run artifacts ---

func finishedReport() *imessage.Report {
	rep := &imessage.Report{
		Source:             "/tmp/chat.db",
		InputSHA256:        strings.Repeat("ab", 32),
		StartedAt:          now,
		MessagesExtracted:  1234,
		ReactionsFolded:    3,
		AttachmentsTotal:   5,
		AttachmentsFound:   4,
		AttachmentsMissing: 1,
		Images:             2,
		Warnings:           []imessage.Issue{{MsgID: "m1", Message: "attachment not found"}},
		Errors:             []imessage.Issue{},
	}
	rep.Finish(now.Add(2 * time.Second))
	return rep
}

func TestRunFinish_WritesArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	run := NewRun(dir, "1.2.3")
	if _, err := uuid.Parse(run.ID); err != nil {
		t.Fatalf("run id %q is not a uuid: %v", run.ID, err)
	}
	run.Options = map[string]any{"contact_kind": "phone"}
	run.AddArtifact("messages", filepath.Join(dir, MessagesFile))

	rep := finishedReport()
	metrics := map[string]float64{"chatlift.messages": 1234}

	report, err := run.Finish(rep, BuildMissingReport(nil, now), metrics)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if report.MessagesPerSecond != 617 {
		t.Errorf("messages per second = %v", report.MessagesPerSecond)
	}

	var manifest Manifest
	readJSON(t, filepath.Join(dir, ManifestFile), &manifest)
	if manifest.RunID != run.ID || manifest.ToolVersion != "1.2.3" || manifest.SchemaVersion != canonical.SchemaVersion {
		t.Errorf("manifest provenance: %+v", manifest)
	}
	if manifest.InputPath != rep.Source || manifest.InputSHA256 != rep.InputSHA256 {
		t.Errorf("manifest input: %+v", manifest)
	}
	for _, name := range []string{"messages", "missing_attachments", "run_report", "metrics"} {
		if manifest.Artifacts[name] == "" {
			t.Errorf("manifest missing artifact %s", name)
		}
	}

	var flat map[string]any
	readJSON(t, filepath.Join(dir, RunReportFile), &flat)
	if flat["run_id"] != run.ID || flat["messages_extracted"] != float64(1234) || flat["images"] != float64(2) {
		t.Errorf("run report fields: %v", flat)
	}

	if _, err := os.Stat(filepath.Join(dir, MissingFile)); err != nil {
		t.Errorf("missing report not written: %v", err)
	}

	// A second run appends rather than overwrites.
	if _, err := NewRun(dir, "1.2.3").Finish(finishedReport(), nil, nil); err != nil {
		t.Fatalf("second Finish failed: %v", err)
	}
	f, err := os.Open(filepath.Join(dir, MetricsFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []MetricsLine
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l MetricsLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("bad metrics line %q: %v", sc.Text(), err)
		}
		lines = append(lines, l)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 metrics lines, got %d", len(lines))
	}
	if lines[0].Messages != 1234 || lines[0].Metrics["chatlift.messages"] != 1234 || lines[0].Warnings != 1 {
		t.Errorf("first metrics line: %+v", lines[0])
	}
	if lines[0].RunID == lines[1].RunID {
		t.Error("each run should have its own id")
	}
}

func TestRunFinish_RequiresReport(t *testing.T) {
	if _, err := NewRun(t.TempDir(), "dev").Finish(nil, nil, nil); err == nil {
		t.Error("expected error without a report")
	}
}

func TestFormatRunReport(t *testing.T) {
	r := &RunReport{
		RunID:             "run-1",
		Report:            finishedReport(),
		MessagesPerSecond: 617,
		Artifacts:         map[string]string{"missing_attachments": "/out/missing_attachments.json"},
	}
	out := FormatRunReport(r)
	for _, want := range []string{"Run run-1", "1,234 in 2.0s", "617.0/s", "1 missing", "/out/missing_attachments.json"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatRunReport missing %q:\n%s", want, out)
		}
	}
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decoding %s: %v", path, err)
	}
}

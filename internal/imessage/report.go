package imessage

import (
	"fmt"
	"time"
)

// Issue is a row-local problem. MsgID is empty for run-level notes.
type Issue struct {
	MsgID   string `json:"msg_id,omitempty"`
	Message string `json:"message"`
}

// Report accumulates counters for one extraction run. It is owned by the
// Extraction and only complete once the message sequence is exhausted.
type Report struct {
	Source       string        `json:"source"`
	InputSHA256  string        `json:"input_sha256,omitempty"`
	Contact      string        `json:"contact,omitempty"`
	ContactMatch *ContactMatch `json:"contact_match,omitempty"`

	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationSeconds float64   `json:"duration_seconds"`

	RowsRead          int `json:"rows_read"`
	MessagesExtracted int `json:"messages_extracted"`
	SystemRowsSkipped int `json:"system_rows_skipped"`
	DuplicateRows     int `json:"duplicate_rows"`

	ReactionsFolded    int `json:"reactions_folded"`
	ReactionDuplicates int `json:"reaction_duplicates"`
	ReactionsOrphaned  int `json:"reactions_orphaned"`
	RepliesLinked      int `json:"replies_linked"`
	RepliesUnresolved  int `json:"replies_unresolved"`

	AttachmentsTotal        int `json:"attachments_total"`
	AttachmentsFound        int `json:"attachments_found"`
	AttachmentsCopied       int `json:"attachments_copied"`
	AttachmentsDeduplicated int `json:"attachments_deduplicated"`
	AttachmentsMissing      int `json:"attachments_missing"`
	Images                  int `json:"images"`
	Thumbnails              int `json:"thumbnails"`

	Transcriptions            int `json:"transcriptions"`
	TranscriptionsUnavailable int `json:"transcriptions_unavailable"`

	Warnings []Issue `json:"warnings"`
	Errors   []Issue `json:"errors"`

	finished bool
}

func newReport(source, contact string, now time.Time) *Report {
	return &Report{
		Source:    source,
		Contact:   contact,
		StartedAt: now.UTC(),
		Warnings:  []Issue{},
		Errors:    []Issue{},
	}
}

// Warn records a non-fatal observation about msgID.
func (r *Report) Warn(msgID, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{MsgID: msgID, Message: fmt.Sprintf(format, args...)})
}

// Error records a row-local failure about msgID. The row is still emitted.
func (r *Report) Error(msgID, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{MsgID: msgID, Message: fmt.Sprintf(format, args...)})
}

// Finish stamps the end of the run. Later calls are ignored.
func (r *Report) Finish(now time.Time) {
	if r.finished {
		return
	}
	r.finished = true
	r.FinishedAt = now.UTC()
	r.DurationSeconds = r.FinishedAt.Sub(r.StartedAt).Seconds()
}

// Finished reports whether Finish has been called.
func (r *Report) Finished() bool { return r.finished }

// MessagesPerSecond is the extraction throughput.
func (r *Report) MessagesPerSecond() float64 {
	if r.DurationSeconds <= 0 {
		return 0
	}
	return float64(r.MessagesExtracted) / r.DurationSeconds
}

package observe

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hurttlocker/chatlift/internal/canonical"
)

// MissingFile is the audit artifact written to the output directory.
const MissingFile = "missing_attachments.json"

// Reasons an attachment counts as missing.
const (
	ReasonNotLocated = "not_located"
	ReasonNotOnDisk  = "not_on_disk"
)

// Remediation lists the steps that usually bring an attachment back. They are
// written into every report, including empty ones.
var Remediation = []string{
	"Open the Messages app on the Mac (or iPhone) that owns this conversation.",
	"Scroll to the conversation and to the date of each missing attachment.",
	"Tap or click the attachment placeholder to download it again.",
	"If placeholders do not download, enable Messages in iCloud under Settings and wait for the sync to finish.",
	"Re-run the extraction once the attachments are visible.",
}

// MissingAttachment is one attachment whose binary could not be found.
type MissingAttachment struct {
	MsgID     string                   `json:"msg_id"`
	Timestamp time.Time                `json:"timestamp"`
	Filename  string                   `json:"filename"`
	Type      canonical.AttachmentType `json:"type"`
	Reason    string                   `json:"reason"`
}

// MissingConversation groups missing attachments by conversation.
type MissingConversation struct {
	ConvID      string              `json:"conv_id"`
	Count       int                 `json:"count"`
	Attachments []MissingAttachment `json:"attachments"`
}

// MissingReport is the post-extraction attachment audit.
type MissingReport struct {
	GeneratedAt      time.Time             `json:"generated_at"`
	AttachmentsSeen  int                   `json:"attachments_seen"`
	TotalMissing     int                   `json:"total_missing"`
	Conversations    []MissingConversation `json:"conversations"`
	RemediationSteps []string              `json:"remediation_steps"`
}

// MissingAudit collects missing attachments from a message stream so callers
// can audit without holding every message.
type MissingAudit struct {
	seen   int
	byConv map[string][]MissingAttachment
}

// NewMissingAudit returns an empty audit.
func NewMissingAudit() *MissingAudit {
	return &MissingAudit{byConv: make(map[string][]MissingAttachment)}
}

// Add inspects the attachments of m.
func (a *MissingAudit) Add(m *canonical.Message) {
	if m == nil {
		return
	}
	for _, att := range m.Attachments {
		a.seen++
		reason, missing := missingReason(att)
		if !missing {
			continue
		}
		a.byConv[m.ConvID] = append(a.byConv[m.ConvID], MissingAttachment{
			MsgID:     m.MsgID,
			Timestamp: m.Timestamp.UTC(),
			Filename:  filepath.Base(att.Filename),
			Type:      att.Type,
			Reason:    reason,
		})
	}
}

// Report builds the grouped report. Conversations are ordered by missing
// count, then conv_id; attachments within a conversation by timestamp.
func (a *MissingAudit) Report(now time.Time) *MissingReport {
	r := &MissingReport{
		GeneratedAt:      now.UTC(),
		AttachmentsSeen:  a.seen,
		Conversations:    make([]MissingConversation, 0, len(a.byConv)),
		RemediationSteps: Remediation,
	}
	for conv, list := range a.byConv {
		sorted := make([]MissingAttachment, len(list))
		copy(sorted, list)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
		r.Conversations = append(r.Conversations, MissingConversation{ConvID: conv, Count: len(sorted), Attachments: sorted})
		r.TotalMissing += len(sorted)
	}
	sort.Slice(r.Conversations, func(i, j int) bool {
		ci, cj := r.Conversations[i], r.Conversations[j]
		if ci.Count != cj.Count {
			return ci.Count > cj.Count
		}
		return ci.ConvID < cj.ConvID
	})
	return r
}

// BuildMissingReport audits a completed extraction.
func BuildMissingReport(msgs []*canonical.Message, now time.Time) *MissingReport {
	a := NewMissingAudit()
	for _, m := range msgs {
		a.Add(m)
	}
	return a.Report(now)
}

// WriteMissingReport writes r to dir/missing_attachments.json and returns the
// path. A nil report is written as an empty one.
func WriteMissingReport(dir string, r *MissingReport) (string, error) {
	if r == nil {
		r = NewMissingAudit().Report(time.Now())
	}
	return writeJSON(dir, MissingFile, r)
}

// missingReason checks the resolved path against the filesystem, so a file
// deleted after extraction is still reported.
func missingReason(a canonical.Attachment) (string, bool) {
	if a.AbsPath == nil || *a.AbsPath == "" {
		return ReasonNotLocated, true
	}
	if fi, err := os.Stat(*a.AbsPath); err != nil || !fi.Mode().IsRegular() {
		return ReasonNotOnDisk, true
	}
	return "", false
}

// Package observe provides archive observability for chatlift.
//
// Three core capabilities:
// - Stats: messages, conversations, attachment mix and freshness of an archive
// - Missing-attachment audit: attachments whose binary is not on disk, with remediation
// - Run artifacts: manifest.json, run_report.json and the metrics.jsonl log
//
// This package answers the question: "What did the extraction actually capture?"
package observe

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hurttlocker/chatlift/internal/canonical"
)

// Stats holds aggregate statistics for an extracted archive.
type Stats struct {
	TotalMessages      int            `json:"messages"`
	TotalConversations int            `json:"conversations"`
	TotalSenders       int            `json:"senders"`
	FromMe             int            `json:"from_me"`
	WithText           int            `json:"with_text"`
	Reactions          int            `json:"reactions"`
	Replies            int            `json:"replies"`
	Attachments        int            `json:"attachments"`
	AttachmentsByType  map[string]int `json:"attachments_by_type"`
	MissingAttachments int            `json:"missing_attachments"`
	Transcriptions     int            `json:"transcriptions"`
	AttachmentBytes    int64          `json:"attachment_bytes"`
	FirstMessage       *time.Time     `json:"first_message,omitempty"`
	LastMessage        *time.Time     `json:"last_message,omitempty"`
	Freshness          Freshness      `json:"freshness"`
	Alerts             []string       `json:"alerts,omitempty"`
}

// Freshness holds the distribution of messages by age.
type Freshness struct {
	Today     int `json:"today"`
	ThisWeek  int `json:"this_week"`
	ThisMonth int `json:"this_month"`
	Older     int `json:"older"`
}

// Summarize computes archive statistics relative to now.
func Summarize(msgs []*canonical.Message, now time.Time) *Stats {
	stats := &Stats{AttachmentsByType: make(map[string]int)}
	convs := make(map[string]struct{})
	senders := make(map[string]struct{})
	now = now.UTC()

	for _, m := range msgs {
		if m == nil {
			continue
		}
		stats.TotalMessages++
		convs[m.ConvID] = struct{}{}
		senders[m.SenderID] = struct{}{}
		if m.IsMe {
			stats.FromMe++
		}
		if m.Text != nil {
			stats.WithText++
		}
		stats.Reactions += len(m.Reactions)
		if m.ReplyToMsgID != nil {
			stats.Replies++
		}

		ts := m.Timestamp.UTC()
		if stats.FirstMessage == nil || ts.Before(*stats.FirstMessage) {
			first := ts
			stats.FirstMessage = &first
		}
		if stats.LastMessage == nil || ts.After(*stats.LastMessage) {
			last := ts
			stats.LastMessage = &last
		}
		switch age := now.Sub(ts); {
		case age < 24*time.Hour:
			stats.Freshness.Today++
		case age < 7*24*time.Hour:
			stats.Freshness.ThisWeek++
		case age < 30*24*time.Hour:
			stats.Freshness.ThisMonth++
		default:
			stats.Freshness.Older++
		}

		for _, a := range m.Attachments {
			stats.Attachments++
			stats.AttachmentsByType[string(a.Type)]++
			stats.AttachmentBytes += a.SizeBytes
			if _, missing := missingReason(a); missing {
				stats.MissingAttachments++
			}
			if a.Transcription != nil {
				stats.Transcriptions++
			}
		}
	}

	stats.TotalConversations = len(convs)
	stats.TotalSenders = len(senders)
	stats.Alerts = buildAlerts(stats)
	return stats
}

func buildAlerts(s *Stats) []string {
	alerts := make([]string, 0)

	if s.Attachments > 0 {
		ratio := float64(s.MissingAttachments) / float64(s.Attachments)
		switch {
		case ratio >= 0.5:
			alerts = append(alerts, "attachments_mostly_missing: over half of the attachments are not on disk; enable Messages in iCloud and re-download before archiving")
		case s.MissingAttachments > 0:
			alerts = append(alerts, fmt.Sprintf("attachments_missing: %d attachments are not on disk; see missing_attachments.json", s.MissingAttachments))
		}
	}
	if s.TotalMessages > 0 && s.WithText == 0 {
		alerts = append(alerts, "no_text: no message carried text; the database may predate its attributed bodies or be truncated")
	}

	return alerts
}

// FormatStats renders stats for a terminal.
func FormatStats(s *Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Messages:       %s (%s from me, %s with text)\n",
		humanize.Comma(int64(s.TotalMessages)), humanize.Comma(int64(s.FromMe)), humanize.Comma(int64(s.WithText)))
	fmt.Fprintf(&b, "Conversations:  %s\n", humanize.Comma(int64(s.TotalConversations)))
	fmt.Fprintf(&b, "Senders:        %s\n", humanize.Comma(int64(s.TotalSenders)))
	fmt.Fprintf(&b, "Reactions:      %s\n", humanize.Comma(int64(s.Reactions)))
	fmt.Fprintf(&b, "Replies:        %s\n", humanize.Comma(int64(s.Replies)))
	fmt.Fprintf(&b, "Attachments:    %s (%s, %s missing)\n",
		humanize.Comma(int64(s.Attachments)), humanize.Bytes(uint64(max(s.AttachmentBytes, 0))), humanize.Comma(int64(s.MissingAttachments)))

	if len(s.AttachmentsByType) > 0 {
		types := make([]string, 0, len(s.AttachmentsByType))
		for t := range s.AttachmentsByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(&b, "  %-12s %s\n", t, humanize.Comma(int64(s.AttachmentsByType[t])))
		}
	}
	if s.Transcriptions > 0 {
		fmt.Fprintf(&b, "Transcriptions: %s\n", humanize.Comma(int64(s.Transcriptions)))
	}
	if s.FirstMessage != nil && s.LastMessage != nil {
		fmt.Fprintf(&b, "Span:           %s to %s\n", s.FirstMessage.Format(time.DateOnly), s.LastMessage.Format(time.DateOnly))
	}
	fmt.Fprintf(&b, "Freshness:      today %d, this week %d, this month %d, older %d\n",
		s.Freshness.Today, s.Freshness.ThisWeek, s.Freshness.ThisMonth, s.Freshness.Older)
	for _, a := range s.Alerts {
		fmt.Fprintf(&b, "! %s\n", a)
	}
	return b.String()
}

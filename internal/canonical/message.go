// Package canonical defines the platform-agnostic message record that every
// chatlift extractor produces.
//
// A Message is created once per source row, enriched by the attachment and
// transcription steps, and then handed to downstream consumers (redaction,
// enrichment, reporting) without further mutation. SourceMeta holds raw
// platform fields and must never leave the local machine; this package only
// carries that contract, it does not enforce it.
package canonical

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the version of the canonical message shape and of the
// embedded JSON Schema that validates it.
const SchemaVersion = "1.0.0"

// Platform tags the origin of a message.
type Platform string

const (
	PlatformIMessage  Platform = "imessage"
	PlatformInstagram Platform = "instagram"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformTxt       Platform = "txt"
)

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformIMessage, PlatformInstagram, PlatformWhatsApp, PlatformTxt:
		return true
	}
	return false
}

// AttachmentType is the closed set of attachment categories.
type AttachmentType string

const (
	AttachmentImage   AttachmentType = "image"
	AttachmentVideo   AttachmentType = "video"
	AttachmentAudio   AttachmentType = "audio"
	AttachmentFile    AttachmentType = "file"
	AttachmentUnknown AttachmentType = "unknown"
)

// Message is the canonical output record.
type Message struct {
	MsgID        string         `json:"msg_id"`
	ConvID       string         `json:"conv_id"`
	Platform     Platform       `json:"platform"`
	Timestamp    time.Time      `json:"timestamp"`
	Sender       string         `json:"sender"`
	SenderID     string         `json:"sender_id"`
	IsMe         bool           `json:"is_me"`
	Text         *string        `json:"text"`
	ReplyToMsgID *string        `json:"reply_to_msg_id"`
	Reactions    []Reaction     `json:"reactions"`
	Attachments  []Attachment   `json:"attachments"`
	SourceRef    SourceRef      `json:"source_ref"`
	SourceMeta   map[string]any `json:"source_meta,omitempty"`
}

// Reaction is a folded tapback. From is the actor identity token.
type Reaction struct {
	From      string    `json:"from"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Attachment describes one file attached to a message. AbsPath stays nil when
// the source binary could not be located.
type Attachment struct {
	Type          AttachmentType `json:"type"`
	Filename      string         `json:"filename"`
	AbsPath       *string        `json:"abs_path"`
	MimeType      string         `json:"mime_type,omitempty"`
	UTI           string         `json:"uti,omitempty"`
	SHA256        string         `json:"sha256,omitempty"`
	SizeBytes     int64          `json:"size_bytes,omitempty"`
	StoredPath    string         `json:"stored_path,omitempty"`
	ThumbnailPath string         `json:"thumbnail_path,omitempty"`
	Transcription *Transcription `json:"transcription,omitempty"`

	// SourceMeta is never serialized.
	SourceMeta map[string]any `json:"-"`
}

// Transcription is the local speech-to-text result for an audio attachment.
type Transcription struct {
	Transcript string `json:"transcript"`
	Engine     string `json:"engine"`
	Confidence string `json:"confidence"`
}

// SourceRef points back to the origin artifact. It survives redaction.
type SourceRef struct {
	GUID *string `json:"guid"`
	Path string  `json:"path"`
}

// TextValue returns the message body or "" when absent.
func (m *Message) TextValue() string {
	if m == nil || m.Text == nil {
		return ""
	}
	return *m.Text
}

// HasReaction reports whether an entry for the (actor, kind) pair already exists.
func (m *Message) HasReaction(from, kind string) bool {
	for _, r := range m.Reactions {
		if r.From == from && r.Kind == kind {
			return true
		}
	}
	return false
}

// MarshalJSON normalizes every timestamp to UTC so the encoding always ends in Z,
// and emits empty slices instead of null.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	out := alias(m)
	out.Timestamp = out.Timestamp.UTC()
	if out.Reactions == nil {
		out.Reactions = []Reaction{}
	} else {
		rs := make([]Reaction, len(out.Reactions))
		for i, r := range out.Reactions {
			r.Timestamp = r.Timestamp.UTC()
			rs[i] = r
		}
		out.Reactions = rs
	}
	if out.Attachments == nil {
		out.Attachments = []Attachment{}
	}
	return json.Marshal(out)
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

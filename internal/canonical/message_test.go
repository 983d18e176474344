package canonical

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func sampleMessage() *Message {
	guid := "ABC-123"
	text := "hello"
	path := "/tmp/a.jpg"
	return &Message{
		MsgID:     "imessage:ABC-123",
		ConvID:    "imessage:chat1",
		Platform:  PlatformIMessage,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600)),
		Sender:    "+15551234567",
		SenderID:  "+15551234567",
		Text:      &text,
		Reactions: []Reaction{{From: "me", Kind: "love", Timestamp: time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC)}},
		Attachments: []Attachment{{
			Type:       AttachmentImage,
			Filename:   "a.jpg",
			AbsPath:    &path,
			SourceMeta: map[string]any{"rowid": 7},
		}},
		SourceRef:  SourceRef{GUID: &guid, Path: "/db/chat.db"},
		SourceMeta: map[string]any{"rowid": 1},
	}
}

func TestMessageJSONShape(t *testing.T) {
	data, err := json.Marshal(sampleMessage())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)

	if !strings.Contains(s, `"timestamp":"2024-03-01T17:00:00Z"`) {
		t.Errorf("timestamp should be UTC with Z suffix: %s", s)
	}
	if !strings.Contains(s, `"from":"me"`) {
		t.Errorf("reaction actor should serialize as from: %s", s)
	}
	if strings.Contains(s, `"rowid":7`) {
		t.Errorf("attachment source_meta must not be serialized: %s", s)
	}
	if !strings.Contains(s, `"rowid":1`) {
		t.Errorf("message source_meta should be serialized locally: %s", s)
	}
	if !strings.Contains(s, `"reply_to_msg_id":null`) {
		t.Errorf("absent reply should encode as null: %s", s)
	}
}

func TestMessageJSONEmptySlices(t *testing.T) {
	m := &Message{MsgID: "x", ConvID: "c", Platform: PlatformIMessage, Timestamp: time.Now()}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"reactions":[]`) || !strings.Contains(string(data), `"attachments":[]`) {
		t.Fatalf("expected empty arrays, got %s", data)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(sampleMessage()); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	bad := sampleMessage()
	bad.Platform = "fax"
	if err := Validate(bad); err == nil {
		t.Fatal("expected unknown platform to fail validation")
	}

	self := sampleMessage()
	self.ReplyToMsgID = &self.MsgID
	if err := Validate(self); err == nil {
		t.Fatal("expected self reply to fail validation")
	}
}

func TestPseudonymizer(t *testing.T) {
	if NewPseudonymizer(nil) != nil {
		t.Fatal("empty salt should yield nil pseudonymizer")
	}
	var none *Pseudonymizer
	if got := none.ID(" Alice@Example.com "); got != "alice@example.com" {
		t.Fatalf("nil pseudonymizer should return normalized handle, got %q", got)
	}

	p := NewPseudonymizer([]byte("test-salt"))
	a := p.ID("+15551234567")
	b := p.ID("+15551234567")
	if a != b {
		t.Fatalf("pseudonym should be deterministic: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "p_") || len(a) != 18 {
		t.Fatalf("unexpected token shape %q", a)
	}
	if other := NewPseudonymizer([]byte("other")).ID("+15551234567"); other == a {
		t.Fatal("different salts should produce different tokens")
	}
}

func TestJSONLRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSONL(&buf, []*Message{sampleMessage(), sampleMessage()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msgs, err := ReadJSONL(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Attachments[0].AbsPath == nil || *msgs[0].Attachments[0].AbsPath != "/tmp/a.jpg" {
		t.Fatalf("abs_path not preserved: %+v", msgs[0].Attachments[0])
	}
	if msgs[0].Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp after decode, got %v", msgs[0].Timestamp.Location())
	}
}

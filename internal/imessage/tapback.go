package imessage

import (
	"strings"
	"unicode/utf8"

	"github.com/hurttlocker/chatlift/internal/canonical"
)

// RowKind is the role of a chat.db message row.
type RowKind int

const (
	RowMessage RowKind = iota
	RowReaction
	RowReply
)

func (k RowKind) String() string {
	switch k {
	case RowReaction:
		return "reaction"
	case RowReply:
		return "reply"
	default:
		return "message"
	}
}

// Classification is the result of ClassifyRow.
type Classification struct {
	Kind RowKind

	// Reaction is the tapback name (love, like, ...) or an emoji glyph.
	Reaction string

	// ParentGUID is the guid of the referenced message, prefixes stripped.
	ParentGUID string
}

var tapbackKinds = map[int]string{
	2000: "love",
	2001: "like",
	2002: "dislike",
	2003: "laugh",
	2004: "emphasize",
	2005: "question",
}

const (
	emojiReactionMin = 3000
	emojiReactionMax = 3999
)

// ClassifyRow decides whether a row is a plain message, a reaction or a reply
// from its associated_message_type, associated_message_guid,
// thread_originator_guid and text.
func ClassifyRow(assocType int, assocGUID, threadGUID, text string) Classification {
	parent := StripAssociatedGUID(assocGUID)

	if kind, ok := tapbackKinds[assocType]; ok {
		return Classification{Kind: RowReaction, Reaction: kind, ParentGUID: parent}
	}
	if assocType >= emojiReactionMin && assocType <= emojiReactionMax {
		return Classification{Kind: RowReaction, Reaction: emojiGlyph(text), ParentGUID: parent}
	}
	if assocType == 0 {
		if threadGUID = strings.TrimSpace(threadGUID); threadGUID != "" {
			return Classification{Kind: RowReply, ParentGUID: threadGUID}
		}
		if parent != "" {
			return Classification{Kind: RowReply, ParentGUID: parent}
		}
	}
	return Classification{Kind: RowMessage}
}

// StripAssociatedGUID removes the part-index prefixes Messages puts in front
// of associated guids ("p:0/GUID", "bp:GUID").
func StripAssociatedGUID(guid string) string {
	guid = strings.TrimSpace(guid)
	if i := strings.LastIndexByte(guid, '/'); i >= 0 {
		guid = guid[i+1:]
	}
	if rest, ok := strings.CutPrefix(guid, "bp:"); ok {
		guid = rest
	}
	return guid
}

// emojiGlyph pulls the reaction glyph out of a custom reaction row's text,
// which is either the bare emoji or "Reacted 😂 to “...”".
func emojiGlyph(text string) string {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, "Reacted "); ok {
		if i := strings.Index(rest, " to "); i > 0 {
			text = rest[:i]
		} else {
			text = rest
		}
	}
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > 16 {
		return "emoji"
	}
	return text
}

type reactionKey struct {
	parent, actor, kind string
}

type pendingReaction struct {
	parentGUID string
	reaction   canonical.Reaction
}

type pendingReply struct {
	msg        *canonical.Message
	parentGUID string
}

// ResolveStats counts what Resolve did.
type ResolveStats struct {
	ReactionsFolded    int
	ReactionDuplicates int
	ReactionsOrphaned  int
	RepliesLinked      int
	RepliesUnresolved  int
}

// Resolver folds reactions into their parents and links replies. All rows are
// registered first and resolved together, so row order never matters.
type Resolver struct {
	byGUID    map[string]*canonical.Message
	reactions []pendingReaction
	replies   []pendingReply
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{byGUID: make(map[string]*canonical.Message)}
}

// Message indexes an emitted message under its source guid.
func (r *Resolver) Message(guid string, m *canonical.Message) {
	if guid == "" || m == nil {
		return
	}
	r.byGUID[guid] = m
}

// Reaction queues a reaction row for folding into the message with parentGUID.
func (r *Resolver) Reaction(parentGUID string, rx canonical.Reaction) {
	r.reactions = append(r.reactions, pendingReaction{parentGUID: parentGUID, reaction: rx})
}

// Reply queues m to be linked to the message with parentGUID.
func (r *Resolver) Reply(m *canonical.Message, parentGUID string) {
	if m == nil || parentGUID == "" {
		return
	}
	r.replies = append(r.replies, pendingReply{msg: m, parentGUID: parentGUID})
}

// Lookup returns the message registered under guid.
func (r *Resolver) Lookup(guid string) (*canonical.Message, bool) {
	m, ok := r.byGUID[guid]
	return m, ok
}

// Resolve folds queued reactions (one per actor, kind and parent) and sets
// reply links. Orphans are counted, never fatal. Safe to call once.
func (r *Resolver) Resolve() ResolveStats {
	var st ResolveStats

	seen := make(map[reactionKey]struct{})
	for _, p := range r.reactions {
		parent, ok := r.byGUID[p.parentGUID]
		if !ok {
			st.ReactionsOrphaned++
			continue
		}
		key := reactionKey{parent: parent.MsgID, actor: p.reaction.From, kind: p.reaction.Kind}
		if _, dup := seen[key]; dup || parent.HasReaction(p.reaction.From, p.reaction.Kind) {
			st.ReactionDuplicates++
			continue
		}
		seen[key] = struct{}{}
		parent.Reactions = append(parent.Reactions, p.reaction)
		st.ReactionsFolded++
	}

	for _, p := range r.replies {
		parent, ok := r.byGUID[p.parentGUID]
		if !ok || parent.MsgID == p.msg.MsgID {
			p.msg.ReplyToMsgID = nil
			st.RepliesUnresolved++
			continue
		}
		id := parent.MsgID
		p.msg.ReplyToMsgID = &id
		st.RepliesLinked++
	}

	r.reactions = nil
	r.replies = nil
	return st
}

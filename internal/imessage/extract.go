// Package imessage extracts canonical messages from a macOS Messages
// database (chat.db) or the sms.db inside an iPhone backup.
//
// Extraction runs in two passes. ExtractMessages stages a private copy of the
// database, reads every relevant row, folds reactions and links replies, and
// releases the copy before returning. The returned Extraction then yields
// messages in timestamp order through a single-use iterator, doing the
// per-message attachment, thumbnail and transcription work lazily.
package imessage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hurttlocker/chatlift/internal/backup"
	"github.com/hurttlocker/chatlift/internal/canonical"
	"github.com/hurttlocker/chatlift/internal/snapshot"
	"github.com/hurttlocker/chatlift/internal/store"
	"github.com/hurttlocker/chatlift/internal/telemetry"
	"github.com/hurttlocker/chatlift/internal/transcribe"
)

var (
	// ErrOpenDatabase is returned when the message database cannot be
	// staged, opened or recognized.
	ErrOpenDatabase = errors.New("cannot open message database")

	// ErrConsumed is yielded when an Extraction's messages are iterated twice.
	ErrConsumed = errors.New("message sequence already consumed")
)

// DefaultAttachmentRoot is where Messages on macOS keeps attachment binaries.
const DefaultAttachmentRoot = "~/Library/Messages/Attachments"

// Options configures one extraction run.
type Options struct {
	// DBPath is the chat.db to read. Ignored when a backup is given.
	DBPath string

	// Contact limits the run to conversations with a phone number, email
	// address or chat name. Empty selects every conversation.
	Contact string

	IncludeAttachments bool
	CopyBinaries       bool
	Thumbnails         bool
	MaxThumbnail       int
	TranscribeAudio    bool

	// OutDir receives copied binaries and thumbnails.
	OutDir string

	// Backup, or BackupDir and BackupPassword, read sms.db and attachments
	// from an iPhone backup instead of the live store. An opened Backup is
	// left open for the caller to close.
	Backup         *backup.Backup
	BackupDir      string
	BackupPassword string

	// AttachmentRoots are searched for attachment binaries when not reading
	// from a backup. Defaults to DefaultAttachmentRoot.
	AttachmentRoots []string
	Home            string

	Transcriber   transcribe.Engine
	Pseudonymizer *canonical.Pseudonymizer
	// DisplayNames maps raw handles to the sender name to emit.
	DisplayNames map[string]string

	// Index is the content store's hash → path map, threaded across runs.
	Index store.Index

	Logger         *slog.Logger
	Metrics        *telemetry.Metrics
	ValidateOutput bool

	now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Metrics == nil {
		o.Metrics = telemetry.NoopMetrics()
	}
	if o.Home == "" {
		o.Home, _ = os.UserHomeDir()
	}
	roots := o.AttachmentRoots
	if len(roots) == 0 {
		roots = []string{DefaultAttachmentRoot}
	}
	o.AttachmentRoots = make([]string, len(roots))
	copy(o.AttachmentRoots, roots)
	for i, root := range o.AttachmentRoots {
		if strings.HasPrefix(root, "~/") && o.Home != "" {
			o.AttachmentRoots[i] = filepath.Join(o.Home, root[2:])
		}
	}
	if o.CopyBinaries || o.Thumbnails || o.TranscribeAudio {
		o.IncludeAttachments = true
	}
	if o.MaxThumbnail <= 0 {
		o.MaxThumbnail = store.DefaultMaxThumbnail
	}
	if o.TranscribeAudio && o.Transcriber == nil {
		o.Transcriber = transcribe.Auto(transcribe.Options{Logger: o.Logger})
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

func (o Options) validate() error {
	if o.Backup == nil && strings.TrimSpace(o.BackupDir) == "" && strings.TrimSpace(o.DBPath) == "" {
		return errors.New("no message database: set a database path or a backup directory")
	}
	if (o.CopyBinaries || o.Thumbnails) && strings.TrimSpace(o.OutDir) == "" {
		return errors.New("copying attachments or generating thumbnails needs an output directory")
	}
	return nil
}

// Extraction is the result of the first pass. Its messages are yielded once.
type Extraction struct {
	opts    Options
	report  *Report
	pending []*canonical.Message
	blobs   *store.BlobStore
	locator store.Locator

	consumed atomic.Bool

	closeOnce sync.Once
	closeFn   func() error
}

// ExtractMessages reads the database and prepares the message sequence. It
// fails only when the database or backup cannot be opened; row-level
// problems land in the Report.
func ExtractMessages(ctx context.Context, opts Options) (*Extraction, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	log := opts.Logger

	e := &Extraction{opts: opts}

	bk := opts.Backup
	if bk == nil && strings.TrimSpace(opts.BackupDir) != "" {
		var err error
		bk, err = backup.Open(opts.BackupDir, opts.BackupPassword)
		if err != nil {
			return nil, err
		}
		e.closeFn = bk.Close
	}

	var (
		snap   *snapshot.Snapshot
		source string
		err    error
	)
	if bk != nil {
		source = filepath.Join(bk.Dir, backup.HomeDomain, backup.SMSDBPath)
		snap, err = bk.StageSMSDB(ctx)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("%w: staging backup sms.db: %w", ErrOpenDatabase, err)
		}
		e.locator = bk
	} else {
		source = opts.DBPath
		if strings.HasPrefix(source, "~/") && opts.Home != "" {
			source = filepath.Join(opts.Home, source[2:])
		}
		snap, err = snapshot.Copy(source)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpenDatabase, err)
		}
		e.locator = store.FileLocator{Home: opts.Home, Roots: opts.AttachmentRoots}
	}
	defer snap.Close()

	e.report = newReport(source, strings.TrimSpace(opts.Contact), opts.now())
	if hash, _, err := store.HashFile(snap.Path); err == nil {
		e.report.InputSHA256 = hash
	}
	e.blobs = store.NewBlobStore(opts.OutDir, opts.Index, log)

	log.Info("extraction started", "source", source, "contact_kind", ClassifyContact(opts.Contact), "wal", snap.HasWAL)

	if err := e.load(ctx, snap, source); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// load is the first pass: read rows, build messages, fold and link.
func (e *Extraction) load(ctx context.Context, snap *snapshot.Snapshot, source string) error {
	db, err := sql.Open("sqlite", snap.DSN())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenDatabase, err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrOpenDatabase, err)
	}

	sc, err := loadSchema(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenDatabase, err)
	}
	for _, t := range []string{"message", "handle"} {
		if !sc.hasTable(t) {
			return fmt.Errorf("%w: %s has no %s table", ErrOpenDatabase, filepath.Base(source), t)
		}
	}

	match, err := resolveContact(ctx, db, sc, e.opts.Contact)
	if err != nil {
		return err
	}
	e.report.ContactMatch = match
	if match.Kind != ContactAll && len(match.ChatIDs) == 0 {
		e.report.Warn("", "no conversations matched contact %q", e.report.Contact)
		e.opts.Logger.Warn("no conversations matched contact", "contact_kind", match.Kind)
		return nil
	}

	rows, err := queryMessages(ctx, db, sc, match.ChatIDs)
	if err != nil {
		return err
	}

	var atts map[int64][]canonical.Attachment
	if e.opts.IncludeAttachments {
		if sc.hasTable("attachment") && sc.hasTable("message_attachment_join") {
			atts, err = queryAttachments(ctx, db, sc, match.ChatIDs)
			if err != nil {
				return err
			}
		} else {
			e.report.Warn("", "database has no attachment tables; attachments skipped")
		}
	}

	e.build(rows, atts, source)
	return nil
}

type messageRow struct {
	rowID      int64
	guid       string
	text       sql.NullString
	body       []byte
	handle     string
	date       int64
	dateEdited int64
	isFromMe   bool
	assocGUID  string
	assocType  int
	threadGUID string
	service    string
	itemType   int
	isAudio    bool
	balloon    string
	subject    string

	chatGUID       string
	chatIdentifier string
	chatName       string
	hasChat        bool
}

func queryMessages(ctx context.Context, db *sql.DB, sc *chatSchema, chatIDs []int64) ([]messageRow, error) {
	chatJoin := sc.hasTable("chat_message_join") && sc.hasTable("chat")

	cols := []string{
		"m.ROWID",
		sc.text("message", "m", "guid"),
		sc.raw("message", "m", "text"),
		sc.raw("message", "m", "attributedBody"),
		"COALESCE(h.id, '')",
		sc.integer("message", "m", "date"),
		sc.integer("message", "m", "date_edited"),
		sc.integer("message", "m", "is_from_me"),
		sc.text("message", "m", "associated_message_guid"),
		sc.integer("message", "m", "associated_message_type"),
		sc.text("message", "m", "thread_originator_guid"),
		sc.text("message", "m", "service"),
		sc.integer("message", "m", "item_type"),
		sc.integer("message", "m", "is_audio_message"),
		sc.text("message", "m", "balloon_bundle_id"),
		sc.text("message", "m", "subject"),
	}
	if chatJoin {
		cols = append(cols,
			"c.ROWID",
			sc.text("chat", "c", "guid"),
			sc.text("chat", "c", "chat_identifier"),
			sc.text("chat", "c", "display_name"),
		)
	} else {
		cols = append(cols, "NULL", "''", "''", "''")
	}

	var q strings.Builder
	q.WriteString("SELECT " + strings.Join(cols, ", ") + " FROM message m\n")
	q.WriteString("LEFT JOIN handle h ON h.ROWID = m.handle_id\n")
	if chatJoin {
		q.WriteString("LEFT JOIN chat_message_join cmj ON cmj.message_id = m.ROWID\n")
		q.WriteString("LEFT JOIN chat c ON c.ROWID = cmj.chat_id\n")
	}
	var args []any
	if chatIDs != nil {
		if !chatJoin {
			return nil, fmt.Errorf("%w: database lacks chat tables needed for contact filtering", ErrOpenDatabase)
		}
		q.WriteString("WHERE c.ROWID IN (" + placeholders(len(chatIDs)) + ")\n")
		args = int64Args(chatIDs)
	}
	q.WriteString("ORDER BY m.ROWID")
	if chatJoin {
		q.WriteString(", cmj.chat_id")
	}

	rows, err := db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	defer rows.Close()

	var out []messageRow
	for rows.Next() {
		var (
			r        messageRow
			fromMe   int64
			audio    int64
			assoc    int64
			itemType int64
			chatRow  sql.NullInt64
		)
		if err := rows.Scan(
			&r.rowID, &r.guid, &r.text, &r.body, &r.handle, &r.date, &r.dateEdited, &fromMe,
			&r.assocGUID, &assoc, &r.threadGUID, &r.service, &itemType, &audio, &r.balloon, &r.subject,
			&chatRow, &r.chatGUID, &r.chatIdentifier, &r.chatName,
		); err != nil {
			return nil, fmt.Errorf("reading messages: %w", err)
		}
		r.isFromMe = fromMe != 0
		r.isAudio = audio != 0
		r.assocType = int(assoc)
		r.itemType = int(itemType)
		r.hasChat = chatRow.Valid
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	return out, nil
}

func queryAttachments(ctx context.Context, db *sql.DB, sc *chatSchema, chatIDs []int64) (map[int64][]canonical.Attachment, error) {
	cols := []string{
		"maj.message_id",
		"a.ROWID",
		sc.text("attachment", "a", "guid"),
		sc.text("attachment", "a", "filename"),
		sc.text("attachment", "a", "mime_type"),
		sc.text("attachment", "a", "uti"),
		sc.text("attachment", "a", "transfer_name"),
		sc.integer("attachment", "a", "total_bytes"),
	}
	q := "SELECT " + strings.Join(cols, ", ") + `
		FROM message_attachment_join maj
		JOIN attachment a ON a.ROWID = maj.attachment_id`
	var args []any
	if chatIDs != nil {
		q += `
		WHERE maj.message_id IN (SELECT message_id FROM chat_message_join WHERE chat_id IN (` + placeholders(len(chatIDs)) + `))`
		args = int64Args(chatIDs)
	}
	q += " ORDER BY maj.message_id, a.ROWID"

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("reading attachments: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]canonical.Attachment)
	for rows.Next() {
		var (
			msgID, attID                                int64
			guid, filename, mimeType, uti, transferName string
			totalBytes                                  int64
		)
		if err := rows.Scan(&msgID, &attID, &guid, &filename, &mimeType, &uti, &transferName, &totalBytes); err != nil {
			return nil, fmt.Errorf("reading attachments: %w", err)
		}
		name := filename
		if name == "" {
			name = transferName
		}
		typeHint := transferName
		if typeHint == "" {
			typeHint = filename
		}
		out[msgID] = append(out[msgID], canonical.Attachment{
			Type:     ClassifyAttachment(uti, mimeType, typeHint),
			Filename: name,
			MimeType: mimeType,
			UTI:      uti,
			SourceMeta: map[string]any{
				"rowid":         attID,
				"guid":          guid,
				"transfer_name": transferName,
				"total_bytes":   totalBytes,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading attachments: %w", err)
	}
	return out, nil
}

// build turns rows into messages, folds reactions, links replies and sorts.
func (e *Extraction) build(rows []messageRow, atts map[int64][]canonical.Attachment, source string) {
	rep := e.report
	res := NewResolver()
	seenRows := make(map[int64]struct{}, len(rows))
	order := make(map[*canonical.Message]int64, len(rows))

	for i := range rows {
		r := &rows[i]
		if _, dup := seenRows[r.rowID]; dup {
			// A message joined to more than one chat.
			continue
		}
		seenRows[r.rowID] = struct{}{}
		rep.RowsRead++

		msgID := "imessage:" + r.guid
		if r.guid == "" {
			msgID = fmt.Sprintf("imessage:rowid:%d", r.rowID)
		}
		if r.guid != "" {
			if _, dup := res.Lookup(r.guid); dup {
				rep.DuplicateRows++
				continue
			}
		}

		ts, ok := NormalizeAppleTime(r.date)
		if !ok {
			rep.Warn(msgID, "timestamp %d out of range; using the 2001-01-01 reference instant", r.date)
			ts = appleEpoch
		}

		text, decodeErr := e.messageText(r)
		if decodeErr != "" {
			rep.Error(msgID, "%s", decodeErr)
			e.opts.Metrics.RowErrors.Add(context.Background(), 1)
		}

		sender, senderID := e.identity(r)
		cls := ClassifyRow(r.assocType, r.assocGUID, r.threadGUID, text)

		if cls.Kind == RowReaction {
			res.Reaction(cls.ParentGUID, canonical.Reaction{From: senderID, Kind: cls.Reaction, Timestamp: ts})
			continue
		}
		if r.itemType != 0 {
			rep.SystemRowsSkipped++
			continue
		}

		m := &canonical.Message{
			MsgID:      msgID,
			ConvID:     convID(r),
			Platform:   canonical.PlatformIMessage,
			Timestamp:  ts,
			Sender:     sender,
			SenderID:   senderID,
			IsMe:       r.isFromMe,
			Text:       canonical.StringPtr(text),
			SourceRef:  canonical.SourceRef{GUID: canonical.StringPtr(r.guid), Path: source},
			SourceMeta: sourceMeta(r),
		}
		if list, ok := atts[r.rowID]; ok {
			m.Attachments = list
			rep.AttachmentsTotal += len(list)
			for _, a := range list {
				if a.Type == canonical.AttachmentImage {
					rep.Images++
				}
			}
		}

		res.Message(r.guid, m)
		if cls.Kind == RowReply {
			res.Reply(m, cls.ParentGUID)
		}
		order[m] = r.rowID
		e.pending = append(e.pending, m)
	}

	st := res.Resolve()
	rep.ReactionsFolded = st.ReactionsFolded
	rep.ReactionDuplicates = st.ReactionDuplicates
	rep.ReactionsOrphaned = st.ReactionsOrphaned
	rep.RepliesLinked = st.RepliesLinked
	rep.RepliesUnresolved = st.RepliesUnresolved
	if st.ReactionsOrphaned > 0 {
		rep.Warn("", "%d reactions referenced messages outside this run and were dropped", st.ReactionsOrphaned)
	}

	ctx := context.Background()
	e.opts.Metrics.ReactionsFolded.Add(ctx, int64(st.ReactionsFolded))
	e.opts.Metrics.RepliesUnresolved.Add(ctx, int64(st.RepliesUnresolved))

	sort.SliceStable(e.pending, func(i, j int) bool {
		a, b := e.pending[i], e.pending[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return order[a] < order[b]
	})
}

// messageText prefers the plain text column and falls back to the
// attributed body. The second result describes a decode failure.
func (e *Extraction) messageText(r *messageRow) (string, string) {
	if r.text.Valid {
		if t := cleanText(r.text.String); t != "" {
			return t, ""
		}
	}
	if len(r.body) == 0 {
		return "", ""
	}
	if t, ok := NormalizeAttributedBody(r.body); ok {
		return t, ""
	}
	return "", fmt.Sprintf("attributed body (%d bytes) could not be decoded", len(r.body))
}

func (e *Extraction) identity(r *messageRow) (sender, senderID string) {
	if r.isFromMe {
		return "me", "me"
	}
	h := strings.TrimSpace(r.handle)
	if h == "" {
		return "unknown", "unknown"
	}
	sender = h
	if name, ok := e.opts.DisplayNames[h]; ok && name != "" {
		sender = name
	}
	return sender, e.opts.Pseudonymizer.ID(h)
}

func convID(r *messageRow) string {
	switch {
	case r.hasChat && r.chatGUID != "":
		return "imessage:" + r.chatGUID
	case r.hasChat && r.chatIdentifier != "":
		return "imessage:" + r.chatIdentifier
	case r.handle != "":
		return "imessage:handle:" + strings.ToLower(r.handle)
	default:
		return "imessage:unknown"
	}
}

func sourceMeta(r *messageRow) map[string]any {
	meta := map[string]any{
		"rowid":    r.rowID,
		"date_raw": r.date,
	}
	if r.handle != "" {
		meta["handle"] = r.handle
	}
	if r.service != "" {
		meta["service"] = r.service
	}
	if r.chatIdentifier != "" {
		meta["chat_identifier"] = r.chatIdentifier
	}
	if r.chatName != "" {
		meta["chat_display_name"] = r.chatName
	}
	if r.assocType != 0 {
		meta["associated_message_type"] = r.assocType
	}
	if r.threadGUID != "" {
		meta["thread_originator_guid"] = r.threadGUID
	}
	if r.dateEdited != 0 {
		meta["date_edited_raw"] = r.dateEdited
	}
	if r.isAudio {
		meta["is_audio_message"] = true
	}
	if r.balloon != "" {
		meta["balloon_bundle_id"] = r.balloon
	}
	if r.subject != "" {
		meta["subject"] = r.subject
	}
	if len(r.body) > 0 {
		meta["attributed_body_b64"] = base64.StdEncoding.EncodeToString(r.body)
	}
	return meta
}

// Report returns the run's report. It is final once Messages is exhausted.
func (e *Extraction) Report() *Report { return e.report }

// Len is the number of messages the sequence will yield.
func (e *Extraction) Len() int { return len(e.pending) }

// Index returns the content store's hash → path map after the run.
func (e *Extraction) Index() store.Index { return e.blobs.Index() }

// Close releases a backup opened by ExtractMessages. Exhausting or breaking
// out of Messages closes it too.
func (e *Extraction) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.closeFn != nil {
			err = e.closeFn()
		}
	})
	return err
}

// Messages yields each message once, in timestamp order. The sequence is
// single-use: ranging over it again yields ErrConsumed. Cancellation of ctx
// yields ctx.Err() and ends the sequence.
func (e *Extraction) Messages(ctx context.Context) iter.Seq2[*canonical.Message, error] {
	return func(yield func(*canonical.Message, error) bool) {
		if e.consumed.Swap(true) {
			yield(nil, ErrConsumed)
			return
		}
		defer e.finish()

		pending := e.pending
		e.pending = nil
		for i, m := range pending {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			pending[i] = nil
			e.enrich(ctx, m)
			// A message whose enrichment was cut short is not emitted.
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			e.report.MessagesExtracted++
			e.opts.Metrics.MessagesExtracted.Add(ctx, 1)
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (e *Extraction) finish() {
	now := e.opts.now()
	e.report.Finish(now)
	e.opts.Metrics.ExtractionDuration.Record(context.Background(), e.report.DurationSeconds)
	e.opts.Logger.Info("extraction finished",
		"messages", e.report.MessagesExtracted,
		"reactions_folded", e.report.ReactionsFolded,
		"attachments_missing", e.report.AttachmentsMissing,
		"warnings", len(e.report.Warnings),
		"errors", len(e.report.Errors),
	)
	e.Close()
}

// enrich is the per-message second pass.
func (e *Extraction) enrich(ctx context.Context, m *canonical.Message) {
	rep := e.report
	mt := e.opts.Metrics

	if len(m.Attachments) > 0 {
		st := e.blobs.CopyAttachments(ctx, m.Attachments, e.locator, store.CopyOptions{
			Copy:         e.opts.CopyBinaries,
			Thumbnails:   e.opts.Thumbnails,
			MaxThumbnail: e.opts.MaxThumbnail,
		})
		rep.AttachmentsFound += st.Found
		rep.AttachmentsCopied += st.Copied
		rep.AttachmentsDeduplicated += st.Deduplicated
		rep.AttachmentsMissing += st.Missing
		rep.Thumbnails += st.Thumbnails
		for _, w := range st.Warnings {
			rep.Warn(m.MsgID, "%s", w)
		}
		mt.AttachmentsFound.Add(ctx, int64(st.Found))
		mt.AttachmentsCopied.Add(ctx, int64(st.Copied))
		mt.AttachmentsMissing.Add(ctx, int64(st.Missing))
		mt.Thumbnails.Add(ctx, int64(st.Thumbnails))

		if e.opts.TranscribeAudio && e.opts.Transcriber != nil {
			e.transcribe(ctx, m)
		}
	}

	if e.opts.ValidateOutput {
		if err := canonical.Validate(m); err != nil {
			rep.Error(m.MsgID, "schema validation: %v", err)
			mt.RowErrors.Add(ctx, 1)
		}
	}
}

func (e *Extraction) transcribe(ctx context.Context, m *canonical.Message) {
	for i := range m.Attachments {
		a := &m.Attachments[i]
		if a.Type != canonical.AttachmentAudio || a.AbsPath == nil {
			continue
		}
		res, err := e.opts.Transcriber.Transcribe(ctx, *a.AbsPath)
		switch {
		case err != nil:
			e.report.Warn(m.MsgID, "transcription failed for %s: %v", filepath.Base(a.Filename), err)
			e.opts.Logger.Warn("transcription failed", "msg_id", m.MsgID, "error", err)
		case res == nil:
			e.report.TranscriptionsUnavailable++
		default:
			a.Transcription = res
			e.report.Transcriptions++
			e.opts.Metrics.Transcriptions.Add(ctx, 1)
		}
	}
}

// Collect runs an extraction to completion and returns every message.
func Collect(ctx context.Context, opts Options) ([]*canonical.Message, *Report, error) {
	e, err := ExtractMessages(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	defer e.Close()

	msgs := make([]*canonical.Message, 0, e.Len())
	for m, err := range e.Messages(ctx) {
		if err != nil {
			return msgs, e.Report(), err
		}
		msgs = append(msgs, m)
	}
	return msgs, e.Report(), nil
}

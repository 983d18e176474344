package imessage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// ContactKind is how a contact argument was interpreted.
type ContactKind string

const (
	ContactAll   ContactKind = "all"
	ContactPhone ContactKind = "phone"
	ContactEmail ContactKind = "email"
	ContactName  ContactKind = "name"
)

// ContactMatch is the result of resolving a contact argument.
type ContactMatch struct {
	Kind    ContactKind `json:"kind"`
	Handles []string    `json:"handles"`
	ChatIDs []int64     `json:"chat_ids"`
}

// ClassifyContact decides how a contact argument is compared.
func ClassifyContact(contact string) ContactKind {
	contact = strings.TrimSpace(contact)
	switch {
	case contact == "":
		return ContactAll
	case strings.Contains(contact, "@"):
		return ContactEmail
	case isPhoneLike(contact):
		return ContactPhone
	default:
		return ContactName
	}
}

func isPhoneLike(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune("+-() .", r):
		default:
			return false
		}
	}
	return digits >= 3
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneMatches compares two phone-like strings by digits. Numbers with at
// least ten digits also match on their trailing ten, so "+1 (555) 010-9999"
// equals "5550109999".
func PhoneMatches(a, b string) bool {
	da, db := DigitsOnly(a), DigitsOnly(b)
	if da == "" || db == "" {
		return false
	}
	if da == db {
		return true
	}
	return len(da) >= 10 && len(db) >= 10 && da[len(da)-10:] == db[len(db)-10:]
}

// resolveContact maps contact to the handles and chats it covers. An empty
// contact selects every chat and leaves ChatIDs nil.
func resolveContact(ctx context.Context, db *sql.DB, sc *chatSchema, contact string) (*ContactMatch, error) {
	contact = strings.TrimSpace(contact)
	m := &ContactMatch{Kind: ClassifyContact(contact)}
	if m.Kind == ContactAll {
		return m, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT ROWID, COALESCE(id, '') FROM handle`)
	if err != nil {
		return nil, fmt.Errorf("reading handles: %w", err)
	}
	var handleIDs []int64
	for rows.Next() {
		var (
			rowID int64
			id    string
		)
		if err := rows.Scan(&rowID, &id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("reading handles: %w", err)
		}
		var hit bool
		switch m.Kind {
		case ContactPhone:
			hit = PhoneMatches(id, contact)
		default:
			hit = strings.EqualFold(strings.TrimSpace(id), contact)
		}
		if hit {
			handleIDs = append(handleIDs, rowID)
			m.Handles = append(m.Handles, id)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("reading handles: %w", err)
	}

	chats := make(map[int64]struct{})
	if len(handleIDs) > 0 {
		var q string
		if sc.hasTable("chat_handle_join") {
			q = `SELECT DISTINCT chat_id FROM chat_handle_join WHERE handle_id IN (` + placeholders(len(handleIDs)) + `)`
		} else {
			q = `SELECT DISTINCT cmj.chat_id FROM chat_message_join cmj
				JOIN message m ON m.ROWID = cmj.message_id
				WHERE m.handle_id IN (` + placeholders(len(handleIDs)) + `)`
		}
		if err := collectIDs(ctx, db, chats, q, int64Args(handleIDs)...); err != nil {
			return nil, fmt.Errorf("resolving chats: %w", err)
		}
	}

	if m.Kind == ContactName {
		conds := []string{`lower(COALESCE(chat_identifier, '')) = lower(?)`}
		args := []any{contact}
		if sc.has("chat", "display_name") {
			conds = append(conds, `lower(COALESCE(display_name, '')) = lower(?)`)
			args = append(args, contact)
		}
		q := `SELECT ROWID FROM chat WHERE ` + strings.Join(conds, " OR ")
		if err := collectIDs(ctx, db, chats, q, args...); err != nil {
			return nil, fmt.Errorf("resolving chats by name: %w", err)
		}
	}

	m.ChatIDs = make([]int64, 0, len(chats))
	for id := range chats {
		m.ChatIDs = append(m.ChatIDs, id)
	}
	sort.Slice(m.ChatIDs, func(i, j int) bool { return m.ChatIDs[i] < m.ChatIDs[j] })
	return m, nil
}

func collectIDs(ctx context.Context, db *sql.DB, into map[int64]struct{}, q string, args ...any) error {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		into[id] = struct{}{}
	}
	return rows.Err()
}

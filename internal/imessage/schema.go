package imessage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// chatSchema records which tables and columns a chat.db actually has. Columns
// were added across macOS/iOS releases, so optional ones are selected only
// when present.
type chatSchema struct {
	tables map[string]map[string]bool
}

var schemaTables = []string{
	"message", "handle", "chat", "chat_message_join", "chat_handle_join",
	"attachment", "message_attachment_join",
}

func loadSchema(ctx context.Context, db *sql.DB) (*chatSchema, error) {
	s := &chatSchema{tables: make(map[string]map[string]bool)}
	for _, table := range schemaTables {
		rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
		if err != nil {
			return nil, fmt.Errorf("inspecting %s: %w", table, err)
		}
		cols := make(map[string]bool)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return nil, fmt.Errorf("inspecting %s: %w", table, err)
			}
			cols[strings.ToLower(name)] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("inspecting %s: %w", table, err)
		}
		if len(cols) > 0 {
			s.tables[table] = cols
		}
	}
	return s, nil
}

func (s *chatSchema) hasTable(table string) bool {
	_, ok := s.tables[table]
	return ok
}

func (s *chatSchema) has(table, col string) bool {
	return s.tables[table][strings.ToLower(col)]
}

// text selects alias.col as a non-null string, or an empty literal when the column is absent.
func (s *chatSchema) text(table, alias, col string) string {
	if !s.has(table, col) {
		return "''"
	}
	return fmt.Sprintf("COALESCE(%s.%s, '')", alias, col)
}

// integer selects alias.col as a non-null integer, or 0 when absent.
func (s *chatSchema) integer(table, alias, col string) string {
	if !s.has(table, col) {
		return "0"
	}
	return fmt.Sprintf("COALESCE(%s.%s, 0)", alias, col)
}

// raw selects alias.col unchanged, or NULL when absent.
func (s *chatSchema) raw(table, alias, col string) string {
	if !s.has(table, col) {
		return "NULL"
	}
	return alias + "." + col
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

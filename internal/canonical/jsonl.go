package canonical

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// WriteJSONL writes one JSON object per line.
func WriteJSONL(w io.Writer, msgs []*Message) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encoding %s: %w", m.MsgID, err)
		}
	}
	return nil
}

// ReadJSONL decodes a stream produced by WriteJSONL. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]*Message, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var out []*Message
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, &m)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

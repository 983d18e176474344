package imessage

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strings"
	"unicode"

	"howett.net/plist"
)

var (
	bplistMagic      = []byte("bplist")
	typedstreamMagic = []byte("streamtyped")
	nsStringMarker   = []byte("NSString")
)

// NormalizeAttributedBody extracts readable text from an attributedBody blob.
//
// Property lists are decoded first. chat.db itself stores NSArchiver
// typedstreams, whose NSString payload is pulled out by its length prefix.
// Anything else is read as UTF-8 with invalid bytes dropped. The result is
// cleaned of control characters and whitespace runs; ok is false when
// nothing readable remains.
func NormalizeAttributedBody(raw []byte) (text string, ok bool) {
	if len(raw) == 0 {
		return "", false
	}

	if s, decoded := decodePlistText(raw); decoded {
		if text = cleanText(s); text != "" {
			return text, true
		}
	}
	if s, decoded := decodeTypedstreamText(raw); decoded {
		if text = cleanText(s); text != "" {
			return text, true
		}
	}

	text = cleanText(string(raw))
	return text, text != ""
}

func decodePlistText(raw []byte) (s string, ok bool) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if !bytes.HasPrefix(trimmed, bplistMagic) && !bytes.HasPrefix(trimmed, []byte("<?xml")) && !bytes.HasPrefix(trimmed, []byte("<plist")) {
		return "", false
	}

	defer func() {
		if recover() != nil {
			s, ok = "", false
		}
	}()

	var v any
	if _, err := plist.Unmarshal(raw, &v); err != nil {
		return "", false
	}

	// Keyed archives keep their payload in $objects; the rest is bookkeeping.
	if m, isMap := v.(map[string]any); isMap {
		if objs, has := m["$objects"]; has {
			v = objs
		}
	}

	var parts []string
	collectPlistStrings(v, &parts)
	return strings.Join(parts, " "), true
}

func collectPlistStrings(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		if t == "$null" || isArchiverClassName(t) {
			return
		}
		*out = append(*out, t)
	case []any:
		for _, e := range t {
			collectPlistStrings(e, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			if k == "$class" || k == "$classname" || k == "$classes" {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectPlistStrings(t[k], out)
		}
	}
}

func isArchiverClassName(s string) bool {
	if !strings.HasPrefix(s, "NS") || strings.ContainsAny(s, " \t\n") {
		return false
	}
	switch s {
	case "NSString", "NSMutableString", "NSAttributedString", "NSMutableAttributedString",
		"NSDictionary", "NSMutableDictionary", "NSArray", "NSMutableArray", "NSObject",
		"NSNumber", "NSValue", "NSData", "NSMutableData", "NSURL", "NSColor", "NSFont":
		return true
	}
	return false
}

// decodeTypedstreamText reads the first NSString out of an NSArchiver stream:
// "NSString" followed by a few type bytes, a '+' marker, a length and the
// UTF-8 bytes.
func decodeTypedstreamText(raw []byte) (string, bool) {
	if !bytes.Contains(raw[:min(len(raw), 32)], typedstreamMagic) {
		return "", false
	}
	idx := bytes.Index(raw, nsStringMarker)
	if idx < 0 {
		return "", false
	}
	rest := raw[idx+len(nsStringMarker):]
	plus := bytes.IndexByte(rest, '+')
	if plus < 0 || plus > 8 || plus+2 > len(rest) {
		return "", false
	}
	rest = rest[plus+1:]

	var n int
	switch rest[0] {
	case 0x81:
		if len(rest) < 3 {
			return "", false
		}
		n = int(binary.LittleEndian.Uint16(rest[1:3]))
		rest = rest[3:]
	case 0x82:
		if len(rest) < 5 {
			return "", false
		}
		n = int(binary.LittleEndian.Uint32(rest[1:5]))
		rest = rest[5:]
	default:
		n = int(rest[0])
		rest = rest[1:]
	}
	if n <= 0 || n > len(rest) {
		return "", false
	}
	return string(rest[:n]), true
}

// cleanText drops invalid UTF-8, control characters and the U+FFFC
// attachment placeholder, then collapses whitespace runs to single spaces.
// Format characters such as the emoji zero-width joiner are kept.
func cleanText(s string) string {
	s = strings.ToValidUTF8(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\uFFFC', r == '\uFFFD':
			continue
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case unicode.IsControl(r):
			continue
		case !unicode.IsPrint(r) && !unicode.Is(unicode.Cf, r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

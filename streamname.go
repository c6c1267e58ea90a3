package msi

import "strings"

// Installer packages pack two characters of a logical stream name into a
// single UTF-16 codepoint so that longer names fit within the compound
// file's 31-character limit. Codepoints 0x3800-0x47FF carry two packed
// characters, 0x4800-0x483F carry one, and 0x4840 marks a table stream.
// The packed charset is 0-9, A-Z, a-z, '.' and '_'.
const (
	namePackedPair   = 0x3800
	namePackedSingle = 0x4800
	nameTableMarker  = 0x4840
)

func decodeNameRune(x rune) rune {
	switch {
	case x < 10:
		return x + '0'
	case x < 10+26:
		return x - 10 + 'A'
	case x < 10+26+26:
		return x - 10 - 26 + 'a'
	case x == 10+26+26:
		return '.'
	default:
		return '_'
	}
}

func encodeNameRune(c rune) (rune, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'Z':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'z':
		return c - 'a' + 36, true
	case c == '.':
		return 62, true
	case c == '_':
		return 63, true
	}
	return 0, false
}

// decodeStreamName unpacks a raw compound-file stream name into its
// logical name and reports whether the stream holds a table. Codepoints
// outside the packed ranges pass through unchanged.
func decodeStreamName(raw string) (name string, table bool) {
	var b strings.Builder
	for _, x := range raw {
		switch {
		case x >= namePackedPair && x < namePackedSingle:
			x -= namePackedPair
			b.WriteRune(decodeNameRune(x & 0x3f))
			b.WriteRune(decodeNameRune(x >> 6))
		case x >= namePackedSingle && x < nameTableMarker:
			b.WriteRune(decodeNameRune(x - namePackedSingle))
		case x == nameTableMarker:
			table = true
		default:
			b.WriteRune(x)
		}
	}
	return b.String(), table
}

// encodeStreamName is the inverse of decodeStreamName: it packs a
// logical name into the raw stream-name form, prefixing the table marker
// when table is true. Characters outside the packed charset pass through.
func encodeStreamName(name string, table bool) string {
	var b strings.Builder
	if table {
		b.WriteRune(nameTableMarker)
	}
	runes := []rune(name)
	for i := 0; i < len(runes); i++ {
		c1, ok := encodeNameRune(runes[i])
		if !ok {
			b.WriteRune(runes[i])
			continue
		}
		if i+1 < len(runes) {
			if c2, ok := encodeNameRune(runes[i+1]); ok {
				b.WriteRune(namePackedPair + c1 + c2<<6)
				i++
				continue
			}
		}
		b.WriteRune(namePackedSingle + c1)
	}
	return b.String()
}

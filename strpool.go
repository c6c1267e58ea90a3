package msi

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// StringPool holds the package's interned strings, parsed from the
// !_StringPool and !_StringData streams.
//
// Every string-valued table cell is a reference into this pool.
// Reference 0 is the null/empty string; references past the end of the
// pool resolve to the empty string rather than failing.
type StringPool struct {
	codepage int
	longRefs bool
	strings  []string
}

// parseStringPool decodes the pool and data streams.
//
// The pool stream is a sequence of (size, refcount) uint16 pairs. The
// first pair carries the codepage identifier, with bit 15 of the second
// word flagging 3-byte string references in table streams. An entry
// with a zero size but non-zero refcount stores its real 32-bit size in
// the following pair.
func parseStringPool(pool, data []byte) (*StringPool, error) {
	if len(pool) < 4 || len(pool)%4 != 0 {
		return nil, fmt.Errorf("%w: string pool stream is %d bytes", ErrCorrupt, len(pool))
	}
	lo := binary.LittleEndian.Uint16(pool[0:2])
	hi := binary.LittleEndian.Uint16(pool[2:4])
	sp := &StringPool{
		codepage: int(lo) | int(hi&0x7FFF)<<16,
		longRefs: hi&0x8000 != 0,
		strings:  []string{""},
	}

	cm := poolCharmap(sp.codepage)
	off := 0
	for i := 4; i+4 <= len(pool); i += 4 {
		size := int(binary.LittleEndian.Uint16(pool[i : i+2]))
		refs := binary.LittleEndian.Uint16(pool[i+2 : i+4])
		if size == 0 && refs != 0 {
			i += 4
			if i+4 > len(pool) {
				return nil, fmt.Errorf("%w: truncated wide string-pool entry", ErrCorrupt)
			}
			size = int(binary.LittleEndian.Uint32(pool[i : i+4]))
		}
		if size == 0 {
			sp.strings = append(sp.strings, "")
			continue
		}
		if off+size > len(data) {
			return nil, fmt.Errorf("%w: string pool entry %d overruns data stream", ErrCorrupt, len(sp.strings))
		}
		sp.strings = append(sp.strings, decodeText(data[off:off+size], cm))
		off += size
	}
	return sp, nil
}

// Codepage returns the pool's Windows codepage identifier.
func (p *StringPool) Codepage() int {
	return p.codepage
}

// LongRefs reports whether table streams use 3-byte string references.
func (p *StringPool) LongRefs() bool {
	return p.longRefs
}

// Len returns the number of string slots, including unused ones.
func (p *StringPool) Len() int {
	return len(p.strings) - 1
}

// Get resolves a string reference. Reference 0 and references outside
// the pool return the empty string.
func (p *StringPool) Get(ref int) string {
	if ref <= 0 || ref >= len(p.strings) {
		return ""
	}
	return p.strings[ref]
}

// refSize returns the table-stream width of a string reference.
func (p *StringPool) refSize() int {
	if p.longRefs {
		return 3
	}
	return 2
}

// poolCharmap maps a Windows codepage to its character map. A nil
// result means the data is decoded as UTF-8.
func poolCharmap(codepage int) *charmap.Charmap {
	switch codepage {
	case 0, 1252:
		return charmap.Windows1252
	case 874:
		return charmap.Windows874
	case 1250:
		return charmap.Windows1250
	case 1251:
		return charmap.Windows1251
	case 1253:
		return charmap.Windows1253
	case 1254:
		return charmap.Windows1254
	case 1255:
		return charmap.Windows1255
	case 1256:
		return charmap.Windows1256
	case 1257:
		return charmap.Windows1257
	case 1258:
		return charmap.Windows1258
	case 65001:
		return nil
	default:
		// Multi-byte codepages are passed through byte-for-byte; the
		// text is surfaced as-is rather than rejected.
		return charmap.ISO8859_1
	}
}

func decodeText(b []byte, cm *charmap.Charmap) string {
	if cm == nil {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x80 {
			sb.WriteByte(c)
			continue
		}
		sb.WriteRune(cm.DecodeByte(c))
	}
	return sb.String()
}

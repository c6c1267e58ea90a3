// Package testutil builds synthetic installer-package images for tests.
//
// The builders implement the write side of the formats the library
// reads: a minimal version-3 compound file, the string pool, the
// column-major table streams and a single-folder cabinet. They are
// independent of the reading code so tests exercise a genuine
// round trip across two implementations.
package testutil

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/klauspost/compress/flate"
)

// Stream is one named stream of a compound file. Name is the raw
// stream name as stored in the container.
type Stream struct {
	Name string
	Data []byte
}

// Column describes one column of a synthetic table.
type Column struct {
	Name string
	Type uint16
}

// Table describes one synthetic installer table. Row cells must be
// string (string columns), int (integer columns) or nil (null).
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]any
}

// Column type bits mirroring the installer's _Columns bitfield.
const (
	TypeValid       = 0x0100
	TypeLocalizable = 0x0200
	TypeString      = 0x0800
	TypeNullable    = 0x1000
	TypeKey         = 0x2000
)

// StrCol returns a string column with the given declared width and
// extra attribute bits.
func StrCol(name string, width int, bits uint16) Column {
	return Column{Name: name, Type: TypeValid | TypeString | bits | uint16(width)}
}

// IntCol returns an integer column of the given byte width (2 or 4)
// with extra attribute bits.
func IntCol(name string, width int, bits uint16) Column {
	return Column{Name: name, Type: TypeValid | bits | uint16(width)}
}

// EncodeStreamName packs a logical stream name into the raw compound
// file form, prefixing the table marker when table is true.
func EncodeStreamName(name string, table bool) string {
	var b bytes.Buffer
	if table {
		b.WriteRune(0x4840)
	}
	runes := []rune(name)
	for i := 0; i < len(runes); i++ {
		c1, ok := packRune(runes[i])
		if !ok {
			b.WriteRune(runes[i])
			continue
		}
		if i+1 < len(runes) {
			if c2, ok := packRune(runes[i+1]); ok {
				b.WriteRune(0x3800 + c1 + c2<<6)
				i++
				continue
			}
		}
		b.WriteRune(0x4800 + c1)
	}
	return b.String()
}

func packRune(c rune) (rune, bool) {
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

// BuildPackage assembles a complete installer package image containing
// a string pool, table metadata and the given tables, plus any extra
// raw streams. With longRefs set, the pool header advertises 3-byte
// string references and all table streams use them.
func BuildPackage(t *testing.T, longRefs bool, tables []Table, extra ...Stream) []byte {
	t.Helper()

	pool := newPoolBuilder(longRefs)

	// _Tables: one string column listing the table names.
	var tablesData bytes.Buffer
	for _, tbl := range tables {
		pool.writeRef(&tablesData, pool.intern(tbl.Name))
	}

	// _Columns: Table, Number, Name, Type — column-major over all rows.
	type colRow struct {
		table  string
		number int
		name   string
		typ    uint16
	}
	var colRows []colRow
	for _, tbl := range tables {
		for i, col := range tbl.Columns {
			colRows = append(colRows, colRow{tbl.Name, i + 1, col.Name, col.Type})
		}
	}
	var columnsData bytes.Buffer
	for _, r := range colRows {
		pool.writeRef(&columnsData, pool.intern(r.table))
	}
	for _, r := range colRows {
		writeUint16(&columnsData, uint16(r.number)+0x8000)
	}
	for _, r := range colRows {
		pool.writeRef(&columnsData, pool.intern(r.name))
	}
	for _, r := range colRows {
		writeUint16(&columnsData, r.typ+0x8000)
	}

	streams := []Stream{
		{Name: EncodeStreamName("_Tables", true), Data: tablesData.Bytes()},
		{Name: EncodeStreamName("_Columns", true), Data: columnsData.Bytes()},
	}
	for _, tbl := range tables {
		if len(tbl.Rows) == 0 {
			continue
		}
		streams = append(streams, Stream{
			Name: EncodeStreamName(tbl.Name, true),
			Data: serializeTable(t, tbl, pool),
		})
	}

	// The pool streams are serialized last so every interned string is
	// accounted for.
	poolStream, dataStream := pool.serialize()
	streams = append(streams,
		Stream{Name: EncodeStreamName("_StringPool", true), Data: poolStream},
		Stream{Name: EncodeStreamName("_StringData", true), Data: dataStream},
	)
	streams = append(streams, extra...)

	return BuildCompoundFile(t, streams)
}

func serializeTable(t *testing.T, tbl Table, pool *poolBuilder) []byte {
	t.Helper()
	var buf bytes.Buffer
	for ci, col := range tbl.Columns {
		isString := col.Type&TypeString != 0
		width := int(col.Type & 0xFF)
		for _, row := range tbl.Rows {
			if len(row) != len(tbl.Columns) {
				t.Fatalf("table %s: row has %d cells, want %d", tbl.Name, len(row), len(tbl.Columns))
			}
			cell := row[ci]
			switch {
			case isString:
				s, _ := cell.(string)
				pool.writeRef(&buf, pool.intern(s))
			case cell == nil:
				if width == 4 {
					writeUint32(&buf, 0)
				} else {
					writeUint16(&buf, 0)
				}
			default:
				v, ok := cell.(int)
				if !ok {
					t.Fatalf("table %s column %s: unsupported cell %T", tbl.Name, col.Name, cell)
				}
				if width == 4 {
					writeUint32(&buf, uint32(int64(v)+0x80000000))
				} else {
					writeUint16(&buf, uint16(v+0x8000))
				}
			}
		}
	}
	return buf.Bytes()
}

// poolBuilder interns strings into sequential 1-based references with a
// refcount of one. With longRefs set, writeRef emits 3-byte references
// and serialize flags them in the pool header.
type poolBuilder struct {
	index    map[string]int
	ordered  []string
	longRefs bool
}

func newPoolBuilder(longRefs bool) *poolBuilder {
	return &poolBuilder{index: map[string]int{}, longRefs: longRefs}
}

// writeRef emits a string reference at the pool's reference width.
func (p *poolBuilder) writeRef(buf *bytes.Buffer, ref int) {
	writeUint16(buf, uint16(ref))
	if p.longRefs {
		buf.WriteByte(byte(ref >> 16))
	}
}

func (p *poolBuilder) intern(s string) int {
	if s == "" {
		return 0
	}
	if id, ok := p.index[s]; ok {
		return id
	}
	p.ordered = append(p.ordered, s)
	id := len(p.ordered)
	p.index[s] = id
	return id
}

func (p *poolBuilder) serialize() (pool, data []byte) {
	var pb, db bytes.Buffer
	writeUint16(&pb, 1252)
	if p.longRefs {
		writeUint16(&pb, 0x8000)
	} else {
		writeUint16(&pb, 0)
	}
	for _, s := range p.ordered {
		writeUint16(&pb, uint16(len(s)))
		writeUint16(&pb, 1)
		db.WriteString(s)
	}
	return pb.Bytes(), db.Bytes()
}

// CabMember is one file inside a synthetic cabinet.
type CabMember struct {
	Name string
	Data []byte
}

// BuildCabinet assembles a single-folder cabinet holding the given
// members, compressed with MSZIP when mszip is true. The folder data
// must fit in one 32 KiB data block.
func BuildCabinet(t *testing.T, mszip bool, members ...CabMember) []byte {
	t.Helper()

	var folderData bytes.Buffer
	type placed struct {
		CabMember
		offset uint32
	}
	placedMembers := make([]placed, 0, len(members))
	for _, m := range members {
		placedMembers = append(placedMembers, placed{m, uint32(folderData.Len())})
		folderData.Write(m.Data)
	}
	if folderData.Len() > 32768 {
		t.Fatalf("cabinet folder data %d bytes exceeds one block", folderData.Len())
	}

	payload := folderData.Bytes()
	compression := uint16(0)
	if mszip {
		compression = 1
		var zb bytes.Buffer
		zb.WriteByte('C')
		zb.WriteByte('K')
		zw, err := flate.NewWriter(&zb, flate.BestSpeed)
		if err != nil {
			t.Fatalf("flate writer: %v", err)
		}
		if _, err := zw.Write(payload); err != nil {
			t.Fatalf("flate write: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("flate close: %v", err)
		}
		payload = zb.Bytes()
	}

	var fileEntries bytes.Buffer
	for _, m := range placedMembers {
		writeUint32(&fileEntries, uint32(len(m.Data)))
		writeUint32(&fileEntries, m.offset)
		writeUint16(&fileEntries, 0) // folder index
		writeUint16(&fileEntries, 0) // date
		writeUint16(&fileEntries, 0) // time
		writeUint16(&fileEntries, 0) // attributes
		fileEntries.WriteString(m.Name)
		fileEntries.WriteByte(0)
	}

	const headerLen = 36
	const folderLen = 8
	coffFiles := uint32(headerLen + folderLen)
	dataOffset := coffFiles + uint32(fileEntries.Len())
	dataLen := 8 + len(payload)
	total := int(dataOffset) + dataLen

	var cabBuf bytes.Buffer
	cabBuf.WriteString("MSCF")
	writeUint32(&cabBuf, 0)             // reserved1
	writeUint32(&cabBuf, uint32(total)) // cbCabinet
	writeUint32(&cabBuf, 0)             // reserved2
	writeUint32(&cabBuf, coffFiles)
	writeUint32(&cabBuf, 0) // reserved3
	cabBuf.WriteByte(3)     // version minor
	cabBuf.WriteByte(1)     // version major
	writeUint16(&cabBuf, 1) // folders
	writeUint16(&cabBuf, uint16(len(members)))
	writeUint16(&cabBuf, 0) // flags
	writeUint16(&cabBuf, 0) // set ID
	writeUint16(&cabBuf, 0) // cabinet index

	writeUint32(&cabBuf, dataOffset)
	writeUint16(&cabBuf, 1) // data block count
	writeUint16(&cabBuf, compression)

	cabBuf.Write(fileEntries.Bytes())

	writeUint32(&cabBuf, 0) // checksum, unverified
	writeUint16(&cabBuf, uint16(len(payload)))
	writeUint16(&cabBuf, uint16(folderData.Len()))
	cabBuf.Write(payload)

	return cabBuf.Bytes()
}

// Compound file constants for the builder.
const (
	dirEntrySize = 128
	miniSector   = 64
	miniCutoff   = 4096

	sectFree     = 0xFFFFFFFF
	sectEndChain = 0xFFFFFFFE
	sectFAT      = 0xFFFFFFFD
	noStream     = 0xFFFFFFFF
)

// BuildCompoundFile assembles a minimal version-3 compound file image
// with 512-byte sectors containing the given streams. The image uses a
// single FAT sector, so total content must stay under 64 KiB; tests
// exceeding that fail.
func BuildCompoundFile(t *testing.T, streams []Stream) []byte {
	return buildCompoundFile(t, 9, streams)
}

// BuildCompoundFileV4 assembles a version-4 image with 4096-byte
// sectors.
func BuildCompoundFileV4(t *testing.T, streams []Stream) []byte {
	return buildCompoundFile(t, 12, streams)
}

func buildCompoundFile(t *testing.T, shift uint, streams []Stream) []byte {
	t.Helper()
	sectorSize := 1 << shift

	type placement struct {
		start uint32 // sector or mini sector index
		mini  bool
	}
	placements := make([]placement, len(streams))

	// Mini streams are packed into the root's mini stream in order.
	totalMini := 0
	for i, s := range streams {
		if len(s.Data) > 0 && len(s.Data) < miniCutoff {
			placements[i] = placement{start: uint32(totalMini), mini: true}
			totalMini += (len(s.Data) + miniSector - 1) / miniSector
		}
	}

	dirEntries := 1 + len(streams)
	dirSectors := (dirEntries*dirEntrySize + sectorSize - 1) / sectorSize
	miniFATSectors := 0
	if totalMini > 0 {
		miniFATSectors = (totalMini*4 + sectorSize - 1) / sectorSize
	}
	miniStreamBytes := totalMini * miniSector
	miniStreamSectors := (miniStreamBytes + sectorSize - 1) / sectorSize

	dirStart := uint32(1)
	miniFATStart := dirStart + uint32(dirSectors)
	miniStreamStart := miniFATStart + uint32(miniFATSectors)
	next := miniStreamStart + uint32(miniStreamSectors)

	// Regular streams follow, each starting on a fresh sector.
	for i, s := range streams {
		if placements[i].mini || len(s.Data) == 0 {
			continue
		}
		placements[i] = placement{start: next}
		next += uint32((len(s.Data) + sectorSize - 1) / sectorSize)
	}
	totalSectors := int(next)
	if totalSectors > sectorSize/4 {
		t.Fatalf("compound file needs %d sectors, single-FAT builder supports %d", totalSectors, sectorSize/4)
	}

	fat := make([]uint32, sectorSize/4)
	for i := range fat {
		fat[i] = sectFree
	}
	fat[0] = sectFAT
	setChain := func(start, count uint32) {
		for i := uint32(0); i < count; i++ {
			if i == count-1 {
				fat[start+i] = sectEndChain
			} else {
				fat[start+i] = start + i + 1
			}
		}
	}
	setChain(dirStart, uint32(dirSectors))
	if miniFATSectors > 0 {
		setChain(miniFATStart, uint32(miniFATSectors))
	}
	if miniStreamSectors > 0 {
		setChain(miniStreamStart, uint32(miniStreamSectors))
	}
	for i, s := range streams {
		if !placements[i].mini && len(s.Data) > 0 {
			setChain(placements[i].start, uint32((len(s.Data)+sectorSize-1)/sectorSize))
		}
	}

	// Mini FAT: consecutive chains per mini stream.
	miniFAT := make([]uint32, miniFATSectors*sectorSize/4)
	for i := range miniFAT {
		miniFAT[i] = sectFree
	}
	for i, s := range streams {
		if !placements[i].mini {
			continue
		}
		count := uint32((len(s.Data) + miniSector - 1) / miniSector)
		start := placements[i].start
		for j := uint32(0); j < count; j++ {
			if j == count-1 {
				miniFAT[start+j] = sectEndChain
			} else {
				miniFAT[start+j] = start + j + 1
			}
		}
	}

	// Directory entries: root first, then one per stream chained as
	// right siblings.
	var dir bytes.Buffer
	rootStart := uint32(sectEndChain)
	if miniStreamSectors > 0 {
		rootStart = miniStreamStart
	}
	rootChild := uint32(noStream)
	if len(streams) > 0 {
		rootChild = 1
	}
	writeDirEntry(&dir, "Root Entry", 5, noStream, rootChild, rootStart, uint64(miniStreamBytes))
	for i, s := range streams {
		right := uint32(noStream)
		if i < len(streams)-1 {
			right = uint32(i + 2)
		}
		start := uint32(sectEndChain)
		if len(s.Data) > 0 {
			start = placements[i].start
		}
		writeDirEntry(&dir, s.Name, 2, right, noStream, start, uint64(len(s.Data)))
	}
	for dir.Len()%sectorSize != 0 {
		dir.WriteByte(0)
	}

	var img bytes.Buffer
	writeHeader(&img, shift, dirStart, miniFATStart, uint32(miniFATSectors), totalMini > 0, dirSectors)
	// The 512-byte header pads out to a full sector on version 4.
	for img.Len() < sectorSize {
		img.WriteByte(0)
	}

	for _, entry := range fat {
		writeUint32(&img, entry)
	}
	img.Write(dir.Bytes())
	if miniFATSectors > 0 {
		for _, entry := range miniFAT {
			writeUint32(&img, entry)
		}
	}
	if miniStreamSectors > 0 {
		var mini bytes.Buffer
		for i, s := range streams {
			if !placements[i].mini {
				continue
			}
			mini.Write(s.Data)
			for mini.Len()%miniSector != 0 {
				mini.WriteByte(0)
			}
		}
		for mini.Len()%sectorSize != 0 {
			mini.WriteByte(0)
		}
		img.Write(mini.Bytes())
	}
	for i, s := range streams {
		if placements[i].mini || len(s.Data) == 0 {
			continue
		}
		img.Write(s.Data)
		for img.Len()%sectorSize != 0 {
			img.WriteByte(0)
		}
	}
	return img.Bytes()
}

func writeHeader(buf *bytes.Buffer, shift uint, firstDir, firstMiniFAT, numMiniFAT uint32, hasMini bool, dirSectors int) {
	major := uint16(3)
	dirCount := uint32(0)
	if shift == 12 {
		major = 4
		dirCount = uint32(dirSectors)
	}
	buf.Write([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	buf.Write(make([]byte, 16))     // CLSID
	writeUint16(buf, 0x3E)          // minor version
	writeUint16(buf, major)         // major version
	writeUint16(buf, 0xFFFE)        // byte order
	writeUint16(buf, uint16(shift)) // sector shift
	writeUint16(buf, 6)             // mini sector shift
	buf.Write(make([]byte, 6))      // reserved
	writeUint32(buf, dirCount)      // directory sector count (v4 only)
	writeUint32(buf, 1)          // FAT sector count
	writeUint32(buf, firstDir)   // first directory sector
	writeUint32(buf, 0)          // transaction signature
	writeUint32(buf, miniCutoff) // mini stream cutoff
	if hasMini {
		writeUint32(buf, firstMiniFAT)
		writeUint32(buf, numMiniFAT)
	} else {
		writeUint32(buf, sectEndChain)
		writeUint32(buf, 0)
	}
	writeUint32(buf, sectEndChain) // first DIFAT sector
	writeUint32(buf, 0)            // DIFAT sector count
	writeUint32(buf, 0)            // DIFAT[0]: the FAT sector
	for range 108 {
		writeUint32(buf, sectFree)
	}
}

func writeDirEntry(buf *bytes.Buffer, name string, entryType byte, right, child, start uint32, size uint64) {
	units := utf16.Encode([]rune(name))
	nameBytes := make([]byte, 64)
	for i, u := range units {
		binary.LittleEndian.PutUint16(nameBytes[i*2:], u)
	}
	buf.Write(nameBytes)
	writeUint16(buf, uint16((len(units)+1)*2))
	buf.WriteByte(entryType)
	buf.WriteByte(1) // black
	writeUint32(buf, noStream)
	writeUint32(buf, right)
	writeUint32(buf, child)
	buf.Write(make([]byte, 36)) // CLSID, state bits, timestamps
	writeUint32(buf, start)
	writeUint64(buf, size)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

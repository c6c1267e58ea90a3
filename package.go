package msi

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/marcinotorowski/go-msi/internal/cab"
	"github.com/marcinotorowski/go-msi/internal/cfb"
)

// ByteSource provides random access to the package bytes.
//
// os.File and bytes.Reader satisfy it directly.
type ByteSource = cfb.ByteSource

// Cabinet is a parsed cabinet archive embedded in (or shipped next to)
// a package.
type Cabinet = cab.Cabinet

// CabinetFile describes one member of a cabinet.
type CabinetFile = cab.File

// DefaultMaxStreamSize is the per-stream size limit used when no
// WithMaxStreamSize option is set (256MB).
const DefaultMaxStreamSize = 256 << 20

// StreamInfo describes one stream of the package.
type StreamInfo struct {
	// Name is the decoded logical stream name.
	Name string

	// RawName is the stream name as stored in the container, including
	// packed codepoints.
	RawName string

	// Table reports whether the stream holds an installer table.
	Table bool

	Size uint64
}

// Package provides read-only access to a Windows Installer package:
// its streams, string pool, tables and the directory layout encoded in
// them.
//
// A Package is safe for concurrent readers. Metadata (string pool,
// table catalog) is parsed once on first use.
type Package struct {
	file          *cfb.File
	closer        *os.File
	maxStreamSize uint64
	logger        *slog.Logger

	poolOnce sync.Once
	pool     *StringPool
	poolErr  error

	catalogOnce sync.Once
	catalog     map[string][]Column
	tableNames  []string
	catalogErr  error
}

// Open opens the package at path.
func Open(path string, opts ...Option) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("msi: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("msi: stat %s: %w", path, err)
	}
	p, err := New(fileSource{f: f, size: info.Size()}, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.closer = f
	return p, nil
}

// New creates a Package reading from src.
func New(src ByteSource, opts ...Option) (*Package, error) {
	p := &Package{maxStreamSize: DefaultMaxStreamSize}
	for _, opt := range opts {
		opt(p)
	}
	file, err := cfb.Open(src, cfb.WithMaxStreamSize(p.maxStreamSize))
	if err != nil {
		return nil, err
	}
	p.file = file
	p.log().Debug("opened package",
		"sectorSize", file.SectorSize(),
		"streams", len(file.Entries()))
	return p, nil
}

// Close releases the underlying file when the package was opened from a
// path. It is a no-op for caller-supplied sources.
func (p *Package) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Package) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// SectorSize returns the container's sector size in bytes.
func (p *Package) SectorSize() int {
	return p.file.SectorSize()
}

// Streams returns the package's streams with decoded names, in
// container order.
func (p *Package) Streams() []StreamInfo {
	entries := p.file.Entries()
	infos := make([]StreamInfo, 0, len(entries))
	for _, e := range entries {
		if e.Type != cfb.TypeStream {
			continue
		}
		name, table := decodeStreamName(e.Name)
		infos = append(infos, StreamInfo{
			Name:    name,
			RawName: e.Name,
			Table:   table,
			Size:    e.Size,
		})
	}
	return infos
}

// ReadStream reads the full content of the stream with the given
// logical name. Table streams are addressed by Table and friends, not
// here.
func (p *Package) ReadStream(name string) ([]byte, error) {
	return p.file.Stream(encodeStreamName(name, false))
}

// Strings returns the package's string pool.
func (p *Package) Strings() (*StringPool, error) {
	p.poolOnce.Do(func() {
		poolData, err := p.file.Stream(encodeStreamName("_StringPool", true))
		if err != nil {
			p.poolErr = fmt.Errorf("%w: %v", ErrNoStringPool, err)
			return
		}
		textData, err := p.file.Stream(encodeStreamName("_StringData", true))
		if err != nil {
			p.poolErr = fmt.Errorf("%w: %v", ErrNoStringPool, err)
			return
		}
		p.pool, p.poolErr = parseStringPool(poolData, textData)
		if p.poolErr == nil {
			p.log().Debug("loaded string pool",
				"codepage", p.pool.Codepage(),
				"strings", p.pool.Len(),
				"longRefs", p.pool.LongRefs())
		}
	})
	return p.pool, p.poolErr
}

// TableNames returns the names of the package's tables in catalog
// order.
func (p *Package) TableNames() ([]string, error) {
	if err := p.loadCatalog(); err != nil {
		return nil, err
	}
	return p.tableNames, nil
}

// Table returns the named table.
func (p *Package) Table(name string) (*Table, error) {
	if err := p.loadCatalog(); err != nil {
		return nil, err
	}
	columns, ok := p.catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	data, err := p.file.Stream(encodeStreamName(name, true))
	if err != nil {
		// A cataloged table without a stream is simply empty.
		data = nil
	}
	return newTable(name, columns, p.pool, data)
}

// Tables returns all of the package's tables in catalog order.
func (p *Package) Tables() ([]*Table, error) {
	names, err := p.TableNames()
	if err != nil {
		return nil, err
	}
	tables := make([]*Table, 0, len(names))
	for _, name := range names {
		t, err := p.Table(name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// loadCatalog parses the !_Tables and !_Columns metadata tables.
func (p *Package) loadCatalog() error {
	p.catalogOnce.Do(func() {
		pool, err := p.Strings()
		if err != nil {
			p.catalogErr = err
			return
		}
		refSize := pool.refSize()

		tablesData, err := p.file.Stream(encodeStreamName("_Tables", true))
		if err != nil {
			p.catalogErr = fmt.Errorf("%w: %v", ErrCorrupt, err)
			return
		}
		if len(tablesData)%refSize != 0 {
			p.catalogErr = fmt.Errorf("%w: _Tables stream is %d bytes", ErrCorrupt, len(tablesData))
			return
		}
		p.catalog = make(map[string][]Column)
		for off := 0; off < len(tablesData); off += refSize {
			name := pool.Get(readRef(tablesData[off:], refSize))
			p.tableNames = append(p.tableNames, name)
			p.catalog[name] = nil
		}

		columnsData, err := p.file.Stream(encodeStreamName("_Columns", true))
		if err != nil {
			p.catalogErr = fmt.Errorf("%w: %v", ErrCorrupt, err)
			return
		}
		// _Columns has a fixed schema: Table (string), Number (int16),
		// Name (string), Type (int16), stored column-major.
		rowWidth := 2*refSize + 4
		if len(columnsData)%rowWidth != 0 {
			p.catalogErr = fmt.Errorf("%w: _Columns stream is %d bytes", ErrCorrupt, len(columnsData))
			return
		}
		rows := len(columnsData) / rowWidth
		tableCol := columnsData[0 : rows*refSize]
		numberCol := columnsData[rows*refSize : rows*(refSize+2)]
		nameCol := columnsData[rows*(refSize+2) : rows*(2*refSize+2)]
		typeCol := columnsData[rows*(2*refSize+2):]
		for i := range rows {
			tableName := pool.Get(readRef(tableCol[i*refSize:], refSize))
			if _, ok := p.catalog[tableName]; !ok {
				// Column rows for uncataloged tables are skipped.
				continue
			}
			number := int(readUint16(numberCol[i*2:])) - 0x8000
			colType := ColumnType(readUint16(typeCol[i*2:]) - 0x8000)
			p.catalog[tableName] = append(p.catalog[tableName], Column{
				Name:   pool.Get(readRef(nameCol[i*refSize:], refSize)),
				Number: number,
				Type:   colType,
			})
		}
		for name, columns := range p.catalog {
			sort.Slice(columns, func(i, j int) bool {
				return columns[i].Number < columns[j].Number
			})
			p.catalog[name] = columns
		}
		p.log().Debug("loaded table catalog", "tables", len(p.tableNames))
	})
	return p.catalogErr
}

// Directories returns the rows of the Directory table.
func (p *Package) Directories() ([]DirectoryEntry, error) {
	t, err := p.Table("Directory")
	if err != nil {
		return nil, err
	}
	key := t.ColumnIndex("Directory")
	parent := t.ColumnIndex("Directory_Parent")
	defaultDir := t.ColumnIndex("DefaultDir")
	if key < 0 || parent < 0 || defaultDir < 0 {
		return nil, fmt.Errorf("%w: Directory table misses a required column", ErrCorrupt)
	}
	entries := make([]DirectoryEntry, 0, t.Len())
	for row := range t.Rows() {
		entries = append(entries, DirectoryEntry{
			Key:        row.String(key),
			Parent:     row.String(parent),
			DefaultDir: ParseDirectoryName(row.String(defaultDir)),
		})
	}
	return entries, nil
}

// DirectoryTree resolves the package's directory rows into a tree.
func (p *Package) DirectoryTree() (*DirectoryTree, error) {
	entries, err := p.Directories()
	if err != nil {
		return nil, err
	}
	return NewDirectoryTree(entries), nil
}

// Media returns the rows of the Media table.
func (p *Package) Media() ([]MediaEntry, error) {
	t, err := p.Table("Media")
	if err != nil {
		return nil, err
	}
	diskID := t.ColumnIndex("DiskId")
	lastSequence := t.ColumnIndex("LastSequence")
	diskPrompt := t.ColumnIndex("DiskPrompt")
	cabinet := t.ColumnIndex("Cabinet")
	volumeLabel := t.ColumnIndex("VolumeLabel")
	source := t.ColumnIndex("Source")

	entries := make([]MediaEntry, 0, t.Len())
	for row := range t.Rows() {
		e := MediaEntry{}
		if diskID >= 0 {
			e.DiskID, _ = row.Int(diskID)
		}
		if lastSequence >= 0 {
			e.LastSequence, _ = row.Int(lastSequence)
		}
		if diskPrompt >= 0 {
			e.DiskPrompt = row.String(diskPrompt)
		}
		if cabinet >= 0 {
			e.Cabinet = row.String(cabinet)
		}
		if volumeLabel >= 0 {
			e.VolumeLabel = row.String(volumeLabel)
		}
		if source >= 0 {
			e.Source = row.String(source)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// OpenCabinet opens a cabinet by its Media table name. Embedded
// cabinets ("#stream") are read from the package; external cabinets
// return ErrExternalCabinet.
func (p *Package) OpenCabinet(name string) (*Cabinet, error) {
	stream, ok := strings.CutPrefix(name, "#")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExternalCabinet, name)
	}
	data, err := p.file.Stream(encodeStreamName(stream, false))
	if err != nil {
		return nil, err
	}
	p.log().Debug("opened embedded cabinet", "stream", stream, "bytes", len(data))
	return cab.Parse(data)
}

// readRef decodes a 2- or 3-byte little-endian string reference.
func readRef(b []byte, size int) int {
	if size == 3 {
		return int(b[0]) | int(b[1])<<8 | int(b[2])<<16
	}
	return int(b[0]) | int(b[1])<<8
}

func readUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// fileSource adapts an os.File to the ByteSource interface.
type fileSource struct {
	f    *os.File
	size int64
}

func (s fileSource) ReadAt(b []byte, off int64) (int, error) {
	return s.f.ReadAt(b, off)
}

func (s fileSource) Size() int64 {
	return s.size
}

// Package cfb reads the Microsoft Compound File Binary container
// format, the structured-storage layout that installer packages are
// built on. It is a read-only parser: the FAT, directory and mini FAT
// are decoded once at open time and stream content is fetched on demand
// through the caller's ByteSource.
package cfb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf16"
)

// Sentinel errors.
var (
	// ErrNotCompoundFile is returned when the header signature is missing.
	ErrNotCompoundFile = errors.New("cfb: not a compound file")

	// ErrCorrupt is returned when the container structure is malformed.
	ErrCorrupt = errors.New("cfb: corrupt compound file")

	// ErrStreamNotFound is returned when no stream has the requested name.
	ErrStreamNotFound = errors.New("cfb: stream not found")

	// ErrStreamTooLarge is returned when a stream exceeds the configured limit.
	ErrStreamTooLarge = errors.New("cfb: stream exceeds size limit")
)

// Special sector values used in FAT chains and the DIFAT.
const (
	sectFree     = 0xFFFFFFFF
	sectEndChain = 0xFFFFFFFE
	sectFAT      = 0xFFFFFFFD
	sectDIFAT    = 0xFFFFFFFC
	maxRegSect   = 0xFFFFFFFA

	noStream = 0xFFFFFFFF
)

const (
	headerSize     = 512
	dirEntrySize   = 128
	miniSectorSize = 64

	headerDIFATEntries = 109
)

var signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// ByteSource provides random access to the container bytes.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// EntryType classifies a directory entry.
type EntryType uint8

// Directory entry types.
const (
	TypeUnknown EntryType = 0
	TypeStorage EntryType = 1
	TypeStream  EntryType = 2
	TypeRoot    EntryType = 5
)

// DirEntry is one directory entry of the compound file. Name holds the
// raw UTF-16-decoded stream name, including any packed codepoints.
type DirEntry struct {
	Name        string
	Type        EntryType
	StartSector uint32
	Size        uint64
}

// File is a parsed compound file.
//
// File methods are safe for concurrent use; the underlying ByteSource
// must support concurrent ReadAt calls (os.File and bytes.Reader do).
type File struct {
	src           ByteSource
	sectorShift   uint
	miniCutoff    uint32
	version       uint16
	fat           []uint32
	miniFAT       []uint32
	root          DirEntry
	entries       []DirEntry
	maxStreamSize uint64

	miniOnce sync.Once
	miniData []byte
	miniErr  error
}

// Option configures a File.
type Option func(*File)

// WithMaxStreamSize limits the size of any single stream read.
// Set limit to 0 to disable the limit.
func WithMaxStreamSize(limit uint64) Option {
	return func(f *File) {
		f.maxStreamSize = limit
	}
}

// Open parses the container structure of src.
func Open(src ByteSource, opts ...Option) (*File, error) {
	f := &File{src: src}
	for _, opt := range opts {
		opt(f)
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(io.NewSectionReader(src, 0, headerSize), hdr[:]); err != nil {
		return nil, ErrNotCompoundFile
	}
	for i, b := range signature {
		if hdr[i] != b {
			return nil, ErrNotCompoundFile
		}
	}
	if binary.LittleEndian.Uint16(hdr[28:30]) != 0xFFFE {
		return nil, fmt.Errorf("%w: bad byte order mark", ErrCorrupt)
	}
	f.version = binary.LittleEndian.Uint16(hdr[26:28])
	f.sectorShift = uint(binary.LittleEndian.Uint16(hdr[30:32]))
	if f.sectorShift != 9 && f.sectorShift != 12 {
		return nil, fmt.Errorf("%w: sector shift %d", ErrCorrupt, f.sectorShift)
	}
	if shift := binary.LittleEndian.Uint16(hdr[32:34]); shift != 6 {
		return nil, fmt.Errorf("%w: mini sector shift %d", ErrCorrupt, shift)
	}
	f.miniCutoff = binary.LittleEndian.Uint32(hdr[56:60])

	numFAT := binary.LittleEndian.Uint32(hdr[44:48])
	firstDir := binary.LittleEndian.Uint32(hdr[48:52])
	firstMiniFAT := binary.LittleEndian.Uint32(hdr[60:64])
	numMiniFAT := binary.LittleEndian.Uint32(hdr[64:68])
	firstDIFAT := binary.LittleEndian.Uint32(hdr[68:72])
	numDIFAT := binary.LittleEndian.Uint32(hdr[72:76])

	difat, err := f.readDIFAT(hdr[:], firstDIFAT, numDIFAT)
	if err != nil {
		return nil, err
	}
	if err := f.readFAT(difat, numFAT); err != nil {
		return nil, err
	}
	if err := f.readMiniFAT(firstMiniFAT, numMiniFAT); err != nil {
		return nil, err
	}
	if err := f.readDirectory(firstDir); err != nil {
		return nil, err
	}
	return f, nil
}

// SectorSize returns the container's sector size in bytes.
func (f *File) SectorSize() int {
	return 1 << f.sectorShift
}

// Version returns the major format version (3 or 4).
func (f *File) Version() uint16 {
	return f.version
}

// Root returns the root directory entry.
func (f *File) Root() DirEntry {
	return f.root
}

// Entries returns all allocated directory entries other than the root,
// in directory order. The returned slice is shared and must not be
// modified.
func (f *File) Entries() []DirEntry {
	return f.entries
}

// Stream reads the full content of the stream with the given raw name.
func (f *File) Stream(name string) ([]byte, error) {
	for _, e := range f.entries {
		if e.Type == TypeStream && e.Name == name {
			return f.ReadStream(e)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrStreamNotFound, name)
}

// ReadStream reads the full content of the given stream entry.
func (f *File) ReadStream(e DirEntry) ([]byte, error) {
	if f.maxStreamSize > 0 && e.Size > f.maxStreamSize {
		return nil, fmt.Errorf("%w: %q is %d bytes", ErrStreamTooLarge, e.Name, e.Size)
	}
	if e.Size == 0 {
		return nil, nil
	}
	if e.Type != TypeRoot && e.Size < uint64(f.miniCutoff) {
		return f.readMiniStream(e)
	}
	return f.readChain(e.StartSector, e.Size)
}

// sectorOffset returns the byte offset of a regular sector.
func (f *File) sectorOffset(sect uint32) int64 {
	return int64(sect+1) << f.sectorShift
}

// readSector reads one regular sector, zero-filling past end of file.
func (f *File) readSector(sect uint32) ([]byte, error) {
	buf := make([]byte, f.SectorSize())
	n, err := f.src.ReadAt(buf, f.sectorOffset(sect))
	if err != nil && !(errors.Is(err, io.EOF) && n > 0) {
		return nil, fmt.Errorf("%w: reading sector %d: %v", ErrCorrupt, sect, err)
	}
	return buf, nil
}

// chain walks a FAT chain from start, guarding against cycles and
// out-of-range sectors.
func chain(fat []uint32, start uint32, kind string) ([]uint32, error) {
	var sectors []uint32
	for sect := start; sect != sectEndChain; {
		if sect > maxRegSect || int(sect) >= len(fat) {
			return nil, fmt.Errorf("%w: %s chain sector %#x out of range", ErrCorrupt, kind, sect)
		}
		sectors = append(sectors, sect)
		if len(sectors) > len(fat) {
			return nil, fmt.Errorf("%w: %s chain cycle", ErrCorrupt, kind)
		}
		sect = fat[sect]
	}
	return sectors, nil
}

// readChain reads size bytes following the FAT chain from start.
func (f *File) readChain(start uint32, size uint64) ([]byte, error) {
	sectors, err := chain(f.fat, start, "stream")
	if err != nil {
		return nil, err
	}
	sectorSize := uint64(f.SectorSize())
	need := (size + sectorSize - 1) / sectorSize
	if uint64(len(sectors)) < need {
		return nil, fmt.Errorf("%w: stream chain too short", ErrCorrupt)
	}
	out := make([]byte, 0, need*sectorSize)
	for _, sect := range sectors[:need] {
		buf, err := f.readSector(sect)
		if err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}
	return out[:size], nil
}

// readMiniStream reads a stream stored inside the root's mini stream.
func (f *File) readMiniStream(e DirEntry) ([]byte, error) {
	f.miniOnce.Do(func() {
		f.miniData, f.miniErr = f.readChain(f.root.StartSector, f.root.Size)
	})
	if f.miniErr != nil {
		return nil, f.miniErr
	}
	sectors, err := chain(f.miniFAT, e.StartSector, "mini stream")
	if err != nil {
		return nil, err
	}
	need := (e.Size + miniSectorSize - 1) / miniSectorSize
	if uint64(len(sectors)) < need {
		return nil, fmt.Errorf("%w: mini stream chain too short", ErrCorrupt)
	}
	out := make([]byte, 0, need*miniSectorSize)
	for _, sect := range sectors[:need] {
		off := int(sect) * miniSectorSize
		if off+miniSectorSize > len(f.miniData) {
			return nil, fmt.Errorf("%w: mini sector %d out of range", ErrCorrupt, sect)
		}
		out = append(out, f.miniData[off:off+miniSectorSize]...)
	}
	return out[:e.Size], nil
}

// readDIFAT collects the FAT sector locations from the header and any
// chained DIFAT sectors.
func (f *File) readDIFAT(hdr []byte, first, count uint32) ([]uint32, error) {
	difat := make([]uint32, 0, headerDIFATEntries)
	for i := range headerDIFATEntries {
		difat = append(difat, binary.LittleEndian.Uint32(hdr[76+i*4:]))
	}
	perSector := f.SectorSize()/4 - 1
	sect := first
	for range count {
		if sect > maxRegSect {
			break
		}
		buf, err := f.readSector(sect)
		if err != nil {
			return nil, err
		}
		for i := range perSector {
			difat = append(difat, binary.LittleEndian.Uint32(buf[i*4:]))
		}
		sect = binary.LittleEndian.Uint32(buf[perSector*4:])
	}
	return difat, nil
}

func (f *File) readFAT(difat []uint32, numFAT uint32) error {
	entriesPerSector := f.SectorSize() / 4
	f.fat = make([]uint32, 0, int(numFAT)*entriesPerSector)
	taken := uint32(0)
	for _, sect := range difat {
		if taken == numFAT || sect > maxRegSect {
			break
		}
		buf, err := f.readSector(sect)
		if err != nil {
			return err
		}
		for i := range entriesPerSector {
			f.fat = append(f.fat, binary.LittleEndian.Uint32(buf[i*4:]))
		}
		taken++
	}
	if taken != numFAT {
		return fmt.Errorf("%w: DIFAT names %d FAT sectors, found %d", ErrCorrupt, numFAT, taken)
	}
	return nil
}

func (f *File) readMiniFAT(first, count uint32) error {
	if first > maxRegSect || count == 0 {
		return nil
	}
	sectors, err := chain(f.fat, first, "mini FAT")
	if err != nil {
		return err
	}
	entriesPerSector := f.SectorSize() / 4
	f.miniFAT = make([]uint32, 0, len(sectors)*entriesPerSector)
	for _, sect := range sectors {
		buf, err := f.readSector(sect)
		if err != nil {
			return err
		}
		for i := range entriesPerSector {
			f.miniFAT = append(f.miniFAT, binary.LittleEndian.Uint32(buf[i*4:]))
		}
	}
	return nil
}

func (f *File) readDirectory(first uint32) error {
	sectors, err := chain(f.fat, first, "directory")
	if err != nil {
		return err
	}
	entriesPerSector := f.SectorSize() / dirEntrySize
	foundRoot := false
	for _, sect := range sectors {
		buf, err := f.readSector(sect)
		if err != nil {
			return err
		}
		for i := range entriesPerSector {
			e, ok := parseDirEntry(buf[i*dirEntrySize : (i+1)*dirEntrySize])
			if !ok {
				continue
			}
			if f.sectorShift == 9 {
				// Version 3 writers leave garbage in the upper size bits.
				e.Size &= 0xFFFFFFFF
			}
			if e.Type == TypeRoot && !foundRoot {
				f.root = e
				foundRoot = true
				continue
			}
			f.entries = append(f.entries, e)
		}
	}
	if !foundRoot {
		return fmt.Errorf("%w: no root directory entry", ErrCorrupt)
	}
	return nil
}

func parseDirEntry(buf []byte) (DirEntry, bool) {
	t := EntryType(buf[66])
	if t != TypeStorage && t != TypeStream && t != TypeRoot {
		return DirEntry{}, false
	}
	nameLen := int(binary.LittleEndian.Uint16(buf[64:66]))
	if nameLen < 2 || nameLen > 64 {
		return DirEntry{}, false
	}
	units := make([]uint16, nameLen/2-1)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(buf[i*2:])
	}
	return DirEntry{
		Name:        string(utf16.Decode(units)),
		Type:        t,
		StartSector: binary.LittleEndian.Uint32(buf[116:120]),
		Size:        binary.LittleEndian.Uint64(buf[120:128]),
	}, true
}

// Package cab reads Microsoft cabinet (.cab) archives, the format
// installer packages embed their file payloads in. Store and MSZIP
// folders are supported; MSZIP blocks are raw deflate streams with a
// 32 KiB history window carried across blocks.
package cab

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// Sentinel errors.
var (
	// ErrNotCabinet is returned when the MSCF signature is missing.
	ErrNotCabinet = errors.New("cab: not a cabinet")

	// ErrCorrupt is returned when the cabinet structure is malformed.
	ErrCorrupt = errors.New("cab: corrupt cabinet")

	// ErrFileNotFound is returned when no member has the requested name.
	ErrFileNotFound = errors.New("cab: file not found")

	// ErrUnsupportedCompression is returned for folders compressed with
	// a scheme other than store or MSZIP.
	ErrUnsupportedCompression = errors.New("cab: unsupported compression")
)

// Folder compression methods, from the low nibble of typeCompress.
const (
	compStore   = 0
	compMSZIP   = 1
	compQuantum = 2
	compLZX     = 3
)

const (
	headerFlagPrevCabinet = 0x0001
	headerFlagNextCabinet = 0x0002
	headerFlagReserve     = 0x0004

	maxBlockSize = 32768
)

// File describes one member of a cabinet.
type File struct {
	Name         string
	Size         uint32
	FolderIndex  int
	FolderOffset uint32
	Date         uint16
	Time         uint16
	Attributes   uint16
}

type folder struct {
	dataOffset  uint32
	blockCount  int
	compression uint16
}

// Cabinet is a parsed cabinet archive. Member content is decompressed
// per folder on first access and cached.
//
// Cabinet is safe for concurrent use.
type Cabinet struct {
	data        []byte
	folders     []folder
	files       []File
	dataReserve int

	mu       sync.Mutex
	unpacked [][]byte
}

// Parse reads the cabinet structure from data. The slice is retained;
// callers must not modify it afterwards.
func Parse(data []byte) (*Cabinet, error) {
	if len(data) < 36 || !bytes.Equal(data[0:4], []byte("MSCF")) {
		return nil, ErrNotCabinet
	}
	coffFiles := binary.LittleEndian.Uint32(data[16:20])
	folderCount := int(binary.LittleEndian.Uint16(data[26:28]))
	fileCount := int(binary.LittleEndian.Uint16(data[28:30]))
	flags := binary.LittleEndian.Uint16(data[30:32])

	c := &Cabinet{data: data}
	off := 36
	folderReserve := 0
	if flags&headerFlagReserve != 0 {
		if off+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated reserve header", ErrCorrupt)
		}
		headerReserve := int(binary.LittleEndian.Uint16(data[off : off+2]))
		folderReserve = int(data[off+2])
		c.dataReserve = int(data[off+3])
		off += 4 + headerReserve
	}
	if flags&headerFlagPrevCabinet != 0 {
		for range 2 {
			var err error
			if _, off, err = readCString(data, off); err != nil {
				return nil, err
			}
		}
	}
	if flags&headerFlagNextCabinet != 0 {
		for range 2 {
			var err error
			if _, off, err = readCString(data, off); err != nil {
				return nil, err
			}
		}
	}

	for range folderCount {
		if off+8+folderReserve > len(data) {
			return nil, fmt.Errorf("%w: truncated folder entry", ErrCorrupt)
		}
		c.folders = append(c.folders, folder{
			dataOffset:  binary.LittleEndian.Uint32(data[off : off+4]),
			blockCount:  int(binary.LittleEndian.Uint16(data[off+4 : off+6])),
			compression: binary.LittleEndian.Uint16(data[off+6 : off+8]),
		})
		off += 8 + folderReserve
	}
	c.unpacked = make([][]byte, len(c.folders))

	off = int(coffFiles)
	for range fileCount {
		if off+16 > len(data) {
			return nil, fmt.Errorf("%w: truncated file entry", ErrCorrupt)
		}
		f := File{
			Size:         binary.LittleEndian.Uint32(data[off : off+4]),
			FolderOffset: binary.LittleEndian.Uint32(data[off+4 : off+8]),
			FolderIndex:  int(binary.LittleEndian.Uint16(data[off+8 : off+10])),
			Date:         binary.LittleEndian.Uint16(data[off+10 : off+12]),
			Time:         binary.LittleEndian.Uint16(data[off+12 : off+14]),
			Attributes:   binary.LittleEndian.Uint16(data[off+14 : off+16]),
		}
		name, next, err := readCString(data, off+16)
		if err != nil {
			return nil, err
		}
		f.Name = name
		off = next
		if f.FolderIndex >= len(c.folders) {
			return nil, fmt.Errorf("%w: file %q references folder %d of %d", ErrCorrupt, f.Name, f.FolderIndex, len(c.folders))
		}
		c.files = append(c.files, f)
	}
	return c, nil
}

// Files returns the cabinet's members in directory order. The returned
// slice is shared and must not be modified.
func (c *Cabinet) Files() []File {
	return c.files
}

// Extract returns the content of the named member.
func (c *Cabinet) Extract(name string) ([]byte, error) {
	for _, f := range c.files {
		if f.Name == name {
			return c.extract(f)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrFileNotFound, name)
}

func (c *Cabinet) extract(f File) ([]byte, error) {
	folderData, err := c.folderData(f.FolderIndex)
	if err != nil {
		return nil, err
	}
	end := uint64(f.FolderOffset) + uint64(f.Size)
	if end > uint64(len(folderData)) {
		return nil, fmt.Errorf("%w: %q extends past folder data", ErrCorrupt, f.Name)
	}
	return folderData[f.FolderOffset:end], nil
}

// folderData decompresses a folder's data blocks, caching the result.
func (c *Cabinet) folderData(index int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unpacked[index] != nil {
		return c.unpacked[index], nil
	}

	fol := c.folders[index]
	switch fol.compression & 0x000F {
	case compStore, compMSZIP:
	default:
		return nil, fmt.Errorf("%w: folder %d uses method %d", ErrUnsupportedCompression, index, fol.compression&0x000F)
	}

	var out []byte
	off := int(fol.dataOffset)
	for range fol.blockCount {
		if off+8+c.dataReserve > len(c.data) {
			return nil, fmt.Errorf("%w: truncated data block header", ErrCorrupt)
		}
		packed := int(binary.LittleEndian.Uint16(c.data[off+4 : off+6]))
		unpacked := int(binary.LittleEndian.Uint16(c.data[off+6 : off+8]))
		off += 8 + c.dataReserve
		if off+packed > len(c.data) {
			return nil, fmt.Errorf("%w: truncated data block", ErrCorrupt)
		}
		block := c.data[off : off+packed]
		off += packed

		switch fol.compression & 0x000F {
		case compStore:
			if packed != unpacked {
				return nil, fmt.Errorf("%w: stored block sizes disagree", ErrCorrupt)
			}
			out = append(out, block...)
		case compMSZIP:
			plain, err := inflateBlock(block, unpacked, out)
			if err != nil {
				return nil, err
			}
			out = append(out, plain...)
		}
	}
	c.unpacked[index] = out
	return out, nil
}

// inflateBlock decompresses one MSZIP block. history is the folder data
// decompressed so far; its tail primes the deflate window.
func inflateBlock(block []byte, unpackedSize int, history []byte) ([]byte, error) {
	if len(block) < 2 || block[0] != 'C' || block[1] != 'K' {
		return nil, fmt.Errorf("%w: missing MSZIP block signature", ErrCorrupt)
	}
	dict := history
	if len(dict) > maxBlockSize {
		dict = dict[len(dict)-maxBlockSize:]
	}
	fr := flate.NewReaderDict(bytes.NewReader(block[2:]), dict)
	defer fr.Close()
	out := make([]byte, unpackedSize)
	if _, err := io.ReadFull(fr, out); err != nil {
		return nil, fmt.Errorf("%w: inflating MSZIP block: %v", ErrCorrupt, err)
	}
	return out, nil
}

func readCString(data []byte, off int) (string, int, error) {
	if off < 0 || off >= len(data) {
		return "", 0, fmt.Errorf("%w: unterminated string", ErrCorrupt)
	}
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		return "", 0, fmt.Errorf("%w: unterminated string", ErrCorrupt)
	}
	return string(data[off : off+end]), off + end + 1, nil
}

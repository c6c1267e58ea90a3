package msi

import (
	"errors"

	"github.com/marcinotorowski/go-msi/internal/cab"
	"github.com/marcinotorowski/go-msi/internal/cfb"
)

// Errors re-exported from the container reader.
var (
	// ErrNotCompoundFile is returned when the file is not a compound
	// file and therefore not an installer package.
	ErrNotCompoundFile = cfb.ErrNotCompoundFile

	// ErrStreamNotFound is returned when a named stream does not exist.
	ErrStreamNotFound = cfb.ErrStreamNotFound

	// ErrStreamTooLarge is returned when a stream exceeds the configured
	// size limit.
	ErrStreamTooLarge = cfb.ErrStreamTooLarge
)

// Errors re-exported from the cabinet reader.
var (
	// ErrNotCabinet is returned when an embedded cabinet stream is not a
	// cabinet archive.
	ErrNotCabinet = cab.ErrNotCabinet

	// ErrCabinetFileNotFound is returned when a cabinet has no member
	// with the requested name.
	ErrCabinetFileNotFound = cab.ErrFileNotFound

	// ErrUnsupportedCompression is returned for cabinet folders using a
	// compression scheme other than store or MSZIP.
	ErrUnsupportedCompression = cab.ErrUnsupportedCompression
)

// Sentinel errors specific to the msi package.
var (
	// ErrCorrupt is returned when package metadata is malformed.
	ErrCorrupt = errors.New("msi: corrupt package")

	// ErrTableNotFound is returned when the package has no table with
	// the requested name.
	ErrTableNotFound = errors.New("msi: table not found")

	// ErrNoStringPool is returned when the string pool streams are
	// missing.
	ErrNoStringPool = errors.New("msi: string pool missing")

	// ErrDirectoryCycle is returned when Directory parent links form a
	// cycle.
	ErrDirectoryCycle = errors.New("msi: directory parent cycle")

	// ErrExternalCabinet is returned when a Media row names a cabinet
	// stored outside the package.
	ErrExternalCabinet = errors.New("msi: cabinet is external")
)

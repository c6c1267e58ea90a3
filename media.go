package msi

import "strings"

// MediaEntry is one row of the Media table. It describes one disk of
// the installation media and the cabinet holding its files.
type MediaEntry struct {
	DiskID       int
	LastSequence int
	DiskPrompt   string

	// Cabinet names the disk's cabinet. A leading '#' marks a cabinet
	// embedded as a package stream; otherwise the cabinet is an external
	// file next to the package. Empty when the disk carries loose files.
	Cabinet string

	VolumeLabel string
	Source      string
}

// IsEmbedded reports whether the disk's cabinet is stored inside the
// package.
func (e MediaEntry) IsEmbedded() bool {
	return strings.HasPrefix(e.Cabinet, "#")
}

// HasCabinet reports whether the disk carries a cabinet at all.
func (e MediaEntry) HasCabinet() bool {
	return e.Cabinet != ""
}

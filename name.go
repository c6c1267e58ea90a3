package msi

import (
	"fmt"
	"strings"
)

// Name is a read-only view of a combined [short|]long name field.
//
// Installer name fields may carry a short (8.3-style) form and a long
// form separated by '|'. Name splits on the first '|' only; any further
// separators belong to the long form. All accessors return substrings
// that alias the combined input, which must outlive the view. Name never
// copies or mutates the input, and every string is valid input.
type Name struct {
	combined string
}

// ParseName wraps a combined name field.
func ParseName(combined string) Name {
	return Name{combined: combined}
}

// Long returns the long form: the text after the first '|', or the
// entire field when no '|' is present.
func (n Name) Long() string {
	if _, long, ok := strings.Cut(n.combined, "|"); ok {
		return long
	}
	return n.combined
}

// Short returns the short form and whether one is present. A short form
// is present exactly when the field contains a '|'; a field starting
// with '|' has a present but empty short form.
func (n Name) Short() (string, bool) {
	if short, _, ok := strings.Cut(n.combined, "|"); ok {
		return short, true
	}
	return "", false
}

// Combined returns the raw field, untouched.
func (n Name) Combined() string {
	return n.combined
}

// IsLocatedAtParent reports whether the name denotes the parent/current
// directory, conventionally written as a single dot. The long form is
// checked first; the short form is consulted only when one is present
// and the long form is not ".".
func (n Name) IsLocatedAtParent() bool {
	if n.Long() == "." {
		return true
	}
	if short, ok := n.Short(); ok {
		return short == "."
	}
	return false
}

// String returns the display form: "short = S, long = L" when a short
// form is present, otherwise the long form alone. The raw field stays
// available through Combined.
func (n Name) String() string {
	if short, ok := n.Short(); ok {
		return fmt.Sprintf("short = %s, long = %s", short, n.Long())
	}
	return n.Long()
}

// DirectoryName is a read-only view of a combined [source:]target
// directory field, as stored in the Directory table's DefaultDir column.
//
// The field may carry a source name and a target name separated by ':',
// each of which is itself a combined [short|]long name. DirectoryName
// splits on the first ':' only. Like Name, it aliases its input and
// never copies; the input must outlive the view and every derived Name.
type DirectoryName struct {
	combined string
}

// ParseDirectoryName wraps a combined directory field.
func ParseDirectoryName(combined string) DirectoryName {
	return DirectoryName{combined: combined}
}

// Source returns the source name and whether one is present. A source
// is present exactly when the field contains a ':'.
func (d DirectoryName) Source() (Name, bool) {
	if source, _, ok := strings.Cut(d.combined, ":"); ok {
		return ParseName(source), true
	}
	return Name{}, false
}

// Target returns the target name: the text after the first ':', or the
// entire field when no ':' is present.
func (d DirectoryName) Target() Name {
	if _, target, ok := strings.Cut(d.combined, ":"); ok {
		return ParseName(target)
	}
	return ParseName(d.combined)
}

// Combined returns the raw field, untouched.
func (d DirectoryName) Combined() string {
	return d.combined
}

// String returns the display form: "source = [S], target = [T]" when a
// source is present, otherwise the target's display form alone.
func (d DirectoryName) String() string {
	if source, ok := d.Source(); ok {
		return fmt.Sprintf("source = [%s], target = [%s]", source, d.Target())
	}
	return d.Target().String()
}

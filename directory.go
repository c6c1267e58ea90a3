package msi

import "fmt"

// DirectoryEntry is one row of the Directory table.
type DirectoryEntry struct {
	// Key is the row's primary key.
	Key string

	// Parent is the key of the parent directory. A directory is a root
	// when Parent is empty or equals Key.
	Parent string

	// DefaultDir carries the directory's source and target names.
	DefaultDir DirectoryName
}

// IsRoot reports whether the entry has no parent.
func (e DirectoryEntry) IsRoot() bool {
	return e.Parent == "" || e.Parent == e.Key
}

// DirectoryTree resolves Directory rows into filesystem paths by
// walking parent links.
type DirectoryTree struct {
	entries []DirectoryEntry
	byKey   map[string]DirectoryEntry
}

// NewDirectoryTree builds a tree from Directory rows. Rows keep their
// table order in Entries.
func NewDirectoryTree(entries []DirectoryEntry) *DirectoryTree {
	t := &DirectoryTree{
		entries: entries,
		byKey:   make(map[string]DirectoryEntry, len(entries)),
	}
	for _, e := range entries {
		t.byKey[e.Key] = e
	}
	return t
}

// Entries returns the tree's rows in table order. The returned slice is
// shared and must not be modified.
func (t *DirectoryTree) Entries() []DirectoryEntry {
	return t.entries
}

// Entry returns the row with the given key.
func (t *DirectoryTree) Entry(key string) (DirectoryEntry, bool) {
	e, ok := t.byKey[key]
	return e, ok
}

// TargetPath resolves the install-time path of a directory by walking
// its parent chain. Entries whose target name is the parent reference
// contribute no segment. Segments are joined with backslashes, outermost
// first.
func (t *DirectoryTree) TargetPath(key string) (string, error) {
	return t.resolve(key, func(n DirectoryName) Name {
		return n.Target()
	})
}

// SourcePath resolves the source-media path of a directory. Entries
// without a distinct source name fall back to their target name.
func (t *DirectoryTree) SourcePath(key string) (string, error) {
	return t.resolve(key, func(n DirectoryName) Name {
		if src, ok := n.Source(); ok {
			return src
		}
		return n.Target()
	})
}

func (t *DirectoryTree) resolve(key string, pick func(DirectoryName) Name) (string, error) {
	var segments []string
	visited := make(map[string]bool)
	for key != "" {
		if visited[key] {
			return "", fmt.Errorf("%w: at %q", ErrDirectoryCycle, key)
		}
		visited[key] = true
		e, ok := t.byKey[key]
		if !ok {
			// Dangling parent references terminate the walk; the path up
			// to them still resolves.
			break
		}
		name := pick(e.DefaultDir)
		if !name.IsLocatedAtParent() {
			segments = append(segments, name.Long())
		}
		if e.IsRoot() {
			break
		}
		key = e.Parent
	}

	joined := ""
	for i := len(segments) - 1; i >= 0; i-- {
		if joined != "" {
			joined += `\`
		}
		joined += segments[i]
	}
	return joined, nil
}

package msi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dirEntry(key, parent, defaultDir string) DirectoryEntry {
	return DirectoryEntry{Key: key, Parent: parent, DefaultDir: ParseDirectoryName(defaultDir)}
}

func TestDirectoryTreeTargetPath(t *testing.T) {
	t.Parallel()

	tree := NewDirectoryTree([]DirectoryEntry{
		dirEntry("TARGETDIR", "", "SourceDir"),
		dirEntry("ProgramFilesFolder", "TARGETDIR", "PFiles"),
		dirEntry("VendorDir", "ProgramFilesFolder", "ACME"),
		dirEntry("INSTALLDIR", "VendorDir", "short|Example App"),
	})

	got, err := tree.TargetPath("INSTALLDIR")
	require.NoError(t, err)
	assert.Equal(t, `SourceDir\PFiles\ACME\Example App`, got)

	got, err = tree.TargetPath("TARGETDIR")
	require.NoError(t, err)
	assert.Equal(t, "SourceDir", got)
}

func TestDirectoryTreeParentAlias(t *testing.T) {
	t.Parallel()

	// Dot entries alias their parent and add no path segment.
	tree := NewDirectoryTree([]DirectoryEntry{
		dirEntry("TARGETDIR", "", "SourceDir"),
		dirEntry("AppDir", "TARGETDIR", "App"),
		dirEntry("ConfigAlias", "AppDir", "."),
		dirEntry("DataDir", "ConfigAlias", "Data"),
		dirEntry("ShortAlias", "AppDir", "SHORT|."),
	})

	got, err := tree.TargetPath("ConfigAlias")
	require.NoError(t, err)
	assert.Equal(t, `SourceDir\App`, got)

	got, err = tree.TargetPath("DataDir")
	require.NoError(t, err)
	assert.Equal(t, `SourceDir\App\Data`, got)

	got, err = tree.TargetPath("ShortAlias")
	require.NoError(t, err)
	assert.Equal(t, `SourceDir\App`, got)
}

func TestDirectoryTreeSourcePath(t *testing.T) {
	t.Parallel()

	tree := NewDirectoryTree([]DirectoryEntry{
		dirEntry("TARGETDIR", "", "SourceDir"),
		// Source tree diverges: target ACME, source vendor.
		dirEntry("VendorDir", "TARGETDIR", "vendor:ACME"),
		// Source aliases the parent while the target nests.
		dirEntry("BinDir", "VendorDir", ".:bin"),
		dirEntry("HelpDir", "BinDir", "help"),
	})

	got, err := tree.TargetPath("HelpDir")
	require.NoError(t, err)
	assert.Equal(t, `SourceDir\ACME\bin\help`, got)

	got, err = tree.SourcePath("HelpDir")
	require.NoError(t, err)
	assert.Equal(t, `SourceDir\vendor\help`, got)
}

func TestDirectoryTreeRootForms(t *testing.T) {
	t.Parallel()

	// Self-referencing and empty parents are both roots.
	tree := NewDirectoryTree([]DirectoryEntry{
		dirEntry("TARGETDIR", "TARGETDIR", "SourceDir"),
		dirEntry("Sub", "TARGETDIR", "sub"),
	})

	got, err := tree.TargetPath("Sub")
	require.NoError(t, err)
	assert.Equal(t, `SourceDir\sub`, got)

	e, ok := tree.Entry("TARGETDIR")
	require.True(t, ok)
	assert.True(t, e.IsRoot())
}

func TestDirectoryTreeDanglingParent(t *testing.T) {
	t.Parallel()

	tree := NewDirectoryTree([]DirectoryEntry{
		dirEntry("Orphan", "Missing", "app"),
	})

	got, err := tree.TargetPath("Orphan")
	require.NoError(t, err)
	assert.Equal(t, "app", got)

	// An unknown key resolves to an empty path.
	got, err = tree.TargetPath("NoSuchKey")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestDirectoryTreeCycle(t *testing.T) {
	t.Parallel()

	tree := NewDirectoryTree([]DirectoryEntry{
		dirEntry("A", "B", "a"),
		dirEntry("B", "A", "b"),
	})

	_, err := tree.TargetPath("A")
	assert.ErrorIs(t, err, ErrDirectoryCycle)
}

package msi

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcinotorowski/go-msi/internal/testutil"
)

func directoryTestTable() testutil.Table {
	return testutil.Table{
		Name: "Directory",
		Columns: []testutil.Column{
			testutil.StrCol("Directory", 72, testutil.TypeKey),
			testutil.StrCol("Directory_Parent", 72, testutil.TypeNullable),
			testutil.StrCol("DefaultDir", 255, testutil.TypeLocalizable),
		},
		Rows: [][]any{
			{"TARGETDIR", "", "SourceDir"},
			{"ProgramFilesFolder", "TARGETDIR", ".:PFiles"},
			{"INSTALLDIR", "ProgramFilesFolder", "EXAMPL~1|Example App"},
		},
	}
}

func mediaTestTable(cabinet string) testutil.Table {
	return testutil.Table{
		Name: "Media",
		Columns: []testutil.Column{
			testutil.IntCol("DiskId", 2, testutil.TypeKey),
			testutil.IntCol("LastSequence", 2, 0),
			testutil.StrCol("DiskPrompt", 64, testutil.TypeNullable),
			testutil.StrCol("Cabinet", 255, testutil.TypeNullable),
			testutil.StrCol("VolumeLabel", 32, testutil.TypeNullable),
			testutil.StrCol("Source", 72, testutil.TypeNullable),
		},
		Rows: [][]any{
			{1, 12, "Disk 1", cabinet, "", ""},
		},
	}
}

func TestNewRejectsNonPackages(t *testing.T) {
	t.Parallel()

	_, err := New(bytes.NewReader([]byte("definitely not a compound file image")))
	assert.ErrorIs(t, err, ErrNotCompoundFile)
}

func TestPackageStreams(t *testing.T) {
	t.Parallel()

	p := buildTestPackage(t, []testutil.Table{directoryTestTable()},
		testutil.Stream{Name: "\x05SummaryInformation", Data: []byte{0xFE, 0xFF}},
	)
	defer p.Close()

	infos := p.Streams()
	byName := map[string]StreamInfo{}
	for _, info := range infos {
		byName[info.Name] = info
	}

	require.Contains(t, byName, "_Tables")
	assert.True(t, byName["_Tables"].Table)
	require.Contains(t, byName, "_StringPool")
	require.Contains(t, byName, "Directory")
	assert.True(t, byName["Directory"].Table)
	require.Contains(t, byName, "\x05SummaryInformation")
	assert.False(t, byName["\x05SummaryInformation"].Table)
	assert.Equal(t, uint64(2), byName["\x05SummaryInformation"].Size)

	got, err := p.ReadStream("\x05SummaryInformation")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFE, 0xFF}, got)
}

func TestPackageStrings(t *testing.T) {
	t.Parallel()

	p := buildTestPackage(t, []testutil.Table{directoryTestTable()})
	defer p.Close()

	pool, err := p.Strings()
	require.NoError(t, err)
	assert.Equal(t, 1252, pool.Codepage())
	assert.Greater(t, pool.Len(), 1)

	// Same instance on repeated calls.
	again, err := p.Strings()
	require.NoError(t, err)
	assert.Same(t, pool, again)
}

func TestPackageWithoutStringPool(t *testing.T) {
	t.Parallel()

	img := testutil.BuildCompoundFile(t, []testutil.Stream{
		{Name: "Plain", Data: []byte("no tables here")},
	})
	p, err := New(bytes.NewReader(img))
	require.NoError(t, err)

	_, err = p.Strings()
	assert.ErrorIs(t, err, ErrNoStringPool)
	_, err = p.Table("Directory")
	assert.ErrorIs(t, err, ErrNoStringPool)
}

func TestPackageTableNames(t *testing.T) {
	t.Parallel()

	p := buildTestPackage(t, []testutil.Table{
		directoryTestTable(),
		mediaTestTable(""),
	})
	defer p.Close()

	names, err := p.TableNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"Directory", "Media"}, names)

	tables, err := p.Tables()
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "Directory", tables[0].Name())
	assert.Equal(t, 3, tables[0].Len())
}

func TestPackageDirectories(t *testing.T) {
	t.Parallel()

	p := buildTestPackage(t, []testutil.Table{directoryTestTable()})
	defer p.Close()

	entries, err := p.Directories()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "TARGETDIR", entries[0].Key)
	assert.True(t, entries[0].IsRoot())
	assert.Equal(t, "Example App", entries[2].DefaultDir.Target().Long())
	short, ok := entries[2].DefaultDir.Target().Short()
	assert.True(t, ok)
	assert.Equal(t, "EXAMPL~1", short)

	tree, err := p.DirectoryTree()
	require.NoError(t, err)
	got, err := tree.TargetPath("INSTALLDIR")
	require.NoError(t, err)
	assert.Equal(t, `SourceDir\PFiles\Example App`, got)
	got, err = tree.SourcePath("INSTALLDIR")
	require.NoError(t, err)
	assert.Equal(t, `SourceDir\Example App`, got)
}

func TestPackageMediaAndEmbeddedCabinet(t *testing.T) {
	t.Parallel()

	cabData := testutil.BuildCabinet(t, true,
		testutil.CabMember{Name: "example.exe", Data: bytes.Repeat([]byte("MZ!"), 200)},
	)
	p := buildTestPackage(t,
		[]testutil.Table{directoryTestTable(), mediaTestTable("#Data1.cab")},
		testutil.Stream{Name: testutil.EncodeStreamName("Data1.cab", false), Data: cabData},
	)
	defer p.Close()

	media, err := p.Media()
	require.NoError(t, err)
	require.Len(t, media, 1)
	assert.Equal(t, 1, media[0].DiskID)
	assert.Equal(t, 12, media[0].LastSequence)
	assert.Equal(t, "Disk 1", media[0].DiskPrompt)
	assert.True(t, media[0].IsEmbedded())
	assert.True(t, media[0].HasCabinet())

	c, err := p.OpenCabinet(media[0].Cabinet)
	require.NoError(t, err)
	require.Len(t, c.Files(), 1)
	got, err := c.Extract("example.exe")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("MZ!"), 200), got)
}

func TestPackageExternalCabinet(t *testing.T) {
	t.Parallel()

	p := buildTestPackage(t, []testutil.Table{mediaTestTable("Data1.cab")})
	defer p.Close()

	media, err := p.Media()
	require.NoError(t, err)
	require.Len(t, media, 1)
	assert.False(t, media[0].IsEmbedded())

	_, err = p.OpenCabinet(media[0].Cabinet)
	assert.ErrorIs(t, err, ErrExternalCabinet)
}

func TestPackageOptions(t *testing.T) {
	t.Parallel()

	img := testutil.BuildPackage(t, false, []testutil.Table{directoryTestTable()})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := New(bytes.NewReader(img), WithLogger(logger))
	require.NoError(t, err)
	_, err = p.Directories()
	require.NoError(t, err)

	// A tiny stream cap rejects the metadata reads.
	p, err = New(bytes.NewReader(img), WithMaxStreamSize(1))
	require.NoError(t, err)
	_, err = p.Strings()
	require.Error(t, err)
}
